package browser

// Element scripts run with `this` bound to the target node. They throw one of
// the marker errors below, which scriptError maps back to surface sentinels.
const (
	markStale       = "__chatload_stale__"
	markHidden      = "__chatload_hidden__"
	markIntercepted = "__chatload_intercepted__"
)

const jsGuard = `if (!this.isConnected) throw new Error("` + markStale + `");`

const jsVisible = `function() {` + jsGuard + `
	const r = this.getBoundingClientRect();
	const s = getComputedStyle(this);
	return r.width > 0 && r.height > 0 && s.visibility !== "hidden" && s.display !== "none" && s.opacity !== "0";
}`

// jsFindAll evaluates a CSS selector or XPath expression relative to `this`
// and returns the matching elements in document order.
const jsFindAll = `function(xpath, sel) {
	const root = (this && this.nodeType) ? this : document;
	if (!xpath) return Array.from(root.querySelectorAll(sel));
	const out = [];
	const r = document.evaluate(sel, root, null, XPathResult.ORDERED_NODE_SNAPSHOT_TYPE, null);
	for (let i = 0; i < r.snapshotLength; i++) {
		const n = r.snapshotItem(i);
		if (n.nodeType === Node.ELEMENT_NODE) out.push(n);
	}
	return out;
}`

const jsFindWithin = `function(sel) {` + jsGuard + `
	return Array.from(this.querySelectorAll(sel));
}`

// jsClickPoint scrolls the node into view and returns the centre of its box,
// refusing hidden nodes and points covered by another element.
const jsClickPoint = `function() {` + jsGuard + `
	this.scrollIntoView({block: "center", inline: "center"});
	const r = this.getBoundingClientRect();
	const s = getComputedStyle(this);
	if (r.width === 0 || r.height === 0 || s.visibility === "hidden" || s.display === "none") {
		throw new Error("` + markHidden + `");
	}
	const x = r.left + r.width / 2;
	const y = r.top + r.height / 2;
	const hit = document.elementFromPoint(x, y);
	if (hit && hit !== this && !this.contains(hit)) throw new Error("` + markIntercepted + `");
	return [x, y];
}`

// SVG elements have no click method, so they get a synthetic event.
const jsForceClick = `function() {` + jsGuard + `
	if (typeof this.click === "function") {
		this.click();
	} else {
		this.dispatchEvent(new MouseEvent("click", {bubbles: true, cancelable: true, view: window}));
	}
}`

const jsFocus = `function() {` + jsGuard + `
	this.focus();
}`

const jsScrollIntoView = `function() {` + jsGuard + `
	this.scrollIntoView({block: "center", inline: "center"});
}`

// jsSetValue writes through the native value setter so framework-managed
// inputs see the change, or replaces innerText on rich-text fields.
const jsSetValue = `function(v) {` + jsGuard + `
	this.focus();
	if (this.isContentEditable) {
		this.innerText = v;
	} else {
		const proto = this instanceof HTMLTextAreaElement ? HTMLTextAreaElement.prototype : HTMLInputElement.prototype;
		const d = Object.getOwnPropertyDescriptor(proto, "value");
		if (d && d.set) d.set.call(this, v); else this.value = v;
	}
	this.dispatchEvent(new InputEvent("input", {bubbles: true, inputType: "insertText", data: v}));
	this.dispatchEvent(new Event("change", {bubbles: true}));
	this.dispatchEvent(new KeyboardEvent("keyup", {bubbles: true, key: v.slice(-1)}));
}`

const jsAttribute = `function(name) {` + jsGuard + `
	return {value: this.getAttribute(name) || "", present: this.hasAttribute(name)};
}`

const jsText = `function() {` + jsGuard + `
	return this.innerText !== undefined ? this.innerText : this.textContent;
}`

const jsOuterHTML = `function() {` + jsGuard + `
	return this.outerHTML;
}`
