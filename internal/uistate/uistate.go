// Package uistate turns an element's markup into a Snapshot and answers the
// "is this enabled / checked / closed" questions as pure functions over it.
package uistate

import (
	"context"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/colorsRGB/AutomationScripts/internal/surface"
)

// Snapshot is a parsed, immutable view of one element taken at a point in time.
type Snapshot struct {
	root *goquery.Selection
}

// Parse builds a Snapshot from an element's outer HTML.
func Parse(outerHTML string) (Snapshot, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(outerHTML))
	if err != nil {
		return Snapshot{}, fmt.Errorf("failed to parse element markup: %w", err)
	}
	// The parser wraps fragments in html/head/body; the element is the first body child.
	root := doc.Find("body").Children().First()
	if root.Length() == 0 {
		return Snapshot{}, fmt.Errorf("element markup is empty")
	}
	return Snapshot{root: root}, nil
}

// Capture reads the element's markup from the surface and parses it.
func Capture(ctx context.Context, s surface.Surface, el surface.Element) (Snapshot, error) {
	markup, err := s.OuterHTML(ctx, el)
	if err != nil {
		return Snapshot{}, err
	}
	return Parse(markup)
}

// Attr returns the root attribute value.
func (s Snapshot) Attr(name string) (string, bool) {
	if s.root == nil {
		return "", false
	}
	return s.root.Attr(name)
}

// Classes returns the lower-cased class list of the root element.
func (s Snapshot) Classes() []string {
	cls, _ := s.Attr("class")
	return strings.Fields(strings.ToLower(cls))
}

// HasClass reports an exact class match on the root element.
func (s Snapshot) HasClass(name string) bool {
	name = strings.ToLower(name)
	for _, c := range s.Classes() {
		if c == name {
			return true
		}
	}
	return false
}

// Text is the whitespace-normalised, lower-cased text content.
func (s Snapshot) Text() string {
	if s.root == nil {
		return ""
	}
	return strings.ToLower(strings.Join(strings.Fields(s.root.Text()), " "))
}

// Find runs a CSS query below the root element.
func (s Snapshot) Find(css string) *goquery.Selection {
	if s.root == nil {
		return &goquery.Selection{}
	}
	return s.root.Find(css)
}

// IsEnabled is the composite enablement check for buttons: any of the disabled
// attribute, a disabled or loading style class, or aria-disabled="true" blocks it.
func IsEnabled(s Snapshot) bool {
	if _, ok := s.Attr("disabled"); ok {
		return false
	}
	for _, c := range s.Classes() {
		switch c {
		case "p-disabled", "disabled", "p-button-loading", "loading":
			return false
		}
	}
	aria, _ := s.Attr("aria-disabled")
	return !strings.EqualFold(strings.TrimSpace(aria), "true")
}

// IsChecked reports whether a checkbox-like control is in its checked state.
func IsChecked(s Snapshot) bool {
	if checkedClass(s.Classes()) {
		return true
	}
	if aria, _ := s.Attr("aria-checked"); strings.EqualFold(aria, "true") {
		return true
	}
	if _, ok := s.Attr("checked"); ok && s.root.Is("input") {
		return true
	}

	checked := false
	s.Find(".p-checkbox-box, [aria-checked], input[type=checkbox]").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		if cls, ok := sel.Attr("class"); ok && checkedClass(strings.Fields(strings.ToLower(cls))) {
			checked = true
		}
		if aria, ok := sel.Attr("aria-checked"); ok && strings.EqualFold(aria, "true") {
			checked = true
		}
		if _, ok := sel.Attr("checked"); ok && sel.Is("input") {
			checked = true
		}
		return !checked
	})
	return checked
}

func checkedClass(classes []string) bool {
	for _, c := range classes {
		switch c {
		case "p-highlight", "checked", "p-checkbox-checked":
			return true
		}
	}
	return false
}

// IsClosedCard reports whether a chat card carries any closed or grey marker:
// a closed class, a "closed" badge, or "closed" anywhere in its text.
func IsClosedCard(s Snapshot) bool {
	return IsGreyCard(s) || strings.Contains(s.Text(), "closed")
}

// IsGreyCard reports the visual settled state a card reaches after close.
func IsGreyCard(s Snapshot) bool {
	for _, c := range s.Classes() {
		if strings.Contains(c, "closed") {
			return true
		}
	}
	badge := false
	s.Find("span[class*='badge']").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		badge = strings.Contains(strings.ToLower(sel.Text()), "closed")
		return !badge
	})
	return badge
}

// IsSelectedCard reports whether the card is the one currently opened.
func IsSelectedCard(s Snapshot) bool {
	for _, c := range s.Classes() {
		if strings.Contains(c, "selected") {
			return true
		}
	}
	return false
}

// IsPlaceholder reports whether a dropdown label still shows its "Select ..." prompt.
func IsPlaceholder(s Snapshot) bool {
	return strings.Contains(s.Text(), "select")
}
