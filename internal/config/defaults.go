package config

import (
	"strings"
	"time"

	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every structured environment variable.
const EnvPrefix = "CHATLOAD"

// SetDefaults registers a default for every key so the tool runs with a minimal config.
func SetDefaults(v *viper.Viper) {
	// Logger
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.format", "console")
	v.SetDefault("logger.service_name", "chatload")
	v.SetDefault("logger.max_size", 50)
	v.SetDefault("logger.max_backups", 3)
	v.SetDefault("logger.max_age", 14)
	v.SetDefault("logger.colors.debug", "cyan")
	v.SetDefault("logger.colors.info", "green")
	v.SetDefault("logger.colors.warn", "yellow")
	v.SetDefault("logger.colors.error", "red")
	v.SetDefault("logger.colors.dpanic", "magenta")
	v.SetDefault("logger.colors.panic", "magenta")
	v.SetDefault("logger.colors.fatal", "red")

	// Browser
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.ignore_tls_errors", false)
	v.SetDefault("browser.viewport", map[string]int{"width": 1550, "height": 838})
	v.SetDefault("browser.close_timeout", 10*time.Second)

	// Network
	v.SetDefault("network.proxy.enabled", false)
	v.SetDefault("network.traffic_url_keywords", []string{"agent-events", "events", "hub", "chat"})
	v.SetDefault("network.capture_bodies", true)
	v.SetDefault("network.max_body_bytes", 1<<20)

	// Orchestrator
	v.SetDefault("orchestrator.total_sessions", 10)
	v.SetDefault("orchestrator.concurrency", 3)
	v.SetDefault("orchestrator.retries", 1)
	v.SetDefault("orchestrator.retry_base_delay", 250*time.Millisecond)
	v.SetDefault("orchestrator.session_timeout", 15*time.Minute)
	v.SetDefault("orchestrator.launch_rate", 0.0)
	v.SetDefault("orchestrator.launch_burst", 1)

	// Workflow
	v.SetDefault("workflow.message_count_min", 3)
	v.SetDefault("workflow.message_count_max", 7)
	v.SetDefault("workflow.message_template", "Automated message #%d [%s]")
	v.SetDefault("workflow.token_length", 8)
	v.SetDefault("workflow.disposition", "yes")
	v.SetDefault("workflow.send_confirm_timeout", 60*time.Second)
	v.SetDefault("workflow.retry_confirm_timeout", 10*time.Second)
	v.SetDefault("workflow.confirm_poll_interval", 250*time.Millisecond)
	v.SetDefault("workflow.element_wait_timeout", 10*time.Second)
	v.SetDefault("workflow.enable_wait_timeout", 3*time.Second)
	v.SetDefault("workflow.nudge_wait_timeout", 2*time.Second)
	v.SetDefault("workflow.poll_interval", 200*time.Millisecond)
	v.SetDefault("workflow.post_send_pause", 300*time.Millisecond)
	v.SetDefault("workflow.disposition_wait_timeout", 5*time.Second)
	v.SetDefault("workflow.reason_probe_timeout", 2*time.Second)
	v.SetDefault("workflow.acknowledge_timeout", 5*time.Second)
	v.SetDefault("workflow.input_gone_timeout", 5*time.Second)
	v.SetDefault("workflow.card_settle_timeout", 4*time.Second)
	v.SetDefault("workflow.settle_pause", 700*time.Millisecond)
	v.SetDefault("workflow.final_pause", 200*time.Millisecond)
	v.SetDefault("workflow.overlay_appear_timeout", 500*time.Millisecond)
	v.SetDefault("workflow.overlay_timeout", 6*time.Second)

	// Widget
	v.SetDefault("widget.frame_selector", "iframe")
	v.SetDefault("widget.user_id_prefix", "Test")
	v.SetDefault("widget.launcher_selector", ".key-1qn0tbk")
	v.SetDefault("widget.user_id_selector", "#userId")
	v.SetDefault("widget.start_selector", ".key-t91e19")
	v.SetDefault("widget.input_selector", ".key-jml02v")
	v.SetDefault("widget.send_selectors", []string{"(//*[name()='svg' and contains(@class,'key-b44e5x')])[2]", "svg.key-b44e5x"})
	v.SetDefault("widget.close_selector", ".key-1cfsorn")
	v.SetDefault("widget.open_timeout", 15*time.Second)
	v.SetDefault("widget.close", false)

	// Console
	v.SetDefault("console.username_selector", "[name='username']")
	v.SetDefault("console.password_selector", "[name='password']")
	v.SetDefault("console.sign_in_selector", "#kt_sign_in_submit")
	v.SetDefault("console.chats_menu_selector", "//span[@title='Chats']")
	v.SetDefault("console.direct_menu_selector", "//span[@title='Direct']")
	v.SetDefault("console.avatar_selector", "//app-agent-avatar//span[contains(@class,'p-avatar-text')]")
	v.SetDefault("console.not_accepting_selector", "//div[contains(text(),'Do not accept chats')]")
	v.SetDefault("console.accepting_selector", "//div[contains(text(),'Accepting chats')]")
	v.SetDefault("console.menu_probe_timeout", 2*time.Second)

	// Chat panel
	v.SetDefault("chat.input_selector", "//textarea[@placeholder='Type a message'] | //div[@contenteditable='true' and (@placeholder='Type a message' or @data-placeholder='Type a message')]")
	v.SetDefault("chat.send_selectors", []string{
		"//span[normalize-space()='Send']/ancestor::button[1]",
		"//button[@type='submit' and .//span[normalize-space()='Send']]",
		"//button[@type='submit' and not(@disabled)]",
		"//button[.//*[contains(@class,'pi-send') or contains(@class,'icon-send')]]",
	})
	v.SetDefault("chat.close_selector", "//span[normalize-space()='Close']/ancestor::button[1]")
	v.SetDefault("chat.yes_selector", "//p-checkbox[./label[normalize-space()='Yes']]//div[contains(@class,'p-checkbox-box')]")
	v.SetDefault("chat.no_selector", "//p-checkbox[./label[normalize-space()='No']]//div[contains(@class,'p-checkbox-box')]")
	v.SetDefault("chat.reason_label_selector", "//p-dropdown//span[contains(@class,'p-dropdown-label')]")
	v.SetDefault("chat.reason_trigger_selector", "//p-dropdown//div[contains(@class,'p-dropdown') and contains(@class,'p-component')]")
	v.SetDefault("chat.reason_option_selector", "(//div[contains(@class,'p-dropdown-items-wrapper')]//li[@role='option'])[1]")
	v.SetDefault("chat.submit_selector", "//button[.//span[normalize-space()='Submit']]")
	v.SetDefault("chat.acknowledge_selector", "//button[normalize-space()='OK']")
	v.SetDefault("chat.toast_selector", "p-toast .p-toast-message, .toast-title")

	// Queue
	v.SetDefault("queue.card_selector", "//app-chat-item/div[contains(@class,'chat-item')]")
	v.SetDefault("queue.dismiss_selector", ".close-icon i.pi-times")
	v.SetDefault("queue.assign_selector", "//span[normalize-space()='Assign to me']")
	v.SetDefault("queue.max_chats", 0)
	v.SetDefault("queue.recheck_pause", 600*time.Millisecond)
	v.SetDefault("queue.open_timeout", 8*time.Second)
	v.SetDefault("queue.assign_timeout", 2*time.Second)

	// Metrics
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.address", "127.0.0.1:9464")
}

// BindEnv wires structured CHATLOAD_* variables plus the short legacy names.
func BindEnv(v *viper.Viper) {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	_ = v.BindEnv("orchestrator.total_sessions", "CHATLOAD_ORCHESTRATOR_TOTAL_SESSIONS", "TOTAL_SESSIONS")
	_ = v.BindEnv("orchestrator.concurrency", "CHATLOAD_ORCHESTRATOR_CONCURRENCY", "CONCURRENCY")
	_ = v.BindEnv("orchestrator.retries", "CHATLOAD_ORCHESTRATOR_RETRIES", "RETRIES")
	_ = v.BindEnv("workflow.message_count_range", "CHATLOAD_WORKFLOW_MESSAGE_COUNT_RANGE", "MESSAGE_COUNT_RANGE")
	_ = v.BindEnv("workflow.send_confirm_timeout", "CHATLOAD_WORKFLOW_SEND_CONFIRM_TIMEOUT", "SEND_CONFIRM_TIMEOUT")
	_ = v.BindEnv("workflow.element_wait_timeout", "CHATLOAD_WORKFLOW_ELEMENT_WAIT_TIMEOUT", "ELEMENT_WAIT_TIMEOUT")
	_ = v.BindEnv("workflow.card_settle_timeout", "CHATLOAD_WORKFLOW_CARD_SETTLE_TIMEOUT", "CARD_SETTLE_TIMEOUT")

	// Either name turns the proxy on.
	_ = v.BindEnv("network.proxy.address", "CHATLOAD_PROXY", "PLAYWRIGHT_PROXY")

	// Console credentials.
	_ = v.BindEnv("console.url", "CHATLOAD_CONSOLE_URL", "VIVAI_URL")
	_ = v.BindEnv("console.username", "CHATLOAD_CONSOLE_USERNAME", "VIVAI_USER")
	_ = v.BindEnv("console.password", "CHATLOAD_CONSOLE_PASSWORD", "VIVAI_PASS")
}
