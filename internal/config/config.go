// Package config holds the application's root configuration, loaded through Viper
// from chatload.yaml, CHATLOAD_* environment variables and a handful of short
// legacy variable names.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

var (
	instance *Config
	once     sync.Once
	loadErr  error
	mu       sync.RWMutex
)

// Config is the root configuration structure for the entire application.
type Config struct {
	Logger       LoggerConfig       `mapstructure:"logger"`
	Browser      BrowserConfig      `mapstructure:"browser"`
	Network      NetworkConfig      `mapstructure:"network"`
	Orchestrator OrchestratorConfig `mapstructure:"orchestrator"`
	Workflow     WorkflowConfig     `mapstructure:"workflow"`
	Widget       WidgetConfig       `mapstructure:"widget"`
	Console      ConsoleConfig      `mapstructure:"console"`
	Chat         ChatConfig         `mapstructure:"chat"`
	Queue        QueueConfig        `mapstructure:"queue"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
}

// ColorConfig defines the color settings for different log levels.
// These are used for console output to make logs more readable.
type ColorConfig struct {
	Debug  string `mapstructure:"debug" json:"debug" yaml:"debug"`
	Info   string `mapstructure:"info" json:"info" yaml:"info"`
	Warn   string `mapstructure:"warn" json:"warn" yaml:"warn"`
	Error  string `mapstructure:"error" json:"error" yaml:"error"`
	DPanic string `mapstructure:"dpanic" json:"dpanic" yaml:"dpanic"`
	Panic  string `mapstructure:"panic" json:"panic" yaml:"panic"`
	Fatal  string `mapstructure:"fatal" json:"fatal" yaml:"fatal"`
}

// LoggerConfig holds all the configuration for the logger.
type LoggerConfig struct {
	Level       string      `mapstructure:"level" json:"level" yaml:"level"`
	Format      string      `mapstructure:"format" json:"format" yaml:"format"`
	AddSource   bool        `mapstructure:"add_source" json:"add_source" yaml:"add_source"`
	ServiceName string      `mapstructure:"service_name" json:"service_name" yaml:"service_name"`
	LogFile     string      `mapstructure:"log_file" json:"log_file" yaml:"log_file"`
	MaxSize     int         `mapstructure:"max_size" json:"max_size" yaml:"max_size"`
	MaxBackups  int         `mapstructure:"max_backups" json:"max_backups" yaml:"max_backups"`
	MaxAge      int         `mapstructure:"max_age" json:"max_age" yaml:"max_age"`
	Compress    bool        `mapstructure:"compress" json:"compress" yaml:"compress"`
	Colors      ColorConfig `mapstructure:"colors" json:"colors" yaml:"colors"`
}

// BrowserConfig holds settings for the Chrome instance shared by all sessions.
type BrowserConfig struct {
	Headless        bool           `mapstructure:"headless"`
	IgnoreTLSErrors bool           `mapstructure:"ignore_tls_errors"`
	Args            []string       `mapstructure:"args"`
	Viewport        map[string]int `mapstructure:"viewport"`
	ExecPath        string         `mapstructure:"exec_path"`
	UserAgent       string         `mapstructure:"user_agent"`
	// CloseTimeout bounds tearing down one session's browser context.
	CloseTimeout time.Duration `mapstructure:"close_timeout"`
}

// ProxyConfig describes an optional outbound proxy.
type ProxyConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

// NetworkConfig controls traffic capture.
type NetworkConfig struct {
	Proxy ProxyConfig `mapstructure:"proxy"`
	// TrafficURLKeywords selects which XHR/fetch responses have their bodies captured.
	TrafficURLKeywords []string `mapstructure:"traffic_url_keywords"`
	CaptureBodies      bool     `mapstructure:"capture_bodies"`
	MaxBodyBytes       int      `mapstructure:"max_body_bytes"`
}

// OrchestratorConfig holds settings for the session scheduler.
type OrchestratorConfig struct {
	TotalSessions  int           `mapstructure:"total_sessions"`
	Concurrency    int           `mapstructure:"concurrency"`
	Retries        int           `mapstructure:"retries"`
	RetryBaseDelay time.Duration `mapstructure:"retry_base_delay"`
	SessionTimeout time.Duration `mapstructure:"session_timeout"`
	// LaunchRate caps new sessions per second. Zero disables pacing.
	LaunchRate  float64 `mapstructure:"launch_rate"`
	LaunchBurst int     `mapstructure:"launch_burst"`
}

// WorkflowConfig holds per-session timing and message settings.
type WorkflowConfig struct {
	MessageCountMin   int    `mapstructure:"message_count_min"`
	MessageCountMax   int    `mapstructure:"message_count_max"`
	MessageCountRange string `mapstructure:"message_count_range"`
	MessageTemplate   string `mapstructure:"message_template"`
	TokenLength       int    `mapstructure:"token_length"`
	Disposition       string `mapstructure:"disposition"`

	SendConfirmTimeout  time.Duration `mapstructure:"send_confirm_timeout"`
	RetryConfirmTimeout time.Duration `mapstructure:"retry_confirm_timeout"`
	ConfirmPollInterval time.Duration `mapstructure:"confirm_poll_interval"`

	ElementWaitTimeout     time.Duration `mapstructure:"element_wait_timeout"`
	EnableWaitTimeout      time.Duration `mapstructure:"enable_wait_timeout"`
	NudgeWaitTimeout       time.Duration `mapstructure:"nudge_wait_timeout"`
	PollInterval           time.Duration `mapstructure:"poll_interval"`
	PostSendPause          time.Duration `mapstructure:"post_send_pause"`
	DispositionWaitTimeout time.Duration `mapstructure:"disposition_wait_timeout"`
	ReasonProbeTimeout     time.Duration `mapstructure:"reason_probe_timeout"`
	AcknowledgeTimeout     time.Duration `mapstructure:"acknowledge_timeout"`
	InputGoneTimeout       time.Duration `mapstructure:"input_gone_timeout"`
	CardSettleTimeout      time.Duration `mapstructure:"card_settle_timeout"`
	SettlePause            time.Duration `mapstructure:"settle_pause"`
	FinalPause             time.Duration `mapstructure:"final_pause"`
	OverlayAppearTimeout   time.Duration `mapstructure:"overlay_appear_timeout"`
	OverlayTimeout         time.Duration `mapstructure:"overlay_timeout"`
}

// WidgetConfig describes the customer-side chat widget used by the run command.
type WidgetConfig struct {
	URL              string        `mapstructure:"url"`
	FrameSelector    string        `mapstructure:"frame_selector"`
	UserIDPrefix     string        `mapstructure:"user_id_prefix"`
	LauncherSelector string        `mapstructure:"launcher_selector"`
	UserIDSelector   string        `mapstructure:"user_id_selector"`
	StartSelector    string        `mapstructure:"start_selector"`
	OpenTimeout      time.Duration `mapstructure:"open_timeout"`
	// The widget panel has its own markup; these override the chat.* selectors.
	InputSelector string   `mapstructure:"input_selector"`
	SendSelectors []string `mapstructure:"send_selectors"`
	CloseSelector string   `mapstructure:"close_selector"`
	// Close runs the close dialog after the messages. Off by default: widget
	// sessions usually end once the messages are confirmed.
	Close bool `mapstructure:"close"`
}

// ConsoleConfig describes the agent console used by the queue command.
type ConsoleConfig struct {
	URL                  string        `mapstructure:"url"`
	Username             string        `mapstructure:"username"`
	Password             string        `mapstructure:"password"`
	UsernameSelector     string        `mapstructure:"username_selector"`
	PasswordSelector     string        `mapstructure:"password_selector"`
	SignInSelector       string        `mapstructure:"sign_in_selector"`
	ChatsMenuSelector    string        `mapstructure:"chats_menu_selector"`
	DirectMenuSelector   string        `mapstructure:"direct_menu_selector"`
	AvatarSelector       string        `mapstructure:"avatar_selector"`
	NotAcceptingSelector string        `mapstructure:"not_accepting_selector"`
	AcceptingSelector    string        `mapstructure:"accepting_selector"`
	MenuProbeTimeout     time.Duration `mapstructure:"menu_probe_timeout"`
}

// ChatConfig holds the selectors of the chat panel shared by widget and console.
type ChatConfig struct {
	InputSelector         string   `mapstructure:"input_selector"`
	SendSelectors         []string `mapstructure:"send_selectors"`
	CloseSelector         string   `mapstructure:"close_selector"`
	YesSelector           string   `mapstructure:"yes_selector"`
	NoSelector            string   `mapstructure:"no_selector"`
	ReasonLabelSelector   string   `mapstructure:"reason_label_selector"`
	ReasonTriggerSelector string   `mapstructure:"reason_trigger_selector"`
	ReasonOptionSelector  string   `mapstructure:"reason_option_selector"`
	SubmitSelector        string   `mapstructure:"submit_selector"`
	AcknowledgeSelector   string   `mapstructure:"acknowledge_selector"`
	ToastSelector         string   `mapstructure:"toast_selector"`
}

// QueueConfig holds settings for console queue processing.
type QueueConfig struct {
	CardSelector    string        `mapstructure:"card_selector"`
	DismissSelector string        `mapstructure:"dismiss_selector"`
	AssignSelector  string        `mapstructure:"assign_selector"`
	MaxChats        int           `mapstructure:"max_chats"`
	RecheckPause    time.Duration `mapstructure:"recheck_pause"`
	OpenTimeout     time.Duration `mapstructure:"open_timeout"`
	AssignTimeout   time.Duration `mapstructure:"assign_timeout"`
}

// MetricsConfig controls the Prometheus listener.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

// Validate checks the settings the scheduler and workflow cannot run without.
func (c *Config) Validate() error {
	var errs []error
	if c.Orchestrator.TotalSessions < 0 {
		errs = append(errs, fmt.Errorf("orchestrator.total_sessions must not be negative"))
	}
	if c.Orchestrator.Concurrency <= 0 {
		errs = append(errs, fmt.Errorf("orchestrator.concurrency must be a positive integer"))
	}
	if c.Orchestrator.Retries < 0 {
		errs = append(errs, fmt.Errorf("orchestrator.retries must not be negative"))
	}
	if c.Workflow.MessageCountMin < 0 || c.Workflow.MessageCountMax < c.Workflow.MessageCountMin {
		errs = append(errs, fmt.Errorf("workflow message count range [%d,%d] is invalid",
			c.Workflow.MessageCountMin, c.Workflow.MessageCountMax))
	}
	if strings.Count(c.Workflow.MessageTemplate, "%") < 2 {
		errs = append(errs, fmt.Errorf("workflow.message_template needs an index and a token verb"))
	}
	switch strings.ToLower(c.Workflow.Disposition) {
	case "yes", "no":
	default:
		errs = append(errs, fmt.Errorf("workflow.disposition must be yes or no, got %q", c.Workflow.Disposition))
	}
	if c.Workflow.SendConfirmTimeout <= 0 || c.Workflow.RetryConfirmTimeout <= 0 {
		errs = append(errs, fmt.Errorf("workflow confirmation timeouts must be positive"))
	}
	if c.Chat.InputSelector == "" {
		errs = append(errs, fmt.Errorf("chat.input_selector is a required configuration field"))
	}
	if len(c.Chat.SendSelectors) == 0 {
		errs = append(errs, fmt.Errorf("chat.send_selectors needs at least one locator"))
	}
	if c.Network.Proxy.Enabled && c.Network.Proxy.Address == "" {
		errs = append(errs, fmt.Errorf("network.proxy.address is required when the proxy is enabled"))
	}
	if c.Metrics.Enabled && c.Metrics.Address == "" {
		errs = append(errs, fmt.Errorf("metrics.address is required when metrics are enabled"))
	}
	return errors.Join(errs...)
}

// ParseCountRange parses "min,max" (or a single number) into bounds.
func ParseCountRange(raw string) (int, int, error) {
	parts := strings.Split(raw, ",")
	if len(parts) > 2 {
		return 0, 0, fmt.Errorf("message count range %q must be \"min,max\"", raw)
	}
	lo, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return 0, 0, fmt.Errorf("invalid message count range %q: %w", raw, err)
	}
	hi := lo
	if len(parts) == 2 {
		if hi, err = strconv.Atoi(strings.TrimSpace(parts[1])); err != nil {
			return 0, 0, fmt.Errorf("invalid message count range %q: %w", raw, err)
		}
	}
	if lo < 0 || hi < lo {
		return 0, 0, fmt.Errorf("message count range %q is out of order", raw)
	}
	return lo, hi, nil
}

// secondsKeys also accept a bare number, read as seconds.
var secondsKeys = []string{
	"workflow.send_confirm_timeout",
	"workflow.element_wait_timeout",
	"workflow.card_settle_timeout",
}

// Decode unmarshals v into a fresh Config, applying legacy value formats.
func Decode(v *viper.Viper) (*Config, error) {
	for _, key := range secondsKeys {
		raw := strings.TrimSpace(v.GetString(key))
		if secs, err := strconv.ParseFloat(raw, 64); err == nil {
			v.Set(key, time.Duration(secs*float64(time.Second)))
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	if raw := strings.TrimSpace(cfg.Workflow.MessageCountRange); raw != "" {
		lo, hi, err := ParseCountRange(raw)
		if err != nil {
			return nil, err
		}
		cfg.Workflow.MessageCountMin, cfg.Workflow.MessageCountMax = lo, hi
	}
	// YAML 1.1 reads a bare yes/no as a boolean.
	switch strings.ToLower(strings.TrimSpace(cfg.Workflow.Disposition)) {
	case "yes", "true", "1":
		cfg.Workflow.Disposition = "yes"
	case "no", "false", "0":
		cfg.Workflow.Disposition = "no"
	}
	// A proxy address from the environment is enough to turn the proxy on.
	if cfg.Network.Proxy.Address != "" {
		cfg.Network.Proxy.Enabled = true
	}
	return &cfg, nil
}

// Load initializes the configuration singleton from Viper.
func Load(v *viper.Viper) error {
	once.Do(func() {
		cfg, err := Decode(v)
		if err != nil {
			loadErr = err
			return
		}
		if err := cfg.Validate(); err != nil {
			loadErr = fmt.Errorf("invalid configuration: %w", err)
			return
		}
		Set(cfg)
	})
	return loadErr
}

// Set replaces the configuration singleton.
func Set(cfg *Config) {
	mu.Lock()
	defer mu.Unlock()
	instance = cfg
}

// Get returns the loaded configuration instance.
func Get() *Config {
	mu.RLock()
	defer mu.RUnlock()
	if instance == nil {
		panic("Configuration not initialized. Call config.Load() in the root command.")
	}
	return instance
}
