package config

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetSingleton() {
	Set(nil)
	once = sync.Once{}
	loadErr = nil
}

func newViper(t *testing.T, yaml string) *viper.Viper {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	if yaml != "" {
		v.SetConfigType("yaml")
		require.NoError(t, v.ReadConfig(bytes.NewBufferString(yaml)))
	}
	return v
}

// TestGetUninitialized verifies that calling Get() before Load() causes a panic.
func TestGetUninitialized(t *testing.T) {
	resetSingleton()

	assert.Panics(t, func() {
		Get()
	}, "Get() should panic if configuration is not initialized")
}

// TestLoadAndGet verifies the basic singleton load and get functionality.
func TestLoadAndGet(t *testing.T) {
	resetSingleton()

	v := newViper(t, `
orchestrator:
  total_sessions: 25
  concurrency: 5
workflow:
  disposition: "no"
`)
	require.NoError(t, Load(v))

	cfg := Get()
	require.NotNil(t, cfg)
	assert.Equal(t, 25, cfg.Orchestrator.TotalSessions)
	assert.Equal(t, 5, cfg.Orchestrator.Concurrency)
	assert.Equal(t, 1, cfg.Orchestrator.Retries)
	assert.Equal(t, "no", cfg.Workflow.Disposition)
	assert.Equal(t, 60*time.Second, cfg.Workflow.SendConfirmTimeout)
	assert.Equal(t, []string{"agent-events", "events", "hub", "chat"}, cfg.Network.TrafficURLKeywords)
	assert.Len(t, cfg.Chat.SendSelectors, 4)

	// Subsequent calls to Load do not change the instance.
	require.NoError(t, Load(newViper(t, "orchestrator: {total_sessions: 99}")))
	assert.Same(t, cfg, Get())
	assert.Equal(t, 25, Get().Orchestrator.TotalSessions)
}

func TestLegacyEnvironment(t *testing.T) {
	t.Setenv("TOTAL_SESSIONS", "40")
	t.Setenv("CONCURRENCY", "8")
	t.Setenv("RETRIES", "2")
	t.Setenv("MESSAGE_COUNT_RANGE", "2, 4")
	t.Setenv("SEND_CONFIRM_TIMEOUT", "45")
	t.Setenv("ELEMENT_WAIT_TIMEOUT", "1.5")
	t.Setenv("CARD_SETTLE_TIMEOUT", "3s")
	t.Setenv("PLAYWRIGHT_PROXY", "http://127.0.0.1:8080")
	t.Setenv("VIVAI_USER", "agent")

	v := newViper(t, "")
	BindEnv(v)
	cfg, err := Decode(v)
	require.NoError(t, err)

	assert.Equal(t, 40, cfg.Orchestrator.TotalSessions)
	assert.Equal(t, 8, cfg.Orchestrator.Concurrency)
	assert.Equal(t, 2, cfg.Orchestrator.Retries)
	assert.Equal(t, 2, cfg.Workflow.MessageCountMin)
	assert.Equal(t, 4, cfg.Workflow.MessageCountMax)
	assert.Equal(t, 45*time.Second, cfg.Workflow.SendConfirmTimeout)
	assert.Equal(t, 1500*time.Millisecond, cfg.Workflow.ElementWaitTimeout)
	assert.Equal(t, 3*time.Second, cfg.Workflow.CardSettleTimeout)
	assert.True(t, cfg.Network.Proxy.Enabled)
	assert.Equal(t, "http://127.0.0.1:8080", cfg.Network.Proxy.Address)
	assert.Equal(t, "agent", cfg.Console.Username)
	assert.NoError(t, cfg.Validate())
}

func TestParseCountRange(t *testing.T) {
	testCases := []struct {
		raw       string
		lo, hi    int
		expectErr bool
	}{
		{raw: "3,7", lo: 3, hi: 7},
		{raw: " 5 ", lo: 5, hi: 5},
		{raw: "0,0", lo: 0, hi: 0},
		{raw: "7,3", expectErr: true},
		{raw: "a,b", expectErr: true},
		{raw: "1,2,3", expectErr: true},
		{raw: "-1,2", expectErr: true},
	}

	for _, tc := range testCases {
		t.Run(tc.raw, func(t *testing.T) {
			lo, hi, err := ParseCountRange(tc.raw)
			if tc.expectErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.lo, lo)
			assert.Equal(t, tc.hi, hi)
		})
	}
}

// TestConfigValidation verifies the Validate() method.
func TestConfigValidation(t *testing.T) {
	valid := func(t *testing.T) *Config {
		cfg, err := Decode(newViper(t, ""))
		require.NoError(t, err)
		return cfg
	}

	testCases := []struct {
		name     string
		mutate   func(c *Config)
		errorMsg string
	}{
		{name: "defaults are valid"},
		{
			name:     "zero concurrency",
			mutate:   func(c *Config) { c.Orchestrator.Concurrency = 0 },
			errorMsg: "orchestrator.concurrency must be a positive integer",
		},
		{
			name:     "negative retries",
			mutate:   func(c *Config) { c.Orchestrator.Retries = -1 },
			errorMsg: "orchestrator.retries must not be negative",
		},
		{
			name:     "inverted message range",
			mutate:   func(c *Config) { c.Workflow.MessageCountMin, c.Workflow.MessageCountMax = 5, 2 },
			errorMsg: "message count range [5,2] is invalid",
		},
		{
			name:     "template without token verb",
			mutate:   func(c *Config) { c.Workflow.MessageTemplate = "hello" },
			errorMsg: "workflow.message_template",
		},
		{
			name:     "unknown disposition",
			mutate:   func(c *Config) { c.Workflow.Disposition = "maybe" },
			errorMsg: "workflow.disposition must be yes or no",
		},
		{
			name:     "missing input selector",
			mutate:   func(c *Config) { c.Chat.InputSelector = "" },
			errorMsg: "chat.input_selector is a required configuration field",
		},
		{
			name:     "metrics without address",
			mutate:   func(c *Config) { c.Metrics.Enabled, c.Metrics.Address = true, "" },
			errorMsg: "metrics.address is required",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid(t)
			if tc.mutate != nil {
				tc.mutate(cfg)
			}
			err := cfg.Validate()
			if tc.errorMsg == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.errorMsg)
		})
	}
}
