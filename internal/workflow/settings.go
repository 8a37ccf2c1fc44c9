package workflow

import (
	"strings"

	"github.com/colorsRGB/AutomationScripts/internal/config"
	"github.com/colorsRGB/AutomationScripts/internal/surface"
)

// ConsoleConfig builds the workflow settings for the agent console.
func ConsoleConfig(cfg *config.Config) Config {
	chat := cfg.Chat
	return Config{
		Selectors: Selectors{
			Input:         surface.ParseLocator(chat.InputSelector),
			Send:          parseAll(chat.SendSelectors),
			Close:         surface.ParseLocator(chat.CloseSelector),
			Yes:           surface.ParseLocator(chat.YesSelector),
			No:            surface.ParseLocator(chat.NoSelector),
			ReasonLabel:   surface.ParseLocator(chat.ReasonLabelSelector),
			ReasonTrigger: surface.ParseLocator(chat.ReasonTriggerSelector),
			ReasonOption:  surface.ParseLocator(chat.ReasonOptionSelector),
			Submit:        surface.ParseLocator(chat.SubmitSelector),
			Acknowledge:   surface.ParseLocator(chat.AcknowledgeSelector),
		},
		Timing:          timingFrom(cfg.Workflow),
		Disposition:     Disposition(strings.ToLower(cfg.Workflow.Disposition)),
		MessageTemplate: cfg.Workflow.MessageTemplate,
	}
}

// WidgetConfig is ConsoleConfig with the widget's own panel selectors applied.
func WidgetConfig(cfg *config.Config) Config {
	out := ConsoleConfig(cfg)
	w := cfg.Widget
	if w.InputSelector != "" {
		out.Selectors.Input = surface.ParseLocator(w.InputSelector)
	}
	if len(w.SendSelectors) > 0 {
		out.Selectors.Send = parseAll(w.SendSelectors)
	}
	if w.CloseSelector != "" {
		out.Selectors.Close = surface.ParseLocator(w.CloseSelector)
	}
	return out
}

func timingFrom(w config.WorkflowConfig) Timing {
	return Timing{
		ElementWait:     w.ElementWaitTimeout,
		EnableWait:      w.EnableWaitTimeout,
		NudgeWait:       w.NudgeWaitTimeout,
		SendConfirm:     w.SendConfirmTimeout,
		RetryConfirm:    w.RetryConfirmTimeout,
		ConfirmPoll:     w.ConfirmPollInterval,
		Poll:            w.PollInterval,
		PostSendPause:   w.PostSendPause,
		DispositionWait: w.DispositionWaitTimeout,
		ReasonProbe:     w.ReasonProbeTimeout,
		Acknowledge:     w.AcknowledgeTimeout,
		InputGone:       w.InputGoneTimeout,
		CardSettle:      w.CardSettleTimeout,
		SettlePause:     w.SettlePause,
		FinalPause:      w.FinalPause,
	}
}

func parseAll(raw []string) []surface.Locator {
	out := make([]surface.Locator, 0, len(raw))
	for _, r := range raw {
		if loc := surface.ParseLocator(r); !loc.IsZero() {
			out = append(out, loc)
		}
	}
	return out
}
