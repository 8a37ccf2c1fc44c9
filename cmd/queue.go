package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/colorsRGB/AutomationScripts/internal/config"
	"github.com/colorsRGB/AutomationScripts/internal/observability"
	"github.com/colorsRGB/AutomationScripts/internal/queue"
	"github.com/colorsRGB/AutomationScripts/internal/surface"
	"github.com/colorsRGB/AutomationScripts/internal/workflow"
)

func newQueueCmd() *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Work through the agent console queue as one signed-in agent",
		Long: `Signs into the agent console, then opens each waiting chat card in turn,
sends tokened messages, confirms them in network traffic and closes the chat
with the configured disposition. Chats whose messages were not all confirmed
are left open.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := config.Get()
			logger := observability.GetLogger()

			if cfg.Console.URL == "" {
				return fmt.Errorf("console.url is required for the queue command")
			}

			comps, err := initializeComponents(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer comps.Shutdown()

			page, err := comps.BrowserManager.NewIsolatedContext(ctx)
			if err != nil {
				return fmt.Errorf("failed to open console page: %w", err)
			}
			defer func() {
				closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Browser.CloseTimeout)
				defer cancel()
				if err := comps.BrowserManager.CloseContext(closeCtx, page); err != nil {
					logger.Warn("Failed to close console page.", zap.Error(err))
				}
			}()

			runner := newQueueRunner(cfg, comps, logger)
			rep, err := runner.Run(ctx, page)
			fmt.Fprintf(cmd.OutOrStdout(), "Processed: %d, left open: %d, skipped: %d, elapsed %s\n",
				rep.Processed, rep.Partial, rep.Skipped, workflow.FormatElapsed(rep.Elapsed))
			return err
		},
	}

	flags := queueCmd.Flags()
	flags.Int("max-chats", 0, "stop after this many chats (0 means until the queue is empty)")
	flags.String("messages", "", `message count range "min,max"`)
	flags.String("disposition", "", "close dialog answer (yes or no)")
	flags.String("url", "", "agent console URL")

	bindFlag(queueCmd, "queue.max_chats", "max-chats")
	bindFlag(queueCmd, "workflow.message_count_range", "messages")
	bindFlag(queueCmd, "workflow.disposition", "disposition")
	bindFlag(queueCmd, "console.url", "url")
	return queueCmd
}

func newQueueRunner(cfg *config.Config, comps *Components, logger *zap.Logger) *workflow.QueueRunner {
	cards := queue.NewSelector(queue.Config{
		Cards:        surface.ParseLocator(cfg.Queue.CardSelector),
		DismissCSS:   cfg.Queue.DismissSelector,
		RecheckPause: cfg.Queue.RecheckPause,
	}, logger)

	wf := workflow.New(workflow.ConsoleConfig(cfg), comps.Tokens, logger,
		workflow.WithCardTracker(cards),
		workflow.WithRecorder(comps.Metrics))

	return &workflow.QueueRunner{
		Entry:       workflow.NewConsoleEntry(cfg, logger),
		Cards:       cards,
		Opener:      workflow.NewCardOpener(cfg),
		Workflow:    wf,
		MinMessages: cfg.Workflow.MessageCountMin,
		MaxMessages: cfg.Workflow.MessageCountMax,
		MaxChats:    cfg.Queue.MaxChats,
		Toast:       surface.ParseLocator(cfg.Chat.ToastSelector),
		Appear:      cfg.Workflow.OverlayAppearTimeout,
		Gone:        cfg.Workflow.OverlayTimeout,
		Poll:        cfg.Workflow.PollInterval,
		Logger:      logger.Named("queue_runner"),
	}
}
