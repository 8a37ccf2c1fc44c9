package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/colorsRGB/AutomationScripts/internal/config"
	"github.com/colorsRGB/AutomationScripts/internal/observability"
	"github.com/colorsRGB/AutomationScripts/internal/orchestrator"
	"github.com/colorsRGB/AutomationScripts/internal/workflow"
)

func newRunCmd() *cobra.Command {
	var reportPath string

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run concurrent customer sessions against the chat widget",
		Long: `Opens the chat widget in one isolated browser context per session, sends a
random number of tokened messages and confirms each one in the page's network
traffic. Failed sessions are retried with a linear backoff.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			cfg := config.Get()
			logger := observability.GetLogger()

			if cfg.Widget.URL == "" {
				return fmt.Errorf("widget.url is required for the run command")
			}

			comps, err := initializeComponents(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer comps.Shutdown()

			wf := workflow.New(workflow.WidgetConfig(cfg), comps.Tokens, logger,
				workflow.WithRecorder(comps.Metrics))
			runner := &workflow.WidgetRunner{
				Opener:      workflow.NewWidgetOpener(cfg),
				Workflow:    wf,
				MinMessages: cfg.Workflow.MessageCountMin,
				MaxMessages: cfg.Workflow.MessageCountMax,
				Close:       cfg.Widget.Close,
			}

			opts := orchestrator.OptionsFromConfig(cfg)
			opts.Recorder = comps.Metrics
			orch := orchestrator.New(comps.BrowserManager, runner, opts, logger)

			startedAt := time.Now()
			sum, runErr := orch.Run(ctx,
				cfg.Orchestrator.TotalSessions,
				cfg.Orchestrator.Concurrency,
				cfg.Orchestrator.Retries)

			fmt.Fprintf(cmd.OutOrStdout(), "Success: %d/%d\n", sum.Succeeded, sum.Total)

			if reportPath != "" {
				if err := writeReport(reportPath, sum, startedAt); err != nil {
					logger.Error("Failed to write run report.", zap.Error(err))
				} else {
					logger.Info("Run report written.", zap.String("path", reportPath))
				}
			}
			return runErr
		},
	}

	flags := runCmd.Flags()
	flags.Int("sessions", 0, "total sessions to run")
	flags.Int("concurrency", 0, "sessions in flight at once")
	flags.Int("retries", 0, "retries per failed session")
	flags.String("messages", "", `message count range "min,max"`)
	flags.String("url", "", "chat widget URL")
	flags.StringVar(&reportPath, "report", "", "write a JSON run report to this path")

	bindFlag(runCmd, "orchestrator.total_sessions", "sessions")
	bindFlag(runCmd, "orchestrator.concurrency", "concurrency")
	bindFlag(runCmd, "orchestrator.retries", "retries")
	bindFlag(runCmd, "workflow.message_count_range", "messages")
	bindFlag(runCmd, "widget.url", "url")
	return runCmd
}

// flagKeys maps each command's flags to viper keys. Subcommands share keys, so
// only the executing command's flags are bound.
var flagKeys = map[*cobra.Command]map[string]string{}

func bindFlag(cmd *cobra.Command, key, flag string) {
	if flagKeys[cmd] == nil {
		flagKeys[cmd] = map[string]string{}
	}
	flagKeys[cmd][flag] = key
}

// bindCommandFlags binds cmd's flags into v. An unset flag defers to the
// config file and environment.
func bindCommandFlags(cmd *cobra.Command, v *viper.Viper) error {
	for flag, key := range flagKeys[cmd] {
		if err := v.BindPFlag(key, cmd.Flags().Lookup(flag)); err != nil {
			return fmt.Errorf("bind --%s: %w", flag, err)
		}
	}
	return nil
}
