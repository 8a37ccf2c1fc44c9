// File: cmd/root.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/colorsRGB/AutomationScripts/internal/config"
	"github.com/colorsRGB/AutomationScripts/internal/observability"
)

var (
	cfgFile string
	envFile string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:           "chatload",
	Short:         "chatload drives chat sessions through a real browser to load-test a chat platform.",
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// setup loads configuration and the logger before any subcommand runs. It is
// attached in init because it reads rootCmd's own flags.
func setup(cmd *cobra.Command, args []string) error {
	if cmd.Name() == "version" {
		return nil
	}

	if err := initializeConfig(viper.GetViper()); err != nil {
		return fmt.Errorf("failed to initialize configuration: %w", err)
	}
	if err := bindCommandFlags(cmd, viper.GetViper()); err != nil {
		return err
	}

	if err := config.Load(viper.GetViper()); err != nil {
		observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "chatload"})
		return err
	}

	cfg := config.Get()
	observability.InitializeLogger(cfg.Logger)
	observability.GetLogger().Info("Starting chatload", zap.String("version", Version))
	return nil
}

// Execute adds all child commands to the root command and runs it with ctx,
// which main cancels on SIGINT/SIGTERM.
func Execute(ctx context.Context) error {
	defer observability.Sync()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		// Cancellation during graceful shutdown is not a failure worth logging.
		if ctx.Err() == nil {
			observability.GetLogger().Error("Command execution failed", zap.Error(err))
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

func init() {
	rootCmd.PersistentPreRunE = setup

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file (default is ./chatload.yaml)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file loaded before the environment is read")

	rootCmd.PersistentFlags().Bool("headful", false, "show the browser window")
	rootCmd.PersistentFlags().String("proxy", "", "proxy address for browser traffic")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	_ = viper.BindPFlag("network.proxy.address", rootCmd.PersistentFlags().Lookup("proxy"))

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newQueueCmd())
	rootCmd.AddCommand(versionCmd)
}

// initializeConfig loads the dotenv file, then wires defaults, the config file
// and environment variables into v.
func initializeConfig(v *viper.Viper) error {
	// A missing .env is normal; a malformed one is not.
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("error reading env file %s: %w", envFile, err)
	}

	config.SetDefaults(v)

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("chatload")
		v.SetConfigType("yaml")
	}

	config.BindEnv(v)

	flags := rootCmd.PersistentFlags()
	if flags.Changed("headful") {
		headful, _ := flags.GetBool("headful")
		v.Set("browser.headless", !headful)
	}
	if flags.Changed("log-level") {
		level, _ := flags.GetString("log-level")
		v.Set("logger.level", level)
	}

	if err := v.ReadInConfig(); err != nil {
		// It's okay if the config file is not found, but report other errors
		// like parsing issues.
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return fmt.Errorf("error reading config file: %w", err)
		}
	}
	return nil
}
