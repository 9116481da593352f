package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hbomb79/immich-relay/internal"
	"github.com/hbomb79/immich-relay/pkg/logger"
	"github.com/spf13/cobra"
)

var (
	log        = logger.Get("Bootstrap")
	configPath string
)

var rootCmd = &cobra.Command{
	Use:   "immich-relay",
	Short: "Relay shared photos, videos and links to an Immich server",
	Long: `immich-relay accepts media (or links to media) over HTTP, downloads linked
media using yt-dlp and gallery-dl, and uploads the result to Immich.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		config, err := internal.LoadConfig(configPath)
		if err != nil {
			return err
		}

		if level, ok := logger.ParseLevel(config.LogLevel); ok {
			logger.SetMinLoggingLevel(level.Level())
		} else {
			log.Emit(logger.WARNING, "Unrecognised LOG_LEVEL %q; using default\n", config.LogLevel)
		}

		relay, err := internal.New(*config)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		log.Emit(logger.INFO, "Starting immich-relay\n")
		if err := relay.Run(ctx); err != nil {
			return err
		}

		log.Emit(logger.STOP, "immich-relay stopped\n")
		return nil
	},
}

func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		log.Emit(logger.FATAL, "Failed to execute: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file (environment variables take precedence)")
}
