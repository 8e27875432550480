package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"kepler-vision-go/internal/config"
	"kepler-vision-go/internal/logging"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	var cfg *config.Config
	loaded := func() *config.Config { return cfg }

	rootCmd := &cobra.Command{
		Use:          "kepler-vision",
		Short:        "Video analytics pipeline and job control plane",
		SilenceUsage: true,
		// Errors are logged by main.
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Setup structured logging
			zerolog.TimeFieldFormat = time.RFC3339
			log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

			// Load configuration
			cfg = config.Load()

			// Set log level
			level, err := zerolog.ParseLevel(cfg.LogLevel)
			if err != nil {
				log.Warn().Str("level", cfg.LogLevel).Msg("Invalid log level, using info")
				level = zerolog.InfoLevel
			}
			zerolog.SetGlobalLevel(level)

			if cfg.LogdyEnabled && cmd.Name() != "run" {
				w, url := logging.AttachLogdy(cfg, zerolog.ConsoleWriter{Out: os.Stderr})
				log.Logger = zerolog.New(w).With().Timestamp().Logger()
				log.Info().Str("url", url).Msg("Logdy UI enabled")
			}
		},
	}

	serveCmd := serveCommand(loaded)
	rootCmd.AddCommand(serveCmd, runCommand(loaded))

	// Without a subcommand the control plane is served.
	rootCmd.RunE = serveCmd.RunE

	return rootCmd
}
