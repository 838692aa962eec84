package main

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/snarg/caption-engine/internal/availability"
	"github.com/snarg/caption-engine/internal/config"
	"github.com/spf13/cobra"
)

func newRootCommand() *cobra.Command {
	var overrides config.Overrides

	rootCmd := &cobra.Command{
		Use:           "caption-engine",
		Short:         "Speech-to-caption HTTP service backed by whisper.cpp",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), overrides)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&overrides.EnvFile, "env-file", ".env", "Path to .env file")
	flags.StringVar(&overrides.HTTPAddr, "listen", "", "HTTP listen address (overrides HTTP_ADDR)")
	flags.StringVar(&overrides.LogLevel, "log-level", "", "Log level: debug, info, warn, error (overrides LOG_LEVEL)")
	flags.StringVar(&overrides.WhisperBin, "whisper-bin", "", "whisper.cpp binary path or name (overrides WHISPER_BIN)")
	flags.StringVar(&overrides.Model, "model", "", "Model name, e.g. medium or large-v3 (overrides WHISPER_MODEL)")
	flags.StringVar(&overrides.ModelsDir, "models-dir", "", "Directory searched first for ggml-<model>.bin (overrides WHISPER_MODELS_DIR)")

	rootCmd.AddCommand(newServeCommand(&overrides))
	rootCmd.AddCommand(newCheckCommand(&overrides))
	rootCmd.AddCommand(newVersionCommand())

	return rootCmd
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger().Level(lvl)
}

func newChecker(cfg *config.Config) *availability.Checker {
	return availability.NewChecker(availability.Options{
		WhisperBin:       cfg.WhisperBin,
		Model:            cfg.WhisperModel,
		ModelsDir:        cfg.WhisperModelsDir,
		DefaultModelsDir: cfg.DefaultModelsDir,
		FFmpegBin:        cfg.FFmpegBin,
	})
}
