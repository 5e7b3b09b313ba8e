package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"quizzify/internal/config"
	"quizzify/internal/models"
)

const configFilePath = "./configs/config.yaml"

type rootOptions struct {
	configPath string
	logLevel   string
	logJSON    bool
}

func main() {
	_ = godotenv.Load()
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		log.Error().Err(err).Msg("Command failed")
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "quizzify",
		Short:         "Generate multiple-choice quizzes from your documents",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(opts.logLevel, opts.logJSON)
		},
	}

	envConfig := os.Getenv("QUIZZIFY_CONFIG")
	if envConfig == "" {
		envConfig = configFilePath
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", envConfig, "path to YAML config")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "debug, info, warn or error")
	cmd.PersistentFlags().BoolVar(&opts.logJSON, "log-json", false, "log JSON lines instead of console output")

	cmd.AddCommand(newQuizCmd(opts), newSearchCmd(opts), newServeCmd(opts))
	return cmd
}

func setupLogging(level string, jsonOutput bool) error {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(lvl)
	if jsonOutput {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Caller().Logger()
		return nil
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).With().Caller().Logger()
	return nil
}

func loadConfig(opts *rootOptions) (*config.Config, error) {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return nil, fmt.Errorf("error loading config: %w", err)
	}
	log.Debug().Str("path", opts.configPath).Str("llm", cfg.LLM.Provider).Str("store", cfg.VectorStore.Type).Msg("Loaded config")
	return cfg, nil
}

func readDocuments(paths []string) ([]models.Document, error) {
	docs := make([]models.Document, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		docs = append(docs, models.Document{Name: filepath.Base(p), Data: data})
	}
	return docs, nil
}
