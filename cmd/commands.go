package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"quizzify/internal/config"
	"quizzify/internal/helper"
	"quizzify/internal/models"
	"quizzify/internal/pipeline"
	"quizzify/internal/server"
	"quizzify/internal/tui"
)

func newQuizCmd(root *rootOptions) *cobra.Command {
	var (
		files       []string
		topic       string
		count       int
		concurrency int
		plain       bool
	)
	cmd := &cobra.Command{
		Use:   "quiz",
		Short: "Build a quiz from documents and take it in the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("count") {
				count = cfg.Quiz.DefaultCount
			}
			if count < models.MinQuestionCount || count > models.MaxQuestionCount {
				return fmt.Errorf("%w: %d", models.ErrInvalidCount, count)
			}
			if concurrency > 0 {
				cfg.Quiz.Concurrency = concurrency
				cfg.ApplyDefaults()
			}
			docs, err := readDocuments(append(files, args...))
			if err != nil {
				return err
			}

			p, err := pipeline.NewFromConfig(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer p.Close()

			bank, err := p.BuildQuiz(cmd.Context(), topic, count, docs)
			if err != nil {
				fmt.Fprintln(os.Stderr, models.Describe(err))
				return err
			}
			if plain {
				return helper.PrettyPrint(os.Stdout, bank)
			}

			m, err := tui.New(bank)
			if err != nil {
				return err
			}
			final, err := tea.NewProgram(m).Run()
			if err != nil {
				return err
			}
			if fm, ok := final.(tui.Model); ok {
				correct, total := fm.Score()
				fmt.Printf("Score: %d/%d\n", correct, total)
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVarP(&files, "file", "f", nil, "document to build the quiz from (repeatable)")
	cmd.Flags().StringVarP(&topic, "topic", "t", "", "quiz topic, blank for general knowledge")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "number of questions, 1 to 10")
	cmd.Flags().IntVar(&concurrency, "concurrency", 0, "parallel generation calls, 1 to 4")
	cmd.Flags().BoolVar(&plain, "plain", false, "print the quiz bank as JSON instead of starting the TUI")
	return cmd
}

func newSearchCmd(root *rootOptions) *cobra.Command {
	var (
		files []string
		query string
		topK  int
	)
	cmd := &cobra.Command{
		Use:   "search",
		Short: "Show what the index retrieves for a query",
		RunE: func(cmd *cobra.Command, args []string) error {
			if query == "" {
				return errors.New("a --query is required")
			}
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			docs, err := readDocuments(append(files, args...))
			if err != nil {
				return err
			}

			p, err := pipeline.NewFromConfig(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer p.Close()

			results, err := p.Search(cmd.Context(), query, topK, docs)
			if err != nil {
				fmt.Fprintln(os.Stderr, models.Describe(err))
				return err
			}
			return helper.PrettyPrint(os.Stdout, results)
		},
	}
	cmd.Flags().StringSliceVarP(&files, "file", "f", nil, "document to index (repeatable)")
	cmd.Flags().StringVarP(&query, "query", "q", "", "text to search for")
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "number of results, 0 for the configured default")
	return cmd
}

func newServeCmd(root *rootOptions) *cobra.Command {
	var (
		addr  string
		reset bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the quiz HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root)
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			if reset {
				if cfg.VectorStore.Type != config.StorePGVector {
					return errors.New("--reset requires vector_store.type pgvector")
				}
				cfg.Database.Reset = true
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			p, err := pipeline.NewFromConfig(ctx, cfg)
			if err != nil {
				return err
			}
			defer p.Close()

			srv := server.New(p, cfg.Quiz.DefaultCount, server.WithSessionTTL(cfg.Server.SessionTTL))
			if err := srv.ListenAndServe(ctx, cfg.Server.Addr); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			log.Info().Msg("Server stopped")
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address, overrides server.addr")
	cmd.Flags().BoolVar(&reset, "reset", false, "drop stored pgvector chunks before serving")
	return cmd
}
