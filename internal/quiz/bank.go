package quiz

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"quizzify/internal/config"
	"quizzify/internal/models"
)

// QuestionGenerator produces a single validated question
type QuestionGenerator interface {
	Generate(ctx context.Context, topic string, index Retriever) (models.Question, error)
}

// Builder fills a quiz bank slot by slot. Slots may be generated in
// parallel but each slot keeps its own position in the bank.
type Builder struct {
	generator    QuestionGenerator
	concurrency  int
	dedupRetries int
}

type BuilderOption func(*Builder)

// WithConcurrency bounds parallel generation calls to [1, config.MaxConcurrency]
func WithConcurrency(n int) BuilderOption {
	return func(b *Builder) {
		switch {
		case n < 1:
			b.concurrency = 1
		case n > config.MaxConcurrency:
			b.concurrency = config.MaxConcurrency
		default:
			b.concurrency = n
		}
	}
}

// WithDedupRetries sets the extra attempts a slot gets after a duplicate question
func WithDedupRetries(n int) BuilderOption {
	return func(b *Builder) {
		if n >= 0 {
			b.dedupRetries = n
		}
	}
}

func NewBuilder(generator QuestionGenerator, opts ...BuilderOption) *Builder {
	b := &Builder{
		generator:    generator,
		concurrency:  config.DefaultConcurrency,
		dedupRetries: config.DefaultDedupRetries,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// claims tracks question texts already placed in the bank
type claims struct {
	mu    sync.Mutex
	texts map[string]int
}

func (c *claims) claim(text string, slot int) (int, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if owner, ok := c.texts[text]; ok {
		return owner, false
	}
	c.texts[text] = slot
	return slot, true
}

// Build returns a bank of exactly count unique questions or an error, never a partial bank.
func (b *Builder) Build(ctx context.Context, topic string, count int, index Retriever) (*models.QuizBank, error) {
	if count < models.MinQuestionCount || count > models.MaxQuestionCount {
		return nil, fmt.Errorf("%w: %d", models.ErrInvalidCount, count)
	}
	topic = NormalizeTopic(topic)

	questions := make([]models.Question, count)
	seen := &claims{texts: make(map[string]int, count)}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for slot := 0; slot < count; slot++ {
		slot := slot
		g.Go(func() error {
			q, err := b.fillSlot(gctx, topic, slot, index, seen)
			if err != nil {
				return err
			}
			questions[slot] = q
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.Info().Str("topic", topic).Int("questions", count).Msg("Quiz bank built")
	return &models.QuizBank{Topic: topic, RequestedCount: count, Questions: questions}, nil
}

// fillSlot retries one slot serially until it holds a question no other slot has
func (b *Builder) fillSlot(ctx context.Context, topic string, slot int, index Retriever, seen *claims) (models.Question, error) {
	for attempt := 0; attempt <= b.dedupRetries; attempt++ {
		q, err := b.generator.Generate(ctx, topic, index)
		if err != nil {
			return models.Question{}, err
		}
		owner, ok := seen.claim(q.Question, slot)
		if ok {
			return q, nil
		}
		log.Debug().Int("slot", slot).Int("duplicate_of", owner).Int("attempt", attempt).Msg("Discarding duplicate question")
	}
	return models.Question{}, fmt.Errorf("%w: slot %d still duplicated after %d retries",
		models.ErrInsufficientUniqueQuestions, slot, b.dedupRetries)
}
