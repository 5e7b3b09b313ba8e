package quiz

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"quizzify/internal/config"
	"quizzify/internal/llmservice"
	"quizzify/internal/models"
)

var (
	thinkRe     = regexp.MustCompile(models.ThinkTag)
	codeFenceRe = regexp.MustCompile(models.CodeFenceTag)
)

// Retriever is the read side of a vector index
type Retriever interface {
	Search(ctx context.Context, query string, topK int) ([]models.RetrievedContext, error)
}

// Generator produces one validated question per call: retrieve context for
// the topic, then complete the prompt with that context.
type Generator struct {
	completer     llmservice.Completer
	timeout       time.Duration
	schemaRetries int
	topK          int
}

type GeneratorOption func(*Generator)

// WithTimeout bounds every single completion call
func WithTimeout(d time.Duration) GeneratorOption {
	return func(g *Generator) {
		if d > 0 {
			g.timeout = d
		}
	}
}

func WithSchemaRetries(n int) GeneratorOption {
	return func(g *Generator) {
		if n >= 0 {
			g.schemaRetries = n
		}
	}
}

// WithRetrievalTopK sets how many chunks are pulled into the context, 0 uses the index default
func WithRetrievalTopK(k int) GeneratorOption {
	return func(g *Generator) { g.topK = k }
}

func NewGenerator(completer llmservice.Completer, opts ...GeneratorOption) *Generator {
	g := &Generator{
		completer:     completer,
		timeout:       config.DefaultLLMTimeout,
		schemaRetries: config.DefaultSchemaRetries,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// NormalizeTopic trims the topic and falls back to the general topic when blank
func NormalizeTopic(topic string) string {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return models.FallbackTopic
	}
	return topic
}

// Generate returns one question about topic grounded on what index retrieves for it.
func (g *Generator) Generate(ctx context.Context, topic string, index Retriever) (models.Question, error) {
	topic = NormalizeTopic(topic)
	if topic == "" {
		return models.Question{}, models.ErrInvalidTopic
	}

	results, err := index.Search(ctx, topic, g.topK)
	if err != nil {
		return models.Question{}, fmt.Errorf("failed to retrieve context: %w", err)
	}
	if len(results) == 0 {
		log.Warn().Str("topic", topic).Msg("No context retrieved for topic")
	}
	prompt := BuildPrompt(topic, JoinContext(results))

	attempts := 1 + g.schemaRetries
	var raw string
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		raw, err = g.complete(ctx, prompt)
		if err != nil {
			return models.Question{}, err
		}
		q, err := ParseQuestion(raw)
		if err == nil {
			return q, nil
		}
		lastErr = err
		log.Debug().Err(err).Int("attempt", attempt).Str("topic", topic).Msg("Generated output failed validation")
	}

	return models.Question{}, &models.SchemaError{
		Attempts:     attempts,
		Raw:          raw,
		EmptyContext: len(results) == 0,
		Err:          lastErr,
	}
}

func (g *Generator) complete(ctx context.Context, prompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	start := time.Now()
	raw, err := g.completer.Complete(callCtx, prompt)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w after %s", models.ErrGenerationTimeout, g.timeout)
		}
		return "", fmt.Errorf("generation failed: %w", err)
	}
	log.Debug().Dur("took", time.Since(start)).Int("chars", len(raw)).Msg("Completion received")
	return raw, nil
}

// JoinContext concatenates retrieved chunk texts in ranked order
func JoinContext(results []models.RetrievedContext) string {
	texts := make([]string, 0, len(results))
	for _, r := range results {
		texts = append(texts, r.Chunk.Text)
	}
	return strings.Join(texts, models.ContextSeparator)
}

func BuildPrompt(topic, retrieved string) string {
	return strings.NewReplacer("{topic}", topic, "{context}", retrieved).Replace(models.QuestionPromptTemplate)
}

// ParseQuestion extracts the JSON object from raw model output and validates it
func ParseQuestion(raw string) (models.Question, error) {
	body, err := extractJSON(raw)
	if err != nil {
		return models.Question{}, err
	}
	var q models.Question
	if err := json.Unmarshal([]byte(body), &q); err != nil {
		return models.Question{}, fmt.Errorf("invalid json: %w", err)
	}
	if err := validate(&q); err != nil {
		return models.Question{}, err
	}
	return q, nil
}

func extractJSON(raw string) (string, error) {
	s := strings.TrimSpace(thinkRe.ReplaceAllString(raw, ""))
	if m := codeFenceRe.FindStringSubmatch(s); m != nil {
		s = m[1]
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return "", errors.New("no json object in output")
	}
	return s[start : end+1], nil
}

// validate checks the question schema and puts choices in key order
func validate(q *models.Question) error {
	q.Question = strings.TrimSpace(q.Question)
	q.Explanation = strings.TrimSpace(q.Explanation)
	q.Answer = strings.TrimSpace(q.Answer)

	if q.Question == "" {
		return errors.New("missing question")
	}
	if q.Explanation == "" {
		return errors.New("missing explanation")
	}
	if len(q.Choices) != len(models.ChoiceKeys) {
		return fmt.Errorf("expected %d choices, got %d", len(models.ChoiceKeys), len(q.Choices))
	}

	order := make(map[string]int, len(models.ChoiceKeys))
	for i, k := range models.ChoiceKeys {
		order[k] = i
	}
	seen := make(map[string]bool, len(q.Choices))
	for i := range q.Choices {
		c := &q.Choices[i]
		c.Key = strings.TrimSpace(c.Key)
		c.Value = strings.TrimSpace(c.Value)
		if _, ok := order[c.Key]; !ok {
			return fmt.Errorf("invalid choice key %q", c.Key)
		}
		if seen[c.Key] {
			return fmt.Errorf("duplicate choice key %q", c.Key)
		}
		seen[c.Key] = true
		if c.Value == "" {
			return fmt.Errorf("empty value for choice %s", c.Key)
		}
	}
	if !seen[q.Answer] {
		return fmt.Errorf("answer %q is not a choice key", q.Answer)
	}

	sort.Slice(q.Choices, func(i, j int) bool { return order[q.Choices[i].Key] < order[q.Choices[j].Key] })
	return nil
}
