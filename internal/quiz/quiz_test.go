package quiz

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"quizzify/internal/llmservice"
	"quizzify/internal/models"
)

func questionJSON(question, answer string) string {
	return fmt.Sprintf(`{"question": %q, "choices": [
		{"key": "A", "value": "Chlorophyll"},
		{"key": "B", "value": "Glucose"},
		{"key": "C", "value": "Oxygen"},
		{"key": "D", "value": "Water"}
	], "answer": %q, "explanation": "Because the context says so."}`, question, answer)
}

// scripted replays outputs in order, repeating the last one
type scripted struct {
	mu      sync.Mutex
	outputs []string
	prompts []string
}

func (s *scripted) Complete(_ context.Context, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prompts = append(s.prompts, prompt)
	i := len(s.prompts) - 1
	if i >= len(s.outputs) {
		i = len(s.outputs) - 1
	}
	return s.outputs[i], nil
}

func (s *scripted) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}

type fixedRetriever struct {
	results []models.RetrievedContext
	err     error
	queries []string
}

func (r *fixedRetriever) Search(_ context.Context, query string, _ int) ([]models.RetrievedContext, error) {
	r.queries = append(r.queries, query)
	return r.results, r.err
}

func ranked(texts ...string) *fixedRetriever {
	r := &fixedRetriever{}
	for i, text := range texts {
		r.results = append(r.results, models.RetrievedContext{
			Chunk: models.Chunk{Text: text, SourceID: "doc#page=1", Position: i},
			Score: 1 - float64(i)/10,
		})
	}
	return r
}

func TestGenerateFallsBackToGeneralKnowledge(t *testing.T) {
	completer := &scripted{outputs: []string{questionJSON("What is light?", "A")}}
	retriever := ranked("Light is energy.")

	if _, err := NewGenerator(completer).Generate(context.Background(), "   ", retriever); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if retriever.queries[0] != models.FallbackTopic {
		t.Errorf("searched %q", retriever.queries[0])
	}
	if !strings.Contains(completer.prompts[0], "topic: "+models.FallbackTopic) {
		t.Errorf("prompt does not carry fallback topic")
	}
}

func TestGenerateJoinsContextInRankOrder(t *testing.T) {
	completer := &scripted{outputs: []string{questionJSON("Q?", "B")}}
	retriever := ranked("first chunk", "second chunk", "third chunk")

	q, err := NewGenerator(completer).Generate(context.Background(), "Photosynthesis", retriever)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if q.Answer != "B" || len(q.Choices) != 4 {
		t.Errorf("unexpected question %+v", q)
	}
	want := "Context: first chunk\n---\nsecond chunk\n---\nthird chunk"
	if !strings.Contains(completer.prompts[0], want) {
		t.Errorf("prompt missing ranked context:\n%s", completer.prompts[0])
	}
}

func TestGenerateEmptyRetrievalStillGenerates(t *testing.T) {
	completer := &scripted{outputs: []string{questionJSON("Q?", "C")}}
	if _, err := NewGenerator(completer).Generate(context.Background(), "Topic", &fixedRetriever{}); err != nil {
		t.Fatalf("empty retrieval must not fail: %v", err)
	}
}

func TestGenerateRetriesSchemaOnce(t *testing.T) {
	completer := &scripted{outputs: []string{"not json at all", questionJSON("Q?", "D")}}
	q, err := NewGenerator(completer).Generate(context.Background(), "Topic", ranked("ctx"))
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if q.Answer != "D" || completer.calls() != 2 {
		t.Errorf("answer %q after %d calls", q.Answer, completer.calls())
	}
	if completer.prompts[0] != completer.prompts[1] {
		t.Errorf("retry must reuse the same prompt")
	}
}

func TestGenerateSchemaErrorAfterRetry(t *testing.T) {
	completer := &scripted{outputs: []string{`{"question": "Q?", "choices": [], "answer": "A", "explanation": "x"}`}}
	_, err := NewGenerator(completer).Generate(context.Background(), "Topic", &fixedRetriever{})

	if !errors.Is(err, models.ErrGenerationSchema) {
		t.Fatalf("expected ErrGenerationSchema, got %v", err)
	}
	var schemaErr *models.SchemaError
	if !errors.As(err, &schemaErr) {
		t.Fatalf("expected *SchemaError, got %T", err)
	}
	if schemaErr.Attempts != 2 || !schemaErr.EmptyContext {
		t.Errorf("schema error = %+v", schemaErr)
	}
	if completer.calls() != 2 {
		t.Errorf("expected exactly one retry, got %d calls", completer.calls())
	}
}

func TestGenerateTimeoutIsDistinct(t *testing.T) {
	var calls atomic.Int32
	slow := llmservice.CompleterFunc(func(ctx context.Context, _ string) (string, error) {
		calls.Add(1)
		<-ctx.Done()
		return "", ctx.Err()
	})

	_, err := NewGenerator(slow, WithTimeout(20*time.Millisecond)).Generate(context.Background(), "Topic", ranked("ctx"))
	if !errors.Is(err, models.ErrGenerationTimeout) {
		t.Fatalf("expected ErrGenerationTimeout, got %v", err)
	}
	if errors.Is(err, models.ErrGenerationSchema) {
		t.Errorf("timeout must not look like a schema error")
	}
	if calls.Load() != 1 {
		t.Errorf("timeouts are not retried, got %d calls", calls.Load())
	}
}

func TestGenerateParentCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	blocked := llmservice.CompleterFunc(func(ctx context.Context, _ string) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})

	_, err := NewGenerator(blocked).Generate(ctx, "Topic", ranked("ctx"))
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestGenerateRetrievalErrorPropagates(t *testing.T) {
	completer := &scripted{outputs: []string{questionJSON("Q?", "A")}}
	_, err := NewGenerator(completer).Generate(context.Background(), "Topic", &fixedRetriever{err: models.ErrEmptyIndex})
	if !errors.Is(err, models.ErrEmptyIndex) {
		t.Fatalf("expected ErrEmptyIndex, got %v", err)
	}
	if completer.calls() != 0 {
		t.Errorf("no generation call expected")
	}
}

func TestParseQuestion(t *testing.T) {
	valid := questionJSON("Which pigment absorbs light?", "A")
	reordered := `{"question":"Q?","choices":[{"key":"C","value":"c"},{"key":"A","value":"a"},{"key":"D","value":"d"},{"key":"B","value":"b"}],"answer":"C","explanation":"e"}`

	tests := []struct {
		name    string
		raw     string
		wantErr bool
	}{
		{"plain", valid, false},
		{"think block", "<think>\nlet me reason {about} it\n</think>\n" + valid, false},
		{"code fence", "```json\n" + valid + "\n```", false},
		{"surrounding prose", "Here is your question:\n" + valid + "\nGood luck!", false},
		{"reordered keys", reordered, false},
		{"no json", "I cannot help with that.", true},
		{"truncated", valid[:len(valid)/2], true},
		{"three choices", `{"question":"Q?","choices":[{"key":"A","value":"a"},{"key":"B","value":"b"},{"key":"C","value":"c"}],"answer":"A","explanation":"e"}`, true},
		{"duplicate key", `{"question":"Q?","choices":[{"key":"A","value":"a"},{"key":"A","value":"b"},{"key":"C","value":"c"},{"key":"D","value":"d"}],"answer":"A","explanation":"e"}`, true},
		{"unknown key", `{"question":"Q?","choices":[{"key":"A","value":"a"},{"key":"B","value":"b"},{"key":"C","value":"c"},{"key":"E","value":"d"}],"answer":"A","explanation":"e"}`, true},
		{"lowercase answer", questionJSON("Q?", "a"), true},
		{"answer is choice text", questionJSON("Q?", "Chlorophyll"), true},
		{"empty question", questionJSON("  ", "A"), true},
		{"empty choice value", `{"question":"Q?","choices":[{"key":"A","value":""},{"key":"B","value":"b"},{"key":"C","value":"c"},{"key":"D","value":"d"}],"answer":"A","explanation":"e"}`, true},
		{"missing explanation", `{"question":"Q?","choices":[{"key":"A","value":"a"},{"key":"B","value":"b"},{"key":"C","value":"c"},{"key":"D","value":"d"}],"answer":"A"}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := ParseQuestion(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", q)
				}
				return
			}
			if err != nil {
				t.Fatalf("parse: %v", err)
			}
			for i, c := range q.Choices {
				if c.Key != models.ChoiceKeys[i] {
					t.Errorf("choice %d has key %q", i, c.Key)
				}
			}
			if _, ok := q.Choice(q.Answer); !ok {
				t.Errorf("answer %q not among choices", q.Answer)
			}
		})
	}
}

// sequenceGenerator hands out questions from a list, one per call
type sequenceGenerator struct {
	mu        sync.Mutex
	questions []string
	calls     int
	failAt    int
	delay     func(call int) time.Duration
}

func (g *sequenceGenerator) Generate(ctx context.Context, _ string, _ Retriever) (models.Question, error) {
	g.mu.Lock()
	call := g.calls
	g.calls++
	g.mu.Unlock()

	if g.failAt > 0 && call+1 == g.failAt {
		return models.Question{}, models.ErrGenerationTimeout
	}
	if g.delay != nil {
		select {
		case <-time.After(g.delay(call)):
		case <-ctx.Done():
			return models.Question{}, ctx.Err()
		}
	}
	text := g.questions[len(g.questions)-1]
	if call < len(g.questions) {
		text = g.questions[call]
	}
	return models.Question{Question: text, Answer: "A"}, nil
}

func TestBuildRejectsInvalidCount(t *testing.T) {
	for _, count := range []int{0, -1, 11} {
		gen := &sequenceGenerator{questions: []string{"Q"}}
		bank, err := NewBuilder(gen).Build(context.Background(), "Topic", count, &fixedRetriever{})
		if !errors.Is(err, models.ErrInvalidCount) {
			t.Errorf("count %d: expected ErrInvalidCount, got %v", count, err)
		}
		if bank != nil || gen.calls != 0 {
			t.Errorf("count %d: no work expected, bank=%v calls=%d", count, bank, gen.calls)
		}
	}
}

func TestBuildCollectsExactlyCount(t *testing.T) {
	gen := &sequenceGenerator{questions: []string{"Q1", "Q2", "Q3"}}
	bank, err := NewBuilder(gen).Build(context.Background(), "", 3, &fixedRetriever{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if bank.Len() != 3 || bank.RequestedCount != 3 || bank.Topic != models.FallbackTopic {
		t.Fatalf("unexpected bank %+v", bank)
	}
	for i, want := range []string{"Q1", "Q2", "Q3"} {
		if bank.Questions[i].Question != want {
			t.Errorf("slot %d = %q, want %q", i, bank.Questions[i].Question, want)
		}
	}
}

func TestBuildRegeneratesDuplicates(t *testing.T) {
	gen := &sequenceGenerator{questions: []string{"Q1", "Q1", "Q1", "Q2"}}
	bank, err := NewBuilder(gen).Build(context.Background(), "Topic", 2, &fixedRetriever{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	if bank.Questions[0].Question != "Q1" || bank.Questions[1].Question != "Q2" {
		t.Errorf("unexpected questions %+v", bank.Questions)
	}
	if gen.calls != 4 {
		t.Errorf("expected 4 generation calls, got %d", gen.calls)
	}
}

func TestBuildFailsWhenDuplicatesPersist(t *testing.T) {
	gen := &sequenceGenerator{questions: []string{"Same"}}
	bank, err := NewBuilder(gen, WithDedupRetries(2)).Build(context.Background(), "Topic", 2, &fixedRetriever{})
	if !errors.Is(err, models.ErrInsufficientUniqueQuestions) {
		t.Fatalf("expected ErrInsufficientUniqueQuestions, got %v", err)
	}
	if bank != nil {
		t.Fatalf("partial bank returned")
	}
	// one for slot 0, then 1 + 2 retries for slot 1
	if gen.calls != 4 {
		t.Errorf("expected 4 calls, got %d", gen.calls)
	}
}

func TestBuildPropagatesGeneratorError(t *testing.T) {
	gen := &sequenceGenerator{questions: []string{"Q1", "Q2", "Q3"}, failAt: 2}
	bank, err := NewBuilder(gen).Build(context.Background(), "Topic", 3, &fixedRetriever{})
	if !errors.Is(err, models.ErrGenerationTimeout) {
		t.Fatalf("expected generator error, got %v", err)
	}
	if bank != nil {
		t.Fatalf("partial bank returned")
	}
}

func TestBuildConcurrentKeepsQuestionsUnique(t *testing.T) {
	texts := []string{"Q1", "Q2", "Q3", "Q4", "Q5", "Q6", "Q7", "Q8"}
	gen := &sequenceGenerator{
		questions: texts,
		// later calls finish first
		delay: func(call int) time.Duration { return time.Duration(8-call) * time.Millisecond },
	}
	bank, err := NewBuilder(gen, WithConcurrency(4)).Build(context.Background(), "Topic", len(texts), &fixedRetriever{})
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	seen := map[string]bool{}
	for _, q := range bank.Questions {
		if q.Question == "" || seen[q.Question] {
			t.Fatalf("bank has empty or repeated question %q", q.Question)
		}
		seen[q.Question] = true
	}
	if len(seen) != len(texts) {
		t.Errorf("expected %d unique questions, got %d", len(texts), len(seen))
	}
}

func TestWithConcurrencyClamps(t *testing.T) {
	if b := NewBuilder(nil, WithConcurrency(100)); b.concurrency != 4 {
		t.Errorf("concurrency = %d", b.concurrency)
	}
	if b := NewBuilder(nil, WithConcurrency(0)); b.concurrency != 1 {
		t.Errorf("concurrency = %d", b.concurrency)
	}
}

func bankOf(n int) *models.QuizBank {
	bank := &models.QuizBank{Topic: "T", RequestedCount: n}
	for i := 0; i < n; i++ {
		bank.Questions = append(bank.Questions, models.Question{
			Question: fmt.Sprintf("Q%d", i),
			Answer:   models.ChoiceKeys[i%4],
		})
	}
	return bank
}

func TestNavigatorRejectsEmptyBank(t *testing.T) {
	if _, err := NewNavigator(&models.QuizBank{}); !errors.Is(err, models.ErrEmptyBank) {
		t.Fatalf("expected ErrEmptyBank, got %v", err)
	}
	if _, err := NewNavigator(nil); !errors.Is(err, models.ErrEmptyBank) {
		t.Fatalf("expected ErrEmptyBank for nil bank, got %v", err)
	}
}

func TestNavigatorWrapsAround(t *testing.T) {
	nav, err := NewNavigator(bankOf(3))
	if err != nil {
		t.Fatalf("navigator: %v", err)
	}

	if got := nav.Advance(-1); got != 2 {
		t.Errorf("back from 0 = %d, want 2", got)
	}
	if got := nav.Advance(+1); got != 0 {
		t.Errorf("forward from 2 = %d, want 0", got)
	}
	for i := 0; i < 3; i++ {
		nav.Advance(+1)
	}
	if nav.Index() != 0 {
		t.Errorf("N forward steps should return to start, at %d", nav.Index())
	}
	if got := nav.Advance(7); got != 1 {
		t.Errorf("advance(7) = %d, want 1", got)
	}
	if got := nav.Advance(-5); got != 2 {
		t.Errorf("advance(-5) = %d, want 2", got)
	}
	if nav.Current().Question != "Q2" {
		t.Errorf("current = %q", nav.Current().Question)
	}

	nav.Advance(2)
	// MaxInt and MinInt are 1 and -2 modulo 3
	if got := nav.Advance(math.MaxInt); got != 2 {
		t.Errorf("advance(MaxInt) from 1 = %d, want 2", got)
	}
	nav.Advance(-1)
	if got := nav.Advance(math.MinInt); got != 2 {
		t.Errorf("advance(MinInt) from 1 = %d, want 2", got)
	}
}

func TestNavigatorSingleQuestion(t *testing.T) {
	nav, _ := NewNavigator(bankOf(1))
	for _, d := range []int{1, -1, 3} {
		if got := nav.Advance(d); got != 0 {
			t.Errorf("advance(%d) = %d", d, got)
		}
	}
}

func TestNavigatorEvaluate(t *testing.T) {
	nav, _ := NewNavigator(bankOf(2))
	if !nav.Evaluate("A") {
		t.Errorf("A should be correct for Q0")
	}
	if nav.Evaluate("a") || nav.Evaluate("B") || nav.Evaluate("") {
		t.Errorf("only the exact key is correct")
	}
	nav.Advance(1)
	if !nav.Evaluate("B") {
		t.Errorf("B should be correct for Q1")
	}
}
