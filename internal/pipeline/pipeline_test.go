package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"quizzify/internal/config"
	"quizzify/internal/embedding"
	"quizzify/internal/llmservice"
	"quizzify/internal/models"
	"quizzify/internal/quiz"
)

// paragraph repeats word up to exactly n characters, ending in a period
func paragraph(word string, n int) string {
	s := strings.Repeat(word+" ", n/len(word)+1)[:n-1]
	return s + "."
}

func questionJSON(question string) string {
	return fmt.Sprintf(`{"question": %q, "choices": [
		{"key": "A", "value": "Light"}, {"key": "B", "value": "Sound"},
		{"key": "C", "value": "Heat"}, {"key": "D", "value": "Wind"}
	], "answer": "A", "explanation": "Plants capture light."}`, question)
}

type sequence struct {
	mu      sync.Mutex
	outputs []string
	prompts []string
}

func (s *sequence) Complete(_ context.Context, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := min(len(s.prompts), len(s.outputs)-1)
	s.prompts = append(s.prompts, prompt)
	return s.outputs[i], nil
}

type countingExtractor struct {
	calls int
}

func (c *countingExtractor) ExtractPages(doc models.Document) ([]string, error) {
	c.calls++
	return strings.Split(string(doc.Data), "\f"), nil
}

func newTestPipeline(t *testing.T, completer llmservice.Completer) (*Pipeline, *ChromemStores) {
	t.Helper()
	cfg := config.Default()
	stores, err := NewChromemStores(&cfg.VectorStore)
	if err != nil {
		t.Fatalf("stores: %v", err)
	}
	p, err := New(cfg, completer, embedding.NewHashEmbedder(256), stores)
	if err != nil {
		t.Fatalf("pipeline: %v", err)
	}
	return p, stores
}

func biologyDoc() models.Document {
	page1 := paragraph("photosynthesis", 200)
	page2 := paragraph("chlorophyll", 200)
	return models.Document{Name: "biology.txt", Data: []byte(page1 + "\f" + page2)}
}

func TestBuildQuizEndToEnd(t *testing.T) {
	ctx := context.Background()
	completer := &sequence{outputs: []string{
		questionJSON("What do plants convert light into?"),
		"```json\n" + questionJSON("Which pigment absorbs light?") + "\n```",
		questionJSON("Where does photosynthesis happen?"),
	}}
	p, stores := newTestPipeline(t, completer)

	chunks, err := p.Chunks([]models.Document{biologyDoc()})
	if err != nil {
		t.Fatalf("chunks: %v", err)
	}
	if len(chunks) != 2 {
		t.Fatalf("expected 2 chunks, got %d", len(chunks))
	}

	bank, err := p.BuildQuiz(ctx, "Photosynthesis", 3, []models.Document{biologyDoc()})
	if err != nil {
		t.Fatalf("build quiz: %v", err)
	}
	if bank.Len() != 3 || bank.Topic != "Photosynthesis" {
		t.Fatalf("unexpected bank %+v", bank)
	}
	if !strings.Contains(completer.prompts[0], "photosynthesis photosynthesis") {
		t.Errorf("prompt does not carry retrieved context")
	}
	if stores.Open() != 0 {
		t.Errorf("session collection was not dropped, %d open", stores.Open())
	}

	nav, err := quiz.NewNavigator(bank)
	if err != nil {
		t.Fatalf("navigator: %v", err)
	}
	start := nav.Index()
	for i := 0; i < 3; i++ {
		nav.Advance(+1)
	}
	if nav.Index() != start {
		t.Errorf("three advances over three questions should return to %d, got %d", start, nav.Index())
	}
	if !nav.Evaluate("A") {
		t.Errorf("A is the answer key")
	}
}

func TestBuildQuizInvalidCountFailsFast(t *testing.T) {
	completer := &sequence{outputs: []string{questionJSON("Q?")}}
	p, _ := newTestPipeline(t, completer)
	extractor := &countingExtractor{}
	p.WithExtractor(extractor)

	for _, count := range []int{0, 11} {
		bank, err := p.BuildQuiz(context.Background(), "Topic", count, []models.Document{biologyDoc()})
		if !errors.Is(err, models.ErrInvalidCount) || bank != nil {
			t.Errorf("count %d: got %v, %v", count, bank, err)
		}
	}
	if extractor.calls != 0 || len(completer.prompts) != 0 {
		t.Errorf("no work expected before count validation")
	}
}

func TestBuildQuizNoDocuments(t *testing.T) {
	p, _ := newTestPipeline(t, &sequence{outputs: []string{questionJSON("Q?")}})
	_, err := p.BuildQuiz(context.Background(), "Topic", 1, nil)
	if !errors.Is(err, models.ErrEmptyInput) {
		t.Fatalf("expected ErrEmptyInput, got %v", err)
	}
	if !strings.Contains(models.Describe(err), "No documents ingested") {
		t.Errorf("describe = %q", models.Describe(err))
	}
}

func TestBuildQuizBlankDocumentIsEmptyIndex(t *testing.T) {
	p, stores := newTestPipeline(t, &sequence{outputs: []string{questionJSON("Q?")}})
	_, err := p.BuildQuiz(context.Background(), "Topic", 1, []models.Document{{Name: "blank.txt", Data: []byte("  \f  ")}})
	if !errors.Is(err, models.ErrEmptyIndex) {
		t.Fatalf("expected ErrEmptyIndex, got %v", err)
	}
	if stores.Open() != 0 {
		t.Errorf("collection leaked after failure")
	}
}

func TestBuildQuizUnsupportedFormat(t *testing.T) {
	p, _ := newTestPipeline(t, &sequence{outputs: []string{questionJSON("Q?")}})
	_, err := p.BuildQuiz(context.Background(), "Topic", 1, []models.Document{{Name: "slides.key", Data: []byte("x")}})
	if !errors.Is(err, models.ErrUnsupportedFormat) {
		t.Fatalf("expected ErrUnsupportedFormat, got %v", err)
	}
}

func TestBuildQuizMalformedOutput(t *testing.T) {
	p, _ := newTestPipeline(t, &sequence{outputs: []string{"sorry, no quiz today"}})
	bank, err := p.BuildQuiz(context.Background(), "Topic", 2, []models.Document{biologyDoc()})
	if !errors.Is(err, models.ErrGenerationSchema) || bank != nil {
		t.Fatalf("expected schema error and no bank, got %v, %v", bank, err)
	}
}

func TestSearchRanksMatchingPage(t *testing.T) {
	p, _ := newTestPipeline(t, &sequence{outputs: []string{questionJSON("Q?")}})
	results, err := p.Search(context.Background(), "chlorophyll", 2, []models.Document{biologyDoc()})
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Chunk.SourceID != models.PageSourceID("biology.txt", 2) {
		t.Errorf("top result from %s", results[0].Chunk.SourceID)
	}
	if results[0].Score < results[1].Score {
		t.Errorf("results not ordered by score")
	}
}

func TestNewStoreFactoryUnknown(t *testing.T) {
	cfg := config.Default()
	cfg.VectorStore.Type = "faiss"
	if _, err := NewStoreFactory(context.Background(), cfg); err == nil {
		t.Fatalf("expected error")
	}
}
