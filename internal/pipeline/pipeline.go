package pipeline

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"

	"quizzify/internal/config"
	"quizzify/internal/embedding"
	"quizzify/internal/helper"
	"quizzify/internal/llmservice"
	"quizzify/internal/models"
	"quizzify/internal/parser"
	"quizzify/internal/quiz"
	"quizzify/internal/rag"
)

// Pipeline is the session boundary: documents and a topic in, a quiz bank out.
// Every call indexes into its own collection, dropped when the call returns.
type Pipeline struct {
	extractor parser.Extractor
	splitter  *parser.Splitter
	embedder  embeddings.Embedder
	stores    StoreFactory
	builder   *quiz.Builder
	policy    rag.DuplicatePolicy
	topK      int
	closers   []func() error
}

// New wires a pipeline from already constructed collaborators
func New(cfg *config.Config, completer llmservice.Completer, embedder embeddings.Embedder, stores StoreFactory) (*Pipeline, error) {
	policy, err := rag.ParseDuplicatePolicy(cfg.RAG.DuplicatePolicy)
	if err != nil {
		return nil, err
	}
	generator := quiz.NewGenerator(completer,
		quiz.WithTimeout(cfg.LLM.Timeout),
		quiz.WithSchemaRetries(cfg.Quiz.SchemaRetries),
		quiz.WithRetrievalTopK(cfg.RAG.TopK),
	)
	return &Pipeline{
		extractor: parser.FileExtractor{},
		splitter:  parser.NewSplitterFromConfig(cfg),
		embedder:  embedder,
		stores:    stores,
		builder: quiz.NewBuilder(generator,
			quiz.WithConcurrency(cfg.Quiz.Concurrency),
			quiz.WithDedupRetries(cfg.Quiz.DedupRetries),
		),
		policy: policy,
		topK:   cfg.RAG.TopK,
	}, nil
}

// NewFromConfig builds every collaborator named in cfg: completer, embedder
// (optionally behind the redis cache) and the vector store backend.
func NewFromConfig(ctx context.Context, cfg *config.Config) (*Pipeline, error) {
	completer, err := llmservice.NewFromConfig(&cfg.LLM)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize llm: %w", err)
	}
	embedder, err := embedding.New(&cfg.EmbedLLM)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedder: %w", err)
	}

	var closers []func() error
	if cfg.Cache.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Cache.RedisAddr,
			Password: cfg.Cache.RedisPassword,
			DB:       cfg.Cache.RedisDB,
		})
		namespace := cfg.EmbedLLM.Provider + ":" + cfg.EmbedLLM.Model
		embedder = embedding.NewCachedEmbedder(embedder, client, namespace, cfg.Cache.TTL)
		closers = append(closers, client.Close)
		log.Info().Str("addr", cfg.Cache.RedisAddr).Msg("Embedding cache enabled")
	}

	stores, err := NewStoreFactory(ctx, cfg)
	if err != nil {
		for _, c := range closers {
			_ = c()
		}
		return nil, err
	}
	closers = append(closers, stores.Close)

	p, err := New(cfg, completer, embedder, stores)
	if err != nil {
		for _, c := range closers {
			_ = c()
		}
		return nil, err
	}
	p.closers = closers
	return p, nil
}

// WithExtractor replaces the file extractor
func (p *Pipeline) WithExtractor(e parser.Extractor) *Pipeline {
	p.extractor = e
	return p
}

// BuildQuiz returns a complete bank of count questions on topic, or an error.
func (p *Pipeline) BuildQuiz(ctx context.Context, topic string, count int, docs []models.Document) (*models.QuizBank, error) {
	if count < models.MinQuestionCount || count > models.MaxQuestionCount {
		return nil, fmt.Errorf("%w: %d", models.ErrInvalidCount, count)
	}

	index, err := p.buildIndex(ctx, docs)
	if err != nil {
		return nil, err
	}
	defer p.closeIndex(index)

	return p.builder.Build(ctx, topic, count, index)
}

// Search indexes docs and returns what the index retrieves for query
func (p *Pipeline) Search(ctx context.Context, query string, topK int, docs []models.Document) ([]models.RetrievedContext, error) {
	index, err := p.buildIndex(ctx, docs)
	if err != nil {
		return nil, err
	}
	defer p.closeIndex(index)

	return index.Search(ctx, query, topK)
}

// Chunks extracts and splits docs without indexing them
func (p *Pipeline) Chunks(docs []models.Document) ([]models.Chunk, error) {
	if len(docs) == 0 {
		return nil, models.ErrEmptyInput
	}
	var chunks []models.Chunk
	for _, doc := range docs {
		pages, err := p.extractor.ExtractPages(doc)
		if err != nil {
			return nil, fmt.Errorf("failed to extract %s: %w", doc.Name, err)
		}
		docChunks, err := p.splitter.Split(doc.Name, pages)
		if err != nil {
			return nil, fmt.Errorf("failed to split %s: %w", doc.Name, err)
		}
		log.Debug().Str("document", doc.Name).Int("pages", len(pages)).Int("chunks", len(docChunks)).Msg("Document split")
		chunks = append(chunks, docChunks...)
	}
	return chunks, nil
}

func (p *Pipeline) buildIndex(ctx context.Context, docs []models.Document) (*rag.VectorIndex, error) {
	chunks, err := p.Chunks(docs)
	if err != nil {
		return nil, err
	}

	collection, err := helper.NewName("quiz")
	if err != nil {
		return nil, err
	}
	store, err := p.stores.NewStore(ctx, collection, p.embedder)
	if err != nil {
		return nil, err
	}
	index := rag.NewVectorIndex(p.embedder, store,
		rag.WithDuplicatePolicy(p.policy),
		rag.WithTopK(p.topK),
	)
	if err := index.Index(ctx, chunks); err != nil {
		p.closeIndex(index)
		return nil, err
	}
	return index, nil
}

// closeIndex drops the session collection even when the request ctx is done
func (p *Pipeline) closeIndex(index *rag.VectorIndex) {
	if err := index.Close(context.Background()); err != nil {
		log.Warn().Err(err).Msg("Failed to drop session collection")
	}
}

func (p *Pipeline) Close() error {
	var errs []error
	for _, c := range p.closers {
		errs = append(errs, c())
	}
	return errors.Join(errs...)
}
