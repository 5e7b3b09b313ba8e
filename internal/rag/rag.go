package rag

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"

	"quizzify/internal/config"
	"quizzify/internal/models"
)

// Store is the similarity-searchable backend behind an index
type Store interface {
	Exists(ctx context.Context, ids []string) (map[string]bool, error)
	Upsert(ctx context.Context, records []models.ChunkEmbedding) error
	Search(ctx context.Context, vector []float32, topK int) ([]models.RetrievedContext, error)
	Drop(ctx context.Context) error
}

// DuplicatePolicy decides what Index does with a chunk identity that is already stored
type DuplicatePolicy int

const (
	// SkipDuplicates drops already stored chunks and indexes the rest
	SkipDuplicates DuplicatePolicy = iota
	// RejectDuplicates fails the whole call with ErrAlreadyIndexed
	RejectDuplicates
)

func ParseDuplicatePolicy(s string) (DuplicatePolicy, error) {
	switch s {
	case config.DuplicateSkip, "":
		return SkipDuplicates, nil
	case config.DuplicateReject:
		return RejectDuplicates, nil
	default:
		return SkipDuplicates, fmt.Errorf("unknown duplicate policy: %s", s)
	}
}

// VectorIndex keeps chunk to vector bookkeeping over a Store.
// Index is single-writer; Search calls may run concurrently.
type VectorIndex struct {
	mu       sync.RWMutex
	embedder embeddings.Embedder
	store    Store
	policy   DuplicatePolicy
	topK     int
	built    bool
	// ids known to be in the store, written here or reported by Exists
	known map[string]struct{}
}

type Option func(*VectorIndex)

func WithDuplicatePolicy(p DuplicatePolicy) Option {
	return func(v *VectorIndex) { v.policy = p }
}

func WithTopK(k int) Option {
	return func(v *VectorIndex) {
		if k > 0 {
			v.topK = k
		}
	}
}

func NewVectorIndex(embedder embeddings.Embedder, store Store, opts ...Option) *VectorIndex {
	v := &VectorIndex{
		embedder: embedder,
		store:    store,
		policy:   SkipDuplicates,
		topK:     config.DefaultTopK,
		known:    make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Index embeds and stores chunks. The store is queried first so the same
// (source id, position) is never stored twice. Chunks the store already holds
// count toward Len, so an index opened over a populated store is searchable
// once those chunks are passed to Index.
func (v *VectorIndex) Index(ctx context.Context, chunks []models.Chunk) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID()
	}
	existing, err := v.store.Exists(ctx, ids)
	if err != nil {
		return err
	}

	fresh := make([]models.Chunk, 0, len(chunks))
	seen := make(map[string]bool, len(chunks))
	for i, c := range chunks {
		id := ids[i]
		if existing[id] || seen[id] {
			if v.policy == RejectDuplicates {
				return fmt.Errorf("%w: %s", models.ErrAlreadyIndexed, id)
			}
			if existing[id] {
				v.known[id] = struct{}{}
			}
			log.Debug().Str("chunk", id).Msg("Skipping already indexed chunk")
			continue
		}
		seen[id] = true
		fresh = append(fresh, c)
	}

	if len(fresh) > 0 {
		texts := make([]string, len(fresh))
		for i, c := range fresh {
			texts[i] = c.Text
		}
		vectors, err := v.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return fmt.Errorf("failed to embed chunks: %w", err)
		}
		if len(vectors) != len(fresh) {
			return fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(fresh))
		}

		records := make([]models.ChunkEmbedding, len(fresh))
		for i, c := range fresh {
			records[i] = models.ChunkEmbedding{Chunk: c, Embedding: vectors[i]}
		}
		if err := v.store.Upsert(ctx, records); err != nil {
			return err
		}
	}

	for _, c := range fresh {
		v.known[c.ID()] = struct{}{}
	}
	v.built = true
	log.Info().Int("indexed", len(fresh)).Int("skipped", len(chunks)-len(fresh)).Int("total", len(v.known)).Msg("Indexed chunks")
	return nil
}

// Search returns up to topK chunks ordered by descending score.
// topK <= 0 uses the index default.
func (v *VectorIndex) Search(ctx context.Context, query string, topK int) ([]models.RetrievedContext, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	if !v.built {
		return nil, models.ErrIndexNotBuilt
	}
	if len(v.known) == 0 {
		return nil, models.ErrEmptyIndex
	}
	if topK <= 0 {
		topK = v.topK
	}

	vector, err := v.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	results, err := v.store.Search(ctx, vector, topK)
	if err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Len returns the number of chunks known to be in the store
func (v *VectorIndex) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.known)
}

// Close drops the backing store
func (v *VectorIndex) Close(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.store.Drop(ctx)
}
