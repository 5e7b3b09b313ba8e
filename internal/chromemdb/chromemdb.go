package chromemdb

import (
	"context"
	"fmt"
	"runtime"
	"strconv"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"

	"quizzify/internal/models"
)

const (
	compress = false

	metaSourceID = "source_id"
	metaPosition = "position"
	metaOverlap  = "overlap"
)

// VectorDBManager owns the chromem database that session collections live in
type VectorDBManager struct {
	db     *chromem.DB
	dbPath string
}

// Store is one chromem collection holding the chunks of a single quiz session
type Store struct {
	db         *chromem.DB
	collection *chromem.Collection
}

// NewVectorDBManager initializes a new vector database manager
func NewVectorDBManager(dbPath string, inMemory bool) (*VectorDBManager, error) {
	var db *chromem.DB
	var err error
	if inMemory || dbPath == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(dbPath, compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	return &VectorDBManager{db: db, dbPath: dbPath}, nil
}

// GetOrCreateCollection opens the named collection. The embedder is only used by
// chromem for documents or queries that arrive without a vector.
func (m *VectorDBManager) GetOrCreateCollection(collectionName string, embedder embeddings.Embedder) (*Store, error) {
	var embed chromem.EmbeddingFunc
	if embedder != nil {
		embed = func(ctx context.Context, text string) ([]float32, error) {
			return embedder.EmbedQuery(ctx, text)
		}
	}
	c, err := m.db.GetOrCreateCollection(collectionName, nil, embed)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}
	log.Debug().Str("collection", collectionName).Int("documents", c.Count()).Msg("Opened collection")
	return &Store{db: m.db, collection: c}, nil
}

// Collections returns the number of open collections
func (m *VectorDBManager) Collections() int {
	return len(m.db.ListCollections())
}

// Exists reports which ids are already stored
func (s *Store) Exists(ctx context.Context, ids []string) (map[string]bool, error) {
	found := make(map[string]bool, len(ids))
	if s.collection.Count() == 0 {
		return found, nil
	}
	for _, id := range ids {
		// GetByID only fails for unknown ids
		if _, err := s.collection.GetByID(ctx, id); err == nil {
			found[id] = true
		}
	}
	return found, nil
}

// Upsert adds chunk documents with precomputed embeddings
func (s *Store) Upsert(ctx context.Context, records []models.ChunkEmbedding) error {
	if len(records) == 0 {
		return nil
	}
	docs := make([]chromem.Document, len(records))
	for i, r := range records {
		docs[i] = chromem.Document{
			ID:        r.Chunk.ID(),
			Content:   r.Chunk.Text,
			Metadata:  createMetadata(r.Chunk),
			Embedding: r.Embedding,
		}
	}

	if err := s.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	return nil
}

// Search returns up to topK nearest chunks with their cosine similarity
func (s *Store) Search(ctx context.Context, vector []float32, topK int) ([]models.RetrievedContext, error) {
	n := min(topK, s.collection.Count())
	if n <= 0 {
		return nil, nil
	}

	results, err := s.collection.QueryWithOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: vector,
		NResults:       n,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}

	out := make([]models.RetrievedContext, 0, len(results))
	for _, r := range results {
		out = append(out, models.RetrievedContext{
			Chunk: chunkFromResult(r),
			Score: float64(r.Similarity),
		})
	}
	return out, nil
}

// Drop deletes the collection
func (s *Store) Drop(_ context.Context) error {
	if err := s.db.DeleteCollection(s.collection.Name); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	return nil
}

func createMetadata(c models.Chunk) map[string]string {
	return map[string]string{
		metaSourceID: c.SourceID,
		metaPosition: strconv.Itoa(c.Position),
		metaOverlap:  strconv.Itoa(c.Overlap),
	}
}

func chunkFromResult(r chromem.Result) models.Chunk {
	position, _ := strconv.Atoi(r.Metadata[metaPosition])
	overlap, _ := strconv.Atoi(r.Metadata[metaOverlap])
	return models.Chunk{
		Text:     r.Content,
		SourceID: r.Metadata[metaSourceID],
		Position: position,
		Overlap:  overlap,
	}
}
