package pipeline

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/uptrace/bun"

	"quizzify/internal/chromemdb"
	"quizzify/internal/config"
	"quizzify/internal/db"
	"quizzify/internal/rag"
)

// StoreFactory opens a fresh store for one session collection
type StoreFactory interface {
	NewStore(ctx context.Context, collection string, embedder embeddings.Embedder) (rag.Store, error)
	Close() error
}

// ChromemStores keeps every session collection in one chromem database
type ChromemStores struct {
	manager *chromemdb.VectorDBManager
}

func NewChromemStores(cfg *config.VectorStoreConfig) (*ChromemStores, error) {
	manager, err := chromemdb.NewVectorDBManager(cfg.Path, cfg.InMemory)
	if err != nil {
		return nil, err
	}
	return &ChromemStores{manager: manager}, nil
}

func (c *ChromemStores) NewStore(_ context.Context, collection string, embedder embeddings.Embedder) (rag.Store, error) {
	return c.manager.GetOrCreateCollection(collection, embedder)
}

// Open returns the number of collections not yet dropped
func (c *ChromemStores) Open() int {
	return c.manager.Collections()
}

func (c *ChromemStores) Close() error { return nil }

// PGVectorStores scopes session collections to rows of a shared postgres table
type PGVectorStores struct {
	db *bun.DB
}

func NewPGVectorStores(ctx context.Context, cfg *config.DatabaseConfig) (*PGVectorStores, error) {
	sqldb, err := db.ConnectDB(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	bunDB := db.NewDB(sqldb, cfg.Debug)
	if cfg.Reset {
		if err := db.DropDocuments(ctx, bunDB); err != nil {
			bunDB.Close()
			return nil, fmt.Errorf("failed to reset database: %w", err)
		}
		log.Warn().Msg("Dropped stored chunks")
	}
	if err := db.InitDB(ctx, bunDB); err != nil {
		bunDB.Close()
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	return &PGVectorStores{db: bunDB}, nil
}

func (p *PGVectorStores) NewStore(_ context.Context, collection string, _ embeddings.Embedder) (rag.Store, error) {
	return db.NewStore(p.db, collection), nil
}

func (p *PGVectorStores) Close() error { return p.db.Close() }

// NewStoreFactory picks the backend named by vector_store.type
func NewStoreFactory(ctx context.Context, cfg *config.Config) (StoreFactory, error) {
	switch cfg.VectorStore.Type {
	case config.StoreChromem, "":
		return NewChromemStores(&cfg.VectorStore)
	case config.StorePGVector:
		return NewPGVectorStores(ctx, &cfg.Database)
	default:
		return nil, fmt.Errorf("unknown vector store: %s", cfg.VectorStore.Type)
	}
}
