package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"quizzify/internal/config"
	"quizzify/internal/models"
)

// Document is one stored chunk. Collection scopes rows to a single quiz session.
type Document struct {
	bun.BaseModel `bun:"table:quiz_chunks,alias:d"`
	ID            string          `bun:"id,pk"`
	Collection    string          `bun:"collection,notnull"`
	SourceID      string          `bun:"source_id,notnull"`
	Position      int             `bun:"position,notnull"`
	Overlap       int             `bun:"overlap,notnull,default:0"`
	Content       string          `bun:"content,notnull"`
	Embedding     pgvector.Vector `bun:"embedding,notnull,type:vector"`
	Score         float64         `bun:"score,scanonly"`
}

// Store is a pgvector backed chunk store for one collection
type Store struct {
	db         *bun.DB
	collection string
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// ConnectDB opens the configured driver, pgdriver by default or lib/pq
func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	switch cfg.Driver {
	case "pq", "postgres":
		return sql.Open("postgres", cfg.DSN)
	case "pgdriver", "":
		opts := []pgdriver.Option{pgdriver.WithDSN(cfg.DSN)}
		if cfg.Password != "" {
			opts = append(opts, pgdriver.WithPassword(cfg.Password))
		}
		return sql.OpenDB(pgdriver.NewConnector(opts...)), nil
	default:
		return nil, fmt.Errorf("unknown database driver: %s", cfg.Driver)
	}
}

func InitDB(ctx context.Context, db *bun.DB) error {
	if _, err := db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to enable pgvector: %w", err)
	}
	if _, err := db.NewCreateTable().Model((*Document)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}
	_, err := db.NewCreateIndex().
		Model((*Document)(nil)).
		Index("quiz_chunks_collection_idx").
		IfNotExists().
		Column("collection").
		Exec(ctx)
	return err
}

func NewStore(db *bun.DB, collection string) *Store {
	return &Store{db: db, collection: collection}
}

func (s *Store) rowID(chunkID string) string {
	return s.collection + "/" + chunkID
}

func (s *Store) Exists(ctx context.Context, ids []string) (map[string]bool, error) {
	found := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return found, nil
	}
	rowIDs := make([]string, len(ids))
	byRow := make(map[string]string, len(ids))
	for i, id := range ids {
		rowIDs[i] = s.rowID(id)
		byRow[rowIDs[i]] = id
	}

	var existing []string
	err := s.db.NewSelect().
		Model((*Document)(nil)).
		Column("id").
		Where("id IN (?)", bun.In(rowIDs)).
		Scan(ctx, &existing)
	if err != nil {
		return nil, fmt.Errorf("failed to look up chunks: %w", err)
	}
	for _, rowID := range existing {
		found[byRow[rowID]] = true
	}
	return found, nil
}

func (s *Store) Upsert(ctx context.Context, records []models.ChunkEmbedding) error {
	if len(records) == 0 {
		return nil
	}
	docs := make([]Document, len(records))
	for i, r := range records {
		docs[i] = Document{
			ID:         s.rowID(r.Chunk.ID()),
			Collection: s.collection,
			SourceID:   r.Chunk.SourceID,
			Position:   r.Chunk.Position,
			Overlap:    r.Chunk.Overlap,
			Content:    r.Chunk.Text,
			Embedding:  pgvector.NewVector(r.Embedding),
		}
	}
	_, err := s.db.NewInsert().Model(&docs).On("CONFLICT (id) DO NOTHING").Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to store chunks: %w", err)
	}
	return nil
}

func (s *Store) searchQuery(vector []float32, topK int, docs *[]Document) *bun.SelectQuery {
	v := pgvector.NewVector(vector)
	return s.db.NewSelect().
		Model(docs).
		Column("id", "source_id", "position", "overlap", "content").
		ColumnExpr("1 - (embedding <=> ?::vector) AS score", v).
		Where("collection = ?", s.collection).
		OrderExpr("embedding <=> ?::vector", v).
		Limit(topK)
}

// Search orders by cosine distance, score is cosine similarity
func (s *Store) Search(ctx context.Context, vector []float32, topK int) ([]models.RetrievedContext, error) {
	var docs []Document
	if err := s.searchQuery(vector, topK, &docs).Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}

	out := make([]models.RetrievedContext, len(docs))
	for i, d := range docs {
		out[i] = models.RetrievedContext{
			Chunk: models.Chunk{
				Text:     d.Content,
				SourceID: d.SourceID,
				Position: d.Position,
				Overlap:  d.Overlap,
			},
			Score: d.Score,
		}
	}
	return out, nil
}

// Drop deletes every row of the collection
func (s *Store) Drop(ctx context.Context) error {
	_, err := s.db.NewDelete().
		Model((*Document)(nil)).
		Where("collection = ?", s.collection).
		Exec(ctx)
	return err
}

func dropQuery(db *bun.DB) *bun.DropTableQuery {
	return db.NewDropTable().Model((*Document)(nil)).IfExists()
}

// DropDocuments removes the chunk table with every collection in it
func DropDocuments(ctx context.Context, db *bun.DB) error {
	_, err := dropQuery(db).Exec(ctx)
	return err
}
