package models

import "fmt"

// Chunk represents a bounded piece of page text with its identity
type Chunk struct {
	Text     string `json:"text"`
	SourceID string `json:"source_id"`
	Position int    `json:"position"`
	// Overlap is the number of leading runes repeated from the previous chunk
	Overlap int `json:"overlap,omitempty"`
}

// ID returns the store identity of the chunk, unique per (SourceID, Position)
func (c Chunk) ID() string {
	return fmt.Sprintf("%s@%d", c.SourceID, c.Position)
}

// RetrievedContext is a chunk returned by similarity search, higher score is more relevant
type RetrievedContext struct {
	Chunk Chunk   `json:"chunk"`
	Score float64 `json:"score"`
}

// Document is a raw uploaded file
type Document struct {
	Name string
	Data []byte
}

// PageSourceID names a single page of a document
func PageSourceID(documentName string, pageNumber int) string {
	return fmt.Sprintf("%s#page=%d", documentName, pageNumber)
}

// ChunkEmbedding pairs a chunk with its vector for storage
type ChunkEmbedding struct {
	Chunk     Chunk
	Embedding []float32
}
