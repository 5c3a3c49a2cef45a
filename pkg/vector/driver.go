// Package vector provides interfaces and implementations for indexing and
// querying skill embedding vectors.
package vector

import "context"

// Document represents an indexed skill embedding with its identifiers.
type Document struct {
	// ID is a unique identifier for the document (the skill version id).
	ID string

	// GroupID is the skill group the indexed version belongs to.
	GroupID string

	// Embedding is the vector representation of the skill content.
	Embedding []float32
}

// QueryResult represents a search result with similarity score.
type QueryResult struct {
	Document

	// Score represents the similarity score (higher = more similar).
	Score float32
}

// Driver handles storage and retrieval of skill embedding vectors.
type Driver interface {
	// Add stores documents with their embeddings.
	// If a document with the same ID already exists, implementers should
	// update the document.
	Add(ctx context.Context, docs []Document) error

	// Query finds the topK most similar documents to the given embedding.
	Query(ctx context.Context, embedding []float32, topK int) ([]QueryResult, error)

	// Get retrieves documents by their IDs.
	Get(ctx context.Context, ids []string) ([]Document, error)

	// Delete removes documents by their IDs.
	Delete(ctx context.Context, ids []string) error

	// Close releases any resources held by the driver.
	Close() error
}
