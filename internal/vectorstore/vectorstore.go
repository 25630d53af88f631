// Package vectorstore defines the interface for chunk vector storage and
// similarity search, with embedded and remote implementations.
package vectorstore

import (
	"context"
	"errors"

	"github.com/fyrsmithlabs/retrievd/internal/corpus"
)

// Sentinel errors for vector store operations.
var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidTopK indicates a non-positive result count request.
	ErrInvalidTopK = errors.New("top_k must be positive")

	// ErrVectorCountMismatch indicates chunks and vectors differ in length.
	ErrVectorCountMismatch = errors.New("chunk and vector counts differ")

	// ErrConnectionFailed indicates the backing store cannot be reached.
	ErrConnectionFailed = errors.New("failed to connect to vector store")
)

// Candidate is a chunk surfaced by similarity search, pending re-ranking.
// Candidates are ephemeral: they exist only during a single retrieval call.
type Candidate struct {
	// Chunk is the matched chunk.
	Chunk corpus.Chunk

	// Similarity is the cosine similarity to the query embedding, in
	// [-1, 1], higher is more similar. Similarity scores and re-rank
	// scores live on different scales and are never compared directly.
	Similarity float32
}

// Store stores chunk embeddings and answers restricted top-K similarity
// searches.
//
// Stores are read-heavy: Search runs concurrently during retrieval, writes
// only happen during (re-)indexing. ReplaceDocument must be atomic with
// respect to readers - a concurrent Search sees either the fully-old or the
// fully-new chunk set for a document.
type Store interface {
	// ReplaceDocument replaces all chunks of a document with the given
	// chunks and their embeddings, in chunk order. vectors[i] belongs to
	// chunks[i].
	ReplaceDocument(ctx context.Context, docID string, chunks []corpus.Chunk, vectors [][]float32) error

	// RemoveDocument removes all chunks of a document. Removing an
	// unknown document is a no-op.
	RemoveDocument(ctx context.Context, docID string) error

	// Search returns up to topK candidates ordered by descending
	// similarity to the query embedding.
	//
	// A nil restriction searches the whole store; a non-nil restriction
	// confines the search to the given chunk IDs, and an empty
	// restriction yields zero candidates. topK larger than the candidate
	// pool returns the full pool, not an error. Ties break by insertion
	// order (first-seen wins) so results are deterministic.
	Search(ctx context.Context, query []float32, restriction corpus.IDSet, topK int) ([]Candidate, error)

	// Close releases resources held by the store.
	Close() error
}

// validateSearch checks the arguments shared by all Search implementations.
func validateSearch(query []float32, topK int) error {
	if topK <= 0 {
		return ErrInvalidTopK
	}
	if len(query) == 0 {
		return errors.New("query embedding is empty")
	}
	return nil
}
