// Package index ingests documents: it segments text into chunks, embeds
// them, and installs them into the vector store and the metadata index.
package index

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/retrievd/internal/corpus"
	"github.com/fyrsmithlabs/retrievd/internal/embeddings"
	"github.com/fyrsmithlabs/retrievd/internal/metaindex"
	"github.com/fyrsmithlabs/retrievd/internal/segment"
	"github.com/fyrsmithlabs/retrievd/internal/vectorstore"
)

var tracer = otel.Tracer("retrievd.index")

var (
	// ErrEmptyDocumentID indicates a document without an ID.
	ErrEmptyDocumentID = errors.New("index: document ID is empty")

	// ErrEmptyDocumentText indicates a document without text.
	ErrEmptyDocumentText = errors.New("index: document text is empty")
)

// Config holds indexing configuration.
type Config struct {
	// SimilarityThreshold is the segmentation boundary threshold in [0,1].
	// Adjacent sentences at or above it share a chunk. Default: 0.8
	SimilarityThreshold float64 `koanf:"similarity_threshold"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.SimilarityThreshold == 0 {
		c.SimilarityThreshold = 0.8
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.SimilarityThreshold < 0 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity_threshold must be in [0,1], got %v", c.SimilarityThreshold)
	}
	return nil
}

// Stats summarizes one indexing operation.
type Stats struct {
	// Chunks is the number of chunks produced.
	Chunks int

	// Sentences is the total sentence count across chunks.
	Sentences int

	// AvgSentencesPerChunk is Sentences / Chunks.
	AvgSentencesPerChunk float64

	// AvgCharsPerChunk is the mean joined-text length per chunk.
	AvgCharsPerChunk float64
}

// Indexer turns documents into indexed chunks.
//
// Re-indexing a document replaces its chunk set wholesale: chunks get fresh
// IDs on every pass, and identity across re-indexing is judged by content,
// not by chunk ID.
type Indexer struct {
	segmenter *segment.Segmenter
	embedder  embeddings.Embedder
	store     vectorstore.Store
	meta      *metaindex.Index
	config    Config
	logger    *zap.Logger

	mu     sync.RWMutex
	docs   map[string]corpus.Document
	chunks map[string][]corpus.Chunk
}

// New creates an Indexer.
func New(segmenter *segment.Segmenter, embedder embeddings.Embedder, store vectorstore.Store, meta *metaindex.Index, cfg Config, logger *zap.Logger) (*Indexer, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Indexer{
		segmenter: segmenter,
		embedder:  embedder,
		store:     store,
		meta:      meta,
		config:    cfg,
		logger:    logger,
		docs:      map[string]corpus.Document{},
		chunks:    map[string][]corpus.Chunk{},
	}, nil
}

// IndexDocument segments, embeds, and installs a document. A document that
// was indexed before has its previous chunk set replaced.
func (ix *Indexer) IndexDocument(ctx context.Context, doc corpus.Document) (Stats, error) {
	ctx, span := tracer.Start(ctx, "Indexer.IndexDocument")
	defer span.End()

	if strings.TrimSpace(doc.ID) == "" {
		return Stats{}, ErrEmptyDocumentID
	}
	if strings.TrimSpace(doc.Text) == "" {
		return Stats{}, ErrEmptyDocumentText
	}

	groups, err := ix.segmenter.Segment(ctx, doc.Text, ix.config.SimilarityThreshold)
	if err != nil {
		return Stats{}, fmt.Errorf("segmenting document %s: %w", doc.ID, err)
	}

	chunks := make([]corpus.Chunk, len(groups))
	texts := make([]string, len(groups))
	for i, sentences := range groups {
		c := corpus.Chunk{
			ID:            uuid.NewString(),
			DocumentID:    doc.ID,
			Index:         i,
			Sentences:     sentences,
			SentenceCount: len(sentences),
			Metadata:      corpus.InheritMetadata(doc, i),
		}
		c.CharCount = len(c.Text())
		chunks[i] = c
		texts[i] = c.Text()
	}

	vectors, err := ix.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return Stats{}, fmt.Errorf("embedding chunks of %s: %w", doc.ID, err)
	}
	if len(vectors) != len(chunks) {
		return Stats{}, fmt.Errorf("embedding chunks of %s: got %d vectors for %d chunks", doc.ID, len(vectors), len(chunks))
	}

	if err := ix.store.ReplaceDocument(ctx, doc.ID, chunks, vectors); err != nil {
		return Stats{}, fmt.Errorf("storing chunks of %s: %w", doc.ID, err)
	}
	if err := ix.meta.ReplaceDocument(doc.ID, chunks); err != nil {
		return Stats{}, fmt.Errorf("indexing metadata of %s: %w", doc.ID, err)
	}

	ix.mu.Lock()
	ix.docs[doc.ID] = doc
	ix.chunks[doc.ID] = chunks
	ix.mu.Unlock()

	stats := buildStats(chunks)
	span.SetAttributes(
		attribute.String("document_id", doc.ID),
		attribute.Int("chunks", stats.Chunks),
	)
	ix.logger.Info("document indexed",
		zap.String("document_id", doc.ID),
		zap.Int("chunks", stats.Chunks),
		zap.Int("sentences", stats.Sentences),
	)
	return stats, nil
}

// RemoveDocument removes a document's chunks from all indexes. Removing an
// unknown document is a no-op.
func (ix *Indexer) RemoveDocument(ctx context.Context, docID string) error {
	if err := ix.store.RemoveDocument(ctx, docID); err != nil {
		return fmt.Errorf("removing chunks of %s: %w", docID, err)
	}
	ix.meta.RemoveDocument(docID)

	ix.mu.Lock()
	delete(ix.docs, docID)
	delete(ix.chunks, docID)
	ix.mu.Unlock()

	ix.logger.Info("document removed", zap.String("document_id", docID))
	return nil
}

// Document returns the ingested document by ID.
func (ix *Indexer) Document(docID string) (corpus.Document, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	doc, ok := ix.docs[docID]
	return doc, ok
}

// DocumentChunks returns the current chunk set of a document, in chunk order.
// The pipeline uses it for parent-context expansion.
func (ix *Indexer) DocumentChunks(docID string) []corpus.Chunk {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.chunks[docID]
}

// Stats returns aggregate statistics over all indexed chunks.
func (ix *Indexer) Stats() Stats {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var all []corpus.Chunk
	for _, cs := range ix.chunks {
		all = append(all, cs...)
	}
	return buildStats(all)
}

func buildStats(chunks []corpus.Chunk) Stats {
	s := Stats{Chunks: len(chunks)}
	if len(chunks) == 0 {
		return s
	}
	var chars int
	for _, c := range chunks {
		s.Sentences += c.SentenceCount
		chars += c.CharCount
	}
	s.AvgSentencesPerChunk = float64(s.Sentences) / float64(s.Chunks)
	s.AvgCharsPerChunk = float64(chars) / float64(s.Chunks)
	return s
}
