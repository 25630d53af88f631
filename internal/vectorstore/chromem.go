package vectorstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/retrievd/internal/corpus"
)

var chromemTracer = otel.Tracer("retrievd.vectorstore.chromem")

// ChromemConfig holds configuration for the chromem-go embedded store.
type ChromemConfig struct {
	// Path is the directory for persistent storage.
	// Default: "~/.config/retrievd/vectorstore"
	Path string `koanf:"path"`

	// Compress enables gzip compression for stored data.
	Compress bool `koanf:"compress"`

	// Collection is the collection name. Default: "retrievd_chunks"
	Collection string `koanf:"collection"`
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "~/.config/retrievd/vectorstore"
	}
	if c.Collection == "" {
		c.Collection = "retrievd_chunks"
	}
}

// ChromemStore implements Store using chromem-go, an embeddable pure-Go
// vector database with persistence to gob files.
//
// chromem cannot restrict a query to an ID set natively, so restricted
// searches retrieve the full ranked list and filter it. That stays exact and
// keeps the relative ordering guarantee; it just costs more than the
// unrestricted path on large collections.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	config     ChromemConfig
	logger     *zap.Logger
}

// NewChromemStore creates a ChromemStore with the given configuration.
func NewChromemStore(cfg ChromemConfig, logger *zap.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg.ApplyDefaults()

	path, err := expandHome(cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", path, err)
	}

	db, err := chromem.NewPersistentDB(path, cfg.Compress)
	if err != nil {
		return nil, fmt.Errorf("creating chromem DB: %w", err)
	}

	// Documents always arrive with precomputed embeddings, so the
	// collection's embedding func is never invoked.
	collection, err := db.GetOrCreateCollection(cfg.Collection, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("creating collection %s: %w", cfg.Collection, err)
	}

	logger.Info("chromem store initialized",
		zap.String("path", path),
		zap.String("collection", cfg.Collection),
		zap.Bool("compress", cfg.Compress),
	)

	return &ChromemStore{db: db, collection: collection, config: cfg, logger: logger}, nil
}

func expandHome(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

// ReplaceDocument implements Store.
func (s *ChromemStore) ReplaceDocument(ctx context.Context, docID string, chunks []corpus.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("%w: %d chunks, %d vectors", ErrVectorCountMismatch, len(chunks), len(vectors))
	}

	if err := s.collection.Delete(ctx, map[string]string{corpus.MetadataDocumentID: encodeMetaValue(docID)}, nil); err != nil {
		return fmt.Errorf("deleting old chunks of %s: %w", docID, err)
	}

	docs := make([]chromem.Document, len(chunks))
	for i, c := range chunks {
		docs[i] = chromem.Document{
			ID:        c.ID,
			Content:   c.Text(),
			Embedding: vectors[i],
			Metadata:  metadataToStrings(c.Metadata),
		}
	}
	if len(docs) == 0 {
		return nil
	}
	if err := s.collection.AddDocuments(ctx, docs, 1); err != nil {
		return fmt.Errorf("adding chunks of %s: %w", docID, err)
	}
	return nil
}

// RemoveDocument implements Store.
func (s *ChromemStore) RemoveDocument(ctx context.Context, docID string) error {
	if err := s.collection.Delete(ctx, map[string]string{corpus.MetadataDocumentID: encodeMetaValue(docID)}, nil); err != nil {
		return fmt.Errorf("deleting chunks of %s: %w", docID, err)
	}
	return nil
}

// Search implements Store.
func (s *ChromemStore) Search(ctx context.Context, query []float32, restriction corpus.IDSet, topK int) ([]Candidate, error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Search")
	defer span.End()

	if err := validateSearch(query, topK); err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if restriction != nil && restriction.Len() == 0 {
		return []Candidate{}, nil
	}

	count := s.collection.Count()
	if count == 0 {
		return []Candidate{}, nil
	}

	// chromem caps nResults at the collection size. With a restriction we
	// need the full ranking to filter from.
	n := topK
	if restriction != nil || n > count {
		n = count
	}

	results, err := s.collection.QueryEmbedding(ctx, query, n, nil, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection %s: %w", s.config.Collection, err)
	}

	candidates := make([]Candidate, 0, topK)
	for _, r := range results {
		if restriction != nil && !restriction.Has(r.ID) {
			continue
		}
		candidates = append(candidates, Candidate{
			Chunk:      chunkFromStored(r.ID, r.Content, r.Metadata),
			Similarity: r.Similarity,
		})
		if len(candidates) == topK {
			break
		}
	}

	span.SetAttributes(attribute.Int("results", len(candidates)))
	return candidates, nil
}

// Close implements Store.
func (s *ChromemStore) Close() error {
	return nil
}

// chunkFromStored rebuilds a chunk from its stored form. The stored content
// is the joined chunk text, so the rebuilt chunk is a single-span chunk; the
// original sentence boundaries live only in the indexing-side structures.
func chunkFromStored(id, content string, metadata map[string]string) corpus.Chunk {
	md := metadataFromStrings(metadata)
	docID, _ := md[corpus.MetadataDocumentID].(string)
	index := 0
	if v, ok := md[corpus.MetadataChunkIndex].(int); ok {
		index = v
	}
	return corpus.Chunk{
		ID:            id,
		DocumentID:    docID,
		Index:         index,
		Sentences:     []string{content},
		CharCount:     len(content),
		SentenceCount: 1,
		Metadata:      md,
	}
}

// metadataToStrings encodes metadata values as JSON for chromem's
// string-only payload. The encoding keeps the scalar type: the string "01"
// stays distinct from the int 1, and the string "true" from the bool.
func metadataToStrings(md map[string]any) map[string]string {
	if len(md) == 0 {
		return nil
	}
	out := make(map[string]string, len(md))
	for k, v := range md {
		out[k] = encodeMetaValue(v)
	}
	return out
}

// metadataFromStrings restores scalar types from their JSON encoding.
func metadataFromStrings(md map[string]string) map[string]any {
	out := make(map[string]any, len(md))
	for k, v := range md {
		out[k] = decodeMetaValue(v)
	}
	return out
}

func encodeMetaValue(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		b, _ = json.Marshal(fmt.Sprintf("%v", v))
	}
	return string(b)
}

// decodeMetaValue decodes one stored value. Integral numbers come back as
// int, other numbers as float64. Values written before the JSON encoding
// decode as plain strings.
func decodeMetaValue(s string) any {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return s
	}
	if n, ok := v.(json.Number); ok {
		if i, err := strconv.Atoi(n.String()); err == nil {
			return i
		}
		if f, err := n.Float64(); err == nil {
			return f
		}
		return n.String()
	}
	return v
}
