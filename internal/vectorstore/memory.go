package vectorstore

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/retrievd/internal/corpus"
)

var memoryTracer = otel.Tracer("retrievd.vectorstore.memory")

// memoryEntry pairs a chunk with its L2-normalized embedding.
type memoryEntry struct {
	chunk  corpus.Chunk
	vector []float32
}

// memorySnapshot is an immutable view of the store. Entry order is insertion
// order, which is what makes tie-breaking deterministic.
type memorySnapshot struct {
	entries []memoryEntry
	byDoc   map[string][]string
}

// MemoryStore is an in-process Store doing exact brute-force cosine search.
//
// It is the reference implementation: search over a restricted set is a plain
// scan, so the ordering guarantee is exact rather than approximate. Writes
// build a fresh snapshot and swap it atomically (copy-on-write), so readers
// never block and never see a partially replaced document.
type MemoryStore struct {
	mu     sync.Mutex // serializes writers
	snap   atomic.Pointer[memorySnapshot]
	logger *zap.Logger
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &MemoryStore{logger: logger}
	s.snap.Store(&memorySnapshot{byDoc: map[string][]string{}})
	return s
}

// ReplaceDocument implements Store.
func (s *MemoryStore) ReplaceDocument(ctx context.Context, docID string, chunks []corpus.Chunk, vectors [][]float32) error {
	if len(chunks) != len(vectors) {
		return fmt.Errorf("%w: %d chunks, %d vectors", ErrVectorCountMismatch, len(chunks), len(vectors))
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	next := s.cloneWithoutDocLocked(docID)
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
		next.entries = append(next.entries, memoryEntry{chunk: c, vector: normalize(vectors[i])})
	}
	next.byDoc[docID] = ids
	s.snap.Store(next)

	s.logger.Debug("replaced document in memory store",
		zap.String("document_id", docID),
		zap.Int("chunks", len(chunks)),
	)
	return nil
}

// RemoveDocument implements Store.
func (s *MemoryStore) RemoveDocument(ctx context.Context, docID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Store(s.cloneWithoutDocLocked(docID))
	return nil
}

func (s *MemoryStore) cloneWithoutDocLocked(docID string) *memorySnapshot {
	cur := s.snap.Load()
	removed := corpus.NewIDSet(cur.byDoc[docID]...)

	next := &memorySnapshot{
		entries: make([]memoryEntry, 0, len(cur.entries)),
		byDoc:   make(map[string][]string, len(cur.byDoc)),
	}
	for _, e := range cur.entries {
		if !removed.Has(e.chunk.ID) {
			next.entries = append(next.entries, e)
		}
	}
	for doc, ids := range cur.byDoc {
		if doc != docID {
			next.byDoc[doc] = ids
		}
	}
	return next
}

// Search implements Store.
func (s *MemoryStore) Search(ctx context.Context, query []float32, restriction corpus.IDSet, topK int) ([]Candidate, error) {
	ctx, span := memoryTracer.Start(ctx, "MemoryStore.Search")
	defer span.End()

	if err := validateSearch(query, topK); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if restriction != nil && restriction.Len() == 0 {
		return []Candidate{}, nil
	}

	q := normalize(query)
	snap := s.snap.Load()

	candidates := make([]Candidate, 0, topK)
	for _, e := range snap.entries {
		if restriction != nil && !restriction.Has(e.chunk.ID) {
			continue
		}
		candidates = append(candidates, Candidate{Chunk: e.chunk, Similarity: dot(q, e.vector)})
	}

	// Stable sort keeps insertion order on ties.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Similarity > candidates[j].Similarity
	})
	if len(candidates) > topK {
		candidates = candidates[:topK]
	}

	span.SetAttributes(
		attribute.Int("top_k", topK),
		attribute.Int("results", len(candidates)),
	)
	return candidates, nil
}

// Len returns the number of stored chunks.
func (s *MemoryStore) Len() int {
	return len(s.snap.Load().entries)
}

// Close implements Store.
func (s *MemoryStore) Close() error {
	return nil
}

// normalize returns the L2-normalized copy of v, so similarity reduces to a
// dot product. A zero vector is returned unchanged.
func normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	inv := float32(1 / math.Sqrt(norm))
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = x * inv
	}
	return out
}

// dot computes the dot product of two equal-length vectors. Mismatched
// lengths score 0.
func dot(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var d float32
	for i := range a {
		d += a[i] * b[i]
	}
	return d
}
