// Package metaindex stores structured chunk metadata and answers predicate
// filters ahead of vector search.
//
// The index is read-heavy: retrieval calls Filter concurrently while writes
// only happen during (re-)indexing. Mutations build a new snapshot and swap
// it in atomically, so readers always see either the fully-old or fully-new
// chunk set for a document, never a partial mix.
package metaindex

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/fyrsmithlabs/retrievd/internal/corpus"
	"github.com/fyrsmithlabs/retrievd/internal/predicate"
)

// snapshot is an immutable view of the index.
type snapshot struct {
	// chunks maps chunk ID to its metadata.
	chunks map[string]map[string]any

	// docs maps document ID to its chunk IDs, for replace-on-change.
	docs map[string][]string
}

// Index is the metadata index.
type Index struct {
	// mu serializes writers; readers go through the atomic snapshot only.
	mu   sync.Mutex
	snap atomic.Pointer[snapshot]
}

// New creates an empty metadata index.
func New() *Index {
	ix := &Index{}
	ix.snap.Store(&snapshot{
		chunks: map[string]map[string]any{},
		docs:   map[string][]string{},
	})
	return ix
}

// ReplaceDocument atomically replaces the document's chunk metadata with the
// given chunks. Passing chunks belonging to a different document is an error.
func (ix *Index) ReplaceDocument(docID string, chunks []corpus.Chunk) error {
	for _, c := range chunks {
		if c.DocumentID != docID {
			return fmt.Errorf("chunk %s belongs to document %s, not %s", c.ID, c.DocumentID, docID)
		}
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	next := ix.cloneWithoutDocLocked(docID)
	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
		next.chunks[c.ID] = c.Metadata
	}
	next.docs[docID] = ids

	ix.snap.Store(next)
	return nil
}

// RemoveDocument atomically removes all of the document's chunks. Removing an
// unknown document is a no-op.
func (ix *Index) RemoveDocument(docID string) {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	ix.snap.Store(ix.cloneWithoutDocLocked(docID))
}

// cloneWithoutDocLocked copies the current snapshot minus docID's chunks.
func (ix *Index) cloneWithoutDocLocked(docID string) *snapshot {
	cur := ix.snap.Load()

	next := &snapshot{
		chunks: make(map[string]map[string]any, len(cur.chunks)),
		docs:   make(map[string][]string, len(cur.docs)),
	}
	removed := corpus.NewIDSet(cur.docs[docID]...)
	for id, md := range cur.chunks {
		if !removed.Has(id) {
			next.chunks[id] = md
		}
	}
	for doc, ids := range cur.docs {
		if doc != docID {
			next.docs[doc] = ids
		}
	}
	return next
}

// Filter returns the IDs of chunks whose metadata satisfies the predicate.
//
// A nil predicate returns nil, meaning "unrestricted". An empty result set is
// a valid outcome, not an error: downstream stages must treat it as zero
// candidates. The predicate is validated before evaluation; a malformed tree
// is an input error.
func (ix *Index) Filter(expr predicate.Expr) (corpus.IDSet, error) {
	if expr == nil {
		return nil, nil
	}
	if err := expr.Validate(); err != nil {
		return nil, err
	}

	snap := ix.snap.Load()
	ids := make(corpus.IDSet)
	for id, md := range snap.chunks {
		if expr.Eval(md) {
			ids.Add(id)
		}
	}
	return ids, nil
}

// Metadata returns the metadata for a chunk ID.
func (ix *Index) Metadata(chunkID string) (map[string]any, bool) {
	md, ok := ix.snap.Load().chunks[chunkID]
	return md, ok
}

// Len returns the number of indexed chunks.
func (ix *Index) Len() int {
	return len(ix.snap.Load().chunks)
}

// DocumentChunkIDs returns the chunk IDs currently indexed for a document,
// in chunk order.
func (ix *Index) DocumentChunkIDs(docID string) []string {
	return ix.snap.Load().docs[docID]
}
