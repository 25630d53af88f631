package metaindex

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/retrievd/internal/corpus"
	"github.com/fyrsmithlabs/retrievd/internal/predicate"
)

func chunk(id, docID string, md map[string]any) corpus.Chunk {
	return corpus.Chunk{ID: id, DocumentID: docID, Metadata: md}
}

func TestFilter(t *testing.T) {
	ix := New()
	require.NoError(t, ix.ReplaceDocument("d1", []corpus.Chunk{
		chunk("c1", "d1", map[string]any{"version": "v1", "lang": "en"}),
		chunk("c2", "d1", map[string]any{"version": "v2", "lang": "en"}),
	}))
	require.NoError(t, ix.ReplaceDocument("d2", []corpus.Chunk{
		chunk("c3", "d2", map[string]any{"version": "v2", "lang": "de"}),
	}))

	ids, err := ix.Filter(predicate.Eq("version", "v2"))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"c2", "c3"}, setToSlice(ids))

	ids, err = ix.Filter(predicate.AllOf(predicate.Eq("version", "v2"), predicate.Eq("lang", "en")))
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"c2"}, setToSlice(ids))
}

func TestFilterNoMatchIsEmptyNotError(t *testing.T) {
	ix := New()
	require.NoError(t, ix.ReplaceDocument("d1", []corpus.Chunk{
		chunk("c1", "d1", map[string]any{"version": "v1"}),
	}))

	ids, err := ix.Filter(predicate.Eq("version", "v99"))
	require.NoError(t, err)
	require.NotNil(t, ids, "no-match must be an empty set, not unrestricted")
	assert.Equal(t, 0, ids.Len())
}

func TestFilterNilPredicateIsUnrestricted(t *testing.T) {
	ix := New()
	ids, err := ix.Filter(nil)
	require.NoError(t, err)
	assert.Nil(t, ids)
}

func TestFilterInvalidPredicate(t *testing.T) {
	ix := New()
	_, err := ix.Filter(predicate.In("version"))
	assert.ErrorIs(t, err, predicate.ErrInvalidPredicate)
}

func TestReplaceDocument(t *testing.T) {
	ix := New()
	require.NoError(t, ix.ReplaceDocument("d1", []corpus.Chunk{
		chunk("old1", "d1", map[string]any{"gen": 1}),
		chunk("old2", "d1", map[string]any{"gen": 1}),
	}))
	require.Equal(t, 2, ix.Len())

	require.NoError(t, ix.ReplaceDocument("d1", []corpus.Chunk{
		chunk("new1", "d1", map[string]any{"gen": 2}),
	}))
	assert.Equal(t, 1, ix.Len())

	_, ok := ix.Metadata("old1")
	assert.False(t, ok, "replaced chunks must be gone")
	_, ok = ix.Metadata("new1")
	assert.True(t, ok)
	assert.Equal(t, []string{"new1"}, ix.DocumentChunkIDs("d1"))
}

func TestReplaceDocumentRejectsForeignChunks(t *testing.T) {
	ix := New()
	err := ix.ReplaceDocument("d1", []corpus.Chunk{chunk("c1", "d2", nil)})
	assert.Error(t, err)
}

func TestRemoveDocument(t *testing.T) {
	ix := New()
	require.NoError(t, ix.ReplaceDocument("d1", []corpus.Chunk{chunk("c1", "d1", nil)}))
	ix.RemoveDocument("d1")
	assert.Equal(t, 0, ix.Len())

	ix.RemoveDocument("never-indexed") // no-op
}

// Readers racing a writer must always observe a complete document: either
// all old-generation chunks or all new-generation ones.
func TestConcurrentReadersSeeConsistentSnapshots(t *testing.T) {
	ix := New()
	writeGen := func(gen int) {
		chunks := make([]corpus.Chunk, 3)
		for i := range chunks {
			chunks[i] = chunk(fmt.Sprintf("g%d-c%d", gen, i), "d1", map[string]any{"gen": gen})
		}
		require.NoError(t, ix.ReplaceDocument("d1", chunks))
	}
	writeGen(0)

	var wg sync.WaitGroup
	stop := make(chan struct{})

	wg.Add(1)
	go func() {
		defer wg.Done()
		for gen := 1; gen <= 50; gen++ {
			writeGen(gen)
		}
		close(stop)
	}()

	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				ids, err := ix.Filter(predicate.Ge("gen", 0))
				assert.NoError(t, err)
				assert.Equal(t, 3, ids.Len(), "a reader saw a partially replaced document")
			}
		}()
	}
	wg.Wait()
}

func setToSlice(s corpus.IDSet) []string {
	out := make([]string, 0, s.Len())
	for id := range s {
		out = append(out, id)
	}
	return out
}
