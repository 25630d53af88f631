package vectorstore

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/retrievd/internal/corpus"
)

func storeChunk(id, docID string, sentences ...string) corpus.Chunk {
	return corpus.Chunk{
		ID:            id,
		DocumentID:    docID,
		Sentences:     sentences,
		SentenceCount: len(sentences),
	}
}

func seedStore(t *testing.T, s *MemoryStore) {
	t.Helper()
	err := s.ReplaceDocument(context.Background(), "d1", []corpus.Chunk{
		storeChunk("a", "d1", "alpha"),
		storeChunk("b", "d1", "beta"),
	}, [][]float32{
		{1, 0, 0},
		{0, 1, 0},
	})
	require.NoError(t, err)

	err = s.ReplaceDocument(context.Background(), "d2", []corpus.Chunk{
		storeChunk("c", "d2", "gamma"),
	}, [][]float32{
		{0.9, 0.1, 0},
	})
	require.NoError(t, err)
}

func TestMemorySearchOrdering(t *testing.T) {
	s := NewMemoryStore(nil)
	seedStore(t, s)

	got, err := s.Search(context.Background(), []float32{1, 0, 0}, nil, 3)
	require.NoError(t, err)
	require.Len(t, got, 3)

	assert.Equal(t, "a", got[0].Chunk.ID)
	assert.Equal(t, "c", got[1].Chunk.ID)
	assert.Equal(t, "b", got[2].Chunk.ID)
	assert.Greater(t, got[0].Similarity, got[1].Similarity)
	assert.Greater(t, got[1].Similarity, got[2].Similarity)
}

func TestMemorySearchTieBreakIsInsertionOrder(t *testing.T) {
	s := NewMemoryStore(nil)
	err := s.ReplaceDocument(context.Background(), "d1", []corpus.Chunk{
		storeChunk("first", "d1", "x"),
		storeChunk("second", "d1", "y"),
	}, [][]float32{
		{1, 0},
		{1, 0}, // identical vector, identical score
	})
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		got, err := s.Search(context.Background(), []float32{1, 0}, nil, 2)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "first", got[0].Chunk.ID)
		assert.Equal(t, "second", got[1].Chunk.ID)
	}
}

func TestMemorySearchRestriction(t *testing.T) {
	s := NewMemoryStore(nil)
	seedStore(t, s)

	got, err := s.Search(context.Background(), []float32{1, 0, 0}, corpus.NewIDSet("b", "c"), 10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "c", got[0].Chunk.ID)
	assert.Equal(t, "b", got[1].Chunk.ID)
}

func TestMemorySearchEmptyRestrictionYieldsNoCandidates(t *testing.T) {
	s := NewMemoryStore(nil)
	seedStore(t, s)

	got, err := s.Search(context.Background(), []float32{1, 0, 0}, corpus.NewIDSet(), 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMemorySearchTopKLargerThanPool(t *testing.T) {
	s := NewMemoryStore(nil)
	seedStore(t, s)

	got, err := s.Search(context.Background(), []float32{1, 0, 0}, nil, 100)
	require.NoError(t, err)
	assert.Len(t, got, 3, "topK past the pool returns the full pool")
}

func TestMemorySearchInvalidArgs(t *testing.T) {
	s := NewMemoryStore(nil)
	seedStore(t, s)

	_, err := s.Search(context.Background(), []float32{1, 0, 0}, nil, 0)
	assert.ErrorIs(t, err, ErrInvalidTopK)

	_, err = s.Search(context.Background(), []float32{1, 0, 0}, nil, -5)
	assert.ErrorIs(t, err, ErrInvalidTopK)

	_, err = s.Search(context.Background(), nil, nil, 3)
	assert.Error(t, err)
}

func TestMemoryReplaceDocument(t *testing.T) {
	s := NewMemoryStore(nil)
	seedStore(t, s)
	require.Equal(t, 3, s.Len())

	err := s.ReplaceDocument(context.Background(), "d1", []corpus.Chunk{
		storeChunk("a2", "d1", "alpha rewritten"),
	}, [][]float32{{0, 0, 1}})
	require.NoError(t, err)
	assert.Equal(t, 2, s.Len())

	got, err := s.Search(context.Background(), []float32{0, 0, 1}, nil, 10)
	require.NoError(t, err)
	ids := make([]string, len(got))
	for i, c := range got {
		ids[i] = c.Chunk.ID
	}
	assert.NotContains(t, ids, "a")
	assert.NotContains(t, ids, "b")
	assert.Contains(t, ids, "a2")
}

func TestMemoryReplaceDocumentVectorMismatch(t *testing.T) {
	s := NewMemoryStore(nil)
	err := s.ReplaceDocument(context.Background(), "d1",
		[]corpus.Chunk{storeChunk("a", "d1", "x")},
		[][]float32{{1, 0}, {0, 1}},
	)
	assert.ErrorIs(t, err, ErrVectorCountMismatch)
}

func TestMemoryRemoveDocument(t *testing.T) {
	s := NewMemoryStore(nil)
	seedStore(t, s)

	require.NoError(t, s.RemoveDocument(context.Background(), "d1"))
	assert.Equal(t, 1, s.Len())

	require.NoError(t, s.RemoveDocument(context.Background(), "missing"))
	assert.Equal(t, 1, s.Len())
}

// Searches racing a replace must see either all old chunks or all new ones
// for the document, never a mix.
func TestMemoryConcurrentSearchDuringReplace(t *testing.T) {
	s := NewMemoryStore(nil)
	writeGen := func(gen int) {
		chunks := make([]corpus.Chunk, 3)
		vectors := make([][]float32, 3)
		for i := range chunks {
			chunks[i] = storeChunk(fmt.Sprintf("g%d-c%d", gen, i), "d1", "s")
			vectors[i] = []float32{1, float32(i)}
		}
		require.NoError(t, s.ReplaceDocument(context.Background(), "d1", chunks, vectors))
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
				got, err := s.Search(context.Background(), []float32{1, 0}, nil, 10)
				assert.NoError(t, err)
				assert.Len(t, got, 3, "a search saw a partially replaced document")
				gen := strings.SplitN(got[0].Chunk.ID, "-", 2)[0]
				for _, c := range got {
					assert.Equal(t, gen, strings.SplitN(c.Chunk.ID, "-", 2)[0], "mixed generations in one search")
				}
			}
		}()
	}
	wg.Wait()
}

func TestFactoryUnknownBackend(t *testing.T) {
	_, err := NewStore(context.Background(), Config{Backend: "etcd"}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestFactoryMemory(t *testing.T) {
	s, err := NewStore(context.Background(), Config{Backend: BackendMemory}, nil)
	require.NoError(t, err)
	defer s.Close()
	_, ok := s.(*MemoryStore)
	assert.True(t, ok)
}
