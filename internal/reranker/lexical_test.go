package reranker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/retrievd/internal/corpus"
	"github.com/fyrsmithlabs/retrievd/internal/vectorstore"
)

func candidate(id, text string, similarity float32) vectorstore.Candidate {
	return vectorstore.Candidate{
		Chunk: corpus.Chunk{
			ID:            id,
			Sentences:     []string{text},
			SentenceCount: 1,
			CharCount:     len(text),
		},
		Similarity: similarity,
	}
}

// The final ordering must come from re-rank scores alone: candidates enter in
// descending similarity order, but a lexically stronger match further down
// the pool must come out on top.
func TestLexicalRerankOrdersByRerankScoreOnly(t *testing.T) {
	r := NewLexicalReranker()

	candidates := []vectorstore.Candidate{
		candidate("A", "vector search basics for beginners", 0.9),
		candidate("B", "general text about embeddings here", 0.8),
		candidate("C", "unrelated cooking recipes and tips", 0.7),
		candidate("D", "vector search index speeds lookups", 0.6),
		candidate("E", "an index of vector types listed", 0.5),
	}

	got, err := r.Rerank(context.Background(), "vector search index", candidates, 5)
	require.NoError(t, err)
	require.Len(t, got, 5)

	ids := make([]string, len(got))
	for i, res := range got {
		ids[i] = res.Chunk.Chunk.ID
	}
	assert.Equal(t, []string{"D", "A", "E", "B", "C"}, ids)

	for i := 1; i < len(got); i++ {
		assert.GreaterOrEqual(t, got[i-1].Score, got[i].Score)
	}
}

// Equal scores keep the pre-rerank order.
func TestLexicalRerankTieKeepsOriginalOrder(t *testing.T) {
	r := NewLexicalReranker()

	candidates := []vectorstore.Candidate{
		candidate("first", "nothing relevant here at all", 0.9),
		candidate("second", "equally irrelevant content too", 0.8),
	}

	got, err := r.Rerank(context.Background(), "quantum chromodynamics", candidates, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Chunk.Chunk.ID)
	assert.Equal(t, "second", got[1].Chunk.Chunk.ID)
	assert.Equal(t, 0, got[0].OriginalRank)
	assert.Equal(t, 1, got[1].OriginalRank)
}

func TestLexicalRerankTruncatesToTopK(t *testing.T) {
	r := NewLexicalReranker()

	candidates := []vectorstore.Candidate{
		candidate("a", "retry logic", 0.9),
		candidate("b", "retry retry retry logic logic", 0.8),
		candidate("c", "nothing", 0.7),
	}

	got, err := r.Rerank(context.Background(), "retry logic", candidates, 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)
}

func TestLexicalRerankEmptyPool(t *testing.T) {
	r := NewLexicalReranker()
	got, err := r.Rerank(context.Background(), "anything", nil, 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestLexicalRerankPhraseBeatsScatteredTerms(t *testing.T) {
	r := NewLexicalReranker()

	candidates := []vectorstore.Candidate{
		candidate("scattered", "handling of an error within retry", 0.9),
		candidate("phrase", "error handling done with retries", 0.5),
	}

	got, err := r.Rerank(context.Background(), "error handling", candidates, 2)
	require.NoError(t, err)
	assert.Equal(t, "phrase", got[0].Chunk.Chunk.ID)
}

func TestTEIReranker(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		require.Equal(t, "/rerank", req.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		// Second text is most relevant.
		_, _ = w.Write([]byte(`[{"index":1,"score":0.95},{"index":0,"score":0.10}]`))
	}))
	defer srv.Close()

	r := NewTEIReranker(srv.URL, nil)
	defer r.Close()

	candidates := []vectorstore.Candidate{
		candidate("a", "first text", 0.9),
		candidate("b", "second text", 0.8),
	}
	got, err := r.Rerank(context.Background(), "query", candidates, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "b", got[0].Chunk.Chunk.ID)
	assert.InDelta(t, 0.95, got[0].Score, 1e-9)
	assert.Equal(t, 1, got[0].OriginalRank)
}

func TestTEIRerankerServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	r := NewTEIReranker(srv.URL, nil)
	_, err := r.Rerank(context.Background(), "query", []vectorstore.Candidate{candidate("a", "x", 0.5)}, 1)
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestNewValidatesConfig(t *testing.T) {
	_, err := New(Config{Provider: "bert"}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(Config{Provider: ProviderTEI}, nil)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	r, err := New(Config{}, nil)
	require.NoError(t, err)
	_, ok := r.(*LexicalReranker)
	assert.True(t, ok)
}
