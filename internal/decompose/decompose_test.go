package decompose

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/retrievd/internal/genai"
)

type stubLLM struct {
	out string
	err error
}

func (s stubLLM) Generate(_ context.Context, _ string) (string, error) {
	return s.out, s.err
}

func TestShouldDecompose(t *testing.T) {
	tests := []struct {
		query string
		want  bool
	}{
		{"What is RAG?", false},
		{"Explain semantic chunking", false},
		{"Compare asyncio vs threading for performance", true},
		{"asyncio versus threading", true},
		{"What is the difference between HNSW and IVF indexes?", true},
		{"What are the benefits and drawbacks of RAG systems?", true},
		{"What is chunking? How does it help?", true},
		{"What is chunking and how does it affect retrieval quality", true},
		{"whatever happened to showing results", false},
	}

	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldDecompose(tt.query))
		})
	}
}

func TestDecomposeSimpleQueryPassesThrough(t *testing.T) {
	// The stub would return sub-questions, but the trigger must not fire.
	d := NewDecomposer(stubLLM{out: "Q1\nQ2"}, nil)

	subs, err := d.Decompose(context.Background(), "What is RAG?")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, SubQuery{Text: "What is RAG?", Provenance: 0}, subs[0])
}

func TestDecomposeCompoundQuery(t *testing.T) {
	d := NewDecomposer(stubLLM{out: "1. What is asyncio and how does it work?\n2) What is threading and how does it work?\n- What are the key differences between asyncio and threading?"}, nil)

	subs, err := d.Decompose(context.Background(), "Compare asyncio vs threading")
	require.NoError(t, err)
	require.Len(t, subs, 3)
	for i, sub := range subs {
		assert.Equal(t, i, sub.Provenance)
		assert.NotEmpty(t, sub.Text)
		assert.NotContains(t, sub.Text, "1.", "numbering must be stripped")
	}
	assert.Equal(t, "What is asyncio and how does it work?", subs[0].Text)
}

func TestDecomposeCapsSubQueries(t *testing.T) {
	d := NewDecomposer(stubLLM{out: "a?\nb?\nc?\nd?\ne?\nf?\ng?"}, nil)

	subs, err := d.Decompose(context.Background(), "Compare a vs b")
	require.NoError(t, err)
	assert.Len(t, subs, maxSubQueries)
}

func TestDecomposeMalformedFallsBackToSingle(t *testing.T) {
	d := NewDecomposer(stubLLM{out: "only one line"}, nil)

	subs, err := d.Decompose(context.Background(), "Compare a vs b")
	require.NoError(t, err, "fewer than 2 sub-questions is not an error")
	require.Len(t, subs, 1)
	assert.Equal(t, "Compare a vs b", subs[0].Text)
}

func TestDecomposeGeneratorFailure(t *testing.T) {
	d := NewDecomposer(stubLLM{err: genai.ErrUnavailable}, nil)

	subs, err := d.Decompose(context.Background(), "Compare a vs b")
	require.Error(t, err, "caller needs the error to record degradation")
	assert.ErrorIs(t, err, genai.ErrUnavailable)
	require.Len(t, subs, 1, "fallback single sub-query must still be returned")
	assert.Equal(t, "Compare a vs b", subs[0].Text)
}

func TestDecomposeEmptyQuery(t *testing.T) {
	d := NewDecomposer(stubLLM{}, nil)

	_, err := d.Decompose(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyQuery)
}
