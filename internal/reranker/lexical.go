package reranker

import (
	"context"
	"sort"
	"strings"

	"github.com/fyrsmithlabs/retrievd/internal/vectorstore"
)

// LexicalReranker is a dependency-free cross-scorer. It reads the query and
// each chunk text together and scores signals vector similarity misses:
// exact phrase matches, keyword frequency, and keyword density. It is the
// default backend and the fallback when no model server is configured.
type LexicalReranker struct{}

// NewLexicalReranker creates a LexicalReranker.
func NewLexicalReranker() *LexicalReranker {
	return &LexicalReranker{}
}

// Rerank implements Reranker.
func (r *LexicalReranker) Rerank(ctx context.Context, query string, candidates []vectorstore.Candidate, topK int) ([]Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	results := make([]Result, len(candidates))
	for i, c := range candidates {
		results[i] = Result{
			Chunk:        c,
			Score:        crossScore(query, c.Chunk.Text()),
			OriginalRank: i,
		}
	}

	// Stable sort keeps pre-rerank order on equal scores.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Close implements Reranker.
func (r *LexicalReranker) Close() error {
	return nil
}

// crossScore scores query-document relevance from lexical signals.
//
// Contiguous query sub-phrases found in the document score 2 points per word,
// so longer matches dominate. Individual keywords (longer than 3 runes) add
// half a point per occurrence. A density bonus keeps a short focused chunk
// ahead of a long chunk that mentions the terms once.
func crossScore(query, doc string) float64 {
	queryLower := strings.ToLower(query)
	docLower := strings.ToLower(doc)

	words := strings.Fields(queryLower)
	if len(words) == 0 || len(docLower) == 0 {
		return 0
	}

	var score float64
	for i := 0; i < len(words); i++ {
		for j := i + 1; j <= len(words); j++ {
			phrase := strings.Join(words[i:j], " ")
			if strings.Contains(docLower, phrase) {
				score += 2 * float64(j-i)
			}
		}
	}

	for _, w := range words {
		if len(w) > 3 {
			score += 0.5 * float64(strings.Count(docLower, w))
		}
	}

	density := score / (float64(len(docLower)) / 100)
	return score * (1 + density*0.1)
}
