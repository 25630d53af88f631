package reranker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/retrievd/internal/vectorstore"
)

// TEIReranker scores candidates with a cross-encoder model served by a TEI
// (text-embeddings-inference) server's rerank endpoint.
type TEIReranker struct {
	baseURL string
	client  *http.Client
	logger  *zap.Logger
}

// NewTEIReranker creates a TEIReranker against the given server.
func NewTEIReranker(baseURL string, logger *zap.Logger) *TEIReranker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TEIReranker{baseURL: baseURL, client: &http.Client{}, logger: logger}
}

// teiRerankRequest is the request body for the TEI rerank endpoint.
type teiRerankRequest struct {
	Query    string   `json:"query"`
	Texts    []string `json:"texts"`
	Truncate bool     `json:"truncate"`
}

// teiRerankResult is one entry of the rerank response. Index refers to the
// position in the request's Texts.
type teiRerankResult struct {
	Index int     `json:"index"`
	Score float64 `json:"score"`
}

// Rerank implements Reranker.
func (r *TEIReranker) Rerank(ctx context.Context, query string, candidates []vectorstore.Candidate, topK int) ([]Result, error) {
	if len(candidates) == 0 {
		return []Result{}, nil
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = c.Chunk.Text()
	}

	body, err := json.Marshal(teiRerankRequest{Query: query, Texts: texts, Truncate: true})
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, string(respBody))
	}

	var scored []teiRerankResult
	if err := json.NewDecoder(resp.Body).Decode(&scored); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}

	scores := make([]float64, len(candidates))
	for _, s := range scored {
		if s.Index < 0 || s.Index >= len(candidates) {
			return nil, fmt.Errorf("%w: result index %d out of range", ErrUnavailable, s.Index)
		}
		scores[s.Index] = s.Score
	}

	results := make([]Result, len(candidates))
	for i, c := range candidates {
		results[i] = Result{Chunk: c, Score: scores[i], OriginalRank: i}
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Close implements Reranker.
func (r *TEIReranker) Close() error {
	return nil
}
