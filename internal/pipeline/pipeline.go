// Package pipeline orchestrates two-stage retrieval: metadata filtering and
// vector search gather candidates fast, re-ranking orders them precisely.
//
// The pipeline never fails on a dependency: every optional stage has a
// documented fallback, and the caller always receives a results list plus a
// status describing what degraded. Only input errors are fatal.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/retrievd/internal/corpus"
	"github.com/fyrsmithlabs/retrievd/internal/decompose"
	"github.com/fyrsmithlabs/retrievd/internal/embeddings"
	"github.com/fyrsmithlabs/retrievd/internal/metaindex"
	"github.com/fyrsmithlabs/retrievd/internal/predicate"
	"github.com/fyrsmithlabs/retrievd/internal/reranker"
	"github.com/fyrsmithlabs/retrievd/internal/vectorstore"
)

var tracer = otel.Tracer("retrievd.pipeline")

var (
	// ErrEmptyQuery indicates an empty query text.
	ErrEmptyQuery = errors.New("pipeline: empty query text")

	// ErrInvalidTopK indicates a negative result-count request.
	ErrInvalidTopK = errors.New("pipeline: top_k must not be negative")
)

// Merge strategy names accepted by Config.Merge.
const (
	MergeMax = "max"
	MergeRRF = "rrf"
)

// Query is one retrieval request. Queries are ephemeral, constructed per
// call and never persisted.
type Query struct {
	// Text is the raw query text.
	Text string

	// Filter optionally restricts retrieval to chunks whose metadata
	// satisfies the predicate. Nil means unrestricted.
	Filter predicate.Expr

	// TopK is the requested result count. Zero selects the configured
	// default; negative is an input error.
	TopK int
}

// Options toggles the optional pipeline stages. Read once at the start of
// Retrieve; each stage is a single conditional call site.
type Options struct {
	// UseHypothesis embeds a generated declarative hypothesis instead of
	// the raw question.
	UseHypothesis bool

	// UseDecomposition splits compound queries into sub-queries retrieved
	// concurrently.
	UseDecomposition bool

	// UseReranking orders the merged pool by cross-scorer relevance.
	UseReranking bool

	// ExpandParents attaches neighboring sibling chunks as context to
	// each result.
	ExpandParents bool
}

// Status classifies a retrieval outcome.
type Status string

const (
	// StatusNormal means every requested stage ran as configured.
	StatusNormal Status = "normal"

	// StatusDegraded means one or more optional stages fell back to a
	// simpler behavior; Reasons carries the specifics.
	StatusDegraded Status = "degraded"
)

// ReasonCode identifies which stage degraded.
type ReasonCode string

const (
	ReasonHypothesisUnavailable    ReasonCode = "hypothesis_unavailable"
	ReasonDecompositionUnavailable ReasonCode = "decomposition_unavailable"
	ReasonRerankUnavailable        ReasonCode = "rerank_unavailable"
	ReasonSubQueryFailed           ReasonCode = "subquery_failed"
	ReasonPartialTimeout           ReasonCode = "partial_timeout"
)

// Reason describes one degradation. SubQuery is the provenance index of the
// affected sub-query, or -1 when the degradation is not sub-query specific.
type Reason struct {
	Code     ReasonCode
	SubQuery int
}

// RankedResult is one retrieved chunk in final order.
type RankedResult struct {
	Chunk corpus.Chunk

	// Score is the re-rank score when re-ranking ran; without re-ranking
	// (or under its fallback) it carries the vector similarity instead.
	Score float64

	// Similarity is the best vector similarity observed for the chunk
	// across sub-queries.
	Similarity float32

	// Context holds the neighboring sibling chunks' text when parent
	// expansion is enabled, empty otherwise.
	Context string
}

// Result is the terminal output of a retrieval call. The results list may be
// empty; that is a valid outcome, not a fault.
type Result struct {
	Results []RankedResult
	Status  Status
	Reasons []Reason
}

// HypothesisGenerator produces a declarative hypothesis for a question.
type HypothesisGenerator interface {
	Generate(ctx context.Context, query string) (string, error)
}

// QueryDecomposer splits a compound query into sub-queries.
type QueryDecomposer interface {
	Decompose(ctx context.Context, query string) ([]decompose.SubQuery, error)
}

// ParentLookup resolves a document's current chunk set, for parent-context
// expansion.
type ParentLookup interface {
	DocumentChunks(docID string) []corpus.Chunk
}

// Config holds pipeline configuration.
type Config struct {
	// TopK is the default result count. Default: 5
	TopK int `koanf:"top_k"`

	// CandidateMultiplier sizes the stage-one pool: vector search fetches
	// TopK * CandidateMultiplier candidates per sub-query so re-ranking
	// has room to promote. Default: 4
	CandidateMultiplier int `koanf:"candidate_multiplier"`

	// Timeout bounds the whole retrieval call. On expiry, still-pending
	// sub-queries are cancelled and merging proceeds with partial
	// results. Default: 10s
	Timeout time.Duration `koanf:"timeout"`

	// Merge selects cross-sub-query aggregation: "max" keeps the highest
	// similarity per chunk, "rrf" uses reciprocal-rank fusion.
	// Default: "max"
	Merge string `koanf:"merge"`

	// RRFK is the rank constant for reciprocal-rank fusion. Default: 60
	RRFK int `koanf:"rrf_k"`

	// Stage toggles applied when the caller passes no explicit options.
	UseHypothesis    bool `koanf:"use_hypothesis"`
	UseDecomposition bool `koanf:"use_decomposition"`
	UseReranking     bool `koanf:"use_reranking"`
	ExpandParents    bool `koanf:"expand_parents"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.TopK == 0 {
		c.TopK = 5
	}
	if c.CandidateMultiplier == 0 {
		c.CandidateMultiplier = 4
	}
	if c.Timeout == 0 {
		c.Timeout = 10 * time.Second
	}
	if c.Merge == "" {
		c.Merge = MergeMax
	}
	if c.RRFK == 0 {
		c.RRFK = 60
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.TopK < 0 {
		return fmt.Errorf("top_k must not be negative, got %d", c.TopK)
	}
	if c.CandidateMultiplier < 1 {
		return fmt.Errorf("candidate_multiplier must be at least 1, got %d", c.CandidateMultiplier)
	}
	if c.Merge != MergeMax && c.Merge != MergeRRF {
		return fmt.Errorf("unknown merge strategy %q", c.Merge)
	}
	return nil
}

// DefaultOptions returns the configured stage toggles.
func (c Config) DefaultOptions() Options {
	return Options{
		UseHypothesis:    c.UseHypothesis,
		UseDecomposition: c.UseDecomposition,
		UseReranking:     c.UseReranking,
		ExpandParents:    c.ExpandParents,
	}
}

// Deps bundles the pipeline's collaborators. Embedder, Meta, and Store are
// required; the rest are optional and their stages are skipped when absent.
type Deps struct {
	Embedder   embeddings.Embedder
	Meta       *metaindex.Index
	Store      vectorstore.Store
	Hypothesis HypothesisGenerator
	Decomposer QueryDecomposer
	Reranker   reranker.Reranker
	Parents    ParentLookup
	Metrics    *Metrics
}

// Retriever runs the retrieval pipeline.
type Retriever struct {
	deps    Deps
	config  Config
	logger  *zap.Logger
	metrics *Metrics
}

// New creates a Retriever.
func New(deps Deps, cfg Config, logger *zap.Logger) (*Retriever, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if deps.Embedder == nil || deps.Meta == nil || deps.Store == nil {
		return nil, errors.New("pipeline: embedder, metadata index, and vector store are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	metrics := deps.Metrics
	if metrics == nil {
		metrics = NewMetrics(nil)
	}
	return &Retriever{deps: deps, config: cfg, logger: logger, metrics: metrics}, nil
}

// subResult is one sub-query's contribution to the merge barrier.
type subResult struct {
	provenance int
	candidates []vectorstore.Candidate
	reasons    []Reason
}

// Retrieve runs the pipeline for one query.
//
// Input errors (empty text, negative top_k, malformed predicate) are returned
// as errors. Everything else degrades: the returned Result always carries a
// results list, possibly empty, plus the status annotation.
func (r *Retriever) Retrieve(ctx context.Context, q Query, opts Options) (Result, error) {
	ctx, span := tracer.Start(ctx, "Retriever.Retrieve")
	defer span.End()
	start := time.Now()

	if strings.TrimSpace(q.Text) == "" {
		return Result{}, ErrEmptyQuery
	}
	if q.TopK < 0 {
		return Result{}, fmt.Errorf("%w: got %d", ErrInvalidTopK, q.TopK)
	}
	topK := q.TopK
	if topK == 0 {
		topK = r.config.TopK
	}

	// Filtering runs before vector search so hard constraints are never
	// violated by approximate ranking.
	restriction, err := r.deps.Meta.Filter(q.Filter)
	if err != nil {
		return Result{}, fmt.Errorf("evaluating metadata filter: %w", err)
	}
	if restriction != nil && restriction.Len() == 0 {
		// Valid zero-result outcome, not a fault.
		res := Result{Results: []RankedResult{}, Status: StatusNormal}
		r.observe(res, start)
		return res, nil
	}

	var reasons []Reason

	subs := []decompose.SubQuery{{Text: q.Text, Provenance: 0}}
	if opts.UseDecomposition && r.deps.Decomposer != nil {
		decomposed, err := r.deps.Decomposer.Decompose(ctx, q.Text)
		if err != nil {
			reasons = append(reasons, Reason{Code: ReasonDecompositionUnavailable, SubQuery: -1})
			r.logger.Warn("decomposition failed, using original query", zap.Error(err))
		} else {
			subs = decomposed
		}
	}

	poolK := topK * r.config.CandidateMultiplier

	ctx, cancel := context.WithTimeout(ctx, r.config.Timeout)
	defer cancel()

	// Sub-query retrievals share no mutable state; run them concurrently
	// and meet at the merge barrier.
	resCh := make(chan subResult, len(subs))
	var wg sync.WaitGroup
	for _, sq := range subs {
		wg.Add(1)
		go func(sq decompose.SubQuery) {
			defer wg.Done()
			resCh <- r.retrieveSub(ctx, sq, opts, restriction, poolK)
		}(sq)
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		// Merge whatever already arrived; partial beats total failure.
		reasons = append(reasons, Reason{Code: ReasonPartialTimeout, SubQuery: -1})
		r.logger.Warn("retrieval timeout, merging partial results",
			zap.Duration("timeout", r.config.Timeout),
		)
	}

	perSub := map[int][]vectorstore.Candidate{}
drain:
	for {
		select {
		case sr := <-resCh:
			perSub[sr.provenance] = sr.candidates
			reasons = append(reasons, sr.reasons...)
		default:
			break drain
		}
	}

	merged := r.merge(subs, perSub)

	// The pool is final even when the deadline fired; the expired context
	// must not fail re-ranking of the partial results.
	orderCtx := ctx
	if ctx.Err() != nil {
		orderCtx = context.WithoutCancel(ctx)
	}
	results, rerankReasons := r.order(orderCtx, q.Text, merged, opts, topK)
	reasons = append(reasons, rerankReasons...)

	if opts.ExpandParents && r.deps.Parents != nil {
		for i := range results {
			results[i].Context = r.parentContext(results[i].Chunk)
		}
	}

	res := Result{Results: results, Status: StatusNormal, Reasons: reasons}
	if len(reasons) > 0 {
		res.Status = StatusDegraded
	}

	span.SetAttributes(
		attribute.Int("sub_queries", len(subs)),
		attribute.Int("results", len(results)),
		attribute.String("status", string(res.Status)),
	)
	r.observe(res, start)
	return res, nil
}

// retrieveSub runs one sub-query's hypothesis, embedding, and search stages.
func (r *Retriever) retrieveSub(ctx context.Context, sq decompose.SubQuery, opts Options, restriction corpus.IDSet, poolK int) subResult {
	sr := subResult{provenance: sq.Provenance}

	embedText := sq.Text
	if opts.UseHypothesis && r.deps.Hypothesis != nil {
		hypothesis, err := r.deps.Hypothesis.Generate(ctx, sq.Text)
		if err != nil {
			// Required fallback: embed the raw query instead.
			sr.reasons = append(sr.reasons, Reason{Code: ReasonHypothesisUnavailable, SubQuery: sq.Provenance})
			r.logger.Warn("hypothesis generation failed, embedding raw query",
				zap.Int("sub_query", sq.Provenance),
				zap.Error(err),
			)
		} else {
			embedText = hypothesis
		}
	}

	vector, err := r.deps.Embedder.EmbedQuery(ctx, embedText)
	if err != nil && embedText != sq.Text {
		// The hypothesis embedded badly; the raw query may still work.
		sr.reasons = append(sr.reasons, Reason{Code: ReasonHypothesisUnavailable, SubQuery: sq.Provenance})
		vector, err = r.deps.Embedder.EmbedQuery(ctx, sq.Text)
	}
	if err != nil {
		sr.reasons = append(sr.reasons, Reason{Code: ReasonSubQueryFailed, SubQuery: sq.Provenance})
		r.logger.Warn("sub-query embedding failed",
			zap.Int("sub_query", sq.Provenance),
			zap.Error(err),
		)
		return sr
	}

	candidates, err := r.deps.Store.Search(ctx, vector, restriction, poolK)
	if err != nil {
		sr.reasons = append(sr.reasons, Reason{Code: ReasonSubQueryFailed, SubQuery: sq.Provenance})
		r.logger.Warn("sub-query search failed",
			zap.Int("sub_query", sq.Provenance),
			zap.Error(err),
		)
		return sr
	}

	sr.candidates = candidates
	return sr
}

// merge deduplicates candidates across sub-queries by chunk identity and
// orders the pool by the configured aggregation.
func (r *Retriever) merge(subs []decompose.SubQuery, perSub map[int][]vectorstore.Candidate) []vectorstore.Candidate {
	if r.config.Merge == MergeRRF {
		return r.mergeRRF(subs, perSub)
	}
	return r.mergeMax(subs, perSub)
}

// mergeMax keeps the highest similarity observed per chunk. Sub-queries are
// visited in provenance order so ties stay deterministic.
func (r *Retriever) mergeMax(subs []decompose.SubQuery, perSub map[int][]vectorstore.Candidate) []vectorstore.Candidate {
	var pool []vectorstore.Candidate
	index := map[string]int{}
	for _, sq := range subs {
		for _, c := range perSub[sq.Provenance] {
			if i, seen := index[c.Chunk.ID]; seen {
				if c.Similarity > pool[i].Similarity {
					pool[i].Similarity = c.Similarity
				}
				continue
			}
			index[c.Chunk.ID] = len(pool)
			pool = append(pool, c)
		}
	}
	sort.SliceStable(pool, func(i, j int) bool {
		return pool[i].Similarity > pool[j].Similarity
	})
	return pool
}

// mergeRRF orders the deduplicated pool by reciprocal-rank fusion while
// still carrying the best similarity per chunk for observability.
func (r *Retriever) mergeRRF(subs []decompose.SubQuery, perSub map[int][]vectorstore.Candidate) []vectorstore.Candidate {
	var pool []vectorstore.Candidate
	index := map[string]int{}
	fused := map[string]float64{}
	for _, sq := range subs {
		for rank, c := range perSub[sq.Provenance] {
			fused[c.Chunk.ID] += 1 / float64(r.config.RRFK+rank+1)
			if i, seen := index[c.Chunk.ID]; seen {
				if c.Similarity > pool[i].Similarity {
					pool[i].Similarity = c.Similarity
				}
				continue
			}
			index[c.Chunk.ID] = len(pool)
			pool = append(pool, c)
		}
	}
	sort.SliceStable(pool, func(i, j int) bool {
		return fused[pool[i].Chunk.ID] > fused[pool[j].Chunk.ID]
	})
	return pool
}

// order applies re-ranking (or its fallback) and truncates to topK.
func (r *Retriever) order(ctx context.Context, query string, pool []vectorstore.Candidate, opts Options, topK int) ([]RankedResult, []Reason) {
	if opts.UseReranking && r.deps.Reranker != nil {
		ranked, err := r.deps.Reranker.Rerank(ctx, query, pool, topK)
		if err == nil {
			results := make([]RankedResult, len(ranked))
			for i, res := range ranked {
				results[i] = RankedResult{
					Chunk:      res.Chunk.Chunk,
					Score:      res.Score,
					Similarity: res.Chunk.Similarity,
				}
			}
			return results, nil
		}
		// Unranked fallback: keep the vector-search ordering, never drop
		// results.
		r.logger.Warn("re-ranking failed, keeping vector-search order", zap.Error(err))
		results := similarityResults(pool, topK)
		return results, []Reason{{Code: ReasonRerankUnavailable, SubQuery: -1}}
	}
	return similarityResults(pool, topK), nil
}

// similarityResults converts a similarity-ordered pool into results.
func similarityResults(pool []vectorstore.Candidate, topK int) []RankedResult {
	if len(pool) > topK {
		pool = pool[:topK]
	}
	results := make([]RankedResult, len(pool))
	for i, c := range pool {
		results[i] = RankedResult{
			Chunk:      c.Chunk,
			Score:      float64(c.Similarity),
			Similarity: c.Similarity,
		}
	}
	return results
}

// parentContext joins the text of the chunks adjacent to c in its document.
func (r *Retriever) parentContext(c corpus.Chunk) string {
	siblings := r.deps.Parents.DocumentChunks(c.DocumentID)
	var parts []string
	for _, s := range siblings {
		if s.Index == c.Index-1 || s.Index == c.Index+1 {
			parts = append(parts, s.Text())
		}
	}
	return strings.Join(parts, " ")
}

func (r *Retriever) observe(res Result, start time.Time) {
	r.metrics.retrievals.WithLabelValues(string(res.Status)).Inc()
	for _, reason := range res.Reasons {
		r.metrics.degradations.WithLabelValues(string(reason.Code)).Inc()
	}
	r.metrics.duration.Observe(time.Since(start).Seconds())
	r.metrics.results.Observe(float64(len(res.Results)))
}
