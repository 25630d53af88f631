// Package main implements the retrievd CLI: indexing documents into the
// configured vector store and running retrieval queries against them.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/retrievd/internal/config"
	"github.com/fyrsmithlabs/retrievd/internal/corpus"
	"github.com/fyrsmithlabs/retrievd/internal/decompose"
	"github.com/fyrsmithlabs/retrievd/internal/embeddings"
	"github.com/fyrsmithlabs/retrievd/internal/genai"
	"github.com/fyrsmithlabs/retrievd/internal/hyde"
	"github.com/fyrsmithlabs/retrievd/internal/index"
	"github.com/fyrsmithlabs/retrievd/internal/logging"
	"github.com/fyrsmithlabs/retrievd/internal/metaindex"
	"github.com/fyrsmithlabs/retrievd/internal/pipeline"
	"github.com/fyrsmithlabs/retrievd/internal/predicate"
	"github.com/fyrsmithlabs/retrievd/internal/reranker"
	"github.com/fyrsmithlabs/retrievd/internal/segment"
	"github.com/fyrsmithlabs/retrievd/internal/vectorstore"
)

var (
	configPath string
	version    = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "retrievd",
	Short: "Two-stage semantic retrieval over your documents",
	Long: `retrievd indexes documents into semantically coherent chunks and answers
queries with two-stage retrieval: metadata-filtered vector search followed by
cross-scorer re-ranking.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var (
	indexMeta []string

	queryTopK    int
	queryFilter  []string
	queryDocs    string
	useHyp       bool
	useDecomp    bool
	useRerank    bool
	expandParent bool
	outputJSON   bool
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file path (default ~/.config/retrievd/config.yaml)")

	indexCmd.Flags().StringArrayVar(&indexMeta, "meta", nil, "metadata attached to every document, key=value (repeatable)")
	rootCmd.AddCommand(indexCmd)

	queryCmd.Flags().IntVar(&queryTopK, "top-k", 0, "result count (0 uses the configured default)")
	queryCmd.Flags().StringArrayVar(&queryFilter, "filter", nil, "metadata equality filter, key=value (repeatable, ANDed)")
	queryCmd.Flags().StringVar(&queryDocs, "docs", "", "index this file or directory before querying")
	queryCmd.Flags().BoolVar(&useHyp, "hypothesis", false, "embed a generated hypothesis instead of the raw question")
	queryCmd.Flags().BoolVar(&useDecomp, "decompose", false, "split compound queries into sub-queries")
	queryCmd.Flags().BoolVar(&useRerank, "rerank", true, "re-rank the candidate pool")
	queryCmd.Flags().BoolVar(&expandParent, "expand", false, "attach neighboring chunks as context")
	queryCmd.Flags().BoolVar(&outputJSON, "json", false, "emit results as JSON")
	rootCmd.AddCommand(queryCmd)
}

var indexCmd = &cobra.Command{
	Use:   "index <path>...",
	Short: "Index documents into the configured vector store",
	Long: `Index text or markdown files. Each file becomes one document whose ID is
its base name.

Examples:
  retrievd index docs/
  retrievd index guide.md --meta version=v2 --meta lang=en`,
	Args: cobra.MinimumNArgs(1),
	RunE: runIndex,
}

var queryCmd = &cobra.Command{
	Use:   "query <text>",
	Short: "Retrieve the most relevant chunks for a query",
	Long: `Run the retrieval pipeline for a query.

Examples:
  retrievd query "how does semantic chunking work" --docs docs/
  retrievd query "asyncio vs threading" --decompose --filter lang=en`,
	Args: cobra.ExactArgs(1),
	RunE: runQuery,
}

// stack is the assembled retrieval system.
type stack struct {
	cfg       *config.Config
	logger    *zap.Logger
	embedder  embeddings.Provider
	store     vectorstore.Store
	meta      *metaindex.Index
	indexer   *index.Indexer
	retriever *pipeline.Retriever
}

func buildStack(ctx context.Context) (*stack, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logger, err := logging.NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	embedder, err := embeddings.NewProvider(cfg.Embeddings)
	if err != nil {
		return nil, fmt.Errorf("creating embedding provider: %w", err)
	}
	if cfg.VectorStore.Backend == vectorstore.BackendQdrant && cfg.VectorStore.Qdrant.Dimension == 0 {
		cfg.VectorStore.Qdrant.Dimension = embedder.Dimension()
	}
	store, err := vectorstore.NewStore(ctx, cfg.VectorStore, logger)
	if err != nil {
		return nil, fmt.Errorf("creating vector store: %w", err)
	}

	meta := metaindex.New()
	indexer, err := index.New(segment.NewSegmenter(embedder, logger), embedder, store, meta, cfg.Index, logger)
	if err != nil {
		return nil, err
	}

	deps := pipeline.Deps{
		Embedder: embedder,
		Meta:     meta,
		Store:    store,
		Parents:  indexer,
	}
	if cfg.Generation.Enabled {
		llm, err := genai.New(cfg.Generation.LLM)
		if err != nil {
			return nil, fmt.Errorf("creating generator: %w", err)
		}
		deps.Hypothesis = hyde.NewGenerator(llm, logger)
		deps.Decomposer = decompose.NewDecomposer(llm, logger)
	}
	rr, err := reranker.New(cfg.Reranker, logger)
	if err != nil {
		return nil, fmt.Errorf("creating reranker: %w", err)
	}
	deps.Reranker = rr

	retriever, err := pipeline.New(deps, cfg.Pipeline, logger)
	if err != nil {
		return nil, err
	}
	return &stack{
		cfg:       cfg,
		logger:    logger,
		embedder:  embedder,
		store:     store,
		meta:      meta,
		indexer:   indexer,
		retriever: retriever,
	}, nil
}

func (s *stack) close() {
	_ = s.store.Close()
	_ = s.embedder.Close()
	_ = s.logger.Sync()
}

func runIndex(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := buildStack(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	meta, err := parseKeyValues(indexMeta)
	if err != nil {
		return err
	}

	total := index.Stats{}
	for _, path := range args {
		n, err := indexPath(ctx, s.indexer, path, meta, &total)
		if err != nil {
			return err
		}
		fmt.Printf("indexed %d document(s) from %s\n", n, path)
	}
	fmt.Printf("total: %d chunks, %.1f sentences/chunk, %.0f chars/chunk\n",
		total.Chunks, total.AvgSentencesPerChunk, total.AvgCharsPerChunk)
	return nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	s, err := buildStack(ctx)
	if err != nil {
		return err
	}
	defer s.close()

	if queryDocs != "" {
		if _, err := indexPath(ctx, s.indexer, queryDocs, nil, nil); err != nil {
			return err
		}
	}

	filter, err := buildFilter(queryFilter)
	if err != nil {
		return err
	}

	opts := s.cfg.Pipeline.DefaultOptions()
	setIfChanged(cmd, "hypothesis", &opts.UseHypothesis, useHyp)
	setIfChanged(cmd, "decompose", &opts.UseDecomposition, useDecomp)
	setIfChanged(cmd, "rerank", &opts.UseReranking, useRerank)
	setIfChanged(cmd, "expand", &opts.ExpandParents, expandParent)

	res, err := s.retriever.Retrieve(ctx, pipeline.Query{
		Text:   args[0],
		Filter: filter,
		TopK:   queryTopK,
	}, opts)
	if err != nil {
		return err
	}

	if outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	printResult(res)
	return nil
}

func printResult(res pipeline.Result) {
	fmt.Printf("status: %s\n", res.Status)
	for _, r := range res.Reasons {
		if r.SubQuery >= 0 {
			fmt.Printf("  degraded: %s (sub-query %d)\n", r.Code, r.SubQuery)
		} else {
			fmt.Printf("  degraded: %s\n", r.Code)
		}
	}
	if len(res.Results) == 0 {
		fmt.Println("no results")
		return
	}
	for i, r := range res.Results {
		fmt.Printf("\n%d. [%.4f] %s (chunk %d)\n", i+1, r.Score, r.Chunk.DocumentID, r.Chunk.Index)
		fmt.Printf("   %s\n", r.Chunk.Text())
		if r.Context != "" {
			fmt.Printf("   context: %s\n", r.Context)
		}
	}
}

// indexPath indexes a file, or every .txt/.md file in a directory tree. The
// document ID is the file's base name.
func indexPath(ctx context.Context, ix *index.Indexer, path string, meta map[string]any, total *index.Stats) (int, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}

	var files []string
	if info.IsDir() {
		err := filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			switch strings.ToLower(filepath.Ext(p)) {
			case ".txt", ".md", ".markdown":
				files = append(files, p)
			}
			return nil
		})
		if err != nil {
			return 0, err
		}
	} else {
		files = []string{path}
	}

	for _, f := range files {
		text, err := os.ReadFile(f)
		if err != nil {
			return 0, err
		}
		stats, err := ix.IndexDocument(ctx, corpus.Document{
			ID:       filepath.Base(f),
			Text:     string(text),
			Metadata: meta,
		})
		if err != nil {
			return 0, fmt.Errorf("indexing %s: %w", f, err)
		}
		if total != nil {
			total.Chunks += stats.Chunks
			total.Sentences += stats.Sentences
		}
	}
	if total != nil && total.Chunks > 0 {
		agg := ix.Stats()
		total.AvgSentencesPerChunk = agg.AvgSentencesPerChunk
		total.AvgCharsPerChunk = agg.AvgCharsPerChunk
	}
	return len(files), nil
}

// parseKeyValues parses repeated key=value flags into metadata.
func parseKeyValues(pairs []string) (map[string]any, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	meta := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid key=value pair %q", p)
		}
		meta[k] = v
	}
	return meta, nil
}

// buildFilter turns key=value pairs into an ANDed equality predicate.
func buildFilter(pairs []string) (predicate.Expr, error) {
	if len(pairs) == 0 {
		return nil, nil
	}
	exprs := make([]predicate.Expr, 0, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid filter %q", p)
		}
		exprs = append(exprs, predicate.Eq(k, v))
	}
	if len(exprs) == 1 {
		return exprs[0], nil
	}
	return predicate.AllOf(exprs...), nil
}

// setIfChanged applies a flag value only when the user set it explicitly, so
// config-file defaults survive unflagged invocations.
func setIfChanged(cmd *cobra.Command, name string, dst *bool, val bool) {
	if cmd.Flags().Changed(name) {
		*dst = val
	}
}
