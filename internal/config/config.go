// Package config provides configuration loading for retrievd.
//
// Configuration is assembled from hardcoded defaults, an optional YAML file,
// and environment variables, in increasing precedence.
package config

import (
	"fmt"

	"github.com/fyrsmithlabs/retrievd/internal/embeddings"
	"github.com/fyrsmithlabs/retrievd/internal/genai"
	"github.com/fyrsmithlabs/retrievd/internal/index"
	"github.com/fyrsmithlabs/retrievd/internal/logging"
	"github.com/fyrsmithlabs/retrievd/internal/pipeline"
	"github.com/fyrsmithlabs/retrievd/internal/reranker"
	"github.com/fyrsmithlabs/retrievd/internal/vectorstore"
)

// Config holds the complete retrievd configuration.
type Config struct {
	Logging     logging.Config            `koanf:"logging"`
	Embeddings  embeddings.ProviderConfig `koanf:"embeddings"`
	VectorStore vectorstore.Config        `koanf:"vectorstore"`
	Generation  GenerationConfig          `koanf:"generation"`
	Reranker    reranker.Config           `koanf:"reranker"`
	Index       index.Config              `koanf:"index"`
	Pipeline    pipeline.Config           `koanf:"pipeline"`
}

// GenerationConfig gates the LLM-backed stages (hypothesis generation, query
// decomposition). When disabled, those stages are skipped entirely and the
// pipeline runs on embeddings alone.
type GenerationConfig struct {
	Enabled bool         `koanf:"enabled"`
	LLM     genai.Config `koanf:"llm"`
}

// ApplyDefaults fills in defaults for every section.
func (c *Config) ApplyDefaults() {
	c.Logging.ApplyDefaults()
	c.VectorStore.ApplyDefaults()
	c.Reranker.ApplyDefaults()
	c.Index.ApplyDefaults()
	c.Pipeline.ApplyDefaults()
	if c.Generation.Enabled {
		c.Generation.LLM.ApplyDefaults()
	}
}

// Validate validates every section.
func (c *Config) Validate() error {
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := c.VectorStore.Validate(); err != nil {
		return fmt.Errorf("vectorstore: %w", err)
	}
	if err := c.Reranker.Validate(); err != nil {
		return fmt.Errorf("reranker: %w", err)
	}
	if err := c.Index.Validate(); err != nil {
		return fmt.Errorf("index: %w", err)
	}
	if err := c.Pipeline.Validate(); err != nil {
		return fmt.Errorf("pipeline: %w", err)
	}
	if c.Generation.Enabled {
		if err := c.Generation.LLM.Validate(); err != nil {
			return fmt.Errorf("generation: %w", err)
		}
	}
	return nil
}
