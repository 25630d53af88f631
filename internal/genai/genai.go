// Package genai provides the generative-text provider used by query
// rewriting stages (hypothesis generation, query decomposition).
//
// The contract is deliberately small: text in, text out, plus a failure
// signal. Callers own the fallback policy; a generation failure must never
// surface to the retrieval caller as a pipeline failure.
package genai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"
)

var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("genai: invalid configuration")

	// ErrUnavailable indicates the backing model cannot be reached or
	// returned an unusable completion.
	ErrUnavailable = errors.New("genai: generation unavailable")
)

// Generator produces text from a prompt.
type Generator interface {
	// Generate returns a completion for the prompt. Implementations must
	// honor the context deadline.
	Generate(ctx context.Context, prompt string) (string, error)
}

// Config holds configuration for the LLM-backed generator.
type Config struct {
	// Provider is the backend: "openai" or "ollama".
	Provider string `koanf:"provider"`

	// Model is the model name (e.g. gpt-4o-mini, llama3).
	Model string `koanf:"model"`

	// BaseURL overrides the provider endpoint (OpenAI-compatible servers,
	// local Ollama).
	BaseURL string `koanf:"base_url"`

	// Timeout bounds a single generation call. Defaults to 15s.
	Timeout time.Duration `koanf:"timeout"`

	// RequestsPerSecond rate-limits outbound calls. 0 disables limiting.
	RequestsPerSecond float64 `koanf:"requests_per_second"`
}

// ApplyDefaults sets default values for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Provider == "" {
		c.Provider = "openai"
	}
	if c.Timeout == 0 {
		c.Timeout = 15 * time.Second
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	switch c.Provider {
	case "openai", "ollama":
	default:
		return fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, c.Provider)
	}
	if c.Provider == "ollama" && c.Model == "" {
		return fmt.Errorf("%w: ollama requires a model name", ErrInvalidConfig)
	}
	if c.RequestsPerSecond < 0 {
		return fmt.Errorf("%w: requests_per_second must be non-negative", ErrInvalidConfig)
	}
	return nil
}

// LLM is a Generator backed by a langchaingo model.
type LLM struct {
	model   llms.Model
	limiter *rate.Limiter
	timeout time.Duration
}

// New creates an LLM generator from config.
func New(cfg Config) (*LLM, error) {
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var (
		model llms.Model
		err   error
	)
	switch cfg.Provider {
	case "openai":
		opts := []openai.Option{}
		if cfg.Model != "" {
			opts = append(opts, openai.WithModel(cfg.Model))
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		model, err = openai.New(opts...)
	case "ollama":
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.BaseURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.BaseURL))
		}
		model, err = ollama.New(opts...)
	}
	if err != nil {
		return nil, fmt.Errorf("creating %s model: %w", cfg.Provider, err)
	}

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	return &LLM{model: model, limiter: limiter, timeout: cfg.Timeout}, nil
}

// Generate implements Generator.
func (l *LLM) Generate(ctx context.Context, prompt string) (string, error) {
	if l.limiter != nil {
		if err := l.limiter.Wait(ctx); err != nil {
			return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
	}

	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	out, err := llms.GenerateFromSinglePrompt(ctx, l.model, prompt)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return "", fmt.Errorf("%w: empty completion", ErrUnavailable)
	}
	return out, nil
}
