// Package llm talks to the remote text-completion and text-embedding
// services. Two providers are supported: any OpenAI-compatible endpoint and
// a local Ollama instance.
package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/metrics"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/retry"
)

// ErrNotConfigured is returned when a remote provider has no credentials.
var ErrNotConfigured = errors.New("llm: provider not configured")

// Message is one turn of a chat completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is a provider-neutral completion request.
type Request struct {
	System      string
	Messages    []Message
	JSON        bool // ask for a JSON object response
	Temperature float64
}

// Completer produces a completion for a request.
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// Embedder turns text into a vector. Model names the embedding model so
// stored vectors can be re-embedded when it changes.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Model() string
}

// Client is a provider serving both completions and embeddings.
type Client interface {
	Completer
	Embedder
}

// StatusError is a non-200 response from a provider.
type StatusError struct {
	StatusCode int
	Body       string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.StatusCode == http.StatusTooManyRequests {
		return fmt.Sprintf("rate limited (HTTP %d)", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Body)
}

// IsRateLimit reports whether err is, or wraps, an HTTP 429 response.
func IsRateLimit(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusTooManyRequests
}

// Config selects and parameterizes a provider.
type Config struct {
	Provider          string // "openai" or "ollama"
	BaseURL           string
	APIKey            string
	Model             string
	EmbedModel        string
	RequestsPerSecond float64
	Timeout           time.Duration
}

// New builds the provider named by cfg.Provider.
func New(cfg Config) (Client, error) {
	switch cfg.Provider {
	case "", "openai":
		return NewOpenAI(cfg)
	case "ollama":
		return NewOllama(cfg), nil
	}
	return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
}

// Retrying wraps a Completer so rate-limited calls are retried under p.
// Only HTTP 429 responses are retried; p.Retryable is replaced.
type Retrying struct {
	next   Completer
	policy retry.Policy
}

func NewRetrying(next Completer, p retry.Policy, caller string) *Retrying {
	p.Retryable = IsRateLimit
	onRetry := p.OnRetry
	p.OnRetry = func(attempt int, d time.Duration, err error) {
		metrics.Retries.WithLabelValues(caller).Inc()
		if onRetry != nil {
			onRetry(attempt, d, err)
		}
	}
	return &Retrying{next: next, policy: p}
}

func (r *Retrying) Complete(ctx context.Context, req Request) (string, error) {
	return retry.Do(ctx, r.policy, func(ctx context.Context) (string, error) {
		return r.next.Complete(ctx, req)
	})
}

func observe(op string, start time.Time, err error) {
	metrics.LLMDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	result := "ok"
	switch {
	case IsRateLimit(err):
		result = "rate_limited"
	case err != nil:
		result = "error"
	}
	metrics.LLMRequests.WithLabelValues(op, result).Inc()
}
