// Package api exposes the brain over HTTP and MCP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/action"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/brain"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/knowledge"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/rag"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/retrieval"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/storage"
)

const (
	defaultMaxChars     = rag.DefaultMaxChars
	defaultReembedLimit = knowledge.DefaultReembedLimit
	defaultRecent       = 10
)

type Ingestor interface {
	IngestDigest(ctx context.Context, digestID string) (knowledge.Outcome, error)
	IngestAction(ctx context.Context, actionID string) (knowledge.Outcome, error)
	IngestReview(ctx context.Context, r knowledge.Review) (knowledge.Outcome, error)
	BatchProcess(ctx context.Context, limit int) (knowledge.BatchResult, error)
	Reembed(ctx context.Context, limit int) (knowledge.ReembedResult, error)
}

type Searcher interface {
	Search(ctx context.Context, q retrieval.Query) (retrieval.Response, error)
}

type ContextBuilder interface {
	Context(ctx context.Context, q retrieval.Query, maxChars int) (rag.Packed, retrieval.Response, error)
}

// Actions is the live action pipeline.
type Actions interface {
	Process(ctx context.Context, in action.Input) (action.Outcome, error)
	Confirm(ctx context.Context, id, userID string) (storage.Action, error)
	Reject(ctx context.Context, id, userID string) (storage.Action, error)
	Execute(ctx context.Context, id string) (action.ExecuteResult, error)
}

type Digester interface {
	Run(ctx context.Context, conversationID string, minMessages int) ([]storage.Digest, error)
}

// Deps holds everything the HTTP handlers need. Index is optional; when set,
// deactivated items are removed from it.
type Deps struct {
	Store        *storage.Store
	Ingestor     Ingestor
	Retriever    Searcher
	Context      ContextBuilder
	Actions      Actions
	Digests      Digester
	Index        retrieval.Index
	Token        string
	MaxChars     int
	MinMessages  int
	ReembedLimit int
	Logger       *zap.Logger
	Now          func() time.Time
}

func (d Deps) withDefaults() Deps {
	if d.MaxChars <= 0 {
		d.MaxChars = defaultMaxChars
	}
	if d.ReembedLimit <= 0 {
		d.ReembedLimit = defaultReembedLimit
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	return d
}

// NewHandler returns the brain HTTP API. Everything except /health and
// /metrics requires the bearer token.
func NewHandler(deps Deps) http.Handler {
	deps = deps.withDefaults()

	r := chi.NewRouter()
	r.Get("/health", handleHealth(deps))
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))

		r.Post("/ingest", handleIngest(deps))
		r.Post("/query", handleQuery(deps))
		r.Post("/messages", handleMessage(deps))
		r.Post("/digests", handleDigest(deps))
		r.Get("/actions", handleListActions(deps))
		r.Post("/actions/{id}/confirm", handleDecide(deps, brain.StatusConfirmed))
		r.Post("/actions/{id}/reject", handleDecide(deps, brain.StatusRejected))
		r.Post("/actions/{id}/execute", handleExecute(deps))
		r.Post("/knowledge/{id}/deactivate", handleDeactivate(deps))
	})
	return r
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		fields := map[string]any{"status": "ok"}
		if deps.Store != nil {
			if err := deps.Store.DB().PingContext(r.Context()); err != nil {
				writeError(w, http.StatusServiceUnavailable, "storage unavailable: %v", err)
				return
			}
			if counts, err := deps.Store.JobCounts(r.Context()); err == nil {
				fields["jobs"] = counts
			}
		}
		writeSuccess(w, fields)
	}
}
