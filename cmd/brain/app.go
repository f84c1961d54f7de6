package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mark3labs/mcp-go/server"
	"go.uber.org/zap"

	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/action"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/api"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/config"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/digest"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/extract"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/ingest"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/knowledge"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/llm"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/rag"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/retrieval"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/retry"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/storage"
)

const llmTimeout = 60 * time.Second

// app is the fully wired server.
type app struct {
	store     *storage.Store
	handler   http.Handler
	mcp       *server.MCPServer
	worker    *ingest.Worker
	scheduler *digest.Scheduler
	pipeline  *action.Pipeline
	logger    *zap.Logger
}

// newApp wires every component from cfg. client is the model provider; the
// caller builds it so tests can substitute a fake.
func newApp(ctx context.Context, cfg config.Config, client llm.Client, logger *zap.Logger) (*app, error) {
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	a, err := wire(ctx, cfg, store, client, logger)
	if err != nil {
		store.Close()
		return nil, err
	}
	return a, nil
}

func wire(ctx context.Context, cfg config.Config, store *storage.Store, client llm.Client, logger *zap.Logger) (*app, error) {
	policy := retry.Policy{
		MaxRetries: cfg.LLM.MaxRetries,
		BaseDelay:  cfg.LLM.RetryBaseDelay,
		OnRetry: func(attempt int, d time.Duration, err error) {
			logger.Warn("model rate limited, backing off",
				zap.Int("attempt", attempt), zap.Duration("delay", d), zap.Error(err))
		},
	}

	embedder := retrieval.NewEmbedder(client, cfg.Retrieval.CacheTTL)
	index, err := newIndex(ctx, cfg.Retrieval.Backend, embedder.Model(), store, logger)
	if err != nil {
		return nil, err
	}
	retriever := retrieval.NewRetriever(embedder, index, store,
		retrieval.WithDefaults(cfg.Retrieval.Threshold, cfg.Retrieval.Limit),
		retrieval.WithLogger(logger),
	)
	ragSvc := rag.NewService(retriever, rag.NewBuilder(cfg.Context.MaxChars))

	extractor := knowledge.NewExtractor(llm.NewRetrying(client, policy, "knowledge"), logger)
	ingestor := knowledge.NewIngestor(store, extractor, embedder, index,
		knowledge.WithStaleAfter(cfg.Ingest.StaleAfter),
		knowledge.WithIngestLogger(logger),
	)

	pipeline := action.NewPipeline(store, llm.NewRetrying(client, policy, "action"), extract.New(),
		action.WithGrounder(ragSvc),
		action.WithLogger(logger),
	)

	batcher := digest.NewBatcher(store, llm.NewRetrying(client, policy, "digest"), cfg.LLM.Model,
		digest.WithWindow(cfg.Digest.Window),
		digest.WithLogger(logger),
	)
	scheduler, err := digest.NewScheduler(batcher, store, cfg.Digest.Schedule, cfg.Digest.MinMessages, logger)
	if err != nil {
		return nil, err
	}

	handler := api.NewHandler(api.Deps{
		Store:        store,
		Ingestor:     ingestor,
		Retriever:    retriever,
		Context:      ragSvc,
		Actions:      pipeline,
		Digests:      batcher,
		Index:        index,
		Token:        cfg.Server.Token,
		MaxChars:     cfg.Context.MaxChars,
		MinMessages:  cfg.Digest.MinMessages,
		ReembedLimit: cfg.Ingest.ReembedLimit,
		Logger:       logger,
	})
	mcpSrv := api.NewMCPServer(api.MCPDeps{
		Store:     store,
		Retriever: retriever,
		Context:   ragSvc,
		Actions:   pipeline,
		MaxChars:  cfg.Context.MaxChars,
	})

	return &app{
		store:     store,
		handler:   handler,
		mcp:       mcpSrv,
		worker:    ingest.NewWorker(store, ingestor, cfg.Ingest.PollInterval, logger),
		scheduler: scheduler,
		pipeline:  pipeline,
		logger:    logger,
	}, nil
}

// newIndex builds the vector index. The chromem index lives in memory and is
// loaded from the stored embeddings of the current embedding model.
func newIndex(ctx context.Context, backend, model string, store *storage.Store, logger *zap.Logger) (retrieval.Index, error) {
	switch backend {
	case "", "sqlite":
		return retrieval.NewSQLiteIndex(store), nil
	case "chromem":
		idx, err := retrieval.NewChromemIndex(model, logger)
		if err != nil {
			return nil, err
		}
		items, err := store.ListEmbeddedItems(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading embeddings: %w", err)
		}
		if err := idx.Load(ctx, items); err != nil {
			return nil, fmt.Errorf("loading chromem index: %w", err)
		}
		logger.Info("chromem index loaded", zap.Int("items", len(items)))
		return idx, nil
	}
	return nil, fmt.Errorf("unknown retrieval backend %q", backend)
}

// logEvents records action lifecycle events until ctx is done.
func logEvents(ctx context.Context, events <-chan action.Event, logger *zap.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			logger.Info("action event",
				zap.String("event", string(e.Type)),
				zap.String("action_id", e.Action.ID),
				zap.String("action_type", string(e.Action.Type)),
				zap.String("conversation_id", e.Action.ConversationID),
			)
		}
	}
}

func (a *app) Close() error {
	return a.store.Close()
}
