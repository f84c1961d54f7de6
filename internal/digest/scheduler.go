package digest

import (
	"context"
	"fmt"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/storage"
)

// PendingLister finds conversations that have undigested messages.
type PendingLister interface {
	ConversationsWithPending(ctx context.Context, minPending int) ([]storage.PendingConversation, error)
}

// Scheduler runs the batcher on a cron schedule for every conversation with
// enough pending messages.
type Scheduler struct {
	batcher     *Batcher
	store       PendingLister
	spec        string
	minMessages int
	cron        *cron.Cron
	logger      *zap.Logger
}

// NewScheduler validates spec (standard five-field cron or descriptors such
// as "@every 15m").
func NewScheduler(b *Batcher, store PendingLister, spec string, minMessages int, logger *zap.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("parsing digest schedule %q: %w", spec, err)
	}
	if minMessages <= 0 {
		minMessages = DefaultMinMessages
	}
	cl := cronLogger{logger.Sugar()}
	return &Scheduler{
		batcher:     b,
		store:       store,
		spec:        spec,
		minMessages: minMessages,
		cron:        cron.New(cron.WithLogger(cl), cron.WithChain(cron.SkipIfStillRunning(cl))),
		logger:      logger,
	}, nil
}

// Start registers the sweep and starts the cron runner. Sweeps use ctx, so
// cancelling it aborts a sweep in flight.
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.spec, func() {
		if _, err := s.RunOnce(ctx); err != nil {
			s.logger.Error("digest sweep failed", zap.Error(err))
		}
	}); err != nil {
		return fmt.Errorf("registering digest sweep: %w", err)
	}
	s.cron.Start()
	s.logger.Info("digest scheduler started", zap.String("schedule", s.spec))
	return nil
}

// Stop stops scheduling and returns a context done when the running sweep ends.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// RunOnce digests every eligible conversation and returns how many digests
// were created. A failing conversation is logged and skipped.
func (s *Scheduler) RunOnce(ctx context.Context) (int, error) {
	pending, err := s.store.ConversationsWithPending(ctx, s.minMessages)
	if err != nil {
		return 0, err
	}
	created := 0
	for _, p := range pending {
		if ctx.Err() != nil {
			return created, ctx.Err()
		}
		ds, err := s.batcher.Run(ctx, p.ConversationID, s.minMessages)
		if err != nil {
			s.logger.Warn("digesting conversation failed", zap.String("conversation_id", p.ConversationID), zap.Error(err))
			continue
		}
		created += len(ds)
	}
	return created, nil
}

// cronLogger routes cron's logging through zap.
type cronLogger struct{ s *zap.SugaredLogger }

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.s.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.s.Errorw(msg, append(keysAndValues, "error", err)...)
}
