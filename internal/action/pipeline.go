// Package action turns live chat messages into candidate actions and drives
// them through the confirm and execute state machine.
package action

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/brain"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/extract"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/llm"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/metrics"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/rag"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/retrieval"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/storage"
)

// Extraction sources recorded on each action.
const (
	SourceLLM           = "llm"
	SourceDeterministic = "deterministic"
)

const groundingChars = 600

// Store is the part of storage.Store the pipeline uses.
type Store interface {
	CreateActionBatch(ctx context.Context, sourceMessageID string, actions []storage.Action) ([]storage.Action, bool, error)
	ListActionsByMessage(ctx context.Context, sourceMessageID string) ([]storage.Action, error)
	GetAction(ctx context.Context, id string) (storage.Action, error)
	DecideAction(ctx context.Context, id string, to brain.ActionStatus, userID string) (storage.Action, bool, error)
	ExecuteAction(ctx context.Context, id string, build storage.EntityBuilder) (storage.Action, bool, error)
	GetEntityByAction(ctx context.Context, actionID string) (storage.Entity, error)
	EnqueueJob(ctx context.Context, job storage.Job) error
}

// Grounder supplies team knowledge for the extraction prompt. rag.Service
// satisfies it.
type Grounder interface {
	Context(ctx context.Context, q retrieval.Query, maxChars int) (rag.Packed, retrieval.Response, error)
}

// Input is a live message to process.
type Input struct {
	MessageID      string
	ConversationID string
	ProjectID      string
	UserID         string
	AuthorName     string
	Text           string
	Roster         []brain.Participant
}

// Outcome is the batch for a message. Created is false when the message
// already had a batch or produced no actions.
type Outcome struct {
	Actions []storage.Action
	Created bool
	Source  string
	Reply   string
}

// Pipeline extracts actions and owns their state transitions.
type Pipeline struct {
	store     Store
	llm       llm.Completer
	extractor *extract.Extractor
	grounder  Grounder
	bus       *Bus
	now       func() time.Time
	logger    *zap.Logger
}

type Option func(*Pipeline)

func WithGrounder(g Grounder) Option {
	return func(p *Pipeline) { p.grounder = g }
}

func WithBus(b *Bus) Option {
	return func(p *Pipeline) {
		if b != nil {
			p.bus = b
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline wires a pipeline. completer should already carry the retry
// policy (llm.Retrying); nil makes every extraction deterministic.
func NewPipeline(store Store, completer llm.Completer, extractor *extract.Extractor, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:     store,
		llm:       completer,
		extractor: extractor,
		bus:       NewBus(0),
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	if p.extractor == nil {
		p.extractor = extract.New()
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Bus returns the lifecycle event bus.
func (p *Pipeline) Bus() *Bus { return p.bus }

// Process extracts actions from a message and stores them as one pending
// batch. A message is processed once: later calls return the stored batch.
// Messages without intent markers never reach the model and store nothing.
func (p *Pipeline) Process(ctx context.Context, in Input) (Outcome, error) {
	if in.MessageID == "" {
		return Outcome{}, fmt.Errorf("message id is required")
	}
	existing, err := p.store.ListActionsByMessage(ctx, in.MessageID)
	if err != nil {
		return Outcome{}, err
	}
	if len(existing) > 0 {
		return Outcome{Actions: existing, Source: existing[0].Source}, nil
	}

	if !p.extractor.HasIntent(in.Text) {
		metrics.ActionExtractions.WithLabelValues("none").Inc()
		return Outcome{}, nil
	}

	cands, reply, source, err := p.extract(ctx, in)
	if err != nil {
		return Outcome{}, err
	}
	metrics.ActionExtractions.WithLabelValues(source).Inc()
	if len(cands) == 0 {
		return Outcome{Source: source}, nil
	}

	actions := make([]storage.Action, 0, len(cands))
	for _, c := range cands {
		data, err := json.Marshal(c.Payload)
		if err != nil {
			return Outcome{}, fmt.Errorf("encoding %s payload: %w", c.Type, err)
		}
		actions = append(actions, storage.Action{
			ID:             uuid.New().String(),
			ConversationID: in.ConversationID,
			Type:           c.Type,
			ExtractedData:  data,
			Confidence:     c.Confidence,
			Source:         source,
		})
	}

	stored, created, err := p.store.CreateActionBatch(ctx, in.MessageID, actions)
	if err != nil {
		return Outcome{}, err
	}
	if !created {
		// A concurrent call stored the batch first.
		return Outcome{Actions: stored, Source: stored[0].Source}, nil
	}
	for _, a := range stored {
		p.publish(a)
	}
	p.logger.Info("actions extracted",
		zap.String("message_id", in.MessageID),
		zap.String("source", source),
		zap.Int("actions", len(stored)),
	)
	return Outcome{Actions: stored, Created: true, Source: source, Reply: reply}, nil
}

// extract tries the model first. Rate limiting that outlived the retry
// policy is surfaced; any other failure falls back to the rules.
func (p *Pipeline) extract(ctx context.Context, in Input) ([]brain.Candidate, string, string, error) {
	if p.llm != nil {
		raw, err := p.llm.Complete(ctx, buildPrompt(in, p.now(), p.ground(ctx, in)))
		switch {
		case err == nil:
			cands, reply, perr := parseResponse(raw, in.ProjectID)
			if perr == nil {
				return cands, reply, SourceLLM, nil
			}
			p.logger.Warn("action extraction output unusable, using rules",
				zap.String("message_id", in.MessageID), zap.Error(perr))
		case llm.IsRateLimit(err):
			var wait time.Duration
			var se *llm.StatusError
			if errors.As(err, &se) {
				wait = se.RetryAfter
			}
			return nil, "", "", &RateLimitError{Message: rateLimitMessage(hasHangul(in.Text), wait), RetryAfter: wait, Err: err}
		case ctx.Err() != nil:
			return nil, "", "", ctx.Err()
		default:
			p.logger.Warn("action extraction failed, using rules",
				zap.String("message_id", in.MessageID), zap.Error(err))
		}
	}

	res := p.extractor.Extract(in.Text, in.Roster, in.ProjectID)
	return res.Candidates, res.Reply, SourceDeterministic, nil
}

func (p *Pipeline) ground(ctx context.Context, in Input) string {
	if p.grounder == nil {
		return ""
	}
	packed, _, err := p.grounder.Context(ctx, retrieval.Query{
		Text:      in.Text,
		UserID:    in.UserID,
		ProjectID: in.ProjectID,
	}, groundingChars)
	if err != nil {
		p.logger.Debug("grounding unavailable", zap.Error(err))
		return ""
	}
	return packed.Text
}

func (p *Pipeline) publish(a storage.Action) {
	metrics.ActionTransitions.WithLabelValues(string(a.Status)).Inc()
	p.bus.Publish(Event{Type: eventFor(a.Status), Action: a, At: p.now()})
}

func hasHangul(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Hangul, r) {
			return true
		}
	}
	return false
}
