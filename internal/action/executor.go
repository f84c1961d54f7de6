package action

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/brain"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/ingest"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/storage"
)

// ExecuteResult reports an execution. AlreadyExecuted is true when another
// caller executed the action first; Entity is the one that caller created.
type ExecuteResult struct {
	Action          storage.Action
	Entity          storage.Entity
	AlreadyExecuted bool
}

// Confirm approves a pending action on behalf of userID.
func (p *Pipeline) Confirm(ctx context.Context, id, userID string) (storage.Action, error) {
	return p.decide(ctx, id, brain.StatusConfirmed, userID)
}

// Reject closes a pending action without executing it.
func (p *Pipeline) Reject(ctx context.Context, id, userID string) (storage.Action, error) {
	return p.decide(ctx, id, brain.StatusRejected, userID)
}

// decide repeats of the same decision succeed without a new event. Deciding
// an action that already moved elsewhere is ErrInvalidTransition.
func (p *Pipeline) decide(ctx context.Context, id string, to brain.ActionStatus, userID string) (storage.Action, error) {
	a, changed, err := p.store.DecideAction(ctx, id, to, userID)
	if err != nil {
		return storage.Action{}, err
	}
	if changed {
		p.publish(a)
		return a, nil
	}
	if a.Status == to || (to == brain.StatusConfirmed && a.Status == brain.StatusExecuted) {
		return a, nil
	}
	return a, fmt.Errorf("cannot move action %s from %s to %s: %w", id, a.Status, to, ErrInvalidTransition)
}

// Execute creates the entity for a confirmed action. It is safe to call
// concurrently: exactly one caller executes, the others get
// AlreadyExecuted. Executing a pending or rejected action is
// ErrInvalidTransition.
func (p *Pipeline) Execute(ctx context.Context, id string) (ExecuteResult, error) {
	a, executed, err := p.store.ExecuteAction(ctx, id, p.buildEntity)
	if err != nil {
		return ExecuteResult{}, err
	}
	if !executed {
		if a.Status != brain.StatusExecuted {
			return ExecuteResult{Action: a}, fmt.Errorf("cannot execute %s action %s: %w", a.Status, id, ErrInvalidTransition)
		}
		e, err := p.store.GetEntityByAction(ctx, id)
		if err != nil && !errors.Is(err, storage.ErrNotFound) {
			return ExecuteResult{}, err
		}
		return ExecuteResult{Action: a, Entity: e, AlreadyExecuted: true}, nil
	}

	e, err := p.store.GetEntityByAction(ctx, id)
	if err != nil {
		return ExecuteResult{}, err
	}
	p.publish(a)
	if err := p.store.EnqueueJob(ctx, ingest.ActionJob(id)); err != nil {
		p.logger.Warn("enqueueing knowledge job failed", zap.String("action_id", id), zap.Error(err))
	}
	p.logger.Info("action executed",
		zap.String("action_id", id),
		zap.String("type", string(a.Type)),
		zap.String("entity_id", e.ID),
	)
	return ExecuteResult{Action: a, Entity: e}, nil
}

// executedData is stored on the action once its entity exists.
type executedData struct {
	EntityID   string          `json:"entityId"`
	Kind       string          `json:"kind"`
	Payload    json.RawMessage `json:"payload"`
	ExecutedAt time.Time       `json:"executedAt"`
}

func entityKind(t brain.ActionType) string {
	switch t {
	case brain.ActionCreateTodo:
		return "todo"
	case brain.ActionCreateEvent:
		return "event"
	case brain.ActionShareLocation:
		return "location"
	}
	return ""
}

// buildEntity runs inside the execute transaction.
func (p *Pipeline) buildEntity(a storage.Action) (storage.Entity, json.RawMessage, error) {
	payload, err := a.Payload()
	if err != nil {
		return storage.Entity{}, nil, err
	}
	if err := payload.Validate(); err != nil {
		return storage.Entity{}, nil, err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return storage.Entity{}, nil, err
	}
	now := p.now().UTC()
	e := storage.Entity{
		ID:        uuid.New().String(),
		Kind:      entityKind(a.Type),
		Payload:   raw,
		CreatedAt: now,
	}
	data, err := json.Marshal(executedData{EntityID: e.ID, Kind: e.Kind, Payload: raw, ExecutedAt: now})
	if err != nil {
		return storage.Entity{}, nil, err
	}
	return e, data, nil
}
