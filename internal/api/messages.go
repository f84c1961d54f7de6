package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/action"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/storage"
)

type messageStore interface {
	SaveMessage(ctx context.Context, m storage.ChatMessage) (storage.ChatMessage, error)
}

// recordMessage mirrors a chat message and runs the action pipeline on it.
// The message is stored even when extraction fails.
func recordMessage(ctx context.Context, store messageStore, actions Actions, p messageParams, now time.Time) (storage.ChatMessage, action.Outcome, error) {
	m, err := p.toMessage(now.UTC())
	if err != nil {
		return storage.ChatMessage{}, action.Outcome{}, err
	}
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	m, err = store.SaveMessage(ctx, m)
	if err != nil {
		return storage.ChatMessage{}, action.Outcome{}, err
	}
	out, err := actions.Process(ctx, action.Input{
		MessageID:      m.ID,
		ConversationID: m.ConversationID,
		ProjectID:      m.ProjectID,
		UserID:         m.AuthorID,
		AuthorName:     m.AuthorName,
		Text:           m.Text,
		Roster:         p.Roster,
	})
	return m, out, err
}

func handleMessage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var p messageParams
		if err := decodeBody(w, r, &p); err != nil {
			writeFailure(w, err)
			return
		}
		m, out, err := recordMessage(r.Context(), deps.Store, deps.Actions, p, deps.Now())
		if err != nil {
			deps.Logger.Warn("message processing failed", zap.String("message_id", m.ID), zap.Error(err))
			writeFailure(w, err)
			return
		}
		writeSuccess(w, map[string]any{
			"messageId": m.ID,
			"seq":       m.Seq,
			"actions":   toWireActions(out.Actions),
			"created":   out.Created,
			"source":    out.Source,
			"reply":     out.Reply,
		})
	}
}

type digestRequest struct {
	ConversationID string `json:"conversationId"`
	MinMessages    *int   `json:"minMessages"`
}

func handleDigest(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req digestRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeFailure(w, err)
			return
		}
		if req.ConversationID == "" {
			writeFailure(w, invalidf("conversationId is required"))
			return
		}
		minMessages := deps.MinMessages
		if req.MinMessages != nil {
			if *req.MinMessages < 1 {
				writeFailure(w, invalidf("minMessages must be positive"))
				return
			}
			minMessages = *req.MinMessages
		}
		ds, err := deps.Digests.Run(r.Context(), req.ConversationID, minMessages)
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeSuccess(w, map[string]any{
			"created": len(ds),
			"digests": toWireDigests(ds),
		})
	}
}
