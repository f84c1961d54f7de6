package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/brain"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/storage"
)

const defaultActionList = 50

func handleListActions(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		var (
			as  []storage.Action
			err error
		)
		switch {
		case q.Get("messageId") != "":
			as, err = deps.Store.ListActionsByMessage(r.Context(), q.Get("messageId"))
		case q.Get("conversationId") != "":
			limit := defaultActionList
			if v := q.Get("limit"); v != "" {
				n, perr := strconv.Atoi(v)
				if perr != nil || n < 1 {
					writeFailure(w, invalidf("invalid limit %q", v))
					return
				}
				limit = n
			}
			var status brain.ActionStatus
			if v := q.Get("status"); v != "" {
				status, err = brain.ParseActionStatus(v)
				if err != nil {
					writeFailure(w, invalidf("%v", err))
					return
				}
			}
			as, err = deps.Store.ListActions(r.Context(), q.Get("conversationId"), status, limit)
		default:
			writeFailure(w, invalidf("messageId or conversationId is required"))
			return
		}
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeSuccess(w, map[string]any{"actions": toWireActions(as)})
	}
}

type decideRequest struct {
	UserID string `json:"userId"`
}

func handleDecide(deps Deps, to brain.ActionStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req decideRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeFailure(w, err)
			return
		}
		if req.UserID == "" {
			writeFailure(w, invalidf("userId is required"))
			return
		}
		id := chi.URLParam(r, "id")
		var (
			a   storage.Action
			err error
		)
		if to == brain.StatusConfirmed {
			a, err = deps.Actions.Confirm(r.Context(), id, req.UserID)
		} else {
			a, err = deps.Actions.Reject(r.Context(), id, req.UserID)
		}
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeSuccess(w, map[string]any{"action": toWireAction(a)})
	}
}

func handleExecute(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := deps.Actions.Execute(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			writeFailure(w, err)
			return
		}
		writeSuccess(w, map[string]any{
			"action":          toWireAction(res.Action),
			"entity":          toWireEntity(res.Entity),
			"alreadyExecuted": res.AlreadyExecuted,
		})
	}
}

func handleDeactivate(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := deps.Store.DeactivateKnowledgeItem(r.Context(), id); err != nil {
			writeFailure(w, err)
			return
		}
		if deps.Index != nil {
			if err := deps.Index.Remove(r.Context(), id); err != nil {
				deps.Logger.Warn("index removal failed", zap.String("item_id", id), zap.Error(err))
			}
		}
		writeSuccess(w, map[string]any{"id": id})
	}
}
