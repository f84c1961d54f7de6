package api

import (
	"net/http"

	"go.uber.org/zap"
)

type queryRequest struct {
	Action string `json:"action"`
	searchParams
	MaxChars *int   `json:"maxChars"`
	QueryID  string `json:"queryId"`
	Helpful  *bool  `json:"helpful"`
}

func handleQuery(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req queryRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeFailure(w, err)
			return
		}
		switch req.Action {
		case "search":
			querySearch(deps, w, r, req)
		case "getContext":
			queryContext(deps, w, r, req)
		case "getStats":
			queryStats(deps, w, r, req)
		case "feedback":
			queryFeedback(deps, w, r, req)
		default:
			writeFailure(w, invalidf("unknown action %q", req.Action))
		}
	}
}

func querySearch(deps Deps, w http.ResponseWriter, r *http.Request, req queryRequest) {
	q, err := req.toQuery()
	if err != nil {
		writeFailure(w, err)
		return
	}
	resp, err := deps.Retriever.Search(r.Context(), q)
	if err != nil {
		deps.Logger.Warn("search failed", zap.String("user_id", q.UserID), zap.Error(err))
		writeFailure(w, err)
		return
	}
	writeSuccess(w, map[string]any{
		"queryId": resp.QueryID,
		"results": toWireResults(resp.Results),
	})
}

func queryContext(deps Deps, w http.ResponseWriter, r *http.Request, req queryRequest) {
	q, err := req.toQuery()
	if err != nil {
		writeFailure(w, err)
		return
	}
	maxChars := deps.MaxChars
	if req.MaxChars != nil {
		if *req.MaxChars < 0 {
			writeFailure(w, invalidf("maxChars must not be negative"))
			return
		}
		maxChars = *req.MaxChars
	}
	packed, resp, err := deps.Context.Context(r.Context(), q, maxChars)
	if err != nil {
		deps.Logger.Warn("context build failed", zap.String("user_id", q.UserID), zap.Error(err))
		writeFailure(w, err)
		return
	}
	c := toWireContext(packed)
	writeSuccess(w, map[string]any{
		"queryId":   resp.QueryID,
		"context":   c.Text,
		"usedIds":   c.UsedIDs,
		"truncated": c.Truncated,
		"results":   toWireResults(resp.Results),
	})
}

func queryStats(deps Deps, w http.ResponseWriter, r *http.Request, req queryRequest) {
	if req.UserID == "" {
		writeFailure(w, invalidf("userId is required"))
		return
	}
	stats, err := deps.Store.KnowledgeStats(r.Context(), req.UserID)
	if err != nil {
		writeFailure(w, err)
		return
	}
	recent, err := deps.Store.RecentQueries(r.Context(), req.UserID, defaultRecent)
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeSuccess(w, map[string]any{
		"stats":         toWireStats(stats),
		"recentQueries": toWireQueryLogs(recent),
	})
}

func queryFeedback(deps Deps, w http.ResponseWriter, r *http.Request, req queryRequest) {
	if req.QueryID == "" || req.Helpful == nil {
		writeFailure(w, invalidf("queryId and helpful are required"))
		return
	}
	if err := deps.Store.SetQueryFeedback(r.Context(), req.QueryID, *req.Helpful); err != nil {
		writeFailure(w, err)
		return
	}
	writeSuccess(w, map[string]any{"queryId": req.QueryID})
}
