package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/knowledge"
)

type ingestRequest struct {
	Action   string            `json:"action"`
	DigestID string            `json:"digestId"`
	ActionID string            `json:"actionId"`
	Review   *knowledge.Review `json:"review"`
	Limit    int               `json:"limit"`
}

func handleIngest(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ingestRequest
		if err := decodeBody(w, r, &req); err != nil {
			writeFailure(w, err)
			return
		}
		if req.Limit < 0 {
			writeFailure(w, invalidf("limit must not be negative"))
			return
		}
		ctx := r.Context()

		var (
			result any
			err    error
		)
		switch req.Action {
		case "ingestDigest":
			if req.DigestID == "" {
				writeFailure(w, invalidf("digestId is required"))
				return
			}
			result, err = deps.Ingestor.IngestDigest(ctx, req.DigestID)
		case "ingestAction":
			if req.ActionID == "" {
				writeFailure(w, invalidf("actionId is required"))
				return
			}
			result, err = deps.Ingestor.IngestAction(ctx, req.ActionID)
		case "ingestReview":
			if req.Review == nil || req.Review.ID == "" || req.Review.RevieweeID == "" {
				writeFailure(w, invalidf("review with an id and a revieweeId is required"))
				return
			}
			result, err = deps.Ingestor.IngestReview(ctx, *req.Review)
		case "batchProcess":
			result, err = deps.Ingestor.BatchProcess(ctx, req.Limit)
		case "reembed":
			limit := req.Limit
			if limit == 0 {
				limit = deps.ReembedLimit
			}
			result, err = deps.Ingestor.Reembed(ctx, limit)
		default:
			writeFailure(w, invalidf("unknown action %q", req.Action))
			return
		}
		if err != nil {
			deps.Logger.Warn("ingest failed", zap.String("action", req.Action), zap.Error(err))
			writeFailure(w, err)
			return
		}
		writeSuccess(w, map[string]any{"result": result})
	}
}
