package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/action"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/knowledge"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/retrieval"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/storage"
)

const maxBodySize = 1 << 20

// errInvalid marks a request the caller has to fix.
var errInvalid = errors.New("invalid request")

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", errInvalid, fmt.Sprintf(format, args...))
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return invalidf("request body is empty")
		}
		return invalidf("invalid request body: %v", err)
	}
	return nil
}

// writeSuccess writes {"success": true} merged with fields.
func writeSuccess(w http.ResponseWriter, fields map[string]any) {
	body := make(map[string]any, len(fields)+1)
	for k, v := range fields {
		body[k] = v
	}
	body["success"] = true
	writeJSON(w, http.StatusOK, body)
}

func writeError(w http.ResponseWriter, code int, format string, args ...any) {
	writeJSON(w, code, map[string]any{"error": fmt.Sprintf(format, args...)})
}

func writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(body)
}

// writeFailure maps domain errors to status codes. Only the edge knows
// about HTTP.
func writeFailure(w http.ResponseWriter, err error) {
	var rl *action.RateLimitError
	switch {
	case errors.As(err, &rl):
		if rl.RetryAfter > 0 {
			w.Header().Set("Retry-After", strconv.Itoa(int(rl.RetryAfter.Seconds())))
		}
		writeError(w, http.StatusTooManyRequests, "%s", rl.Message)
	case errors.Is(err, action.ErrRateLimited):
		writeError(w, http.StatusTooManyRequests, "%v", err)
	case errors.Is(err, errInvalid), errors.Is(err, retrieval.ErrEmptyQuery), errors.Is(err, knowledge.ErrMissingReviewID):
		writeError(w, http.StatusBadRequest, "%v", err)
	case errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "%v", err)
	case errors.Is(err, action.ErrInvalidTransition), errors.Is(err, knowledge.ErrNotExecuted):
		writeError(w, http.StatusConflict, "%v", err)
	default:
		writeError(w, http.StatusInternalServerError, "%v", err)
	}
}
