package knowledge

import (
	"fmt"
	"strings"

	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/llm"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/storage"
)

const digestSystemPrompt = `You turn a team chat digest into durable organizational knowledge. Your output must be ONLY a single valid JSON object. Do not include any other text, prose, or markdown.

Output shape:
{"items":[{"content":"...","summary":"...","type":"...","scope":"...","roleTag":"...","confidence":0.0}]}

Types: decision_pattern, budget_judgment, recurring_risk, workflow_pattern, schedule_pattern, preference, responsibility, location_context, peer_feedback, lesson_learned.
Scopes: team (default), role (requires roleTag), global (true for the whole organization).

Rules:
- One item per reusable fact. Skip chit-chat and one-off logistics.
- Write content as a standalone sentence in the language of the digest.
- confidence is between 0 and 1 and reflects how settled the fact is.
- Return {"items":[]} when nothing is worth keeping.`

// digestItem is one element of the model's response.
type digestItem struct {
	Content    string  `json:"content"`
	Summary    string  `json:"summary"`
	Type       string  `json:"type"`
	Scope      string  `json:"scope"`
	RoleTag    string  `json:"roleTag"`
	Confidence float64 `json:"confidence"`
}

type digestResponse struct {
	Items []digestItem `json:"items"`
}

// buildDigestPrompt renders a digest section for the model.
func buildDigestPrompt(d storage.Digest, entries []string) llm.Request {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Digest section: %s\n", d.Type)
	if d.ProjectID != "" {
		fmt.Fprintf(&sb, "Project: %s\n", d.ProjectID)
	}
	fmt.Fprintf(&sb, "Messages covered: %d\n\n", d.MessageCount)
	for _, e := range entries {
		fmt.Fprintf(&sb, "- %s\n", e)
	}
	return llm.Request{
		System:      digestSystemPrompt,
		Messages:    []llm.Message{{Role: "user", Content: sb.String()}},
		JSON:        true,
		Temperature: 0.2,
	}
}
