package action

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/brain"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/llm"
)

const systemPrompt = `You extract actionable requests from one team chat message. Your output must be ONLY a single valid JSON object. Do not include any other text, prose, or markdown.

Output shape:
{"actions":[{"type":"...","confidence":0.0,"data":{...}}],"reply":"..."}

Action types and their data:
- create_todo: {"title","assigneeIds":[],"dueDate":"YYYY-MM-DD","priority":"low|medium|high"}
- create_event: {"title","date":"YYYY-MM-DD","startTime":"HH:MM","endTime":"HH:MM","location","attendeeIds":[]}
- share_location: {"name","address","url"}

Rules:
- Only extract what the message explicitly asks for. Ordinary conversation yields {"actions":[]}.
- Resolve relative dates against the current date given below.
- assigneeIds and attendeeIds must be ids from the participant list.
- reply is a short confirmation question in the language of the message.`

type llmAction struct {
	Type       string          `json:"type"`
	Confidence float64         `json:"confidence"`
	Data       json.RawMessage `json:"data"`
}

type llmResponse struct {
	Actions []llmAction `json:"actions"`
	Reply   string      `json:"reply"`
}

func buildPrompt(in Input, now time.Time, grounding string) llm.Request {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Current date: %s (%s)\n", now.Format("2006-01-02 15:04"), now.Weekday())
	if in.ProjectID != "" {
		fmt.Fprintf(&sb, "Project: %s\n", in.ProjectID)
	}
	if len(in.Roster) > 0 {
		sb.WriteString("Participants:\n")
		for _, p := range in.Roster {
			fmt.Fprintf(&sb, "- %s (id %s)\n", p.Name, p.ID)
		}
	}
	if grounding != "" {
		fmt.Fprintf(&sb, "\nRelevant team knowledge:\n%s\n", grounding)
	}
	fmt.Fprintf(&sb, "\nMessage from %s:\n%s", firstNonEmpty(in.AuthorName, in.UserID), in.Text)

	return llm.Request{
		System:      systemPrompt,
		Messages:    []llm.Message{{Role: "user", Content: sb.String()}},
		JSON:        true,
		Temperature: 0,
	}
}

// parseResponse decodes the model output. Entries with an unknown type or an
// invalid payload are dropped; a response that is not JSON is an error.
func parseResponse(raw string, projectID string) ([]brain.Candidate, string, error) {
	var resp llmResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, "", fmt.Errorf("malformed extraction response: %w", err)
	}
	var out []brain.Candidate
	for _, a := range resp.Actions {
		t := brain.ActionType(a.Type)
		p, err := brain.DecodePayload(t, a.Data)
		if err != nil || p.Validate() != nil {
			continue
		}
		out = append(out, brain.Candidate{Type: t, Payload: withProject(p, projectID), Confidence: brain.ClampConfidence(a.Confidence)})
	}
	return out, strings.TrimSpace(resp.Reply), nil
}

func withProject(p brain.Payload, projectID string) brain.Payload {
	if projectID == "" {
		return p
	}
	switch v := p.(type) {
	case brain.TodoPayload:
		if v.ProjectID == "" {
			v.ProjectID = projectID
		}
		return v
	case brain.EventPayload:
		if v.ProjectID == "" {
			v.ProjectID = projectID
		}
		return v
	}
	return p
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
