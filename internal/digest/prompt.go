package digest

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/llm"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/storage"
)

const systemPrompt = `You summarize a block of team chat. Your output must be ONLY a single valid JSON object. Do not include any other text, prose, or markdown.

Output shape:
{"decisions":["..."],"action_items":["..."],"risks":["..."],"summary":"...","confidence":0.0}

Rules:
- decisions: things the team agreed on.
- action_items: concrete follow-ups, with the owner's name when known.
- risks: problems or blockers that were raised.
- summary: two or three sentences, in the language of the conversation.
- Leave a list empty rather than guessing. confidence is between 0 and 1.`

// entryList accepts a list of strings or of objects carrying the entry under
// "text", "content" or "title", since models drift between the two.
type entryList []string

func (l *entryList) UnmarshalJSON(b []byte) error {
	var raw []json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		var s string
		if err := json.Unmarshal(r, &s); err == nil {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
			}
			continue
		}
		var obj struct {
			Text    string `json:"text"`
			Content string `json:"content"`
			Title   string `json:"title"`
		}
		if err := json.Unmarshal(r, &obj); err != nil {
			return fmt.Errorf("digest entry: %w", err)
		}
		for _, s := range []string{obj.Text, obj.Content, obj.Title} {
			if s = strings.TrimSpace(s); s != "" {
				out = append(out, s)
				break
			}
		}
	}
	*l = out
	return nil
}

type response struct {
	Decisions   entryList `json:"decisions"`
	ActionItems entryList `json:"action_items"`
	Risks       entryList `json:"risks"`
	Summary     string    `json:"summary"`
	Confidence  float64   `json:"confidence"`
}

func (r response) empty() bool {
	return len(r.Decisions) == 0 && len(r.ActionItems) == 0 && len(r.Risks) == 0 && strings.TrimSpace(r.Summary) == ""
}

func buildPrompt(msgs []storage.ChatMessage) llm.Request {
	var sb strings.Builder
	for _, m := range msgs {
		name := m.AuthorName
		if name == "" {
			name = m.AuthorID
		}
		fmt.Fprintf(&sb, "[%s] %s: %s\n", m.CreatedAt.UTC().Format("2006-01-02 15:04"), name, m.Text)
	}
	return llm.Request{
		System:      systemPrompt,
		Messages:    []llm.Message{{Role: "user", Content: sb.String()}},
		JSON:        true,
		Temperature: 0.2,
	}
}
