package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/brain"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/llm"
	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/storage"
)

// Confidence assigned to drafts that did not come from the model.
const (
	FallbackConfidence = 0.5
	ActionConfidence   = 0.6
	ReviewConfidence   = 0.7
)

// Extractor derives drafts from knowledge sources. Digests go through the
// completion service; actions and reviews are mapped by fixed rules.
type Extractor struct {
	llm    llm.Completer
	logger *zap.Logger
}

// NewExtractor creates an Extractor. A nil completer makes every digest
// take the deterministic path.
func NewExtractor(completer llm.Completer, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{llm: completer, logger: logger}
}

// FromDigest asks the model for drafts. When the call fails or the response
// cannot be used, every digest entry becomes one draft instead.
func (e *Extractor) FromDigest(ctx context.Context, d storage.Digest) ([]Draft, error) {
	entries, err := d.Entries()
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}

	if e.llm != nil {
		drafts, err := e.digestViaLLM(ctx, d, entries)
		if err == nil {
			return drafts, nil
		}
		e.logger.Warn("digest knowledge extraction fell back to rules",
			zap.String("digest_id", d.ID), zap.Error(err))
	}
	return digestFallback(d, entries), nil
}

func (e *Extractor) digestViaLLM(ctx context.Context, d storage.Digest, entries []string) ([]Draft, error) {
	raw, err := e.llm.Complete(ctx, buildDigestPrompt(d, entries))
	if err != nil {
		return nil, fmt.Errorf("completing: %w", err)
	}
	var resp digestResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		return nil, fmt.Errorf("malformed response: %w", err)
	}

	var out []Draft
	for _, it := range resp.Items {
		draft, ok := Draft{
			Content:    it.Content,
			Summary:    strings.TrimSpace(it.Summary),
			Type:       brain.KnowledgeType(it.Type),
			Scope:      brain.Scope(it.Scope),
			ProjectID:  d.ProjectID,
			RoleTag:    strings.TrimSpace(it.RoleTag),
			Confidence: it.Confidence,
		}.normalize(typeFor(d.Type, it.Content))
		if !ok {
			continue
		}
		// The model cannot grant personal visibility from a shared digest.
		if draft.Scope == brain.ScopePersonal {
			draft.Scope = brain.ScopeTeam
		}
		out = append(out, draft)
	}
	return out, nil
}

func digestFallback(d storage.Digest, entries []string) []Draft {
	confidence := FallbackConfidence
	if d.Confidence > 0 && d.Confidence < confidence {
		confidence = d.Confidence
	}
	var out []Draft
	for _, entry := range entries {
		draft, ok := Draft{
			Content:    entry,
			Scope:      brain.ScopeTeam,
			ProjectID:  d.ProjectID,
			Confidence: confidence,
		}.normalize(typeFor(d.Type, entry))
		if ok {
			out = append(out, draft)
		}
	}
	return out
}

// FromAction describes an executed action as team knowledge.
func (e *Extractor) FromAction(a storage.Action) ([]Draft, error) {
	p, err := a.Payload()
	if err != nil {
		return nil, err
	}
	confidence := ActionConfidence * a.Confidence
	if a.Confidence == 0 {
		confidence = ActionConfidence
	}

	var drafts []Draft
	switch p := p.(type) {
	case brain.TodoPayload:
		content := fmt.Sprintf("Task %q was assigned", p.Title)
		if len(p.AssigneeIDs) > 0 {
			content += " to " + strings.Join(p.AssigneeIDs, ", ")
		}
		if p.DueDate != "" {
			content += ", due " + p.DueDate
		}
		drafts = append(drafts, Draft{Content: content, Type: brain.KnowledgeResponsibility, ProjectID: p.ProjectID})
	case brain.EventPayload:
		when := p.Date
		if p.StartTime != "" {
			when += " " + p.StartTime
		}
		content := fmt.Sprintf("Event %q was scheduled for %s", p.Title, when)
		if p.Location != "" {
			content += " at " + p.Location
		}
		drafts = append(drafts, Draft{Content: content, Type: brain.KnowledgeSchedule, ProjectID: p.ProjectID})
		if p.Location != "" {
			drafts = append(drafts, Draft{
				Content:   fmt.Sprintf("%q is used as a venue for %s", p.Location, p.Title),
				Type:      brain.KnowledgeLocation,
				ProjectID: p.ProjectID,
			})
		}
	case brain.LocationPayload:
		content := "Location shared: " + firstNonEmpty(p.Name, p.Address)
		if p.Name != "" && p.Address != "" {
			content += " (" + p.Address + ")"
		}
		if p.URL != "" {
			content += " " + p.URL
		}
		drafts = append(drafts, Draft{Content: content, Type: brain.KnowledgeLocation})
	}

	out := drafts[:0]
	for _, d := range drafts {
		d.Scope = brain.ScopeTeam
		d.Confidence = confidence
		if n, ok := d.normalize(brain.KnowledgeWorkflow); ok {
			out = append(out, n)
		}
	}
	return out, nil
}

// FromReview turns a peer review into personal feedback for the reviewee.
func (e *Extractor) FromReview(r Review) ([]Draft, error) {
	if r.RevieweeID == "" {
		return nil, fmt.Errorf("review %s has no reviewee", r.ID)
	}
	if r.Rating < 0 || r.Rating > 5 {
		return nil, fmt.Errorf("review %s: rating %d out of range", r.ID, r.Rating)
	}

	base := Draft{
		Scope:      brain.ScopePersonal,
		UserID:     r.RevieweeID,
		ProjectID:  r.ProjectID,
		RoleTag:    r.RoleTag,
		Confidence: ReviewConfidence,
	}
	var drafts []Draft
	if c := strings.TrimSpace(r.Comment); c != "" {
		d := base
		d.Type = brain.KnowledgePeerFeedback
		if r.Rating > 0 {
			d.Content = fmt.Sprintf("Peer feedback (%d/5): %s", r.Rating, c)
		} else {
			d.Content = "Peer feedback: " + c
		}
		drafts = append(drafts, d)
	}
	for _, s := range r.Strengths {
		if strings.TrimSpace(s) == "" {
			continue
		}
		d := base
		d.Type = brain.KnowledgePeerFeedback
		d.Content = "Strength noted by a peer: " + strings.TrimSpace(s)
		drafts = append(drafts, d)
	}
	for _, s := range r.Improvements {
		if strings.TrimSpace(s) == "" {
			continue
		}
		d := base
		d.Type = brain.KnowledgeLesson
		d.Content = "Area to improve: " + strings.TrimSpace(s)
		drafts = append(drafts, d)
	}

	out := drafts[:0]
	for _, d := range drafts {
		if n, ok := d.normalize(brain.KnowledgePeerFeedback); ok {
			out = append(out, n)
		}
	}
	return out, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
