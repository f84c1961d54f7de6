// Package knowledge turns digests, executed actions and peer reviews into
// embedded knowledge items.
package knowledge

import (
	"strings"

	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/brain"
)

// Draft is a knowledge item before it has an id, an embedding or a source.
type Draft struct {
	Content    string
	Summary    string
	Type       brain.KnowledgeType
	Scope      brain.Scope
	UserID     string
	ProjectID  string
	RoleTag    string
	Confidence float64
}

// Review is a peer review submitted for a teammate.
type Review struct {
	ID           string   `json:"id"`
	ReviewerID   string   `json:"reviewerId"`
	RevieweeID   string   `json:"revieweeId"`
	ProjectID    string   `json:"projectId,omitempty"`
	RoleTag      string   `json:"roleTag,omitempty"`
	Rating       int      `json:"rating"` // 1..5
	Comment      string   `json:"comment,omitempty"`
	Strengths    []string `json:"strengths,omitempty"`
	Improvements []string `json:"improvements,omitempty"`
}

// normalize fixes a draft so it can be stored: unknown scopes become team,
// a personal draft without an owner becomes team, confidence is clamped.
// ok is false when there is nothing to store.
func (d Draft) normalize(fallbackType brain.KnowledgeType) (Draft, bool) {
	d.Content = strings.TrimSpace(d.Content)
	if d.Content == "" {
		return d, false
	}
	if _, err := brain.ParseKnowledgeType(string(d.Type)); err != nil {
		d.Type = fallbackType
	}
	if _, err := brain.ParseScope(string(d.Scope)); err != nil {
		d.Scope = brain.ScopeTeam
	}
	if d.Scope == brain.ScopePersonal && d.UserID == "" {
		d.Scope = brain.ScopeTeam
	}
	if d.Scope == brain.ScopeRole && d.RoleTag == "" {
		d.Scope = brain.ScopeTeam
	}
	d.Confidence = brain.ClampConfidence(d.Confidence)
	return d, true
}

var (
	budgetWords   = []string{"예산", "비용", "견적", "단가", "budget", "cost", "price", "quote"}
	scheduleWords = []string{"일정", "마감", "데드라인", "매주", "schedule", "deadline", "weekly", "every "}
)

// typeFor picks the knowledge type for a digest entry. Budget and schedule
// vocabulary override the section default.
func typeFor(section brain.DigestType, entry string) brain.KnowledgeType {
	lower := strings.ToLower(entry)
	for _, w := range budgetWords {
		if strings.Contains(lower, w) {
			return brain.KnowledgeBudgetJudgment
		}
	}
	for _, w := range scheduleWords {
		if strings.Contains(lower, w) {
			return brain.KnowledgeSchedule
		}
	}
	return sectionType(section)
}

func sectionType(section brain.DigestType) brain.KnowledgeType {
	switch section {
	case brain.DigestDecisions:
		return brain.KnowledgeDecisionPattern
	case brain.DigestActionItems:
		return brain.KnowledgeResponsibility
	case brain.DigestRisks:
		return brain.KnowledgeRecurringRisk
	}
	return brain.KnowledgeLesson
}
