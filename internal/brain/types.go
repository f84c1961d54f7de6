// Package brain holds the domain vocabulary shared by the extraction, knowledge
// and action packages: closed enumerations, typed action payloads and
// candidate actions.
package brain

import "fmt"

// Scope is the visibility tier of a knowledge item.
type Scope string

const (
	ScopePersonal Scope = "personal"
	ScopeTeam     Scope = "team"
	ScopeRole     Scope = "role"
	ScopeGlobal   Scope = "global"
)

// AllScopes lists every scope in a stable order.
var AllScopes = []Scope{ScopePersonal, ScopeTeam, ScopeRole, ScopeGlobal}

// ParseScope validates s.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case ScopePersonal, ScopeTeam, ScopeRole, ScopeGlobal:
		return Scope(s), nil
	}
	return "", fmt.Errorf("unknown scope %q", s)
}

// KnowledgeType is the closed set of knowledge item kinds.
type KnowledgeType string

const (
	KnowledgeDecisionPattern KnowledgeType = "decision_pattern"
	KnowledgeBudgetJudgment  KnowledgeType = "budget_judgment"
	KnowledgeRecurringRisk   KnowledgeType = "recurring_risk"
	KnowledgeWorkflow        KnowledgeType = "workflow_pattern"
	KnowledgeSchedule        KnowledgeType = "schedule_pattern"
	KnowledgePreference      KnowledgeType = "preference"
	KnowledgeResponsibility  KnowledgeType = "responsibility"
	KnowledgeLocation        KnowledgeType = "location_context"
	KnowledgePeerFeedback    KnowledgeType = "peer_feedback"
	KnowledgeLesson          KnowledgeType = "lesson_learned"
)

var knowledgeTypes = map[KnowledgeType]bool{
	KnowledgeDecisionPattern: true,
	KnowledgeBudgetJudgment:  true,
	KnowledgeRecurringRisk:   true,
	KnowledgeWorkflow:        true,
	KnowledgeSchedule:        true,
	KnowledgePreference:      true,
	KnowledgeResponsibility:  true,
	KnowledgeLocation:        true,
	KnowledgePeerFeedback:    true,
	KnowledgeLesson:          true,
}

// ParseKnowledgeType validates s.
func ParseKnowledgeType(s string) (KnowledgeType, error) {
	if knowledgeTypes[KnowledgeType(s)] {
		return KnowledgeType(s), nil
	}
	return "", fmt.Errorf("unknown knowledge type %q", s)
}

// SourceType identifies what a knowledge item was derived from.
type SourceType string

const (
	SourceDigest SourceType = "digest"
	SourceAction SourceType = "action"
	SourceReview SourceType = "review"
	SourceManual SourceType = "manual"
)

// DigestType is the section of a conversation digest.
type DigestType string

const (
	DigestDecisions   DigestType = "decisions"
	DigestActionItems DigestType = "action_items"
	DigestRisks       DigestType = "risks"
	DigestSummary     DigestType = "summary"
)

// ActionType identifies the kind of entity an action creates.
type ActionType string

const (
	ActionCreateTodo    ActionType = "create_todo"
	ActionCreateEvent   ActionType = "create_event"
	ActionShareLocation ActionType = "share_location"
)

// ActionStatus is a state of the confirm/execute state machine.
type ActionStatus string

const (
	StatusPending   ActionStatus = "pending"
	StatusConfirmed ActionStatus = "confirmed"
	StatusRejected  ActionStatus = "rejected"
	StatusExecuted  ActionStatus = "executed"
)

func ParseActionStatus(s string) (ActionStatus, error) {
	switch ActionStatus(s) {
	case StatusPending, StatusConfirmed, StatusRejected, StatusExecuted:
		return ActionStatus(s), nil
	}
	return "", fmt.Errorf("unknown action status %q", s)
}

// ClampConfidence forces c into [0,1]. NaN becomes 0.
func ClampConfidence(c float64) float64 {
	if c != c || c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

// Participant is a chat roster entry.
type Participant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
