package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kyungsinkim-sketch/nexus-planner-spark-sub006/internal/brain"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// ChatMessage mirrors a message from the chat subsystem. Seq is assigned on
// insert and increases monotonically across all conversations.
type ChatMessage struct {
	Seq            int64
	ID             string
	ConversationID string
	ProjectID      string
	AuthorID       string
	AuthorName     string
	Text           string
	CreatedAt      time.Time
}

type Digest struct {
	ID             string
	ConversationID string
	ProjectID      string
	Type           brain.DigestType
	Content        json.RawMessage
	RangeStartSeq  int64
	RangeEndSeq    int64
	RangeStartID   string
	RangeEndID     string
	MessageCount   int
	Model          string
	Confidence     float64
	CreatedAt      time.Time
	ExpiresAt      *time.Time
}

// Entries decodes Content. List digests hold a JSON array of strings; a
// summary digest holds a single JSON string, returned as one entry.
func (d Digest) Entries() ([]string, error) {
	if d.Type == brain.DigestSummary {
		var text string
		if err := json.Unmarshal(d.Content, &text); err != nil {
			return nil, fmt.Errorf("decoding summary digest %s: %w", d.ID, err)
		}
		if text == "" {
			return nil, nil
		}
		return []string{text}, nil
	}
	var entries []string
	if err := json.Unmarshal(d.Content, &entries); err != nil {
		return nil, fmt.Errorf("decoding %s digest %s: %w", d.Type, d.ID, err)
	}
	return entries, nil
}

type Action struct {
	ID              string
	SourceMessageID string
	Ordinal         int
	ConversationID  string
	Type            brain.ActionType
	Status          brain.ActionStatus
	ExtractedData   json.RawMessage
	ExecutedData    json.RawMessage // nil until executed
	Confidence      float64
	Source          string // "llm" or "deterministic"
	DecidedBy       string
	CreatedAt       time.Time
	DecidedAt       *time.Time
	ExecutedAt      *time.Time
}

// Payload decodes ExtractedData into the payload shape for the action type.
func (a Action) Payload() (brain.Payload, error) {
	return brain.DecodePayload(a.Type, a.ExtractedData)
}

// Entity is a record handed off to the subsystem that owns todos, events or
// location shares.
type Entity struct {
	ID        string
	ActionID  string
	Kind      string
	Payload   json.RawMessage
	CreatedAt time.Time
}

type KnowledgeItem struct {
	ID             string
	UserID         string
	ProjectID      string
	Scope          brain.Scope
	Content        string
	Summary        string
	Type           brain.KnowledgeType
	SourceType     brain.SourceType
	SourceID       string
	RoleTag        string
	Confidence     float64
	RelevanceScore float64
	UsageCount     int
	LastUsedAt     *time.Time
	IsActive       bool
	ExpiresAt      *time.Time
	Embedding      []float32
	EmbeddingModel string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

const (
	ExtractionProcessing = "processing"
	ExtractionCompleted  = "completed"
	ExtractionFailed     = "failed"
)

type ExtractionLog struct {
	SourceType   brain.SourceType
	SourceID     string
	Status       string
	ItemsCreated int
	Error        string
	StartedAt    time.Time
	UpdatedAt    time.Time
}

type QueryLog struct {
	ID             string
	UserID         string
	QueryText      string
	QueryEmbedding []float32
	Scopes         []brain.Scope
	ProjectID      string
	RoleTag        string
	Threshold      float64
	RetrievedIDs   []string
	ResultCount    int
	TopSimilarity  float64
	Helpful        *bool
	CreatedAt      time.Time
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}
