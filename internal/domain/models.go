package domain

import (
	"time"

	"github.com/google/uuid"
)

// DocType identifies the regulatory style of a compliance document
type DocType string

const (
	DocTypeISO     DocType = "ISO"
	DocTypeDPDP    DocType = "DPDP"
	DocTypeRBI     DocType = "RBI"
	DocTypeGeneral DocType = "GENERAL"
)

// Priority is the significance level assigned to requirements and controls
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
)

// Segment is a bounded, ordered slice of a document's text.
// Ordinal is the zero-based position in the original page order; ID is a
// human-meaningful label derived from the segment's leading numbering token.
// Segments are immutable once produced by the segmenter.
type Segment struct {
	ID      string  `json:"id"`
	Ordinal int     `json:"ordinal"`
	DocType DocType `json:"doc_type"`
	Text    string  `json:"text"`

	// Offset is the position of the segment's own content (excluding the
	// overlap prefix) in the flattened document text.
	Offset int `json:"-"`
}

// Control is a suggested mitigation tied to one requirement
type Control struct {
	Priority    Priority `json:"priority"`
	Title       string   `json:"control_title"`
	Description string   `json:"control"`
}

// Requirement is an extracted mandatory-obligation record tied to a segment.
// ArticleNumber is the normalized leading numeric token of the owning
// segment's id, or the raw id when no numeric prefix exists.
type Requirement struct {
	Title         string    `json:"requirement_title"`
	ArticleNumber string    `json:"article_number"`
	Priority      Priority  `json:"priority"`
	ArticleText   string    `json:"article_text"`
	Statement     string    `json:"requirement"`
	Description   string    `json:"requirement_description"`
	Controls      []Control `json:"controls"`
}

// TaskStatus is the lifecycle state of an asynchronous analysis task
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusProcessing TaskStatus = "processing"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
	TaskStatusCancelled  TaskStatus = "cancelled"
)

// IsTerminal reports whether no transition may leave the state
func (s TaskStatus) IsTerminal() bool {
	switch s {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		return true
	}
	return false
}

// Task is an asynchronous analysis with an observable lifecycle.
// The task lifecycle manager is the sole writer; everyone else only reads.
type Task struct {
	ID                 uuid.UUID  `json:"task_id"`
	Status             TaskStatus `json:"status"`
	Progress           float64    `json:"progress"`
	Message            string     `json:"message,omitempty"`
	ResultLocation     string     `json:"result_location,omitempty"`
	CheckpointLocation string     `json:"checkpoint_location,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at"`
}

// Transition moves the task to the given status, enforcing the state
// machine: pending -> processing -> {completed | failed | cancelled}.
// Terminal states are final; an illegal move returns ErrInvalidState.
func (t *Task) Transition(to TaskStatus) error {
	if t.Status.IsTerminal() {
		return ErrInvalidState
	}
	switch to {
	case TaskStatusProcessing:
		if t.Status != TaskStatusPending {
			return ErrInvalidState
		}
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusCancelled:
		// Allowed from any non-terminal state.
	default:
		return ErrInvalidState
	}
	t.Status = to
	t.UpdatedAt = time.Now()
	return nil
}

// AnalysisResult is the final artifact of one completed analysis.
// Requirements are ordered by segment ordinal. Immutable after creation.
type AnalysisResult struct {
	DocumentName     string        `json:"document_name"`
	SegmentCount     int           `json:"segment_count"`
	RequirementCount int           `json:"requirement_count"`
	DroppedRecords   int           `json:"dropped_records"`
	Requirements     []Requirement `json:"requirements"`
	Status           string        `json:"status"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}
