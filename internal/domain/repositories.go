package domain

import (
	"context"
	"io"

	"github.com/google/uuid"
)

// TaskStore is the keyed registry of task records. Access is mediated:
// Update applies the mutation under the store's per-key discipline so
// readers never observe a partially updated record.
type TaskStore interface {
	// Create registers a new task record
	Create(ctx context.Context, task *Task) error

	// Get returns a copy of the task record or ErrTaskNotFound
	Get(ctx context.Context, id uuid.UUID) (*Task, error)

	// Update applies mutate to the record under the per-key lock and
	// returns the updated copy. An error from mutate aborts the update.
	Update(ctx context.Context, id uuid.UUID, mutate func(*Task) error) (*Task, error)

	// Close releases the store's resources
	Close() error
}

// ResultRepository persists final analysis artifacts keyed by task id.
// Save returns an opaque location usable with Load and Open.
type ResultRepository interface {
	Save(ctx context.Context, taskID uuid.UUID, result *AnalysisResult) (string, error)
	Load(ctx context.Context, location string) (*AnalysisResult, error)

	// Open returns the raw artifact bytes for download
	Open(ctx context.Context, location string) (io.ReadCloser, error)
}

// HealthChecker is implemented by backends with an external connection
type HealthChecker interface {
	// CheckConnection checks if the backend connection is healthy
	CheckConnection(ctx context.Context) error

	// EnsureCollections ensures that required collections/namespaces exist
	EnsureCollections(ctx context.Context) error
}

// Page is one page of extracted document text in source order
type Page struct {
	Text  string
	Index int
}

// PageExtractor converts a source file into an ordered sequence of page
// texts. Failure to parse yields ErrDocumentUnreadable.
type PageExtractor interface {
	ExtractPages(ctx context.Context, path string) ([]Page, error)
}

// CheckpointSink accepts a full ordered snapshot of in-progress results and
// persists it, overwriting the previous snapshot. Writes are atomic enough
// that a concurrent reader never observes a half-written artifact.
type CheckpointSink interface {
	Write(ctx context.Context, snapshot []Requirement) error
	Location() string
}
