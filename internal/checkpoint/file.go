package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/DevaanshArora/complianceASC/internal/domain"
)

// FileSink persists intermediate requirement snapshots to a single JSON
// file. Writes go through a temporary file in the same directory followed
// by a rename, so readers never observe a partially written snapshot.
type FileSink struct {
	path string
}

// NewFileSink creates the sink's directory if needed and returns a sink
// writing to intermediate_results_{taskID}.json inside it.
func NewFileSink(dir, taskID string) (*FileSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &FileSink{
		path: filepath.Join(dir, fmt.Sprintf("intermediate_results_%s.json", taskID)),
	}, nil
}

// Write replaces the checkpoint file with the given snapshot.
func (s *FileSink) Write(ctx context.Context, snapshot []domain.Requirement) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(snapshot, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode checkpoint: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp checkpoint file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close temp checkpoint file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace checkpoint file: %w", err)
	}
	return nil
}

// Location returns the checkpoint file path.
func (s *FileSink) Location() string {
	return s.path
}

// Verify that FileSink implements domain.CheckpointSink
var _ domain.CheckpointSink = (*FileSink)(nil)
