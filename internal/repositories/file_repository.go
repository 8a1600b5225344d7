package repositories

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DevaanshArora/complianceASC/internal/domain"
)

// FileRepository persists analysis results as JSON files on local disk,
// one file per task. The location handed back by Save is the file path,
// which later Load and Open calls take verbatim.
type FileRepository struct {
	dir    string
	logger *zap.Logger
}

// NewFileRepository creates the results directory if needed
func NewFileRepository(dir string, logger *zap.Logger) (*FileRepository, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create results directory: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &FileRepository{dir: dir, logger: logger}, nil
}

// Save writes the result atomically and returns its location.
func (r *FileRepository) Save(ctx context.Context, taskID uuid.UUID, result *domain.AnalysisResult) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode result: %w", err)
	}

	path := filepath.Join(r.dir, fmt.Sprintf("results_%s.json", taskID))

	tmp, err := os.CreateTemp(r.dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp result file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to write result: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to close temp result file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return "", fmt.Errorf("failed to replace result file: %w", err)
	}

	r.logger.Debug("result saved",
		zap.String("task_id", taskID.String()),
		zap.String("path", path),
	)
	return path, nil
}

// Load reads a result back from its location.
func (r *FileRepository) Load(ctx context.Context, location string) (*domain.AnalysisResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(location)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrResultMissing
		}
		return nil, fmt.Errorf("failed to read result file: %w", err)
	}

	var result domain.AnalysisResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode result file: %w", err)
	}
	return &result, nil
}

// Open returns the raw result stream for downloads.
func (r *FileRepository) Open(ctx context.Context, location string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f, err := os.Open(location)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, domain.ErrResultMissing
		}
		return nil, fmt.Errorf("failed to open result file: %w", err)
	}
	return f, nil
}

// Verify that FileRepository implements domain.ResultRepository
var _ domain.ResultRepository = (*FileRepository)(nil)
