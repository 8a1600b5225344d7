package usecases

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DevaanshArora/complianceASC/internal/domain"
	"github.com/DevaanshArora/complianceASC/internal/orchestrator"
)

const (
	// Analysis progress is reported between these bounds: 0.1 once the
	// document is accepted for processing, 1.0 on completion.
	progressStart = 0.1
	progressSpan  = 0.8
)

// ArtifactType selects which analysis artifact a download refers to
type ArtifactType string

const (
	ArtifactIntermediate ArtifactType = "intermediate"
	ArtifactFinal        ArtifactType = "final"
)

// Segmenter splits extracted pages into labeled segments
type Segmenter interface {
	Segment(pages []domain.Page) (domain.DocType, string, []domain.Segment)
}

// Pipeline runs the concurrent extraction over a document's segments
type Pipeline interface {
	Run(ctx context.Context, segments []domain.Segment, documentName string, sink domain.CheckpointSink, onProgress orchestrator.ProgressFunc) ([]domain.Requirement, orchestrator.Stats, error)
}

// CheckpointFactory creates the checkpoint sink for one task
type CheckpointFactory func(taskID uuid.UUID) (domain.CheckpointSink, error)

// Submission is the outcome of accepting a document for analysis. Small
// documents are analyzed synchronously and carry the result directly;
// larger ones get a task id to poll.
type Submission struct {
	Async  bool
	TaskID uuid.UUID
	Result *domain.AnalysisResult
}

// AnalysisUsecase owns the task lifecycle: it decides between the
// synchronous and asynchronous paths, drives background analyses, and
// mediates every status, result, and cancellation request. Cancellation is
// observational: in-flight work is not interrupted, but its results are
// discarded once it finishes.
type AnalysisUsecase struct {
	extractor   domain.PageExtractor
	segmenter   Segmenter
	pipeline    Pipeline
	tasks       domain.TaskStore
	results     domain.ResultRepository
	checkpoints CheckpointFactory
	logger      *zap.Logger

	syncThresholdBytes int64
	wg                 sync.WaitGroup
}

// NewAnalysisUsecase wires the analysis pipeline behind the task lifecycle.
// syncThresholdMB is the size below which documents are analyzed inline.
func NewAnalysisUsecase(
	extractor domain.PageExtractor,
	segmenter Segmenter,
	pipeline Pipeline,
	tasks domain.TaskStore,
	results domain.ResultRepository,
	checkpoints CheckpointFactory,
	syncThresholdMB float64,
	logger *zap.Logger,
) *AnalysisUsecase {
	if syncThresholdMB <= 0 {
		syncThresholdMB = 5.0
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &AnalysisUsecase{
		extractor:          extractor,
		segmenter:          segmenter,
		pipeline:           pipeline,
		tasks:              tasks,
		results:            results,
		checkpoints:        checkpoints,
		logger:             logger,
		syncThresholdBytes: int64(syncThresholdMB * 1024 * 1024),
	}
}

// Analyze accepts an uploaded document saved at path. Documents under the
// size threshold are analyzed before returning and leave no task record;
// larger ones are queued and analyzed in the background. The uploaded file
// is removed once the analysis (sync or async) is done with it.
func (u *AnalysisUsecase) Analyze(ctx context.Context, path string, size int64) (*Submission, error) {
	if size < u.syncThresholdBytes {
		defer os.Remove(path)

		// Sync runs have no task record, but their intermediate snapshots
		// are still written durably under a generated id.
		sink, err := u.checkpoints(uuid.New())
		if err != nil {
			return nil, fmt.Errorf("failed to create checkpoint sink: %w", err)
		}
		result, err := u.analyze(ctx, path, sink, nil)
		if err != nil {
			return nil, err
		}
		return &Submission{Result: result}, nil
	}

	now := time.Now().UTC()
	task := &domain.Task{
		ID:        uuid.New(),
		Status:    domain.TaskStatusPending,
		Message:   "document queued for analysis",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := u.tasks.Create(ctx, task); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	u.wg.Add(1)
	go func() {
		defer u.wg.Done()
		u.runAnalysis(task.ID, path)
	}()

	u.logger.Info("analysis queued",
		zap.String("task_id", task.ID.String()),
		zap.Int64("size_bytes", size),
	)
	return &Submission{Async: true, TaskID: task.ID}, nil
}

// runAnalysis drives one background analysis from pending to a terminal
// state. It never propagates errors; failures land on the task record.
func (u *AnalysisUsecase) runAnalysis(taskID uuid.UUID, path string) {
	ctx := context.Background()
	defer os.Remove(path)

	_, err := u.tasks.Update(ctx, taskID, func(t *domain.Task) error {
		if err := t.Transition(domain.TaskStatusProcessing); err != nil {
			return err
		}
		t.Progress = progressStart
		t.Message = "analysis started"
		return nil
	})
	if err != nil {
		// Cancelled before work started; nothing to do.
		u.logger.Info("skipping analysis for task no longer pending",
			zap.String("task_id", taskID.String()),
			zap.Error(err),
		)
		return
	}

	sink, err := u.checkpoints(taskID)
	if err != nil {
		u.markFailed(ctx, taskID, fmt.Errorf("failed to create checkpoint sink: %w", err))
		return
	}
	if _, err := u.tasks.Update(ctx, taskID, func(t *domain.Task) error {
		t.CheckpointLocation = sink.Location()
		return nil
	}); err != nil {
		u.logger.Warn("failed to record checkpoint location",
			zap.String("task_id", taskID.String()),
			zap.Error(err),
		)
	}

	onProgress := func(done, total int) {
		progress := progressStart + progressSpan*float64(done)/float64(total)
		if _, err := u.tasks.Update(ctx, taskID, func(t *domain.Task) error {
			if t.Status != domain.TaskStatusProcessing {
				return domain.ErrInvalidState
			}
			t.Progress = progress
			t.Message = fmt.Sprintf("processed %d of %d segments", done, total)
			return nil
		}); err != nil {
			u.logger.Debug("progress update skipped",
				zap.String("task_id", taskID.String()),
				zap.Error(err),
			)
		}
	}

	result, err := u.analyze(ctx, path, sink, onProgress)
	if err != nil {
		u.markFailed(ctx, taskID, err)
		return
	}

	// A task cancelled mid-flight keeps running to this point; its output
	// is discarded instead of being published.
	task, err := u.tasks.Get(ctx, taskID)
	if err == nil && task.Status == domain.TaskStatusCancelled {
		u.logger.Info("discarding results of cancelled task",
			zap.String("task_id", taskID.String()),
		)
		return
	}

	location, err := u.results.Save(ctx, taskID, result)
	if err != nil {
		u.markFailed(ctx, taskID, fmt.Errorf("failed to save result: %w", err))
		return
	}

	if _, err := u.tasks.Update(ctx, taskID, func(t *domain.Task) error {
		if err := t.Transition(domain.TaskStatusCompleted); err != nil {
			return err
		}
		t.Progress = 1.0
		t.Message = fmt.Sprintf("analysis complete: %d requirements extracted", result.RequirementCount)
		t.ResultLocation = location
		return nil
	}); err != nil {
		u.logger.Info("completed analysis not published",
			zap.String("task_id", taskID.String()),
			zap.Error(err),
		)
		return
	}

	u.logger.Info("analysis completed",
		zap.String("task_id", taskID.String()),
		zap.String("document", result.DocumentName),
		zap.Int("requirements", result.RequirementCount),
	)
}

// analyze runs the shared extraction pipeline for both paths.
func (u *AnalysisUsecase) analyze(ctx context.Context, path string, sink domain.CheckpointSink, onProgress orchestrator.ProgressFunc) (*domain.AnalysisResult, error) {
	pages, err := u.extractor.ExtractPages(ctx, path)
	if err != nil {
		return nil, err
	}

	docType, documentName, segments := u.segmenter.Segment(pages)

	u.logger.Info("document segmented",
		zap.String("document", documentName),
		zap.String("doc_type", string(docType)),
		zap.Int("segments", len(segments)),
	)

	requirements, stats, err := u.pipeline.Run(ctx, segments, documentName, sink, onProgress)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	return &domain.AnalysisResult{
		DocumentName:     documentName,
		SegmentCount:     stats.Segments,
		RequirementCount: stats.Requirements,
		DroppedRecords:   stats.Dropped,
		Requirements:     requirements,
		Status:           "completed",
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}

func (u *AnalysisUsecase) markFailed(ctx context.Context, taskID uuid.UUID, cause error) {
	u.logger.Error("analysis failed",
		zap.String("task_id", taskID.String()),
		zap.Error(cause),
	)

	if _, err := u.tasks.Update(ctx, taskID, func(t *domain.Task) error {
		if err := t.Transition(domain.TaskStatusFailed); err != nil {
			return err
		}
		t.Message = cause.Error()
		return nil
	}); err != nil {
		u.logger.Warn("failed to mark task as failed",
			zap.String("task_id", taskID.String()),
			zap.Error(err),
		)
	}
}

// GetStatus returns the task record or ErrTaskNotFound.
func (u *AnalysisUsecase) GetStatus(ctx context.Context, taskID uuid.UUID) (*domain.Task, error) {
	return u.tasks.Get(ctx, taskID)
}

// GetResult returns the final result of a completed task. Pending or
// processing tasks yield ErrResultNotReady; failed or cancelled tasks yield
// ErrInvalidState; a completed task whose artifact is gone yields
// ErrResultMissing.
func (u *AnalysisUsecase) GetResult(ctx context.Context, taskID uuid.UUID) (*domain.AnalysisResult, error) {
	task, err := u.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}

	switch task.Status {
	case domain.TaskStatusPending, domain.TaskStatusProcessing:
		return nil, domain.ErrResultNotReady
	case domain.TaskStatusFailed, domain.TaskStatusCancelled:
		return nil, domain.ErrInvalidState
	}

	if task.ResultLocation == "" {
		return nil, domain.ErrResultMissing
	}
	return u.results.Load(ctx, task.ResultLocation)
}

// OpenArtifact opens an analysis artifact for download. Intermediate
// checkpoints are available while the task is still processing; the final
// artifact only once the task completed.
func (u *AnalysisUsecase) OpenArtifact(ctx context.Context, taskID uuid.UUID, artifact ArtifactType) (io.ReadCloser, error) {
	task, err := u.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}

	switch artifact {
	case ArtifactIntermediate:
		if task.CheckpointLocation == "" {
			return nil, domain.ErrResultMissing
		}
		f, err := os.Open(task.CheckpointLocation)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, domain.ErrResultMissing
			}
			return nil, err
		}
		return f, nil

	case ArtifactFinal:
		if task.Status != domain.TaskStatusCompleted {
			return nil, domain.ErrResultNotReady
		}
		if task.ResultLocation == "" {
			return nil, domain.ErrResultMissing
		}
		return u.results.Open(ctx, task.ResultLocation)

	default:
		return nil, fmt.Errorf("unknown artifact type %q", artifact)
	}
}

// Cancel marks a pending or processing task as cancelled. Work already in
// flight is not interrupted; its results are discarded when it finishes.
// Cancelling a terminal task returns ErrInvalidState.
func (u *AnalysisUsecase) Cancel(ctx context.Context, taskID uuid.UUID) error {
	_, err := u.tasks.Update(ctx, taskID, func(t *domain.Task) error {
		if err := t.Transition(domain.TaskStatusCancelled); err != nil {
			return err
		}
		t.Message = "cancelled by request"
		return nil
	})
	if err != nil {
		if errors.Is(err, domain.ErrTaskNotFound) || errors.Is(err, domain.ErrInvalidState) {
			return err
		}
		return fmt.Errorf("failed to cancel task: %w", err)
	}

	u.logger.Info("task cancelled", zap.String("task_id", taskID.String()))
	return nil
}

// Shutdown waits for in-flight background analyses to finish.
func (u *AnalysisUsecase) Shutdown() {
	u.wg.Wait()
	u.logger.Info("analysis usecase stopped")
}
