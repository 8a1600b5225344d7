package usecases

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DevaanshArora/complianceASC/internal/checkpoint"
	"github.com/DevaanshArora/complianceASC/internal/domain"
	"github.com/DevaanshArora/complianceASC/internal/orchestrator"
	"github.com/DevaanshArora/complianceASC/internal/repositories"
	"github.com/DevaanshArora/complianceASC/internal/taskstore"
)

type fakeExtractor struct {
	pages []domain.Page
	err   error
}

func (f *fakeExtractor) ExtractPages(_ context.Context, _ string) ([]domain.Page, error) {
	return f.pages, f.err
}

type fakeSegmenter struct{}

func (fakeSegmenter) Segment(pages []domain.Page) (domain.DocType, string, []domain.Segment) {
	segments := make([]domain.Segment, len(pages))
	for i, page := range pages {
		segments[i] = domain.Segment{ID: "section_" + string(rune('1'+i)), Ordinal: i, Text: page.Text}
	}
	return domain.DocTypeGeneral, "Test Document", segments
}

// fakePipeline yields one requirement per segment. An optional gate blocks
// Run until released so tests can interleave cancellation.
type fakePipeline struct {
	gate chan struct{}
	err  error
}

func (f *fakePipeline) Run(ctx context.Context, segments []domain.Segment, _ string, sink domain.CheckpointSink, onProgress orchestrator.ProgressFunc) ([]domain.Requirement, orchestrator.Stats, error) {
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return nil, orchestrator.Stats{}, f.err
	}

	requirements := make([]domain.Requirement, len(segments))
	for i, segment := range segments {
		requirements[i] = domain.Requirement{Title: segment.ID, Priority: domain.PriorityMedium}
		if sink != nil {
			_ = sink.Write(ctx, requirements[:i+1])
		}
		if onProgress != nil {
			onProgress(i+1, len(segments))
		}
	}
	return requirements, orchestrator.Stats{Segments: len(segments), Requirements: len(requirements)}, nil
}

type fixture struct {
	usecase       *AnalysisUsecase
	tasks         *taskstore.MemoryStore
	checkpointDir string
}

func newFixture(t *testing.T, extractor domain.PageExtractor, pipeline Pipeline) *fixture {
	t.Helper()

	tasks := taskstore.NewMemoryStore(4, time.Hour)
	t.Cleanup(func() { tasks.Close() })

	results, err := repositories.NewFileRepository(t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)

	checkpointDir := t.TempDir()
	factory := func(taskID uuid.UUID) (domain.CheckpointSink, error) {
		return checkpoint.NewFileSink(checkpointDir, taskID.String())
	}

	return &fixture{
		usecase:       NewAnalysisUsecase(extractor, fakeSegmenter{}, pipeline, tasks, results, factory, 5.0, zaptest.NewLogger(t)),
		tasks:         tasks,
		checkpointDir: checkpointDir,
	}
}

func uploadFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upload.txt")
	require.NoError(t, os.WriteFile(path, []byte("uploaded content"), 0o644))
	return path
}

func twoPages() []domain.Page {
	return []domain.Page{
		{Index: 0, Text: "first part"},
		{Index: 1, Text: "second part"},
	}
}

func TestAnalyzeSyncPath(t *testing.T) {
	f := newFixture(t, &fakeExtractor{pages: twoPages()}, &fakePipeline{})
	path := uploadFile(t)

	submission, err := f.usecase.Analyze(context.Background(), path, 1024)
	require.NoError(t, err)

	assert.False(t, submission.Async)
	require.NotNil(t, submission.Result)
	assert.Equal(t, "Test Document", submission.Result.DocumentName)
	assert.Equal(t, 2, submission.Result.RequirementCount)

	// The sync path leaves no task record and removes the upload.
	assert.Equal(t, uuid.Nil, submission.TaskID)
	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))

	// Even without a task record, intermediate snapshots are persisted.
	checkpoints, err := filepath.Glob(filepath.Join(f.checkpointDir, "intermediate_results_*.json"))
	require.NoError(t, err)
	assert.Len(t, checkpoints, 1)
}

func TestAnalyzeAsyncPath(t *testing.T) {
	f := newFixture(t, &fakeExtractor{pages: twoPages()}, &fakePipeline{})
	path := uploadFile(t)

	submission, err := f.usecase.Analyze(context.Background(), path, 10*1024*1024)
	require.NoError(t, err)
	assert.True(t, submission.Async)
	assert.NotEqual(t, uuid.Nil, submission.TaskID)

	f.usecase.Shutdown()

	task, err := f.usecase.GetStatus(context.Background(), submission.TaskID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCompleted, task.Status)
	assert.InDelta(t, 1.0, task.Progress, 1e-9)
	assert.NotEmpty(t, task.ResultLocation)
	assert.NotEmpty(t, task.CheckpointLocation)

	result, err := f.usecase.GetResult(context.Background(), submission.TaskID)
	require.NoError(t, err)
	assert.Equal(t, 2, result.RequirementCount)

	_, statErr := os.Stat(path)
	assert.True(t, os.IsNotExist(statErr))
}

func TestAnalyzeAsyncFailure(t *testing.T) {
	f := newFixture(t, &fakeExtractor{err: domain.ErrDocumentUnreadable}, &fakePipeline{})

	submission, err := f.usecase.Analyze(context.Background(), uploadFile(t), 10*1024*1024)
	require.NoError(t, err)

	f.usecase.Shutdown()

	task, err := f.usecase.GetStatus(context.Background(), submission.TaskID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusFailed, task.Status)
	assert.NotEmpty(t, task.Message)

	_, err = f.usecase.GetResult(context.Background(), submission.TaskID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestAnalyzeSyncFailure(t *testing.T) {
	f := newFixture(t, &fakeExtractor{err: domain.ErrDocumentUnreadable}, &fakePipeline{})

	_, err := f.usecase.Analyze(context.Background(), uploadFile(t), 1024)
	assert.ErrorIs(t, err, domain.ErrDocumentUnreadable)
}

func TestCancelDiscardsInFlightResults(t *testing.T) {
	gate := make(chan struct{})
	f := newFixture(t, &fakeExtractor{pages: twoPages()}, &fakePipeline{gate: gate})

	submission, err := f.usecase.Analyze(context.Background(), uploadFile(t), 10*1024*1024)
	require.NoError(t, err)

	// Wait for the task to reach processing before cancelling.
	require.Eventually(t, func() bool {
		task, err := f.usecase.GetStatus(context.Background(), submission.TaskID)
		return err == nil && task.Status == domain.TaskStatusProcessing
	}, time.Second, 5*time.Millisecond)

	require.NoError(t, f.usecase.Cancel(context.Background(), submission.TaskID))

	close(gate)
	f.usecase.Shutdown()

	task, err := f.usecase.GetStatus(context.Background(), submission.TaskID)
	require.NoError(t, err)
	assert.Equal(t, domain.TaskStatusCancelled, task.Status)
	assert.Empty(t, task.ResultLocation)

	_, err = f.usecase.GetResult(context.Background(), submission.TaskID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestCancelTerminalTask(t *testing.T) {
	f := newFixture(t, &fakeExtractor{pages: twoPages()}, &fakePipeline{})

	submission, err := f.usecase.Analyze(context.Background(), uploadFile(t), 10*1024*1024)
	require.NoError(t, err)
	f.usecase.Shutdown()

	err = f.usecase.Cancel(context.Background(), submission.TaskID)
	assert.ErrorIs(t, err, domain.ErrInvalidState)
}

func TestCancelUnknownTask(t *testing.T) {
	f := newFixture(t, &fakeExtractor{pages: twoPages()}, &fakePipeline{})

	err := f.usecase.Cancel(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)
}

func TestGetResultNotReady(t *testing.T) {
	gate := make(chan struct{})
	f := newFixture(t, &fakeExtractor{pages: twoPages()}, &fakePipeline{gate: gate})

	submission, err := f.usecase.Analyze(context.Background(), uploadFile(t), 10*1024*1024)
	require.NoError(t, err)

	_, err = f.usecase.GetResult(context.Background(), submission.TaskID)
	assert.ErrorIs(t, err, domain.ErrResultNotReady)

	close(gate)
	f.usecase.Shutdown()
}

func TestGetStatusUnknownTask(t *testing.T) {
	f := newFixture(t, &fakeExtractor{pages: twoPages()}, &fakePipeline{})

	_, err := f.usecase.GetStatus(context.Background(), uuid.New())
	assert.ErrorIs(t, err, domain.ErrTaskNotFound)
}

func TestOpenArtifact(t *testing.T) {
	f := newFixture(t, &fakeExtractor{pages: twoPages()}, &fakePipeline{})

	submission, err := f.usecase.Analyze(context.Background(), uploadFile(t), 10*1024*1024)
	require.NoError(t, err)
	f.usecase.Shutdown()

	final, err := f.usecase.OpenArtifact(context.Background(), submission.TaskID, ArtifactFinal)
	require.NoError(t, err)
	final.Close()

	intermediate, err := f.usecase.OpenArtifact(context.Background(), submission.TaskID, ArtifactIntermediate)
	require.NoError(t, err)
	intermediate.Close()

	_, err = f.usecase.OpenArtifact(context.Background(), submission.TaskID, ArtifactType("bogus"))
	assert.Error(t, err)
}
