package orchestrator

import (
	"context"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/DevaanshArora/complianceASC/internal/domain"
)

// segmentTask carries one segment to a worker with its ordinal for ordering
type segmentTask struct {
	Ordinal int
	Segment domain.Segment
}

// segmentResult holds one segment's extraction output keyed by ordinal
type segmentResult struct {
	Requirements []domain.Requirement
	Dropped      int
}

// Stats summarizes one orchestrated run.
type Stats struct {
	Segments     int
	Requirements int
	Dropped      int
}

// ProgressFunc reports completed segments out of the total after each one.
type ProgressFunc func(done, total int)

// Orchestrator fans a document's segments out to a worker pool and merges
// the extracted requirements back in document order. Workers run
// concurrently but the final slice, and every checkpoint snapshot written
// along the way, always follows segment ordinals.
type Orchestrator struct {
	extractor domain.SegmentExtractor
	workers   int
	logger    *zap.Logger
}

// New creates an orchestrator over the given extractor and worker count
func New(extractor domain.SegmentExtractor, workers int, logger *zap.Logger) *Orchestrator {
	if workers < 1 {
		workers = 1
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Orchestrator{
		extractor: extractor,
		workers:   workers,
		logger:    logger,
	}
}

// Run extracts all segments and returns requirements in segment order.
// After every segment completes, the full ordered snapshot of results so
// far is written to the checkpoint sink. Per-segment failures surface as
// empty extractions; Run itself fails only on context cancellation.
func (o *Orchestrator) Run(ctx context.Context, segments []domain.Segment, documentName string, sink domain.CheckpointSink, onProgress ProgressFunc) ([]domain.Requirement, Stats, error) {
	stats := Stats{Segments: len(segments)}
	if len(segments) == 0 {
		return []domain.Requirement{}, stats, nil
	}

	start := time.Now()
	workers := o.workers
	if workers > len(segments) {
		workers = len(segments)
	}

	tasks := make(chan segmentTask)
	results := make(map[int]segmentResult, len(segments))
	done := 0
	var mu sync.Mutex

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for task := range tasks {
				o.logger.Debug("extracting segment",
					zap.Int("worker_id", workerID),
					zap.Int("ordinal", task.Ordinal),
					zap.String("segment", task.Segment.ID),
				)
				requirements, dropped := o.extractor.Extract(ctx, task.Segment, documentName)

				// Record the result, checkpoint, and report progress under
				// one lock so each written snapshot reflects a consistent
				// set of completions and neither the snapshot nor the
				// reported count ever regresses behind a later one.
				mu.Lock()
				results[task.Ordinal] = segmentResult{Requirements: requirements, Dropped: dropped}
				done++
				if sink != nil {
					if err := sink.Write(ctx, orderedSnapshot(results)); err != nil {
						o.logger.Warn("checkpoint write failed",
							zap.Int("ordinal", task.Ordinal),
							zap.Error(err),
						)
					}
				}
				if onProgress != nil {
					onProgress(done, len(segments))
				}
				mu.Unlock()
			}
		}(i)
	}

	feedErr := o.feed(ctx, tasks, segments)
	wg.Wait()

	if feedErr != nil {
		return nil, stats, feedErr
	}
	if err := ctx.Err(); err != nil {
		return nil, stats, err
	}

	merged := orderedSnapshot(results)
	for _, result := range results {
		stats.Dropped += result.Dropped
	}
	stats.Requirements = len(merged)

	o.logger.Info("document orchestrated",
		zap.String("document", documentName),
		zap.Int("segments", stats.Segments),
		zap.Int("requirements", stats.Requirements),
		zap.Int("dropped", stats.Dropped),
		zap.Duration("duration", time.Since(start)),
	)

	return merged, stats, nil
}

// feed sends segments to the worker pool, bailing out on cancellation.
// The channel is always closed so workers drain and exit.
func (o *Orchestrator) feed(ctx context.Context, tasks chan<- segmentTask, segments []domain.Segment) error {
	defer close(tasks)
	for i, segment := range segments {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case tasks <- segmentTask{Ordinal: i, Segment: segment}:
		}
	}
	return nil
}

// orderedSnapshot flattens completed results into one slice following
// segment ordinals. Ordinals not yet completed are simply absent.
func orderedSnapshot(results map[int]segmentResult) []domain.Requirement {
	ordinals := make([]int, 0, len(results))
	for ordinal := range results {
		ordinals = append(ordinals, ordinal)
	}
	sort.Ints(ordinals)

	snapshot := make([]domain.Requirement, 0, len(results))
	for _, ordinal := range ordinals {
		snapshot = append(snapshot, results[ordinal].Requirements...)
	}
	return snapshot
}
