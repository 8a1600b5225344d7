package orchestrator

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DevaanshArora/complianceASC/internal/domain"
)

// jitterExtractor returns one requirement per segment after a random delay
// so completion order differs from submission order.
type jitterExtractor struct {
	failOrdinal int
	dropped     int
}

func (e *jitterExtractor) Extract(_ context.Context, segment domain.Segment, _ string) ([]domain.Requirement, int) {
	time.Sleep(time.Duration(rand.Intn(20)) * time.Millisecond)
	if segment.Ordinal == e.failOrdinal {
		return nil, 0
	}
	return []domain.Requirement{
		{Title: segment.ID, ArticleNumber: segment.ID},
	}, e.dropped
}

// recordingSink captures every snapshot written to it.
type recordingSink struct {
	mu        sync.Mutex
	snapshots [][]domain.Requirement
}

func (s *recordingSink) Write(_ context.Context, snapshot []domain.Requirement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make([]domain.Requirement, len(snapshot))
	copy(copied, snapshot)
	s.snapshots = append(s.snapshots, copied)
	return nil
}

func (s *recordingSink) Location() string { return "memory" }

func makeSegments(n int) []domain.Segment {
	segments := make([]domain.Segment, n)
	for i := range segments {
		segments[i] = domain.Segment{
			ID:      fmt.Sprintf("%d. Section", i+1),
			Ordinal: i,
			Text:    "text",
		}
	}
	return segments
}

func TestRunPreservesSegmentOrder(t *testing.T) {
	segments := makeSegments(12)
	o := New(&jitterExtractor{failOrdinal: -1}, 4, zaptest.NewLogger(t))

	merged, stats, err := o.Run(context.Background(), segments, "doc", nil, nil)
	require.NoError(t, err)

	require.Len(t, merged, 12)
	assert.Equal(t, 12, stats.Segments)
	assert.Equal(t, 12, stats.Requirements)
	for i, req := range merged {
		assert.Equal(t, segments[i].ID, req.Title)
	}
}

func TestRunCheckpointsEveryCompletion(t *testing.T) {
	segments := makeSegments(6)
	sink := &recordingSink{}
	o := New(&jitterExtractor{failOrdinal: -1}, 3, zaptest.NewLogger(t))

	_, _, err := o.Run(context.Background(), segments, "doc", sink, nil)
	require.NoError(t, err)

	require.Len(t, sink.snapshots, 6)
	// Snapshots grow monotonically and each one is internally ordered.
	for i, snapshot := range sink.snapshots {
		assert.Len(t, snapshot, i+1)
		for j := 1; j < len(snapshot); j++ {
			assert.Less(t, snapshot[j-1].Title, snapshot[j].Title)
		}
	}
	assert.Equal(t, segments[0].ID, sink.snapshots[len(sink.snapshots)-1][0].Title)
}

func TestRunIsolatesFailedSegment(t *testing.T) {
	segments := makeSegments(5)
	o := New(&jitterExtractor{failOrdinal: 2}, 2, zaptest.NewLogger(t))

	merged, stats, err := o.Run(context.Background(), segments, "doc", nil, nil)
	require.NoError(t, err)

	require.Len(t, merged, 4)
	assert.Equal(t, 4, stats.Requirements)
	want := []string{segments[0].ID, segments[1].ID, segments[3].ID, segments[4].ID}
	for i, req := range merged {
		assert.Equal(t, want[i], req.Title)
	}
}

func TestRunReportsProgress(t *testing.T) {
	segments := makeSegments(4)
	o := New(&jitterExtractor{failOrdinal: -1}, 2, zaptest.NewLogger(t))

	var mu sync.Mutex
	var seen []int
	_, _, err := o.Run(context.Background(), segments, "doc", nil, func(done, total int) {
		mu.Lock()
		defer mu.Unlock()
		assert.Equal(t, 4, total)
		seen = append(seen, done)
	})
	require.NoError(t, err)

	// Callbacks fire once per completion and the reported count never
	// goes backwards, regardless of which worker finishes first.
	assert.Equal(t, []int{1, 2, 3, 4}, seen)
}

func TestRunEmptySegments(t *testing.T) {
	o := New(&jitterExtractor{failOrdinal: -1}, 6, zaptest.NewLogger(t))

	merged, stats, err := o.Run(context.Background(), nil, "doc", nil, nil)
	require.NoError(t, err)
	assert.Empty(t, merged)
	assert.Zero(t, stats.Segments)
}

func TestRunCancelledContext(t *testing.T) {
	segments := makeSegments(50)
	o := New(&jitterExtractor{failOrdinal: -1}, 2, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := o.Run(ctx, segments, "doc", nil, nil)
	assert.ErrorIs(t, err, context.Canceled)
}
