package checkpoint

import (
	"context"
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DevaanshArora/complianceASC/internal/domain"
)

func TestFileSinkWriteAndReplace(t *testing.T) {
	dir := t.TempDir()
	sink, err := NewFileSink(dir, "task-1")
	require.NoError(t, err)

	first := []domain.Requirement{{Title: "first", Priority: domain.PriorityHigh}}
	require.NoError(t, sink.Write(context.Background(), first))

	second := append(first, domain.Requirement{Title: "second", Priority: domain.PriorityLow})
	require.NoError(t, sink.Write(context.Background(), second))

	data, err := os.ReadFile(sink.Location())
	require.NoError(t, err)

	var got []domain.Requirement
	require.NoError(t, json.Unmarshal(data, &got))
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].Title)
	assert.Equal(t, "second", got[1].Title)
}

func TestFileSinkEmptySnapshot(t *testing.T) {
	sink, err := NewFileSink(t.TempDir(), "task-2")
	require.NoError(t, err)

	require.NoError(t, sink.Write(context.Background(), []domain.Requirement{}))

	data, err := os.ReadFile(sink.Location())
	require.NoError(t, err)
	assert.JSONEq(t, "[]", string(data))
}

func TestFileSinkCancelledContext(t *testing.T) {
	sink, err := NewFileSink(t.TempDir(), "task-3")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = sink.Write(ctx, nil)
	assert.ErrorIs(t, err, context.Canceled)
	_, statErr := os.Stat(sink.Location())
	assert.True(t, os.IsNotExist(statErr))
}
