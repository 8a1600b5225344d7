package extractor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DevaanshArora/complianceASC/internal/domain"
)

type fakeInferenceClient struct {
	requirements domain.Records
	controls     domain.Records
	requirErrs   error
	controlErr   error
	calls        []domain.InferenceTask
}

func (f *fakeInferenceClient) Infer(_ context.Context, task domain.InferenceTask, _ domain.InferencePayload) (domain.Records, error) {
	f.calls = append(f.calls, task)
	switch task {
	case domain.TaskDiscoverRequirements:
		return f.requirements, f.requirErrs
	case domain.TaskSuggestControls:
		return f.controls, f.controlErr
	}
	return nil, nil
}

func validRequirementRecord(title string) map[string]any {
	return map[string]any{
		"requirement_title":       title,
		"article_number":          "ignored",
		"priority":                "high",
		"article_text":            "ignored",
		"requirement":             "The organization shall " + title,
		"requirement_description": "Broader context for " + title,
	}
}

func validControlRecord(title string) map[string]any {
	return map[string]any{
		"priority":      "medium",
		"control_title": title,
		"control":       "Implement " + title,
	}
}

func newTestStage(t *testing.T, client domain.InferenceClient) *Stage {
	t.Helper()
	stage, err := NewStage(client, zaptest.NewLogger(t))
	require.NoError(t, err)
	return stage
}

func TestExtractOverwritesSectionFields(t *testing.T) {
	client := &fakeInferenceClient{
		requirements: domain.Records{validRequirementRecord("maintain records")},
		controls:     domain.Records{validControlRecord("record register")},
	}
	stage := newTestStage(t, client)

	segment := domain.Segment{
		ID:      "6.1.2 Determining requirements",
		Ordinal: 3,
		Text:    "The organization shall determine...",
	}
	reqs, dropped := stage.Extract(context.Background(), segment, "ISO 9001")

	require.Len(t, reqs, 1)
	assert.Zero(t, dropped)
	assert.Equal(t, "6.1.2", reqs[0].ArticleNumber)
	assert.Equal(t, segment.Text, reqs[0].ArticleText)
	assert.Equal(t, "maintain records", reqs[0].Title)
	require.Len(t, reqs[0].Controls, 1)
	assert.Equal(t, "record register", reqs[0].Controls[0].Title)
}

func TestExtractDiscoveryFailureIsIsolated(t *testing.T) {
	client := &fakeInferenceClient{
		requirErrs: &domain.InferenceError{
			Task:  domain.TaskDiscoverRequirements,
			Cause: domain.ErrMalformedResponse,
		},
	}
	stage := newTestStage(t, client)

	reqs, dropped := stage.Extract(context.Background(), domain.Segment{ID: "section_1", Text: "x"}, "doc")

	assert.Empty(t, reqs)
	assert.Zero(t, dropped)
	// No control call should be attempted after a failed discovery.
	assert.Equal(t, []domain.InferenceTask{domain.TaskDiscoverRequirements}, client.calls)
}

func TestExtractControlFailureYieldsEmptyControls(t *testing.T) {
	client := &fakeInferenceClient{
		requirements: domain.Records{validRequirementRecord("review access")},
		controlErr: &domain.InferenceError{
			Task:  domain.TaskSuggestControls,
			Cause: domain.ErrMalformedResponse,
		},
	}
	stage := newTestStage(t, client)

	reqs, dropped := stage.Extract(context.Background(), domain.Segment{ID: "8.2", Text: "x"}, "doc")

	require.Len(t, reqs, 1)
	assert.Zero(t, dropped)
	assert.NotNil(t, reqs[0].Controls)
	assert.Empty(t, reqs[0].Controls)
}

func TestExtractDropsInvalidRecords(t *testing.T) {
	invalid := validRequirementRecord("broken")
	invalid["priority"] = "urgent"

	client := &fakeInferenceClient{
		requirements: domain.Records{
			validRequirementRecord("keep me"),
			invalid,
			{"requirement_title": "missing fields"},
		},
		controls: domain.Records{
			validControlRecord("good control"),
			{"priority": "low"},
		},
	}
	stage := newTestStage(t, client)

	reqs, dropped := stage.Extract(context.Background(), domain.Segment{ID: "4.1", Text: "x"}, "doc")

	require.Len(t, reqs, 1)
	assert.Equal(t, 2, dropped)
	assert.Equal(t, "keep me", reqs[0].Title)
	// Invalid control records are silently dropped without affecting the count.
	require.Len(t, reqs[0].Controls, 1)
	assert.Equal(t, "good control", reqs[0].Controls[0].Title)
}

func TestSectionNumber(t *testing.T) {
	tests := []struct {
		id   string
		want string
	}{
		{"6.1.2 Determining requirements", "6.1.2"},
		{"12. General", "12"},
		{"ANNEX A", "ANNEX A"},
		{"section_4", "section_4"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SectionNumber(tt.id), tt.id)
	}
}
