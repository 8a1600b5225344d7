package inference

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/DevaanshArora/complianceASC/internal/domain"
)

func chatServer(t *testing.T, content string, status int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if status != http.StatusOK {
			w.WriteHeader(status)
			return
		}
		resp := map[string]any{
			"choices": []map[string]any{
				{"message": map[string]any{"role": "assistant", "content": content}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	return NewClient(url, "", "test-model", 0.1, 0, zaptest.NewLogger(t))
}

// TestInferDiscoverRequirements parses a plain JSON array answer
func TestInferDiscoverRequirements(t *testing.T) {
	srv := chatServer(t, `[{"requirement_title":"Access control","priority":"high"}]`, http.StatusOK)
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	records, err := client.Infer(context.Background(), domain.TaskDiscoverRequirements, domain.InferencePayload{
		DocumentName:  "ISO 27001",
		SectionNumber: "6.1.2",
		Text:          "The organization shall define access controls.",
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Access control", records[0]["requirement_title"])
}

// TestInferCodeFencedAnswer recovers an array wrapped in markdown fences
func TestInferCodeFencedAnswer(t *testing.T) {
	srv := chatServer(t, "```json\n[{\"priority\":\"low\",\"control_title\":\"Review\"}]\n```", http.StatusOK)
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	records, err := client.Infer(context.Background(), domain.TaskSuggestControls, domain.InferencePayload{
		Text: "Organizations shall review access quarterly.",
	})
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "Review", records[0]["control_title"])
}

// TestInferNonListAnswer surfaces ErrMalformedResponse
func TestInferNonListAnswer(t *testing.T) {
	srv := chatServer(t, `{"not":"a list"}`, http.StatusOK)
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.Infer(context.Background(), domain.TaskDiscoverRequirements, domain.InferencePayload{Text: "text"})
	require.Error(t, err)

	var infErr *domain.InferenceError
	require.ErrorAs(t, err, &infErr)
	assert.ErrorIs(t, err, domain.ErrMalformedResponse)
}

// TestInferTransportFailure wraps non-2xx answers as InferenceError
func TestInferTransportFailure(t *testing.T) {
	srv := chatServer(t, "", http.StatusInternalServerError)
	defer srv.Close()

	client := newTestClient(t, srv.URL)
	_, err := client.Infer(context.Background(), domain.TaskDiscoverRequirements, domain.InferencePayload{Text: "text"})
	require.Error(t, err)

	var infErr *domain.InferenceError
	require.ErrorAs(t, err, &infErr)
	assert.NotErrorIs(t, err, domain.ErrMalformedResponse)
}

// TestDecodeRecordsEmptyArray keeps an empty list distinct from an error
func TestDecodeRecordsEmptyArray(t *testing.T) {
	records, err := decodeRecords("  []  ")
	require.NoError(t, err)
	assert.Empty(t, records)
}
