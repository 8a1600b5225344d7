package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/DevaanshArora/complianceASC/internal/domain"
)

const defaultTimeout = 120 * time.Second

// Client calls an OpenAI-compatible chat completion endpoint and shapes the
// answer into loosely typed records. It implements domain.InferenceClient.
type Client struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64

	HTTPClient *http.Client
	Logger     *zap.Logger
}

// NewClient creates an inference client for the given endpoint
func NewClient(baseURL, apiKey, model string, temperature float64, timeout time.Duration, logger *zap.Logger) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		BaseURL:     baseURL,
		APIKey:      apiKey,
		Model:       model,
		Temperature: temperature,
		HTTPClient:  &http.Client{Timeout: timeout},
		Logger:      logger,
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Infer runs one structured-extraction call. Transport failures and
// malformed payloads both surface as *domain.InferenceError; the latter
// additionally unwraps to domain.ErrMalformedResponse so callers can log
// them at a softer level.
func (c *Client) Infer(ctx context.Context, task domain.InferenceTask, payload domain.InferencePayload) (domain.Records, error) {
	if c.BaseURL == "" || c.Model == "" {
		return nil, &domain.InferenceError{Task: task, Cause: fmt.Errorf("base URL and model required")}
	}

	prompt, err := buildPrompt(task, payload)
	if err != nil {
		return nil, &domain.InferenceError{Task: task, Cause: err}
	}

	start := time.Now()
	content, err := c.chat(ctx, prompt)
	if err != nil {
		return nil, &domain.InferenceError{Task: task, Cause: err}
	}

	records, err := decodeRecords(content)
	if err != nil {
		c.Logger.Warn("inference response not a record list",
			zap.String("task", string(task)),
			zap.String("section", payload.SectionNumber),
			zap.Error(err),
		)
		return nil, &domain.InferenceError{Task: task, Cause: err}
	}

	c.Logger.Debug("inference call completed",
		zap.String("task", string(task)),
		zap.Int("records", len(records)),
		zap.Duration("duration", time.Since(start)),
	)

	return records, nil
}

func (c *Client) chat(ctx context.Context, user string) (string, error) {
	reqBody, err := json.Marshal(chatRequest{
		Model:       c.Model,
		Messages:    []chatMessage{{Role: "user", Content: user}},
		Temperature: c.Temperature,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(reqBody))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.httpClient().Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode/100 != 2 {
		return "", fmt.Errorf("non-2xx status %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var payload chatResponse
	if err := json.Unmarshal(raw, &payload); err != nil {
		return "", err
	}
	if payload.Error != nil {
		return "", fmt.Errorf("inference service error: %s", payload.Error.Message)
	}
	if len(payload.Choices) == 0 {
		return "", fmt.Errorf("empty response")
	}
	return payload.Choices[0].Message.Content, nil
}

func (c *Client) httpClient() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return &http.Client{Timeout: defaultTimeout}
}

// decodeRecords leniently recovers a JSON array of objects from model
// output: markdown code fences are stripped and the outermost bracketed
// slice is taken, since models routinely wrap or pad their answers.
func decodeRecords(content string) (domain.Records, error) {
	text := strings.TrimSpace(content)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
		text = strings.TrimSpace(text)
	}

	start := strings.IndexByte(text, '[')
	end := strings.LastIndexByte(text, ']')
	if start < 0 || end <= start {
		return nil, fmt.Errorf("%w: no JSON array in output", domain.ErrMalformedResponse)
	}

	var records domain.Records
	if err := json.Unmarshal([]byte(text[start:end+1]), &records); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedResponse, err)
	}
	return records, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// Verify that Client implements domain.InferenceClient
var _ domain.InferenceClient = (*Client)(nil)
