package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// OpenAIConfig configures an OpenAI compatible chat/completions endpoint.
type OpenAIConfig struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
}

// OpenAIClient calls chat/completions in JSON mode.
type OpenAIClient struct {
	cfg        OpenAIConfig
	httpClient *http.Client
	logger     *zap.Logger
}

// NewOpenAIClient validates cfg and builds a client. A nil httpClient uses http.DefaultClient.
func NewOpenAIClient(cfg OpenAIConfig, httpClient *http.Client, logger *zap.Logger) (*OpenAIClient, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("openai base url is required")
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("openai model is required")
	}
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OpenAIClient{cfg: cfg, httpClient: httpClient, logger: logger}, nil
}

// CompleteJSON sends the prompt and returns the validated JSON answer.
func (c *OpenAIClient) CompleteJSON(ctx context.Context, req Request) ([]byte, error) {
	rid := uuid.NewString()
	start := time.Now()

	messages := []map[string]any{
		{"role": "system", "content": req.System},
		{"role": "user", "content": req.Prompt + "\n\nReturn ONLY JSON that matches the provided schema."},
	}
	if req.Schema != nil {
		messages = append(messages, map[string]any{"role": "system", "content": "JSON Schema:\n" + mustJSON(req.Schema)})
	}
	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages":        messages,
	}

	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	raw, err := c.post(ctx, endpoint, body)
	if err != nil {
		c.logger.Sugar().Warnw("llm request failed", "req_id", rid, "operation", req.Operation, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, err
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		return nil, fmt.Errorf("decode openai response: %w", err)
	}
	if len(cc.Choices) == 0 {
		return nil, fmt.Errorf("%w: no choices in openai response", ErrMalformedOutput)
	}

	out, err := decodeAnswer(cc.Choices[0].Message.Content, req)
	if err != nil {
		c.logger.Sugar().Warnw("llm answer rejected", "req_id", rid, "operation", req.Operation, "error", err)
		return nil, err
	}
	c.logger.Sugar().Debugw("llm answer accepted", "req_id", rid, "operation", req.Operation, "bytes", len(out), "elapsed_ms", time.Since(start).Milliseconds())
	return out, nil
}

// Close is a no-op for the HTTP client.
func (c *OpenAIClient) Close() error { return nil }

func (c *OpenAIClient) post(ctx context.Context, url string, body map[string]any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai http error: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("read openai response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("openai status %d: %s", resp.StatusCode, truncate(string(raw), 512))
	}
	return raw, nil
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "...(truncated)"
}
