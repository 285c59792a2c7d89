package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/vertexai/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"
)

// VertexConfig configures the Gemini provider on Vertex AI.
type VertexConfig struct {
	Project         string
	Location        string
	Model           string
	Temperature     float64
	CredentialsFile string
}

// VertexClient calls Gemini through the Vertex AI SDK.
type VertexClient struct {
	client      *genai.Client
	model       string
	temperature float32
	logger      *zap.Logger
}

// NewVertexClient dials Vertex AI. Credentials come from CredentialsFile when
// set, otherwise from application default credentials.
func NewVertexClient(ctx context.Context, cfg VertexConfig, logger *zap.Logger) (*VertexClient, error) {
	if strings.TrimSpace(cfg.Project) == "" {
		return nil, fmt.Errorf("vertex project is required")
	}
	if cfg.Location == "" {
		cfg.Location = "us-central1"
	}
	if cfg.Model == "" {
		cfg.Model = "gemini-1.5-flash"
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	var opts []option.ClientOption
	if cfg.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	}
	client, err := genai.NewClient(ctx, cfg.Project, cfg.Location, opts...)
	if err != nil {
		return nil, fmt.Errorf("create vertex client: %w", err)
	}
	return &VertexClient{
		client:      client,
		model:       cfg.Model,
		temperature: float32(cfg.Temperature),
		logger:      logger,
	}, nil
}

// CompleteJSON asks Gemini for a JSON answer and validates it.
func (c *VertexClient) CompleteJSON(ctx context.Context, req Request) ([]byte, error) {
	start := time.Now()

	model := c.client.GenerativeModel(c.model)
	model.SetTemperature(c.temperature)
	model.ResponseMIMEType = "application/json"
	system := req.System
	if req.Schema != nil {
		system += "\n\nJSON Schema:\n" + mustJSON(req.Schema)
	}
	model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(system)}}

	resp, err := model.GenerateContent(ctx, genai.Text(req.Prompt))
	if err != nil {
		c.logger.Sugar().Warnw("vertex request failed", "operation", req.Operation, "error", err, "elapsed_ms", time.Since(start).Milliseconds())
		return nil, fmt.Errorf("vertex generate: %w", err)
	}

	var b strings.Builder
	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if text, ok := part.(genai.Text); ok {
				b.WriteString(string(text))
			}
		}
	}
	if b.Len() == 0 {
		return nil, fmt.Errorf("%w: empty vertex response", ErrMalformedOutput)
	}

	out, err := decodeAnswer(b.String(), req)
	if err != nil {
		c.logger.Sugar().Warnw("vertex answer rejected", "operation", req.Operation, "error", err)
		return nil, err
	}
	c.logger.Sugar().Debugw("vertex answer accepted", "operation", req.Operation, "bytes", len(out), "elapsed_ms", time.Since(start).Milliseconds())
	return out, nil
}

// Close releases the underlying gRPC connection.
func (c *VertexClient) Close() error {
	return c.client.Close()
}
