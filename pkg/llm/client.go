package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/noah-isme/credential-eval-api/pkg/config"
)

// ErrTimeout is returned when the model does not answer within the configured deadline.
var ErrTimeout = errors.New("language model call timed out")

// Request is a single JSON-mode completion call.
type Request struct {
	// Operation labels the call in logs and metrics, e.g. "structure" or "rules".
	Operation string
	System    string
	Prompt    string
	// Schema is a JSON schema the answer must satisfy. It is sent to the model
	// as guidance and validated locally when non-nil.
	Schema map[string]any
}

// Client produces JSON documents from prompts.
type Client interface {
	CompleteJSON(ctx context.Context, req Request) ([]byte, error)
	Close() error
}

// New builds the provider selected in cfg, wrapped with the configured timeout.
func New(ctx context.Context, cfg config.LLMConfig, logger *zap.Logger) (Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var (
		inner Client
		err   error
	)
	switch strings.ToLower(cfg.Provider) {
	case "", config.LLMProviderOpenAI:
		inner, err = NewOpenAIClient(OpenAIConfig{
			BaseURL:     cfg.BaseURL,
			APIKey:      cfg.APIKey,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
		}, nil, logger)
	case config.LLMProviderVertex:
		inner, err = NewVertexClient(ctx, VertexConfig{
			Project:         cfg.VertexProject,
			Location:        cfg.VertexLocation,
			Model:           cfg.Model,
			Temperature:     cfg.Temperature,
			CredentialsFile: cfg.VertexCredentials,
		}, logger)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return WithTimeout(inner, cfg.Timeout), nil
}
