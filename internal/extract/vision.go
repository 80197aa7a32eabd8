// Package extract asks a vision-capable model for the tables, images and
// text labels on a page image and turns the answer into store elements.
package extract

import (
	"context"
	"fmt"

	"github.com/Aman-CERP/docindex/internal/config"
	"github.com/Aman-CERP/docindex/internal/errors"
)

// Vision is a model that answers an instruction about one image.
type Vision interface {
	// Infer sends instructions and an encoded image (format png or jpeg)
	// and returns the raw text reply.
	Infer(ctx context.Context, instructions string, image []byte, format string) (string, error)

	ModelName() string
	Close() error
}

// Provider names.
const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"
	ProviderVertex = "vertex"
)

// NewVision builds the configured vision capability.
func NewVision(ctx context.Context, cfg config.VisionConfig) (Vision, error) {
	switch cfg.Provider {
	case ProviderOllama, "":
		return NewOllamaVision(OllamaVisionConfig{
			Host:       cfg.Host,
			Model:      cfg.Model,
			JSONFormat: true,
		}), nil
	case ProviderOpenAI:
		v, err := NewOpenAIVision(OpenAIVisionConfig{
			BaseURL:    cfg.BaseURL,
			APIKey:     cfg.APIKey,
			Model:      cfg.Model,
			JSONFormat: true,
		})
		if err != nil {
			return nil, err
		}
		return v, nil
	case ProviderVertex:
		v, err := NewVertexVision(ctx, VertexVisionConfig{
			Project: cfg.Project,
			Region:  cfg.Region,
			Model:   cfg.Model,
		})
		if err != nil {
			return nil, err
		}
		return v, nil
	default:
		return nil, errors.ConfigError(fmt.Sprintf("unknown vision provider %q", cfg.Provider), nil).
			WithSuggestion("Set vision.provider to ollama, openai or vertex.")
	}
}
