package extract

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/vertexai/genai"

	"github.com/Aman-CERP/docindex/internal/errors"
)

// DefaultVertexModel is used when no model is configured.
const DefaultVertexModel = "gemini-1.5-pro"

// VertexVisionConfig selects the Vertex AI endpoint and model.
type VertexVisionConfig struct {
	Project string
	Region  string
	Model   string
}

// VertexVision calls Gemini on Vertex AI with inline image data.
type VertexVision struct {
	client *genai.Client
	model  *genai.GenerativeModel
	name   string
}

var _ Vision = (*VertexVision)(nil)

// NewVertexVision creates a client using application default credentials.
func NewVertexVision(ctx context.Context, cfg VertexVisionConfig) (*VertexVision, error) {
	if cfg.Project == "" || cfg.Region == "" {
		return nil, errors.ConfigError("vertex vision needs a project and region", nil).
			WithSuggestion("Set vision.project and vision.region, or DOCINDEX_VERTEX_PROJECT and DOCINDEX_VERTEX_REGION.")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultVertexModel
	}

	client, err := genai.NewClient(ctx, cfg.Project, cfg.Region)
	if err != nil {
		return nil, errors.New(errors.ErrCodeConnectionFailed, "failed to create Vertex AI client", err).
			WithDetail("project", cfg.Project).
			WithDetail("region", cfg.Region)
	}

	model := client.GenerativeModel(cfg.Model)
	model.GenerationConfig = genai.GenerationConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.0),
	}
	model.SafetySettings = []*genai.SafetySetting{
		{Category: genai.HarmCategoryHateSpeech, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryDangerousContent, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategorySexuallyExplicit, Threshold: genai.HarmBlockNone},
		{Category: genai.HarmCategoryHarassment, Threshold: genai.HarmBlockNone},
	}

	return &VertexVision{client: client, model: model, name: cfg.Model}, nil
}

// Infer sends the image followed by the instructions.
func (v *VertexVision) Infer(ctx context.Context, instructions string, image []byte, format string) (string, error) {
	if format == "" {
		format = "png"
	}
	resp, err := v.model.GenerateContent(ctx, genai.ImageData(format, image), genai.Text(instructions))
	if err != nil {
		return "", fmt.Errorf("failed to generate content from gemini: %w", err)
	}
	return responseText(resp), nil
}

// responseText concatenates the text parts of the first candidate.
func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			sb.WriteString(string(txt))
		}
	}
	return sb.String()
}

func (v *VertexVision) ModelName() string { return v.name }

func (v *VertexVision) Close() error {
	if v.client != nil {
		return v.client.Close()
	}
	return nil
}
