package agent

import "context"

// GenerateRequest carries one text-generation call.
type GenerateRequest struct {
	Model       string
	Prompt      string
	System      string
	Temperature float32
	ForceJSON   bool
	MaxTokens   int
}

// Generator is the capability boundary to the text-generation service.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
	Embed(ctx context.Context, text string) ([]float32, error)
}
