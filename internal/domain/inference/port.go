package inference

import (
	"context"
	"image"
)

// Client is a remote multimodal model that writes a free-text report for an image.
type Client interface {
	// Initialize probes the endpoint and marks the client ready on success.
	Initialize(ctx context.Context) error
	AnalyzeImage(ctx context.Context, img image.Image) (string, error)
	Status() Status
}

// Status is side-effect-free introspection of a Client.
type Status struct {
	ModelName          string `json:"model_name"`
	EndpointURL        string `json:"api_url"`
	Ready              bool   `json:"is_loaded"`
	SupportsMultimodal bool   `json:"supports_multimodal"`
	MaxTokens          int    `json:"max_tokens"`
	Deployment         string `json:"deployment"`
}
