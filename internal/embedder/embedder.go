package embedder

import (
	"fmt"

	"github.com/bowerhall/engram"
)

type Config struct {
	Provider string
	BaseURL  string
	Model    string
}

// New builds an embedding gateway for the configured provider. An empty
// provider returns nil: the store then rejects writes with
// ErrEmbeddingUnavailable instead of guessing.
func New(cfg Config) (engram.Embedder, error) {
	switch cfg.Provider {
	case "ollama":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
		}
		model := cfg.Model
		if model == "" {
			model = "nomic-embed-text"
		}
		return newOllama(baseURL, model), nil
	case "mock":
		return NewMock(engram.DefaultDimensions), nil
	case "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown embedder provider: %s", cfg.Provider)
	}
}
