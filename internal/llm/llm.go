// Package llm is the boundary to the generative model service.
package llm

import (
	"context"
	"errors"
	"sync"
)

// ErrNoAPIKey is returned when no credential could be resolved.
var ErrNoAPIKey = errors.New("OPENAI_API_KEY environment variable not set")

// Request is one model call: a fixed system instruction and the user message.
type Request struct {
	System string
	User   string
	// JSON asks the model for a single JSON object.
	JSON bool
}

// Client generates text. Implementations must be safe for concurrent use.
type Client interface {
	Generate(ctx context.Context, req Request) (string, error)
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, req Request) (string, error)

func (f ClientFunc) Generate(ctx context.Context, req Request) (string, error) {
	return f(ctx, req)
}

var (
	sharedOnce   sync.Once
	sharedClient Client
	sharedErr    error
)

// Shared returns the process-wide client, building it from cfg on first use.
// Later calls ignore cfg.
func Shared(cfg Config) (Client, error) {
	sharedOnce.Do(func() {
		sharedClient, sharedErr = New(cfg)
	})
	return sharedClient, sharedErr
}

// New builds a client for cfg.Provider.
func New(cfg Config) (Client, error) {
	switch cfg.Provider {
	case "", ProviderOpenAI:
		return NewOpenAIClient(cfg)
	default:
		return nil, errors.New("unknown model provider " + cfg.Provider)
	}
}
