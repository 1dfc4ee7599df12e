package llm

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
)

const (
	ProviderOpenAI = "openai"
	DefaultModel   = "gpt-4o-mini"
)

// secretPath is where container secrets mount the API key.
var secretPath = "/run/secrets/openai_api_key"

// Config selects and tunes the model endpoint.
type Config struct {
	Provider    string
	Model       string
	BaseURL     string
	APIKey      string
	Temperature *float32
	MaxTokens   int
	Timeout     time.Duration
	Logger      *slog.Logger
}

// OpenAIClient talks to any OpenAI-compatible chat completions endpoint.
type OpenAIClient struct {
	client *openai.Client
	model  string
	cfg    Config
	logger *slog.Logger
}

func NewOpenAIClient(cfg Config) (*OpenAIClient, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	apiKey, err := resolveAPIKey(cfg.APIKey, logger)
	if err != nil {
		return nil, err
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
		logger.Warn("model name not set, defaulting", "model", model)
	}
	oc := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.Timeout > 0 {
		oc.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	logger.Info("initializing model client", "provider", ProviderOpenAI, "model", model)
	return &OpenAIClient{
		client: openai.NewClientWithConfig(oc),
		model:  model,
		cfg:    cfg,
		logger: logger,
	}, nil
}

func resolveAPIKey(explicit string, logger *slog.Logger) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		return key, nil
	}
	data, err := os.ReadFile(secretPath)
	if err != nil {
		logger.Error("OPENAI_API_KEY not set and secret not found", "path", secretPath)
		return "", ErrNoAPIKey
	}
	logger.Info("read the OpenAI API key from secrets")
	return strings.TrimSpace(string(data)), nil
}

// Model is the model name sent with every request.
func (o *OpenAIClient) Model() string { return o.model }

// Generate implements Client.
func (o *OpenAIClient) Generate(ctx context.Context, req Request) (string, error) {
	o.logger.Debug("generating via OpenAI", "model", o.model, "json", req.JSON)
	creq := openai.ChatCompletionRequest{
		Model: o.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: req.System},
			{Role: openai.ChatMessageRoleUser, Content: req.User},
		},
	}
	if o.cfg.Temperature != nil {
		creq.Temperature = *o.cfg.Temperature
	}
	if o.cfg.MaxTokens > 0 {
		creq.MaxTokens = o.cfg.MaxTokens
	}
	if req.JSON {
		creq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}
	resp, err := o.client.CreateChatCompletion(ctx, creq)
	if err != nil {
		return "", fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai returned no choices")
	}
	o.logger.Debug("received model response", "finish_reason", resp.Choices[0].FinishReason)
	return resp.Choices[0].Message.Content, nil
}
