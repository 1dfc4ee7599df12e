package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fakeCompletions(t *testing.T, reply string, seen *map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			http.NotFound(w, r)
			return
		}
		if seen != nil {
			_ = json.NewDecoder(r.Body).Decode(seen)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":     "chatcmpl-1",
			"object": "chat.completion",
			"model":  "test-model",
			"choices": []any{map[string]any{
				"index":         0,
				"finish_reason": "stop",
				"message":       map[string]any{"role": "assistant", "content": reply},
			}},
		})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestOpenAIClientGenerate(t *testing.T) {
	var body map[string]any
	srv := fakeCompletions(t, `{"nodes":[],"edges":[]}`, &body)
	temp := float32(0.2)
	c, err := NewOpenAIClient(Config{APIKey: "sk-test", Model: "test-model", BaseURL: srv.URL + "/v1/", Temperature: &temp, MaxTokens: 512})
	require.NoError(t, err)

	out, err := c.Generate(context.Background(), Request{System: "sys", User: "usr", JSON: true})
	require.NoError(t, err)
	assert.Equal(t, `{"nodes":[],"edges":[]}`, out)

	assert.Equal(t, "test-model", body["model"])
	assert.EqualValues(t, 512, body["max_tokens"])
	msgs, ok := body["messages"].([]any)
	require.True(t, ok)
	require.Len(t, msgs, 2)
	assert.Equal(t, "system", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "usr", msgs[1].(map[string]any)["content"])
	format, ok := body["response_format"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "json_object", format["type"])
}

func TestOpenAIClientUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"message":"boom","type":"server_error"}}`))
	}))
	defer srv.Close()
	c, err := NewOpenAIClient(Config{APIKey: "sk-test", BaseURL: srv.URL + "/v1"})
	require.NoError(t, err)
	assert.Equal(t, DefaultModel, c.Model())

	_, err = c.Generate(context.Background(), Request{System: "s", User: "u"})
	assert.Error(t, err)
}

func TestResolveAPIKey(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	old := secretPath
	t.Cleanup(func() { secretPath = old })

	secretPath = filepath.Join(t.TempDir(), "missing")
	_, err := NewOpenAIClient(Config{})
	assert.True(t, errors.Is(err, ErrNoAPIKey))

	secretPath = filepath.Join(t.TempDir(), "openai_api_key")
	require.NoError(t, os.WriteFile(secretPath, []byte("sk-file\n"), 0o600))
	key, err := resolveAPIKey("", discardLogger())
	require.NoError(t, err)
	assert.Equal(t, "sk-file", key)

	t.Setenv("OPENAI_API_KEY", "sk-env")
	key, err = resolveAPIKey("", discardLogger())
	require.NoError(t, err)
	assert.Equal(t, "sk-env", key)
}

func TestNewUnknownProvider(t *testing.T) {
	_, err := New(Config{Provider: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestClientFunc(t *testing.T) {
	var c Client = ClientFunc(func(_ context.Context, req Request) (string, error) {
		return req.System + "|" + req.User, nil
	})
	out, err := c.Generate(context.Background(), Request{System: "a", User: "b"})
	require.NoError(t, err)
	assert.Equal(t, "a|b", out)
}

func discardLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }
