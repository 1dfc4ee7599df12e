package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blueprint/internal/config"
	"blueprint/internal/domain"
	"blueprint/internal/engine"
	blueprintsdk "blueprint/sdk/go"
)

var (
	_ generator = engine.Engine{}
	_ generator = (*blueprintsdk.Client)(nil)
)

func TestLoadStack(t *testing.T) {
	dir := t.TempDir()
	yml := filepath.Join(dir, "stack.yml")
	require.NoError(t, os.WriteFile(yml, []byte("type: web\nframework: nextjs\nfeatures: [auth, payments]\ndatabase: postgres\n"), 0o644))
	s, err := loadStack(yml)
	require.NoError(t, err)
	assert.Equal(t, domain.StackConfig{Type: domain.StackWeb, Framework: "nextjs", Features: []string{"auth", "payments"}, Database: "postgres"}, s)

	js := filepath.Join(dir, "stack.json")
	require.NoError(t, os.WriteFile(js, []byte(`{"type":"backend","framework":"gin"}`), 0o644))
	s, err = loadStack(js)
	require.NoError(t, err)
	assert.Equal(t, domain.StackBackend, s.Type)

	_, err = loadStack("")
	assert.ErrorContains(t, err, "--stack-file required")
}

func TestCommandTree(t *testing.T) {
	root := newRootCmd()
	for _, path := range [][]string{
		{"serve"}, {"graph", "generate"}, {"graph", "suggest"}, {"graph", "validate"}, {"graph", "layout"},
		{"stack", "recommend"}, {"plan"}, {"scaffold"}, {"docs"}, {"log", "tail"}, {"log", "summary"},
		{"token"}, {"config", "show"}, {"config", "init"}, {"config", "keys"},
	} {
		cmd, _, err := root.Find(path)
		require.NoError(t, err, path)
		assert.Equal(t, path[len(path)-1], cmd.Name())
	}
}

func TestConfigKeys(t *testing.T) {
	t.Setenv("BLUEPRINT_MODEL_NAME", "gpt-4.1")
	ws := t.TempDir()
	path := writeFile(t, t.TempDir(), "ci.yml", "server:\n  jwt_secret: hunter2\nevents:\n  enabled: false\n")

	printed, err := runCLI(t, "config", "keys", "--json", "-w", ws, "--config", path)
	require.NoError(t, err)
	var rows []struct {
		Key   string `json:"key"`
		Env   string `json:"env"`
		Value string `json:"value"`
	}
	require.NoError(t, json.Unmarshal([]byte(printed), &rows), printed)
	require.Len(t, rows, len(config.Keys))
	values := map[string]string{}
	for _, r := range rows {
		assert.Equal(t, config.EnvVar(r.Key), r.Env)
		values[r.Key] = r.Value
	}
	assert.Equal(t, "gpt-4.1", values["model.name"])
	assert.Equal(t, "********", values["server.jwt_secret"])
	assert.Equal(t, "false", values["events.enabled"])
	assert.NotContains(t, printed, "hunter2")

	printed, err = runCLI(t, "config", "keys", "-w", ws, "--config", path)
	require.NoError(t, err)
	assert.Contains(t, printed, "BLUEPRINT_MODEL_NAME")
}

func TestConfigFlagMustExist(t *testing.T) {
	_, err := runCLI(t, "config", "show", "-w", t.TempDir(), "--config", filepath.Join(t.TempDir(), "missing.yml"))
	assert.ErrorContains(t, err, "not found")
}

func TestConfigShowUsesConfigFlag(t *testing.T) {
	path := writeFile(t, t.TempDir(), "ci.yml", "validation:\n  mode: strict\nevents:\n  enabled: false\n")
	printed, err := runCLI(t, "config", "show", "-w", t.TempDir(), "--config", path)
	require.NoError(t, err)
	assert.Contains(t, printed, "mode: strict")
}
