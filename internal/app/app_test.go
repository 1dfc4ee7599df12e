package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blueprint/internal/config"
	"blueprint/internal/llm"
	"blueprint/internal/repo"
)

func TestOpenDefaults(t *testing.T) {
	ws := t.TempDir()
	model := llm.ClientFunc(func(context.Context, llm.Request) (string, error) {
		return `{"nodes":[],"edges":[]}`, nil
	})
	rt, err := Open(context.Background(), Options{Workspace: ws, Model: model})
	require.NoError(t, err)
	defer rt.Close()

	assert.Equal(t, config.OutputLenient, rt.Config.Generation.OutputMode)
	require.NotNil(t, rt.Events)
	assert.FileExists(t, filepath.Join(ws, ".blueprint", "blueprint.db"))

	_, err = rt.Engine.GraphFromText(context.Background(), "x", "")
	require.NoError(t, err)
	evts, err := rt.Events.LatestEvents(context.Background(), repo.EventFilters{})
	require.NoError(t, err)
	assert.Len(t, evts, 1)
}

func TestOpenOverlaysEnvironment(t *testing.T) {
	ws := t.TempDir()
	t.Setenv("BLUEPRINT_EVENTS_ENABLED", "false")
	t.Setenv("BLUEPRINT_GENERATION_OUTPUT_MODE", "strict")
	v := config.NewViper()

	rt, err := Open(context.Background(), Options{Workspace: ws, Viper: v, SkipModel: true})
	require.NoError(t, err)
	defer rt.Close()

	assert.True(t, rt.Config.StrictOutput())
	assert.Nil(t, rt.Events)
	assert.Nil(t, rt.DB)
	_, err = os.Stat(filepath.Join(ws, ".blueprint"))
	assert.True(t, os.IsNotExist(err))
}

func TestOpenRejectsBadConfig(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(ws, config.FileName), []byte("generation:\n  output_mode: sloppy\n"), 0o644))
	_, err := Open(context.Background(), Options{Workspace: ws, SkipModel: true})
	assert.ErrorContains(t, err, "output_mode")
}

func TestOpenExplicitConfigFile(t *testing.T) {
	ws := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(ws, config.FileName), []byte("generation:\n  output_mode: sloppy\n"), 0o644))
	path := filepath.Join(t.TempDir(), "ci.yml")
	require.NoError(t, os.WriteFile(path, []byte("validation:\n  mode: strict\nevents:\n  enabled: false\n"), 0o644))

	rt, err := Open(context.Background(), Options{Workspace: ws, ConfigPath: path, SkipModel: true})
	require.NoError(t, err)
	defer rt.Close()
	assert.True(t, rt.Config.StrictGraphs())
	assert.Nil(t, rt.Events)

	_, err = Open(context.Background(), Options{Workspace: ws, ConfigPath: filepath.Join(ws, "nope.yml"), SkipModel: true})
	assert.ErrorContains(t, err, "not found")
}

func TestModelConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Model.TimeoutSeconds = 30
	mc := ModelConfig(cfg, nil)
	assert.Equal(t, "gpt-4o-mini", mc.Model)
	assert.Equal(t, 30*time.Second, mc.Timeout)
	assert.Equal(t, 4096, mc.MaxTokens)
}
