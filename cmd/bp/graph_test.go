package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blueprint/internal/config"
	"blueprint/internal/engine"
	"blueprint/internal/llm"
	"blueprint/internal/metrics"
	"blueprint/internal/refine"
	"blueprint/internal/server"
)

// runCLI executes bp with args against a fresh command tree and returns
// what it printed.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	v = config.NewViper()
	var buf bytes.Buffer
	stdout = &buf
	t.Cleanup(func() { stdout = os.Stdout })
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&buf)
	root.SetErr(&bytes.Buffer{})
	err := root.ExecuteContext(context.Background())
	return buf.String(), err
}

type stubAPI struct {
	URL   string
	calls atomic.Int32
}

// startAPI serves the Blueprint API over a model that always answers reply.
func startAPI(t *testing.T, reply string) *stubAPI {
	t.Helper()
	api := &stubAPI{}
	model := llm.ClientFunc(func(context.Context, llm.Request) (string, error) {
		api.calls.Add(1)
		return reply, nil
	})
	handler, err := server.New(server.Config{
		Engine:   engine.New(nil, config.Default(), model),
		BasePath: "/v1",
		Metrics:  metrics.New(),
	})
	require.NoError(t, err)
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	api.URL = srv.URL
	return api
}

func decodeState(t *testing.T, data []byte) refine.State {
	t.Helper()
	var st refine.State
	require.NoError(t, json.Unmarshal(data, &st), string(data))
	return st
}

func position(t *testing.T, st refine.State, id string) (float64, float64) {
	t.Helper()
	for _, n := range st.Nodes {
		if n.ID == id {
			return n.Position.X, n.Position.Y
		}
	}
	t.Fatalf("node %s not in state", id)
	return 0, 0
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const twoNodeGraph = `{"nodes":[{"id":"web","label":"Web","kind":"service"},{"id":"db","label":"DB","kind":"db"}],` +
	`"edges":[{"id":"e1","source":"web","target":"db"}]}`

func TestGraphGenerateWritesLaidOutGraph(t *testing.T) {
	api := startAPI(t, "```json\n"+twoNodeGraph+"\n```")
	dir := t.TempDir()
	out := filepath.Join(dir, "graph.json")

	printed, err := runCLI(t, "graph", "generate", "--text", "a web app with a database",
		"--server", api.URL, "--out", out, "--json", "-w", dir)
	require.NoError(t, err)
	assert.Equal(t, int32(1), api.calls.Load())

	st := decodeState(t, []byte(printed))
	require.Len(t, st.Nodes, 2)
	require.Len(t, st.Edges, 1)
	webX, _ := position(t, st, "web")
	dbX, _ := position(t, st, "db")
	assert.Less(t, webX, dbX)

	saved, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.JSONEq(t, printed, string(saved))
}

func TestGraphGeneratePrintsTables(t *testing.T) {
	api := startAPI(t, twoNodeGraph)
	printed, err := runCLI(t, "graph", "generate", "--text", "x", "--server", api.URL, "-w", t.TempDir())
	require.NoError(t, err)
	assert.Contains(t, printed, "Nodes")
	assert.Contains(t, printed, "Edges")
	assert.Contains(t, printed, "web")
}

func TestGraphGenerateRequiresText(t *testing.T) {
	api := startAPI(t, twoNodeGraph)
	_, err := runCLI(t, "graph", "generate", "--server", api.URL)
	assert.ErrorContains(t, err, "--text required")
	assert.Zero(t, api.calls.Load())
}

func TestGraphGenerateUnreachableServer(t *testing.T) {
	srv := httptest.NewServer(nil)
	url := srv.URL
	srv.Close()
	_, err := runCLI(t, "graph", "generate", "--text", "x", "--server", url)
	assert.ErrorContains(t, err, "not reachable")
}

func TestGraphSuggestRevisesInputFile(t *testing.T) {
	revised := `{"nodes":[{"id":"web","label":"Web","kind":"service"},{"id":"cache","label":"Cache","kind":"db"},{"id":"db","label":"DB","kind":"db"}],` +
		`"edges":[{"id":"e1","source":"web","target":"cache"},{"id":"e2","source":"cache","target":"db"}]}`
	api := startAPI(t, revised)
	dir := t.TempDir()
	in := writeFile(t, dir, "in.json", twoNodeGraph)
	out := filepath.Join(dir, "out.json")

	printed, err := runCLI(t, "graph", "suggest", "--in", in, "--goal", "add a cache",
		"--server", api.URL, "--out", out, "--json")
	require.NoError(t, err)
	st := decodeState(t, []byte(printed))
	require.Len(t, st.Nodes, 3)
	cacheX, _ := position(t, st, "cache")
	dbX, _ := position(t, st, "db")
	assert.Less(t, cacheX, dbX)
	assert.FileExists(t, out)
}

func TestGraphSuggestRejectsInvalidInput(t *testing.T) {
	api := startAPI(t, twoNodeGraph)
	dir := t.TempDir()
	in := writeFile(t, dir, "in.json", `{"nodes":[{"id":"","label":"x"}],"edges":[]}`)

	_, err := runCLI(t, "graph", "suggest", "--in", in, "--goal", "scale", "--server", api.URL)
	assert.ErrorContains(t, err, "nodes[0].id")
	assert.Zero(t, api.calls.Load())

	_, err = runCLI(t, "graph", "suggest", "--in", in, "--server", api.URL)
	assert.ErrorContains(t, err, "--goal required")
}

func TestGraphValidate(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "good.json", twoNodeGraph)
	dangling := writeFile(t, dir, "dangling.json",
		`{"nodes":[{"id":"a","label":"A"}],"edges":[{"id":"e1","source":"a","target":"ghost"}]}`)

	printed, err := runCLI(t, "graph", "validate", "--in", good)
	require.NoError(t, err)
	assert.Contains(t, printed, "graph OK: 2 nodes, 1 edges")

	printed, err = runCLI(t, "graph", "validate", "--in", dangling)
	require.NoError(t, err, printed)

	printed, err = runCLI(t, "graph", "validate", "--in", dangling, "--strict")
	require.Error(t, err)
	assert.Contains(t, printed, "edges[0].target")

	printed, err = runCLI(t, "graph", "validate", "--in", dangling, "--strict", "--json")
	require.Error(t, err)
	var report struct {
		OK     bool `json:"ok"`
		Errors []struct {
			Location string `json:"location"`
		} `json:"errors"`
	}
	require.NoError(t, json.Unmarshal([]byte(printed), &report), printed)
	assert.False(t, report.OK)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, "edges[0].target", report.Errors[0].Location)

	_, err = runCLI(t, "graph", "validate")
	assert.ErrorContains(t, err, "--in required")
}

func TestGraphLayout(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "in.json", twoNodeGraph)

	printed, err := runCLI(t, "graph", "layout", "--in", in, "--json")
	require.NoError(t, err)
	st := decodeState(t, []byte(printed))
	webX, webY := position(t, st, "web")
	dbX, _ := position(t, st, "db")
	assert.Zero(t, webX)
	assert.Zero(t, webY)
	assert.Greater(t, dbX, webX)
}
