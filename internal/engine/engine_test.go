package engine_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"blueprint/internal/config"
	"blueprint/internal/db"
	"blueprint/internal/domain"
	"blueprint/internal/engine"
	"blueprint/internal/llm"
	"blueprint/internal/metrics"
	"blueprint/internal/migrate"
	"blueprint/internal/repo"
	"blueprint/internal/schema"
)

type stubModel struct {
	reply string
	err   error
	calls atomic.Int32
	last  llm.Request
}

func (s *stubModel) Generate(_ context.Context, req llm.Request) (string, error) {
	s.calls.Add(1)
	s.last = req
	return s.reply, s.err
}

type testEnv struct {
	Engine engine.Engine
	Model  *stubModel
	Repo   repo.Repo
	Ctx    context.Context
}

func newTestEnv(t *testing.T, mutate func(*config.Config)) testEnv {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	ctx := context.Background()
	if err := migrate.Migrate(ctx, conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	cfg := config.Default()
	if mutate != nil {
		mutate(cfg)
	}
	model := &stubModel{}
	eng := engine.New(conn, cfg, model)
	eng.Metrics = metrics.New()
	eng.Now = func() time.Time { return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC) }
	return testEnv{Engine: eng, Model: model, Repo: repo.Repo{DB: conn}, Ctx: ctx}
}

func strictOutput(c *config.Config) { c.Generation.OutputMode = config.OutputStrict }

func (env testEnv) lastEvent(t *testing.T) domain.Event {
	t.Helper()
	evts, err := env.Repo.LatestEvents(env.Ctx, repo.EventFilters{Limit: 1})
	require.NoError(t, err)
	require.Len(t, evts, 1)
	return evts[0]
}

func TestGraphFromTextLenient(t *testing.T) {
	env := newTestEnv(t, nil)
	env.Model.reply = "```json\n{\"nodes\":[{\"id\":\"api\",\"label\":\"API\"}],\"edges\":[]}\n```"

	out, err := env.Engine.GraphFromText(env.Ctx, "an API", "")
	require.NoError(t, err)
	assert.JSONEq(t, `{"nodes":[{"id":"api","label":"API"}],"edges":[]}`, string(out))

	assert.True(t, env.Model.last.JSON)
	assert.Contains(t, env.Model.last.System, `"service"|"db"|"queue"|"page"`)
	assert.Contains(t, env.Model.last.User, "an API")

	evt := env.lastEvent(t)
	assert.Equal(t, "graph-from-text", evt.Task)
	assert.Equal(t, engine.StatusOK, evt.Status)
	assert.Equal(t, "gpt-4o-mini", evt.Model)
	assert.Equal(t, len(env.Model.reply), evt.OutputBytes)
}

func TestGraphFromTextUserFlowKinds(t *testing.T) {
	env := newTestEnv(t, nil)
	env.Model.reply = `{"nodes":[],"edges":[]}`
	_, err := env.Engine.GraphFromText(env.Ctx, "sign up then pay", domain.VariantUserFlow)
	require.NoError(t, err)
	assert.Contains(t, env.Model.last.System, `"page"|"step"`)
	assert.NotContains(t, env.Model.last.System, `"service"`)
}

func TestLenientDegradesToEmptyObject(t *testing.T) {
	env := newTestEnv(t, nil)
	for _, reply := range []string{"", "Sure, here is a graph!", "[1,2,3]", `{"nodes": [`} {
		env.Model.reply = reply
		out, err := env.Engine.GraphFromText(env.Ctx, "anything", domain.VariantSystem)
		require.NoError(t, err, reply)
		assert.JSONEq(t, `{}`, string(out), reply)
	}
	assert.Equal(t, engine.StatusEmpty, env.lastEvent(t).Status)
}

func TestLenientPassesInvalidGraphUntouched(t *testing.T) {
	env := newTestEnv(t, nil)
	env.Model.reply = `{"nodes":[{"id":"","label":""}]}`
	out, err := env.Engine.GraphFromText(env.Ctx, "anything", domain.VariantSystem)
	require.NoError(t, err)
	assert.JSONEq(t, env.Model.reply, string(out))
}

func TestStrictRejectsMalformedOutput(t *testing.T) {
	env := newTestEnv(t, strictOutput)

	env.Model.reply = "no json here"
	_, err := env.Engine.GraphFromText(env.Ctx, "anything", domain.VariantSystem)
	var merr *engine.MalformedOutputError
	require.True(t, errors.As(err, &merr))
	assert.ErrorIs(t, err, engine.ErrMalformedOutput)
	assert.ErrorIs(t, err, schema.ErrNoJSON)

	env.Model.reply = `{"nodes":[{"id":"","label":"x"}],"edges":[]}`
	_, err = env.Engine.GraphFromText(env.Ctx, "anything", domain.VariantSystem)
	var verrs *schema.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Contains(t, verrs.Fields(), "nodes[0].id")
	assert.Equal(t, engine.StatusMalformed, env.lastEvent(t).Status)

	env.Model.reply = `{"files":[{"path":"main.go","content":"package main"}],"commands":["go run ."],"environment":{}}`
	out, err := env.Engine.Scaffold(env.Ctx, json.RawMessage(`{"title":"x"}`), domain.StackConfig{Type: domain.StackBackend, Framework: "gin"})
	require.NoError(t, err)
	assert.JSONEq(t, env.Model.reply, string(out))

	env.Model.reply = `{"commands":[]}`
	_, err = env.Engine.Scaffold(env.Ctx, json.RawMessage(`{"title":"x"}`), domain.StackConfig{Type: domain.StackBackend, Framework: "gin"})
	assert.ErrorIs(t, err, engine.ErrMalformedOutput)
}

func TestStrictGraphValidationOfOutput(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) {
		strictOutput(c)
		c.Validation.Mode = config.ValidationStrict
	})
	env.Model.reply = `{"nodes":[{"id":"a","label":"A"}],"edges":[{"id":"e","source":"a","target":"ghost"}]}`
	_, err := env.Engine.GraphFromText(env.Ctx, "anything", domain.VariantSystem)
	assert.ErrorIs(t, err, engine.ErrMalformedOutput)
}

func TestModelFailure(t *testing.T) {
	env := newTestEnv(t, nil)
	env.Model.err = errors.New("upstream 503")
	_, err := env.Engine.RecommendStack(env.Ctx, "a todo app")
	var gerr *engine.GenerationError
	require.True(t, errors.As(err, &gerr))
	assert.ErrorIs(t, err, engine.ErrGeneration)
	assert.Equal(t, engine.TaskStackRecommend, gerr.Task)

	evt := env.lastEvent(t)
	assert.Equal(t, engine.StatusError, evt.Status)
	assert.Equal(t, "generation_failed", evt.ErrorCode)

	noModel := engine.New(nil, config.Default(), nil)
	_, err = noModel.RecommendStack(env.Ctx, "x")
	assert.ErrorIs(t, err, engine.ErrNoModel)
	assert.ErrorIs(t, err, engine.ErrGeneration)
}

func TestSuggestShortCircuitsInvalidGraph(t *testing.T) {
	env := newTestEnv(t, nil)
	env.Model.reply = `{"nodes":[],"edges":[]}`

	_, err := env.Engine.SuggestGraph(env.Ctx, map[string]any{"nodes": []any{map[string]any{"id": "", "label": "x"}}, "edges": []any{}}, "scale")
	var verrs *schema.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Contains(t, verrs.Fields(), "graph.nodes[0].id")
	assert.Zero(t, env.Model.calls.Load())

	_, err = env.Engine.SuggestGraph(env.Ctx, "not a graph", "scale")
	require.True(t, errors.As(err, &verrs))
	assert.True(t, strings.HasPrefix(verrs.Errors[0].Location, "graph"), verrs.Errors[0].Location)
	assert.Zero(t, env.Model.calls.Load())

	g := domain.Graph{Nodes: []domain.GraphNode{{ID: "api", Label: "API", Kind: domain.KindService}}}
	_, err = env.Engine.SuggestGraph(env.Ctx, g, "")
	require.True(t, errors.As(err, &verrs))
	assert.Equal(t, "goal", verrs.Errors[0].Location)
	assert.Zero(t, env.Model.calls.Load())

	out, err := env.Engine.SuggestGraph(env.Ctx, g, "add a cache")
	require.NoError(t, err)
	assert.JSONEq(t, `{"nodes":[],"edges":[]}`, string(out))
	assert.Equal(t, int32(1), env.Model.calls.Load())
	assert.Contains(t, env.Model.last.User, "add a cache")
	assert.Contains(t, env.Model.last.User, `"id": "api"`)
	assert.Contains(t, env.Model.last.User, `"edges": []`)
}

func TestRequestValidationNeverCallsModel(t *testing.T) {
	env := newTestEnv(t, nil)
	cases := map[string]func() error{
		"empty text": func() error { _, err := env.Engine.GraphFromText(env.Ctx, "  ", ""); return err },
		"bad variant": func() error {
			_, err := env.Engine.GraphFromText(env.Ctx, "x", "sequence")
			return err
		},
		"empty requirements": func() error { _, err := env.Engine.RecommendStack(env.Ctx, ""); return err },
		"empty idea":         func() error { _, err := env.Engine.ProjectPlan(env.Ctx, "", nil); return err },
		"null plan": func() error {
			_, err := env.Engine.Scaffold(env.Ctx, json.RawMessage("null"), domain.StackConfig{Type: "web", Framework: "react"})
			return err
		},
		"bad stack": func() error {
			_, err := env.Engine.Scaffold(env.Ctx, json.RawMessage(`{}`), domain.StackConfig{Type: "web", Framework: "cobol"})
			return err
		},
		"bad plan json": func() error { _, err := env.Engine.DocsFromPlan(env.Ctx, json.RawMessage(`{`)); return err },
		"empty prompt":  func() error { _, err := env.Engine.DocsFromPrompt(env.Ctx, "", "ctx"); return err },
	}
	for name, run := range cases {
		t.Run(name, func(t *testing.T) {
			var verrs *schema.ValidationErrors
			assert.True(t, errors.As(run(), &verrs))
		})
	}
	assert.Zero(t, env.Model.calls.Load())
}

func TestProjectPlanStack(t *testing.T) {
	env := newTestEnv(t, func(c *config.Config) { c.Validation.StackCrossCheck = true })
	env.Model.reply = `{"title":"Todo"}`

	mismatch := &domain.StackConfig{Type: domain.StackMobile, Framework: "nextjs", Features: []string{}}
	_, err := env.Engine.ProjectPlan(env.Ctx, "todo app", mismatch)
	var verrs *schema.ValidationErrors
	require.True(t, errors.As(err, &verrs))
	assert.Equal(t, "stack.framework", verrs.Errors[0].Location)
	assert.Zero(t, env.Model.calls.Load())

	stack := &domain.StackConfig{Type: domain.StackWeb, Framework: "nextjs", Features: []string{"auth"}, Database: "postgres"}
	out, err := env.Engine.ProjectPlan(env.Ctx, "todo app", stack)
	require.NoError(t, err)
	assert.JSONEq(t, `{"title":"Todo"}`, string(out))
	assert.Contains(t, env.Model.last.User, `"framework":"nextjs"`)
	assert.Contains(t, env.Model.last.User, `"database":"postgres"`)
}

func TestDocs(t *testing.T) {
	env := newTestEnv(t, nil)
	env.Model.reply = "\n# Todo\n\nA plan.\n"
	md, err := env.Engine.DocsFromPlan(env.Ctx, json.RawMessage(`{"title":"Todo"}`))
	require.NoError(t, err)
	assert.Equal(t, "# Todo\n\nA plan.", md)
	assert.False(t, env.Model.last.JSON)
	assert.Equal(t, "docs-markdown", env.lastEvent(t).Task)

	env.Model.reply = "   "
	md, err = env.Engine.DocsFromPlan(env.Ctx, json.RawMessage(`{"title":"Todo"}`))
	require.NoError(t, err)
	assert.Equal(t, "", md)

	env.Model.reply = `{"title":"PRD","sections":[{"heading":"Goals","body":"ship"}],"backlog":[],"risks":[],"open_questions":[]}`
	doc, err := env.Engine.DocsFromPrompt(env.Ctx, "write a PRD", "B2B SaaS")
	require.NoError(t, err)
	assert.JSONEq(t, env.Model.reply, string(doc))
	assert.True(t, strings.Contains(env.Model.last.User, "Context:\nB2B SaaS"))
}

func TestBuildPromptUnknownTask(t *testing.T) {
	_, err := engine.BuildPrompt("haiku", engine.PromptInput{})
	assert.Error(t, err)
	for _, task := range engine.Tasks {
		in := engine.PromptInput{Graph: &domain.Graph{}, Stack: &domain.StackConfig{}}
		req, err := engine.BuildPrompt(task, in)
		require.NoError(t, err, task)
		assert.NotEmpty(t, req.System, task)
	}
}
