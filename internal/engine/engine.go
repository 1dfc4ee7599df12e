// Package engine orchestrates one model call per generation task: prompt
// construction, the call itself, and lenient or strict output handling.
package engine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"blueprint/internal/config"
	"blueprint/internal/domain"
	"blueprint/internal/events"
	"blueprint/internal/llm"
	"blueprint/internal/logging"
	"blueprint/internal/metrics"
	"blueprint/internal/schema"
)

// Event statuses.
const (
	StatusOK        = "ok"
	StatusEmpty     = "empty"
	StatusMalformed = "malformed"
	StatusError     = "error"
)

var (
	// ErrGeneration marks a failed model call.
	ErrGeneration = errors.New("generation failed")
	// ErrMalformedOutput marks model output rejected in strict mode.
	ErrMalformedOutput = errors.New("malformed model output")
	// ErrNoModel is returned when the engine has no model client.
	ErrNoModel = errors.New("no model client configured")
)

// GenerationError wraps the failure of the model call for a task.
type GenerationError struct {
	Task Task
	Err  error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrGeneration, e.Task, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

func (e *GenerationError) Is(target error) bool { return target == ErrGeneration }

// MalformedOutputError carries the parse or validation failure of model
// output in strict mode.
type MalformedOutputError struct {
	Task Task
	Err  error
}

func (e *MalformedOutputError) Error() string {
	return fmt.Sprintf("%s: %s: %v", ErrMalformedOutput, e.Task, e.Err)
}

func (e *MalformedOutputError) Unwrap() error { return e.Err }

func (e *MalformedOutputError) Is(target error) bool { return target == ErrMalformedOutput }

var emptyObject = json.RawMessage(`{}`)

type Engine struct {
	Model   llm.Client
	Events  *events.Writer
	Config  *config.Config
	Metrics *metrics.Metrics
	Logger  *slog.Logger
	Now     func() time.Time
}

// New builds an engine. db may be nil, which disables the event log.
func New(db *sql.DB, cfg *config.Config, model llm.Client) Engine {
	var w *events.Writer
	if db != nil {
		w = &events.Writer{DB: db}
	}
	return Engine{
		Model:  model,
		Events: w,
		Config: cfg,
		Now:    time.Now,
	}
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) logger() *slog.Logger { return logging.OrDiscard(e.Logger) }

func (e Engine) strictOutput() bool { return e.Config != nil && e.Config.StrictOutput() }

func (e Engine) strictGraphs() bool { return e.Config != nil && e.Config.StrictGraphs() }

func (e Engine) stackCrossCheck() bool {
	return e.Config != nil && e.Config.Validation.StackCrossCheck
}

func (e Engine) modelName() string {
	if e.Config == nil {
		return ""
	}
	return e.Config.Model.Name
}

// GraphFromText turns a prose description into a graph.
func (e Engine) GraphFromText(ctx context.Context, text string, variant domain.GraphVariant) (json.RawMessage, error) {
	verrs := &schema.ValidationErrors{}
	if strings.TrimSpace(text) == "" {
		verrs.Errors = append(verrs.Errors, schema.FieldError{Location: "text", Message: "is required"})
	}
	if variant == "" {
		variant = domain.VariantSystem
	}
	if variant != domain.VariantSystem && variant != domain.VariantUserFlow {
		verrs.Errors = append(verrs.Errors, schema.FieldError{
			Location: "type",
			Message:  fmt.Sprintf("must be one of: %s, %s", domain.VariantSystem, domain.VariantUserFlow),
			Value:    string(variant),
		})
	}
	if err := e.rejectRequest(verrs); err != nil {
		return nil, err
	}
	req, err := BuildPrompt(TaskGraphFromText, PromptInput{Text: text, Variant: variant})
	if err != nil {
		return nil, err
	}
	return e.generateJSON(ctx, TaskGraphFromText, req, e.checkGraph)
}

// SuggestGraph asks for an improved graph toward goal. An invalid graph is
// rejected before any model call.
func (e Engine) SuggestGraph(ctx context.Context, graph any, goal string) (json.RawMessage, error) {
	g, err := schema.ValidateGraph(graph, schema.WithStrictIf(e.strictGraphs()))
	if err != nil {
		e.Metrics.ValidationReject("request")
		return nil, prefixLocations("graph", err)
	}
	if strings.TrimSpace(goal) == "" {
		return nil, e.rejectRequest(&schema.ValidationErrors{Errors: []schema.FieldError{{Location: "goal", Message: "is required"}}})
	}
	req, err := BuildPrompt(TaskGraphSuggest, PromptInput{Graph: &g, Goal: goal})
	if err != nil {
		return nil, err
	}
	return e.generateJSON(ctx, TaskGraphSuggest, req, e.checkGraph)
}

// RecommendStack proposes a technology stack for free-form requirements.
func (e Engine) RecommendStack(ctx context.Context, requirements string) (json.RawMessage, error) {
	if strings.TrimSpace(requirements) == "" {
		return nil, e.rejectRequest(required("requirements"))
	}
	req, err := BuildPrompt(TaskStackRecommend, PromptInput{Requirements: requirements})
	if err != nil {
		return nil, err
	}
	return e.generateJSON(ctx, TaskStackRecommend, req, checkAs[domain.StackRecommendation])
}

// ProjectPlan drafts a plan for idea. A supplied stack is embedded in the
// prompt and, when configured, cross-checked first.
func (e Engine) ProjectPlan(ctx context.Context, idea string, stack *domain.StackConfig) (json.RawMessage, error) {
	if strings.TrimSpace(idea) == "" {
		return nil, e.rejectRequest(required("idea"))
	}
	if stack != nil {
		if err := e.checkStack(*stack); err != nil {
			return nil, err
		}
	}
	req, err := BuildPrompt(TaskProjectPlan, PromptInput{Idea: idea, Stack: stack})
	if err != nil {
		return nil, err
	}
	return e.generateJSON(ctx, TaskProjectPlan, req, checkAs[domain.ProjectPlan])
}

// Scaffold produces starter files, setup commands and environment variables.
func (e Engine) Scaffold(ctx context.Context, plan json.RawMessage, stack domain.StackConfig) (json.RawMessage, error) {
	if err := requireJSON("plan", plan); err != nil {
		return nil, e.rejectRequest(err)
	}
	if err := e.checkStack(stack); err != nil {
		return nil, err
	}
	req, err := BuildPrompt(TaskScaffold, PromptInput{Plan: plan, Stack: &stack})
	if err != nil {
		return nil, err
	}
	return e.generateJSON(ctx, TaskScaffold, req, checkAs[domain.ScaffoldManifest])
}

// DocsFromPlan renders a plan as Markdown. Empty model output degrades to "".
func (e Engine) DocsFromPlan(ctx context.Context, plan json.RawMessage) (string, error) {
	if err := requireJSON("plan", plan); err != nil {
		return "", e.rejectRequest(err)
	}
	req, err := BuildPrompt(TaskDocsMarkdown, PromptInput{Plan: plan})
	if err != nil {
		return "", err
	}
	start := e.now()
	text, err := e.call(ctx, TaskDocsMarkdown, req, start)
	if err != nil {
		return "", err
	}
	md := strings.TrimSpace(text)
	status := StatusOK
	if md == "" {
		status = StatusEmpty
		if e.strictOutput() {
			merr := &MalformedOutputError{Task: TaskDocsMarkdown, Err: errors.New("empty document")}
			e.record(ctx, TaskDocsMarkdown, start, StatusMalformed, "malformed_output", len(text))
			return "", merr
		}
	}
	e.record(ctx, TaskDocsMarkdown, start, status, "", len(text))
	return md, nil
}

// DocsFromPrompt produces a structured document from a prompt and optional
// context.
func (e Engine) DocsFromPrompt(ctx context.Context, prompt, docContext string) (json.RawMessage, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, e.rejectRequest(required("prompt"))
	}
	req, err := BuildPrompt(TaskDocs, PromptInput{Prompt: prompt, Context: docContext})
	if err != nil {
		return nil, err
	}
	return e.generateJSON(ctx, TaskDocs, req, checkAs[domain.Document])
}

func (e Engine) checkStack(stack domain.StackConfig) error {
	check := schema.ValidateStack
	if e.stackCrossCheck() {
		check = schema.CrossValidateStack
	}
	if err := check(stack); err != nil {
		e.Metrics.ValidationReject("request")
		return prefixLocations("stack", err)
	}
	return nil
}

func (e Engine) rejectRequest(verrs *schema.ValidationErrors) error {
	if verrs == nil || len(verrs.Errors) == 0 {
		return nil
	}
	e.Metrics.ValidationReject("request")
	return verrs
}

func required(location string) *schema.ValidationErrors {
	return &schema.ValidationErrors{Errors: []schema.FieldError{{Location: location, Message: "is required"}}}
}

func requireJSON(location string, raw json.RawMessage) *schema.ValidationErrors {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return required(location)
	}
	if !json.Valid(raw) {
		return &schema.ValidationErrors{Errors: []schema.FieldError{{Location: location, Message: "must be valid JSON"}}}
	}
	return nil
}

// prefixLocations nests field locations of a validation error under parent.
func prefixLocations(parent string, err error) error {
	var verrs *schema.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	out := &schema.ValidationErrors{Errors: make([]schema.FieldError, len(verrs.Errors))}
	for i, fe := range verrs.Errors {
		if fe.Location != "" {
			fe.Location = parent + "." + fe.Location
		} else {
			fe.Location = parent
		}
		out.Errors[i] = fe
	}
	return out
}
