package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"blueprint/internal/domain"
	"blueprint/internal/llm"
	"blueprint/internal/schema"
)

// call performs the single model call of a task. Failures are recorded and
// returned as *GenerationError.
func (e Engine) call(ctx context.Context, task Task, req llm.Request, start time.Time) (string, error) {
	if e.Model == nil {
		e.record(ctx, task, start, StatusError, "no_model", 0)
		return "", &GenerationError{Task: task, Err: ErrNoModel}
	}
	text, err := e.Model.Generate(ctx, req)
	if err != nil {
		e.record(ctx, task, start, StatusError, "generation_failed", 0)
		return "", &GenerationError{Task: task, Err: err}
	}
	return text, nil
}

// generateJSON runs a JSON task. Lenient mode hands back whatever object the
// model produced, or {} when there is none. Strict mode runs check and turns
// any failure into a *MalformedOutputError.
func (e Engine) generateJSON(ctx context.Context, task Task, req llm.Request, check func(json.RawMessage) error) (json.RawMessage, error) {
	start := e.now()
	text, err := e.call(ctx, task, req, start)
	if err != nil {
		return nil, err
	}
	raw, ok := schema.ExtractJSON(text)
	if ok && !isObject(raw) {
		ok = false
	}
	if !e.strictOutput() {
		if !ok {
			e.logger().Warn("model output is not a JSON object, returning empty object", "task", task, "bytes", len(text))
			e.record(ctx, task, start, StatusEmpty, "", len(text))
			return emptyObject, nil
		}
		e.record(ctx, task, start, StatusOK, "", len(text))
		return raw, nil
	}
	if !ok {
		err = &schema.ParseError{Target: string(task), Err: schema.ErrNoJSON}
	} else if check != nil {
		err = check(raw)
	}
	if err != nil {
		e.Metrics.ValidationReject("model")
		e.record(ctx, task, start, StatusMalformed, "malformed_output", len(text))
		return nil, &MalformedOutputError{Task: task, Err: err}
	}
	e.record(ctx, task, start, StatusOK, "", len(text))
	return raw, nil
}

func (e Engine) checkGraph(raw json.RawMessage) error {
	_, err := schema.ValidateGraph(raw, schema.WithStrictIf(e.strictGraphs()))
	return err
}

func checkAs[T any](raw json.RawMessage) error {
	_, err := schema.ParseAndValidate(string(raw), func(v *T) error { return schema.Struct(v) })
	return err
}

func isObject(raw json.RawMessage) bool {
	return len(raw) > 0 && bytes.TrimSpace(raw)[0] == '{'
}

// record writes the audit event and metrics of one invocation. Event log
// failures are logged and never fail the request.
func (e Engine) record(ctx context.Context, task Task, start time.Time, status, code string, outputBytes int) {
	d := e.now().Sub(start)
	if d < 0 {
		d = 0
	}
	evt := domain.Event{
		Task:        string(task),
		Status:      status,
		DurationMS:  d.Milliseconds(),
		Model:       e.modelName(),
		ErrorCode:   code,
		OutputBytes: outputBytes,
	}
	if _, err := e.Events.Append(context.WithoutCancel(ctx), evt); err != nil {
		e.logger().Warn("record generation event", "task", task, "error", err)
	}
	e.Metrics.ObserveGeneration(string(task), status, d, outputBytes)
	log := e.logger().Info
	if status == StatusError || status == StatusMalformed {
		log = e.logger().Warn
	}
	log("generation", "task", task, "status", status, "duration_ms", d.Milliseconds(), "output_bytes", outputBytes)
}
