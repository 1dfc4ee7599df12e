// Package schema checks untrusted graph-shaped data against the domain model.
//
// Every entry point is total: malformed input of any shape comes back as a
// *ValidationErrors or *ParseError, never as a panic.
package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"blueprint/internal/domain"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return fld.Name
		}
		return name
	})
	return v
}

// FieldError addresses one problem by its location in the candidate document,
// e.g. "nodes[0].id".
type FieldError struct {
	Location string `json:"location"`
	Message  string `json:"message"`
	Value    any    `json:"value,omitempty"`
}

// ValidationErrors is the flattened result of a rejected candidate.
type ValidationErrors struct {
	Errors []FieldError `json:"errors"`
}

func (e *ValidationErrors) Error() string {
	if e == nil || len(e.Errors) == 0 {
		return "validation failed"
	}
	parts := make([]string, 0, len(e.Errors))
	for _, fe := range e.Errors {
		if fe.Location == "" {
			parts = append(parts, fe.Message)
			continue
		}
		parts = append(parts, fe.Location+" "+fe.Message)
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Fields groups messages by location.
func (e *ValidationErrors) Fields() map[string][]string {
	out := map[string][]string{}
	if e == nil {
		return out
	}
	for _, fe := range e.Errors {
		out[fe.Location] = append(out[fe.Location], fe.Message)
	}
	return out
}

func (e *ValidationErrors) add(location, message string, value any) {
	e.Errors = append(e.Errors, FieldError{Location: location, Message: message, Value: value})
}

func (e *ValidationErrors) orNil() error {
	if e == nil || len(e.Errors) == 0 {
		return nil
	}
	return e
}

type options struct {
	strict bool
}

// Option adjusts graph validation.
type Option func(*options)

// WithStrict additionally rejects duplicate ids and edges whose endpoints are
// not node ids.
func WithStrict() Option {
	return func(o *options) { o.strict = true }
}

// WithStrictIf is WithStrict when on is true and a no-op otherwise.
func WithStrictIf(on bool) Option {
	return func(o *options) { o.strict = o.strict || on }
}

// ValidateGraph decodes candidate into a Graph and checks it. The candidate
// may be JSON bytes, a JSON string, a json.RawMessage, a domain.Graph, or any
// value that marshals to JSON.
func ValidateGraph(candidate any, opts ...Option) (domain.Graph, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	g, verrs := decodeGraph(candidate)
	if verrs != nil {
		return domain.Graph{}, verrs
	}
	verrs = &ValidationErrors{}
	collectStructErrors(verrs, validate.Struct(&g))
	if o.strict {
		checkReferences(verrs, g)
	}
	if err := verrs.orNil(); err != nil {
		return domain.Graph{}, err
	}
	return g, nil
}

func decodeGraph(candidate any) (g domain.Graph, verrs *ValidationErrors) {
	defer func() {
		if r := recover(); r != nil {
			verrs = &ValidationErrors{}
			verrs.add("", fmt.Sprintf("unreadable graph: %v", r), nil)
		}
	}()
	var data []byte
	switch v := candidate.(type) {
	case domain.Graph:
		return v.Normalized(), nil
	case *domain.Graph:
		if v == nil {
			verrs = &ValidationErrors{}
			verrs.add("", "graph is required", nil)
			return g, verrs
		}
		return v.Normalized(), nil
	case json.RawMessage:
		data = v
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			verrs = &ValidationErrors{}
			verrs.add("", "graph is not representable as JSON", nil)
			return g, verrs
		}
		data = b
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		verrs = &ValidationErrors{}
		verrs.add("", "graph is required", nil)
		return g, verrs
	}
	if err := json.Unmarshal(data, &g); err != nil {
		verrs = &ValidationErrors{}
		verrs.add(decodeLocation(err), decodeMessage(err), nil)
		return domain.Graph{}, verrs
	}
	return g, nil
}

func decodeLocation(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return typeErr.Field
	}
	return ""
}

func decodeMessage(err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return fmt.Sprintf("must be %s, got %s", jsonTypeName(typeErr.Type), typeErr.Value)
	}
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return fmt.Sprintf("invalid JSON at offset %d", syntaxErr.Offset)
	}
	return "invalid JSON: " + err.Error()
}

func jsonTypeName(t reflect.Type) string {
	if t == nil {
		return "a value"
	}
	switch t.Kind() {
	case reflect.String:
		return "a string"
	case reflect.Bool:
		return "a boolean"
	case reflect.Slice, reflect.Array:
		return "an array"
	case reflect.Map, reflect.Struct:
		return "an object"
	case reflect.Ptr:
		return jsonTypeName(t.Elem())
	}
	return "a " + t.Kind().String()
}

func collectStructErrors(verrs *ValidationErrors, err error) {
	if err == nil {
		return
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		verrs.add("", err.Error(), nil)
		return
	}
	for _, fe := range fieldErrs {
		verrs.add(location(fe.Namespace()), messageFor(fe), valueFor(fe))
	}
}

// location drops the root type name from a validator namespace:
// "Graph.nodes[0].id" becomes "nodes[0].id".
func location(namespace string) string {
	if i := strings.Index(namespace, "."); i >= 0 {
		return namespace[i+1:]
	}
	return namespace
}

func messageFor(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "oneof":
		return "must be one of: " + strings.ReplaceAll(fe.Param(), " ", ", ")
	case "min":
		return "must have at least " + fe.Param() + " items"
	default:
		return "failed " + fe.Tag() + " check"
	}
}

func valueFor(fe validator.FieldError) any {
	if fe.Tag() == "required" {
		return nil
	}
	return fe.Value()
}

func checkReferences(verrs *ValidationErrors, g domain.Graph) {
	nodeIDs := make(map[string]int, len(g.Nodes))
	for i, n := range g.Nodes {
		if n.ID == "" {
			continue
		}
		if first, dup := nodeIDs[n.ID]; dup {
			verrs.add(fmt.Sprintf("nodes[%d].id", i), fmt.Sprintf("duplicates nodes[%d].id", first), n.ID)
			continue
		}
		nodeIDs[n.ID] = i
	}
	edgeIDs := make(map[string]int, len(g.Edges))
	for i, e := range g.Edges {
		if e.ID != "" {
			if first, dup := edgeIDs[e.ID]; dup {
				verrs.add(fmt.Sprintf("edges[%d].id", i), fmt.Sprintf("duplicates edges[%d].id", first), e.ID)
			} else {
				edgeIDs[e.ID] = i
			}
		}
		if _, ok := nodeIDs[e.Source]; e.Source != "" && !ok {
			verrs.add(fmt.Sprintf("edges[%d].source", i), "references an unknown node", e.Source)
		}
		if _, ok := nodeIDs[e.Target]; e.Target != "" && !ok {
			verrs.add(fmt.Sprintf("edges[%d].target", i), "references an unknown node", e.Target)
		}
	}
}

// Struct runs tag validation on any domain value and flattens the result.
func Struct(v any) error {
	verrs := &ValidationErrors{}
	collectStructErrors(verrs, validate.Struct(v))
	return verrs.orNil()
}

// frameworksByType is consulted only by CrossValidateStack.
var frameworksByType = map[domain.StackType][]string{
	domain.StackWeb:        {"nextjs", "react", "vue", "svelte", "angular"},
	domain.StackMobile:     {"react-native", "flutter", "expo"},
	domain.StackBackend:    {"express", "fastapi", "django", "nestjs", "gin", "rails"},
	domain.StackBlockchain: {"anchor", "hardhat", "foundry"},
	domain.StackAI:         {"langchain", "llamaindex", "fastapi"},
}

// ValidateStack checks enum membership of every StackConfig field.
func ValidateStack(cfg domain.StackConfig) error {
	return Struct(&cfg)
}

// CrossValidateStack rejects frameworks that do not belong to the stack type.
// The core schema does not couple the two; callers opt in.
func CrossValidateStack(cfg domain.StackConfig) error {
	if err := ValidateStack(cfg); err != nil {
		return err
	}
	allowed := frameworksByType[cfg.Type]
	for _, fw := range allowed {
		if fw == cfg.Framework {
			return nil
		}
	}
	sorted := append([]string(nil), allowed...)
	sort.Strings(sorted)
	verrs := &ValidationErrors{}
	verrs.add("framework", fmt.Sprintf("is not a %s framework (expected one of: %s)", cfg.Type, strings.Join(sorted, ", ")), cfg.Framework)
	return verrs
}
