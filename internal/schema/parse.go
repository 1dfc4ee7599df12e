package schema

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNoJSON is returned when model text carries no JSON document.
var ErrNoJSON = errors.New("no JSON document in model output")

// ParseError reports model output that could not be turned into a T.
type ParseError struct {
	Target string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %v", e.Target, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ExtractJSON returns the JSON document inside raw model text. A single
// surrounding Markdown code fence is tolerated.
func ExtractJSON(text string) (json.RawMessage, bool) {
	data := bytes.TrimSpace([]byte(text))
	if bytes.HasPrefix(data, []byte("```")) {
		data = data[3:]
		if nl := bytes.IndexByte(data, '\n'); nl >= 0 {
			data = data[nl+1:]
		} else {
			data = nil
		}
		if end := bytes.LastIndex(data, []byte("```")); end >= 0 {
			data = data[:end]
		}
		data = bytes.TrimSpace(data)
	}
	if len(data) == 0 || !json.Valid(data) {
		return nil, false
	}
	return json.RawMessage(data), true
}

// ParseAndValidate decodes model text into T and runs check on the result.
// check may be nil.
func ParseAndValidate[T any](text string, check func(*T) error) (T, error) {
	var out T
	target := fmt.Sprintf("%T", out)
	raw, ok := ExtractJSON(text)
	if !ok {
		return out, &ParseError{Target: target, Err: ErrNoJSON}
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, &ParseError{Target: target, Err: err}
	}
	if check != nil {
		if err := check(&out); err != nil {
			return out, &ParseError{Target: target, Err: err}
		}
	}
	return out, nil
}
