package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/qri-io/jsonschema"
)

// ErrNilSchema is returned when compiling an absent schema.
var ErrNilSchema = errors.New("schema is nil")

// Schema is a compiled JSON Schema document.
type Schema struct {
	raw json.RawMessage

	// qri-io schemas resolve references lazily on first use, so validation
	// is serialized per schema.
	mu     sync.Mutex
	schema *jsonschema.Schema
}

// CompileSchema parses raw as a JSON Schema. The document must be a JSON object.
func CompileSchema(raw json.RawMessage) (*Schema, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, ErrNilSchema
	}
	if trimmed[0] != '{' {
		return nil, fmt.Errorf("schema must be a JSON object")
	}

	rs := &jsonschema.Schema{}
	if err := json.Unmarshal(trimmed, rs); err != nil {
		return nil, fmt.Errorf("invalid schema: %w", err)
	}

	return &Schema{raw: append(json.RawMessage(nil), trimmed...), schema: rs}, nil
}

// Raw returns the schema document as registered.
func (s *Schema) Raw() json.RawMessage {
	return s.raw
}

// ValidationIssue is one failed keyword.
type ValidationIssue struct {
	Path    string
	Message string
}

// ValidationError lists every issue found in one document.
type ValidationError struct {
	Issues []ValidationIssue
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Issues))
	for i, issue := range e.Issues {
		path := issue.Path
		if path == "" {
			path = "/"
		}
		parts[i] = fmt.Sprintf("%s: %s", path, issue.Message)
	}
	return "invalid arguments: " + strings.Join(parts, "; ")
}

// Validate checks data against the schema. Empty data is treated as {}.
// A *ValidationError is returned when data does not conform.
func (s *Schema) Validate(ctx context.Context, data json.RawMessage) error {
	doc := bytes.TrimSpace(data)
	if len(doc) == 0 || bytes.Equal(doc, []byte("null")) {
		doc = []byte("{}")
	}

	s.mu.Lock()
	keyErrs, err := s.schema.ValidateBytes(ctx, doc)
	s.mu.Unlock()
	if err != nil {
		return fmt.Errorf("invalid arguments: %w", err)
	}
	if len(keyErrs) == 0 {
		return nil
	}

	issues := make([]ValidationIssue, len(keyErrs))
	for i, ke := range keyErrs {
		issues[i] = ValidationIssue{Path: ke.PropertyPath, Message: ke.Message}
	}
	return &ValidationError{Issues: issues}
}

// ValidateAgainstSchema compiles schema and validates data in one step.
func ValidateAgainstSchema(ctx context.Context, data, schema json.RawMessage) error {
	s, err := CompileSchema(schema)
	if err != nil {
		return err
	}
	return s.Validate(ctx, data)
}
