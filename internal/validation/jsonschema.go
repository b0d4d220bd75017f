// Package validation checks calltrace's JSON documents, the settings file and
// exported trace snapshots, against embedded JSON Schemas (Draft 2020-12).
package validation

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	jsonschema "github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/rendis/calltrace/pkg/schema"
)

//go:embed schemas/settings.json
var settingsSchemaJSON []byte

//go:embed schemas/snapshot.json
var snapshotSchemaJSON []byte

const (
	settingsSchemaURL = "https://calltrace.dev/schemas/settings.json"
	snapshotSchemaURL = "https://calltrace.dev/schemas/snapshot.json"
)

// Validator checks raw JSON documents before they are decoded.
type Validator interface {
	ValidateSettings(doc []byte) error
	ValidateSnapshot(doc []byte) error
}

// JSONSchemaValidator implements Validator with santhosh-tekuri/jsonschema.
// Schemas are compiled once; a compiled schema is safe for concurrent use.
type JSONSchemaValidator struct {
	settings *jsonschema.Schema
	snapshot *jsonschema.Schema
}

// NewJSONSchemaValidator compiles the embedded schemas.
func NewJSONSchemaValidator() (*JSONSchemaValidator, error) {
	c := jsonschema.NewCompiler()
	c.AssertFormat()

	for url, raw := range map[string][]byte{
		settingsSchemaURL: settingsSchemaJSON,
		snapshotSchemaURL: snapshotSchemaJSON,
	} {
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("unmarshal schema %s: %w", url, err)
		}
		if err := c.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("add schema resource %s: %w", url, err)
		}
	}

	settings, err := c.Compile(settingsSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile settings schema: %w", err)
	}
	snapshot, err := c.Compile(snapshotSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile snapshot schema: %w", err)
	}

	return &JSONSchemaValidator{settings: settings, snapshot: snapshot}, nil
}

// ValidateSettings checks a settings file.
func (v *JSONSchemaValidator) ValidateSettings(doc []byte) error {
	return validate(v.settings, "settings", doc)
}

// ValidateSnapshot checks an exported trace snapshot.
func (v *JSONSchemaValidator) ValidateSnapshot(doc []byte) error {
	return validate(v.snapshot, "snapshot", doc)
}

func validate(s *jsonschema.Schema, what string, doc []byte) error {
	if len(bytes.TrimSpace(doc)) == 0 {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s document is empty", what)
	}

	// UnmarshalJSON keeps numbers as json.Number, which the validator requires.
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(doc))
	if err != nil {
		return schema.NewErrorf(schema.ErrCodeValidation, "%s is not valid JSON: %s", what, err.Error()).WithCause(err)
	}

	if err := s.Validate(inst); err != nil {
		return toTraceError(what, err)
	}
	return nil
}

// toTraceError flattens a jsonschema.ValidationError into one VALIDATION_ERROR
// listing every leaf violation with its instance location.
func toTraceError(what string, err error) *schema.TraceError {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return schema.NewError(schema.ErrCodeValidation, err.Error()).WithCause(err)
	}

	violations := collectViolations(verr)
	switch len(violations) {
	case 0:
		return schema.NewError(schema.ErrCodeValidation, verr.Error()).WithCause(err)
	case 1:
		return schema.NewErrorf(schema.ErrCodeValidation, "invalid %s: %s", what, violations[0]).
			WithDetails(map[string]any{"violations": violations})
	}
	return schema.NewErrorf(schema.ErrCodeValidation, "invalid %s: %d violations", what, len(violations)).
		WithDetails(map[string]any{"violations": violations})
}

// collectViolations walks a ValidationError tree and collects leaf messages.
func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		loc := "/" + strings.Join(verr.InstanceLocation, "/")
		return []string{fmt.Sprintf("%s: %s", loc, verr.Error())}
	}

	var violations []string
	for _, cause := range verr.Causes {
		violations = append(violations, collectViolations(cause)...)
	}
	return violations
}

var _ Validator = (*JSONSchemaValidator)(nil)
