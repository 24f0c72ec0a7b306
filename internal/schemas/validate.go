// Package schemas validates raw source records against embedded JSON Schemas
// before they are transformed into rows.
package schemas

import (
	"embed"
	"fmt"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed records/*.schema.json
var recordFS embed.FS

// Names of the embedded record schemas.
const (
	USASpendingAward     = "usaspending_award"
	SECCompanyFacts      = "sec_companyfacts"
	CourtListenerOpinion = "courtlistener_opinion"
	CourtListenerDocket  = "courtlistener_docket"
	GDELTEvent           = "gdelt_event"
	OpenSkyState         = "opensky_state"
	ADSBXAircraft        = "adsbx_aircraft"
)

// ValidationError represents a schema validation error with field paths
type ValidationError struct {
	Schema string
	Errors []FieldError
}

// FieldError represents a single validation error at a specific field
type FieldError struct {
	Field   string
	Message string
}

// SchemaLoadError represents errors loading or parsing the schema itself
type SchemaLoadError struct {
	Path    string
	Message string
	Cause   error
}

func (e *SchemaLoadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("failed to load schema %s: %s: %v", e.Path, e.Message, e.Cause)
	}
	return fmt.Sprintf("failed to load schema %s: %s", e.Path, e.Message)
}

func (e *SchemaLoadError) Unwrap() error {
	return e.Cause
}

func (ve *ValidationError) Error() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s validation failed:", ve.Schema)
	for i, err := range ve.Errors {
		fmt.Fprintf(&sb, " %d. %s: %s;", i+1, err.Field, err.Message)
	}
	return strings.TrimSuffix(sb.String(), ";")
}

// Validator holds the compiled record schemas.
type Validator struct {
	schemas map[string]*gojsonschema.Schema
}

// NewValidator compiles every embedded record schema.
func NewValidator() (*Validator, error) {
	entries, err := recordFS.ReadDir("records")
	if err != nil {
		return nil, &SchemaLoadError{Path: "records", Message: "failed to list schemas", Cause: err}
	}

	v := &Validator{schemas: make(map[string]*gojsonschema.Schema, len(entries))}
	for _, entry := range entries {
		file := path.Join("records", entry.Name())
		raw, err := recordFS.ReadFile(file)
		if err != nil {
			return nil, &SchemaLoadError{Path: file, Message: "failed to read schema", Cause: err}
		}
		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
		if err != nil {
			return nil, &SchemaLoadError{Path: file, Message: "invalid schema", Cause: err}
		}
		v.schemas[strings.TrimSuffix(entry.Name(), ".schema.json")] = schema
	}
	return v, nil
}

// Names lists the compiled schemas in sorted order.
func (v *Validator) Names() []string {
	names := make([]string, 0, len(v.schemas))
	for name := range v.schemas {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks a decoded record (maps, slices, scalars) against the named schema.
func (v *Validator) Validate(name string, record any) error {
	schema, ok := v.schemas[name]
	if !ok {
		return &SchemaLoadError{Path: name, Message: "unknown schema"}
	}

	result, err := schema.Validate(gojsonschema.NewGoLoader(record))
	if err != nil {
		return fmt.Errorf("validate %s: %w", name, err)
	}
	if result.Valid() {
		return nil
	}

	validationErr := &ValidationError{
		Schema: name,
		Errors: make([]FieldError, 0, len(result.Errors())),
	}
	for _, desc := range result.Errors() {
		field := desc.Field()
		if field == "" {
			field = "(root)"
		}
		validationErr.Errors = append(validationErr.Errors, FieldError{
			Field:   field,
			Message: desc.Description(),
		})
	}
	return validationErr
}

var (
	defaultOnce      sync.Once
	defaultValidator *Validator
	defaultErr       error
)

// Default returns the process-wide validator, compiling it on first use.
func Default() (*Validator, error) {
	defaultOnce.Do(func() {
		defaultValidator, defaultErr = NewValidator()
	})
	return defaultValidator, defaultErr
}

// Validate checks record against the named schema using the default validator.
func Validate(name string, record any) error {
	v, err := Default()
	if err != nil {
		return err
	}
	return v.Validate(name, record)
}
