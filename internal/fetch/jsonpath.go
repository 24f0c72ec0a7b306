package fetch

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/jmespath/go-jmespath"
)

// Extractor evaluates JMESPath expressions against decoded JSON, caching the
// compiled form of each expression.
type Extractor struct {
	cache map[string]*jmespath.JMESPath
	mu    sync.RWMutex
}

// NewExtractor creates an Extractor with an empty cache.
func NewExtractor() *Extractor {
	return &Extractor{cache: make(map[string]*jmespath.JMESPath)}
}

var defaultExtractor = NewExtractor()

// Search evaluates expression against data using the shared extractor.
func Search(expression string, data any) (any, error) {
	return defaultExtractor.Search(expression, data)
}

// String returns the expression result as a string ("" when absent).
func String(expression string, data any) string {
	return defaultExtractor.String(expression, data)
}

// Int returns the expression result as an int.
func Int(expression string, data any) (int, bool) {
	return defaultExtractor.Int(expression, data)
}

// Float returns the expression result as a float64.
func Float(expression string, data any) (float64, bool) {
	return defaultExtractor.Float(expression, data)
}

// Bool returns the expression result as a bool (false when absent).
func Bool(expression string, data any) bool {
	return defaultExtractor.Bool(expression, data)
}

// Slice returns the expression result as a slice (nil when absent).
func Slice(expression string, data any) []any {
	return defaultExtractor.Slice(expression, data)
}

// Map returns the expression result as an object (nil when absent).
func Map(expression string, data any) map[string]any {
	return defaultExtractor.Map(expression, data)
}

// Search evaluates expression against data.
func (e *Extractor) Search(expression string, data any) (any, error) {
	compiled, err := e.getOrCompile(expression)
	if err != nil {
		return nil, fmt.Errorf("invalid expression %q: %w", expression, err)
	}
	result, err := compiled.Search(data)
	if err != nil {
		return nil, fmt.Errorf("failed to evaluate expression %q: %w", expression, err)
	}
	return result, nil
}

// String evaluates expression and formats scalars as strings. Whole numbers
// are rendered without a decimal point so numeric ids survive.
func (e *Extractor) String(expression string, data any) string {
	result, err := e.Search(expression, data)
	if err != nil || result == nil {
		return ""
	}
	switch v := result.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Int evaluates expression and converts numbers and numeric strings.
func (e *Extractor) Int(expression string, data any) (int, bool) {
	f, ok := e.Float(expression, data)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// Float evaluates expression and converts numbers and numeric strings.
func (e *Extractor) Float(expression string, data any) (float64, bool) {
	result, err := e.Search(expression, data)
	if err != nil || result == nil {
		return 0, false
	}
	switch v := result.(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

// Bool evaluates expression with JMESPath truthiness.
func (e *Extractor) Bool(expression string, data any) bool {
	result, err := e.Search(expression, data)
	if err != nil || result == nil {
		return false
	}
	switch v := result.(type) {
	case bool:
		return v
	case string:
		return v != ""
	case float64:
		return v != 0
	case []any:
		return len(v) > 0
	case map[string]any:
		return len(v) > 0
	default:
		return true
	}
}

// Slice evaluates expression and returns a slice. Scalars are wrapped.
func (e *Extractor) Slice(expression string, data any) []any {
	result, err := e.Search(expression, data)
	if err != nil || result == nil {
		return nil
	}
	slice, ok := result.([]any)
	if !ok {
		return []any{result}
	}
	return slice
}

// Map evaluates expression and returns an object, or nil for other types.
func (e *Extractor) Map(expression string, data any) map[string]any {
	result, err := e.Search(expression, data)
	if err != nil || result == nil {
		return nil
	}
	m, _ := result.(map[string]any)
	return m
}

func (e *Extractor) getOrCompile(expression string) (*jmespath.JMESPath, error) {
	e.mu.RLock()
	if compiled, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return compiled, nil
	}
	e.mu.RUnlock()

	compiled, err := jmespath.Compile(expression)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[expression] = compiled
	e.mu.Unlock()

	return compiled, nil
}
