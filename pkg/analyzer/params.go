package analyzer

import (
	"errors"
	"fmt"
)

var (
	// ErrMissingParameter reports a required parameter absent from the
	// request.
	ErrMissingParameter = errors.New("analyzer: missing parameter")

	// ErrInvalidParameter reports a parameter of the wrong type or range.
	ErrInvalidParameter = errors.New("analyzer: invalid parameter")
)

// Params carries per-request algorithm parameters. Values arrive from JSON
// or YAML decoding, so numbers may be any of int, float64 or float32.
type Params map[string]any

// Float returns a numeric parameter or the default when absent.
func (p Params) Float(key string, def float64) (float64, error) {
	raw, ok := p[key]
	if !ok {
		return def, nil
	}
	f, ok := toFloat(raw)
	if !ok {
		return 0, fmt.Errorf("%w: %s=%v is not a number", ErrInvalidParameter, key, raw)
	}
	return f, nil
}

// Int returns an integer parameter or the default when absent. Fractional
// values are rejected.
func (p Params) Int(key string, def int) (int, error) {
	raw, ok := p[key]
	if !ok {
		return def, nil
	}
	f, ok := toFloat(raw)
	if !ok || f != float64(int(f)) {
		return 0, fmt.Errorf("%w: %s=%v is not an integer", ErrInvalidParameter, key, raw)
	}
	return int(f), nil
}

// Bool returns a boolean parameter or the default when absent.
func (p Params) Bool(key string, def bool) (bool, error) {
	raw, ok := p[key]
	if !ok {
		return def, nil
	}
	b, ok := raw.(bool)
	if !ok {
		return false, fmt.Errorf("%w: %s=%v is not a boolean", ErrInvalidParameter, key, raw)
	}
	return b, nil
}

// String returns a string parameter or the default when absent.
func (p Params) String(key, def string) (string, error) {
	raw, ok := p[key]
	if !ok {
		return def, nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s=%v is not a string", ErrInvalidParameter, key, raw)
	}
	return s, nil
}

// Has reports whether the key was supplied at all.
func (p Params) Has(key string) bool {
	_, ok := p[key]
	return ok
}

func toFloat(raw any) (float64, bool) {
	switch v := raw.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int32:
		return float64(v), true
	case int64:
		return float64(v), true
	default:
		return 0, false
	}
}
