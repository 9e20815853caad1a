package stormguard

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrExtraction is wrapped by every error returned when a numeric value
// cannot be read from a payload.
var ErrExtraction = errors.New("value extraction failed")

// ExtractValue reads the number at a dot-separated path of a decoded JSON
// payload.
//
// The path is split on "." and walked one object key at a time. The walk
// fails if an intermediate value is not an object or a key is missing.
// The leaf is coerced to a number: JSON numbers are used as-is, strings
// are parsed, and booleans become 1 or 0. Null, objects, arrays, empty
// strings and non-finite results are rejected.
//
// Example:
//
//	// For payload {"total_mqtt_communication": {"rate": 42}}
//	v, err := stormguard.ExtractValue(payload, "total_mqtt_communication.rate") // 42, nil
func ExtractValue(payload any, path string) (float64, error) {
	return extractParts(payload, splitPath(path))
}

func splitPath(path string) []string {
	return strings.Split(path, ".")
}

func extractParts(payload any, parts []string) (float64, error) {
	current := payload
	for i, part := range parts {
		obj, ok := current.(map[string]any)
		if !ok {
			return 0, fmt.Errorf("%w: %q is not an object", ErrExtraction, strings.Join(parts[:i], "."))
		}
		current, ok = obj[part]
		if !ok {
			return 0, fmt.Errorf("%w: %q not found", ErrExtraction, strings.Join(parts[:i+1], "."))
		}
	}

	v, err := toNumber(current)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %v", ErrExtraction, strings.Join(parts, "."), err)
	}
	return v, nil
}

// toNumber coerces a decoded JSON leaf to a finite float64.
func toNumber(v any) (float64, error) {
	var f float64
	switch x := v.(type) {
	case float64:
		f = x
	case int:
		f = float64(x)
	case int64:
		f = float64(x)
	case bool:
		if x {
			f = 1
		}
	case string:
		s := strings.TrimSpace(x)
		if s == "" {
			return 0, errors.New("empty string is not a number")
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, fmt.Errorf("%q is not a number", x)
		}
		f = parsed
	case nil:
		return 0, errors.New("value is null")
	default:
		return 0, fmt.Errorf("value of type %T is not a number", v)
	}

	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%v is not finite", f)
	}
	return f, nil
}
