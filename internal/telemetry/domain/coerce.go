package telemetry

import (
	"encoding/json"
	"strconv"
)

// CoerceFields filters a raw field bag against the channel's allowed field
// set and normalizes values. Unknown fields are dropped and reported through
// warn (they are not errors). Surviving values are parsed as float64 where
// possible; anything that does not parse is kept verbatim. Returns
// ErrNoValidFields when nothing survives.
//
// Every protocol adapter funnels through this one function so that typed JSON
// bodies, string query parameters and CoAP payloads all land in the same
// canonical representation.
func CoerceFields(allowed []string, bag map[string]any, warn func(field string)) (map[string]any, error) {
	permitted := make(map[string]struct{}, len(allowed))
	for _, field := range allowed {
		permitted[field] = struct{}{}
	}

	values := make(map[string]any, len(bag))
	for field, raw := range bag {
		if _, ok := permitted[field]; !ok {
			if warn != nil {
				warn(field)
			}
			continue
		}
		values[field] = CoerceValue(raw)
	}

	if len(values) == 0 {
		return nil, ErrNoValidFields
	}
	return values, nil
}

// CoerceValue attempts 64-bit float interpretation of a raw value, keeping
// the original on failure.
func CoerceValue(raw any) any {
	switch v := raw.(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int32:
		return float64(v)
	case int64:
		return float64(v)
	case json.Number:
		if parsed, err := v.Float64(); err == nil {
			return parsed
		}
		return v.String()
	case string:
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			return parsed
		}
		return v
	default:
		return raw
	}
}
