package models

// Metadata payload limits. Violations are rejected; only over-long strings
// are silently truncated.
const (
	MaxMetadataDepth        = 4
	MaxMetadataItems        = 50
	MaxMetadataStringLength = 2048
)

// SanitizeMetadata enforces type safety, depth, and size limits on a
// caller-supplied metadata object. A nil input yields an empty map.
func SanitizeMetadata(metadata map[string]interface{}) (JSONMap, error) {
	if metadata == nil {
		return JSONMap{}, nil
	}
	cleaned, err := cleanMetadataValue(map[string]interface{}(metadata), 1)
	if err != nil {
		return nil, err
	}
	return JSONMap(cleaned.(map[string]interface{})), nil
}

func cleanMetadataValue(value interface{}, depth int) (interface{}, error) {
	if depth > MaxMetadataDepth {
		return nil, NewValidationError("metadata exceeds maximum nesting depth")
	}
	switch v := value.(type) {
	case nil:
		return nil, nil
	case bool:
		return v, nil
	case string:
		if len(v) > MaxMetadataStringLength {
			return v[:MaxMetadataStringLength], nil
		}
		return v, nil
	case float64:
		return v, nil
	case float32:
		return float64(v), nil
	case int:
		return v, nil
	case int32:
		return int64(v), nil
	case int64:
		return v, nil
	case map[string]interface{}:
		if len(v) > MaxMetadataItems {
			return nil, NewValidationError("metadata object has too many keys")
		}
		out := make(map[string]interface{}, len(v))
		for k, item := range v {
			cleaned, err := cleanMetadataValue(item, depth+1)
			if err != nil {
				return nil, err
			}
			out[k] = cleaned
		}
		return out, nil
	case JSONMap:
		return cleanMetadataValue(map[string]interface{}(v), depth)
	case []interface{}:
		if len(v) > MaxMetadataItems {
			return nil, NewValidationError("metadata array has too many items")
		}
		out := make([]interface{}, 0, len(v))
		for _, item := range v {
			cleaned, err := cleanMetadataValue(item, depth+1)
			if err != nil {
				return nil, err
			}
			out = append(out, cleaned)
		}
		return out, nil
	default:
		return nil, NewValidationErrorf("unsupported metadata type: %T", value)
	}
}
