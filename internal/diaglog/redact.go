package diaglog

import "strings"

// redacted replaces every sensitive value.
const redacted = "[REDACTED]"

// sensitiveKeys are the field names whose values never reach the log file.
// Matching is case-insensitive.
var sensitiveKeys = map[string]bool{
	"authentication": true,
	"password":       true,
	"secret":         true,
	"challenge":      true,
	"salt":           true,
	"auth":           true,
	"token":          true,
}

func isSensitive(key string) bool {
	return sensitiveKeys[strings.ToLower(key)]
}

// Redact recursively traverses v and replaces the values of sensitive keys
// with "[REDACTED]". v is not mutated; maps and slices are copied. Other types
// are returned unchanged.
func Redact(v interface{}) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(val))
		for k, child := range val {
			if isSensitive(k) {
				out[k] = redacted
			} else {
				out[k] = Redact(child)
			}
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(val))
		for k, child := range val {
			if isSensitive(k) {
				out[k] = redacted
			} else {
				out[k] = child
			}
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, elem := range val {
			out[i] = Redact(elem)
		}
		return out
	default:
		return v
	}
}
