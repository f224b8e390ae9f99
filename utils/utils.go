package utils

import (
	"encoding/json"
	"fmt"
)

// GenerateRateLimitKey creates a unique key for rate limiting
func GenerateRateLimitKey(scope, id, path string) string {
	return fmt.Sprintf("rl:%s:%s:%s", scope, id, path)
}

// MustJSON marshals v, falling back to "{}" on error. Used for audit-log
// params where a marshal failure must not abort the surrounding cycle.
func MustJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "{}"
	}
	return string(data)
}
