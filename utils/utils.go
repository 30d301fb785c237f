
package utils

import (
	"strconv"
	"strings"
)

// StringPtr returns a pointer to a string, or nil if empty.
func StringPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// ContainsString checks if a string slice contains a specific string.
func ContainsString(slice []string, item string) bool {
	for _, a := range slice {
		if a == item {
			return true
		}
	}
	return false
}

// ParseIntParam parses a numeric path or query parameter.
func ParseIntParam(s string) (int, bool) {
	v, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, false
	}
	return v, true
}

// BytesToInt converts a byte slice (e.g., from a SHA256 sum) to an int64.
// Used for generating a deterministic seed from a hash.
func BytesToInt(b []byte) int64 {
	var i int64
	for idx, val := range b {
		if idx >= 8 {
			break
		}
		i = (i << 8) | int64(val)
	}
	return i
}
