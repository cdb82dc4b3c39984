//go:build !js || !wasm

package env

import "os"

// Get returns the value of key from the process environment. Empty values
// count as unset.
func Get(key string) (string, bool) {
	value := os.Getenv(key)
	if value == "" {
		return "", false
	}
	return value, true
}

// GetOrDefault returns the value of key, or fallback when unset.
func GetOrDefault(key, fallback string) string {
	if value, ok := Get(key); ok {
		return value
	}
	return fallback
}
