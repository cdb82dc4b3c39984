//go:build js && wasm

package env

import "github.com/syumai/workers/cloudflare"

// Get returns the value of key from the Worker's bindings (vars and secrets).
func Get(key string) (string, bool) {
	value := cloudflare.Getenv(key)
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
