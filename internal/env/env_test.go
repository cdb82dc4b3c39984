//go:build !js || !wasm

package env

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGet(t *testing.T) {
	t.Setenv("SESSION_AGENT_TEST_VALUE", "present")
	t.Setenv("SESSION_AGENT_TEST_EMPTY", "")

	value, ok := Get("SESSION_AGENT_TEST_VALUE")
	assert.True(t, ok)
	assert.Equal(t, "present", value)

	_, ok = Get("SESSION_AGENT_TEST_EMPTY")
	assert.False(t, ok, "empty values are treated as unset")

	assert.Equal(t, "fallback", GetOrDefault("SESSION_AGENT_TEST_EMPTY", "fallback"))
	assert.Equal(t, "present", GetOrDefault("SESSION_AGENT_TEST_VALUE", "fallback"))
}
