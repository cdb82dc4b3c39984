//go:build js && wasm

package credentials

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/syumai/workers/cloudflare/kv"
)

const kvSessionKey = "schooladmin_session"

// CloudflareKVBackend keeps the key set as a single JSON value in Workers KV,
// so one PUT replaces everything at once.
type CloudflareKVBackend struct {
	kvStore *kv.Namespace
}

// NewCloudflareKVBackend opens the KV namespace bound as binding in
// wrangler.toml.
func NewCloudflareKVBackend(binding string) (*CloudflareKVBackend, error) {
	kvStore, err := kv.NewNamespace(binding)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize KV namespace: %w", err)
	}
	return &CloudflareKVBackend{kvStore: kvStore}, nil
}

func (c *CloudflareKVBackend) Read(_ context.Context) (map[string]string, error) {
	raw, err := c.kvStore.GetString(kvSessionKey, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to get credentials from KV: %w", err)
	}

	values := map[string]string{}
	if raw == "" {
		return values, nil
	}
	if err := json.Unmarshal([]byte(raw), &values); err != nil {
		return nil, fmt.Errorf("failed to parse credentials JSON: %w", err)
	}
	return values, nil
}

func (c *CloudflareKVBackend) Write(_ context.Context, values map[string]string) error {
	raw, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}
	if err := c.kvStore.PutString(kvSessionKey, string(raw), nil); err != nil {
		return fmt.Errorf("failed to store credentials in KV: %w", err)
	}
	return nil
}

func (c *CloudflareKVBackend) Clear(_ context.Context) error {
	if err := c.kvStore.Delete(kvSessionKey); err != nil {
		return fmt.Errorf("failed to delete credentials from KV: %w", err)
	}
	return nil
}

func (c *CloudflareKVBackend) Name() string {
	return "cloudflare-kv"
}
