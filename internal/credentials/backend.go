package credentials

import "context"

// Backend is durable key/value storage for the credential key set.
type Backend interface {
	// Read returns every stored key. A backend with nothing stored returns an
	// empty map and no error.
	Read(ctx context.Context) (map[string]string, error)

	// Write replaces the whole key set in a single operation. Keys absent from
	// values must not survive the write.
	Write(ctx context.Context, values map[string]string) error

	// Clear removes every key.
	Clear(ctx context.Context) error

	// Name identifies the backend in logs.
	Name() string
}
