package credentials

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/nacl/secretbox"
)

const (
	nonceSize = 24
	keySize   = 32
)

// ErrSealedFileCorrupt is returned when an encrypted credential file cannot
// be opened with the configured key.
var ErrSealedFileCorrupt = errors.New("sealed credential file could not be opened")

// FileBackend stores the key set as one JSON document. Writes go to a temp
// file in the same directory and are renamed into place. With an encryption
// key the document is sealed with NaCl secretbox.
type FileBackend struct {
	path string
	key  *[keySize]byte
}

// NewFileBackend returns a backend writing to path, or to
// ~/.schooladmin/session.json when path is empty. encryptionKey must be empty
// or exactly 32 bytes.
func NewFileBackend(path string, encryptionKey []byte) (*FileBackend, error) {
	if path == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, ".schooladmin", "session.json")
	}

	backend := &FileBackend{path: path}
	if len(encryptionKey) > 0 {
		if len(encryptionKey) != keySize {
			return nil, fmt.Errorf("encryption key must be %d bytes, got %d", keySize, len(encryptionKey))
		}
		backend.key = new([keySize]byte)
		copy(backend.key[:], encryptionKey)
	}
	return backend, nil
}

// Path returns the credential file location.
func (f *FileBackend) Path() string {
	return f.path
}

func (f *FileBackend) Read(_ context.Context) (map[string]string, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]string{}, nil
		}
		return nil, fmt.Errorf("failed to read credentials file: %w", err)
	}

	if f.key != nil {
		data, err = f.open(data)
		if err != nil {
			return nil, err
		}
	}

	values := map[string]string{}
	if err := json.Unmarshal(data, &values); err != nil {
		return nil, fmt.Errorf("failed to parse credentials file: %w", err)
	}
	return values, nil
}

func (f *FileBackend) Write(_ context.Context, values map[string]string) error {
	data, err := json.MarshalIndent(values, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal credentials: %w", err)
	}

	if f.key != nil {
		data, err = f.seal(data)
		if err != nil {
			return err
		}
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".session-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file in %s: %w", dir, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to chmod %s: %w", tmpPath, err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close %s: %w", tmpPath, err)
	}

	if err := os.Rename(tmpPath, f.path); err != nil {
		return fmt.Errorf("failed to write credentials to %s: %w", f.path, err)
	}
	return nil
}

func (f *FileBackend) Clear(_ context.Context) error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", f.path, err)
	}
	return nil
}

func (f *FileBackend) Name() string {
	if f.key != nil {
		return fmt.Sprintf("file(%s, sealed)", f.path)
	}
	return fmt.Sprintf("file(%s)", f.path)
}

// seal prefixes the secretbox output with its random nonce.
func (f *FileBackend) seal(plain []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plain, &nonce, f.key), nil
}

func (f *FileBackend) open(sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, ErrSealedFileCorrupt
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, f.key)
	if !ok {
		return nil, ErrSealedFileCorrupt
	}
	return plain, nil
}
