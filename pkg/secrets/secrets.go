// Package secrets implements the encrypted key-value store for runtime
// secrets and settings (spec.md §6 "Key-value store for encrypted secrets
// and runtime settings"), backed by the same embedded Badger engine as
// pkg/storage/badger, with values sealed under AES-256-GCM before they ever
// touch disk.
package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/dgraph-io/badger/v4"

	"github.com/kestrel-run/kestrel/pkg/domain"
)

// Store is an encrypted-at-rest key-value store for one agent's secrets.
type Store struct {
	db     *badger.DB
	gcm    cipher.AEAD
	prefix []byte
}

// Open opens (or creates) a Badger database at path and wraps it with
// AES-256-GCM sealing keyed by masterKey (exactly 32 bytes). masterKey
// itself is never persisted; it is expected to come from the environment
// or an external KMS, not the config file.
func Open(path string, masterKey []byte) (*Store, error) {
	if len(masterKey) != 32 {
		return nil, &domain.SecretsError{Op: "open", Cause: fmt.Errorf("master key must be 32 bytes, got %d", len(masterKey))}
	}
	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, &domain.SecretsError{Op: "open", Cause: err}
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, &domain.SecretsError{Op: "open", Cause: err}
	}

	opts := badger.DefaultOptions(path).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, &domain.SecretsError{Op: "open", Cause: err}
	}
	return &Store{db: db, gcm: gcm, prefix: []byte("secret:")}, nil
}

func (s *Store) key(k string) []byte {
	return append(append([]byte(nil), s.prefix...), []byte(k)...)
}

func (s *Store) seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return s.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (s *Store) open(sealed []byte) ([]byte, error) {
	nonceSize := s.gcm.NonceSize()
	if len(sealed) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ct := sealed[:nonceSize], sealed[nonceSize:]
	return s.gcm.Open(nil, nonce, ct, nil)
}

// Set seals value and writes it under key.
func (s *Store) Set(key string, value []byte) error {
	sealed, err := s.seal(value)
	if err != nil {
		return &domain.SecretsError{Op: "set", Cause: err}
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.key(key), sealed)
	})
	if err != nil {
		return &domain.SecretsError{Op: "set", Cause: err}
	}
	return nil
}

// SetString is a convenience wrapper for string-valued secrets.
func (s *Store) SetString(key, value string) error {
	return s.Set(key, []byte(value))
}

// Get reads and unseals the value stored under key.
func (s *Store) Get(key string) ([]byte, error) {
	var sealed []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			sealed = append([]byte(nil), val...)
			return nil
		})
	})
	if err == badger.ErrKeyNotFound {
		return nil, &domain.NotFoundError{EntityType: "secret", ID: key}
	}
	if err != nil {
		return nil, &domain.SecretsError{Op: "get", Cause: err}
	}
	plaintext, err := s.open(sealed)
	if err != nil {
		return nil, &domain.SecretsError{Op: "get", Cause: err}
	}
	return plaintext, nil
}

// GetString is a convenience wrapper for string-valued secrets.
func (s *Store) GetString(key string) (string, error) {
	v, err := s.Get(key)
	if err != nil {
		return "", err
	}
	return string(v), nil
}

// Delete removes key, if present.
func (s *Store) Delete(key string) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(s.key(key))
	})
	if err != nil {
		return &domain.SecretsError{Op: "delete", Cause: err}
	}
	return nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}
