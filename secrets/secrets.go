// Package secrets stores client secrets in a storage.Storage backend, sealed
// with an age X25519 recipient so that the backend never holds plaintext.
package secrets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"filippo.io/age"
	"github.com/ggoodman/mcp-gateway-go/storage"
)

// Namespace is the storage namespace secrets are written to.
const Namespace = "secrets"

// ErrSecretNotFound is returned by GetSecret when no secret has the name.
var ErrSecretNotFound = errors.New("secrets: not found")

// Store seals and unseals named secrets. It satisfies auth.SecretStore.
type Store struct {
	backend  storage.Storage
	identity *age.X25519Identity
}

// GenerateIdentity returns a new age identity in AGE-SECRET-KEY-1... form.
func GenerateIdentity() (string, error) {
	id, err := age.GenerateX25519Identity()
	if err != nil {
		return "", fmt.Errorf("generating age identity: %w", err)
	}
	return id.String(), nil
}

// New creates a Store. identity is an age X25519 identity string; an empty
// identity generates an ephemeral one, which makes stored secrets unreadable
// after a restart.
func New(backend storage.Storage, identity string) (*Store, error) {
	if backend == nil {
		return nil, errors.New("secrets: storage backend is required")
	}

	var (
		id  *age.X25519Identity
		err error
	)
	if identity == "" {
		id, err = age.GenerateX25519Identity()
	} else {
		id, err = age.ParseX25519Identity(identity)
	}
	if err != nil {
		return nil, fmt.Errorf("secrets: identity: %w", err)
	}

	return &Store{backend: backend, identity: id}, nil
}

// Recipient returns the public age1... key secrets are sealed to.
func (s *Store) Recipient() string {
	return s.identity.Recipient().String()
}

// SetSecret seals value and stores it under name.
func (s *Store) SetSecret(ctx context.Context, name, value string) error {
	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, s.identity.Recipient())
	if err != nil {
		return fmt.Errorf("secrets: creating encryptor: %w", err)
	}
	if _, err := io.WriteString(w, value); err != nil {
		return fmt.Errorf("secrets: encrypting %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("secrets: finalizing %s: %w", name, err)
	}

	if err := s.backend.Set(ctx, name, buf.Bytes(), storage.WithNamespace(Namespace)); err != nil {
		return fmt.Errorf("secrets: store %s: %w", name, err)
	}
	return nil
}

// GetSecret returns the plaintext stored under name.
func (s *Store) GetSecret(ctx context.Context, name string) (string, error) {
	item, err := s.backend.Get(ctx, name, storage.WithNamespace(Namespace))
	if err != nil {
		return "", fmt.Errorf("secrets: load %s: %w", name, err)
	}
	if item == nil {
		return "", fmt.Errorf("%w: %s", ErrSecretNotFound, name)
	}

	r, err := age.Decrypt(bytes.NewReader(item.Data), s.identity)
	if err != nil {
		return "", fmt.Errorf("secrets: decrypting %s: %w", name, err)
	}
	plain, err := io.ReadAll(r)
	if err != nil {
		return "", fmt.Errorf("secrets: reading %s: %w", name, err)
	}
	return string(plain), nil
}

// DeleteSecret removes name.
func (s *Store) DeleteSecret(ctx context.Context, name string) error {
	return s.backend.Delete(ctx, storage.WithNamespace(Namespace), storage.WithKey(name))
}

// Close closes the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}
