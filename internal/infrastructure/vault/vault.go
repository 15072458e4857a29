// Package vault stores marketplace session material (cookies, tokens)
// encrypted at rest. Accounts reference sessions by an opaque ref; raw
// session bytes never appear in the database or in logs.
package vault

import (
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
)

var (
	// ErrSessionNotFound is returned when no session exists for the ref
	ErrSessionNotFound = errors.New("vault: session not found")
	// ErrInvalidKey is returned when the master key has the wrong size
	ErrInvalidKey = errors.New("vault: master key must be 32 bytes")
	// ErrCorruptSession is returned when a stored blob fails to decrypt
	ErrCorruptSession = errors.New("vault: session blob failed authentication")
	// ErrInvalidRef is returned for refs that would escape the vault dir
	ErrInvalidRef = errors.New("vault: invalid session ref")
)

// SessionVault seals session blobs with XChaCha20-Poly1305 and keeps them as
// files under a single directory, one file per ref.
type SessionVault struct {
	aead cipher.AEAD
	dir  string
}

// New creates a vault rooted at dir. The key must be exactly 32 bytes;
// DecodeKey handles the base64 form used in configuration.
func New(key []byte, dir string) (*SessionVault, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, ErrInvalidKey
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("vault: initializing cipher: %w", err)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("vault: creating vault dir: %w", err)
	}
	return &SessionVault{aead: aead, dir: dir}, nil
}

// DecodeKey decodes a base64-encoded master key
func DecodeKey(encoded string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("vault: decoding master key: %w", err)
	}
	if len(key) != chacha20poly1305.KeySize {
		return nil, ErrInvalidKey
	}
	return key, nil
}

// Put seals and stores the session blob under ref, replacing any previous
// blob
func (v *SessionVault) Put(ref string, session []byte) error {
	path, err := v.refPath(ref)
	if err != nil {
		return err
	}

	nonce := make([]byte, chacha20poly1305.NonceSizeX)
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("vault: generating nonce: %w", err)
	}

	// The ref is bound as associated data so a blob cannot be swapped
	// between accounts on disk.
	sealed := v.aead.Seal(nonce, nonce, session, []byte(ref))
	if err := os.WriteFile(path, sealed, 0o600); err != nil {
		return fmt.Errorf("vault: writing session blob: %w", err)
	}
	return nil
}

// Get opens the session blob stored under ref
func (v *SessionVault) Get(ref string) ([]byte, error) {
	path, err := v.refPath(ref)
	if err != nil {
		return nil, err
	}

	sealed, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("vault: reading session blob: %w", err)
	}
	if len(sealed) < chacha20poly1305.NonceSizeX {
		return nil, ErrCorruptSession
	}

	nonce, ciphertext := sealed[:chacha20poly1305.NonceSizeX], sealed[chacha20poly1305.NonceSizeX:]
	session, err := v.aead.Open(nil, nonce, ciphertext, []byte(ref))
	if err != nil {
		return nil, ErrCorruptSession
	}
	return session, nil
}

// Delete removes the session blob for ref. Deleting a missing ref is not an
// error.
func (v *SessionVault) Delete(ref string) error {
	path, err := v.refPath(ref)
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("vault: deleting session blob: %w", err)
	}
	return nil
}

// Exists reports whether a session blob is stored under ref
func (v *SessionVault) Exists(ref string) bool {
	path, err := v.refPath(ref)
	if err != nil {
		return false
	}
	_, statErr := os.Stat(path)
	return statErr == nil
}

func (v *SessionVault) refPath(ref string) (string, error) {
	if ref == "" || strings.ContainsAny(ref, "/\\") || strings.Contains(ref, "..") {
		return "", ErrInvalidRef
	}
	return filepath.Join(v.dir, ref+".session"), nil
}
