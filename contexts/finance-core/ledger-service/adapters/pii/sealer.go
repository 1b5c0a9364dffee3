package pii

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"strings"

	domainerrors "ledgerflow/contexts/finance-core/ledger-service/domain/errors"
	"ledgerflow/contexts/finance-core/ledger-service/ports"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	refPrefix   = "pii:v1:"
	hkdfInfoPII = "ledgerflow-pii:"
	minKeyBytes = 32
)

// Sealer encrypts identifiers with XChaCha20-Poly1305 under a per-tenant key
// derived from one master key. The tenant id is bound as associated data, so
// a reference opened under another tenant fails.
type Sealer struct {
	masterKey []byte
	random    io.Reader
}

// NewSealer requires at least 32 bytes of key material.
func NewSealer(masterKey []byte) (*Sealer, error) {
	if len(masterKey) < minKeyBytes {
		return nil, fmt.Errorf("%w: master key must be at least %d bytes", domainerrors.ErrPIIProtection, minKeyBytes)
	}
	return &Sealer{masterKey: append([]byte(nil), masterKey...), random: rand.Reader}, nil
}

// WithRandom swaps the nonce source; tests use it for deterministic refs.
func (s *Sealer) WithRandom(random io.Reader) *Sealer {
	clone := *s
	clone.random = random
	return &clone
}

func (s *Sealer) Protect(_ context.Context, tenantID string, plaintext string) (string, error) {
	aead, err := s.aead(tenantID)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := io.ReadFull(s.random, nonce); err != nil {
		return "", fmt.Errorf("%w: nonce: %v", domainerrors.ErrPIIProtection, err)
	}
	sealed := aead.Seal(nonce, nonce, []byte(plaintext), []byte(tenantID))
	return refPrefix + base64.RawURLEncoding.EncodeToString(sealed), nil
}

// Reveal opens a reference produced by Protect for the same tenant.
func (s *Sealer) Reveal(_ context.Context, tenantID string, ref string) (string, error) {
	if !strings.HasPrefix(ref, refPrefix) {
		return "", fmt.Errorf("%w: unknown reference format", domainerrors.ErrPIIProtection)
	}
	sealed, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(ref, refPrefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", domainerrors.ErrPIIProtection, err)
	}
	aead, err := s.aead(tenantID)
	if err != nil {
		return "", err
	}
	if len(sealed) < aead.NonceSize() {
		return "", fmt.Errorf("%w: reference too short", domainerrors.ErrPIIProtection)
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, []byte(tenantID))
	if err != nil {
		return "", fmt.Errorf("%w: %v", domainerrors.ErrPIIProtection, err)
	}
	return string(plaintext), nil
}

func (s *Sealer) aead(tenantID string) (cipher.AEAD, error) {
	if strings.TrimSpace(tenantID) == "" {
		return nil, domainerrors.ErrMissingTenant
	}
	key := make([]byte, chacha20poly1305.KeySize)
	kdf := hkdf.New(sha256.New, s.masterKey, nil, []byte(hkdfInfoPII+tenantID))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, fmt.Errorf("%w: derive key: %v", domainerrors.ErrPIIProtection, err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domainerrors.ErrPIIProtection, err)
	}
	return aead, nil
}

var _ ports.PIIProtector = (*Sealer)(nil)
