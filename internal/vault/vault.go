// Package vault holds the cryptographic primitives for personal data at rest:
// AES-256-GCM field encryption, bcrypt lookup hashes and an HMAC blind index.
//
// A Vault is configured once at startup and is safe for concurrent use; there is
// no runtime path that mutates key material.
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/crypto/hkdf"

	dErrors "vaultline/pkg/domain-errors"
)

const (
	// KeySize is the required symmetric key length (AES-256).
	KeySize = 32

	tagSize = 16

	blindIndexInfo = "vaultline/lookup-index/v1"
)

// EncryptedField is the ciphertext, nonce and authentication tag of one value.
// The three parts are only meaningful together.
type EncryptedField struct {
	Ciphertext []byte
	Nonce      []byte
	Tag        []byte
}

// IsZero reports whether the field holds no ciphertext at all.
func (f EncryptedField) IsZero() bool {
	return len(f.Nonce) == 0 && len(f.Tag) == 0 && len(f.Ciphertext) == 0
}

// Clone returns a deep copy so callers cannot alias stored bytes.
func (f EncryptedField) Clone() EncryptedField {
	return EncryptedField{
		Ciphertext: append([]byte(nil), f.Ciphertext...),
		Nonce:      append([]byte(nil), f.Nonce...),
		Tag:        append([]byte(nil), f.Tag...),
	}
}

// Vault performs authenticated encryption and lookup-secret hashing.
type Vault struct {
	aead     cipher.AEAD
	indexKey []byte
	cost     int
}

// Option configures a Vault.
type Option func(*Vault)

// WithHashCost sets the bcrypt cost for lookup hashes.
func WithHashCost(cost int) Option {
	return func(v *Vault) {
		v.cost = cost
	}
}

// New constructs a Vault from a raw key.
// Returns CodeKeyConfiguration if the key is absent, the wrong length, or the
// hash cost is out of bcrypt's range.
func New(key []byte, opts ...Option) (*Vault, error) {
	if len(key) == 0 {
		return nil, dErrors.New(dErrors.CodeKeyConfiguration, "encryption key is not configured")
	}
	if len(key) != KeySize {
		return nil, dErrors.New(dErrors.CodeKeyConfiguration,
			fmt.Sprintf("encryption key must be %d bytes, got %d", KeySize, len(key)))
	}

	v := &Vault{cost: bcrypt.DefaultCost}
	for _, opt := range opts {
		opt(v)
	}
	if v.cost < bcrypt.MinCost || v.cost > bcrypt.MaxCost {
		return nil, dErrors.New(dErrors.CodeKeyConfiguration,
			fmt.Sprintf("hash cost must be between %d and %d", bcrypt.MinCost, bcrypt.MaxCost))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeKeyConfiguration, "create cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeKeyConfiguration, "create gcm")
	}

	// The blind index key is derived so a leaked index key never exposes the
	// encryption key.
	indexKey := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, key, nil, []byte(blindIndexInfo)), indexKey); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeKeyConfiguration, "derive index key")
	}

	v.aead = aead
	v.indexKey = indexKey
	return v, nil
}

// NewFromHex constructs a Vault from a hex-encoded key as found in configuration.
func NewFromHex(hexKey string, opts ...Option) (*Vault, error) {
	if hexKey == "" {
		return nil, dErrors.New(dErrors.CodeKeyConfiguration, "encryption key is not configured")
	}
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, dErrors.New(dErrors.CodeKeyConfiguration, "encryption key is not valid hex")
	}
	return New(key, opts...)
}

// Encrypt seals plaintext with a fresh random nonce.
func (v *Vault) Encrypt(plaintext []byte) (EncryptedField, error) {
	if v == nil || v.aead == nil {
		return EncryptedField{}, dErrors.New(dErrors.CodeKeyConfiguration, "vault has no active key")
	}
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return EncryptedField{}, fmt.Errorf("generate nonce: %w", err)
	}
	sealed := v.aead.Seal(nil, nonce, plaintext, nil)
	split := len(sealed) - tagSize
	return EncryptedField{
		Ciphertext: sealed[:split],
		Nonce:      nonce,
		Tag:        sealed[split:],
	}, nil
}

// EncryptString is Encrypt for string values.
func (v *Vault) EncryptString(plaintext string) (EncryptedField, error) {
	return v.Encrypt([]byte(plaintext))
}

// Decrypt opens an EncryptedField. Any verification failure is reported as
// CodeAuthenticationFailure and no plaintext is returned.
func (v *Vault) Decrypt(field EncryptedField) ([]byte, error) {
	if v == nil || v.aead == nil {
		return nil, dErrors.New(dErrors.CodeKeyConfiguration, "vault has no active key")
	}
	if len(field.Nonce) != v.aead.NonceSize() || len(field.Tag) != tagSize {
		return nil, dErrors.New(dErrors.CodeAuthenticationFailure, "encrypted field is malformed")
	}
	sealed := make([]byte, 0, len(field.Ciphertext)+len(field.Tag))
	sealed = append(sealed, field.Ciphertext...)
	sealed = append(sealed, field.Tag...)
	plaintext, err := v.aead.Open(nil, field.Nonce, sealed, nil)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeAuthenticationFailure, "encrypted field failed verification")
	}
	return plaintext, nil
}

// DecryptString is Decrypt for string values.
func (v *Vault) DecryptString(field EncryptedField) (string, error) {
	plaintext, err := v.Decrypt(field)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// HashLookupSecret returns a salted bcrypt hash of secret. Two calls with the
// same secret produce different hashes.
func (v *Vault) HashLookupSecret(secret string) (string, error) {
	if v == nil {
		return "", dErrors.New(dErrors.CodeKeyConfiguration, "vault is not configured")
	}
	if secret == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "lookup secret cannot be empty")
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(secret), v.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", dErrors.New(dErrors.CodeInvalidInput, "lookup secret is too long")
		}
		return "", dErrors.Wrap(err, dErrors.CodeKeyConfiguration, "hash lookup secret")
	}
	return string(hashed), nil
}

// VerifyLookupSecret reports whether secret matches hash using bcrypt's own
// constant-time comparison.
func (v *Vault) VerifyLookupSecret(secret, hash string) bool {
	if secret == "" || hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(secret)) == nil
}

// BlindIndex returns a deterministic keyed MAC of secret for indexed lookup.
// It is never used on its own to establish identity; callers confirm a
// candidate with VerifyLookupSecret.
func (v *Vault) BlindIndex(secret string) string {
	mac := hmac.New(sha256.New, v.indexKey)
	mac.Write([]byte(secret))
	return hex.EncodeToString(mac.Sum(nil))
}
