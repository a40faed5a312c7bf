package vault

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"

	dErrors "vaultline/pkg/domain-errors"
)

type VaultSuite struct {
	suite.Suite
	vault *Vault
}

func TestVaultSuite(t *testing.T) {
	suite.Run(t, new(VaultSuite))
}

func (s *VaultSuite) SetupTest() {
	key := make([]byte, KeySize)
	_, err := rand.Read(key)
	s.Require().NoError(err)
	s.vault, err = New(key, WithHashCost(bcrypt.MinCost))
	s.Require().NoError(err)
}

func (s *VaultSuite) TestRoundTrip() {
	plaintexts := [][]byte{
		[]byte(""),
		[]byte("Amélie"),
		[]byte(strings.Repeat("idée ", 400)),
		{0x00, 0xff, 0x10},
	}
	for _, p := range plaintexts {
		field, err := s.vault.Encrypt(p)
		s.Require().NoError(err)
		s.Len(field.Tag, tagSize)

		got, err := s.vault.Decrypt(field)
		s.Require().NoError(err)
		s.True(bytes.Equal(p, got))
	}
}

func (s *VaultSuite) TestFreshNoncePerCall() {
	a, err := s.vault.EncryptString("same value")
	s.Require().NoError(err)
	b, err := s.vault.EncryptString("same value")
	s.Require().NoError(err)

	s.NotEqual(a.Nonce, b.Nonce)
	s.NotEqual(a.Ciphertext, b.Ciphertext)
}

func (s *VaultSuite) TestTamperDetection() {
	field, err := s.vault.EncryptString("Jean Dupont")
	s.Require().NoError(err)

	s.Run("every ciphertext bit flip fails", func() {
		for i := range field.Ciphertext {
			for bit := 0; bit < 8; bit++ {
				tampered := cloneField(field)
				tampered.Ciphertext[i] ^= 1 << bit
				_, err := s.vault.Decrypt(tampered)
				s.Require().Error(err)
				s.True(dErrors.HasCode(err, dErrors.CodeAuthenticationFailure))
			}
		}
	})

	s.Run("every tag bit flip fails", func() {
		for i := range field.Tag {
			for bit := 0; bit < 8; bit++ {
				tampered := cloneField(field)
				tampered.Tag[i] ^= 1 << bit
				_, err := s.vault.Decrypt(tampered)
				s.Require().Error(err)
				s.True(dErrors.HasCode(err, dErrors.CodeAuthenticationFailure))
			}
		}
	})

	s.Run("truncated tag fails", func() {
		tampered := cloneField(field)
		tampered.Tag = tampered.Tag[:8]
		_, err := s.vault.Decrypt(tampered)
		s.True(dErrors.HasCode(err, dErrors.CodeAuthenticationFailure))
	})

	s.Run("different key fails", func() {
		other := make([]byte, KeySize)
		_, err := rand.Read(other)
		s.Require().NoError(err)
		otherVault, err := New(other, WithHashCost(bcrypt.MinCost))
		s.Require().NoError(err)

		_, err = otherVault.Decrypt(field)
		s.True(dErrors.HasCode(err, dErrors.CodeAuthenticationFailure))
	})
}

func (s *VaultSuite) TestLookupHash() {
	secret := "+33612345678"

	first, err := s.vault.HashLookupSecret(secret)
	s.Require().NoError(err)
	second, err := s.vault.HashLookupSecret(secret)
	s.Require().NoError(err)

	s.NotEqual(first, second, "hashes must be salted")
	s.NotContains(first, secret)
	s.True(s.vault.VerifyLookupSecret(secret, first))
	s.True(s.vault.VerifyLookupSecret(secret, second))
	s.False(s.vault.VerifyLookupSecret("+33600000000", first))
	s.False(s.vault.VerifyLookupSecret(secret, ""))

	_, err = s.vault.HashLookupSecret("")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *VaultSuite) TestBlindIndex() {
	a := s.vault.BlindIndex("+33612345678")
	b := s.vault.BlindIndex("+33612345678")
	c := s.vault.BlindIndex("+33612345679")

	s.Equal(a, b)
	s.NotEqual(a, c)
	s.Len(a, 64)
	s.NotContains(a, "33612345678")
}

func TestKeyConfiguration(t *testing.T) {
	t.Run("missing key", func(t *testing.T) {
		_, err := New(nil)
		require.Error(t, err)
		assert.True(t, dErrors.HasCode(err, dErrors.CodeKeyConfiguration))
	})

	t.Run("wrong key length", func(t *testing.T) {
		_, err := New(make([]byte, 16))
		assert.True(t, dErrors.HasCode(err, dErrors.CodeKeyConfiguration))
	})

	t.Run("invalid hex", func(t *testing.T) {
		_, err := NewFromHex("zz")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeKeyConfiguration))
	})

	t.Run("empty hex", func(t *testing.T) {
		_, err := NewFromHex("")
		assert.True(t, dErrors.HasCode(err, dErrors.CodeKeyConfiguration))
	})

	t.Run("hash cost out of range", func(t *testing.T) {
		_, err := New(make([]byte, KeySize), WithHashCost(bcrypt.MaxCost+1))
		assert.True(t, dErrors.HasCode(err, dErrors.CodeKeyConfiguration))
	})

	t.Run("valid hex key", func(t *testing.T) {
		v, err := NewFromHex(hex.EncodeToString(make([]byte, KeySize)), WithHashCost(bcrypt.MinCost))
		require.NoError(t, err)
		assert.NotNil(t, v)
	})

	t.Run("unconfigured vault refuses to encrypt", func(t *testing.T) {
		var v *Vault
		_, err := v.Encrypt([]byte("x"))
		assert.True(t, dErrors.HasCode(err, dErrors.CodeKeyConfiguration))
		_, err = v.Decrypt(EncryptedField{})
		assert.True(t, dErrors.HasCode(err, dErrors.CodeKeyConfiguration))
	})
}

func cloneField(f EncryptedField) EncryptedField {
	return EncryptedField{
		Ciphertext: append([]byte(nil), f.Ciphertext...),
		Nonce:      append([]byte(nil), f.Nonce...),
		Tag:        append([]byte(nil), f.Tag...),
	}
}
