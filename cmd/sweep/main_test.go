package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vaultline/internal/app"
	jwttoken "vaultline/internal/jwt_token"
)

func setEnv(t *testing.T) string {
	t.Helper()
	t.Setenv("VAULT_KEY", "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")
	t.Setenv("BCRYPT_COST", "4")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("REDIS_URL", "")
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("ADMIN_JWT_SIGNING_KEY", "cli-signing-key")
	return filepath.Join(t.TempDir(), "absent.env")
}

func TestMintToken(t *testing.T) {
	envFile := setEnv(t)
	var out bytes.Buffer

	require.NoError(t, run([]string{"--env-file", envFile, "--mint-token", "alice"}, &out))

	claims, err := jwttoken.NewJWTService("cli-signing-key", "vaultline", app.AdminAudience).
		ValidateToken(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "alice", claims.Subject)
	assert.Equal(t, jwttoken.RoleOperator, claims.Role)
}

func TestSweepRequiresDatabase(t *testing.T) {
	envFile := setEnv(t)
	err := run([]string{"--env-file", envFile}, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "DATABASE_URL")
}

func TestSweepInMemory(t *testing.T) {
	envFile := setEnv(t)
	var out bytes.Buffer

	require.NoError(t, run([]string{"--env-file", envFile, "--allow-memory", "--batch-size", "10"}, &out))
	assert.Equal(t, "deleted 0 expired identities\n", out.String())
}

func TestUnknownFlag(t *testing.T) {
	assert.Error(t, run([]string{"--nope"}, &bytes.Buffer{}))
}
