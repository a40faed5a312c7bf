//go:build integration

package redis

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vaultline/internal/platform/config"
	"vaultline/pkg/testutil/containers"
)

func TestNewConnectsAndReportsHealth(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	container := containers.GetManager().GetRedis(t)

	c, err := New(context.Background(), config.RedisConfig{URL: container.Addr, PoolSize: 2, DialTimeout: 5 * time.Second})
	require.NoError(t, err)
	require.NotNil(t, c)
	defer c.Close()

	assert.NoError(t, c.Health(context.Background()))
}
