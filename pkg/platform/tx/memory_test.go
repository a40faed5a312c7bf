package tx

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryRunner(t *testing.T) {
	runner := NewMemoryRunner()
	ctx := context.Background()

	t.Run("failed unit of work runs compensations in reverse", func(t *testing.T) {
		var order []string
		err := runner.RunInTx(ctx, func(ctx context.Context) error {
			OnRollback(ctx, func() { order = append(order, "first") })
			OnRollback(ctx, func() { order = append(order, "second") })
			return errors.New("boom")
		})
		require.Error(t, err)
		assert.Equal(t, []string{"second", "first"}, order)
	})

	t.Run("successful unit of work discards compensations", func(t *testing.T) {
		called := false
		err := runner.RunInTx(ctx, func(ctx context.Context) error {
			OnRollback(ctx, func() { called = true })
			return nil
		})
		require.NoError(t, err)
		assert.False(t, called)
	})

	t.Run("nested call joins the outer transaction", func(t *testing.T) {
		rolledBack := false
		err := runner.RunInTx(WithShardKey(ctx, "addr"), func(ctx context.Context) error {
			inner := runner.RunInTx(ctx, func(ctx context.Context) error {
				OnRollback(ctx, func() { rolledBack = true })
				return nil
			})
			require.NoError(t, inner)
			return errors.New("outer fails")
		})
		require.Error(t, err)
		assert.True(t, rolledBack)
	})

	t.Run("cancelled context is rejected", func(t *testing.T) {
		cctx, cancel := context.WithCancel(ctx)
		cancel()
		err := runner.RunInTx(cctx, func(context.Context) error { return nil })
		require.Error(t, err)
	})

	t.Run("OnRollback outside a transaction is a no-op", func(t *testing.T) {
		assert.NotPanics(t, func() { OnRollback(ctx, func() {}) })
	})
}
