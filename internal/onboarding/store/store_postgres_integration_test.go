//go:build integration

package store_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"vaultline/internal/onboarding/models"
	"vaultline/internal/onboarding/store"
	"vaultline/internal/vault"
	id "vaultline/pkg/domain"
	"vaultline/pkg/platform/sentinel"
	"vaultline/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *store.PostgresStore
	now      time.Time
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = store.NewPostgres(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	s.Require().NoError(s.postgres.TruncateTables(context.Background(), "conversation_states"))
	s.now = time.Now().UTC().Truncate(time.Microsecond)
}

func payload(b byte) vault.EncryptedField {
	return vault.EncryptedField{Ciphertext: []byte{b, b}, Nonce: make([]byte, 12), Tag: make([]byte, 16)}
}

func (s *PostgresStoreSuite) thread(index string) *models.State {
	head := models.NewThread("hash-"+index, index, payload(1), s.now)
	s.Require().NoError(s.store.Insert(context.Background(), head))
	return head
}

func (s *PostgresStoreSuite) TestTransitionAppendsAndSupersedes() {
	ctx := context.Background()
	head := s.thread("idx-a")

	next := head.Successor(models.StageCollectingName, payload(2), s.now.Add(time.Second))
	s.Require().NoError(s.store.Insert(ctx, next))
	s.Require().NoError(s.store.Supersede(ctx, head.ThreadID, head.Version, next.CreatedAt))

	active, err := s.store.FindActiveByIndex(ctx, "idx-a")
	s.Require().NoError(err)
	s.Equal(2, active.Version)
	s.Equal(models.StageCollectingName, active.Stage)
	s.Equal(payload(2).Ciphertext, active.EncryptedPayload.Ciphertext)

	trail, err := s.store.ListThread(ctx, head.ThreadID)
	s.Require().NoError(err)
	s.Require().Len(trail, 2)
	s.NotNil(trail[0].SupersededAt, "first row is kept as history")
	s.True(trail[1].IsActive())
}

func (s *PostgresStoreSuite) TestConcurrentTransitionsOnlyOneWins() {
	ctx := context.Background()
	head := s.thread("idx-race")
	const writers = 20

	var wg sync.WaitGroup
	var wins, conflicts atomic.Int32
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.store.Insert(ctx, head.Successor(models.StageCollectingName, payload(3), s.now))
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, sentinel.ErrConflict):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), wins.Load())
	s.Equal(int32(writers-1), conflicts.Load())

	s.Require().NoError(s.store.Supersede(ctx, head.ThreadID, head.Version, s.now))
	err := s.store.Supersede(ctx, head.ThreadID, head.Version, s.now)
	s.ErrorIs(err, sentinel.ErrConflict, "a row is superseded once")
}

func (s *PostgresStoreSuite) TestFindActiveByIndexMissing() {
	_, err := s.store.FindActiveByIndex(context.Background(), "nobody")
	s.ErrorIs(err, sentinel.ErrNotFound)

	_, err = s.store.FindActiveByIndex(context.Background(), "")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestListActiveSkipsSuperseded() {
	ctx := context.Background()
	first := s.thread("idx-1")
	s.thread("idx-2")
	s.Require().NoError(s.store.Supersede(ctx, first.ThreadID, first.Version, s.now))

	active, err := s.store.ListActive(ctx)
	s.Require().NoError(err)
	s.Require().Len(active, 1)
	s.Equal("idx-2", active[0].LookupIndex)
}

func (s *PostgresStoreSuite) TestPurgeIdentityRemovesWholeThread() {
	ctx := context.Background()
	head := s.thread("idx-purge")
	other := s.thread("idx-other")

	bound := head.Successor(models.StageCollectingName, payload(4), s.now)
	bound.IdentityID = id.NewIdentityID()
	s.Require().NoError(s.store.Insert(ctx, bound))
	s.Require().NoError(s.store.Supersede(ctx, head.ThreadID, head.Version, s.now))

	s.Require().NoError(s.store.PurgeIdentity(ctx, bound.IdentityID))

	trail, err := s.store.ListThread(ctx, head.ThreadID)
	s.Require().NoError(err)
	s.Empty(trail, "rows written before consent go too")

	kept, err := s.store.ListThread(ctx, other.ThreadID)
	s.Require().NoError(err)
	s.Len(kept, 1)

	s.NoError(s.store.PurgeIdentity(ctx, id.NewIdentityID()), "unknown identity is a no-op")
}
