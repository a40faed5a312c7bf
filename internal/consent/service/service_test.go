package service

//go:generate mockgen -destination=mocks/mocks.go -package=mocks vaultline/internal/consent/service Auditor,Purger

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"
	"golang.org/x/crypto/bcrypt"

	"vaultline/internal/consent/service/mocks"
	consentstore "vaultline/internal/consent/store"
	identitymodels "vaultline/internal/identity/models"
	identitystore "vaultline/internal/identity/store"
	"vaultline/internal/vault"
	id "vaultline/pkg/domain"
	dErrors "vaultline/pkg/domain-errors"
	audit "vaultline/pkg/platform/audit"
	"vaultline/pkg/platform/audit/publishers/compliance"
	auditmemory "vaultline/pkg/platform/audit/store/memory"
	"vaultline/pkg/platform/tx"
	"vaultline/pkg/requestcontext"
)

const (
	policyV1 = "2026-01"
	address  = "+33612345678"
)

type LedgerSuite struct {
	suite.Suite
	ctrl       *gomock.Controller
	purger     *mocks.MockPurger
	vault      *vault.Vault
	consents   *consentstore.InMemoryStore
	identities *identitystore.InMemoryStore
	audits     *auditmemory.InMemoryStore
	runner     *tx.MemoryRunner
	logs       *bytes.Buffer
	ledger     *Service
	ctx        context.Context
	now        time.Time
}

func TestLedgerSuite(t *testing.T) {
	suite.Run(t, new(LedgerSuite))
}

func (s *LedgerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.purger = mocks.NewMockPurger(s.ctrl)

	var err error
	s.vault, err = vault.New(bytes.Repeat([]byte{7}, vault.KeySize), vault.WithHashCost(bcrypt.MinCost))
	s.Require().NoError(err)

	s.consents = consentstore.NewInMemoryStore()
	s.identities = identitystore.NewInMemoryStore()
	s.audits = auditmemory.NewInMemoryStore()
	s.runner = tx.NewMemoryRunner()
	s.logs = &bytes.Buffer{}
	s.ledger = s.newLedger(policyV1, compliance.New(s.audits))

	s.now = time.Date(2026, 2, 1, 10, 0, 0, 0, time.UTC)
	s.ctx = requestcontext.WithTime(context.Background(), s.now)
	s.ctx = requestcontext.WithChannel(s.ctx, "sms")
	s.ctx = requestcontext.WithClientMetadata(s.ctx, "203.0.113.7", "Twilio")
}

func (s *LedgerSuite) newLedger(policyVersion string, auditor Auditor) *Service {
	logger := slog.New(slog.NewTextHandler(s.logs, nil))
	ledger, err := New(s.consents, s.identities, s.vault, auditor, s.runner, policyVersion,
		WithLogger(logger), WithPurgers(s.purger))
	s.Require().NoError(err)
	return ledger
}

func (s *LedgerSuite) createIdentity() *identitymodels.Identity {
	hash, err := s.vault.HashLookupSecret(address)
	s.Require().NoError(err)
	identity := identitymodels.NewIdentity(hash, "", s.now, 30*24*time.Hour)
	s.Require().NoError(s.identities.Create(s.ctx, identity))
	return identity
}

func (s *LedgerSuite) grant(identityID id.IdentityID, category id.ConsentCategory) {
	_, err := s.ledger.RecordConsent(s.ctx, RecordRequest{
		IdentityID:   identityID,
		LookupSecret: address,
		Category:     category,
		Granted:      true,
	})
	s.Require().NoError(err)
}

func (s *LedgerSuite) actions(identityID id.IdentityID) []audit.Action {
	entries, err := s.audits.ListByIdentity(s.ctx, identityID)
	s.Require().NoError(err)
	out := make([]audit.Action, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Action)
	}
	return out
}

func (s *LedgerSuite) TestRecordConsent() {
	identity := s.createIdentity()

	record, err := s.ledger.RecordConsent(s.ctx, RecordRequest{
		IdentityID:   identity.ID,
		LookupSecret: address,
		Category:     id.ConsentSubmission,
		Granted:      true,
		Metadata:     map[string]string{"step": "need_consent"},
	})
	s.Require().NoError(err)

	s.Equal(identity.LookupHash, record.LookupHash, "existing lookup hash is reused")
	s.Equal(policyV1, record.PolicyVersion)
	s.Equal("sms", record.Channel)
	s.Equal("203.0.113.7", record.IP)
	s.Equal(s.now, record.CreatedAt)

	valid, err := s.ledger.HasValidConsent(s.ctx, identity.ID, id.ConsentSubmission)
	s.Require().NoError(err)
	s.True(valid)
	s.Equal([]audit.Action{audit.ActionConsentGranted}, s.actions(identity.ID))
}

func (s *LedgerSuite) TestRecordConsentValidation() {
	identity := s.createIdentity()

	s.Run("invalid category", func() {
		_, err := s.ledger.RecordConsent(s.ctx, RecordRequest{IdentityID: identity.ID, Category: "newsletter", Granted: true})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("nil identity", func() {
		_, err := s.ledger.RecordConsent(s.ctx, RecordRequest{Category: id.ConsentMarketing, Granted: true})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})

	s.Run("secret that does not match the identity", func() {
		_, err := s.ledger.RecordConsent(s.ctx, RecordRequest{
			IdentityID:   identity.ID,
			LookupSecret: "+33700000000",
			Category:     id.ConsentMarketing,
			Granted:      true,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeValidation))
	})

	s.Run("unknown identity without secret", func() {
		_, err := s.ledger.RecordConsent(s.ctx, RecordRequest{IdentityID: id.NewIdentityID(), Category: id.ConsentMarketing})
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})

	s.Run("expiry in the past", func() {
		past := s.now.Add(-time.Minute)
		_, err := s.ledger.RecordConsent(s.ctx, RecordRequest{
			IdentityID: identity.ID, Category: id.ConsentMarketing, Granted: true, ExpiresAt: &past,
		})
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func (s *LedgerSuite) TestWithdrawKeepsHistory() {
	identity := s.createIdentity()
	s.grant(identity.ID, id.ConsentMarketing)

	record, err := s.ledger.WithdrawConsent(s.ctx, identity.ID, id.ConsentMarketing)
	s.Require().NoError(err)
	s.False(record.Granted)
	s.Equal(identity.LookupHash, record.LookupHash)

	valid, err := s.ledger.HasValidConsent(s.ctx, identity.ID, id.ConsentMarketing)
	s.Require().NoError(err)
	s.False(valid)

	history, err := s.ledger.GetConsents(s.ctx, identity.ID)
	s.Require().NoError(err)
	s.Require().Len(history, 2)
	s.True(history[0].Granted)
	s.False(history[1].Granted)

	_, err = s.identities.FindByID(s.ctx, identity.ID)
	s.NoError(err, "withdrawing marketing consent keeps the identity")
}

func (s *LedgerSuite) TestWithdrawSubmissionCascades() {
	identity := s.createIdentity()
	s.grant(identity.ID, id.ConsentSubmission)
	s.purger.EXPECT().PurgeIdentity(gomock.Any(), identity.ID).Return(nil)

	_, err := s.ledger.WithdrawConsent(s.ctx, identity.ID, id.ConsentSubmission)
	s.Require().NoError(err)

	_, err = s.identities.FindByID(s.ctx, identity.ID)
	s.Error(err, "identity must be unretrievable")

	s.Equal([]audit.Action{
		audit.ActionConsentGranted,
		audit.ActionConsentWithdrawn,
		audit.ActionIdentityDeleted,
	}, s.actions(identity.ID))

	history, err := s.ledger.GetConsents(s.ctx, identity.ID)
	s.Require().NoError(err)
	s.Len(history, 2, "consent history survives deletion")

	s.Run("second withdrawal reuses the ledger hash", func() {
		record, err := s.ledger.WithdrawConsent(s.ctx, identity.ID, id.ConsentSubmission)
		s.Require().NoError(err)
		s.Equal(identity.LookupHash, record.LookupHash)
	})
}

func (s *LedgerSuite) TestCascadeIsAllOrNothing() {
	s.Run("purger failure", func() {
		identity := s.createIdentity()
		s.grant(identity.ID, id.ConsentSubmission)
		s.purger.EXPECT().PurgeIdentity(gomock.Any(), identity.ID).Return(errors.New("db down"))

		_, err := s.ledger.WithdrawConsent(s.ctx, identity.ID, id.ConsentSubmission)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeStoreWrite))

		_, err = s.identities.FindByID(s.ctx, identity.ID)
		s.NoError(err)
		valid, err := s.ledger.HasValidConsent(s.ctx, identity.ID, id.ConsentSubmission)
		s.Require().NoError(err)
		s.True(valid, "withdrawal record must be rolled back")
	})

	s.Run("audit failure", func() {
		identity := s.createIdentity()
		s.grant(identity.ID, id.ConsentSubmission)

		auditor := mocks.NewMockAuditor(s.ctrl)
		auditor.EXPECT().Emit(gomock.Any(), gomock.Any()).Return(errors.New("audit store down"))
		s.purger.EXPECT().PurgeIdentity(gomock.Any(), identity.ID).Return(nil)
		ledger := s.newLedger(policyV1, auditor)

		_, err := ledger.WithdrawConsent(s.ctx, identity.ID, id.ConsentSubmission)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeLedgerWrite))

		_, err = s.identities.FindByID(s.ctx, identity.ID)
		s.NoError(err, "deletion must roll back with the failed audit")
	})
}

func (s *LedgerSuite) TestExpiry() {
	identity := s.createIdentity()
	expiry := s.now.Add(24 * time.Hour)
	_, err := s.ledger.RecordConsent(s.ctx, RecordRequest{
		IdentityID: identity.ID, Category: id.ConsentDataRetention, Granted: true, ExpiresAt: &expiry,
	})
	s.Require().NoError(err)

	valid, err := s.ledger.HasValidConsent(s.ctx, identity.ID, id.ConsentDataRetention)
	s.Require().NoError(err)
	s.True(valid)

	later := requestcontext.WithTime(s.ctx, expiry)
	valid, err = s.ledger.HasValidConsent(later, identity.ID, id.ConsentDataRetention)
	s.Require().NoError(err)
	s.False(valid)
}

func (s *LedgerSuite) TestPolicyVersion() {
	identity := s.createIdentity()

	needs, err := s.ledger.NeedsReConsent(s.ctx, identity.ID, id.ConsentAnalysis)
	s.Require().NoError(err)
	s.True(needs, "no record means re-consent is needed")

	s.grant(identity.ID, id.ConsentAnalysis)
	needs, err = s.ledger.NeedsReConsent(s.ctx, identity.ID, id.ConsentAnalysis)
	s.Require().NoError(err)
	s.False(needs)

	v2 := s.newLedger("2026-06", compliance.New(s.audits))
	needs, err = v2.NeedsReConsent(s.ctx, identity.ID, id.ConsentAnalysis)
	s.Require().NoError(err)
	s.True(needs)

	s.logs.Reset()
	valid, err := v2.HasValidConsent(s.ctx, identity.ID, id.ConsentAnalysis)
	s.Require().NoError(err)
	s.True(valid, "a mismatch alone does not invalidate consent")
	s.Contains(s.logs.String(), "consent policy version mismatch")
}

func (s *LedgerSuite) TestPurgeIdentity() {
	identity := s.createIdentity()
	s.purger.EXPECT().PurgeIdentity(gomock.Any(), identity.ID).Return(nil)

	s.Require().NoError(s.ledger.PurgeIdentity(s.ctx, identity.ID))
	_, err := s.identities.FindByID(s.ctx, identity.ID)
	s.Error(err)
	s.Empty(s.actions(identity.ID), "the sweep audits the batch, not each identity")

	s.purger.EXPECT().PurgeIdentity(gomock.Any(), identity.ID).Return(nil)
	err = s.ledger.PurgeIdentity(s.ctx, identity.ID)
	s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
}

func (s *LedgerSuite) TestSummary() {
	identity := s.createIdentity()
	s.grant(identity.ID, id.ConsentSubmission)
	s.grant(identity.ID, id.ConsentMarketing)
	_, err := s.ledger.WithdrawConsent(s.ctx, identity.ID, id.ConsentMarketing)
	s.Require().NoError(err)

	summary, err := s.ledger.Summary(s.ctx, identity.ID)
	s.Require().NoError(err)
	s.Require().Len(summary, 2)
	s.Equal(id.ConsentSubmission, summary[0].Category)
	s.True(summary[0].Active)
	s.Equal(id.ConsentMarketing, summary[1].Category)
	s.False(summary[1].Active)
}
