package service

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"fmt"
	"math/big"
	"strconv"

	"vaultline/internal/onboarding/models"
	id "vaultline/pkg/domain"
	dErrors "vaultline/pkg/domain-errors"
	audit "vaultline/pkg/platform/audit"
)

// runCommand handles explicit commands. They work from every stage,
// including terminal ones.
func (s *Service) runCommand(ctx context.Context, t *turn, cmd models.Command) error {
	switch cmd.Kind {
	case models.CommandHelp:
		return t.stay(replyHelp)
	case models.CommandStop:
		return s.stop(ctx, t)
	case models.CommandDelete:
		return s.requestDeletion(ctx, t)
	case models.CommandConfirm:
		return s.confirmDeletion(ctx, t, cmd.Argument)
	case models.CommandCancel:
		return s.cancelDeletion(ctx, t)
	case models.CommandExport:
		return s.requestExport(ctx, t)
	}
	return dErrors.New(dErrors.CodeInternal, "unhandled command: "+string(cmd.Kind))
}

// rememberResume saves where the primary flow was, unless the conversation
// is already on a detour that saved it.
func rememberResume(t *turn) {
	if !t.stage.IsSide() {
		t.payload.ResumeStage = t.stage
	}
}

func (s *Service) stop(ctx context.Context, t *turn) error {
	if t.stage == models.StageStopped {
		return t.stay(replyStoppedIdle)
	}
	t.payload.ClearPendingDeletion()
	t.payload.ResumeStage = ""
	if err := s.emit(ctx, t, audit.ActionConversationStopped, map[string]string{
		"stage": string(t.stage),
	}); err != nil {
		return err
	}
	return t.advance(models.StageStopped, replyStopped)
}

func (s *Service) requestDeletion(ctx context.Context, t *turn) error {
	if t.identity.IsNil() {
		return t.stay(replyNoData)
	}
	code, err := s.newCode()
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "generate verification code")
	}
	rememberResume(t)
	t.payload.VerificationCode = code
	t.payload.VerificationExpires = t.now.Add(s.codeTTL)
	t.payload.VerificationAttempts = 0

	if err := s.emit(ctx, t, audit.ActionDeletionRequested, map[string]string{
		"resume_stage": string(t.payload.ResumeStage),
	}); err != nil {
		return err
	}
	return t.advance(models.StageDeletionRequested, replyDeletionCode(code, s.codeTTL))
}

func (s *Service) confirmDeletion(ctx context.Context, t *turn, code string) error {
	if t.stage != models.StageDeletionRequested || !t.payload.HasPendingDeletion() {
		return t.stay(replyNothingPending)
	}

	if !t.now.Before(t.payload.VerificationExpires) {
		t.payload.ClearPendingDeletion()
		if err := s.emit(ctx, t, audit.ActionVerificationCodeFailed, map[string]string{
			"reason": "expired",
		}); err != nil {
			return err
		}
		return t.advance(models.StageCancelled, replyCodeExpired)
	}

	if subtle.ConstantTimeCompare([]byte(code), []byte(t.payload.VerificationCode)) != 1 {
		t.payload.VerificationAttempts++
		if err := s.emit(ctx, t, audit.ActionVerificationCodeFailed, map[string]string{
			"reason":   "mismatch",
			"attempts": strconv.Itoa(t.payload.VerificationAttempts),
		}); err != nil {
			return err
		}
		if t.payload.VerificationAttempts >= s.maxCodeAttempts {
			t.payload.ClearPendingDeletion()
			return t.advance(models.StageCancelled, replyCodeLocked)
		}
		return t.stay(replyCodeInvalid)
	}

	// Withdrawing submission consent deletes the identity and, through the
	// ledger's purgers, every row of this conversation.
	if _, err := s.ledger.WithdrawConsent(ctx, t.identity, id.ConsentSubmission); err != nil {
		return err
	}
	t.erased = true
	t.identity = id.IdentityID{}
	t.payload = models.Payload{Version: models.PayloadVersion}
	return t.advance(models.StageConfirmed, replyDeleted)
}

func (s *Service) cancelDeletion(ctx context.Context, t *turn) error {
	if t.stage != models.StageDeletionRequested || !t.payload.HasPendingDeletion() {
		return t.stay(replyNothingPending)
	}
	t.payload.ClearPendingDeletion()
	if err := s.emit(ctx, t, audit.ActionDeletionCancelled, nil); err != nil {
		return err
	}
	return t.advance(models.StageCancelled, replyDeletionCancelled+promptFor(t.payload.ResumeStage))
}

func (s *Service) requestExport(ctx context.Context, t *turn) error {
	if t.identity.IsNil() {
		return t.stay(replyNoData)
	}
	result, err := s.exporter.Export(ctx, t.identity)
	if err != nil {
		return err
	}
	rememberResume(t)
	t.payload.ClearPendingDeletion()
	return t.advance(models.StageExportRequested, replyExportReady(result.URL))
}

// randomCode returns six decimal digits from crypto/rand.
func randomCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(1_000_000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()), nil
}
