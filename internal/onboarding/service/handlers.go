package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	consentservice "vaultline/internal/consent/service"
	identitymodels "vaultline/internal/identity/models"
	"vaultline/internal/messaging"
	"vaultline/internal/onboarding/models"
	submissionmodels "vaultline/internal/submission/models"
	id "vaultline/pkg/domain"
	dErrors "vaultline/pkg/domain-errors"
	audit "vaultline/pkg/platform/audit"
	"vaultline/pkg/platform/sentinel"
)

// turn is the working set of one message inside its transaction.
type turn struct {
	current  *models.State
	stage    models.Stage
	address  string
	body     string
	now      time.Time
	payload  models.Payload
	identity id.IdentityID
	next     models.Stage
	reply    string
	// erased is set when the message deleted the conversation itself.
	erased bool
	// restart closes the thread and carries on in a new one.
	restart   bool
	started   id.ThreadID
	messageID string
	duplicate bool
}

func newTurn(current *models.State, msg messaging.InboundMessage, address, body string, now time.Time) *turn {
	return &turn{
		current:   current,
		stage:     current.Stage,
		address:   address,
		body:      body,
		messageID: msg.MessageID,
		now:       now,
		identity:  current.IdentityID,
		next:      current.Stage,
	}
}

func (t *turn) advance(stage models.Stage, reply string) error {
	t.next = stage
	t.reply = reply
	return nil
}

func (t *turn) stay(reply string) error {
	return t.advance(t.stage, reply)
}

func (t *turn) threadID() id.ThreadID {
	if t.erased {
		return id.ThreadID{}
	}
	if !t.started.IsNil() {
		return t.started
	}
	return t.current.ThreadID
}

func isUnsaved(state *models.State) bool {
	return state.Version == 0
}

type stageHandler func(ctx context.Context, t *turn) error

func (s *Service) stageHandlers() map[models.Stage]stageHandler {
	return map[models.Stage]stageHandler{
		models.StageNeedConsent:                s.handleNeedConsent,
		models.StageCollectingName:             s.handleName,
		models.StageCollectingSubmission:       s.handleSubmission,
		models.StageCollectingSecondaryConsent: s.handleSecondaryConsent,
		models.StageCollectingRetentionChoice:  s.handleRetentionChoice,
		models.StageCompleted:                  s.handleCompleted,
		models.StageDeletionRequested:          s.handleDeletionPending,
		models.StageConfirmed:                  s.handleConfirmed,
		models.StageCancelled:                  s.handleResume,
		models.StageExportRequested:            s.handleResume,
		models.StageStopped:                    s.handleStopped,
	}
}

// checkHandlers refuses a table that misses a stage.
func checkHandlers(handlers map[models.Stage]stageHandler) error {
	for _, stage := range models.AllStages() {
		if handlers[stage] == nil {
			return fmt.Errorf("no handler for stage %s", stage)
		}
	}
	return nil
}

// apply runs one message against t.current and persists the outcome. It
// must run inside a transaction.
func (s *Service) apply(ctx context.Context, t *turn) error {
	payload, err := s.loadPayload(t.current)
	if err != nil {
		return err
	}
	t.payload = payload

	if t.messageID != "" && t.messageID == payload.LastMessageID {
		// Redelivery of the message this row already reflects.
		t.duplicate = true
		return t.stay(promptFor(t.stage))
	}
	t.payload.LastMessageID = t.messageID

	if cmd, ok := models.ParseCommand(t.body); ok {
		err = s.runCommand(ctx, t, cmd)
	} else {
		err = s.handlers[t.stage](ctx, t)
	}
	if err != nil {
		return err
	}
	return s.persist(ctx, t)
}

func (s *Service) loadPayload(state *models.State) (models.Payload, error) {
	if state.EncryptedPayload.IsZero() {
		return models.Payload{Version: models.PayloadVersion}, nil
	}
	plaintext, err := s.crypto.Decrypt(state.EncryptedPayload)
	if err != nil {
		return models.Payload{}, err
	}
	payload, err := models.DecodePayload(plaintext)
	if err != nil {
		return models.Payload{}, dErrors.Wrap(err, dErrors.CodeInternal, "decode conversation payload")
	}
	return payload, nil
}

// persist re-encrypts the whole payload and writes the successor row, then
// supersedes the row it was derived from. Either write losing a race
// surfaces as CodeConflict and the message is replayed.
func (s *Service) persist(ctx context.Context, t *turn) error {
	if t.erased || t.duplicate {
		return nil
	}
	plaintext, err := models.EncodePayload(t.payload)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "encode conversation payload")
	}
	encrypted, err := s.crypto.Encrypt(plaintext)
	if err != nil {
		return err
	}

	var next *models.State
	switch {
	case t.restart:
		if err := s.states.Supersede(ctx, t.current.ThreadID, t.current.Version, t.now); err != nil {
			return stateWriteError(err, "close conversation thread")
		}
		next = models.NewThread(t.current.LookupHash, t.current.LookupIndex, encrypted, t.now)
		next.Stage = t.next
		next.MessageCount = 1
		t.started = next.ThreadID
	case isUnsaved(t.current):
		first := *t.current
		first.Version = 1
		first.MessageCount = 1
		first.Stage = t.next
		first.EncryptedPayload = encrypted
		first.UpdatedAt = t.now
		next = &first
	default:
		next = t.current.Successor(t.next, encrypted, t.now)
	}
	next.IdentityID = t.identity

	if err := s.states.Insert(ctx, next); err != nil {
		return stateWriteError(err, "insert conversation state")
	}
	if isUnsaved(t.current) || t.restart {
		return nil
	}
	if err := s.states.Supersede(ctx, t.current.ThreadID, t.current.Version, t.now); err != nil {
		return stateWriteError(err, "supersede conversation state")
	}
	return nil
}

func stateWriteError(err error, msg string) error {
	if errors.Is(err, sentinel.ErrConflict) {
		return dErrors.Wrap(err, dErrors.CodeConflict, "conversation changed concurrently")
	}
	return dErrors.Wrap(err, dErrors.CodeStoreWrite, msg)
}

func (s *Service) emit(ctx context.Context, t *turn, action audit.Action, metadata map[string]string) error {
	if metadata == nil {
		metadata = map[string]string{}
	}
	metadata["thread_id"] = t.current.ThreadID.String()
	if err := s.auditor.Emit(ctx, audit.Entry{
		IdentityID: t.identity,
		Action:     action,
		Metadata:   metadata,
	}); err != nil {
		return dErrors.Wrap(err, dErrors.CodeLedgerWrite, "audit "+string(action))
	}
	return nil
}

func (s *Service) handleNeedConsent(ctx context.Context, t *turn) error {
	if isUnsaved(t.current) {
		return t.stay(replyConsentPrompt)
	}
	yes, ok := parseYesNo(t.body)
	if !ok {
		return t.stay(replyConsentPrompt)
	}
	if !yes {
		return t.advance(models.StageStopped, replyConsentRefused)
	}

	if t.identity.IsNil() {
		identity := identitymodels.NewIdentity(t.current.LookupHash, t.current.LookupIndex, t.now, s.defaultRetention)
		if err := s.identities.Create(ctx, identity); err != nil {
			return dErrors.Wrap(err, dErrors.CodeStoreWrite, "create identity")
		}
		t.identity = identity.ID
		if err := s.emit(ctx, t, audit.ActionIdentityCreated, nil); err != nil {
			return err
		}
	}
	if _, err := s.ledger.RecordConsent(ctx, consentservice.RecordRequest{
		IdentityID:   t.identity,
		LookupSecret: t.address,
		Category:     id.ConsentSubmission,
		Granted:      true,
	}); err != nil {
		return err
	}
	return t.advance(models.StageCollectingName, replyAskName)
}

func (s *Service) handleName(ctx context.Context, t *turn) error {
	if !validName(t.body) {
		return t.stay(replyInvalidName)
	}
	t.payload.Name = t.body

	name, err := s.crypto.EncryptString(t.body)
	if err != nil {
		return err
	}
	// A restarted conversation may bring a new name; the latest one wins.
	if err := s.identities.SetDisplayName(ctx, t.identity, name); err != nil {
		return dErrors.Wrap(err, dErrors.CodeStoreWrite, "store display name")
	}
	return t.advance(models.StageCollectingSubmission, replyAskSubmission)
}

func (s *Service) handleSubmission(_ context.Context, t *turn) error {
	if len([]rune(t.body)) < minSubmissionRunes {
		return t.stay(replySubmissionShort)
	}
	t.payload.Submission = t.body
	return t.advance(models.StageCollectingSecondaryConsent, replyAskSecondary)
}

func (s *Service) handleSecondaryConsent(ctx context.Context, t *turn) error {
	yes, ok := parseYesNo(t.body)
	if !ok {
		return t.stay(replyYesNo)
	}
	if _, err := s.ledger.RecordConsent(ctx, consentservice.RecordRequest{
		IdentityID: t.identity,
		Category:   id.ConsentAnalysis,
		Granted:    yes,
	}); err != nil {
		return err
	}
	t.payload.SecondaryConsent = &yes
	return t.advance(models.StageCollectingRetentionChoice, replyAskRetention)
}

func (s *Service) handleRetentionChoice(ctx context.Context, t *turn) error {
	days, ok := retentionChoices[t.body]
	if !ok {
		return t.stay(replyInvalidChoice)
	}
	expiry := t.now.AddDate(0, 0, days)

	if err := s.identities.UpdateRetentionExpiry(ctx, t.identity, expiry); err != nil {
		return dErrors.Wrap(err, dErrors.CodeStoreWrite, "update retention expiry")
	}
	if _, err := s.ledger.RecordConsent(ctx, consentservice.RecordRequest{
		IdentityID: t.identity,
		Category:   id.ConsentDataRetention,
		Granted:    true,
		ExpiresAt:  &expiry,
		Metadata:   map[string]string{"retention_days": fmt.Sprint(days)},
	}); err != nil {
		return err
	}
	if err := s.emit(ctx, t, audit.ActionRetentionUpdated, map[string]string{
		"retention_days": fmt.Sprint(days),
	}); err != nil {
		return err
	}
	t.payload.RetentionDays = days

	if err := s.createSubmission(ctx, t); err != nil {
		return err
	}
	return t.advance(models.StageCompleted, replyCompleted)
}

// createSubmission writes the downstream record once per conversation. A
// record that already exists means this message was delivered before.
func (s *Service) createSubmission(ctx context.Context, t *turn) error {
	exists, err := s.submissions.ExistsForConversation(ctx, t.current.ThreadID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeStoreWrite, "check submission")
	}
	if exists {
		return nil
	}
	body, err := s.crypto.EncryptString(t.payload.Submission)
	if err != nil {
		return err
	}
	submission := &submissionmodels.Submission{
		ID:             id.NewSubmissionID(),
		ConversationID: t.current.ThreadID,
		IdentityID:     t.identity,
		EncryptedBody:  body,
		CreatedAt:      t.now,
	}
	if err := s.submissions.Create(ctx, submission); err != nil {
		// Another writer created it between the check and the insert. The
		// replay sees it in the existence check.
		return stateWriteError(err, "create submission")
	}
	return s.emit(ctx, t, audit.ActionSubmissionCreated, map[string]string{
		"submission_id": submission.ID.String(),
	})
}

func (s *Service) handleCompleted(_ context.Context, t *turn) error {
	return t.stay(replyAlreadyDone)
}

func (s *Service) handleDeletionPending(_ context.Context, t *turn) error {
	return t.stay(replyDeletionPending)
}

// handleResume continues the flow that a side request interrupted, treating
// the message as input for the saved stage.
func (s *Service) handleResume(ctx context.Context, t *turn) error {
	resume := t.payload.ResumeStage
	if !resume.IsValid() || resume.IsSide() {
		resume = models.StageNeedConsent
		if !t.identity.IsNil() {
			resume = models.StageCompleted
		}
	}
	t.payload.ResumeStage = ""
	t.stage = resume
	return s.handlers[resume](ctx, t)
}

// handleConfirmed starts over after an erasure.
func (s *Service) handleConfirmed(_ context.Context, t *turn) error {
	t.payload = models.Payload{Version: models.PayloadVersion}
	t.identity = id.IdentityID{}
	return t.advance(models.StageNeedConsent, replyConsentPrompt)
}

// handleStopped restarts in a new thread, so a second submission gets its own
// conversation record. The identity carries over.
func (s *Service) handleStopped(_ context.Context, t *turn) error {
	yes, ok := parseYesNo(t.body)
	if !ok || !yes {
		return t.stay(replyStoppedIdle)
	}
	t.payload = models.Payload{Version: models.PayloadVersion, LastMessageID: t.messageID}
	t.restart = true
	return t.advance(models.StageNeedConsent, replyConsentPrompt)
}
