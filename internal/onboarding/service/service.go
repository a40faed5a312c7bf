package service

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	consentmodels "vaultline/internal/consent/models"
	consentservice "vaultline/internal/consent/service"
	"vaultline/internal/export"
	identitymodels "vaultline/internal/identity/models"
	"vaultline/internal/messaging"
	"vaultline/internal/onboarding/models"
	ratelimitmodels "vaultline/internal/ratelimit/models"
	submissionmodels "vaultline/internal/submission/models"
	"vaultline/internal/vault"
	id "vaultline/pkg/domain"
	dErrors "vaultline/pkg/domain-errors"
	audit "vaultline/pkg/platform/audit"
	"vaultline/pkg/platform/shard"
	"vaultline/pkg/platform/tx"
	"vaultline/pkg/requestcontext"
)

// StateStore holds the conversation trail.
type StateStore interface {
	FindActiveByIndex(ctx context.Context, lookupIndex string) (*models.State, error)
	ListActive(ctx context.Context) ([]*models.State, error)
	Insert(ctx context.Context, state *models.State) error
	Supersede(ctx context.Context, threadID id.ThreadID, version int, at time.Time) error
}

type IdentityStore interface {
	Create(ctx context.Context, identity *identitymodels.Identity) error
	FindByID(ctx context.Context, identityID id.IdentityID) (*identitymodels.Identity, error)
	SetDisplayName(ctx context.Context, identityID id.IdentityID, name vault.EncryptedField) error
	UpdateRetentionExpiry(ctx context.Context, identityID id.IdentityID, expiry time.Time) error
}

type SubmissionStore interface {
	Create(ctx context.Context, submission *submissionmodels.Submission) error
	ExistsForConversation(ctx context.Context, conversationID id.ThreadID) (bool, error)
}

// Ledger is the consent ledger. Withdrawing submission consent deletes the
// identity and every conversation row that references it.
type Ledger interface {
	RecordConsent(ctx context.Context, req consentservice.RecordRequest) (*consentmodels.Record, error)
	WithdrawConsent(ctx context.Context, identityID id.IdentityID, category id.ConsentCategory) (*consentmodels.Record, error)
}

// Crypto is the vault. *vault.Vault satisfies it.
type Crypto interface {
	Encrypt(plaintext []byte) (vault.EncryptedField, error)
	Decrypt(field vault.EncryptedField) ([]byte, error)
	EncryptString(plaintext string) (vault.EncryptedField, error)
	HashLookupSecret(secret string) (string, error)
	VerifyLookupSecret(secret, hash string) bool
	BlindIndex(secret string) string
}

type Limiter interface {
	Allow(ctx context.Context, key string) (*ratelimitmodels.RateLimitResult, error)
}

type Auditor interface {
	Emit(ctx context.Context, entry audit.Entry) error
}

type Exporter interface {
	Export(ctx context.Context, identityID id.IdentityID) (*export.Result, error)
}

// Dependencies are the collaborators of the state machine. All are required
// except Sender, which only HandleInbound uses.
type Dependencies struct {
	States      StateStore
	Identities  IdentityStore
	Submissions SubmissionStore
	Ledger      Ledger
	Crypto      Crypto
	Limiter     Limiter
	Auditor     Auditor
	Exporter    Exporter
	Tx          tx.Runner
	Sender      messaging.Sender
}

// LookupStrategy selects how an address finds its conversation.
type LookupStrategy string

const (
	// LookupIndex reads the row by keyed blind index and confirms it with bcrypt.
	LookupIndex LookupStrategy = "index"
	// LookupScan bcrypt-compares the address against every active row.
	LookupScan LookupStrategy = "scan"
)

func ParseLookupStrategy(s string) (LookupStrategy, error) {
	switch LookupStrategy(s) {
	case LookupIndex, LookupScan:
		return LookupStrategy(s), nil
	}
	return "", dErrors.New(dErrors.CodeInvalidInput, "unknown lookup strategy: "+s)
}

const (
	defaultMaxMessageLength = 1000
	defaultCodeTTL          = 15 * time.Minute
	defaultMaxCodeAttempts  = 3
	defaultRetention        = 365 * 24 * time.Hour
	defaultTransitionTries  = 3
)

// Service is the onboarding state machine. It keeps nothing in memory
// between messages; every message loads the active row, applies one
// transition and persists it in a single transaction.
type Service struct {
	states      StateStore
	identities  IdentityStore
	submissions SubmissionStore
	ledger      Ledger
	crypto      Crypto
	limiter     Limiter
	auditor     Auditor
	exporter    Exporter
	tx          tx.Runner
	sender      messaging.Sender

	strategy         LookupStrategy
	defaultRetention time.Duration
	maxMessageLength int
	codeTTL          time.Duration
	maxCodeAttempts  int
	transitionTries  int
	newCode          func() (string, error)

	locks    shard.Mutexes
	handlers map[models.Stage]stageHandler
	logger   *slog.Logger
	metrics  *Metrics
	tracer   trace.Tracer
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func WithLookupStrategy(strategy LookupStrategy) Option {
	return func(s *Service) {
		s.strategy = strategy
	}
}

// WithDefaultRetention sets the expiry given to an identity at consent time,
// before the person picks a retention period.
func WithDefaultRetention(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.defaultRetention = d
		}
	}
}

// WithMaxMessageLength caps inbound text, in runes.
func WithMaxMessageLength(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxMessageLength = n
		}
	}
}

func WithCodeTTL(d time.Duration) Option {
	return func(s *Service) {
		if d > 0 {
			s.codeTTL = d
		}
	}
}

func WithMaxCodeAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxCodeAttempts = n
		}
	}
}

// WithTransitionAttempts bounds how often a message is replayed after losing
// a race on the conversation row.
func WithTransitionAttempts(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.transitionTries = n
		}
	}
}

func WithCodeGenerator(fn func() (string, error)) Option {
	return func(s *Service) {
		s.newCode = fn
	}
}

func New(deps Dependencies, opts ...Option) (*Service, error) {
	if deps.States == nil || deps.Identities == nil || deps.Submissions == nil || deps.Ledger == nil ||
		deps.Crypto == nil || deps.Limiter == nil || deps.Auditor == nil || deps.Exporter == nil || deps.Tx == nil {
		return nil, errors.New("onboarding requires states, identities, submissions, ledger, crypto, limiter, auditor, exporter and tx runner")
	}
	s := &Service{
		states:           deps.States,
		identities:       deps.Identities,
		submissions:      deps.Submissions,
		ledger:           deps.Ledger,
		crypto:           deps.Crypto,
		limiter:          deps.Limiter,
		auditor:          deps.Auditor,
		exporter:         deps.Exporter,
		tx:               deps.Tx,
		sender:           deps.Sender,
		strategy:         LookupIndex,
		defaultRetention: defaultRetention,
		maxMessageLength: defaultMaxMessageLength,
		codeTTL:          defaultCodeTTL,
		maxCodeAttempts:  defaultMaxCodeAttempts,
		transitionTries:  defaultTransitionTries,
		newCode:          randomCode,
		logger:           slog.Default(),
		tracer:           otel.Tracer("vaultline/onboarding"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if _, err := ParseLookupStrategy(string(s.strategy)); err != nil {
		return nil, err
	}
	s.handlers = s.stageHandlers()
	if err := checkHandlers(s.handlers); err != nil {
		return nil, err
	}
	return s, nil
}

// Result is the outcome of one inbound message.
type Result struct {
	Reply       string
	Stage       models.Stage
	ThreadID    id.ThreadID
	RateLimited bool
}

// HandleInbound processes msg and sends the reply to its address. The reply
// is sent even when processing failed, with generic text.
func (s *Service) HandleInbound(ctx context.Context, msg messaging.InboundMessage) (*Result, error) {
	if s.sender == nil {
		return nil, errors.New("onboarding has no sender configured")
	}
	address, err := messaging.NormalizeAddress(msg.Address)
	if err != nil {
		return nil, err
	}
	msg.Address = address

	result, procErr := s.Process(ctx, msg)
	if result == nil {
		return nil, procErr
	}
	if err := s.sender.SendText(ctx, address, result.Reply); err != nil {
		s.logger.ErrorContext(ctx, "reply delivery failed",
			"address", messaging.RedactAddress(address),
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		if procErr == nil {
			return result, dErrors.Wrap(err, dErrors.CodeInternal, "send reply")
		}
	}
	return result, procErr
}

// Process applies one inbound message to the conversation of its address.
// On failure the returned Result still carries the generic failure reply.
func (s *Service) Process(ctx context.Context, msg messaging.InboundMessage) (*Result, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "onboarding.Process", trace.WithAttributes(
		attribute.String("message.channel", msg.Channel),
	))
	defer span.End()

	address, err := messaging.NormalizeAddress(msg.Address)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	if msg.Channel != "" {
		ctx = requestcontext.WithChannel(ctx, msg.Channel)
	}

	lockKey := s.crypto.BlindIndex(address)
	unlock := s.locks.Lock(lockKey)
	defer unlock()
	ctx = tx.WithShardKey(ctx, lockKey)

	body := prepareBody(msg.Body, s.maxMessageLength)

	current, err := s.resolve(ctx, address)
	if err != nil {
		return s.fail(ctx, span, nil, err)
	}
	if current == nil {
		if current, err = s.newThread(ctx, address); err != nil {
			return s.fail(ctx, span, nil, err)
		}
	}

	if limited, result := s.rateLimited(ctx, current); limited {
		span.SetAttributes(attribute.Bool("onboarding.rate_limited", true))
		s.observe(current.Stage, "rate_limited", start)
		return result, nil
	}

	var t *turn
	op := func() error {
		if t != nil {
			// A concurrent writer advanced the thread: reload and replay.
			reloaded, err := s.resolve(ctx, address)
			if err != nil {
				return backoff.Permanent(err)
			}
			if reloaded == nil {
				if reloaded, err = s.newThread(ctx, address); err != nil {
					return backoff.Permanent(err)
				}
			}
			current = reloaded
		}
		t = newTurn(current, msg, address, body, requestcontext.Now(ctx))
		err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
			return s.apply(ctx, t)
		})
		if err != nil && !dErrors.HasCode(err, dErrors.CodeConflict) {
			return backoff.Permanent(err)
		}
		return err
	}
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(5*time.Millisecond), uint64(s.transitionTries-1)),
		ctx,
	)
	if err := backoff.Retry(op, policy); err != nil {
		return s.fail(ctx, span, current, err)
	}

	span.SetAttributes(
		attribute.String("onboarding.stage.from", string(current.Stage)),
		attribute.String("onboarding.stage.to", string(t.next)),
	)
	outcome := "ok"
	if t.duplicate {
		outcome = "duplicate"
	}
	s.observe(current.Stage, outcome, start)
	if s.metrics != nil && t.next != current.Stage {
		s.metrics.IncTransition(current.Stage, t.next)
	}
	s.logger.InfoContext(ctx, "conversation advanced",
		"thread_id", t.threadID(),
		"from", current.Stage,
		"to", t.next,
		"request_id", requestcontext.RequestID(ctx),
	)
	return &Result{Reply: t.reply, Stage: t.next, ThreadID: t.threadID()}, nil
}

// newThread prepares, without persisting, the first row for an address.
// Version 0 marks it as unsaved; the first processed message stores it as
// version 1.
func (s *Service) newThread(ctx context.Context, address string) (*models.State, error) {
	hash, err := s.crypto.HashLookupSecret(address)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "hash address")
	}
	index := ""
	if s.strategy == LookupIndex {
		index = s.crypto.BlindIndex(address)
	}
	state := models.NewThread(hash, index, vault.EncryptedField{}, requestcontext.Now(ctx))
	state.Version = 0
	return state, nil
}

func (s *Service) rateLimited(ctx context.Context, current *models.State) (bool, *Result) {
	key := current.LookupIndex
	if key == "" {
		key = current.LookupHash
	}
	decision, err := s.limiter.Allow(ctx, ratelimitmodels.NewInboundKey(key))
	if err != nil {
		s.logger.WarnContext(ctx, "rate limiter unavailable, allowing message",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		return false, nil
	}
	if decision.Allowed {
		return false, nil
	}

	if err := s.auditor.Emit(ctx, audit.Entry{
		IdentityID: current.IdentityID,
		Action:     audit.ActionRateLimitExceeded,
		Metadata: map[string]string{
			"stage":       string(current.Stage),
			"retry_after": strconv.Itoa(decision.RetryAfter),
		},
	}); err != nil {
		s.logger.ErrorContext(ctx, "failed to audit rate limit", "error", err)
	}
	result := &Result{Reply: replyRateLimited, Stage: current.Stage, RateLimited: true}
	if !isUnsaved(current) {
		result.ThreadID = current.ThreadID
	}
	return true, result
}

// fail audits a failed message outside the aborted transaction and returns
// the generic reply. Validation problems never get here: they re-prompt.
func (s *Service) fail(ctx context.Context, span trace.Span, current *models.State, err error) (*Result, error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, "message processing failed")

	action := audit.ActionTransitionFailed
	if dErrors.HasCode(err, dErrors.CodeAuthenticationFailure) {
		action = audit.ActionDecryptFailed
	}
	entry := audit.Entry{
		Action:   action,
		Metadata: map[string]string{"error_code": string(dErrors.CodeOf(err))},
	}
	result := &Result{Reply: replyFailure}
	if current != nil {
		entry.IdentityID = current.IdentityID
		entry.Metadata["stage"] = string(current.Stage)
		result.Stage = current.Stage
		if !isUnsaved(current) {
			result.ThreadID = current.ThreadID
		}
	}
	if auditErr := s.auditor.Emit(ctx, entry); auditErr != nil {
		s.logger.ErrorContext(ctx, "failed to audit processing failure", "error", auditErr)
	}
	if s.metrics != nil {
		s.metrics.IncFailure(action)
	}
	s.logger.ErrorContext(ctx, "inbound message failed",
		"error", err,
		"action", action,
		"request_id", requestcontext.RequestID(ctx),
	)
	return result, err
}

func (s *Service) observe(stage models.Stage, outcome string, start time.Time) {
	if s.metrics == nil {
		return
	}
	s.metrics.ObserveMessage(stage, outcome, time.Since(start))
}
