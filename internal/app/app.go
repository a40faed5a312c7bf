// Package app assembles the server from configuration. Postgres, Redis,
// Kafka and S3 are each optional; without them the in-memory equivalents
// are used so a laptop run needs nothing but a vault key.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
	"golang.org/x/sync/errgroup"

	consentservice "vaultline/internal/consent/service"
	consentstore "vaultline/internal/consent/store"
	"vaultline/internal/export"
	identitystore "vaultline/internal/identity/store"
	jwttoken "vaultline/internal/jwt_token"
	"vaultline/internal/messaging"
	onboardingservice "vaultline/internal/onboarding/service"
	onboardingstore "vaultline/internal/onboarding/store"
	"vaultline/internal/platform/config"
	"vaultline/internal/platform/httpserver"
	"vaultline/internal/platform/metrics"
	"vaultline/internal/platform/postgres"
	"vaultline/internal/platform/redis"
	ratelimitmetrics "vaultline/internal/ratelimit/metrics"
	ratelimitmw "vaultline/internal/ratelimit/middleware"
	ratelimitmodels "vaultline/internal/ratelimit/models"
	ratelimitservice "vaultline/internal/ratelimit/service"
	ratelimitmemory "vaultline/internal/ratelimit/store/memory"
	ratelimitredis "vaultline/internal/ratelimit/store/redis"
	"vaultline/internal/retention"
	submissionstore "vaultline/internal/submission/store"
	httptransport "vaultline/internal/transport/http"
	"vaultline/internal/vault"
	audit "vaultline/pkg/platform/audit"
	"vaultline/pkg/platform/audit/publishers/compliance"
	auditmemory "vaultline/pkg/platform/audit/store/memory"
	auditpg "vaultline/pkg/platform/audit/store/postgres"
	"vaultline/pkg/platform/audit/stream"
	"vaultline/pkg/platform/tx"
)

// AdminAudience is the audience claim of operator tokens.
const AdminAudience = "vaultline-admin"

// App holds the wired components and the resources that need closing.
type App struct {
	cfg    config.Config
	logger *slog.Logger

	Metrics    *metrics.Metrics
	Onboarding *onboardingservice.Service
	Ledger     *consentservice.Service
	Sweeper    *retention.Sweeper
	Audits     audit.Store
	Handler    http.Handler

	relay        *stream.Relay
	db           *sql.DB
	redis        *redis.Client
	kafka        *kgo.Client
	limitMetrics *ratelimitmetrics.Metrics
	closed       bool
}

type identityStore interface {
	onboardingservice.IdentityStore
	retention.ExpiredLister
	consentservice.IdentityStore
	export.IdentityReader
}

type submissionStore interface {
	onboardingservice.SubmissionStore
	export.SubmissionReader
	consentservice.Purger
}

type stores struct {
	identities  identityStore
	consents    consentservice.Store
	states      onboardingservice.StateStore
	submissions submissionStore
	statePurger consentservice.Purger
	audits      audit.Store
	offsets     stream.Offsets
	runner      tx.Runner
}

// Build connects every configured backend and wires the services. On error
// the partially opened resources are closed.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger) (_ *App, err error) {
	a := &App{cfg: cfg, logger: logger, Metrics: metrics.New()}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	v, err := vault.NewFromHex(cfg.Vault.KeyHex, vault.WithHashCost(cfg.Vault.BcryptCost))
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}

	st, err := a.openStores(ctx)
	if err != nil {
		return nil, err
	}

	auditor := compliance.New(st.audits,
		compliance.WithLogger(logger),
		compliance.WithMetrics(compliance.NewMetrics(a.Metrics.Registry)),
	)
	a.Audits = st.audits

	a.Ledger, err = consentservice.New(st.consents, st.identities, v, auditor, st.runner, cfg.Consent.PolicyVersion,
		consentservice.WithLogger(logger),
		consentservice.WithMetrics(consentservice.NewMetrics(a.Metrics.Registry)),
		consentservice.WithPurgers(st.submissions, st.statePurger),
	)
	if err != nil {
		return nil, fmt.Errorf("consent ledger: %w", err)
	}

	sink, err := a.exportSink(ctx)
	if err != nil {
		return nil, err
	}
	exporter, err := export.New(st.identities, a.Ledger, st.submissions, v, sink, auditor, export.WithLogger(logger))
	if err != nil {
		return nil, fmt.Errorf("exporter: %w", err)
	}

	conversations, err := a.limiter(ctx, "conversation", ratelimitmodels.Limit{
		Requests: cfg.RateLimit.MaxEvents,
		Window:   cfg.RateLimit.Window,
	})
	if err != nil {
		return nil, err
	}

	strategy, err := onboardingservice.ParseLookupStrategy(cfg.Onboarding.LookupStrategy)
	if err != nil {
		return nil, err
	}
	a.Onboarding, err = onboardingservice.New(onboardingservice.Dependencies{
		States:      st.states,
		Identities:  st.identities,
		Submissions: st.submissions,
		Ledger:      a.Ledger,
		Crypto:      v,
		Limiter:     conversations,
		Auditor:     auditor,
		Exporter:    exporter,
		Tx:          st.runner,
		Sender:      messaging.NewLogSender(logger),
	},
		onboardingservice.WithLogger(logger),
		onboardingservice.WithMetrics(onboardingservice.NewMetrics(a.Metrics.Registry)),
		onboardingservice.WithLookupStrategy(strategy),
		onboardingservice.WithDefaultRetention(time.Duration(cfg.Retention.DefaultDays)*24*time.Hour),
		onboardingservice.WithMaxMessageLength(cfg.Onboarding.MaxMessageLength),
		onboardingservice.WithCodeTTL(cfg.Onboarding.CodeTTL),
		onboardingservice.WithMaxCodeAttempts(cfg.Onboarding.MaxCodeAttempts),
	)
	if err != nil {
		return nil, fmt.Errorf("onboarding: %w", err)
	}

	a.Sweeper, err = retention.New(st.identities, a.Ledger, auditor,
		retention.WithLogger(logger),
		retention.WithMetrics(retention.NewMetrics(a.Metrics.Registry)),
		retention.WithBatchSize(cfg.Retention.BatchSize),
	)
	if err != nil {
		return nil, fmt.Errorf("retention: %w", err)
	}

	if err := a.openRelay(ctx, st); err != nil {
		return nil, err
	}

	httpLimiter, err := a.limiter(ctx, "http", ratelimitmodels.Limit{
		Requests: cfg.RateLimit.HTTPPerMinute,
		Window:   time.Minute,
	})
	if err != nil {
		return nil, err
	}

	routes := httptransport.RouterConfig{
		Logger:    logger,
		Metrics:   a.Metrics,
		Inbound:   httptransport.NewInboundHandler(a.Onboarding, logger),
		Health:    httptransport.NewHealthHandler(a.healthChecks()),
		RateLimit: ratelimitmw.New(httpLimiter, logger, ratelimitmw.WithDisabled(cfg.RateLimit.Disabled)),
		Timeout:   cfg.Server.WriteTimeout,
	}
	if cfg.Admin.JWTSigningKey != "" {
		jwtService := jwttoken.NewJWTService(cfg.Admin.JWTSigningKey, cfg.Admin.JWTIssuer, AdminAudience)
		routes.Validator = jwttoken.NewValidator(jwtService)
		routes.Admin = httptransport.NewAdminHandler(a.Sweeper, a.Ledger, st.audits, logger)
	} else {
		logger.Warn("ADMIN_JWT_SIGNING_KEY not set, operator API disabled")
	}
	a.Handler = httptransport.NewRouter(routes)
	return a, nil
}

func (a *App) openStores(ctx context.Context) (*stores, error) {
	if a.cfg.Postgres.DSN == "" {
		a.logger.Warn("DATABASE_URL not set, using in-memory stores")
		states := onboardingstore.NewInMemoryStore()
		audits := auditmemory.NewInMemoryStore()
		return &stores{
			identities:  identitystore.NewInMemoryStore(),
			consents:    consentstore.NewInMemoryStore(),
			states:      states,
			submissions: submissionstore.NewInMemoryStore(),
			statePurger: states,
			audits:      audits,
			offsets:     stream.NewMemoryOffsets(),
			runner:      tx.NewMemoryRunner(),
		}, nil
	}

	db, err := postgres.Open(ctx, postgres.Config{
		DSN:             a.cfg.Postgres.DSN,
		MaxOpenConns:    a.cfg.Postgres.MaxOpenConns,
		MaxIdleConns:    a.cfg.Postgres.MaxIdleConns,
		ConnMaxLifetime: a.cfg.Postgres.ConnMaxLifetime,
	})
	if err != nil {
		return nil, err
	}
	a.db = db
	if err := postgres.Migrate(ctx, db); err != nil {
		return nil, err
	}
	a.logger.Info("connected to postgres")

	states := onboardingstore.NewPostgres(db)
	return &stores{
		identities:  identitystore.NewPostgres(db),
		consents:    consentstore.NewPostgres(db),
		states:      states,
		submissions: submissionstore.NewPostgres(db),
		statePurger: states,
		audits:      auditpg.New(db, auditpg.WithSettleDelay(a.cfg.Kafka.SettleDelay)),
		offsets:     auditpg.NewOffsets(db),
		runner:      tx.NewSQLRunner(db),
	}, nil
}

func (a *App) exportSink(ctx context.Context) (export.Sink, error) {
	if a.cfg.Export.Bucket == "" {
		return export.NewMemorySink(), nil
	}
	sink, err := export.NewS3Sink(ctx, export.S3Config{
		Bucket:    a.cfg.Export.Bucket,
		Region:    a.cfg.Export.Region,
		Endpoint:  a.cfg.Export.Endpoint,
		AccessKey: a.cfg.Export.AccessKey,
		SecretKey: a.cfg.Export.SecretKey,
		LinkTTL:   a.cfg.Export.LinkTTL,
	})
	if err != nil {
		return nil, fmt.Errorf("export sink: %w", err)
	}
	return sink, nil
}

// limiter builds a named limiter. With Redis configured the counters are
// shared across processes and the local counters take over while
// Redis is failing.
func (a *App) limiter(ctx context.Context, name string, limit ratelimitmodels.Limit) (*ratelimitservice.Limiter, error) {
	if a.redis == nil && a.cfg.Redis.URL != "" {
		client, err := redis.New(ctx, a.cfg.Redis)
		if err != nil {
			return nil, err
		}
		a.redis = client
	}
	opts := []ratelimitservice.Option{
		ratelimitservice.WithLogger(a.logger),
		ratelimitservice.WithName(name),
		ratelimitservice.WithMetrics(a.limiterMetrics()),
	}
	var primary ratelimitservice.Store = ratelimitmemory.New()
	if a.redis != nil {
		opts = append(opts, ratelimitservice.WithFallback(primary))
		primary = ratelimitredis.New(a.redis.Client, ratelimitredis.WithMetrics(a.limiterMetrics()))
	}
	l, err := ratelimitservice.New(primary, limit, opts...)
	if err != nil {
		return nil, fmt.Errorf("%s rate limiter: %w", name, err)
	}
	return l, nil
}

func (a *App) limiterMetrics() *ratelimitmetrics.Metrics {
	if a.limitMetrics == nil {
		a.limitMetrics = ratelimitmetrics.New(a.Metrics.Registry)
	}
	return a.limitMetrics
}

func (a *App) openRelay(ctx context.Context, st *stores) error {
	if len(a.cfg.Kafka.Brokers) == 0 {
		return nil
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(a.cfg.Kafka.Brokers...),
		kgo.ClientID("vaultline"),
		kgo.RequiredAcks(kgo.AllISRAcks()),
	)
	if err != nil {
		return fmt.Errorf("kafka client: %w", err)
	}
	a.kafka = client
	if err := stream.EnsureTopic(ctx, client, a.cfg.Kafka.AuditTopic, 1, -1); err != nil {
		return fmt.Errorf("audit topic: %w", err)
	}
	a.relay = stream.NewRelay(st.audits, st.offsets, client, a.cfg.Kafka.AuditTopic,
		stream.WithInterval(a.cfg.Kafka.RelayInterval),
		stream.WithLogger(a.logger),
	)
	return nil
}

func (a *App) healthChecks() map[string]httptransport.Pinger {
	checks := map[string]httptransport.Pinger{}
	if a.db != nil {
		checks["postgres"] = a.db.PingContext
	}
	if a.redis != nil {
		checks["redis"] = a.redis.Health
	}
	if a.kafka != nil {
		checks["kafka"] = a.kafka.Ping
	}
	return checks
}

// Run serves HTTP and runs the retention worker and the audit relay until
// ctx is cancelled or one of them fails.
func (a *App) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)

	srv := httpserver.New(a.cfg.Server.Addr, a.Handler, a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout)
	g.Go(func() error {
		a.logger.Info("starting vaultline", "addr", a.cfg.Server.Addr)
		return httpserver.Run(ctx, srv, a.cfg.Server.ShutdownTimeout)
	})

	worker := retention.NewWorker(a.Sweeper, a.cfg.Retention.SweepInterval, a.logger)
	g.Go(func() error {
		return ignoreCancel(worker.Run(ctx))
	})

	if a.relay != nil {
		g.Go(func() error {
			return ignoreCancel(a.relay.Run(ctx))
		})
	}
	return g.Wait()
}

// Close releases every opened backend. It is safe to call twice.
func (a *App) Close() error {
	if a.closed {
		return nil
	}
	a.closed = true
	var errs []error
	if a.kafka != nil {
		a.kafka.Close()
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}

func ignoreCancel(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
