// sweep runs one retention sweep against the configured database and
// prints how many identities were deleted. It can also mint an operator
// token for the admin API.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"vaultline/internal/app"
	jwttoken "vaultline/internal/jwt_token"
	"vaultline/internal/platform/config"
	"vaultline/internal/platform/logger"
	"vaultline/pkg/requestcontext"
)

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, out io.Writer) error {
	var (
		envFile       string
		batchSize     int
		tokenSubject  string
		tokenTTL      time.Duration
		allowInMemory bool
	)
	flagSet := pflag.NewFlagSet("sweep", pflag.ContinueOnError)
	flagSet.StringVar(&envFile, "env-file", ".env", "dotenv file read before the environment")
	flagSet.IntVar(&batchSize, "batch-size", 0, "identities purged per batch (default RETENTION_BATCH_SIZE)")
	flagSet.StringVar(&tokenSubject, "mint-token", "", "print an operator token for this subject instead of sweeping")
	flagSet.DurationVar(&tokenTTL, "token-ttl", time.Hour, "lifetime of a minted token")
	flagSet.BoolVar(&allowInMemory, "allow-memory", false, "run without DATABASE_URL (sweeps an empty in-memory store)")
	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	cfg, err := config.Load(envFile)
	if err != nil {
		return fmt.Errorf("configuration: %w", err)
	}

	if tokenSubject != "" {
		if cfg.Admin.JWTSigningKey == "" {
			return fmt.Errorf("ADMIN_JWT_SIGNING_KEY is not set")
		}
		token, err := jwttoken.NewJWTService(cfg.Admin.JWTSigningKey, cfg.Admin.JWTIssuer, app.AdminAudience).
			GenerateOperatorToken(tokenSubject, jwttoken.RoleOperator, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Fprintln(out, token)
		return nil
	}

	if cfg.Postgres.DSN == "" && !allowInMemory {
		return fmt.Errorf("DATABASE_URL is not set")
	}
	if batchSize > 0 {
		cfg.Retention.BatchSize = batchSize
	}
	// A one-shot sweep neither relays audit entries nor serves HTTP.
	cfg.Kafka.Brokers = nil

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.New(cfg.Log.Format, cfg.Log.Level)
	a, err := app.Build(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx = requestcontext.WithActor(ctx, "retention-cli")
	ctx = requestcontext.WithTime(ctx, time.Now().UTC())
	deleted, err := a.Sweeper.CleanupExpiredIdentities(ctx)
	fmt.Fprintf(out, "deleted %d expired identities\n", deleted)
	return err
}
