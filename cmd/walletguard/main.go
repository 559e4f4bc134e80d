// walletguard runs the slip verification and risk-scoring service.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	_ "github.com/lib/pq" // Postgres driver

	"github.com/Chaiya88/logic-digital-wallet-sub001/pkg/config"
	"github.com/Chaiya88/logic-digital-wallet-sub001/pkg/notify"
	"github.com/Chaiya88/logic-digital-wallet-sub001/pkg/pending"
	"github.com/Chaiya88/logic-digital-wallet-sub001/pkg/recon"
	"github.com/Chaiya88/logic-digital-wallet-sub001/pkg/risk"
	"github.com/Chaiya88/logic-digital-wallet-sub001/pkg/security"
	"github.com/Chaiya88/logic-digital-wallet-sub001/pkg/server"
)

func main() {
	cfg := config.Load()
	setupLogger(cfg)

	if err := run(cfg); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func setupLogger(cfg *config.Config) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(cfg.LogFormat, "json") {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func run(cfg *config.Config) error {
	ctx := context.Background()
	logger := slog.Default()

	// Storage backends: Redis and Postgres when configured, in-memory
	// fallbacks for development.
	var (
		pool      pending.Store
		unmatched notify.UnmatchedStore
		blocks    security.BlockStore
		failures  security.FailureCounter
	)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return err
		}
		pool = pending.NewRedisStore(rdb)
		unmatched = notify.NewRedisUnmatchedStore(rdb)
		blocks = security.NewRedisBlockStore(rdb)
		failures = security.NewRedisFailureCounter(rdb)
		logger.Info("redis backends ready", "addr", cfg.RedisAddr)
	} else {
		pool = pending.NewMemoryStore()
		unmatched = notify.NewMemoryUnmatchedStore()
		blocks = security.NewMemoryBlockStore()
		failures = security.NewMemoryFailureCounter()
		logger.Warn("running with in-memory stores; candidates will not survive restarts")
	}

	var (
		ledger    security.Ledger
		incidents security.Incidents
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return err
		}
		sqlLedger := security.NewSQLLedger(db)
		if err := sqlLedger.Init(ctx); err != nil {
			return err
		}
		sqlLedger.SetCriticalHook(criticalHook(blocks, logger))
		ledger = sqlLedger
		incidents = sqlLedger
		logger.Info("postgres security ledger ready")
	} else {
		memLedger := security.NewMemoryLedger()
		memLedger.SetCriticalHook(criticalHook(blocks, logger))
		ledger = memLedger
		incidents = memLedger
		logger.Warn("running with in-memory security ledger")
	}

	confirmer := recon.NewHTTPConfirmer(cfg.LedgerConfirmURL, cfg.InternalAPISecret, cfg.ConfirmTimeout)
	matcher := recon.NewMatcher(pool, unmatched, ledger, confirmer, logger)

	scorerOpts := []risk.Option{risk.WithReputation(risk.StaticReputation{})}
	if cfg.RiskRulesPath != "" {
		rules, err := risk.LoadRuleSet(cfg.RiskRulesPath, logger)
		if err != nil {
			return err
		}
		scorerOpts = append(scorerOpts, risk.WithRules(rules))
		logger.Info("operator risk rules loaded", "path", cfg.RiskRulesPath, "count", rules.Len())
	}
	scorer := risk.NewScorer(ledger, incidents, blocks, failures, logger, scorerOpts...)

	srv := server.New(cfg, matcher, scorer, ledger, incidents, blocks, unmatched, logger)
	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("walletguard listening", "port", cfg.Port)
		errCh <- httpServer.ListenAndServe()
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
		shutdownCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return err
		}
	}
	return nil
}

// criticalHook is the automated response to a critical incident: block the
// subject immediately, before any human review.
func criticalHook(blocks security.BlockStore, logger *slog.Logger) security.ResponseHook {
	return func(ctx context.Context, inc security.Incident) {
		if inc.SubjectID == "" {
			return
		}
		if _, err := blocks.Block(ctx, security.BlockIP, inc.SubjectID, "critical incident "+inc.ID, security.DefaultBlockDuration); err != nil {
			logger.ErrorContext(ctx, "critical incident auto-block failed",
				"incident_id", inc.ID, "error", err)
			return
		}
		logger.WarnContext(ctx, "critical incident auto-block applied",
			"incident_id", inc.ID, "subject", inc.SubjectID)
	}
}
