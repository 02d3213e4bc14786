package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/securebank/ledger-core/internal/account"
	"github.com/securebank/ledger-core/internal/api"
	"github.com/securebank/ledger-core/internal/config"
	"github.com/securebank/ledger-core/internal/engine"
	"github.com/securebank/ledger-core/internal/events"
	"github.com/securebank/ledger-core/internal/idempotency"
	"github.com/securebank/ledger-core/internal/journal"
	"github.com/securebank/ledger-core/internal/metrics"
	"github.com/securebank/ledger-core/internal/oracle"
	"github.com/securebank/ledger-core/internal/security"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	// .env is a development convenience; absence is not an error.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var accounts account.Store
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("failed to create postgres pool", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		accounts = account.NewPostgresStore(pool)
		logger.Info("account store ready", "backend", "postgres")
	} else {
		accounts = account.NewMemStore()
		logger.Warn("account store is in-memory, balances will not survive restarts")
	}

	var jnl journal.Journal
	if cfg.JournalPath != "" {
		sj, err := journal.OpenSQLiteJournal(cfg.JournalPath)
		if err != nil {
			logger.Error("failed to open journal", "path", cfg.JournalPath, "error", err)
			os.Exit(1)
		}
		defer sj.Close()
		jnl = sj
		logger.Info("journal ready", "backend", "sqlite", "path", cfg.JournalPath)
	} else {
		jnl = journal.NewMemJournal()
		logger.Warn("journal is in-memory, entries will not survive restarts")
	}

	var publisher events.Publisher = events.NopPublisher{}
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		publisher = kp
		logger.Info("event publisher ready", "brokers", cfg.KafkaBrokers, "topic", cfg.KafkaTopic)
	}

	reg := prometheus.NewRegistry()
	guard := idempotency.NewGuard(cfg.IdempotencyTTL, cfg.ProcessingDeadline)
	guard.StartSweeper(ctx, time.Minute)

	fees := make(map[engine.TxType]int64, len(cfg.Fees))
	for t, fee := range cfg.Fees {
		fees[engine.TxType(t)] = fee
	}
	limits, err := engine.LimitsFromOverrides(cfg.TierLimits)
	if err != nil {
		logger.Error("invalid tier limit configuration", "error", err)
		os.Exit(1)
	}

	eng, err := engine.New(engine.Config{
		FeeAccountID:   cfg.FeeAccountID,
		Fees:           fees,
		Limits:         limits,
		RateFreshness:  cfg.RateFreshness,
		OracleTimeout:  cfg.OracleTimeout,
		ReversalWindow: cfg.ReversalWindow,
	}, engine.Deps{
		Accounts:  accounts,
		Journal:   jnl,
		Guard:     guard,
		Oracle:    oracle.NewStaticOracle(cfg.RatePrices, cfg.RateFreshness),
		Gateway:   oracle.NewStaticGateway(nil),
		Auth:      oracle.NewStaticTiers(nil),
		Publisher: publisher,
		Metrics:   metrics.New(reg),
	})
	if err != nil {
		logger.Error("failed to build engine", "error", err)
		os.Exit(1)
	}

	allowlist, err := security.ParseCIDRAllowlist(cfg.IPAllowlist)
	if err != nil {
		logger.Error("invalid API_IP_ALLOWLIST", "error", err)
		os.Exit(1)
	}

	handler, err := api.NewRouter(api.Dependencies{
		Logger:       logger,
		Processor:    eng,
		Accounts:     accounts,
		Journal:      jnl,
		IPAllowlist:  allowlist,
		MaxBodyBytes: cfg.MaxBodyBytes,
	})
	if err != nil {
		logger.Error("failed to build router", "error", err)
		os.Exit(1)
	}

	apiSrv := &http.Server{
		Addr:              cfg.APIAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		var err error
		if cfg.TLSCertFile != "" {
			if cfg.TLSCAFile != "" {
				if terr := security.VerifyTLSFiles(cfg.TLSCertFile, cfg.TLSKeyFile, cfg.TLSCAFile); terr != nil {
					logger.Error("TLS files missing", "error", terr)
					stop()
					return
				}
			}
			tlsCfg, terr := security.LoadServerTLSConfig(security.TLSConfig{
				CertFile:          cfg.TLSCertFile,
				KeyFile:           cfg.TLSKeyFile,
				CAFile:            cfg.TLSCAFile,
				RequireClientAuth: cfg.TLSCAFile != "",
			})
			if terr != nil {
				logger.Error("failed to load TLS configuration", "error", terr)
				stop()
				return
			}
			apiSrv.TLSConfig = tlsCfg
			logger.Info("api listening", "addr", cfg.APIAddr, "tls", true)
			err = apiSrv.ListenAndServeTLS("", "")
		} else {
			logger.Info("api listening", "addr", cfg.APIAddr, "tls", false)
			err = apiSrv.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			logger.Error("api server failed", "error", err)
			stop()
		}
	}()

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("metrics listening", "addr", cfg.MetricsAddr)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics server failed", "error", err)
			stop()
		}
	}()

	logger.Info("ledger core started", "env", cfg.Environment)
	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = apiSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
}
