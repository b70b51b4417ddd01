package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"captrack/internal/access"
	accesshandler "captrack/internal/access/handler"
	accessmetrics "captrack/internal/access/metrics"
	accesspg "captrack/internal/access/store/postgres"
	"captrack/internal/audit"
	"captrack/internal/audit/export"
	audithandler "captrack/internal/audit/handler"
	auditpg "captrack/internal/audit/store/postgres"
	"captrack/internal/entity"
	entityhandler "captrack/internal/entity/handler"
	entitypg "captrack/internal/entity/store/postgres"
	"captrack/internal/platform/config"
	"captrack/internal/platform/httpserver"
	"captrack/internal/platform/logger"
	"captrack/internal/platform/middleware"
	"captrack/internal/platform/txrunner"
)

const requestTimeout = 30 * time.Second

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		entityStore entity.Store
		grantStore  access.Store
		auditStore  audit.Store
		runner      txrunner.Runner
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			log.Error("open database", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer db.Close()

		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err != nil {
			log.Error("ping database", slog.String("error", err.Error()))
			os.Exit(1)
		}

		entityStore = entitypg.New(db)
		grantStore = accesspg.New(db)
		auditStore = auditpg.New(db)
		runner = txrunner.NewPostgres(db)
		log.Info("using postgres stores")
	} else {
		entityStore = entity.NewInMemoryStore()
		grantStore = access.NewInMemoryStore()
		auditStore = audit.NewInMemoryStore()
		runner = txrunner.NewMemory()
		log.Info("using in-memory stores")
	}

	var exporter audit.Exporter
	var kafkaExporter *export.KafkaExporter
	if len(cfg.KafkaBrokers) > 0 {
		var err error
		kafkaExporter, err = export.NewKafkaExporter(cfg.KafkaBrokers, cfg.AuditTopic, log)
		if err != nil {
			log.Error("create audit exporter", slog.String("error", err.Error()))
			os.Exit(1)
		}
		topicCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		err = kafkaExporter.EnsureTopic(topicCtx, 3, 1)
		cancel()
		if err != nil {
			log.Error("ensure audit topic", slog.String("error", err.Error()))
			os.Exit(1)
		}
		exporter = kafkaExporter
		log.Info("audit export enabled", slog.String("topic", cfg.AuditTopic))
	}

	m := accessmetrics.New()
	decider := access.NewDecider(grantStore, m, log)
	resolver := entity.NewResolver(entityStore)

	recordSvc := entity.NewService(entityStore, resolver, decider, auditStore, runner, exporter, log)
	checker := access.NewChecker(entityStore, decider, auditStore, log)
	grantSvc := access.NewGrantService(grantStore, entityStore, decider, auditStore, runner, exporter, m, log)
	auditSvc := audit.NewService(auditStore, decider, log)

	validator := middleware.NewTokenValidator(cfg.JWTSigningKey)

	r := chi.NewRouter()
	r.Use(middleware.Recovery(log))
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestTime)
	r.Use(middleware.ClientMetadata)
	r.Use(middleware.Logger(log))
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(middleware.ContentTypeJSON)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(validator, log))
		accesshandler.New(checker, grantSvc, log).Register(r)
		entityhandler.New(recordSvc, log).Register(r)
		audithandler.New(auditSvc, log).Register(r)
	})

	srv := httpserver.New(cfg.Addr, r)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("server listening", slog.String("addr", cfg.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if kafkaExporter != nil {
		g.Go(func() error {
			if err := kafkaExporter.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		log.Error("server exited", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log.Info("server stopped")
}
