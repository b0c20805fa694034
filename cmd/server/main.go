package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"amora_backend/internal/config"
	"amora_backend/internal/domain"
	"amora_backend/internal/httpserver"
	"amora_backend/internal/metrics"
	"amora_backend/internal/queue"
	"amora_backend/internal/security"
	redisstore "amora_backend/internal/store/redis"
	"amora_backend/internal/store/sqlite"
	"amora_backend/internal/ws"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("failed to load config")
	}
	if lvl, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(lvl)
	}

	db, err := sqlite.Open(cfg.SQLitePath)
	if err != nil {
		logger.WithError(err).Fatal("failed to open database")
	}
	defer db.Close()

	if err := sqlite.Migrate(db); err != nil {
		logger.WithError(err).Fatal("failed to run migrations")
	}

	// Gate state lives in sqlite by default; redis is for multi-instance
	// deployments sharing one store.
	var gateRepo domain.GateRepository
	switch cfg.GateStore {
	case "redis":
		rdb, err := redisstore.Open(cfg.RedisURL, logger)
		if err != nil {
			logger.WithError(err).Fatal("failed to connect to redis")
		}
		defer rdb.Close()
		gateRepo = redisstore.NewGateRepo(rdb)
	default:
		gateRepo = sqlite.NewGateRepo(db)
	}

	// Security components
	tokenSvc := security.NewTokenService(cfg.JWTSecret, time.Duration(cfg.AccessTokenMinutes)*time.Minute)
	passwordHasher := security.NewPasswordHasher(0)

	encryptor, err := security.NewEncryptor([]byte(cfg.EncryptKey))
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize encryptor")
	}

	hub := ws.NewHub()
	m := metrics.NewMetrics()

	producer := queue.NewProducer(cfg.KafkaBroker, cfg.KafkaTopic, cfg.KafkaUsername, cfg.KafkaPassword, logger)
	defer producer.Close()

	router := httpserver.NewRouter(httpserver.Deps{
		Cfg:       cfg,
		DB:        db,
		GateRepo:  gateRepo,
		Hub:       hub,
		TokenSvc:  tokenSvc,
		Hasher:    passwordHasher,
		Encryptor: encryptor,
		Publisher: producer,
		Metrics:   m,
		Logger:    logger,
	})

	srv := &http.Server{
		Addr:         cfg.HTTPAddr(),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.WithField("addr", cfg.HTTPAddr()).Info("starting server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("graceful shutdown failed")
	}
}
