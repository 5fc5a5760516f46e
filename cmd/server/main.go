package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"librarian/internal/app"
	"librarian/internal/config"
	"librarian/internal/notify"
	"librarian/internal/ratelimit"
	"librarian/internal/server"
	"librarian/internal/store"
	"librarian/internal/util"
	"librarian/pkg/storage"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.InitLogger(cfg.LogLevel)

	st, err := store.NewGormStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to init database: %v", err)
	}

	trusted, err := util.NewTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		log.Fatalf("failed to parse trusted proxies: %v", err)
	}

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
	}

	var revoker store.TokenRevoker = store.NewMemoryTokenRevoker()
	if redisClient != nil {
		revoker = store.NewRedisTokenRevoker(cfg.RedisAddr, cfg.RedisPassword)
	}
	sessionTTL := time.Duration(cfg.SessionTTLHours) * time.Hour
	sessions := store.NewJWTSessionStore(cfg.JWTSecret, sessionTTL, revoker, store.JWTOptions{})

	var covers app.CoverStore
	if cfg.MinioEndpoint != "" {
		covers, err = storage.NewCoverStore(cfg.MinioEndpoint, cfg.MinioAccessKey, cfg.MinioSecretKey, cfg.MinioBucket, cfg.MinioUseSSL)
		if err != nil {
			log.Fatalf("failed to init cover storage: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var events app.EventPublisher
	var queue *notify.Queue
	if redisClient != nil {
		queue, err = notify.NewQueue(redisClient, notify.QueueConfig{})
		if err != nil {
			log.Fatalf("failed to init notify queue: %v", err)
		}
		events = queue
	}

	appCore := app.New(app.Options{
		Store:    st,
		Sessions: sessions,
		Covers:   covers,
		Events:   events,
		Policy:   cfg.LoanPolicy(),
	})

	if queue != nil {
		worker := notify.NewWorker(st)
		queue.Start(ctx, cfg.NotifyWorkerCount, worker.Handle)
	}

	var limiter *ratelimit.FixedWindowLimiter
	if redisClient != nil && cfg.LoginRateLimit > 0 {
		window := time.Duration(cfg.LoginRateWindowSecs) * time.Second
		if window <= 0 {
			window = time.Minute
		}
		limiter, err = ratelimit.NewFixedWindowLimiter(redisClient, "librarian:login", cfg.LoginRateLimit, window)
		if err != nil {
			log.Fatalf("failed to init rate limiter: %v", err)
		}
	}

	httpServer := server.New(server.Config{
		App:            appCore,
		LoginLimiter:   limiter,
		TrustedProxies: trusted,
		AllowedOrigins: cfg.AllowedOrigins,
	})

	addr := ":" + cfg.Port
	srv := &http.Server{
		Addr:         addr,
		Handler:      httpServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("library server listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server error", "err", err)
	}
}
