package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	accountrepo "session-manager/backend/internal/account/repository"
	authservice "session-manager/backend/internal/auth/service"
	"session-manager/backend/internal/config"
	"session-manager/backend/internal/db"
	redisconn "session-manager/backend/internal/redis"
	"session-manager/backend/internal/security"
	"session-manager/backend/internal/server"
	"session-manager/backend/internal/session/store"
	"session-manager/backend/internal/telemetry"
	telemetryotel "session-manager/backend/internal/telemetry/otel"
	"session-manager/backend/internal/telemetry/producer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is not set; create a .env from .env.example or set DATABASE_URL")
	}
	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET is not set")
	}

	ctx := context.Background()

	providers, err := telemetryotel.NewProviders(ctx, cfg.OTLPEndpoint, "session-manager", false)
	if err != nil {
		log.Fatalf("telemetry: %v", err)
	}
	providers.SetGlobal()

	conn, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer conn.Close()

	redisClient, err := redisconn.Open(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer redisClient.Close()

	key, err := security.KeyFromConfig(cfg.AESKey, cfg.AESPassphrase)
	if err != nil {
		log.Fatalf("aes key: %v", err)
	}
	cipher, err := security.NewCipher(key)
	if err != nil {
		log.Fatalf("cipher: %v", err)
	}
	tokens, err := security.NewTokenProvider([]byte(cfg.JWTSecret), cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL())
	if err != nil {
		log.Fatalf("tokens: %v", err)
	}

	var emitter telemetry.EventEmitter
	kafkaProducer, err := producer.NewKafkaProducer(cfg.KafkaBrokersList(), cfg.KafkaTopic)
	if err != nil {
		log.Fatalf("kafka: %v", err)
	}
	if kafkaProducer != nil {
		defer kafkaProducer.Close()
		emitter = kafkaProducer
	}

	accounts := accountrepo.NewPostgresRepository(conn)
	sessions := store.NewRedisStore(redisClient, accounts)
	auth := authservice.NewAuthService(
		accounts, sessions, cipher, tokens, emitter,
		cfg.SessionTTLDuration(), cfg.RefreshWindowDuration(),
		cfg.SessionLimit, cfg.AutoProvision,
	)

	handler := server.NewHandler(server.Deps{
		Auth:     auth,
		Tokens:   tokens,
		Sessions: sessions,
		DB:       conn,
		SessionStore: server.PingFunc(func(ctx context.Context) error {
			return redisClient.Ping(ctx).Err()
		}),
		AllowedOrigins: cfg.CORSOriginsList(),
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("HTTP server listening on %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("serve: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	log.Println("shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}

	// Let in-flight async telemetry emits drain before tearing providers down.
	time.Sleep(telemetry.ShutdownDrainDuration)
	if err := providers.Shutdown(shutdownCtx); err != nil {
		log.Printf("telemetry shutdown: %v", err)
	}
	log.Println("HTTP server stopped")
}
