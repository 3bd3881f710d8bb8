package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/shaxa2505/fudly-bot-sub003/internal/auth"
	"github.com/shaxa2505/fudly-bot-sub003/internal/bus"
	"github.com/shaxa2505/fudly-bot-sub003/internal/config"
	"github.com/shaxa2505/fudly-bot-sub003/internal/httpx"
	"github.com/shaxa2505/fudly-bot-sub003/internal/metrics"
	"github.com/shaxa2505/fudly-bot-sub003/internal/orders"
	"github.com/shaxa2505/fudly-bot-sub003/internal/postgres"
	"github.com/shaxa2505/fudly-bot-sub003/internal/redisx"
	"github.com/shaxa2505/fudly-bot-sub003/internal/registry"
	"github.com/shaxa2505/fudly-bot-sub003/internal/token"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	metrics.Register()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db connect: %v", err)
	}
	defer db.Close()
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		log.Fatalf("db schema: %v", err)
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Bus backend: kafka spans instances; local is single-process
	// degraded mode and says so loudly.
	degraded := func(reason string, err error) {
		metrics.BusDegraded.Set(1)
		log.Printf("bus degraded (%s): %v", reason, err)
	}
	var b bus.Bus
	switch cfg.BusBackend {
	case "local":
		b = bus.NewLocalBus(degraded)
	default:
		kb := bus.NewKafkaBus(bus.KafkaBusConfig{
			Brokers:  cfg.KafkaBrokers,
			Topic:    cfg.NotificationTopic,
			GroupID:  cfg.ServiceName + "-" + uuid.NewString(),
			Degraded: degraded,
		})
		go func() {
			if err := kb.Run(ctx); err != nil {
				log.Printf("bus consumer stopped: %v", err)
			}
		}()
		b = kb
	}
	defer b.Close()

	// Core services
	tokens := token.NewService(&token.RedisStore{RDB: rdb}, cfg.TokenTTLMax, cfg.TokenGrace)
	az := &auth.Authorizer{Store: &auth.PGStore{DB: db}, Timeout: cfg.AuthTimeout}
	repo := &orders.Repo{DB: db}
	svc := &orders.Service{Store: repo, Bus: b, Table: orders.DefaultTable(), Name: cfg.ServiceName}
	reg := registry.New(tokens, az, b, cfg.RecheckInterval, cfg.TokenGrace)

	// HTTP
	router := httpx.NewRouter()
	rh := &httpx.RealtimeHandler{
		Tokens:             tokens,
		Auth:               az,
		Registry:           reg,
		RateGateConfigured: cfg.RateGateConfigured,
		DefaultTTL:         cfg.TokenTTLMax,
	}
	rh.Register(router)
	oh := &httpx.OrdersHandler{Repo: repo, Service: svc}
	oh.Register(router)

	srv := &http.Server{Addr: cfg.HTTPAddr, Handler: router}

	go func() {
		log.Printf("HTTP listening at %s", cfg.HTTPAddr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	// wait signal
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down...")

	ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	_ = srv.Shutdown(ctx2)
	reg.CloseAll("shutdown")
	// deferred: bus close flushes the producer, then ctx cancel stops
	// the consumer loop
}
