package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/shaxa2505/fudly-bot-sub003/internal/bus"
	"github.com/shaxa2505/fudly-bot-sub003/internal/config"
	kafkax "github.com/shaxa2505/fudly-bot-sub003/internal/kafka"
	"github.com/shaxa2505/fudly-bot-sub003/internal/metrics"
	"github.com/shaxa2505/fudly-bot-sub003/internal/orders"
	"github.com/shaxa2505/fudly-bot-sub003/internal/postgres"
	"github.com/shaxa2505/fudly-bot-sub003/internal/redisx"
	"github.com/shaxa2505/fudly-bot-sub003/internal/transitioner"
)

func mustAtoi(s, def string) int {
	if s == "" {
		s = def
	}
	i, err := strconv.Atoi(s)
	if err != nil {
		return 1
	}
	return i
}

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	metrics.Register()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// DB
	db, err := postgres.Connect(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("db: %v", err)
	}
	defer db.Close()
	if err := postgres.EnsureSchema(ctx, db); err != nil {
		log.Fatalf("db schema: %v", err)
	}

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	// Notification bus: the worker only publishes what it applies, so
	// it gets the publish-only variant and never re-reads the topic.
	kb := bus.NewKafkaPublisher(bus.KafkaBusConfig{
		Brokers: cfg.KafkaBrokers,
		Topic:   cfg.NotificationTopic,
		Degraded: func(reason string, err error) {
			metrics.BusDegraded.Set(1)
			log.Printf("bus degraded (%s): %v", reason, err)
		},
	})
	go func() {
		if err := kb.Run(ctx); err != nil {
			log.Printf("bus stopped: %v", err)
		}
	}()
	defer kb.Close()

	svc := &transitioner.Service{
		Orders: &orders.Service{
			Store: &orders.Repo{DB: db},
			Bus:   kb,
			Table: orders.DefaultTable(),
			Name:  cfg.ServiceName + "-transitioner",
		},
		Dedup: &transitioner.RedisDedup{RDB: rdb, Name: "transitioner"},
	}

	// Command consumer: shared group, work is split across workers
	group := getenv("TRANSITIONER_GROUP", "transitioner-svc")
	workers := mustAtoi(os.Getenv("TRANSITIONER_WORKERS"), "8")
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, group, cfg.TransitionTopic, workers)

	go func() {
		log.Printf("transitioner started: group=%s topic=%s workers=%d", group, cfg.TransitionTopic, workers)
		if err := cons.Start(ctx, svc.HandleTransitionRequested); err != nil {
			log.Printf("consumer exit: %v", err)
			cancel()
		}
	}()

	// graceful shutdown
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Println("shutting down consumer...")
	cancel()
	time.Sleep(500 * time.Millisecond)
}

func getenv(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}
