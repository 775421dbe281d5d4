package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/suPer8Hu/shoshchat-widget/internal/app"
	"github.com/suPer8Hu/shoshchat-widget/internal/chat"
	"github.com/suPer8Hu/shoshchat-widget/internal/config"
	"github.com/suPer8Hu/shoshchat-widget/internal/store/rabbitmq"
)

func workerConcurrency() int {
	v := os.Getenv("WORKER_CONCURRENCY")
	if v == "" {
		return 2
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 2
	}
	if n > 50 {
		return 50
	}
	return n
}

// tally counts events per tenant and type.
type tally struct {
	mu     sync.Mutex
	counts map[string]map[chat.EventType]int
}

func (t *tally) add(ev chat.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.counts[ev.TenantID] == nil {
		t.counts[ev.TenantID] = map[chat.EventType]int{}
	}
	t.counts[ev.TenantID][ev.Type]++
}

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(2)
	}
	logger := app.NewLogger(os.Stderr, cfg.LogLevel)
	if cfg.RabbitURL == "" {
		logger.Error("RABBIT_URL is required")
		os.Exit(2)
	}

	concurrency := workerConcurrency()
	consumer, err := rabbitmq.NewConsumer(cfg.RabbitURL, cfg.RabbitQueue, concurrency, logger)
	if err != nil {
		logger.Error("rabbit consumer", "error", err)
		os.Exit(1)
	}
	defer consumer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("event worker started", "queue", cfg.RabbitQueue, "concurrency", concurrency)

	seen := &tally{counts: map[string]map[chat.EventType]int{}}
	err = consumer.Run(ctx, func(_ context.Context, ev chat.Event) error {
		seen.add(ev)
		logger.Info("chat event",
			"type", ev.Type,
			"tenant", ev.TenantID,
			"message_id", ev.MessageID,
			"status", ev.Status,
			"occurred_at", ev.OccurredAt,
		)
		return nil
	})
	if err != nil {
		logger.Error("consumer stopped", "error", err)
	}

	seen.mu.Lock()
	for tenant, byType := range seen.counts {
		logger.Info("tenant summary", "tenant", tenant, "counts", byType)
	}
	seen.mu.Unlock()
}
