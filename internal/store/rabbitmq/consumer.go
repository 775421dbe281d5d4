package rabbitmq

import (
	"context"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/shoshchat-widget/internal/chat"
)

// Handler processes one event. A non-nil error dead-letters the delivery.
type Handler func(ctx context.Context, ev chat.Event) error

type Consumer struct {
	conn        *amqp.Connection
	ch          *amqp.Channel
	queue       string
	concurrency int
	logger      *slog.Logger
}

func NewConsumer(url, queue string, concurrency int, logger *slog.Logger) (*Consumer, error) {
	if concurrency <= 0 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	if err := DeclareQueues(ch, queue); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	//  strict concurrency control
	if err := ch.Qos(concurrency, 0, false); err != nil {
		_ = ch.Close()
		_ = conn.Close()
		return nil, err
	}
	return &Consumer{conn: conn, ch: ch, queue: queue, concurrency: concurrency, logger: logger}, nil
}

func (c *Consumer) Close() error {
	_ = c.ch.Close()
	return c.conn.Close()
}

// Run dispatches deliveries to a pool of workers until ctx ends.
func (c *Consumer) Run(ctx context.Context, h Handler) error {
	msgs, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return err
	}
	return serve(ctx, msgs, c.concurrency, h, c.logger)
}

// serve feeds msgs to concurrency workers. On shutdown it waits for in-flight
// handlers only; a delivery that has not reached a worker is requeued.
func serve(ctx context.Context, msgs <-chan amqp.Delivery, concurrency int, h Handler, logger *slog.Logger) error {
	jobs := make(chan amqp.Delivery, concurrency*2)
	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				handleDelivery(ctx, d, h, logger.With("worker", workerID))
			}
		}(i)
	}
	stop := func() {
		close(jobs)
		wg.Wait()
	}

	// dispatcher
	for {
		select {
		case <-ctx.Done():
			logger.Info("consumer shutting down")
			stop()
			return nil

		case d, ok := <-msgs:
			if !ok {
				logger.Warn("delivery channel closed")
				stop()
				return amqp.ErrClosed
			}
			select {
			case jobs <- d:
			case <-ctx.Done():
				_ = d.Nack(false, true)
				logger.Info("consumer shutting down")
				stop()
				return nil
			}
		}
	}
}

func handleDelivery(ctx context.Context, d amqp.Delivery, h Handler, logger *slog.Logger) {
	ev, err := DecodeEvent(d.Body)
	if err != nil {
		logger.Warn("bad event message", "error", err)
		_ = d.Nack(false, false)
		return
	}

	start := time.Now()
	if err := h(ctx, ev); err != nil {
		logger.Warn("event handler failed", "type", ev.Type, "tenant", ev.TenantID, "cost", time.Since(start), "error", err)
		_ = d.Nack(false, false)
		return
	}
	if err := d.Ack(false); err != nil {
		logger.Warn("ack failed", "type", ev.Type, "error", err)
	}
}
