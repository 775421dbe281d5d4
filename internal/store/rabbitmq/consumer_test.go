package rabbitmq

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/shoshchat-widget/internal/chat"
)

type recordingAck struct {
	acks, nacks int
	requeue     bool
}

func (r *recordingAck) Ack(uint64, bool) error { r.acks++; return nil }

func (r *recordingAck) Nack(_ uint64, _ bool, requeue bool) error {
	r.nacks++
	r.requeue = requeue
	return nil
}

func (r *recordingAck) Reject(uint64, bool) error { return nil }

func delivery(ack amqp.Acknowledger, body string) amqp.Delivery {
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: 1, Body: []byte(body)}
}

func TestHandleDelivery_AcksHandledEvent(t *testing.T) {
	ack := &recordingAck{}
	var got chat.Event
	handleDelivery(context.Background(), delivery(ack, `{"type":"message_sent","tenant_id":"acme"}`), func(_ context.Context, ev chat.Event) error {
		got = ev
		return nil
	}, slog.Default())

	if ack.acks != 1 || ack.nacks != 0 {
		t.Fatalf("expected ack, got %+v", ack)
	}
	if got.Type != chat.EventMessageSent || got.TenantID != "acme" {
		t.Fatalf("unexpected event %+v", got)
	}
}

func TestHandleDelivery_DeadLettersFailures(t *testing.T) {
	ack := &recordingAck{}
	handleDelivery(context.Background(), delivery(ack, `garbage`), func(context.Context, chat.Event) error {
		t.Fatalf("handler must not run for bad messages")
		return nil
	}, slog.Default())
	if ack.nacks != 1 || ack.requeue {
		t.Fatalf("expected nack without requeue, got %+v", ack)
	}

	ack = &recordingAck{}
	handleDelivery(context.Background(), delivery(ack, `{"type":"reply_failed","tenant_id":"acme"}`), func(context.Context, chat.Event) error {
		return errors.New("boom")
	}, slog.Default())
	if ack.nacks != 1 || ack.acks != 0 || ack.requeue {
		t.Fatalf("expected handler failure to dead-letter, got %+v", ack)
	}
}

type signalAck struct {
	mu      sync.Mutex
	requeue bool
	done    chan struct{}
	once    sync.Once
}

func newSignalAck() *signalAck { return &signalAck{done: make(chan struct{})} }

func (s *signalAck) settle(requeue bool) {
	s.mu.Lock()
	s.requeue = requeue
	s.mu.Unlock()
	s.once.Do(func() { close(s.done) })
}

func (s *signalAck) Ack(uint64, bool) error { s.settle(false); return nil }

func (s *signalAck) Nack(_ uint64, _ bool, requeue bool) error { s.settle(requeue); return nil }

func (s *signalAck) Reject(uint64, bool) error { s.settle(false); return nil }

func TestServe_ShutdownDoesNotWaitBehindBusyWorkers(t *testing.T) {
	const body = `{"type":"message_sent","tenant_id":"acme"}`
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	started := make(chan struct{}, 1)
	release := make(chan struct{})
	handler := func(context.Context, chat.Event) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-release
		return nil
	}

	msgs := make(chan amqp.Delivery)
	served := make(chan error, 1)
	go func() { served <- serve(ctx, msgs, 1, handler, slog.Default()) }()

	// One delivery occupies the only worker, two fill the buffer and the last
	// one leaves the dispatcher waiting.
	msgs <- delivery(newSignalAck(), body)
	<-started
	msgs <- delivery(newSignalAck(), body)
	msgs <- delivery(newSignalAck(), body)
	stuck := newSignalAck()
	msgs <- delivery(stuck, body)

	cancel()
	select {
	case <-stuck.done:
	case <-time.After(2 * time.Second):
		t.Fatalf("dispatcher kept waiting for a worker after shutdown")
	}
	stuck.mu.Lock()
	requeued := stuck.requeue
	stuck.mu.Unlock()
	if !requeued {
		t.Fatalf("expected the undispatched delivery to be requeued")
	}

	close(release)
	select {
	case err := <-served:
		if err != nil {
			t.Fatalf("serve: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("serve did not return after in-flight work finished")
	}
}

func TestServe_ReturnsWhenDeliveriesClose(t *testing.T) {
	msgs := make(chan amqp.Delivery)
	close(msgs)
	if err := serve(context.Background(), msgs, 2, func(context.Context, chat.Event) error { return nil }, slog.Default()); !errors.Is(err, amqp.ErrClosed) {
		t.Fatalf("expected amqp.ErrClosed, got %v", err)
	}
}
