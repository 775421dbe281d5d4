// Package app builds the widget's runtime dependencies from configuration.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/suPer8Hu/shoshchat-widget/internal/account"
	"github.com/suPer8Hu/shoshchat-widget/internal/apiclient"
	"github.com/suPer8Hu/shoshchat-widget/internal/auth"
	"github.com/suPer8Hu/shoshchat-widget/internal/chat"
	"github.com/suPer8Hu/shoshchat-widget/internal/config"
	"github.com/suPer8Hu/shoshchat-widget/internal/store/kv"
	"github.com/suPer8Hu/shoshchat-widget/internal/store/rabbitmq"
	"github.com/suPer8Hu/shoshchat-widget/internal/tenant"
)

// NewLogger returns a JSON logger at the given level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// OpenStorage opens the configured key/value backend.
func OpenStorage(ctx context.Context, cfg config.Config) (kv.Store, error) {
	switch cfg.StorageDriver {
	case "memory":
		return kv.NewStore(kv.StoreTypeMemory)
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := client.Ping(pctx).Err(); err != nil {
			_ = client.Close()
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		return kv.NewStore(kv.StoreTypeRedis, kv.WithRedisClient(client), kv.WithRedisPrefix(cfg.RedisPrefix), kv.WithTTL(cfg.RedisTTL))
	case "sqlite", "mysql":
		dsn := cfg.DBDSN
		if cfg.StorageDriver == "sqlite" {
			dsn = cfg.SQLitePath
		}
		db, err := kv.OpenDB(cfg.StorageDriver, dsn)
		if err != nil {
			return nil, err
		}
		return kv.NewStore(kv.StoreTypeSQL, kv.WithDB(db))
	default:
		return nil, kv.ErrInvalidStoreType
	}
}

// EventSink returns the RabbitMQ publisher, or a no-op sink when RABBIT_URL is
// unset. The returned close func is never nil.
func EventSink(cfg config.Config, logger *slog.Logger) (chat.EventSink, func() error, error) {
	if cfg.RabbitURL == "" {
		return chat.NopSink{}, func() error { return nil }, nil
	}
	p, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
	if err != nil {
		return nil, nil, fmt.Errorf("rabbitmq: %w", err)
	}
	logger.Info("publishing chat events", "queue", cfg.RabbitQueue)
	return p, p.Close, nil
}

// Widget is the assembled client side: session, pipeline, conversation and
// dashboard.
type Widget struct {
	Store      kv.Store
	Lifecycle  *auth.Lifecycle
	API        *apiclient.Client
	Controller *chat.Controller
	Tenants    *tenant.Client
	Accounts   *account.Client

	closeSink func() error
}

func NewWidget(ctx context.Context, cfg config.Config, store kv.Store, sink chat.EventSink, logger *slog.Logger) *Widget {
	httpClient := &http.Client{}
	sessions := auth.NewSessionStore(store, logger)
	life := auth.NewLifecycle(cfg.APIBaseURL, sessions,
		auth.WithHTTPClient(&http.Client{Timeout: cfg.HTTPTimeout}), auth.WithLogger(logger))
	api := apiclient.New(cfg.APIBaseURL, life,
		apiclient.WithHTTPClient(httpClient), apiclient.WithTimeout(cfg.HTTPTimeout), apiclient.WithLogger(logger))
	ctrl := chat.NewController(ctx, cfg.TenantID, api, life, chat.NewHistoryStore(store, logger),
		chat.WithEventSink(sink), chat.WithLogger(logger))
	return &Widget{
		Store:      store,
		Lifecycle:  life,
		API:        api,
		Controller: ctrl,
		Tenants:    tenant.New(api, life),
		Accounts:   account.New(api),
	}
}

// Open builds a Widget and everything it depends on from cfg.
func Open(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Widget, error) {
	store, err := OpenStorage(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}
	sink, closeSink, err := EventSink(cfg, logger)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	w := NewWidget(ctx, cfg, store, sink, logger)
	w.closeSink = closeSink
	return w, nil
}

func (w *Widget) Close() error {
	w.Controller.Close()
	var sinkErr error
	if w.closeSink != nil {
		sinkErr = w.closeSink()
	}
	if err := w.Store.Close(); err != nil {
		return err
	}
	return sinkErr
}
