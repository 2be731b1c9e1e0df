package config

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/unclebandit/outreach-orchestrator/internal/alert"
	"github.com/unclebandit/outreach-orchestrator/internal/metrics"
	"github.com/unclebandit/outreach-orchestrator/internal/model"
	"github.com/unclebandit/outreach-orchestrator/internal/progress"
	"github.com/unclebandit/outreach-orchestrator/internal/transport"
)

func noopClose() error { return nil }

// OpenStore builds the configured progress store. sqlDB is used by the postgres
// store and may be nil otherwise. The returned func releases the backend.
func (c *Config) OpenStore(ctx context.Context, sqlDB *sql.DB) (progress.Store, func() error, error) {
	switch c.Progress.Store {
	case "postgres":
		if sqlDB == nil {
			return nil, nil, fmt.Errorf("postgres progress store needs a database connection")
		}
		return &progress.PostgresStore{DB: sqlDB, Key: c.Progress.Key}, noopClose, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     c.Redis.Addr,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := client.Ping(pingCtx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("connect to redis %s: %w", c.Redis.Addr, err)
		}
		return &progress.RedisStore{Client: client, Key: "progress:" + c.Progress.Key, TTL: c.Redis.TTL}, client.Close, nil
	case "badger":
		bdb, err := progress.OpenBadger(c.Badger.Dir)
		if err != nil {
			return nil, nil, err
		}
		return progress.NewBadgerStore(bdb, c.Progress.Key), bdb.Close, nil
	default:
		return progress.NewFileStore(c.Progress.File), noopClose, nil
	}
}

// OpenTransport builds the configured mail transport, wrapped in the circuit
// breaker when enabled.
func (c *Config) OpenTransport(logger zerolog.Logger) (transport.Transport, func() error, error) {
	var (
		t      transport.Transport
		closer = noopClose
	)
	switch c.Transport.Kind {
	case "amqp":
		a, err := transport.DialAMQP(c.AMQP.URL, c.AMQP.Queue, logger)
		if err != nil {
			return nil, nil, err
		}
		t, closer = a, a.Close
	default:
		m := transport.NewMockTransport(time.Now().UnixNano())
		m.SuccessRate = c.Transport.MockSuccessRate
		t = m
	}

	if c.Transport.Breaker {
		t = transport.NewBreaker(t, transport.DefaultBreakerConfig(), logger)
	}
	return t, closer, nil
}

// Notifier builds the alert notifier. With the transport channel, alerts go
// through t like any outreach email.
func (c *Config) Notifier(t transport.Transport, collector *metrics.Collector, logger zerolog.Logger) *alert.Notifier {
	var sender alert.EmailSender
	switch c.Alert.Channel {
	case "transport":
		sender = &alert.TransportSender{
			Transport: t,
			From:      model.SenderIdentity{Address: c.Alert.SMTP.From, Name: "Outreach alerts"},
			To:        c.Alert.SMTP.To,
		}
	default:
		sender = alert.NewSMTPSender(c.Alert.SMTP)
	}
	return alert.NewNotifier(sender,
		alert.WithWebhook(c.Alert.WebhookURL, nil),
		alert.WithMetrics(collector),
		alert.WithLogger(logger),
	)
}
