// Package nats implements the invalidation transport over NATS JetStream,
// and exposes the connection for the KV-backed L2 cache and the node agent
// request-reply channel.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/hostwarden/hostwarden/internal/domain/invalidation"
)

const (
	streamName    = "HOSTWARDEN"
	subjectPrefix = "invalidations."
)

// Conn holds the NATS connection and JetStream context.
type Conn struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// Connect establishes a connection to NATS and ensures the invalidation
// stream exists.
func Connect(ctx context.Context, url string) (*Conn, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	_, err = js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     streamName,
		Subjects: []string{subjectPrefix + ">"},
		// Invalidations are only useful to live sessions; bound retention.
		MaxAge: time.Hour,
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream stream create: %w", err)
	}

	slog.Info("nats connected", "url", url, "stream", streamName)
	return &Conn{nc: nc, js: js}, nil
}

// Publish sends one invalidation message on the table's subject.
func (c *Conn) Publish(ctx context.Context, msg invalidation.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal invalidation: %w", err)
	}
	if _, err := c.js.Publish(ctx, subjectPrefix+msg.Table, data); err != nil {
		return fmt.Errorf("publish invalidation %s: %w", msg.Table, err)
	}
	return nil
}

// Subscribe delivers every invalidation message to handler. Each process
// uses its own ephemeral consumer so every live session observes every
// message (fan-out, not work-sharing). Handler errors Nak the message for
// redelivery; consumers must therefore evict idempotently.
func (c *Conn) Subscribe(ctx context.Context, handler func(invalidation.Message) error) (func(), error) {
	consumer, err := c.js.CreateOrUpdateConsumer(ctx, streamName, jetstream.ConsumerConfig{
		FilterSubject: subjectPrefix + ">",
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverNewPolicy,
	})
	if err != nil {
		return nil, fmt.Errorf("invalidation consumer create: %w", err)
	}

	cons, err := consumer.Consume(func(m jetstream.Msg) {
		var msg invalidation.Message
		if err := json.Unmarshal(m.Data(), &msg); err != nil {
			slog.Error("invalidation decode failed", "subject", m.Subject(), "error", err)
			_ = m.Term()
			return
		}
		if err := handler(msg); err != nil {
			slog.Error("invalidation handler failed", "table", msg.Table, "error", err)
			if nakErr := m.Nak(); nakErr != nil {
				slog.Error("nats nak failed", "error", nakErr)
			}
			return
		}
		if ackErr := m.Ack(); ackErr != nil {
			slog.Error("nats ack failed", "error", ackErr)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("invalidation consume: %w", err)
	}

	return cons.Stop, nil
}

// KeyValue creates or binds the JetStream KV bucket used as the L2 cache.
func (c *Conn) KeyValue(ctx context.Context, bucket string, ttl time.Duration) (jetstream.KeyValue, error) {
	kv, err := c.js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: bucket,
		TTL:    ttl,
	})
	if err != nil {
		return nil, fmt.Errorf("kv bucket %s: %w", bucket, err)
	}
	return kv, nil
}

// Request performs a core NATS request-reply roundtrip. Used by the node
// agent connector; the context deadline bounds the call.
func (c *Conn) Request(ctx context.Context, subject string, data []byte) ([]byte, error) {
	msg, err := c.nc.RequestWithContext(ctx, subject, data)
	if err != nil {
		return nil, err
	}
	return msg.Data, nil
}

// Close shuts down the NATS connection.
func (c *Conn) Close() error {
	c.nc.Close()
	return nil
}
