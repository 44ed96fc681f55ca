package progress

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
)

// DefaultSubject is the NATS subject and Redis channel events are published on.
const DefaultSubject = "issuesync.progress"

type natsPublisher interface {
	Publish(subject string, data []byte) error
	Close()
}

// NATSSink publishes events to a NATS subject.
type NATSSink struct {
	conn    natsPublisher
	subject string
}

// NewNATSSink connects to the NATS server at address.
func NewNATSSink(address, subject string) (*NATSSink, error) {
	if address == "" {
		address = nats.DefaultURL
	}
	if subject == "" {
		subject = DefaultSubject
	}
	conn, err := nats.Connect(address)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &NATSSink{conn: conn, subject: subject}, nil
}

// Emit implements Sink.
func (s *NATSSink) Emit(ctx context.Context, event Event) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return s.conn.Publish(s.subject, raw)
}

// Close closes the connection.
func (s *NATSSink) Close() error {
	s.conn.Close()
	return nil
}

type redisPublisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
	Close() error
}

// RedisSink publishes events to a Redis pub/sub channel.
type RedisSink struct {
	client  redisPublisher
	channel string
}

// NewRedisSink creates a sink for the Redis server at a redis:// URL.
// No connection is made until the first publish.
func NewRedisSink(address, channel string) (*RedisSink, error) {
	if address == "" {
		address = "redis://127.0.0.1:6379"
	}
	if channel == "" {
		channel = DefaultSubject
	}
	options, err := redis.ParseURL(address)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisSink{client: redis.NewClient(options), channel: channel}, nil
}

// Emit implements Sink.
func (s *RedisSink) Emit(ctx context.Context, event Event) error {
	raw, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return s.client.Publish(ctx, s.channel, raw).Err()
}

// Close closes the client.
func (s *RedisSink) Close() error {
	return s.client.Close()
}

// Open builds a sink from a target string:
//
//	nats://host:4222    NATSSink
//	redis://host:6379   RedisSink
//	file:path.jsonl     FileSink
//	log                 LogSink on the default logger
func Open(target string) (Sink, error) {
	switch {
	case target == "log":
		return LogSink{}, nil
	case strings.HasPrefix(target, "nats://"):
		return NewNATSSink(target, "")
	case strings.HasPrefix(target, "redis://"), strings.HasPrefix(target, "rediss://"):
		return NewRedisSink(target, "")
	case strings.HasPrefix(target, "file:"):
		path := strings.TrimPrefix(target, "file:")
		if path == "" {
			return nil, fmt.Errorf("progress sink %q: empty file path", target)
		}
		return NewFileSink(path), nil
	default:
		return nil, fmt.Errorf("unknown progress sink %q (want log, file:<path>, nats:// or redis://)", target)
	}
}
