package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"MarketMaker/internal/domain/models"
	domrepo "MarketMaker/internal/domain/repository"
	"MarketMaker/pkg/logger"
)

// KafkaWriter is the producer surface the Kafka publisher needs.
type KafkaWriter interface {
	Publish(ctx context.Context, topic string, key []byte, value interface{}) error
	Close() error
}

// KafkaEventPublisher publishes engine events keyed by session id, so one session stays on
// one partition and in order.
type KafkaEventPublisher struct {
	producer KafkaWriter
	topic    string
}

var (
	_ domrepo.EventPublisher = (*KafkaEventPublisher)(nil)
	_ logger.Publisher       = (*KafkaEventPublisher)(nil)
)

func NewKafkaEventPublisher(producer KafkaWriter, topic string) *KafkaEventPublisher {
	return &KafkaEventPublisher{producer: producer, topic: topic}
}

func (p *KafkaEventPublisher) Publish(ctx context.Context, evt *models.EngineEvent) error {
	return p.producer.Publish(ctx, p.topic, []byte(evt.SessionID), evt)
}

// PublishMessage ships an arbitrary payload, such as aggregated logs.
func (p *KafkaEventPublisher) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return p.producer.Publish(ctx, topic, nil, payload)
}

func (p *KafkaEventPublisher) Close() error {
	if p.producer != nil {
		return p.producer.Close()
	}
	return nil
}

// NATSConfig configures the NATS publisher.
type NATSConfig struct {
	URL           string
	Name          string
	Prefix        string
	JetStream     bool
	Stream        string
	Timeout       time.Duration
	ReconnectWait time.Duration
	MaxReconnects int
}

// NATSEventPublisher publishes engine events on <prefix>.<kind> subjects, through JetStream
// when enabled and core NATS otherwise.
type NATSEventPublisher struct {
	nc     *nats.Conn
	js     nats.JetStreamContext
	prefix string
	log    *logger.Logger
}

var (
	_ domrepo.EventPublisher = (*NATSEventPublisher)(nil)
	_ logger.Publisher       = (*NATSEventPublisher)(nil)
)

// NewNATSEventPublisher connects and, with JetStream on, ensures the stream exists.
func NewNATSEventPublisher(cfg NATSConfig, log *logger.Logger) (*NATSEventPublisher, error) {
	l := log.Component("nats")
	nc, err := nats.Connect(cfg.URL,
		nats.Name(cfg.Name),
		nats.Timeout(cfg.Timeout),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			l.Warn("nats disconnected", logger.Error(err))
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			l.Info("nats reconnected", logger.String("url", c.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	p := &NATSEventPublisher{nc: nc, prefix: cfg.Prefix, log: l}
	if cfg.JetStream {
		js, err := nc.JetStream()
		if err != nil {
			nc.Close()
			return nil, fmt.Errorf("jetstream context: %w", err)
		}
		if _, err := js.StreamInfo(cfg.Stream); err != nil {
			_, err = js.AddStream(&nats.StreamConfig{Name: cfg.Stream, Subjects: []string{cfg.Prefix + ".>"}})
			if err != nil {
				nc.Close()
				return nil, fmt.Errorf("jetstream stream %s: %w", cfg.Stream, err)
			}
		}
		p.js = js
	}
	l.Info("nats publisher ready", logger.String("url", nc.ConnectedUrl()), logger.Bool("jetstream", cfg.JetStream))
	return p, nil
}

func (p *NATSEventPublisher) Publish(ctx context.Context, evt *models.EngineEvent) error {
	return p.publish(ctx, subject(p.prefix, evt.Kind), evt)
}

// PublishMessage ships an arbitrary payload on topic, used as a subject verbatim.
func (p *NATSEventPublisher) PublishMessage(ctx context.Context, topic string, payload interface{}) error {
	return p.publish(ctx, topic, payload)
}

func (p *NATSEventPublisher) publish(ctx context.Context, subj string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if p.js != nil {
		if _, err := p.js.Publish(subj, data, nats.Context(ctx)); err != nil {
			return fmt.Errorf("jetstream publish %s: %w", subj, err)
		}
		return nil
	}
	if err := p.nc.Publish(subj, data); err != nil {
		return fmt.Errorf("nats publish %s: %w", subj, err)
	}
	return nil
}

// Close drains pending messages and closes the connection.
func (p *NATSEventPublisher) Close() error {
	if p.nc == nil {
		return nil
	}
	return p.nc.Drain()
}

func subject(prefix, kind string) string {
	kind = strings.ReplaceAll(kind, ".", "_")
	if prefix == "" {
		return kind
	}
	return prefix + "." + kind
}
