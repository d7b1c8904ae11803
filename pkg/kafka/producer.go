package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"
)

// codecs maps config names to writer codecs. "none" and "" leave compression off.
var codecs = map[string]kafka.Compression{
	"gzip":   kafka.Gzip,
	"snappy": kafka.Snappy,
	"lz4":    kafka.Lz4,
	"zstd":   kafka.Zstd,
}

func codecFor(name string) (kafka.Compression, error) {
	if name == "" || name == "none" {
		return 0, nil
	}
	c, ok := codecs[name]
	if !ok {
		return 0, fmt.Errorf("unknown compression %q", name)
	}
	return c, nil
}

type producerMetrics struct {
	messages *prometheus.CounterVec
	bytes    *prometheus.CounterVec
	latency  *prometheus.HistogramVec
}

var (
	pmOnce sync.Once
	pm     *producerMetrics
)

func sharedProducerMetrics() *producerMetrics {
	pmOnce.Do(func() {
		pm = &producerMetrics{
			messages: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "mm_kafka_producer_messages_total",
				Help: "Messages published to Kafka",
			}, []string{"topic", "result"}),
			bytes: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "mm_kafka_producer_bytes_total",
				Help: "Payload bytes published",
			}, []string{"topic"}),
			latency: promauto.NewHistogramVec(prometheus.HistogramOpts{
				Name:    "mm_kafka_producer_publish_seconds",
				Help:    "Publish latency",
				Buckets: prometheus.DefBuckets,
			}, []string{"topic"}),
		}
	})
	return pm
}

// Producer publishes engine events and log batches through a kafka-go writer.
type Producer struct {
	writer  *kafka.Writer
	metrics *producerMetrics
}

// NewProducer builds a writer from opts. Brokers are required.
func NewProducer(opts ...ProducerOption) (*Producer, error) {
	cfg := defaultProducerConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka producer: no brokers")
	}
	codec, err := codecFor(cfg.Compression)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}

	var balancer kafka.Balancer = &kafka.LeastBytes{}
	if cfg.HashByKey {
		balancer = &kafka.Hash{}
	}
	return &Producer{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Balancer:     balancer,
			Compression:  codec,
			RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
			MaxAttempts:  cfg.MaxAttempts,
			WriteTimeout: cfg.WriteTimeout,
			ReadTimeout:  cfg.ReadTimeout,
			BatchSize:    cfg.BatchSize,
			BatchBytes:   int64(cfg.BatchBytes),
			BatchTimeout: cfg.BatchTimeout,
			Async:        cfg.Async,
		},
		metrics: sharedProducerMetrics(),
	}, nil
}

// Publish sends one message keyed by key. Values other than []byte and string are JSON encoded.
func (p *Producer) Publish(ctx context.Context, topic string, key []byte, value interface{}) error {
	msg, err := newMessage(topic, key, value, time.Now())
	if err != nil {
		return err
	}
	err = p.writer.WriteMessages(ctx, msg)

	result := "ok"
	if err != nil {
		result = "error"
	}
	p.metrics.messages.WithLabelValues(topic, result).Inc()
	p.metrics.bytes.WithLabelValues(topic).Add(float64(len(msg.Value)))
	p.metrics.latency.WithLabelValues(topic).Observe(time.Since(msg.Time).Seconds())
	if err != nil {
		return fmt.Errorf("kafka publish %s: %w", topic, err)
	}
	return nil
}

// Close flushes pending batches.
func (p *Producer) Close() error {
	return p.writer.Close()
}

func newMessage(topic string, key []byte, value interface{}, at time.Time) (kafka.Message, error) {
	contentType := "application/json"
	var body []byte
	switch v := value.(type) {
	case []byte:
		body, contentType = v, "application/octet-stream"
	case string:
		body, contentType = []byte(v), "text/plain"
	default:
		b, err := json.Marshal(value)
		if err != nil {
			return kafka.Message{}, fmt.Errorf("encode %s message: %w", topic, err)
		}
		body = b
	}
	return kafka.Message{
		Topic:   topic,
		Key:     key,
		Value:   body,
		Time:    at,
		Headers: []kafka.Header{{Key: "content-type", Value: []byte(contentType)}},
	}, nil
}
