package kafka

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/segmentio/kafka-go"

	"MarketMaker/pkg/logger"
)

// MessageHandler handles messages from a specific topic.
type MessageHandler interface {
	Topic() string
	Handle(context.Context, []byte) error
}

// Consumer reads each registered topic on its own goroutine and handles messages strictly in
// offset order, which replayed market data depends on.
type Consumer struct {
	cfg      *ConsumerConfig
	handlers map[string]MessageHandler
	readers  map[string]*kafka.Reader
	dlq      *kafka.Writer
	hook     ConsumerHook
	log      *logger.Logger

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// NewConsumer creates a new Kafka consumer.
func NewConsumer(log *logger.Logger, opts ...ConsumerOption) (*Consumer, error) {
	cfg := &ConsumerConfig{
		GroupID:    "default",
		RetryMax:   3,
		BackoffMin: 50 * time.Millisecond,
		BackoffMax: 2 * time.Second,
		MinBytes:   1,
		MaxBytes:   10e6,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("brokers are required")
	}

	ctx, cancel := context.WithCancel(context.Background())
	c := &Consumer{
		cfg:      cfg,
		handlers: make(map[string]MessageHandler),
		readers:  make(map[string]*kafka.Reader),
		hook:     NoopHook{},
		log:      log.Component("kafka_consumer"),
		ctx:      ctx,
		cancel:   cancel,
	}
	if cfg.DLQTopic != "" {
		c.dlq = &kafka.Writer{Addr: kafka.TCP(cfg.Brokers...), Balancer: &kafka.LeastBytes{}}
	}
	initConsumerMetricsOnce()
	return c, nil
}

// WithConsumerHook sets a hook implementation for lifecycle events.
func (c *Consumer) WithConsumerHook(h ConsumerHook) {
	if h != nil {
		c.hook = h
	}
}

// RegisterHandler registers a handler for its topic. A second handler for the same topic is ignored.
func (c *Consumer) RegisterHandler(handler MessageHandler) {
	topic := handler.Topic()
	if _, ok := c.handlers[topic]; ok {
		c.log.Warn("handler already registered", logger.String("topic", topic))
		return
	}
	c.handlers[topic] = handler
}

// Start opens a reader per registered topic.
func (c *Consumer) Start() error {
	if len(c.handlers) == 0 {
		return fmt.Errorf("no handlers registered")
	}
	for topic, handler := range c.handlers {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:  c.cfg.Brokers,
			Topic:    topic,
			GroupID:  c.cfg.GroupID,
			MinBytes: c.cfg.MinBytes,
			MaxBytes: c.cfg.MaxBytes,
		})
		c.readers[topic] = reader
		c.wg.Add(1)
		go c.consume(topic, reader, handler)
	}
	c.log.Info("consumer started", logger.Int("topics", len(c.readers)), logger.String("group", c.cfg.GroupID))
	return nil
}

// Stop cancels the readers and waits for in-flight messages, bounded by ctx.
func (c *Consumer) Stop(ctx context.Context) error {
	var stopErr error
	c.stopOnce.Do(func() {
		c.cancel()
		done := make(chan struct{})
		go func() {
			c.wg.Wait()
			close(done)
		}()
		select {
		case <-ctx.Done():
			stopErr = fmt.Errorf("timeout waiting for consumer to stop: %w", ctx.Err())
		case <-done:
		}
		for topic, reader := range c.readers {
			if err := reader.Close(); err != nil {
				c.log.Warn("reader close failed", logger.String("topic", topic), logger.Error(err))
			}
		}
		if c.dlq != nil {
			if err := c.dlq.Close(); err != nil {
				c.log.Warn("dlq close failed", logger.Error(err))
			}
		}
	})
	return stopErr
}

func (c *Consumer) consume(topic string, reader *kafka.Reader, handler MessageHandler) {
	defer c.wg.Done()
	for {
		km, err := reader.FetchMessage(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				return
			}
			c.log.Warn("fetch failed", logger.String("topic", topic), logger.Error(err))
			if !sleepCtx(c.ctx, c.cfg.BackoffMin) {
				return
			}
			continue
		}

		start := time.Now()
		err = c.handle(c.ctx, topic, handler, km)
		consumerHandleLatency.WithLabelValues(topic).Observe(time.Since(start).Seconds())
		if err != nil && c.ctx.Err() != nil {
			return
		}
		if err != nil {
			consumerFailures.WithLabelValues(topic).Inc()
			c.log.Error("message failed", logger.String("topic", topic), logger.Int64("offset", km.Offset), logger.Error(err))
			if !c.deadLetter(topic, km) {
				// uncommitted; the group redelivers after a restart
				continue
			}
		}
		if err := reader.CommitMessages(c.ctx, km); err != nil && c.ctx.Err() == nil {
			c.log.Warn("commit failed", logger.String("topic", topic), logger.Error(err))
		}
	}
}

// handle runs the handler with hooks and retries and returns the last error.
func (c *Consumer) handle(ctx context.Context, topic string, handler MessageHandler, km kafka.Message) error {
	var err error
	for attempt := 1; ; attempt++ {
		hctx, hmsg, data, berr := c.hook.BeforeHandle(ctx, topic, km, km.Value)
		if berr != nil {
			c.hook.OnError(ctx, topic, km, km.Value, berr)
			return berr
		}
		err = handler.Handle(hctx, data)
		c.hook.AfterHandle(hctx, topic, hmsg, data, err)
		if err == nil {
			return nil
		}
		c.hook.OnError(hctx, topic, hmsg, data, err)
		if attempt > c.cfg.RetryMax {
			return err
		}
		if !sleepCtx(ctx, backoffWithJitter(c.cfg.BackoffMin, c.cfg.BackoffMax, attempt)) {
			return errors.Join(err, ctx.Err())
		}
	}
}

func (c *Consumer) deadLetter(topic string, km kafka.Message) bool {
	if c.dlq == nil {
		return false
	}
	err := c.dlq.WriteMessages(c.ctx, kafka.Message{
		Topic:   c.cfg.DLQTopic,
		Key:     km.Key,
		Value:   km.Value,
		Time:    time.Now(),
		Headers: []kafka.Header{{Key: "source_topic", Value: []byte(topic)}},
	})
	if err != nil {
		c.log.Error("dlq write failed", logger.String("dlq", c.cfg.DLQTopic), logger.Error(err))
		return false
	}
	return true
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

func backoffWithJitter(min, max time.Duration, attempt int) time.Duration {
	if min <= 0 {
		min = 50 * time.Millisecond
	}
	if max < min {
		max = min
	}
	exp := min << uint(attempt-1)
	if exp > max || exp <= 0 {
		exp = max
	}
	// jitter up to 50%
	half := int64(exp) / 2
	if half <= 0 {
		return exp
	}
	return exp - time.Duration(rand.Int63n(half))
}

var (
	consumerHandleLatency *prometheus.HistogramVec
	consumerFailures      *prometheus.CounterVec
	consumerOnce          sync.Once
)

func initConsumerMetricsOnce() {
	consumerOnce.Do(func() {
		consumerHandleLatency = promauto.NewHistogramVec(
			prometheus.HistogramOpts{Name: "mm_kafka_consumer_handle_seconds", Help: "Handling time per message"},
			[]string{"topic"},
		)
		consumerFailures = promauto.NewCounterVec(
			prometheus.CounterOpts{Name: "mm_kafka_consumer_failures_total", Help: "Messages that exhausted their retries"},
			[]string{"topic"},
		)
	})
}
