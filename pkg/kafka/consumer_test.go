package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"

	"MarketMaker/pkg/logger"
)

type flakyHandler struct {
	failures int
	calls    int
	last     []byte
}

func (h *flakyHandler) Topic() string { return "mm.snapshots" }

func (h *flakyHandler) Handle(_ context.Context, b []byte) error {
	h.calls++
	h.last = b
	if h.calls <= h.failures {
		return errors.New("transient")
	}
	return nil
}

func newTestConsumer(t *testing.T, retries int) *Consumer {
	t.Helper()
	c, err := NewConsumer(logger.NewNop(),
		WithConsumerBrokers([]string{"localhost:9092"}),
		WithConsumerRetry(retries, time.Millisecond, 2*time.Millisecond))
	if err != nil {
		t.Fatalf("new consumer: %v", err)
	}
	return c
}

func TestConsumerRequiresBrokers(t *testing.T) {
	if _, err := NewConsumer(logger.NewNop()); err == nil {
		t.Fatalf("expected an error without brokers")
	}
}

func TestHandleRetriesUntilSuccess(t *testing.T) {
	c := newTestConsumer(t, 3)
	h := &flakyHandler{failures: 2}
	var errs int
	c.WithConsumerHook(HookFuncs{Err: func(context.Context, string, kafka.Message, []byte, error) { errs++ }})

	if err := c.handle(context.Background(), h.Topic(), h, kafka.Message{Value: []byte(`{"step":1}`)}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if h.calls != 3 || errs != 2 {
		t.Fatalf("calls=%d errs=%d, want 3 and 2", h.calls, errs)
	}
}

func TestHandleGivesUpAfterRetries(t *testing.T) {
	c := newTestConsumer(t, 1)
	h := &flakyHandler{failures: 10}
	if err := c.handle(context.Background(), h.Topic(), h, kafka.Message{}); err == nil {
		t.Fatalf("expected failure")
	}
	if h.calls != 2 {
		t.Fatalf("calls = %d, want 2", h.calls)
	}
}

func TestBeforeHookRewritesPayload(t *testing.T) {
	c := newTestConsumer(t, 0)
	c.WithConsumerHook(HookFuncs{Before: func(ctx context.Context, _ string, km kafka.Message, _ []byte) (context.Context, kafka.Message, []byte, error) {
		return ctx, km, []byte("rewritten"), nil
	}})
	h := &flakyHandler{}
	if err := c.handle(context.Background(), h.Topic(), h, kafka.Message{Value: []byte("raw")}); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if string(h.last) != "rewritten" {
		t.Fatalf("handler saw %q", h.last)
	}
}

func TestBackoffWithJitterBounds(t *testing.T) {
	for attempt := 1; attempt <= 10; attempt++ {
		d := backoffWithJitter(10*time.Millisecond, 80*time.Millisecond, attempt)
		if d <= 0 || d > 80*time.Millisecond {
			t.Fatalf("attempt %d: backoff %v out of range", attempt, d)
		}
	}
}

func TestCodecFor(t *testing.T) {
	if c, err := codecFor("zstd"); err != nil || c != kafka.Zstd {
		t.Fatalf("zstd: %v %v", c, err)
	}
	for _, off := range []string{"", "none"} {
		if c, err := codecFor(off); err != nil || c != 0 {
			t.Fatalf("%q must disable compression, got %v %v", off, c, err)
		}
	}
	if _, err := codecFor("brotli"); err == nil {
		t.Fatalf("expected error for unknown codec")
	}
}

func TestNewMessageEncodesByType(t *testing.T) {
	at := time.Unix(100, 0)
	msg, err := newMessage("mm.events", []byte("s1"), map[string]int{"step": 3}, at)
	if err != nil {
		t.Fatalf("newMessage: %v", err)
	}
	if string(msg.Value) != `{"step":3}` || string(msg.Key) != "s1" || !msg.Time.Equal(at) {
		t.Fatalf("unexpected message %+v", msg)
	}
	if len(msg.Headers) != 1 || string(msg.Headers[0].Value) != "application/json" {
		t.Fatalf("headers = %+v", msg.Headers)
	}
	raw, _ := newMessage("mm.events", nil, []byte{1, 2}, at)
	if string(raw.Headers[0].Value) != "application/octet-stream" || len(raw.Value) != 2 {
		t.Fatalf("raw message %+v", raw)
	}
	if _, err := newMessage("mm.events", nil, make(chan int), at); err == nil {
		t.Fatalf("expected encode error")
	}
}
