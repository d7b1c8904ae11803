package clickhouse

import (
	"context"
	"testing"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
)

func TestDriverOptions(t *testing.T) {
	cfg := defaultClientConfig()
	for _, opt := range []ClientOption{
		WithAddr("ch:9000"),
		WithAuth("marketmaker", "writer", "p@ss"),
		WithTimeouts(3*time.Second, 7*time.Second),
		WithSetting("async_insert", 1),
		WithSetting("wait_for_async_insert", 1),
		WithSetting("wait_for_async_insert", nil),
	} {
		opt(&cfg)
	}
	o := driverOptions(cfg)
	if len(o.Addr) != 1 || o.Addr[0] != "ch:9000" || o.Protocol != clickhouse.Native {
		t.Fatalf("unexpected endpoint %v %v", o.Addr, o.Protocol)
	}
	if o.Auth.Database != "marketmaker" || o.Auth.Username != "writer" || o.Auth.Password != "p@ss" {
		t.Fatalf("unexpected auth %+v", o.Auth)
	}
	if o.DialTimeout != 3*time.Second || o.ReadTimeout != 7*time.Second {
		t.Fatalf("timeouts = %v %v", o.DialTimeout, o.ReadTimeout)
	}
	if o.Settings["async_insert"] != 1 {
		t.Fatalf("settings = %v", o.Settings)
	}
	if _, ok := o.Settings["wait_for_async_insert"]; ok {
		t.Fatalf("removed setting still present: %v", o.Settings)
	}
}

func TestDriverOptionsHTTP(t *testing.T) {
	cfg := defaultClientConfig()
	WithHTTP(true)(&cfg)
	if o := driverOptions(cfg); o.Protocol != clickhouse.HTTP {
		t.Fatalf("protocol = %v, want HTTP", o.Protocol)
	}
}

func TestNewClientNeedsAddress(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	if _, err := NewClient(ctx); err == nil {
		t.Fatalf("expected error without address")
	}
}
