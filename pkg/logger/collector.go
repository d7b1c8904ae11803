package logger

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"
	"time"
)

const publishTimeout = 10 * time.Second

// Publisher ships aggregated log batches, e.g. onto the engine event bus.
type Publisher interface {
	PublishMessage(ctx context.Context, topic string, payload interface{}) error
}

// CollectionConfig controls when collected entries are shipped.
type CollectionConfig struct {
	TimeInterval   time.Duration // flush period, 30s when unset
	CountThreshold int           // distinct entries that force a flush, 100 when unset
	Topic          string
	Publisher      Publisher
}

// AggregatedLogEntry is one distinct log line and how often it was seen.
type AggregatedLogEntry struct {
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Fields    map[string]interface{} `json:"fields"`
	Caller    string                 `json:"caller"`
	Count     int                    `json:"count"`
	FirstSeen time.Time              `json:"first_seen"`
	LastSeen  time.Time              `json:"last_seen"`
}

// LogCollector folds repeated error logs into counted entries and ships them in batches.
type LogCollector struct {
	cfg CollectionConfig

	mu      sync.Mutex
	entries map[string]*AggregatedLogEntry
	order   []string

	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

func NewLogCollector(cfg *CollectionConfig) *LogCollector {
	c := &LogCollector{
		cfg:     *cfg,
		entries: make(map[string]*AggregatedLogEntry),
		stop:    make(chan struct{}),
	}
	if c.cfg.TimeInterval <= 0 {
		c.cfg.TimeInterval = 30 * time.Second
	}
	if c.cfg.CountThreshold <= 0 {
		c.cfg.CountThreshold = 100
	}
	c.wg.Add(1)
	go c.run()
	return c
}

// AddLog records one occurrence. Entries with the same level, caller, message and fields share a
// counter.
func (c *LogCollector) AddLog(level, message string, fields map[string]interface{}, caller string) {
	now := time.Now()
	key := entryKey(level, message, fields, caller)

	c.mu.Lock()
	if e, ok := c.entries[key]; ok {
		e.Count++
		e.LastSeen = now
	} else {
		c.entries[key] = &AggregatedLogEntry{
			Level:     level,
			Message:   message,
			Fields:    fields,
			Caller:    caller,
			Count:     1,
			FirstSeen: now,
			LastSeen:  now,
		}
		c.order = append(c.order, key)
	}
	var batch []AggregatedLogEntry
	if len(c.entries) >= c.cfg.CountThreshold {
		batch = c.takeLocked()
	}
	c.mu.Unlock()

	c.ship(batch)
}

func entryKey(level, message string, fields map[string]interface{}, caller string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(level)
	b.WriteByte('|')
	b.WriteString(caller)
	b.WriteByte('|')
	b.WriteString(message)
	for _, k := range keys {
		fmt.Fprintf(&b, "|%s=%v", k, fields[k])
	}
	return b.String()
}

func (c *LogCollector) run() {
	defer c.wg.Done()
	ticker := time.NewTicker(c.cfg.TimeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.flush()
		case <-c.stop:
			c.flush()
			return
		}
	}
}

func (c *LogCollector) flush() {
	c.mu.Lock()
	batch := c.takeLocked()
	c.mu.Unlock()
	c.ship(batch)
}

// takeLocked empties the collector and returns its entries in first-seen order.
func (c *LogCollector) takeLocked() []AggregatedLogEntry {
	if len(c.order) == 0 {
		return nil
	}
	batch := make([]AggregatedLogEntry, 0, len(c.order))
	for _, k := range c.order {
		batch = append(batch, *c.entries[k])
	}
	c.entries = make(map[string]*AggregatedLogEntry)
	c.order = c.order[:0]
	return batch
}

// ship publishes in the background so a slow bus never blocks the caller that logged.
func (c *LogCollector) ship(batch []AggregatedLogEntry) {
	if len(batch) == 0 || c.cfg.Publisher == nil {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
		defer cancel()
		if err := c.cfg.Publisher.PublishMessage(ctx, c.cfg.Topic, batch); err != nil {
			// the logger itself would feed back into this collector
			fmt.Fprintf(os.Stderr, "log collector: publish %d entries to %s: %v\n", len(batch), c.cfg.Topic, err)
		}
	}()
}

// Close flushes what is left and waits for in-flight batches.
func (c *LogCollector) Close() {
	c.once.Do(func() { close(c.stop) })
	c.wg.Wait()
}
