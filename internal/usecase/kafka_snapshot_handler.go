package usecase

import (
	"context"
	"encoding/json"
	"fmt"

	"MarketMaker/internal/domain/models"
	domrepo "MarketMaker/internal/domain/repository"
	pkgkafka "MarketMaker/pkg/kafka"
)

// SnapshotSink accepts snapshots for processing.
type SnapshotSink interface {
	SubmitSnapshot(ctx context.Context, snap *models.MarketSnapshot) error
}

// KafkaSnapshotHandler feeds recorded snapshots from a Kafka topic into the pipeline.
type KafkaSnapshotHandler struct {
	topic   string
	sink    SnapshotSink
	metrics domrepo.Metrics
}

func NewKafkaSnapshotHandler(topic string, sink SnapshotSink, metrics domrepo.Metrics) *KafkaSnapshotHandler {
	return &KafkaSnapshotHandler{topic: topic, sink: sink, metrics: metrics}
}

func (h *KafkaSnapshotHandler) Topic() string { return h.topic }

// Handle decodes one snapshot. Malformed payloads are reported and not retried by the sink.
func (h *KafkaSnapshotHandler) Handle(ctx context.Context, b []byte) error {
	var snap models.MarketSnapshot
	if err := json.Unmarshal(b, &snap); err != nil {
		h.metrics.RecordError("replay_unmarshal")
		return fmt.Errorf("decode snapshot: %w", err)
	}
	if err := h.sink.SubmitSnapshot(ctx, &snap); err != nil {
		h.metrics.RecordError("replay_submit")
		return fmt.Errorf("submit snapshot %d: %w", snap.Step, err)
	}
	return nil
}

var _ pkgkafka.MessageHandler = (*KafkaSnapshotHandler)(nil)
