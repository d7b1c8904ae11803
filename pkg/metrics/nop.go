package metrics

import (
	"MarketMaker/internal/domain/models"
	"MarketMaker/internal/domain/repository"
)

var _ repository.Metrics = Nop{}

// Nop discards all metrics.
type Nop struct{}

func (Nop) RecordRegime(models.Regime) {}
func (Nop) RecordRegimeChange(models.Regime, models.Regime) {}
func (Nop) RecordOrder(string) {}
func (Nop) RecordCancel(string) {}
func (Nop) RecordFill(models.Side, models.FillQuality) {}
func (Nop) RecordFillLatency(float64) {}
func (Nop) RecordPosition(int, float64) {}
func (Nop) RecordOpenOrders(int) {}
func (Nop) RecordDeadTick() {}
func (Nop) RecordBreaker(bool) {}
func (Nop) RecordQueueDepth(int) {}
func (Nop) RecordError(string) {}
func (Nop) RecordLatency(string, float64) {}
