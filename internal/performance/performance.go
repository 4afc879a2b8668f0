// Package performance records realized strategy performance and derives the
// Sharpe ratio consumed by auto-optimization decisions.
package performance

import (
	"fmt"

	"github.com/atlas-desktop/allocation-engine/internal/store"
	"github.com/atlas-desktop/allocation-engine/pkg/types"
	"go.uber.org/zap"
)

// Tracker persists strategy performance records.
type Tracker struct {
	logger *zap.Logger
}

// New creates a performance tracker.
func New(logger *zap.Logger) *Tracker {
	return &Tracker{logger: logger.Named("performance")}
}

// DeriveSharpe computes return*10000/volatility in 1e4 fixed point, or zero
// when volatility is zero.
func DeriveSharpe(totalReturnBps int64, volatilityBps uint32) int64 {
	if volatilityBps == 0 {
		return 0
	}
	return totalReturnBps * types.SharpeScale / int64(volatilityBps)
}

// Update validates and stores one performance record, deriving the Sharpe
// ratio. Operator gating happens in the engine.
func (t *Tracker) Update(txn *store.Txn, height uint64,
	strategyID uint64, totalReturnBps int64, volatilityBps, maxDrawdownBps, winRateBps uint32) (types.StrategyPerformance, error) {

	exists, err := txn.Has(store.StrategyKey(strategyID))
	if err != nil {
		return types.StrategyPerformance{}, err
	}
	if !exists {
		return types.StrategyPerformance{}, fmt.Errorf("%w: strategy %d", types.ErrNotFound, strategyID)
	}
	if winRateBps > types.BpsScale {
		return types.StrategyPerformance{}, fmt.Errorf("%w: win rate %d exceeds %d bps",
			types.ErrInvalidParameter, winRateBps, types.BpsScale)
	}

	perf := types.StrategyPerformance{
		StrategyID:     strategyID,
		TotalReturnBps: totalReturnBps,
		VolatilityBps:  volatilityBps,
		SharpeRatio:    DeriveSharpe(totalReturnBps, volatilityBps),
		MaxDrawdownBps: maxDrawdownBps,
		WinRateBps:     winRateBps,
		UpdatedAt:      height,
	}
	if err := txn.Put(store.PerformanceKey(strategyID), perf); err != nil {
		return types.StrategyPerformance{}, err
	}

	t.logger.Info("Performance updated",
		zap.Uint64("strategyId", strategyID),
		zap.Int64("totalReturnBps", totalReturnBps),
		zap.Int64("sharpeRatio", perf.SharpeRatio))
	return perf, nil
}

// Get returns the performance record for a strategy, or false when none has
// been recorded. Absence is a designed no-op for consumers, not a failure.
func (t *Tracker) Get(txn *store.Txn, strategyID uint64) (types.StrategyPerformance, bool, error) {
	var p types.StrategyPerformance
	found, err := txn.Get(store.PerformanceKey(strategyID), &p)
	if err != nil {
		return types.StrategyPerformance{}, false, err
	}
	return p, found, nil
}
