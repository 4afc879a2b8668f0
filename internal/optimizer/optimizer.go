// Package optimizer derives target allocation vectors for strategies given an
// optimization objective, and produces persisted optimization results.
package optimizer

import (
	"fmt"
	"strings"

	"github.com/atlas-desktop/allocation-engine/internal/directory"
	"github.com/atlas-desktop/allocation-engine/internal/oracle"
	"github.com/atlas-desktop/allocation-engine/internal/risk"
	"github.com/atlas-desktop/allocation-engine/internal/store"
	"github.com/atlas-desktop/allocation-engine/pkg/types"
	"go.uber.org/zap"
)

// SharpeTarget is the auto-optimization trigger: strategies whose realized
// Sharpe ratio falls below 1.5 (1e4 fixed point) get re-optimized.
const SharpeTarget int64 = 15000

// DefaultConfidenceBps is the confidence attached to results derived without
// an actionable external signal.
const DefaultConfidenceBps uint32 = 7500

// tiltBps is the weight shifted between the ends of the vector by a market
// sentiment or de-risking adjustment.
const tiltBps uint32 = 500

// Optimizer derives and persists allocation vectors.
type Optimizer struct {
	logger *zap.Logger
	dir    directory.Directory
	gate   *oracle.Gate
	risk   *risk.Engine
}

// New creates an allocation optimizer.
func New(logger *zap.Logger, dir directory.Directory, gate *oracle.Gate, riskEngine *risk.Engine) *Optimizer {
	return &Optimizer{
		logger: logger.Named("optimizer"),
		dir:    dir,
		gate:   gate,
		risk:   riskEngine,
	}
}

// CreateConfig validates and stores an optimization config. Operator gating
// happens in the engine.
func (o *Optimizer) CreateConfig(txn *store.Txn, height uint64,
	strategyID uint64, optType types.OptimizationType,
	targetReturnBps, maxRiskBps uint32, rebalanceFrequency uint64) (uint64, error) {

	exists, err := txn.Has(store.StrategyKey(strategyID))
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, fmt.Errorf("%w: strategy %d", types.ErrNotFound, strategyID)
	}
	if !optType.Valid() {
		return 0, fmt.Errorf("%w: optimization type %d", types.ErrInvalidParameter, optType)
	}
	if targetReturnBps == 0 || maxRiskBps == 0 || rebalanceFrequency == 0 {
		return 0, fmt.Errorf("%w: target return, max risk, and rebalance frequency must be positive",
			types.ErrInvalidParameter)
	}

	id, err := txn.NextID(store.FamilyOptimizationConfig)
	if err != nil {
		return 0, err
	}
	config := types.OptimizationConfig{
		ID:                 id,
		StrategyID:         strategyID,
		Type:               optType,
		TargetReturnBps:    targetReturnBps,
		MaxRiskBps:         maxRiskBps,
		RebalanceFrequency: rebalanceFrequency,
		Active:             true,
		CreatedAt:          height,
	}
	if err := txn.Put(store.OptimizationConfigKey(id), config); err != nil {
		return 0, err
	}

	o.logger.Info("Optimization config created",
		zap.Uint64("configId", id),
		zap.Uint64("strategyId", strategyID),
		zap.String("type", optType.String()))
	return id, nil
}

// Config returns one optimization config by id.
func (o *Optimizer) Config(txn *store.Txn, id uint64) (types.OptimizationConfig, error) {
	var c types.OptimizationConfig
	found, err := txn.Get(store.OptimizationConfigKey(id), &c)
	if err != nil {
		return types.OptimizationConfig{}, err
	}
	if !found {
		return types.OptimizationConfig{}, fmt.Errorf("%w: optimization config %d", types.ErrNotFound, id)
	}
	return c, nil
}

// baseWeights returns the objective's base vector in basis points, one weight
// per reference protocol. Vectors always sum to 10000.
func baseWeights(optType types.OptimizationType) []uint32 {
	switch optType {
	case types.OptMinimizeRisk:
		return []uint32{2500, 2500, 2500, 2500}
	case types.OptMaximizeSharpe:
		return []uint32{3500, 3000, 2000, 1500}
	case types.OptDiversification:
		return []uint32{3000, 2500, 2500, 2000}
	case types.OptYieldFarming:
		return []uint32{4500, 2500, 2000, 1000}
	default: // maximize return
		return []uint32{4000, 3000, 2000, 1000}
	}
}

// shift moves amount from weights[from] to weights[to] without changing the
// vector sum, clamped so no weight goes negative.
func shift(weights []uint32, from, to int, amount uint32) {
	if weights[from] < amount {
		amount = weights[from]
	}
	weights[from] -= amount
	weights[to] += amount
}

// Optimize derives a deterministic allocation vector for a strategy, persists
// it, and returns the stored result. The optional signal is routed through
// the confidence gate; a rejected signal degrades to "no actionable signal"
// rather than failing the call. The resulting vector always sums to exactly
// 10000 bps with at most 10 entries. Operator gating happens in the engine.
func (o *Optimizer) Optimize(txn *store.Txn, height uint64,
	strategyID uint64, optType types.OptimizationType, marketConditions string,
	signal *oracle.Datum) (types.OptimizationResult, error) {

	if strategyID == 0 {
		return types.OptimizationResult{}, fmt.Errorf("%w: strategy id must be positive", types.ErrInvalidParameter)
	}
	exists, err := txn.Has(store.StrategyKey(strategyID))
	if err != nil {
		return types.OptimizationResult{}, err
	}
	if !exists {
		return types.OptimizationResult{}, fmt.Errorf("%w: strategy %d", types.ErrNotFound, strategyID)
	}
	if !optType.Valid() {
		return types.OptimizationResult{}, fmt.Errorf("%w: optimization type %d", types.ErrInvalidParameter, optType)
	}
	marketConditions = strings.ToLower(strings.TrimSpace(marketConditions))
	if len(marketConditions) > types.MaxMarketConditionsLen {
		return types.OptimizationResult{}, fmt.Errorf("%w: market conditions exceed %d bytes",
			types.ErrInvalidParameter, types.MaxMarketConditionsLen)
	}

	confidence := DefaultConfidenceBps
	signalValue := int64(0)
	if signal != nil {
		if err := o.gate.Accept(txn, *signal, height); err != nil {
			// No actionable signal; proceed on base weights alone.
			o.logger.Debug("Signal rejected by confidence gate",
				zap.Uint64("strategyId", strategyID),
				zap.String("signal", signal.Name),
				zap.Error(err))
		} else {
			confidence = signal.ConfidenceBps
			signalValue = signal.Value
		}
	}

	weights := baseWeights(optType)
	last := len(weights) - 1

	// Sentiment tilt: bullish concentrates into the lead protocol, bearish
	// retreats toward the tail.
	switch {
	case strings.Contains(marketConditions, "bull") || signalValue > 0:
		shift(weights, last, 0, tiltBps)
	case strings.Contains(marketConditions, "bear") || signalValue < 0:
		shift(weights, 0, last, tiltBps)
	}

	// De-risk when the strategy itself runs hot.
	metrics, haveMetrics, err := o.risk.StrategyMetrics(txn, strategyID)
	if err != nil {
		return types.OptimizationResult{}, err
	}
	if haveMetrics && metrics.VolatilityBps > 2500 {
		shift(weights, 0, last, tiltBps)
	}

	ids := o.dir.IDs()
	if len(ids) > len(weights) {
		ids = ids[:len(weights)]
	}
	allocations := make([]types.AllocationEntry, 0, len(ids))
	var sum uint32
	for i, protocolID := range ids {
		allocations = append(allocations, types.AllocationEntry{
			ProtocolID: protocolID,
			Bps:        weights[i],
		})
		sum += weights[i]
	}
	if len(allocations) == 0 {
		return types.OptimizationResult{}, fmt.Errorf("%w: no protocols available for allocation", types.ErrNotFound)
	}
	// The final entry absorbs any remainder so the vector sums to exactly
	// 10000 regardless of how many protocols the directory exposes.
	allocations[len(allocations)-1].Bps += types.BpsScale - sum

	predictedReturn, predictedRisk := o.predict(optType, metrics, haveMetrics)

	id, err := txn.NextID(store.FamilyOptimizationResult)
	if err != nil {
		return types.OptimizationResult{}, err
	}
	result := types.OptimizationResult{
		ID:                 id,
		StrategyID:         strategyID,
		Type:               optType,
		PredictedReturnBps: predictedReturn,
		PredictedRiskBps:   predictedRisk,
		ConfidenceBps:      confidence,
		Allocations:        allocations,
		CreatedAt:          height,
	}
	if err := txn.Put(store.OptimizationResultKey(id), result); err != nil {
		return types.OptimizationResult{}, err
	}

	o.logger.Info("Strategy optimized",
		zap.Uint64("optimizationId", id),
		zap.Uint64("strategyId", strategyID),
		zap.String("type", optType.String()),
		zap.Uint32("confidenceBps", confidence))
	return result, nil
}

// predict derives the result's return/risk predictions from the objective and
// the strategy's current risk metrics. Integer basis-point math only.
func (o *Optimizer) predict(optType types.OptimizationType,
	metrics types.StrategyRiskMetrics, haveMetrics bool) (int64, uint32) {

	var baseReturn int64
	var baseRisk uint32
	switch optType {
	case types.OptMinimizeRisk:
		baseReturn, baseRisk = 600, 800
	case types.OptMaximizeSharpe:
		baseReturn, baseRisk = 1200, 1500
	case types.OptDiversification:
		baseReturn, baseRisk = 900, 1200
	case types.OptYieldFarming:
		baseReturn, baseRisk = 1800, 3000
	default:
		baseReturn, baseRisk = 1500, 2500
	}

	if haveMetrics {
		// Blend the declared base risk with observed volatility, half each.
		baseRisk = (baseRisk + metrics.VolatilityBps) / 2
		// A positive realized Sharpe nudges the prediction up a tenth of it.
		baseReturn += metrics.SharpeRatio / 10
	}
	return baseReturn, baseRisk
}

// Result returns one optimization result by id.
func (o *Optimizer) Result(txn *store.Txn, id uint64) (types.OptimizationResult, error) {
	var r types.OptimizationResult
	found, err := txn.Get(store.OptimizationResultKey(id), &r)
	if err != nil {
		return types.OptimizationResult{}, err
	}
	if !found {
		return types.OptimizationResult{}, fmt.Errorf("%w: optimization result %d", types.ErrNotFound, id)
	}
	return r, nil
}

// Recommend is a pure advisory mapping from risk tolerance and sentiment to a
// target posture. It never mutates state.
func (o *Optimizer) Recommend(strategyID uint64, riskTolerance uint32, marketSentiment string) (types.Recommendation, error) {
	if strategyID == 0 {
		return types.Recommendation{}, fmt.Errorf("%w: strategy id must be positive", types.ErrInvalidParameter)
	}
	if riskTolerance < 1 || riskTolerance > types.MaxRiskLevel {
		return types.Recommendation{}, fmt.Errorf("%w: risk tolerance %d outside [1,%d]",
			types.ErrInvalidParameter, riskTolerance, types.MaxRiskLevel)
	}

	ids := o.dir.IDs()
	if len(ids) < 2 {
		return types.Recommendation{}, fmt.Errorf("%w: not enough protocols for a recommendation", types.ErrNotFound)
	}

	var rec types.Recommendation
	rec.StrategyID = strategyID
	if riskTolerance <= 3 {
		rec.Posture = "conservative"
		rec.TargetAllocations = []types.AllocationEntry{
			{ProtocolID: ids[0], Bps: 6000},
			{ProtocolID: ids[1], Bps: 4000},
		}
		rec.Rationale = "low risk tolerance favors capital preservation"
	} else {
		rec.Posture = "aggressive"
		rec.TargetAllocations = []types.AllocationEntry{
			{ProtocolID: ids[len(ids)-1], Bps: 6000},
			{ProtocolID: ids[0], Bps: 4000},
		}
		rec.Rationale = "risk tolerance admits higher-yield venues"
	}
	if strings.Contains(strings.ToLower(marketSentiment), "bear") {
		rec.Rationale += "; bearish sentiment suggests staging entries"
	}
	return rec, nil
}
