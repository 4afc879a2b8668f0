// Package engine is the single-writer command processor over the store. It
// reproduces the host contract the components assume: operations are totally
// ordered, each runs inside exactly one transaction (all-or-nothing commit),
// and the logical clock advances once per committed operation.
package engine

import (
	"sync"

	"github.com/atlas-desktop/allocation-engine/internal/directory"
	"github.com/atlas-desktop/allocation-engine/internal/identity"
	"github.com/atlas-desktop/allocation-engine/internal/metrics"
	"github.com/atlas-desktop/allocation-engine/internal/optimizer"
	"github.com/atlas-desktop/allocation-engine/internal/oracle"
	"github.com/atlas-desktop/allocation-engine/internal/performance"
	"github.com/atlas-desktop/allocation-engine/internal/rebalance"
	"github.com/atlas-desktop/allocation-engine/internal/registry"
	"github.com/atlas-desktop/allocation-engine/internal/risk"
	"github.com/atlas-desktop/allocation-engine/internal/store"
	"github.com/atlas-desktop/allocation-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Engine wires the allocation subsystems behind a single write mutex.
type Engine struct {
	mu     sync.Mutex
	logger *zap.Logger
	store  *store.Store

	identity    *identity.Gate
	registry    *registry.Registry
	risk        *risk.Engine
	gate        *oracle.Gate
	optimizer   *optimizer.Optimizer
	coordinator *rebalance.Coordinator
	performance *performance.Tracker

	metrics *metrics.Metrics
	events  chan Event
	height  uint64
}

// New builds the engine, seeds the operator and the fixed risk tiers, and
// loads the persisted height.
func New(logger *zap.Logger, st *store.Store, dir directory.Directory,
	cfg types.EngineConfig, m *metrics.Metrics) (*Engine, error) {

	gate := oracle.NewGate(logger)
	riskEngine := risk.New(logger)

	e := &Engine{
		logger:      logger.Named("engine"),
		store:       st,
		identity:    identity.NewGate(logger),
		registry:    registry.New(logger),
		risk:        riskEngine,
		gate:        gate,
		optimizer:   optimizer.New(logger, dir, gate, riskEngine),
		coordinator: rebalance.New(logger, dir),
		performance: performance.New(logger),
		metrics:     m,
		events:      make(chan Event, 256),
	}

	err := st.Update(func(txn *store.Txn) error {
		if err := e.identity.Seed(txn, cfg.Operator); err != nil {
			return err
		}
		if err := e.risk.InitializeParameters(txn); err != nil {
			return err
		}
		if cfg.MinConfidenceBps != 0 {
			if err := gate.SetMinConfidence(txn, cfg.MinConfidenceBps); err != nil {
				return err
			}
		}
		if cfg.MaxDataAge != 0 {
			if err := gate.SetMaxDataAge(txn, cfg.MaxDataAge); err != nil {
				return err
			}
		}
		if cfg.MinRebalanceInterval != 0 {
			if err := e.coordinator.SetMinInterval(txn, cfg.MinRebalanceInterval); err != nil {
				return err
			}
		}
		if cfg.GlobalRiskMultiplierPct != 0 {
			if err := riskEngine.SetGlobalMultiplier(txn, cfg.GlobalRiskMultiplierPct); err != nil {
				return err
			}
		}

		h, err := txn.GetUint64(store.HeightKey)
		if err != nil {
			return err
		}
		e.height = h
		return nil
	})
	if err != nil {
		return nil, err
	}

	if m != nil {
		m.Height.Set(float64(e.height))
	}
	e.logger.Info("Engine initialized",
		zap.Uint64("height", e.height),
		zap.String("operator", string(cfg.Operator)))
	return e, nil
}

// Events returns the engine event stream. Events are dropped, never blocked
// on, when no consumer keeps up.
func (e *Engine) Events() <-chan Event {
	return e.events
}

// Height returns the current logical clock value.
func (e *Engine) Height() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.height
}

// AdvanceHeight ticks the clock n times without any other state change,
// mirroring host batches in which this engine processed nothing.
func (e *Engine) AdvanceHeight(n uint64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.height + n
	err := e.store.Update(func(txn *store.Txn) error {
		return txn.PutUint64(store.HeightKey, next)
	})
	if err != nil {
		return err
	}
	e.height = next
	if e.metrics != nil {
		e.metrics.Height.Set(float64(next))
	}
	return nil
}

// mutate runs op inside one serialized read-write transaction at the next
// height. The height write shares the transaction, so a failed operation
// consumes no clock tick and leaves no partial state.
func (e *Engine) mutate(name string, op func(txn *store.Txn, height uint64) error) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.height + 1
	err := e.store.Update(func(txn *store.Txn) error {
		if err := op(txn, next); err != nil {
			return err
		}
		return txn.PutUint64(store.HeightKey, next)
	})
	if e.metrics != nil {
		e.metrics.ObserveOp(name, err)
	}
	if err != nil {
		return err
	}
	e.height = next
	if e.metrics != nil {
		e.metrics.Height.Set(float64(next))
	}
	return nil
}

// view runs op inside a read-only transaction.
func (e *Engine) view(op func(txn *store.Txn) error) error {
	return e.store.View(op)
}

// publish emits an event without ever blocking an operation.
func (e *Engine) publish(event Event) {
	select {
	case e.events <- event:
	default:
		e.logger.Warn("Event channel full, dropping event", zap.String("type", string(event.Type)))
	}
}

// ---- StrategyRegistry operations ----

// CreateStrategy registers a new strategy; the caller becomes its creator.
func (e *Engine) CreateStrategy(caller types.Identity, name string,
	minAmount, maxAmount decimal.Decimal, riskLevel uint32) (uint64, error) {

	var id uint64
	err := e.mutate("create_strategy", func(txn *store.Txn, height uint64) error {
		var err error
		id, err = e.registry.CreateStrategy(txn, caller, height, name, minAmount, maxAmount, riskLevel)
		return err
	})
	if err != nil {
		return 0, err
	}
	e.publish(Event{Type: EventStrategyCreated, Height: e.height, Payload: map[string]any{"strategyId": id, "name": name}})
	return id, nil
}

// GetStrategy returns one strategy by id.
func (e *Engine) GetStrategy(id uint64) (types.Strategy, error) {
	var out types.Strategy
	err := e.view(func(txn *store.Txn) error {
		var err error
		out, err = e.registry.Get(txn, id)
		return err
	})
	return out, err
}

// ListStrategies returns all strategies.
func (e *Engine) ListStrategies() ([]types.Strategy, error) {
	var out []types.Strategy
	err := e.view(func(txn *store.Txn) error {
		var err error
		out, err = e.registry.List(txn)
		return err
	})
	return out, err
}

// Invest deposits amount into a strategy for the caller. Callers with a risk
// profile pass through the risk policy choke point; on success the caller's
// total exposure grows by amount.
func (e *Engine) Invest(caller types.Identity, strategyID uint64, amount decimal.Decimal) error {
	err := e.mutate("invest", func(txn *store.Txn, height uint64) error {
		if _, found, err := e.risk.Profile(txn, caller); err != nil {
			return err
		} else if found {
			if err := e.risk.ValidateInvestment(txn, caller, strategyID, amount); err != nil {
				if e.metrics != nil {
					e.metrics.RiskRejections.Inc()
				}
				e.publish(Event{Type: EventRiskRejection, Height: height,
					Payload: map[string]any{"user": caller, "strategyId": strategyID, "reason": err.Error()}})
				return err
			}
		}
		if err := e.registry.Invest(txn, caller, height, strategyID, amount); err != nil {
			return err
		}
		return e.risk.AddExposure(txn, caller, height, amount)
	})
	if err != nil {
		return err
	}
	e.publish(Event{Type: EventInvestment, Height: e.height,
		Payload: map[string]any{"user": caller, "strategyId": strategyID, "amount": amount.String()}})
	return nil
}

// Withdraw removes amount from the caller's balance and reduces exposure.
func (e *Engine) Withdraw(caller types.Identity, strategyID uint64, amount decimal.Decimal) error {
	err := e.mutate("withdraw", func(txn *store.Txn, height uint64) error {
		if err := e.registry.Withdraw(txn, caller, height, strategyID, amount); err != nil {
			return err
		}
		return e.risk.ReduceExposure(txn, caller, height, amount)
	})
	if err != nil {
		return err
	}
	e.publish(Event{Type: EventWithdrawal, Height: e.height,
		Payload: map[string]any{"user": caller, "strategyId": strategyID, "amount": amount.String()}})
	return nil
}

// GetBalance returns the caller's balance in one strategy.
func (e *Engine) GetBalance(user types.Identity, strategyID uint64) (types.UserBalance, error) {
	var out types.UserBalance
	err := e.view(func(txn *store.Txn) error {
		var err error
		out, err = e.registry.Balance(txn, strategyID, user)
		return err
	})
	return out, err
}

// ToggleStrategyStatus flips a strategy's active flag (creator-only).
func (e *Engine) ToggleStrategyStatus(caller types.Identity, strategyID uint64) (bool, error) {
	var active bool
	err := e.mutate("toggle_strategy", func(txn *store.Txn, height uint64) error {
		var err error
		active, err = e.registry.ToggleStatus(txn, caller, strategyID)
		return err
	})
	if err != nil {
		return false, err
	}
	e.publish(Event{Type: EventStrategyToggled, Height: e.height,
		Payload: map[string]any{"strategyId": strategyID, "active": active}})
	return active, nil
}

// ---- RiskPolicyEngine operations ----

// InitializeRiskParameters re-seeds the three fixed tiers. Idempotent.
func (e *Engine) InitializeRiskParameters(caller types.Identity) error {
	return e.mutate("initialize_risk_parameters", func(txn *store.Txn, height uint64) error {
		return e.risk.InitializeParameters(txn)
	})
}

// GetRiskParameters returns the limit table for one tier.
func (e *Engine) GetRiskParameters(tier types.RiskTier) (types.RiskParameters, error) {
	var out types.RiskParameters
	err := e.view(func(txn *store.Txn) error {
		var err error
		out, err = e.risk.Parameters(txn, tier)
		return err
	})
	return out, err
}

// SetUserRiskProfile stores the caller's own risk profile.
func (e *Engine) SetUserRiskProfile(caller types.Identity, tolerance uint32,
	maxExposure decimal.Decimal, diversificationMin uint32) error {

	return e.mutate("set_user_risk_profile", func(txn *store.Txn, height uint64) error {
		return e.risk.SetUserProfile(txn, caller, height, tolerance, maxExposure, diversificationMin)
	})
}

// GetUserRiskProfile returns a user's profile.
func (e *Engine) GetUserRiskProfile(user types.Identity) (types.UserRiskProfile, error) {
	var out types.UserRiskProfile
	err := e.view(func(txn *store.Txn) error {
		profile, found, err := e.risk.Profile(txn, user)
		if err != nil {
			return err
		}
		if !found {
			return types.ErrNotFound
		}
		out = profile
		return nil
	})
	return out, err
}

// UpdateStrategyRiskMetrics stores a strategy's risk assessment. Restricted
// to the operator and authorized updaters.
func (e *Engine) UpdateStrategyRiskMetrics(caller types.Identity, m types.StrategyRiskMetrics) error {
	return e.mutate("update_strategy_risk_metrics", func(txn *store.Txn, height uint64) error {
		if err := e.identity.RequireUpdater(txn, caller); err != nil {
			return err
		}
		return e.risk.UpdateStrategyMetrics(txn, height, m)
	})
}

// GetStrategyRiskMetrics returns a strategy's stored risk metrics.
func (e *Engine) GetStrategyRiskMetrics(strategyID uint64) (types.StrategyRiskMetrics, error) {
	var out types.StrategyRiskMetrics
	err := e.view(func(txn *store.Txn) error {
		m, found, err := e.risk.StrategyMetrics(txn, strategyID)
		if err != nil {
			return err
		}
		if !found {
			return types.ErrNotFound
		}
		out = m
		return nil
	})
	return out, err
}

// ValidateInvestment runs the composite risk check without mutating state.
// It returns (true, nil) when the investment would be admitted, and
// (false, reason) otherwise.
func (e *Engine) ValidateInvestment(user types.Identity, strategyID uint64, amount decimal.Decimal) (bool, error) {
	var reason error
	err := e.view(func(txn *store.Txn) error {
		reason = e.risk.ValidateInvestment(txn, user, strategyID, amount)
		return nil
	})
	if err != nil {
		return false, err
	}
	if reason != nil {
		return false, reason
	}
	return true, nil
}

// UpdatePortfolioRisk recomputes a user's aggregated portfolio risk.
func (e *Engine) UpdatePortfolioRisk(caller types.Identity, user types.Identity) (types.PortfolioRisk, error) {
	var out types.PortfolioRisk
	err := e.mutate("update_portfolio_risk", func(txn *store.Txn, height uint64) error {
		var err error
		out, err = e.risk.UpdatePortfolioRisk(txn, user, height)
		return err
	})
	return out, err
}

// GetPortfolioRisk returns a user's aggregated portfolio risk.
func (e *Engine) GetPortfolioRisk(user types.Identity) (types.PortfolioRisk, error) {
	var out types.PortfolioRisk
	err := e.view(func(txn *store.Txn) error {
		var err error
		out, err = e.risk.PortfolioRisk(txn, user)
		return err
	})
	return out, err
}

// SetGlobalRiskMultiplier tunes the global risk scaling factor (operator-only).
func (e *Engine) SetGlobalRiskMultiplier(caller types.Identity, pct uint32) error {
	return e.mutate("set_global_risk_multiplier", func(txn *store.Txn, height uint64) error {
		if err := e.identity.RequireOperator(txn, caller); err != nil {
			return err
		}
		return e.risk.SetGlobalMultiplier(txn, pct)
	})
}

// ---- ConfidenceGate operations ----

// SetMinConfidence tunes the signal confidence threshold (operator-only).
func (e *Engine) SetMinConfidence(caller types.Identity, bps uint32) error {
	return e.mutate("set_min_confidence", func(txn *store.Txn, height uint64) error {
		if err := e.identity.RequireOperator(txn, caller); err != nil {
			return err
		}
		return e.gate.SetMinConfidence(txn, bps)
	})
}

// SetMaxDataAge tunes the signal staleness bound (operator-only).
func (e *Engine) SetMaxDataAge(caller types.Identity, age uint64) error {
	return e.mutate("set_max_data_age", func(txn *store.Txn, height uint64) error {
		if err := e.identity.RequireOperator(txn, caller); err != nil {
			return err
		}
		return e.gate.SetMaxDataAge(txn, age)
	})
}

// CheckSignal reports whether a datum would clear the confidence gate at the
// current height. Read-only; rejection reasons come back as the error.
func (e *Engine) CheckSignal(datum oracle.Datum) error {
	height := e.Height()
	var reason error
	err := e.view(func(txn *store.Txn) error {
		reason = e.gate.Accept(txn, datum, height)
		return nil
	})
	if err != nil {
		return err
	}
	return reason
}

// ---- AllocationOptimizer operations ----

// CreateOptimizationConfig stores an optimization schedule (operator-only).
func (e *Engine) CreateOptimizationConfig(caller types.Identity, strategyID uint64,
	optType types.OptimizationType, targetReturnBps, maxRiskBps uint32, rebalanceFrequency uint64) (uint64, error) {

	var id uint64
	err := e.mutate("create_optimization_config", func(txn *store.Txn, height uint64) error {
		if err := e.identity.RequireOperator(txn, caller); err != nil {
			return err
		}
		var err error
		id, err = e.optimizer.CreateConfig(txn, height, strategyID, optType, targetReturnBps, maxRiskBps, rebalanceFrequency)
		return err
	})
	return id, err
}

// GetOptimizationConfig returns one optimization config.
func (e *Engine) GetOptimizationConfig(id uint64) (types.OptimizationConfig, error) {
	var out types.OptimizationConfig
	err := e.view(func(txn *store.Txn) error {
		var err error
		out, err = e.optimizer.Config(txn, id)
		return err
	})
	return out, err
}

// OptimizeStrategy derives and persists a target allocation (operator-only).
// An optional signal is routed through the confidence gate.
func (e *Engine) OptimizeStrategy(caller types.Identity, strategyID uint64,
	optType types.OptimizationType, marketConditions string, signal *oracle.Datum) (types.OptimizationResult, error) {

	var out types.OptimizationResult
	err := e.mutate("optimize_strategy", func(txn *store.Txn, height uint64) error {
		if err := e.identity.RequireOperator(txn, caller); err != nil {
			return err
		}
		var err error
		out, err = e.optimizer.Optimize(txn, height, strategyID, optType, marketConditions, signal)
		return err
	})
	if err != nil {
		return types.OptimizationResult{}, err
	}
	if e.metrics != nil {
		e.metrics.Optimizations.Inc()
	}
	e.publish(Event{Type: EventOptimization, Height: e.height,
		Payload: map[string]any{"optimizationId": out.ID, "strategyId": strategyID, "type": optType.String()}})
	return out, nil
}

// GetOptimizationResult returns one optimization result.
func (e *Engine) GetOptimizationResult(id uint64) (types.OptimizationResult, error) {
	var out types.OptimizationResult
	err := e.view(func(txn *store.Txn) error {
		var err error
		out, err = e.optimizer.Result(txn, id)
		return err
	})
	return out, err
}

// GetOptimizationRecommendation is pure advisory; it never mutates state.
func (e *Engine) GetOptimizationRecommendation(strategyID uint64, riskTolerance uint32,
	marketSentiment string) (types.Recommendation, error) {
	return e.optimizer.Recommend(strategyID, riskTolerance, marketSentiment)
}

// AutoOptimizeStrategy re-optimizes a strategy whose realized Sharpe ratio
// has fallen below target. Missing performance data and an already-healthy
// Sharpe are designed no-ops (performed=false, nil error); a pending cooldown
// fails with RateLimited. Operator-only.
func (e *Engine) AutoOptimizeStrategy(caller types.Identity, strategyID uint64) (types.OptimizationResult, bool, error) {
	var out types.OptimizationResult
	performed := false
	err := e.mutate("auto_optimize_strategy", func(txn *store.Txn, height uint64) error {
		if err := e.identity.RequireOperator(txn, caller); err != nil {
			return err
		}

		perf, found, err := e.performance.Get(txn, strategyID)
		if err != nil {
			return err
		}
		if !found || perf.SharpeRatio >= optimizer.SharpeTarget {
			return nil
		}

		ok, err := e.coordinator.CanRebalance(txn, strategyID, height)
		if err != nil {
			return err
		}
		if !ok {
			return types.ErrRateLimited
		}

		out, err = e.optimizer.Optimize(txn, height, strategyID, types.OptMaximizeSharpe, "", nil)
		if err != nil {
			return err
		}
		performed = true
		return nil
	})
	if err != nil {
		return types.OptimizationResult{}, false, err
	}
	if performed {
		if e.metrics != nil {
			e.metrics.Optimizations.Inc()
		}
		e.publish(Event{Type: EventOptimization, Height: e.height,
			Payload: map[string]any{"optimizationId": out.ID, "strategyId": strategyID, "auto": true}})
	}
	return out, performed, nil
}

// ---- RebalanceCoordinator operations ----

// CanRebalance reports whether the cooldown admits a rebalance now.
func (e *Engine) CanRebalance(strategyID uint64) (bool, error) {
	height := e.Height()
	var out bool
	err := e.view(func(txn *store.Txn) error {
		var err error
		out, err = e.coordinator.CanRebalance(txn, strategyID, height)
		return err
	})
	return out, err
}

// ExecuteRebalance applies an allocation vector (operator-only).
func (e *Engine) ExecuteRebalance(caller types.Identity, strategyID uint64,
	allocations []types.AllocationEntry, reason string) (uint64, error) {

	var id uint64
	err := e.mutate("execute_rebalance", func(txn *store.Txn, height uint64) error {
		if err := e.identity.RequireOperator(txn, caller); err != nil {
			return err
		}
		var err error
		id, err = e.coordinator.Execute(txn, height, strategyID, allocations, reason)
		return err
	})
	if err != nil {
		return 0, err
	}
	if e.metrics != nil {
		e.metrics.Rebalances.Inc()
	}
	e.publish(Event{Type: EventRebalanceExecuted, Height: e.height,
		Payload: map[string]any{"rebalanceId": id, "strategyId": strategyID, "reason": reason}})
	return id, nil
}

// SetRebalanceInterval tunes the cooldown (operator-only).
func (e *Engine) SetRebalanceInterval(caller types.Identity, interval uint64) error {
	return e.mutate("set_rebalance_interval", func(txn *store.Txn, height uint64) error {
		if err := e.identity.RequireOperator(txn, caller); err != nil {
			return err
		}
		return e.coordinator.SetMinInterval(txn, interval)
	})
}

// GetAllocations returns a strategy's live allocations.
func (e *Engine) GetAllocations(strategyID uint64) ([]types.PortfolioAllocation, error) {
	var out []types.PortfolioAllocation
	err := e.view(func(txn *store.Txn) error {
		var err error
		out, err = e.coordinator.Allocations(txn, strategyID)
		return err
	})
	return out, err
}

// GetRebalanceRecord returns one immutable audit record.
func (e *Engine) GetRebalanceRecord(id uint64) (types.RebalanceRecord, error) {
	var out types.RebalanceRecord
	err := e.view(func(txn *store.Txn) error {
		var err error
		out, err = e.coordinator.Record(txn, id)
		return err
	})
	return out, err
}

// ---- PerformanceTracker operations ----

// UpdatePerformance records realized strategy performance (operator-only).
func (e *Engine) UpdatePerformance(caller types.Identity, strategyID uint64,
	totalReturnBps int64, volatilityBps, maxDrawdownBps, winRateBps uint32) (types.StrategyPerformance, error) {

	var out types.StrategyPerformance
	err := e.mutate("update_performance", func(txn *store.Txn, height uint64) error {
		if err := e.identity.RequireOperator(txn, caller); err != nil {
			return err
		}
		var err error
		out, err = e.performance.Update(txn, height, strategyID, totalReturnBps, volatilityBps, maxDrawdownBps, winRateBps)
		return err
	})
	if err != nil {
		return types.StrategyPerformance{}, err
	}
	e.publish(Event{Type: EventPerformanceUpdate, Height: e.height,
		Payload: map[string]any{"strategyId": strategyID, "sharpeRatio": out.SharpeRatio}})
	return out, nil
}

// GetStrategyPerformance returns the performance record, with found=false as
// a designed "no data yet" rather than an error.
func (e *Engine) GetStrategyPerformance(strategyID uint64) (types.StrategyPerformance, bool, error) {
	var out types.StrategyPerformance
	var found bool
	err := e.view(func(txn *store.Txn) error {
		var err error
		out, found, err = e.performance.Get(txn, strategyID)
		return err
	})
	return out, found, err
}

// ---- Access control operations ----

// AddAuthorizedUpdater grants metrics-update rights (operator-only).
func (e *Engine) AddAuthorizedUpdater(caller, updater types.Identity) error {
	return e.mutate("add_authorized_updater", func(txn *store.Txn, height uint64) error {
		return e.identity.AddUpdater(txn, caller, updater)
	})
}

// RemoveAuthorizedUpdater revokes metrics-update rights (operator-only).
func (e *Engine) RemoveAuthorizedUpdater(caller, updater types.Identity) error {
	return e.mutate("remove_authorized_updater", func(txn *store.Txn, height uint64) error {
		return e.identity.RemoveUpdater(txn, caller, updater)
	})
}

// TransferOperator hands engine ownership to a new identity (operator-only).
func (e *Engine) TransferOperator(caller, next types.Identity) error {
	return e.mutate("transfer_operator", func(txn *store.Txn, height uint64) error {
		return e.identity.TransferOperator(txn, caller, next)
	})
}
