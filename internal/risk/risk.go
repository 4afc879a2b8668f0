// Package risk provides the risk policy engine: per-tier parameter tables,
// per-strategy risk metrics, per-user risk profiles, and the aggregated
// portfolio risk that gatekeeps every capital movement.
package risk

import (
	"fmt"

	"github.com/atlas-desktop/allocation-engine/internal/store"
	"github.com/atlas-desktop/allocation-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Global risk multiplier bounds, in percent (100 == 1.0x).
const (
	MinGlobalMultiplierPct uint32 = 50
	MaxGlobalMultiplierPct uint32 = 300
	DefaultMultiplierPct   uint32 = 100
)

// ParamGlobalMultiplier names the stored global risk multiplier.
const ParamGlobalMultiplier = "global_risk_multiplier_pct"

// Engine is the risk policy engine. Stateless over the store.
type Engine struct {
	logger *zap.Logger
}

// New creates a risk policy engine.
func New(logger *zap.Logger) *Engine {
	return &Engine{logger: logger.Named("risk")}
}

// tierTable is the fixed per-tier limit table, in basis points:
// max-allocation / volatility-threshold / correlation-limit / drawdown-limit.
var tierTable = []types.RiskParameters{
	{Tier: types.TierConservative, MaxAllocationBps: 2000, VolatilityThresholdBps: 1500, CorrelationLimitBps: 5000, DrawdownLimitBps: 1000},
	{Tier: types.TierModerate, MaxAllocationBps: 4000, VolatilityThresholdBps: 2500, CorrelationLimitBps: 7000, DrawdownLimitBps: 2000},
	{Tier: types.TierAggressive, MaxAllocationBps: 7000, VolatilityThresholdBps: 5000, CorrelationLimitBps: 9000, DrawdownLimitBps: 4000},
}

// InitializeParameters seeds the three fixed risk tiers. Idempotent: repeated
// calls overwrite with the same constants.
func (e *Engine) InitializeParameters(txn *store.Txn) error {
	for _, params := range tierTable {
		if err := txn.Put(store.RiskParamsKey(uint32(params.Tier)), params); err != nil {
			return err
		}
	}
	e.logger.Info("Risk parameter tiers initialized", zap.Int("tiers", len(tierTable)))
	return nil
}

// Parameters returns the limit table for a tier.
func (e *Engine) Parameters(txn *store.Txn, tier types.RiskTier) (types.RiskParameters, error) {
	var p types.RiskParameters
	found, err := txn.Get(store.RiskParamsKey(uint32(tier)), &p)
	if err != nil {
		return types.RiskParameters{}, err
	}
	if !found {
		return types.RiskParameters{}, fmt.Errorf("%w: risk parameters for tier %d", types.ErrNotFound, tier)
	}
	return p, nil
}

// SetUserProfile stores the caller's own risk profile.
func (e *Engine) SetUserProfile(txn *store.Txn, caller types.Identity, height uint64,
	tolerance uint32, maxExposure decimal.Decimal, diversificationMin uint32) error {

	if tolerance < 1 || tolerance > types.MaxRiskLevel {
		return fmt.Errorf("%w: risk tolerance %d outside [1,%d]",
			types.ErrInvalidParameter, tolerance, types.MaxRiskLevel)
	}
	if maxExposure.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: max exposure must be positive", types.ErrInvalidParameter)
	}
	if diversificationMin == 0 {
		return fmt.Errorf("%w: diversification minimum must be positive", types.ErrInvalidParameter)
	}

	profile := types.UserRiskProfile{
		User:               caller,
		RiskTolerance:      tolerance,
		MaxExposure:        maxExposure,
		DiversificationMin: diversificationMin,
		UpdatedAt:          height,
	}
	if err := txn.Put(store.RiskProfileKey(string(caller)), profile); err != nil {
		return err
	}

	e.logger.Info("User risk profile set",
		zap.String("user", string(caller)),
		zap.Uint32("tolerance", tolerance),
		zap.String("maxExposure", maxExposure.String()))
	return nil
}

// Profile returns a user's risk profile, or false when none has been set.
func (e *Engine) Profile(txn *store.Txn, user types.Identity) (types.UserRiskProfile, bool, error) {
	var p types.UserRiskProfile
	found, err := txn.Get(store.RiskProfileKey(string(user)), &p)
	if err != nil {
		return types.UserRiskProfile{}, false, err
	}
	return p, found, nil
}

// UpdateStrategyMetrics stores the risk assessment of one strategy. Caller
// authorization (operator or authorized updater) is enforced by the engine.
func (e *Engine) UpdateStrategyMetrics(txn *store.Txn, height uint64, m types.StrategyRiskMetrics) error {
	if m.RiskScore < 1 || m.RiskScore > types.MaxRiskLevel {
		return fmt.Errorf("%w: risk score %d outside [1,%d]",
			types.ErrInvalidParameter, m.RiskScore, types.MaxRiskLevel)
	}
	exists, err := txn.Has(store.StrategyKey(m.StrategyID))
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: strategy %d", types.ErrNotFound, m.StrategyID)
	}

	m.UpdatedAt = height
	if err := txn.Put(store.RiskMetricsKey(m.StrategyID), m); err != nil {
		return err
	}

	e.logger.Info("Strategy risk metrics updated",
		zap.Uint64("strategyId", m.StrategyID),
		zap.Uint32("riskScore", m.RiskScore),
		zap.Uint32("volatilityBps", m.VolatilityBps))
	return nil
}

// StrategyMetrics returns the stored metrics for a strategy, or false when
// none have been recorded yet.
func (e *Engine) StrategyMetrics(txn *store.Txn, strategyID uint64) (types.StrategyRiskMetrics, bool, error) {
	var m types.StrategyRiskMetrics
	found, err := txn.Get(store.RiskMetricsKey(strategyID), &m)
	if err != nil {
		return types.StrategyRiskMetrics{}, false, err
	}
	return m, found, nil
}

// GlobalMultiplierPct returns the active global risk multiplier in percent.
func (e *Engine) GlobalMultiplierPct(txn *store.Txn) (uint32, error) {
	var v uint32
	found, err := txn.Get(store.ParamKey(ParamGlobalMultiplier), &v)
	if err != nil {
		return 0, err
	}
	if !found {
		return DefaultMultiplierPct, nil
	}
	return v, nil
}

// SetGlobalMultiplier tunes the global risk multiplier, bounded to
// [50,300] percent (0.5x-3.0x). Operator gating happens in the engine.
func (e *Engine) SetGlobalMultiplier(txn *store.Txn, pct uint32) error {
	if pct < MinGlobalMultiplierPct || pct > MaxGlobalMultiplierPct {
		return fmt.Errorf("%w: multiplier %d%% outside [%d,%d]",
			types.ErrInvalidParameter, pct, MinGlobalMultiplierPct, MaxGlobalMultiplierPct)
	}
	return txn.Put(store.ParamKey(ParamGlobalMultiplier), pct)
}

// scaledRiskScore applies the global multiplier to a 1-10 risk score,
// saturating at the scale maximum. Integer math only.
func (e *Engine) scaledRiskScore(txn *store.Txn, score uint32) (uint32, error) {
	pct, err := e.GlobalMultiplierPct(txn)
	if err != nil {
		return 0, err
	}
	scaled := (score*pct + 50) / 100 // round half up
	if scaled < 1 {
		scaled = 1
	}
	if scaled > types.MaxRiskLevel {
		scaled = types.MaxRiskLevel
	}
	return scaled, nil
}

// ValidateInvestment is the single choke point every capital or allocation
// change must pass through. Checks in order: exposure headroom, strategy risk
// score vs tolerance, strategy volatility vs the tolerance tier's threshold.
// The first failing check determines the reported error.
func (e *Engine) ValidateInvestment(txn *store.Txn, user types.Identity,
	strategyID uint64, amount decimal.Decimal) error {

	profile, found, err := e.Profile(txn, user)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: risk profile for user %q", types.ErrNotFound, user)
	}

	portfolio, err := e.PortfolioRisk(txn, user)
	if err != nil {
		return err
	}
	if portfolio.TotalExposure.Add(amount).GreaterThan(profile.MaxExposure) {
		return fmt.Errorf("%w: exposure %s + %s exceeds limit %s",
			types.ErrRiskLimitExceeded, portfolio.TotalExposure, amount, profile.MaxExposure)
	}

	metrics, found, err := e.StrategyMetrics(txn, strategyID)
	if err != nil {
		return err
	}
	if !found {
		// No metrics recorded: fall back to the strategy's declared risk level.
		var strategy types.Strategy
		ok, err := txn.Get(store.StrategyKey(strategyID), &strategy)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: strategy %d", types.ErrNotFound, strategyID)
		}
		metrics = types.StrategyRiskMetrics{
			StrategyID: strategyID,
			RiskScore:  strategy.RiskLevel,
		}
	}

	score, err := e.scaledRiskScore(txn, metrics.RiskScore)
	if err != nil {
		return err
	}
	if score > profile.RiskTolerance {
		return fmt.Errorf("%w: strategy risk score %d exceeds tolerance %d",
			types.ErrRiskLimitExceeded, score, profile.RiskTolerance)
	}

	tier, err := e.Parameters(txn, types.TierForTolerance(profile.RiskTolerance))
	if err != nil {
		return err
	}
	if metrics.VolatilityBps > tier.VolatilityThresholdBps {
		return fmt.Errorf("%w: volatility %d bps exceeds tier threshold %d",
			types.ErrRiskLimitExceeded, metrics.VolatilityBps, tier.VolatilityThresholdBps)
	}

	return nil
}

// PortfolioRisk returns a user's aggregated portfolio risk, or a zero record
// when none has been calculated yet.
func (e *Engine) PortfolioRisk(txn *store.Txn, user types.Identity) (types.PortfolioRisk, error) {
	var p types.PortfolioRisk
	found, err := txn.Get(store.PortfolioRiskKey(string(user)), &p)
	if err != nil {
		return types.PortfolioRisk{}, err
	}
	if !found {
		return types.PortfolioRisk{User: user, TotalExposure: decimal.Zero}, nil
	}
	return p, nil
}

// AddExposure increases a user's total exposure after a gated investment.
func (e *Engine) AddExposure(txn *store.Txn, user types.Identity, height uint64, amount decimal.Decimal) error {
	portfolio, err := e.PortfolioRisk(txn, user)
	if err != nil {
		return err
	}
	portfolio.User = user
	portfolio.TotalExposure = portfolio.TotalExposure.Add(amount)
	portfolio.CalculatedAt = height
	return txn.Put(store.PortfolioRiskKey(string(user)), portfolio)
}

// ReduceExposure decreases a user's total exposure after a withdrawal,
// flooring at zero (exposure tracking is best-effort).
func (e *Engine) ReduceExposure(txn *store.Txn, user types.Identity, height uint64, amount decimal.Decimal) error {
	portfolio, err := e.PortfolioRisk(txn, user)
	if err != nil {
		return err
	}
	portfolio.User = user
	portfolio.TotalExposure = portfolio.TotalExposure.Sub(amount)
	if portfolio.TotalExposure.LessThan(decimal.Zero) {
		portfolio.TotalExposure = decimal.Zero
	}
	portfolio.CalculatedAt = height
	return txn.Put(store.PortfolioRiskKey(string(user)), portfolio)
}

// UpdatePortfolioRisk recomputes a user's aggregated portfolio risk. The
// risk score is the exposure-weighted maximum of held strategies' scores
// under the global multiplier; the correlation score is a stored pass-through
// hook for a future cross-strategy correlation model.
func (e *Engine) UpdatePortfolioRisk(txn *store.Txn, user types.Identity, height uint64) (types.PortfolioRisk, error) {
	portfolio, err := e.PortfolioRisk(txn, user)
	if err != nil {
		return types.PortfolioRisk{}, err
	}

	maxCount, err := txn.GetUint64(store.CounterKey(store.FamilyStrategy))
	if err != nil {
		return types.PortfolioRisk{}, err
	}

	total := decimal.Zero
	var worstScore uint32
	for id := uint64(1); id <= maxCount; id++ {
		var balance types.UserBalance
		found, err := txn.Get(store.BalanceKey(id, string(user)), &balance)
		if err != nil {
			return types.PortfolioRisk{}, err
		}
		if !found || balance.Amount.LessThanOrEqual(decimal.Zero) {
			continue
		}
		total = total.Add(balance.Amount)

		metrics, found, err := e.StrategyMetrics(txn, id)
		if err != nil {
			return types.PortfolioRisk{}, err
		}
		if found && metrics.RiskScore > worstScore {
			worstScore = metrics.RiskScore
		}
	}

	// Total exposure never reads below the sum of live positions.
	if portfolio.TotalExposure.LessThan(total) {
		portfolio.TotalExposure = total
	}
	if worstScore > 0 {
		scaled, err := e.scaledRiskScore(txn, worstScore)
		if err != nil {
			return types.PortfolioRisk{}, err
		}
		portfolio.RiskScore = scaled
	}
	portfolio.User = user
	portfolio.CalculatedAt = height

	if err := txn.Put(store.PortfolioRiskKey(string(user)), portfolio); err != nil {
		return types.PortfolioRisk{}, err
	}

	e.logger.Debug("Portfolio risk updated",
		zap.String("user", string(user)),
		zap.String("totalExposure", portfolio.TotalExposure.String()),
		zap.Uint32("riskScore", portfolio.RiskScore))
	return portfolio, nil
}
