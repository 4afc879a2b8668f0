// Package types provides the core entity types for the allocation engine.
package types

import (
	"github.com/shopspring/decimal"
)

// Identity is the opaque caller identity supplied by the host per call.
type Identity string

// BpsScale is the fixed-point scale for all ratios: basis points, 0-10000.
const BpsScale uint32 = 10000

// SharpeScale is the fixed-point scale for Sharpe ratios (1.5 == 15000).
const SharpeScale int64 = 10000

// Input bounds enforced before any write.
const (
	MaxNameLen             = 64
	MaxReasonLen           = 64
	MaxMarketConditionsLen = 32
	MaxAllocationEntries   = 10
	MaxRiskLevel           = 10
)

// Strategy is a named pooled-investment strategy.
type Strategy struct {
	ID        uint64          `json:"id"`
	Name      string          `json:"name"`
	Creator   Identity        `json:"creator"`
	Active    bool            `json:"active"`
	MinAmount decimal.Decimal `json:"minAmount"`
	MaxAmount decimal.Decimal `json:"maxAmount"`
	RiskLevel uint32          `json:"riskLevel"` // 1-10
	CreatedAt uint64          `json:"createdAt"` // height
}

// UserBalance is a user's deposit into one strategy.
type UserBalance struct {
	StrategyID uint64          `json:"strategyId"`
	User       Identity        `json:"user"`
	Amount     decimal.Decimal `json:"amount"`
	UpdatedAt  uint64          `json:"updatedAt"`
}

// RiskTier identifies one of the three fixed risk parameter tables.
type RiskTier uint32

const (
	TierConservative RiskTier = 1
	TierModerate     RiskTier = 2
	TierAggressive   RiskTier = 3
)

// TierForTolerance maps a 1-10 risk tolerance onto a parameter tier.
func TierForTolerance(tolerance uint32) RiskTier {
	switch {
	case tolerance <= 3:
		return TierConservative
	case tolerance <= 7:
		return TierModerate
	default:
		return TierAggressive
	}
}

// RiskParameters is a per-tier limit table, all values in basis points.
type RiskParameters struct {
	Tier                   RiskTier `json:"tier"`
	MaxAllocationBps       uint32   `json:"maxAllocationBps"`
	VolatilityThresholdBps uint32   `json:"volatilityThresholdBps"`
	CorrelationLimitBps    uint32   `json:"correlationLimitBps"`
	DrawdownLimitBps       uint32   `json:"drawdownLimitBps"`
}

// StrategyRiskMetrics is the current risk assessment of one strategy.
type StrategyRiskMetrics struct {
	StrategyID     uint64 `json:"strategyId"`
	RiskScore      uint32 `json:"riskScore"` // 1-10
	VolatilityBps  uint32 `json:"volatilityBps"`
	MaxDrawdownBps uint32 `json:"maxDrawdownBps"`
	SharpeRatio    int64  `json:"sharpeRatio"` // scale 1e4
	UpdatedAt      uint64 `json:"updatedAt"`
}

// UserRiskProfile is a user's self-declared risk appetite.
type UserRiskProfile struct {
	User               Identity        `json:"user"`
	RiskTolerance      uint32          `json:"riskTolerance"` // 1-10
	MaxExposure        decimal.Decimal `json:"maxExposure"`
	DiversificationMin uint32          `json:"diversificationMin"`
	UpdatedAt          uint64          `json:"updatedAt"`
}

// PortfolioRisk is the aggregated risk of a user's positions.
type PortfolioRisk struct {
	User             Identity        `json:"user"`
	TotalExposure    decimal.Decimal `json:"totalExposure"`
	RiskScore        uint32          `json:"riskScore"`
	CorrelationScore uint32          `json:"correlationScore"`
	CalculatedAt     uint64          `json:"calculatedAt"`
}

// OptimizationType selects the optimization objective.
type OptimizationType uint32

const (
	OptMaximizeReturn  OptimizationType = 1
	OptMinimizeRisk    OptimizationType = 2
	OptMaximizeSharpe  OptimizationType = 3
	OptDiversification OptimizationType = 4
	OptYieldFarming    OptimizationType = 5
)

// Valid reports whether t is one of the five declared objectives.
func (t OptimizationType) Valid() bool {
	return t >= OptMaximizeReturn && t <= OptYieldFarming
}

func (t OptimizationType) String() string {
	switch t {
	case OptMaximizeReturn:
		return "maximize_return"
	case OptMinimizeRisk:
		return "minimize_risk"
	case OptMaximizeSharpe:
		return "maximize_sharpe"
	case OptDiversification:
		return "diversification"
	case OptYieldFarming:
		return "yield_farming"
	default:
		return "unknown"
	}
}

// OptimizationConfig is an operator-defined optimization schedule for a strategy.
type OptimizationConfig struct {
	ID                 uint64           `json:"id"`
	StrategyID         uint64           `json:"strategyId"`
	Type               OptimizationType `json:"type"`
	TargetReturnBps    uint32           `json:"targetReturnBps"`
	MaxRiskBps         uint32           `json:"maxRiskBps"`
	RebalanceFrequency uint64           `json:"rebalanceFrequency"` // height-units
	Active             bool             `json:"active"`
	CreatedAt          uint64           `json:"createdAt"`
}

// AllocationEntry assigns a basis-point weight to a downstream protocol.
type AllocationEntry struct {
	ProtocolID uint64 `json:"protocolId"`
	Bps        uint32 `json:"bps"`
}

// SumBps returns the total weight of an allocation vector.
func SumBps(entries []AllocationEntry) uint64 {
	var sum uint64
	for _, e := range entries {
		sum += uint64(e.Bps)
	}
	return sum
}

// OptimizationResult is a derived target allocation with its predictions.
type OptimizationResult struct {
	ID                 uint64            `json:"id"`
	StrategyID         uint64            `json:"strategyId"`
	Type               OptimizationType  `json:"type"`
	PredictedReturnBps int64             `json:"predictedReturnBps"`
	PredictedRiskBps   uint32            `json:"predictedRiskBps"`
	ConfidenceBps      uint32            `json:"confidenceBps"`
	Allocations        []AllocationEntry `json:"allocations"`
	CreatedAt          uint64            `json:"createdAt"`
}

// PortfolioAllocation is the live allocation of a strategy to one protocol.
type PortfolioAllocation struct {
	StrategyID       uint64 `json:"strategyId"`
	ProtocolID       uint64 `json:"protocolId"`
	CurrentBps       uint32 `json:"currentBps"`
	TargetBps        uint32 `json:"targetBps"`
	LastRebalanced   uint64 `json:"lastRebalanced"`
	PerformanceScore int64  `json:"performanceScore"`
}

// RebalanceRecord is the immutable audit record of one rebalance.
type RebalanceRecord struct {
	ID             uint64            `json:"id"`
	StrategyID     uint64            `json:"strategyId"`
	OldAllocations []AllocationEntry `json:"oldAllocations"`
	NewAllocations []AllocationEntry `json:"newAllocations"`
	Reason         string            `json:"reason"`
	ExecutedAt     uint64            `json:"executedAt"`
}

// StrategyPerformance is the realized performance of a strategy.
type StrategyPerformance struct {
	StrategyID     uint64 `json:"strategyId"`
	TotalReturnBps int64  `json:"totalReturnBps"`
	VolatilityBps  uint32 `json:"volatilityBps"`
	SharpeRatio    int64  `json:"sharpeRatio"` // derived, scale 1e4
	MaxDrawdownBps uint32 `json:"maxDrawdownBps"`
	WinRateBps     uint32 `json:"winRateBps"`
	UpdatedAt      uint64 `json:"updatedAt"`
}

// Recommendation is the advisory output of the optimizer; it never mutates state.
type Recommendation struct {
	StrategyID        uint64            `json:"strategyId"`
	Posture           string            `json:"posture"` // "conservative" or "aggressive"
	TargetAllocations []AllocationEntry `json:"targetAllocations"`
	Rationale         string            `json:"rationale"`
}
