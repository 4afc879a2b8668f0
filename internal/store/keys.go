package store

import "fmt"

// Counter families. Each entity family owns its own counter so ids from
// unrelated families can never collide in cross-references.
const (
	FamilyStrategy           = "strategy"
	FamilyOptimizationConfig = "optimization_config"
	FamilyOptimizationResult = "optimization_result"
	FamilyRebalance          = "rebalance"
)

// HeightKey holds the engine's logical clock.
const HeightKey = "meta/height"

func CounterKey(family string) string {
	return "counter/" + family
}

func StrategyKey(id uint64) string {
	return fmt.Sprintf("strategy/%d", id)
}

func BalanceKey(strategyID uint64, user string) string {
	return fmt.Sprintf("balance/%d/%s", strategyID, user)
}

func RiskParamsKey(tier uint32) string {
	return fmt.Sprintf("riskparams/%d", tier)
}

func RiskMetricsKey(strategyID uint64) string {
	return fmt.Sprintf("riskmetrics/%d", strategyID)
}

func RiskProfileKey(user string) string {
	return "riskprofile/" + user
}

func PortfolioRiskKey(user string) string {
	return "portfoliorisk/" + user
}

func OptimizationConfigKey(id uint64) string {
	return fmt.Sprintf("optconfig/%d", id)
}

func OptimizationResultKey(id uint64) string {
	return fmt.Sprintf("optresult/%d", id)
}

func AllocationKey(strategyID, protocolID uint64) string {
	return fmt.Sprintf("alloc/%d/%d", strategyID, protocolID)
}

func AllocationPrefix(strategyID uint64) string {
	return fmt.Sprintf("alloc/%d/", strategyID)
}

func RebalanceMetaKey(strategyID uint64) string {
	return fmt.Sprintf("rebalmeta/%d", strategyID)
}

func RebalanceRecordKey(id uint64) string {
	return fmt.Sprintf("rebalance/%d", id)
}

func PerformanceKey(strategyID uint64) string {
	return fmt.Sprintf("performance/%d", strategyID)
}

func ParamKey(name string) string {
	return "param/" + name
}

func UpdaterKey(identity string) string {
	return "acl/updater/" + identity
}

// OperatorKey holds the current operator identity (ownership is transferable).
const OperatorKey = "acl/operator"
