package engine

// EventType classifies engine events published to subscribers.
type EventType string

const (
	EventStrategyCreated   EventType = "strategy_created"
	EventStrategyToggled   EventType = "strategy_toggled"
	EventInvestment        EventType = "investment"
	EventWithdrawal        EventType = "withdrawal"
	EventRiskRejection     EventType = "risk_rejection"
	EventOptimization      EventType = "optimization_complete"
	EventRebalanceExecuted EventType = "rebalance_executed"
	EventPerformanceUpdate EventType = "performance_update"
)

// Event is one engine state change, published after the transaction commits.
type Event struct {
	Type    EventType `json:"type"`
	Height  uint64    `json:"height"`
	Payload any       `json:"payload,omitempty"`
}
