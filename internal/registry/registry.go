// Package registry owns strategy definitions and per-user balances: the
// investable universe.
package registry

import (
	"fmt"
	"strings"

	"github.com/atlas-desktop/allocation-engine/internal/store"
	"github.com/atlas-desktop/allocation-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Registry manages strategies and balances. It is stateless; all state lives
// in the store and every method operates inside the caller's transaction.
type Registry struct {
	logger *zap.Logger
}

// New creates a strategy registry.
func New(logger *zap.Logger) *Registry {
	return &Registry{logger: logger.Named("registry")}
}

// CreateStrategy validates and stores a new strategy, returning its id.
// Anyone may call; the caller becomes the creator.
func (r *Registry) CreateStrategy(txn *store.Txn, caller types.Identity, height uint64,
	name string, minAmount, maxAmount decimal.Decimal, riskLevel uint32) (uint64, error) {

	name = strings.TrimSpace(name)
	if name == "" {
		return 0, fmt.Errorf("%w: strategy name is empty", types.ErrInvalidParameter)
	}
	if len(name) > types.MaxNameLen {
		return 0, fmt.Errorf("%w: strategy name exceeds %d bytes", types.ErrInvalidParameter, types.MaxNameLen)
	}
	if minAmount.LessThanOrEqual(decimal.Zero) {
		return 0, fmt.Errorf("%w: min amount must be positive", types.ErrInvalidParameter)
	}
	if maxAmount.LessThanOrEqual(minAmount) {
		return 0, fmt.Errorf("%w: max amount must exceed min amount", types.ErrInvalidParameter)
	}
	if riskLevel < 1 || riskLevel > types.MaxRiskLevel {
		return 0, fmt.Errorf("%w: risk level %d outside [1,%d]", types.ErrInvalidParameter, riskLevel, types.MaxRiskLevel)
	}

	id, err := txn.NextID(store.FamilyStrategy)
	if err != nil {
		return 0, err
	}

	strategy := types.Strategy{
		ID:        id,
		Name:      name,
		Creator:   caller,
		Active:    true,
		MinAmount: minAmount,
		MaxAmount: maxAmount,
		RiskLevel: riskLevel,
		CreatedAt: height,
	}
	if err := txn.Put(store.StrategyKey(id), strategy); err != nil {
		return 0, err
	}

	r.logger.Info("Strategy created",
		zap.Uint64("id", id),
		zap.String("name", name),
		zap.String("creator", string(caller)),
		zap.Uint32("riskLevel", riskLevel))
	return id, nil
}

// Get returns the strategy for id.
func (r *Registry) Get(txn *store.Txn, id uint64) (types.Strategy, error) {
	var s types.Strategy
	found, err := txn.Get(store.StrategyKey(id), &s)
	if err != nil {
		return types.Strategy{}, err
	}
	if !found {
		return types.Strategy{}, fmt.Errorf("%w: strategy %d", types.ErrNotFound, id)
	}
	return s, nil
}

// List returns all strategies in id order.
func (r *Registry) List(txn *store.Txn) ([]types.Strategy, error) {
	max, err := txn.GetUint64(store.CounterKey(store.FamilyStrategy))
	if err != nil {
		return nil, err
	}
	out := make([]types.Strategy, 0, max)
	for id := uint64(1); id <= max; id++ {
		var s types.Strategy
		found, err := txn.Get(store.StrategyKey(id), &s)
		if err != nil {
			return nil, err
		}
		if found {
			out = append(out, s)
		}
	}
	return out, nil
}

// Invest accumulates amount onto the caller's balance for an active strategy.
// Risk-policy gating happens in the engine before this is reached.
func (r *Registry) Invest(txn *store.Txn, caller types.Identity, height uint64,
	strategyID uint64, amount decimal.Decimal) error {

	strategy, err := r.Get(txn, strategyID)
	if err != nil {
		return err
	}
	if !strategy.Active {
		return fmt.Errorf("%w: strategy %d", types.ErrInactive, strategyID)
	}
	if amount.LessThan(strategy.MinAmount) || amount.GreaterThan(strategy.MaxAmount) {
		return fmt.Errorf("%w: amount %s outside [%s,%s]",
			types.ErrInsufficientBalance, amount, strategy.MinAmount, strategy.MaxAmount)
	}

	balance, err := r.Balance(txn, strategyID, caller)
	if err != nil {
		return err
	}
	balance.StrategyID = strategyID
	balance.User = caller
	balance.Amount = balance.Amount.Add(amount)
	balance.UpdatedAt = height

	if err := txn.Put(store.BalanceKey(strategyID, string(caller)), balance); err != nil {
		return err
	}

	r.logger.Info("Investment recorded",
		zap.Uint64("strategyId", strategyID),
		zap.String("user", string(caller)),
		zap.String("amount", amount.String()),
		zap.String("balance", balance.Amount.String()))
	return nil
}

// Withdraw decrements the caller's balance, never below zero.
func (r *Registry) Withdraw(txn *store.Txn, caller types.Identity, height uint64,
	strategyID uint64, amount decimal.Decimal) error {

	if _, err := r.Get(txn, strategyID); err != nil {
		return err
	}
	if amount.LessThanOrEqual(decimal.Zero) {
		return fmt.Errorf("%w: withdrawal amount must be positive", types.ErrInvalidParameter)
	}

	balance, err := r.Balance(txn, strategyID, caller)
	if err != nil {
		return err
	}
	if amount.GreaterThan(balance.Amount) {
		return fmt.Errorf("%w: withdrawal %s exceeds balance %s",
			types.ErrInsufficientBalance, amount, balance.Amount)
	}

	balance.StrategyID = strategyID
	balance.User = caller
	balance.Amount = balance.Amount.Sub(amount)
	balance.UpdatedAt = height

	if err := txn.Put(store.BalanceKey(strategyID, string(caller)), balance); err != nil {
		return err
	}

	r.logger.Info("Withdrawal recorded",
		zap.Uint64("strategyId", strategyID),
		zap.String("user", string(caller)),
		zap.String("amount", amount.String()),
		zap.String("balance", balance.Amount.String()))
	return nil
}

// Balance returns the stored balance, or a zero balance when none exists.
func (r *Registry) Balance(txn *store.Txn, strategyID uint64, user types.Identity) (types.UserBalance, error) {
	var b types.UserBalance
	found, err := txn.Get(store.BalanceKey(strategyID, string(user)), &b)
	if err != nil {
		return types.UserBalance{}, err
	}
	if !found {
		return types.UserBalance{StrategyID: strategyID, User: user, Amount: decimal.Zero}, nil
	}
	return b, nil
}

// ToggleStatus flips a strategy's active flag. Only the creator may call.
// Deactivation is a flag flip, never removal.
func (r *Registry) ToggleStatus(txn *store.Txn, caller types.Identity, strategyID uint64) (bool, error) {
	strategy, err := r.Get(txn, strategyID)
	if err != nil {
		return false, err
	}
	if strategy.Creator != caller {
		return false, fmt.Errorf("%w: only the creator may toggle strategy %d",
			types.ErrUnauthorized, strategyID)
	}

	strategy.Active = !strategy.Active
	if err := txn.Put(store.StrategyKey(strategyID), strategy); err != nil {
		return false, err
	}

	r.logger.Info("Strategy status toggled",
		zap.Uint64("strategyId", strategyID),
		zap.Bool("active", strategy.Active))
	return strategy.Active, nil
}
