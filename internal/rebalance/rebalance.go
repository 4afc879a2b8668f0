// Package rebalance enforces the cooldown interval, applies approved
// allocation vectors to portfolio state, and appends immutable audit records.
package rebalance

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/atlas-desktop/allocation-engine/internal/directory"
	"github.com/atlas-desktop/allocation-engine/internal/store"
	"github.com/atlas-desktop/allocation-engine/pkg/types"
	"go.uber.org/zap"
)

// DefaultMinInterval is the default cooldown between rebalances of the same
// strategy, in height-units (roughly 24h).
const DefaultMinInterval uint64 = 144

// ParamMinInterval names the stored cooldown interval.
const ParamMinInterval = "min_rebalance_interval"

// meta tracks per-strategy rebalance state. One record per strategy keeps the
// cooldown gate independent of how many protocols the strategy allocates to.
type meta struct {
	StrategyID     uint64 `json:"strategyId"`
	LastRebalanced uint64 `json:"lastRebalanced"`
	Count          uint64 `json:"count"`
}

// Coordinator admits or rejects rebalance proposals and writes allocation
// state.
type Coordinator struct {
	logger *zap.Logger
	dir    directory.Directory
}

// New creates a rebalance coordinator.
func New(logger *zap.Logger, dir directory.Directory) *Coordinator {
	return &Coordinator{
		logger: logger.Named("rebalance"),
		dir:    dir,
	}
}

// MinInterval returns the active cooldown interval.
func (c *Coordinator) MinInterval(txn *store.Txn) (uint64, error) {
	var v uint64
	found, err := txn.Get(store.ParamKey(ParamMinInterval), &v)
	if err != nil {
		return 0, err
	}
	if !found {
		return DefaultMinInterval, nil
	}
	return v, nil
}

// SetMinInterval tunes the cooldown. Operator gating happens in the engine.
func (c *Coordinator) SetMinInterval(txn *store.Txn, interval uint64) error {
	if interval == 0 {
		return fmt.Errorf("%w: rebalance interval must be positive", types.ErrInvalidParameter)
	}
	return txn.Put(store.ParamKey(ParamMinInterval), interval)
}

// CanRebalance reports whether the cooldown gate admits a rebalance at the
// given height: true when the strategy has never rebalanced, or when the
// interval has elapsed since the last one.
func (c *Coordinator) CanRebalance(txn *store.Txn, strategyID, height uint64) (bool, error) {
	var m meta
	found, err := txn.Get(store.RebalanceMetaKey(strategyID), &m)
	if err != nil {
		return false, err
	}
	if !found {
		return true, nil
	}
	interval, err := c.MinInterval(txn)
	if err != nil {
		return false, err
	}
	return height-m.LastRebalanced >= interval, nil
}

// validateVector checks an incoming allocation vector: 1..10 entries, known
// whitelisted protocols, no duplicates, weights within scale, total <= 10000.
func (c *Coordinator) validateVector(allocations []types.AllocationEntry) error {
	if len(allocations) == 0 {
		return fmt.Errorf("%w: allocation vector is empty", types.ErrInvalidParameter)
	}
	if len(allocations) > types.MaxAllocationEntries {
		return fmt.Errorf("%w: allocation vector exceeds %d entries",
			types.ErrInvalidParameter, types.MaxAllocationEntries)
	}

	seen := make(map[uint64]bool, len(allocations))
	for _, entry := range allocations {
		if seen[entry.ProtocolID] {
			return fmt.Errorf("%w: duplicate protocol %d in allocation vector",
				types.ErrInvalidParameter, entry.ProtocolID)
		}
		seen[entry.ProtocolID] = true

		protocol, ok := c.dir.Protocol(entry.ProtocolID)
		if !ok {
			return fmt.Errorf("%w: protocol %d", types.ErrNotFound, entry.ProtocolID)
		}
		if !protocol.Whitelisted {
			return fmt.Errorf("%w: protocol %d is not whitelisted", types.ErrInactive, entry.ProtocolID)
		}
		if entry.Bps > types.BpsScale {
			return fmt.Errorf("%w: allocation %d bps exceeds %d",
				types.ErrInvalidParameter, entry.Bps, types.BpsScale)
		}
	}

	if sum := types.SumBps(allocations); sum > uint64(types.BpsScale) {
		return fmt.Errorf("%w: allocation vector sums to %d bps, limit %d",
			types.ErrInvalidParameter, sum, types.BpsScale)
	}
	return nil
}

// Execute applies an approved allocation vector. It writes one
// PortfolioAllocation per entry, appends an immutable RebalanceRecord holding
// both the previous and new vectors, and advances the strategy's
// last-rebalanced height. All writes share the caller's transaction, so the
// full vector applies or none of it does. Operator gating happens in the
// engine.
func (c *Coordinator) Execute(txn *store.Txn, height uint64,
	strategyID uint64, allocations []types.AllocationEntry, reason string) (uint64, error) {

	exists, err := txn.Has(store.StrategyKey(strategyID))
	if err != nil {
		return 0, err
	}
	if !exists {
		return 0, fmt.Errorf("%w: strategy %d", types.ErrNotFound, strategyID)
	}

	reason = strings.TrimSpace(reason)
	if len(reason) > types.MaxReasonLen {
		return 0, fmt.Errorf("%w: trigger reason exceeds %d bytes",
			types.ErrInvalidParameter, types.MaxReasonLen)
	}

	ok, err := c.CanRebalance(txn, strategyID, height)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("%w: rebalance cooldown for strategy %d has not elapsed",
			types.ErrRateLimited, strategyID)
	}

	if err := c.validateVector(allocations); err != nil {
		return 0, err
	}

	// Read the prior vector before overwriting so the audit record holds the
	// true previous state.
	previous, err := c.Allocations(txn, strategyID)
	if err != nil {
		return 0, err
	}
	oldVector := make([]types.AllocationEntry, 0, len(previous))
	for _, alloc := range previous {
		oldVector = append(oldVector, types.AllocationEntry{
			ProtocolID: alloc.ProtocolID,
			Bps:        alloc.CurrentBps,
		})
	}

	for _, entry := range allocations {
		var alloc types.PortfolioAllocation
		found, err := txn.Get(store.AllocationKey(strategyID, entry.ProtocolID), &alloc)
		if err != nil {
			return 0, err
		}
		if !found {
			alloc = types.PortfolioAllocation{StrategyID: strategyID, ProtocolID: entry.ProtocolID}
		}
		alloc.CurrentBps = entry.Bps
		alloc.TargetBps = entry.Bps
		alloc.LastRebalanced = height
		if err := txn.Put(store.AllocationKey(strategyID, entry.ProtocolID), alloc); err != nil {
			return 0, err
		}
	}

	id, err := txn.NextID(store.FamilyRebalance)
	if err != nil {
		return 0, err
	}
	record := types.RebalanceRecord{
		ID:             id,
		StrategyID:     strategyID,
		OldAllocations: oldVector,
		NewAllocations: allocations,
		Reason:         reason,
		ExecutedAt:     height,
	}
	if err := txn.Put(store.RebalanceRecordKey(id), record); err != nil {
		return 0, err
	}

	var m meta
	if _, err := txn.Get(store.RebalanceMetaKey(strategyID), &m); err != nil {
		return 0, err
	}
	m.StrategyID = strategyID
	m.LastRebalanced = height
	m.Count++
	if err := txn.Put(store.RebalanceMetaKey(strategyID), m); err != nil {
		return 0, err
	}

	c.logger.Info("Rebalance executed",
		zap.Uint64("strategyId", strategyID),
		zap.Uint64("rebalanceId", id),
		zap.Int("entries", len(allocations)),
		zap.String("reason", reason))
	return id, nil
}

// Allocations returns a strategy's live allocations in key order.
func (c *Coordinator) Allocations(txn *store.Txn, strategyID uint64) ([]types.PortfolioAllocation, error) {
	var out []types.PortfolioAllocation
	err := txn.IteratePrefix(store.AllocationPrefix(strategyID), func(key string, value []byte) error {
		var alloc types.PortfolioAllocation
		if err := json.Unmarshal(value, &alloc); err != nil {
			return fmt.Errorf("rebalance: decode %s: %w", key, err)
		}
		out = append(out, alloc)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Record returns one immutable rebalance record by id.
func (c *Coordinator) Record(txn *store.Txn, id uint64) (types.RebalanceRecord, error) {
	var record types.RebalanceRecord
	found, err := txn.Get(store.RebalanceRecordKey(id), &record)
	if err != nil {
		return types.RebalanceRecord{}, err
	}
	if !found {
		return types.RebalanceRecord{}, fmt.Errorf("%w: rebalance record %d", types.ErrNotFound, id)
	}
	return record, nil
}
