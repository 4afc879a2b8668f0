// Package identity answers "is this caller the operator / an authorized
// updater". The operator is seeded from deployment config but stored as
// mutable state so ownership can be transferred without redeploying.
package identity

import (
	"fmt"

	"github.com/atlas-desktop/allocation-engine/internal/store"
	"github.com/atlas-desktop/allocation-engine/pkg/types"
	"go.uber.org/zap"
)

// Gate enforces operator and authorized-updater checks.
type Gate struct {
	logger *zap.Logger
}

// NewGate creates an identity gate.
func NewGate(logger *zap.Logger) *Gate {
	return &Gate{logger: logger.Named("identity")}
}

// Seed stores the configured operator if none has been set yet. Idempotent so
// a restart never overwrites a transferred ownership.
func (g *Gate) Seed(txn *store.Txn, operator types.Identity) error {
	if operator == "" {
		return fmt.Errorf("%w: operator identity is empty", types.ErrInvalidParameter)
	}
	exists, err := txn.Has(store.OperatorKey)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}
	return txn.Put(store.OperatorKey, operator)
}

// Operator returns the current operator identity.
func (g *Gate) Operator(txn *store.Txn) (types.Identity, error) {
	var op types.Identity
	found, err := txn.Get(store.OperatorKey, &op)
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("%w: operator not initialized", types.ErrNotFound)
	}
	return op, nil
}

// RequireOperator fails with Unauthorized unless caller is the operator.
func (g *Gate) RequireOperator(txn *store.Txn, caller types.Identity) error {
	op, err := g.Operator(txn)
	if err != nil {
		return err
	}
	if caller != op {
		return fmt.Errorf("%w: caller %q is not the operator", types.ErrUnauthorized, caller)
	}
	return nil
}

// IsAuthorizedUpdater reports whether caller is the operator or a member of
// the authorized-updater set.
func (g *Gate) IsAuthorizedUpdater(txn *store.Txn, caller types.Identity) (bool, error) {
	op, err := g.Operator(txn)
	if err != nil {
		return false, err
	}
	if caller == op {
		return true, nil
	}
	var enabled bool
	found, err := txn.Get(store.UpdaterKey(string(caller)), &enabled)
	if err != nil {
		return false, err
	}
	return found && enabled, nil
}

// RequireUpdater fails with Unauthorized unless caller may update metrics.
func (g *Gate) RequireUpdater(txn *store.Txn, caller types.Identity) error {
	ok, err := g.IsAuthorizedUpdater(txn, caller)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: caller %q is not an authorized updater", types.ErrUnauthorized, caller)
	}
	return nil
}

// AddUpdater adds an identity to the authorized-updater set. Operator-only.
func (g *Gate) AddUpdater(txn *store.Txn, caller, updater types.Identity) error {
	if err := g.RequireOperator(txn, caller); err != nil {
		return err
	}
	if updater == "" {
		return fmt.Errorf("%w: updater identity is empty", types.ErrInvalidParameter)
	}
	return txn.Put(store.UpdaterKey(string(updater)), true)
}

// RemoveUpdater removes an identity from the authorized-updater set by
// flipping its flag; entries are never physically deleted (audit trail).
func (g *Gate) RemoveUpdater(txn *store.Txn, caller, updater types.Identity) error {
	if err := g.RequireOperator(txn, caller); err != nil {
		return err
	}
	exists, err := txn.Has(store.UpdaterKey(string(updater)))
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: updater %q", types.ErrNotFound, updater)
	}
	return txn.Put(store.UpdaterKey(string(updater)), false)
}

// TransferOperator hands ownership to a new identity. Operator-only.
func (g *Gate) TransferOperator(txn *store.Txn, caller, next types.Identity) error {
	if err := g.RequireOperator(txn, caller); err != nil {
		return err
	}
	if next == "" {
		return fmt.Errorf("%w: new operator identity is empty", types.ErrInvalidParameter)
	}
	g.logger.Info("Operator transferred",
		zap.String("from", string(caller)),
		zap.String("to", string(next)))
	return txn.Put(store.OperatorKey, next)
}
