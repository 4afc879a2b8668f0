package identity_test

import (
	"errors"
	"testing"

	"github.com/atlas-desktop/allocation-engine/internal/identity"
	"github.com/atlas-desktop/allocation-engine/internal/store"
	"github.com/atlas-desktop/allocation-engine/pkg/types"
	"go.uber.org/zap"
)

const (
	operator = types.Identity("op")
	alice    = types.Identity("alice")
	bob      = types.Identity("bob")
)

func newGate(t *testing.T) (*identity.Gate, *store.Store) {
	t.Helper()
	st, err := store.Open(zap.NewNop(), store.Options{InMemory: true})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	gate := identity.NewGate(zap.NewNop())
	err = st.Update(func(txn *store.Txn) error {
		return gate.Seed(txn, operator)
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	return gate, st
}

func TestSeedIdempotent(t *testing.T) {
	gate, st := newGate(t)

	// A second seed must not replace the stored operator.
	err := st.Update(func(txn *store.Txn) error {
		return gate.Seed(txn, alice)
	})
	if err != nil {
		t.Fatalf("reseed: %v", err)
	}

	err = st.View(func(txn *store.Txn) error {
		got, err := gate.Operator(txn)
		if err != nil {
			return err
		}
		if got != operator {
			t.Errorf("operator = %q, want %q", got, operator)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestRequireOperator(t *testing.T) {
	gate, st := newGate(t)

	err := st.View(func(txn *store.Txn) error {
		if err := gate.RequireOperator(txn, operator); err != nil {
			t.Errorf("operator rejected: %v", err)
		}
		if err := gate.RequireOperator(txn, alice); !errors.Is(err, types.ErrUnauthorized) {
			t.Errorf("non-operator error = %v, want ErrUnauthorized", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestUpdaterLifecycle(t *testing.T) {
	gate, st := newGate(t)

	// Only the operator may grant.
	err := st.Update(func(txn *store.Txn) error {
		if err := gate.AddUpdater(txn, alice, bob); !errors.Is(err, types.ErrUnauthorized) {
			t.Errorf("grant by non-operator error = %v, want ErrUnauthorized", err)
		}
		return gate.AddUpdater(txn, operator, alice)
	})
	if err != nil {
		t.Fatalf("grant: %v", err)
	}

	err = st.View(func(txn *store.Txn) error {
		if err := gate.RequireUpdater(txn, alice); err != nil {
			t.Errorf("granted updater rejected: %v", err)
		}
		// The operator is always an authorized updater.
		if err := gate.RequireUpdater(txn, operator); err != nil {
			t.Errorf("operator rejected as updater: %v", err)
		}
		if err := gate.RequireUpdater(txn, bob); !errors.Is(err, types.ErrUnauthorized) {
			t.Errorf("ungranted updater error = %v, want ErrUnauthorized", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}

	err = st.Update(func(txn *store.Txn) error {
		return gate.RemoveUpdater(txn, operator, alice)
	})
	if err != nil {
		t.Fatalf("revoke: %v", err)
	}

	err = st.View(func(txn *store.Txn) error {
		if err := gate.RequireUpdater(txn, alice); !errors.Is(err, types.ErrUnauthorized) {
			t.Errorf("revoked updater error = %v, want ErrUnauthorized", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestTransferOperator(t *testing.T) {
	gate, st := newGate(t)

	err := st.Update(func(txn *store.Txn) error {
		if err := gate.TransferOperator(txn, alice, bob); !errors.Is(err, types.ErrUnauthorized) {
			t.Errorf("transfer by non-operator error = %v, want ErrUnauthorized", err)
		}
		return gate.TransferOperator(txn, operator, alice)
	})
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}

	err = st.View(func(txn *store.Txn) error {
		if err := gate.RequireOperator(txn, alice); err != nil {
			t.Errorf("new operator rejected: %v", err)
		}
		if err := gate.RequireOperator(txn, operator); !errors.Is(err, types.ErrUnauthorized) {
			t.Errorf("old operator error = %v, want ErrUnauthorized", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}
