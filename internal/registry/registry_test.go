package registry_test

import (
	"errors"
	"testing"

	"github.com/atlas-desktop/allocation-engine/internal/registry"
	"github.com/atlas-desktop/allocation-engine/internal/store"
	"github.com/atlas-desktop/allocation-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	alice = types.Identity("alice")
	bob   = types.Identity("bob")
)

func newRegistry(t *testing.T) (*registry.Registry, *store.Store) {
	t.Helper()
	st, err := store.Open(zap.NewNop(), store.Options{InMemory: true})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return registry.New(zap.NewNop()), st
}

func createStrategy(t *testing.T, r *registry.Registry, st *store.Store, creator types.Identity) uint64 {
	t.Helper()
	var id uint64
	err := st.Update(func(txn *store.Txn) error {
		var err error
		id, err = r.CreateStrategy(txn, creator, 1, "yield-pool",
			decimal.NewFromInt(10), decimal.NewFromInt(1000), 5)
		return err
	})
	if err != nil {
		t.Fatalf("create strategy: %v", err)
	}
	return id
}

func TestCreateStrategyValidation(t *testing.T) {
	r, st := newRegistry(t)

	cases := []struct {
		name      string
		strName   string
		min, max  int64
		riskLevel uint32
	}{
		{"empty name", "", 10, 100, 5},
		{"min not positive", "s", 0, 100, 5},
		{"max not above min", "s", 100, 100, 5},
		{"risk level zero", "s", 10, 100, 0},
		{"risk level too high", "s", 10, 100, 11},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := st.Update(func(txn *store.Txn) error {
				_, err := r.CreateStrategy(txn, alice, 1, tc.strName,
					decimal.NewFromInt(tc.min), decimal.NewFromInt(tc.max), tc.riskLevel)
				return err
			})
			if !errors.Is(err, types.ErrInvalidParameter) {
				t.Errorf("CreateStrategy() = %v, want ErrInvalidParameter", err)
			}
		})
	}
}

func TestStrategyIDsMonotonic(t *testing.T) {
	r, st := newRegistry(t)

	first := createStrategy(t, r, st, alice)
	second := createStrategy(t, r, st, alice)
	if first != 1 || second != 2 {
		t.Errorf("ids = %d, %d, want 1, 2", first, second)
	}

	err := st.View(func(txn *store.Txn) error {
		strategies, err := r.List(txn)
		if err != nil {
			return err
		}
		if len(strategies) != 2 {
			t.Errorf("List() returned %d strategies, want 2", len(strategies))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
}

func TestInvest(t *testing.T) {
	r, st := newRegistry(t)
	id := createStrategy(t, r, st, alice)

	// Unknown strategy.
	err := st.Update(func(txn *store.Txn) error {
		return r.Invest(txn, bob, 2, 99, decimal.NewFromInt(50))
	})
	if !errors.Is(err, types.ErrNotFound) {
		t.Errorf("invest in unknown strategy = %v, want ErrNotFound", err)
	}

	// Outside the per-strategy bounds.
	err = st.Update(func(txn *store.Txn) error {
		return r.Invest(txn, bob, 2, id, decimal.NewFromInt(5))
	})
	if !errors.Is(err, types.ErrInsufficientBalance) {
		t.Errorf("invest below minimum = %v, want ErrInsufficientBalance", err)
	}
	err = st.Update(func(txn *store.Txn) error {
		return r.Invest(txn, bob, 2, id, decimal.NewFromInt(2000))
	})
	if !errors.Is(err, types.ErrInsufficientBalance) {
		t.Errorf("invest above maximum = %v, want ErrInsufficientBalance", err)
	}

	// Two valid deposits accumulate.
	for _, amount := range []int64{100, 50} {
		err = st.Update(func(txn *store.Txn) error {
			return r.Invest(txn, bob, 3, id, decimal.NewFromInt(amount))
		})
		if err != nil {
			t.Fatalf("invest: %v", err)
		}
	}

	err = st.View(func(txn *store.Txn) error {
		balance, err := r.Balance(txn, id, bob)
		if err != nil {
			return err
		}
		if !balance.Amount.Equal(decimal.NewFromInt(150)) {
			t.Errorf("balance = %s, want 150", balance.Amount)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
}

func TestInvestInactiveStrategy(t *testing.T) {
	r, st := newRegistry(t)
	id := createStrategy(t, r, st, alice)

	err := st.Update(func(txn *store.Txn) error {
		_, err := r.ToggleStatus(txn, alice, id)
		return err
	})
	if err != nil {
		t.Fatalf("toggle: %v", err)
	}

	err = st.Update(func(txn *store.Txn) error {
		return r.Invest(txn, bob, 2, id, decimal.NewFromInt(50))
	})
	if !errors.Is(err, types.ErrInactive) {
		t.Errorf("invest in inactive strategy = %v, want ErrInactive", err)
	}
}

func TestWithdrawBound(t *testing.T) {
	r, st := newRegistry(t)
	id := createStrategy(t, r, st, alice)

	err := st.Update(func(txn *store.Txn) error {
		return r.Invest(txn, bob, 2, id, decimal.NewFromInt(100))
	})
	if err != nil {
		t.Fatalf("invest: %v", err)
	}

	// Overdraw fails and must leave the balance untouched.
	err = st.Update(func(txn *store.Txn) error {
		return r.Withdraw(txn, bob, 3, id, decimal.NewFromInt(150))
	})
	if !errors.Is(err, types.ErrInsufficientBalance) {
		t.Errorf("overdraw = %v, want ErrInsufficientBalance", err)
	}

	err = st.View(func(txn *store.Txn) error {
		balance, err := r.Balance(txn, id, bob)
		if err != nil {
			return err
		}
		if !balance.Amount.Equal(decimal.NewFromInt(100)) {
			t.Errorf("balance after failed overdraw = %s, want 100", balance.Amount)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("balance: %v", err)
	}

	// Full withdrawal succeeds.
	err = st.Update(func(txn *store.Txn) error {
		return r.Withdraw(txn, bob, 4, id, decimal.NewFromInt(100))
	})
	if err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	err = st.View(func(txn *store.Txn) error {
		balance, err := r.Balance(txn, id, bob)
		if err != nil {
			return err
		}
		if !balance.Amount.IsZero() {
			t.Errorf("balance after full withdrawal = %s, want 0", balance.Amount)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
}

func TestToggleStatus(t *testing.T) {
	r, st := newRegistry(t)
	id := createStrategy(t, r, st, alice)

	// Only the creator may toggle.
	err := st.Update(func(txn *store.Txn) error {
		_, err := r.ToggleStatus(txn, bob, id)
		return err
	})
	if !errors.Is(err, types.ErrUnauthorized) {
		t.Errorf("toggle by non-creator = %v, want ErrUnauthorized", err)
	}

	// Two toggles return to the original state.
	for i, want := range []bool{false, true} {
		var active bool
		err := st.Update(func(txn *store.Txn) error {
			var err error
			active, err = r.ToggleStatus(txn, alice, id)
			return err
		})
		if err != nil {
			t.Fatalf("toggle %d: %v", i, err)
		}
		if active != want {
			t.Errorf("toggle %d active = %v, want %v", i, active, want)
		}
	}
}
