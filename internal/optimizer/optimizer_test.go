package optimizer_test

import (
	"errors"
	"testing"

	"github.com/atlas-desktop/allocation-engine/internal/directory"
	"github.com/atlas-desktop/allocation-engine/internal/optimizer"
	"github.com/atlas-desktop/allocation-engine/internal/oracle"
	"github.com/atlas-desktop/allocation-engine/internal/registry"
	"github.com/atlas-desktop/allocation-engine/internal/risk"
	"github.com/atlas-desktop/allocation-engine/internal/store"
	"github.com/atlas-desktop/allocation-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const alice = types.Identity("alice")

type fixture struct {
	optimizer  *optimizer.Optimizer
	risk       *risk.Engine
	registry   *registry.Registry
	store      *store.Store
	strategyID uint64
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := store.Open(zap.NewNop(), store.Options{InMemory: true})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := zap.NewNop()
	riskEngine := risk.New(logger)
	f := &fixture{
		optimizer: optimizer.New(logger, directory.NewStatic(directory.DefaultProtocols()),
			oracle.NewGate(logger), riskEngine),
		risk:     riskEngine,
		registry: registry.New(logger),
		store:    st,
	}
	err = st.Update(func(txn *store.Txn) error {
		var err error
		f.strategyID, err = f.registry.CreateStrategy(txn, alice, 1, "pool",
			decimal.NewFromInt(1), decimal.NewFromInt(1000), 5)
		return err
	})
	if err != nil {
		t.Fatalf("create strategy: %v", err)
	}
	return f
}

func (f *fixture) optimize(t *testing.T, optType types.OptimizationType,
	conditions string, signal *oracle.Datum) types.OptimizationResult {
	t.Helper()
	var result types.OptimizationResult
	err := f.store.Update(func(txn *store.Txn) error {
		var err error
		result, err = f.optimizer.Optimize(txn, 1000, f.strategyID, optType, conditions, signal)
		return err
	})
	if err != nil {
		t.Fatalf("optimize: %v", err)
	}
	return result
}

func TestOptimizeSumsToFullScale(t *testing.T) {
	f := newFixture(t)

	for _, optType := range []types.OptimizationType{
		types.OptMaximizeReturn,
		types.OptMinimizeRisk,
		types.OptMaximizeSharpe,
		types.OptDiversification,
		types.OptYieldFarming,
	} {
		t.Run(optType.String(), func(t *testing.T) {
			result := f.optimize(t, optType, "", nil)
			if sum := types.SumBps(result.Allocations); sum != uint64(types.BpsScale) {
				t.Errorf("allocation sum = %d, want exactly %d", sum, types.BpsScale)
			}
			if len(result.Allocations) == 0 || len(result.Allocations) > types.MaxAllocationEntries {
				t.Errorf("allocation count = %d, want 1..%d", len(result.Allocations), types.MaxAllocationEntries)
			}
		})
	}
}

func TestOptimizeValidation(t *testing.T) {
	f := newFixture(t)

	err := f.store.Update(func(txn *store.Txn) error {
		if _, err := f.optimizer.Optimize(txn, 1000, 0, types.OptMaximizeReturn, "", nil); !errors.Is(err, types.ErrInvalidParameter) {
			t.Errorf("strategy id 0 = %v, want ErrInvalidParameter", err)
		}
		if _, err := f.optimizer.Optimize(txn, 1000, 99, types.OptMaximizeReturn, "", nil); !errors.Is(err, types.ErrNotFound) {
			t.Errorf("unknown strategy = %v, want ErrNotFound", err)
		}
		if _, err := f.optimizer.Optimize(txn, 1000, f.strategyID, types.OptimizationType(9), "", nil); !errors.Is(err, types.ErrInvalidParameter) {
			t.Errorf("unknown type = %v, want ErrInvalidParameter", err)
		}
		long := "0123456789012345678901234567890123456789"
		if _, err := f.optimizer.Optimize(txn, 1000, f.strategyID, types.OptMaximizeReturn, long, nil); !errors.Is(err, types.ErrInvalidParameter) {
			t.Errorf("oversized conditions = %v, want ErrInvalidParameter", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
}

func TestSentimentTilt(t *testing.T) {
	f := newFixture(t)

	base := f.optimize(t, types.OptMaximizeReturn, "", nil)
	bull := f.optimize(t, types.OptMaximizeReturn, "bull", nil)
	bear := f.optimize(t, types.OptMaximizeReturn, "bear", nil)

	if bull.Allocations[0].Bps <= base.Allocations[0].Bps {
		t.Errorf("bull lead weight %d not above base %d",
			bull.Allocations[0].Bps, base.Allocations[0].Bps)
	}
	if bear.Allocations[0].Bps >= base.Allocations[0].Bps {
		t.Errorf("bear lead weight %d not below base %d",
			bear.Allocations[0].Bps, base.Allocations[0].Bps)
	}
	for _, result := range []types.OptimizationResult{bull, bear} {
		if sum := types.SumBps(result.Allocations); sum != uint64(types.BpsScale) {
			t.Errorf("tilted sum = %d, want %d", sum, types.BpsScale)
		}
	}
}

func TestSignalGating(t *testing.T) {
	f := newFixture(t)

	// A low-confidence signal degrades to no actionable signal: the result
	// keeps the default confidence rather than failing.
	weak := &oracle.Datum{Name: "sentiment", Value: 10, ConfidenceBps: 5000, RecordedAt: 999}
	result := f.optimize(t, types.OptMaximizeReturn, "", weak)
	if result.ConfidenceBps != optimizer.DefaultConfidenceBps {
		t.Errorf("confidence with rejected signal = %d, want default %d",
			result.ConfidenceBps, optimizer.DefaultConfidenceBps)
	}

	// An accepted signal carries its confidence into the result and a
	// positive value tilts bullish.
	strong := &oracle.Datum{Name: "sentiment", Value: 10, ConfidenceBps: 9000, RecordedAt: 999}
	accepted := f.optimize(t, types.OptMaximizeReturn, "", strong)
	if accepted.ConfidenceBps != 9000 {
		t.Errorf("confidence with accepted signal = %d, want 9000", accepted.ConfidenceBps)
	}
	if accepted.Allocations[0].Bps <= result.Allocations[0].Bps {
		t.Errorf("positive signal lead weight %d not above neutral %d",
			accepted.Allocations[0].Bps, result.Allocations[0].Bps)
	}
}

func TestResultIDsMonotonic(t *testing.T) {
	f := newFixture(t)

	first := f.optimize(t, types.OptMaximizeReturn, "", nil)
	second := f.optimize(t, types.OptMinimizeRisk, "", nil)
	if second.ID != first.ID+1 {
		t.Errorf("result ids = %d, %d, want consecutive", first.ID, second.ID)
	}

	err := f.store.View(func(txn *store.Txn) error {
		stored, err := f.optimizer.Result(txn, first.ID)
		if err != nil {
			return err
		}
		if stored.Type != types.OptMaximizeReturn {
			t.Errorf("stored type = %v, want maximize_return", stored.Type)
		}
		if _, err := f.optimizer.Result(txn, 99); !errors.Is(err, types.ErrNotFound) {
			t.Errorf("unknown result = %v, want ErrNotFound", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("view: %v", err)
	}
}

func TestCreateConfig(t *testing.T) {
	f := newFixture(t)

	err := f.store.Update(func(txn *store.Txn) error {
		if _, err := f.optimizer.CreateConfig(txn, 1, 99, types.OptMaximizeReturn, 1000, 2000, 100); !errors.Is(err, types.ErrNotFound) {
			t.Errorf("config for unknown strategy = %v, want ErrNotFound", err)
		}
		if _, err := f.optimizer.CreateConfig(txn, 1, f.strategyID, types.OptMaximizeReturn, 0, 2000, 100); !errors.Is(err, types.ErrInvalidParameter) {
			t.Errorf("zero target return = %v, want ErrInvalidParameter", err)
		}

		id, err := f.optimizer.CreateConfig(txn, 1, f.strategyID, types.OptMaximizeSharpe, 1000, 2000, 100)
		if err != nil {
			return err
		}
		config, err := f.optimizer.Config(txn, id)
		if err != nil {
			return err
		}
		if !config.Active || config.Type != types.OptMaximizeSharpe {
			t.Errorf("stored config = %+v, want active maximize_sharpe", config)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
}

func TestRecommend(t *testing.T) {
	f := newFixture(t)

	conservative, err := f.optimizer.Recommend(f.strategyID, 2, "")
	if err != nil {
		t.Fatalf("recommend: %v", err)
	}
	if conservative.Posture != "conservative" {
		t.Errorf("posture at tolerance 2 = %q, want conservative", conservative.Posture)
	}
	if sum := types.SumBps(conservative.TargetAllocations); sum != uint64(types.BpsScale) {
		t.Errorf("recommendation sum = %d, want %d", sum, types.BpsScale)
	}

	aggressive, err := f.optimizer.Recommend(f.strategyID, 8, "bearish")
	if err != nil {
		t.Fatalf("recommend: %v", err)
	}
	if aggressive.Posture != "aggressive" {
		t.Errorf("posture at tolerance 8 = %q, want aggressive", aggressive.Posture)
	}

	if _, err := f.optimizer.Recommend(0, 5, ""); !errors.Is(err, types.ErrInvalidParameter) {
		t.Errorf("strategy id 0 = %v, want ErrInvalidParameter", err)
	}
	if _, err := f.optimizer.Recommend(f.strategyID, 0, ""); !errors.Is(err, types.ErrInvalidParameter) {
		t.Errorf("tolerance 0 = %v, want ErrInvalidParameter", err)
	}
}
