package engine_test

import (
	"errors"
	"testing"

	"github.com/atlas-desktop/allocation-engine/internal/directory"
	"github.com/atlas-desktop/allocation-engine/internal/engine"
	"github.com/atlas-desktop/allocation-engine/internal/store"
	"github.com/atlas-desktop/allocation-engine/pkg/types"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	operator = types.Identity("op")
	alice    = types.Identity("alice")
	bob      = types.Identity("bob")
)

func newEngine(t *testing.T) *engine.Engine {
	t.Helper()
	st, err := store.Open(zap.NewNop(), store.Options{InMemory: true})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	eng, err := engine.New(zap.NewNop(), st,
		directory.NewStatic(directory.DefaultProtocols()),
		types.EngineConfig{Operator: operator}, nil)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return eng
}

func createStrategy(t *testing.T, eng *engine.Engine, creator types.Identity, riskLevel uint32) uint64 {
	t.Helper()
	id, err := eng.CreateStrategy(creator, "pool", decimal.NewFromInt(1), decimal.NewFromInt(100000), riskLevel)
	if err != nil {
		t.Fatalf("create strategy: %v", err)
	}
	return id
}

func TestHeightAdvancesPerCommittedOperation(t *testing.T) {
	eng := newEngine(t)

	if h := eng.Height(); h != 0 {
		t.Fatalf("initial height = %d, want 0", h)
	}

	createStrategy(t, eng, alice, 5)
	if h := eng.Height(); h != 1 {
		t.Errorf("height after one op = %d, want 1", h)
	}

	// A failed operation consumes no tick.
	if _, err := eng.CreateStrategy(alice, "", decimal.NewFromInt(1), decimal.NewFromInt(10), 5); err == nil {
		t.Fatal("expected invalid strategy to fail")
	}
	if h := eng.Height(); h != 1 {
		t.Errorf("height after failed op = %d, want 1", h)
	}

	if err := eng.AdvanceHeight(10); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if h := eng.Height(); h != 11 {
		t.Errorf("height after advance = %d, want 11", h)
	}
}

func TestInvestWithoutProfileSkipsRiskGate(t *testing.T) {
	eng := newEngine(t)
	id := createStrategy(t, eng, alice, 10)

	// Bob has no risk profile; even a max-risk strategy admits him.
	if err := eng.Invest(bob, id, decimal.NewFromInt(500)); err != nil {
		t.Fatalf("invest without profile: %v", err)
	}

	balance, err := eng.GetBalance(bob, id)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !balance.Amount.Equal(decimal.NewFromInt(500)) {
		t.Errorf("balance = %s, want 500", balance.Amount)
	}

	portfolio, err := eng.GetPortfolioRisk(bob)
	if err != nil {
		t.Fatalf("portfolio: %v", err)
	}
	if !portfolio.TotalExposure.Equal(decimal.NewFromInt(500)) {
		t.Errorf("exposure = %s, want 500", portfolio.TotalExposure)
	}
}

func TestInvestChokePointWithProfile(t *testing.T) {
	eng := newEngine(t)
	id := createStrategy(t, eng, alice, 5)

	if err := eng.SetUserRiskProfile(bob, 7, decimal.NewFromInt(1000), 2); err != nil {
		t.Fatalf("set profile: %v", err)
	}

	if err := eng.Invest(bob, id, decimal.NewFromInt(900)); err != nil {
		t.Fatalf("first invest: %v", err)
	}

	// 900 + 150 breaches the 1000 exposure limit; state must be untouched.
	err := eng.Invest(bob, id, decimal.NewFromInt(150))
	if !errors.Is(err, types.ErrRiskLimitExceeded) {
		t.Fatalf("over-limit invest = %v, want ErrRiskLimitExceeded", err)
	}
	balance, err := eng.GetBalance(bob, id)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if !balance.Amount.Equal(decimal.NewFromInt(900)) {
		t.Errorf("balance after rejected invest = %s, want 900", balance.Amount)
	}

	// 900 + 50 fits.
	if err := eng.Invest(bob, id, decimal.NewFromInt(50)); err != nil {
		t.Errorf("within-limit invest = %v, want nil", err)
	}

	// Withdrawal releases exposure headroom.
	if err := eng.Withdraw(bob, id, decimal.NewFromInt(500)); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	if err := eng.Invest(bob, id, decimal.NewFromInt(400)); err != nil {
		t.Errorf("invest after withdrawal = %v, want nil", err)
	}
}

func TestValidateInvestmentIsReadOnly(t *testing.T) {
	eng := newEngine(t)
	id := createStrategy(t, eng, alice, 5)
	if err := eng.SetUserRiskProfile(bob, 7, decimal.NewFromInt(100), 2); err != nil {
		t.Fatalf("set profile: %v", err)
	}
	before := eng.Height()

	valid, reason := eng.ValidateInvestment(bob, id, decimal.NewFromInt(50))
	if !valid || reason != nil {
		t.Errorf("ValidateInvestment = (%v, %v), want (true, nil)", valid, reason)
	}
	valid, reason = eng.ValidateInvestment(bob, id, decimal.NewFromInt(500))
	if valid || !errors.Is(reason, types.ErrRiskLimitExceeded) {
		t.Errorf("ValidateInvestment = (%v, %v), want (false, ErrRiskLimitExceeded)", valid, reason)
	}

	if h := eng.Height(); h != before {
		t.Errorf("height changed by validation: %d -> %d", before, h)
	}
}

func TestOperatorGating(t *testing.T) {
	eng := newEngine(t)
	id := createStrategy(t, eng, alice, 5)
	vector := []types.AllocationEntry{{ProtocolID: 1, Bps: 10000}}

	if _, err := eng.ExecuteRebalance(alice, id, vector, "nope"); !errors.Is(err, types.ErrUnauthorized) {
		t.Errorf("rebalance by non-operator = %v, want ErrUnauthorized", err)
	}
	if err := eng.SetGlobalRiskMultiplier(alice, 150); !errors.Is(err, types.ErrUnauthorized) {
		t.Errorf("multiplier by non-operator = %v, want ErrUnauthorized", err)
	}
	if _, err := eng.UpdatePerformance(alice, id, 1000, 500, 100, 6000); !errors.Is(err, types.ErrUnauthorized) {
		t.Errorf("performance by non-operator = %v, want ErrUnauthorized", err)
	}

	if _, err := eng.ExecuteRebalance(operator, id, vector, "deploy"); err != nil {
		t.Errorf("rebalance by operator = %v, want nil", err)
	}
	if err := eng.SetGlobalRiskMultiplier(operator, 150); err != nil {
		t.Errorf("multiplier by operator = %v, want nil", err)
	}
}

func TestUpdaterGating(t *testing.T) {
	eng := newEngine(t)
	id := createStrategy(t, eng, alice, 5)
	metrics := types.StrategyRiskMetrics{StrategyID: id, RiskScore: 4, VolatilityBps: 1000}

	if err := eng.UpdateStrategyRiskMetrics(bob, metrics); !errors.Is(err, types.ErrUnauthorized) {
		t.Errorf("metrics by stranger = %v, want ErrUnauthorized", err)
	}

	if err := eng.AddAuthorizedUpdater(bob, bob); !errors.Is(err, types.ErrUnauthorized) {
		t.Errorf("self-grant = %v, want ErrUnauthorized", err)
	}
	if err := eng.AddAuthorizedUpdater(operator, bob); err != nil {
		t.Fatalf("grant: %v", err)
	}
	if err := eng.UpdateStrategyRiskMetrics(bob, metrics); err != nil {
		t.Errorf("metrics by granted updater = %v, want nil", err)
	}

	if err := eng.RemoveAuthorizedUpdater(operator, bob); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := eng.UpdateStrategyRiskMetrics(bob, metrics); !errors.Is(err, types.ErrUnauthorized) {
		t.Errorf("metrics by revoked updater = %v, want ErrUnauthorized", err)
	}
}

func TestRebalanceCooldownThroughEngine(t *testing.T) {
	eng := newEngine(t)
	id := createStrategy(t, eng, alice, 5)
	vector := []types.AllocationEntry{
		{ProtocolID: 1, Bps: 6000},
		{ProtocolID: 2, Bps: 4000},
	}

	if _, err := eng.ExecuteRebalance(operator, id, vector, "initial"); err != nil {
		t.Fatalf("first rebalance: %v", err)
	}
	if _, err := eng.ExecuteRebalance(operator, id, vector, "again"); !errors.Is(err, types.ErrRateLimited) {
		t.Errorf("second rebalance = %v, want ErrRateLimited", err)
	}

	can, err := eng.CanRebalance(id)
	if err != nil {
		t.Fatalf("can rebalance: %v", err)
	}
	if can {
		t.Error("CanRebalance inside cooldown = true, want false")
	}

	if err := eng.AdvanceHeight(200); err != nil {
		t.Fatalf("advance: %v", err)
	}
	if _, err := eng.ExecuteRebalance(operator, id, vector, "after cooldown"); err != nil {
		t.Errorf("rebalance after cooldown = %v, want nil", err)
	}
}

func TestAutoOptimize(t *testing.T) {
	eng := newEngine(t)
	id := createStrategy(t, eng, alice, 5)

	// No performance data: designed no-op.
	_, performed, err := eng.AutoOptimizeStrategy(operator, id)
	if err != nil || performed {
		t.Errorf("auto-optimize without data = (%v, %v), want (false, nil)", performed, err)
	}

	// Healthy Sharpe (2.0): no-op.
	if _, err := eng.UpdatePerformance(operator, id, 2000, 1000, 100, 6000); err != nil {
		t.Fatalf("update performance: %v", err)
	}
	_, performed, err = eng.AutoOptimizeStrategy(operator, id)
	if err != nil || performed {
		t.Errorf("auto-optimize with healthy sharpe = (%v, %v), want (false, nil)", performed, err)
	}

	// Degraded Sharpe (0.5): re-optimizes.
	if _, err := eng.UpdatePerformance(operator, id, 1000, 20000, 100, 4000); err != nil {
		t.Fatalf("update performance: %v", err)
	}
	result, performed, err := eng.AutoOptimizeStrategy(operator, id)
	if err != nil {
		t.Fatalf("auto-optimize: %v", err)
	}
	if !performed {
		t.Fatal("expected auto-optimize to run with degraded sharpe")
	}
	if result.Type != types.OptMaximizeSharpe {
		t.Errorf("auto-optimize type = %v, want maximize_sharpe", result.Type)
	}
	if sum := types.SumBps(result.Allocations); sum != uint64(types.BpsScale) {
		t.Errorf("auto-optimize sum = %d, want %d", sum, types.BpsScale)
	}

	// A fresh rebalance puts auto-optimization behind the cooldown.
	vector := []types.AllocationEntry{{ProtocolID: 1, Bps: 10000}}
	if _, err := eng.ExecuteRebalance(operator, id, vector, "deploy"); err != nil {
		t.Fatalf("rebalance: %v", err)
	}
	_, _, err = eng.AutoOptimizeStrategy(operator, id)
	if !errors.Is(err, types.ErrRateLimited) {
		t.Errorf("auto-optimize inside cooldown = %v, want ErrRateLimited", err)
	}

	if _, _, err := eng.AutoOptimizeStrategy(alice, id); !errors.Is(err, types.ErrUnauthorized) {
		t.Errorf("auto-optimize by non-operator = %v, want ErrUnauthorized", err)
	}
}

func TestConfidenceSettingsGateOptimizationSignals(t *testing.T) {
	eng := newEngine(t)
	createStrategy(t, eng, alice, 5)

	if err := eng.SetMinConfidence(alice, 8000); !errors.Is(err, types.ErrUnauthorized) {
		t.Errorf("min confidence by non-operator = %v, want ErrUnauthorized", err)
	}
	if err := eng.SetMinConfidence(operator, 8000); err != nil {
		t.Fatalf("set min confidence: %v", err)
	}
	if err := eng.SetMaxDataAge(operator, 5); err != nil {
		t.Fatalf("set max data age: %v", err)
	}
}

func TestTransferOperatorMovesAuthority(t *testing.T) {
	eng := newEngine(t)
	id := createStrategy(t, eng, alice, 5)

	if err := eng.TransferOperator(operator, bob); err != nil {
		t.Fatalf("transfer: %v", err)
	}

	if err := eng.SetRebalanceInterval(operator, 10); !errors.Is(err, types.ErrUnauthorized) {
		t.Errorf("old operator = %v, want ErrUnauthorized", err)
	}
	if err := eng.SetRebalanceInterval(bob, 10); err != nil {
		t.Errorf("new operator = %v, want nil", err)
	}
	if _, err := eng.UpdatePerformance(bob, id, 1000, 500, 100, 6000); err != nil {
		t.Errorf("performance by new operator = %v, want nil", err)
	}
}

func TestEventsEmittedAfterCommit(t *testing.T) {
	eng := newEngine(t)

	id := createStrategy(t, eng, alice, 5)
	if err := eng.Invest(bob, id, decimal.NewFromInt(100)); err != nil {
		t.Fatalf("invest: %v", err)
	}

	var got []engine.EventType
	for len(eng.Events()) > 0 {
		event := <-eng.Events()
		got = append(got, event.Type)
	}
	want := []engine.EventType{engine.EventStrategyCreated, engine.EventInvestment}
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestHeightPersistsAcrossRestart(t *testing.T) {
	st, err := store.Open(zap.NewNop(), store.Options{InMemory: true})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	defer st.Close()

	dir := directory.NewStatic(directory.DefaultProtocols())
	cfg := types.EngineConfig{Operator: operator}

	eng, err := engine.New(zap.NewNop(), st, dir, cfg, nil)
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	if _, err := eng.CreateStrategy(alice, "pool", decimal.NewFromInt(1), decimal.NewFromInt(10), 5); err != nil {
		t.Fatalf("create: %v", err)
	}

	// A second engine over the same store resumes at the persisted height.
	restarted, err := engine.New(zap.NewNop(), st, dir, cfg, nil)
	if err != nil {
		t.Fatalf("restart engine: %v", err)
	}
	if h := restarted.Height(); h != 1 {
		t.Errorf("restarted height = %d, want 1", h)
	}
}
