// Package oracle provides the confidence gate wrapping externally supplied
// signals. The engine consumes the oracle feed's (value, confidence, age)
// contract only; ingestion lives outside this repository.
package oracle

import (
	"fmt"

	"github.com/atlas-desktop/allocation-engine/internal/store"
	"github.com/atlas-desktop/allocation-engine/pkg/types"
	"go.uber.org/zap"
)

// Defaults applied when no operator override has been stored.
const (
	DefaultMinConfidenceBps uint32 = 7000
	DefaultMaxDataAge       uint64 = 144 // height-units, roughly 24h
)

// Tunable parameter names.
const (
	ParamMinConfidence = "min_confidence_bps"
	ParamMaxDataAge    = "max_data_age"
)

// Datum is one externally supplied signal: an oracle data point, market
// signal, or AI prediction.
type Datum struct {
	Name          string `json:"name"`
	Value         int64  `json:"value"`
	ConfidenceBps uint32 `json:"confidenceBps"`
	RecordedAt    uint64 `json:"recordedAt"` // height
}

// Gate rejects signals that are too uncertain or too old to act on.
type Gate struct {
	logger *zap.Logger
}

// NewGate creates a confidence gate.
func NewGate(logger *zap.Logger) *Gate {
	return &Gate{logger: logger.Named("confidence-gate")}
}

// MinConfidence returns the active minimum confidence threshold.
func (g *Gate) MinConfidence(txn *store.Txn) (uint32, error) {
	var v uint32
	found, err := txn.Get(store.ParamKey(ParamMinConfidence), &v)
	if err != nil {
		return 0, err
	}
	if !found {
		return DefaultMinConfidenceBps, nil
	}
	return v, nil
}

// MaxDataAge returns the active maximum signal age in height-units.
func (g *Gate) MaxDataAge(txn *store.Txn) (uint64, error) {
	var v uint64
	found, err := txn.Get(store.ParamKey(ParamMaxDataAge), &v)
	if err != nil {
		return 0, err
	}
	if !found {
		return DefaultMaxDataAge, nil
	}
	return v, nil
}

// Accept returns nil iff the datum clears both the confidence threshold and
// the staleness bound at the given height. Rejection is not fatal to callers:
// consumers degrade to "no actionable signal".
func (g *Gate) Accept(txn *store.Txn, datum Datum, height uint64) error {
	if datum.ConfidenceBps > types.BpsScale {
		return fmt.Errorf("%w: confidence %d exceeds %d bps",
			types.ErrInvalidParameter, datum.ConfidenceBps, types.BpsScale)
	}

	minConf, err := g.MinConfidence(txn)
	if err != nil {
		return err
	}
	if datum.ConfidenceBps < minConf {
		return fmt.Errorf("%w: confidence %d below threshold %d",
			types.ErrInsufficientConfidence, datum.ConfidenceBps, minConf)
	}

	maxAge, err := g.MaxDataAge(txn)
	if err != nil {
		return err
	}
	if datum.RecordedAt > height {
		return fmt.Errorf("%w: datum recorded at future height %d",
			types.ErrInvalidParameter, datum.RecordedAt)
	}
	if height-datum.RecordedAt >= maxAge {
		return fmt.Errorf("%w: datum age %d exceeds limit %d",
			types.ErrStaleData, height-datum.RecordedAt, maxAge)
	}
	return nil
}

// SetMinConfidence tunes the confidence threshold. Caller gating happens in
// the engine (operator-only).
func (g *Gate) SetMinConfidence(txn *store.Txn, bps uint32) error {
	if bps > types.BpsScale {
		return fmt.Errorf("%w: min confidence %d exceeds %d bps",
			types.ErrInvalidParameter, bps, types.BpsScale)
	}
	return txn.Put(store.ParamKey(ParamMinConfidence), bps)
}

// SetMaxDataAge tunes the staleness bound.
func (g *Gate) SetMaxDataAge(txn *store.Txn, age uint64) error {
	if age == 0 {
		return fmt.Errorf("%w: max data age must be positive", types.ErrInvalidParameter)
	}
	return txn.Put(store.ParamKey(ParamMaxDataAge), age)
}
