package types

import "errors"

// Error taxonomy. Every failing operation wraps exactly one of these
// sentinels; the first failing precondition short-circuits the call with no
// partial state change.
var (
	// ErrUnauthorized - caller is not the operator / not an authorized updater.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrNotFound - referenced strategy, config, or allocation does not exist.
	ErrNotFound = errors.New("not found")

	// ErrInvalidParameter - argument outside its declared domain.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrInactive - target entity is administratively disabled.
	ErrInactive = errors.New("inactive")

	// ErrRateLimited - cooldown interval not yet elapsed.
	ErrRateLimited = errors.New("rate limited")

	// ErrInsufficientConfidence - signal confidence below the gate threshold.
	ErrInsufficientConfidence = errors.New("insufficient confidence")

	// ErrStaleData - signal older than the maximum data age.
	ErrStaleData = errors.New("stale data")

	// ErrRiskLimitExceeded - exposure, risk-score, or volatility check failed.
	ErrRiskLimitExceeded = errors.New("risk limit exceeded")

	// ErrInsufficientBalance - withdrawal exceeds balance, or invest amount
	// outside the strategy's [min,max].
	ErrInsufficientBalance = errors.New("insufficient balance")
)
