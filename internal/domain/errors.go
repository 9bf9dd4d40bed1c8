package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrRateLimited   = errors.New("rate limited")
	ErrUnauthorized  = errors.New("unauthorized")
	ErrLockHeld      = errors.New("lock already held")

	// ErrInvalidSecret marks malformed credential material. Fatal at startup.
	ErrInvalidSecret = errors.New("invalid secret")
	// ErrAuthExpired is returned once a session refresh did not restore
	// access. Fatal for the identity until it is re-authenticated.
	ErrAuthExpired = errors.New("auth expired")
	// ErrTransientNetwork covers timeouts, 5xx and exhausted rate-limit retries.
	ErrTransientNetwork = errors.New("transient network error")
	ErrBuyFailed        = errors.New("BuyFailed")
	ErrSellFailed       = errors.New("SellFailed")
	// ErrQuotaExhausted means the price service token budget is depleted.
	ErrQuotaExhausted = errors.New("quota exhausted")
)

// IsFatal reports whether err must halt the engine rather than fail a single
// cycle.
func IsFatal(err error) bool {
	return errors.Is(err, ErrAuthExpired) || errors.Is(err, ErrInvalidSecret)
}
