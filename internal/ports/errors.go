package ports

import "errors"

// Standard application-level errors.
// Adapters should wrap underlying infrastructure errors with these standard errors.
var (
	// General Errors
	ErrUnknown            = errors.New("unknown error occurred")
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrTimeout            = errors.New("operation timed out")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")

	// Input Errors
	ErrInvalidSymbol     = errors.New("invalid symbol")
	ErrInvalidParameters = errors.New("invalid parameters")
	ErrInsufficientData  = errors.New("insufficient data to compute indicator")

	// Upstream Errors
	ErrUpstreamUnavailable = errors.New("upstream data source is unavailable")
	ErrConnectionFailed    = errors.New("failed to connect to the exchange")
	ErrRateLimited         = errors.New("API rate limit exceeded")

	// Ledger Errors
	ErrInsufficientFunds = errors.New("insufficient funds for operation")
	ErrLedgerConflict    = errors.New("ledger write conflict")
	ErrLedgerBusy        = errors.New("ledger busy, retry later")

	// Database Specific Errors
	ErrDBConnection = errors.New("database connection error")
	ErrQueryFailed  = errors.New("database query failed")
	ErrUpdateFailed = errors.New("database update failed")
)

// IsRetryable reports whether the caller may retry the operation that
// produced err. Terminal conditions such as insufficient funds or bad input
// are never retryable.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, ErrLedgerBusy),
		errors.Is(err, ErrLedgerConflict),
		errors.Is(err, ErrUpstreamUnavailable),
		errors.Is(err, ErrConnectionFailed),
		errors.Is(err, ErrRateLimited),
		errors.Is(err, ErrTimeout):
		return true
	default:
		return false
	}
}
