// Package walleterr enumerates the error kinds the core can return, per
// the error handling design: a small closed set of sentinel values plus
// one structured variant for server-reported failures.
package walleterr

import (
	"errors"
	"fmt"
)

var (
	// ErrWrongPassword is returned when decrypting the seed or an
	// imported key fails, or a re-encrypted seed does not round-trip.
	ErrWrongPassword = errors.New("wrong password")

	// ErrInvalidAddress is returned when a Base58Check string fails its
	// checksum or carries an unexpected version byte.
	ErrInvalidAddress = errors.New("invalid address")

	// ErrInvalidSeed is returned when a seed is not 32 hex chars, or its
	// stretched form is not a valid scalar in [1, n).
	ErrInvalidSeed = errors.New("invalid seed")

	// ErrGapLimitReached is returned by GetNewAddress when the trailing
	// gap-limit window of receiving addresses is still entirely unused.
	ErrGapLimitReached = errors.New("gap limit reached")

	// ErrInsufficientFunds is returned when input selection cannot meet
	// amount+fee from the known UTXO set.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrUnknownAddress is returned when a private key is requested for
	// an address the wallet does not own.
	ErrUnknownAddress = errors.New("unknown address")

	// ErrStoreCorrupt is returned when a persisted record cannot be
	// parsed, carries an unsupported seed version, or violates an
	// invariant at load time. The store is never auto-repaired.
	ErrStoreCorrupt = errors.New("wallet store corrupt")

	// ErrTimeout is returned when a request exceeds its per-method
	// deadline. The synchronizer treats it as transient.
	ErrTimeout = errors.New("request timed out")

	// ErrTransportFailure is returned on connection-level I/O failure.
	// Transient; the synchronizer reconnects and retries.
	ErrTransportFailure = errors.New("transport failure")

	// ErrVerificationFailure is returned when a Merkle branch does not
	// hash to the stored header's root.
	ErrVerificationFailure = errors.New("merkle verification failed")
)

// ServerError wraps an error response returned by a server method call.
type ServerError struct {
	Code    int
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server error %d: %s", e.Code, e.Message)
}

// NewServerError constructs a ServerError.
func NewServerError(code int, message string) error {
	return &ServerError{Code: code, Message: message}
}
