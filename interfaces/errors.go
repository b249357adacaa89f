package interfaces

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is returned when caller input violates a precondition
	// (bad threshold, non-positive amount, malformed address).
	ErrValidation = errors.New("validation error")

	// ErrNotFound is returned when a wallet or an active share record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrCrypto is returned when a cryptographic operation fails: decryption,
	// interpolation with duplicate or insufficient shares, digest mismatch, signing.
	ErrCrypto = errors.New("cryptographic failure")

	// ErrTransmission is returned when the chain gateway rejects or fails to accept
	// a signed transaction. The gateway error is wrapped alongside it.
	ErrTransmission = errors.New("transmission failure")

	// ErrInternal is returned for unexpected failures, including persistence errors.
	ErrInternal = errors.New("internal error")

	// ErrConflict is returned when a completion guard refuses a second completion
	// of the same artifact.
	ErrConflict = errors.New("conflict")
)

// ErrorKind classifies an error into the taxonomy above.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	KindValidation
	KindNotFound
	KindCrypto
	KindTransmission
	KindConflict
)

func (k ErrorKind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindCrypto:
		return "crypto"
	case KindTransmission:
		return "transmission"
	case KindConflict:
		return "conflict"
	default:
		return "internal"
	}
}

// KindOf reports the taxonomy kind of err. Unclassified errors are internal.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindInternal
	case errors.Is(err, ErrValidation):
		return KindValidation
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrCrypto):
		return KindCrypto
	case errors.Is(err, ErrTransmission):
		return KindTransmission
	case errors.Is(err, ErrConflict):
		return KindConflict
	default:
		return KindInternal
	}
}

// Validationf formats a validation error.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// NotFoundf formats a not-found error.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

// Cryptof formats a cryptographic failure.
func Cryptof(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCrypto, fmt.Sprintf(format, args...))
}

// Transmission wraps a gateway error so that both ErrTransmission and the
// original cause remain matchable with errors.Is.
func Transmission(err error) error {
	return fmt.Errorf("%w: %w", ErrTransmission, err)
}

// Internal wraps an unexpected error with context.
func Internal(context string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrInternal, context, err)
}
