package errkind

import "errors"

// Kind classifies a failure so callers can switch on it exhaustively.
type Kind string

const (
	KindUnknown                 Kind = "unknown"
	KindInvalidRequest          Kind = "invalid_request"
	KindNotFound                Kind = "not_found"
	KindConflict                Kind = "conflict"
	KindConfigurationMissing    Kind = "configuration_missing"
	KindCapacityExceeded        Kind = "capacity_exceeded"
	KindNoCapacityAvailable     Kind = "no_capacity_available"
	KindMembershipProviderError Kind = "membership_provider_error"
	KindSignatureInvalid        Kind = "signature_invalid"
	KindDuplicateEvent          Kind = "duplicate_event"
	KindStaleOrder              Kind = "stale_order"
	KindStaleCode               Kind = "stale_code"
	KindDecryptionFailure       Kind = "decryption_failure"
	KindWarrantyExpired         Kind = "warranty_expired"
	KindWarrantyNotEligible     Kind = "warranty_not_eligible"
	KindRateLimited             Kind = "rate_limited"
)

// Error is a sentinel error tagged with a Kind.
type Error struct {
	kind Kind
	code string
}

// New returns a sentinel error. Compare with errors.Is.
func New(kind Kind, code string) *Error {
	return &Error{kind: kind, code: code}
}

func (e *Error) Error() string { return e.code }

// Kind returns the classification of the error.
func (e *Error) Kind() Kind { return e.kind }

// Code returns the snake_case identifier.
func (e *Error) Code() string { return e.code }

// Of returns the Kind of the first kinded error in the chain.
func Of(err error) Kind {
	if err == nil {
		return ""
	}
	var kinded *Error
	if errors.As(err, &kinded) {
		return kinded.kind
	}
	return KindUnknown
}

// CodeOf returns the snake_case code of the first kinded error in the chain.
func CodeOf(err error) string {
	var kinded *Error
	if errors.As(err, &kinded) {
		return kinded.code
	}
	return string(KindUnknown)
}

// IsExpected reports whether err is a business outcome rather than a fault.
func IsExpected(err error) bool {
	switch Of(err) {
	case KindNoCapacityAvailable, KindCapacityExceeded, KindDuplicateEvent,
		KindWarrantyExpired, KindWarrantyNotEligible, KindRateLimited,
		KindNotFound, KindInvalidRequest, KindStaleCode, KindStaleOrder:
		return true
	default:
		return false
	}
}
