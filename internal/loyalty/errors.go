package loyalty

import (
	"errors"
	"fmt"
)

// Kind classifies a business-rule failure. Every failure in this package is
// an expected, recoverable violation; there is no fatal class.
type Kind string

// Failure kinds returned by the loyalty operations.
const (
	KindNotFound           Kind = "not_found"
	KindInvalidParameters  Kind = "invalid_parameters"
	KindCardExpired        Kind = "card_expired"
	KindCardAlreadyOwned   Kind = "card_already_owned"
	KindCardNotOwned       Kind = "card_not_owned"
	KindCardAlreadyUsed    Kind = "card_already_used"
	KindAlreadyActivated   Kind = "already_activated"
	KindAlreadyRedeemed    Kind = "already_redeemed"
	KindNotEligible        Kind = "not_eligible"
	KindCardNotApplicable  Kind = "card_not_applicable"
	KindInsufficientStamps Kind = "insufficient_stamps"
)

// Error is a typed business-rule failure.
type Error struct {
	Kind    Kind
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// errorf builds a typed Error.
func errorf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the Kind from an error, or "" for untyped errors.
func KindOf(err error) Kind {
	var typed *Error
	if errors.As(err, &typed) {
		return typed.Kind
	}
	return ""
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
