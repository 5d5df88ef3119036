// Package txerr defines the closed set of execution errors a ledger
// transaction can be rejected with. Each error carries a single-byte code and
// a description; both are part of the wire contract with clients and must not
// be renumbered.
//
// Callers should branch on Code, never on the description text. Use errors.As
// (or CodeOf) to extract an *Error from a wrapped chain.
package txerr

import "errors"

// Code is the stable numeric identifier of an execution error.
type Code uint8

const (
	WalletAlreadyExists Code = 0
	// SenderNotFound is not emitted by transfers: a sender without a
	// portfolio is ReceiverNotFound.
	SenderNotFound             Code = 1
	ReceiverNotFound           Code = 2
	InsufficientCurrencyAmount Code = 3
	// TimeIsUp, NotInspector and NotIssuer are reserved: no transaction
	// emits them yet.
	TimeIsUp     Code = 4
	NotInspector Code = 5
	NotIssuer    Code = 6
)

var descriptions = [...]string{
	WalletAlreadyExists:        "Wallet already exists",
	SenderNotFound:             "Sender doesn't exist",
	ReceiverNotFound:           "Receiver doesn't exist",
	InsufficientCurrencyAmount: "Insufficient currency amount",
	TimeIsUp:                   "Time is up",
	NotInspector:               "Pubkey doesn't belong to inspector",
	NotIssuer:                  "Pubkey doesn't belong to issuer",
}

// Valid reports whether c is one of the declared codes.
func (c Code) Valid() bool { return int(c) < len(descriptions) }

// Description returns the human-readable text bound to c.
func (c Code) Description() string {
	if !c.Valid() {
		return "unknown error"
	}
	return descriptions[c]
}

func (c Code) String() string { return c.Description() }

// Error is an execution-time rejection.
type Error struct {
	Code        Code
	Description string
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Description
}

// Is matches any *Error with the same code, so sentinel comparisons such as
// errors.Is(err, txerr.New(txerr.ReceiverNotFound)) work.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

// New returns the error for code with its fixed description.
func New(code Code) *Error {
	return &Error{Code: code, Description: code.Description()}
}

// CodeOf returns the code of err if it is (or wraps) an *Error.
func CodeOf(err error) (Code, bool) {
	var e *Error
	if !errors.As(err, &e) {
		return 0, false
	}
	return e.Code, true
}

// All returns every declared code in ascending order.
func All() []Code {
	out := make([]Code, len(descriptions))
	for i := range descriptions {
		out[i] = Code(i)
	}
	return out
}
