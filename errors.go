package ice

import (
	stderrors "errors"

	"github.com/pkg/errors"
)

// ErrorKind classifies a failure per spec.md §7. None of these
// propagate to the application as exceptions; each is mapped to a
// state transition and surfaced through the property-change bus
// instead.
type ErrorKind byte

// Error kinds, spec.md §7.
const (
	// InvalidArgument covers API-boundary rejections: unsupported
	// transport, bad port range.
	InvalidArgument ErrorKind = iota
	// AddressInUse / BindFailure: harvesting could not bind a socket.
	AddressInUse
	// RoleConflict: incoming 487 or a losing tie-breaker comparison.
	RoleConflict
	// AsymmetricResponse: a response's address didn't match its
	// request's counterpart.
	AsymmetricResponse
	// AuthenticationFailure: USERNAME mismatch or MESSAGE-INTEGRITY
	// failure.
	AuthenticationFailure
	// TransactionTimeout: all STUN retransmits exhausted.
	TransactionTimeout
	// UnrecoverableResponse: any STUN error class other than 487.
	UnrecoverableResponse
	// ListTimeout: the check-list grace timer fired with an
	// incomplete valid list.
	ListTimeout
	// AgentTimeout: every check list is non-Running and none
	// Completed.
	AgentTimeout
)

var errorKindStrings = map[ErrorKind]string{
	InvalidArgument:        "InvalidArgument",
	AddressInUse:           "AddressInUse",
	RoleConflict:           "RoleConflict",
	AsymmetricResponse:     "AsymmetricResponse",
	AuthenticationFailure:  "AuthenticationFailure",
	TransactionTimeout:     "TransactionTimeout",
	UnrecoverableResponse:  "UnrecoverableResponse",
	ListTimeout:            "ListTimeout",
	AgentTimeout:           "AgentTimeout",
}

func (k ErrorKind) String() string {
	if v, ok := errorKindStrings[k]; ok {
		return v
	}
	return "Unknown"
}

// Error wraps an ErrorKind with contextual detail. It implements the
// error interface and exposes its cause through Unwrap for errors.Is
// and errors.As.
type Error struct {
	Kind ErrorKind
	Op   string
	err  error
}

// NewError constructs an Error, wrapping cause (which may be nil) with
// pkg/errors so callers retain a stack trace at the point of origin.
func NewError(kind ErrorKind, op string, cause error) *Error {
	var wrapped error
	if cause != nil {
		wrapped = errors.Wrap(cause, op)
	} else {
		wrapped = errors.New(op)
	}
	return &Error{Kind: kind, Op: op, err: wrapped}
}

func (e *Error) Error() string {
	return e.Kind.String() + ": " + e.err.Error()
}

// Unwrap supports errors.Is/errors.As against the wrapped cause.
func (e *Error) Unwrap() error {
	return e.err
}

// IsKind reports whether err is an *Error of the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var e *Error
	if !stderrors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}
