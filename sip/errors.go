package sip

import "github.com/ghettovoice/sipcore/internal/errorutil"

// Common errors.
const (
	ErrInvalidArgument        = errorutil.ErrInvalidArgument
	ErrActionNotAllowed Error = "action not allowed"
	ErrEngineClosed     Error = "engine closed"
)

// Transaction errors.
const (
	ErrTransactionNotFound Error = "transaction not found"
	ErrTransactionTimedOut Error = "transaction timed out"
	ErrTransportFailure    Error = "transport failure"
	ErrNoAck               Error = "ACK not received"
)

// Message errors.
const (
	ErrInvalidMessage   Error = "invalid message"
	ErrMethodNotAllowed Error = "request method not allowed"

	errMissHdrs Error = "missing mandatory headers"
)

// Dialog errors.
const (
	ErrDialogCreation Error = "dialog creation failed"
	ErrDialogNotFound Error = "dialog not found"
	// ErrGlare is returned when an offer is attempted while another one is pending in the dialog.
	ErrGlare Error = "request glare"
)

// Error represents a SIP error.
// See [errorutil.Error].
type Error = errorutil.Error

// NewInvalidArgumentError creates a new error with [ErrInvalidArgument] or
// wraps provided error with [ErrInvalidArgument].
func NewInvalidArgumentError(args ...any) error {
	return errorutil.NewInvalidArgumentError(args...) //errtrace:skip
}
