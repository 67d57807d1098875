package ledger

import (
	"errors"
	"fmt"
)

// Code categorizes a rejected operation.
//
// Codes are part of the operation log: a replayed operation must be rejected
// with the same code it was rejected with originally.
type Code string

const (
	CodeNotRegistered           Code = "NotRegistered"
	CodeAlreadyRegistered       Code = "AlreadyRegistered"
	CodeInvalidInput            Code = "InvalidInput"
	CodeInsufficientBalance     Code = "InsufficientBalance"
	CodeInsufficientPoolBalance Code = "InsufficientPoolBalance"
	CodeNotFound                Code = "NotFound"
	CodeInvalidState            Code = "InvalidState"
	CodeUnauthorized            Code = "Unauthorized"
	CodeAlreadyVoted            Code = "AlreadyVoted"

	// CodeNotSpecified rejects transitions that exist in the state model but
	// have no triggering semantics in this core (cancellation, InProgress,
	// dispute resolution). They belong to an external governance layer.
	CodeNotSpecified Code = "NotSpecified"
)

// Sentinels for errors.Is matching. Any *Error with the same Code matches.
var (
	ErrNotRegistered           = &Error{Code: CodeNotRegistered}
	ErrAlreadyRegistered       = &Error{Code: CodeAlreadyRegistered}
	ErrInvalidInput            = &Error{Code: CodeInvalidInput}
	ErrInsufficientBalance     = &Error{Code: CodeInsufficientBalance}
	ErrInsufficientPoolBalance = &Error{Code: CodeInsufficientPoolBalance}
	ErrNotFound                = &Error{Code: CodeNotFound}
	ErrInvalidState            = &Error{Code: CodeInvalidState}
	ErrUnauthorized            = &Error{Code: CodeUnauthorized}
	ErrAlreadyVoted            = &Error{Code: CodeAlreadyVoted}
	ErrNotSpecified            = &Error{Code: CodeNotSpecified}
)

// Error is a rejected ledger operation. State is never modified when an
// operation returns an *Error.
type Error struct {
	// Code identifies the failure kind.
	Code Code

	// Op is the operation kind that was rejected.
	Op Kind

	// Message is a human-readable description.
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Message != "":
		return fmt.Sprintf("%s: %s: %s", e.Op, e.Code, e.Message)
	case e.Message != "":
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Code)
	default:
		return string(e.Code)
	}
}

// Is reports whether target is an *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// CodeOf extracts the rejection code from err.
// Returns "" if err is nil or not a ledger error.
func CodeOf(err error) Code {
	var le *Error
	if errors.As(err, &le) {
		return le.Code
	}
	return ""
}

func reject(op Kind, code Code, format string, args ...any) *Error {
	return &Error{
		Code:    code,
		Op:      op,
		Message: fmt.Sprintf(format, args...),
	}
}
