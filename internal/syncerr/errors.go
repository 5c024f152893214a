package syncerr

import (
	"errors"
	"fmt"
)

// Code identifies the class of a failure.
type Code string

const (
	CodeValidation      Code = "VALIDATION_FAILURE"
	CodeTransport       Code = "TRANSPORT_FAILURE"
	CodeAdapterContract Code = "ADAPTER_CONTRACT"
	CodeStorage         Code = "STORAGE_FAILURE"
	CodeProtocol        Code = "PROTOCOL_FAILURE"
)

// Op names the operation during which an error occurred.
type Op string

const (
	OpDefine    Op = "define"
	OpValidate  Op = "validate"
	OpListen    Op = "listen"
	OpDial      Op = "dial"
	OpSend      Op = "send"
	OpPropagate Op = "propagate"
	OpCatchUp   Op = "catch_up"
	OpAppend    Op = "append"
	OpQuery     Op = "query"
	OpDiscover  Op = "discover"
)

// SyncError is the error type returned across package boundaries.
type SyncError struct {
	Op        Op
	Component string
	Code      Code
	Err       error
	Retryable bool
}

func (e *SyncError) Error() string {
	var msg string
	if e.Component != "" {
		msg = fmt.Sprintf("%s failed in %s", e.Op, e.Component)
	} else {
		msg = fmt.Sprintf("%s failed", e.Op)
	}
	if e.Code != "" {
		msg += fmt.Sprintf(" [%s]", e.Code)
	}
	return msg + fmt.Sprintf(": %v", e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// NewValidationError reports a peer that failed the service-name handshake.
// The offending link is closed and never retried.
func NewValidationError(op Op, cause error) *SyncError {
	return &SyncError{Op: op, Component: "node", Code: CodeValidation, Err: cause}
}

// NewTransportError reports a bind, dial or send failure.
func NewTransportError(op Op, cause error) *SyncError {
	return &SyncError{Op: op, Component: "transport", Code: CodeTransport, Err: cause, Retryable: true}
}

// NewAdapterError reports a data source that does not satisfy the
// capabilities an operation needs. It is a configuration error and must
// surface to the embedding application.
func NewAdapterError(op Op, collection string, cause error) *SyncError {
	return &SyncError{Op: op, Component: "adapter:" + collection, Code: CodeAdapterContract, Err: cause}
}

// NewStorageError reports a change-log failure.
func NewStorageError(op Op, cause error) *SyncError {
	return &SyncError{Op: op, Component: "changelog", Code: CodeStorage, Err: cause, Retryable: true}
}

// NewProtocolError reports a malformed or unexpected message.
func NewProtocolError(op Op, cause error) *SyncError {
	return &SyncError{Op: op, Component: "wire", Code: CodeProtocol, Err: cause}
}

// IsRetryable reports whether err is a retryable *SyncError.
func IsRetryable(err error) bool {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Retryable
	}
	return false
}

// Is reports whether err is a *SyncError with the given code.
func Is(err error, code Code) bool {
	var syncErr *SyncError
	if errors.As(err, &syncErr) {
		return syncErr.Code == code
	}
	return false
}
