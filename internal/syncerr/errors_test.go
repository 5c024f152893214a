package syncerr

import (
	"errors"
	"fmt"
	"testing"
)

func TestSyncError_Message(t *testing.T) {
	err := NewTransportError(OpListen, errors.New("address in use"))
	want := "listen failed in transport [TRANSPORT_FAILURE]: address in use"
	if err.Error() != want {
		t.Errorf("Expected %q, got %q", want, err.Error())
	}
}

func TestSyncError_Classification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		code      Code
		retryable bool
	}{
		{"validation", NewValidationError(OpValidate, errors.New("bad name")), CodeValidation, false},
		{"transport", NewTransportError(OpDial, errors.New("refused")), CodeTransport, true},
		{"adapter", NewAdapterError(OpDefine, "notes", errors.New("missing Records")), CodeAdapterContract, false},
		{"storage", NewStorageError(OpAppend, errors.New("disk full")), CodeStorage, true},
		{"wrapped", fmt.Errorf("outer: %w", NewTransportError(OpSend, errors.New("eof"))), CodeTransport, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !Is(tt.err, tt.code) {
				t.Errorf("Expected code %s for %v", tt.code, tt.err)
			}
			if IsRetryable(tt.err) != tt.retryable {
				t.Errorf("Expected retryable=%v for %v", tt.retryable, tt.err)
			}
		})
	}
}

func TestSyncError_Unwrap(t *testing.T) {
	cause := errors.New("root cause")
	err := NewStorageError(OpQuery, cause)
	if !errors.Is(err, cause) {
		t.Error("Expected errors.Is to reach the cause")
	}
	if IsRetryable(cause) {
		t.Error("Plain errors are never retryable")
	}
}
