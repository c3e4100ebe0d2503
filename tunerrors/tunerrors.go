// Package tunerrors defines the stable error taxonomy reported by the tunnel roles.
package tunerrors

import (
	"errors"
	"fmt"
)

// Role identifies which side of the tunnel produced the error.
type Role string

const (
	RoleSender   Role = "sender"
	RoleReceiver Role = "receiver"
	RoleKey      Role = "key"
)

// Stage identifies which step of the tunnel failed.
type Stage string

const (
	StageDial    Stage = "dial"
	StageListen  Stage = "listen"
	StageAccept  Stage = "accept"
	StageRead    Stage = "read"
	StageWrite   Stage = "write"
	StageDecrypt Stage = "decrypt"
	StageLoad    Stage = "load"
	StageSave    Stage = "save"
)

// Code is a stable, programmatic error identifier.
type Code string

const (
	CodeConnectionRefused Code = "connection_refused"
	CodeConnectionTimeout Code = "connection_timeout"
	CodeConnectionReset   Code = "connection_reset"
	CodeConnectionClosed  Code = "connection_closed"
	CodeBindFailed        Code = "bind_failed"
	CodeDialFailed        Code = "dial_failed"
	CodeAcceptFailed      Code = "accept_failed"
	CodeReadFailed        Code = "read_failed"
	CodeFrameTooLarge     Code = "frame_too_large"
	CodeDecryptionFailed  Code = "decryption_failed"
	CodeInvalidKeyLength  Code = "invalid_key_length"
	CodeKeyIOFailed       Code = "key_io_failed"
	CodeWriteFailed       Code = "write_failed"
	CodeCanceled          Code = "canceled"
)

// Error is a structured, programmatically identifiable tunnel error.
type Error struct {
	Role  Role
	Stage Stage
	Code  Code
	Err   error
}

func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Err != nil {
		return fmt.Sprintf("%s %s (%s): %v", e.Role, e.Stage, e.Code, e.Err)
	}
	return fmt.Sprintf("%s %s (%s)", e.Role, e.Stage, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

func Wrap(role Role, stage Stage, code Code, err error) error {
	return &Error{Role: role, Stage: stage, Code: code, Err: err}
}

// CodeOf returns the Code of the outermost *Error in err's chain.
func CodeOf(err error) (Code, bool) {
	var te *Error
	if !errors.As(err, &te) {
		return "", false
	}
	return te.Code, true
}

// Describe renders err as a one-line message for operators.
func Describe(err error) string {
	var te *Error
	if !errors.As(err, &te) {
		if err == nil {
			return ""
		}
		return err.Error()
	}
	hint := hints[te.Code]
	if hint == "" {
		return te.Error()
	}
	if te.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", te.Role, hint, te.Err)
	}
	return fmt.Sprintf("%s: %s", te.Role, hint)
}

var hints = map[Code]string{
	CodeConnectionRefused: "connection refused, is the receiver running?",
	CodeConnectionTimeout: "connection timed out",
	CodeConnectionReset:   "connection reset by peer",
	CodeConnectionClosed:  "connection closed by peer",
	CodeBindFailed:        "could not bind listen address",
	CodeFrameTooLarge:     "peer sent an oversized frame",
	CodeDecryptionFailed:  "decryption failed, check that both sides share the same key",
	CodeInvalidKeyLength:  "key must be 32 raw bytes or 64 hex characters",
	CodeKeyIOFailed:       "could not read or write the key file",
}
