package tunerrors

import (
	"context"
	"errors"
	"net"
	"syscall"

	"github.com/floegence/lantun/crypto/envelope"
	"github.com/floegence/lantun/framing/lenframe"
	"github.com/floegence/lantun/keystore"
)

// ClassifyDialCode maps a dial error to a stable Code.
func ClassifyDialCode(err error) Code {
	switch {
	case errors.Is(err, context.Canceled):
		return CodeCanceled
	case isTimeout(err):
		return CodeConnectionTimeout
	case errors.Is(err, syscall.ECONNREFUSED):
		return CodeConnectionRefused
	case errors.Is(err, syscall.ECONNRESET):
		return CodeConnectionReset
	default:
		return CodeDialFailed
	}
}

// ClassifyListenCode maps a listen error to a stable Code.
func ClassifyListenCode(err error) Code {
	if errors.Is(err, context.Canceled) {
		return CodeCanceled
	}
	return CodeBindFailed
}

// ClassifyReadCode maps an error from the receive path to a stable Code.
func ClassifyReadCode(err error) Code {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, net.ErrClosed):
		return CodeCanceled
	case errors.Is(err, envelope.ErrDecryptionFailed):
		return CodeDecryptionFailed
	case errors.Is(err, lenframe.ErrFrameTooLarge):
		return CodeFrameTooLarge
	case errors.Is(err, syscall.ECONNRESET):
		return CodeConnectionReset
	case errors.Is(err, lenframe.ErrConnectionClosed):
		return CodeConnectionClosed
	case isTimeout(err):
		return CodeConnectionTimeout
	default:
		return CodeReadFailed
	}
}

// ClassifyWriteCode maps a send error to a stable Code.
func ClassifyWriteCode(err error) Code {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, net.ErrClosed):
		return CodeCanceled
	case errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE):
		return CodeConnectionReset
	case isTimeout(err):
		return CodeConnectionTimeout
	default:
		return CodeWriteFailed
	}
}

// ClassifyKeyCode maps a key store error to a stable Code.
func ClassifyKeyCode(err error) Code {
	if errors.Is(err, keystore.ErrInvalidKeyLength) {
		return CodeInvalidKeyLength
	}
	return CodeKeyIOFailed
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
