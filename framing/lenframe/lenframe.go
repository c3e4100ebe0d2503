// Package lenframe frames opaque payloads on a byte stream as uint32_be(len) || payload.
package lenframe

import (
	"errors"
	"fmt"
	"io"

	"github.com/floegence/lantun/internal/bin"
)

// HeaderLen is the size of the length prefix.
const HeaderLen = 4

// DefaultMaxFrameBytes is the recommended maximum payload for a single frame.
//
// Do not call ReadFrame with maxLen<=0 on untrusted inputs: a forged length prefix would
// make the reader allocate up to 4 GiB.
const DefaultMaxFrameBytes = 16 << 20

var (
	// ErrConnectionClosed indicates the stream ended before a complete frame was read.
	ErrConnectionClosed = errors.New("connection closed")
	// ErrFrameTooLarge indicates a declared length above the reader's limit.
	ErrFrameTooLarge = errors.New("frame too large")
)

// AppendFrame appends the framed payload to dst.
func AppendFrame(dst []byte, payload []byte) []byte {
	dst = bin.AppendU32BE(dst, uint32(len(payload)))
	return append(dst, payload...)
}

// WriteFrame writes header and payload with a single Write call.
//
// A failed or short write leaves the stream desynchronized; the caller must close it.
func WriteFrame(w io.Writer, payload []byte) error {
	if uint64(len(payload)) > uint64(^uint32(0)) {
		return ErrFrameTooLarge
	}
	buf := AppendFrame(make([]byte, 0, HeaderLen+len(payload)), payload)
	n, err := w.Write(buf)
	if err != nil {
		return err
	}
	if n != len(buf) {
		return io.ErrShortWrite
	}
	return nil
}

// ReadFrame reads one frame, looping over short reads until the declared length is collected.
//
// Callers MUST pass a positive maxLen when reading from untrusted peers.
func ReadFrame(r io.Reader, maxLen int) ([]byte, error) {
	var hdr [HeaderLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, closedErr(err)
	}
	n := bin.U32BE(hdr[:])
	if maxLen > 0 && uint64(n) > uint64(maxLen) {
		return nil, fmt.Errorf("%w: %d > %d", ErrFrameTooLarge, n, maxLen)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return nil, closedErr(err)
	}
	return b, nil
}

func closedErr(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %w", ErrConnectionClosed, err)
	}
	return err
}
