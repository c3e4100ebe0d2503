package tunnel

import (
	"errors"
	"fmt"
	"strings"
)

// WireMode selects how message bytes are laid out inside an envelope.
type WireMode string

const (
	// WireTagged prefixes each message with a one-byte MessageKind.
	WireTagged WireMode = "tagged"
	// WireLegacy sends bare UTF-8 text and reserves KeepaliveToken for liveness.
	WireLegacy WireMode = "legacy"
)

// KeepaliveToken is the keepalive payload in WireLegacy mode.
const KeepaliveToken = "ping"

// MessageKind tags a plaintext message in WireTagged mode.
type MessageKind byte

const (
	KindData      MessageKind = 0x01
	KindKeepalive MessageKind = 0x02
)

func (k MessageKind) String() string {
	switch k {
	case KindData:
		return "data"
	case KindKeepalive:
		return "keepalive"
	default:
		return fmt.Sprintf("kind(0x%02x)", byte(k))
	}
}

var (
	errEmptyMessage = errors.New("empty tagged message")
	errUnknownKind  = errors.New("unknown message kind")
)

// ParseWireMode validates a configured wire mode; empty selects WireTagged.
func ParseWireMode(s string) (WireMode, error) {
	switch m := WireMode(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return WireTagged, nil
	case WireTagged, WireLegacy:
		return m, nil
	default:
		return "", fmt.Errorf("invalid wire mode %q (want %q or %q)", s, WireTagged, WireLegacy)
	}
}

func encodeMessage(mode WireMode, kind MessageKind, body string) []byte {
	if mode == WireLegacy {
		if kind == KindKeepalive {
			return []byte(KeepaliveToken)
		}
		return []byte(body)
	}
	b := make([]byte, 0, 1+len(body))
	b = append(b, byte(kind))
	return append(b, body...)
}

func decodeMessage(mode WireMode, b []byte) (MessageKind, string, error) {
	if mode == WireLegacy {
		text := strings.ToValidUTF8(string(b), "\uFFFD")
		if text == KeepaliveToken {
			return KindKeepalive, "", nil
		}
		return KindData, text, nil
	}
	if len(b) == 0 {
		return 0, "", errEmptyMessage
	}
	kind := MessageKind(b[0])
	switch kind {
	case KindData:
		return kind, strings.ToValidUTF8(string(b[1:]), "\uFFFD"), nil
	case KindKeepalive:
		return kind, "", nil
	default:
		return kind, "", fmt.Errorf("%w: %s", errUnknownKind, kind)
	}
}
