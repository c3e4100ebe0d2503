package defaults

import "time"

const (
	minKeepaliveInterval = 500 * time.Millisecond
	maxKeepaliveInterval = 30 * time.Second
)

// NormalizeKeepalive clamps a configured keepalive interval.
//
// Zero selects the default, negative disables keepalives, and positive values are clamped to
// [500ms, 30s] so idle middleboxes do not drop the connection between pings.
func NormalizeKeepalive(d time.Duration) time.Duration {
	switch {
	case d == 0:
		return KeepaliveInterval
	case d < 0:
		return 0
	case d < minKeepaliveInterval:
		return minKeepaliveInterval
	case d > maxKeepaliveInterval:
		return maxKeepaliveInterval
	default:
		return d
	}
}
