//go:build windows

package main

import (
	"os"

	"go.uber.org/zap"
)

func notifySignals() []os.Signal {
	// Windows does not support Unix-style SIGHUP/SIGUSR* signals.
	return []os.Signal{os.Interrupt}
}

const signalHelp = `Signals:
  CTRL+C: shutdown
`

// handleSignal returns true if the signal was handled and the role should keep running.
//
// On Windows there are no runtime toggles; any signal triggers shutdown.
func handleSignal(_ os.Signal, _ *zap.Logger, _ func(), _ *metricsController) bool {
	return false
}
