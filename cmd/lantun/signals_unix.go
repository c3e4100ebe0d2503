//go:build !windows

package main

import (
	"os"
	"syscall"

	"go.uber.org/zap"
)

func notifySignals() []os.Signal {
	return []os.Signal{
		os.Interrupt,
		syscall.SIGTERM,
		syscall.SIGHUP,
		syscall.SIGUSR1,
		syscall.SIGUSR2,
	}
}

const signalHelp = `Signals:
  SIGHUP:  print message counters
  SIGUSR1: enable metrics (requires metrics.listen)
  SIGUSR2: disable metrics
`

// handleSignal returns true if the signal was handled and the role should keep running.
func handleSignal(sig os.Signal, logger *zap.Logger, printCounters func(), metrics *metricsController) bool {
	switch sig {
	case syscall.SIGHUP:
		printCounters()
		return true
	case syscall.SIGUSR1:
		if metrics == nil {
			logger.Warn("metrics server disabled (missing metrics.listen)")
			return true
		}
		metrics.Enable()
		logger.Info("metrics enabled")
		return true
	case syscall.SIGUSR2:
		if metrics != nil {
			metrics.Disable()
			logger.Info("metrics disabled")
		}
		return true
	default:
		return false
	}
}
