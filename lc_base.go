package outboxd

import (
	"sync/atomic"
	"time"
)

const (
	stopped = iota
	started
)

// lcBase gives every background loop in this package (PollingLoop,
// Reaper, CleanupWorker, DiscoveryProvider's refresh loop) the same
// start-once/stop-once discipline.
type lcBase struct {
	state atomic.Int32
}

func (lb *lcBase) tryStart() error {
	if !lb.state.CompareAndSwap(stopped, started) {
		return ErrDoubleStarted
	}
	return nil
}

func (lb *lcBase) tryStop(timeout time.Duration, df func() <-chan struct{}) error {
	if !lb.state.CompareAndSwap(started, stopped) {
		return ErrDoubleStopped
	}
	done := df()
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		return nil
	case <-timer.C:
		return ErrStopTimeout
	}
}
