package session

import "sync/atomic"

// State tracks the session lifecycle flags.
//
// Each flag has one writer at a time: running is set by Init and cleared by
// Shutdown, polling is set by StartPolling and cleared by the poller on exit,
// stopRequested is set by StopPolling and cleared by the poller on exit.
type State struct {
	running       atomic.Bool
	polling       atomic.Bool
	stopRequested atomic.Bool
}

// TryStart moves running from false to true. It reports false if the
// session was already running.
func (s *State) TryStart() bool {
	return s.running.CompareAndSwap(false, true)
}

// Stop clears running. The caller must already know polling is inactive.
func (s *State) Stop() {
	s.running.Store(false)
}

// TryStartPolling moves polling from false to true. It reports false if a
// poller is already active.
func (s *State) TryStartPolling() bool {
	return s.polling.CompareAndSwap(false, true)
}

// MarkPollingStopped clears polling and stopRequested so a new polling
// session can start.
func (s *State) MarkPollingStopped() {
	s.stopRequested.Store(false)
	s.polling.Store(false)
}

// RequestStop asks the active poller to exit.
func (s *State) RequestStop() {
	s.stopRequested.Store(true)
}

func (s *State) IsRunning() bool     { return s.running.Load() }
func (s *State) IsPolling() bool     { return s.polling.Load() }
func (s *State) StopRequested() bool { return s.stopRequested.Load() }
