package session

import "time"

// Observer receives pipeline events, typically to feed metrics. Calls are
// made while the session lock is held and must not block.
type Observer interface {
	FrameSampled()
	FrameDropped()
	RequestDispatched()
	ResultApplied(match bool, latency time.Duration)
	ResultStale()
	DecodeTimeout()
	WorkerRestarted()
	SessionEnded(state State, reason string)
}

// NopObserver ignores every event.
type NopObserver struct{}

func (NopObserver) FrameSampled()                     {}
func (NopObserver) FrameDropped()                     {}
func (NopObserver) RequestDispatched()                {}
func (NopObserver) ResultApplied(bool, time.Duration) {}
func (NopObserver) ResultStale()                      {}
func (NopObserver) DecodeTimeout()                    {}
func (NopObserver) WorkerRestarted()                  {}
func (NopObserver) SessionEnded(State, string)        {}
