package scale

import (
	"sync/atomic"

	"github.com/scalewire/go-weighbridge/weight"
)

// OpState is the lifecycle state of a Session.
type OpState uint32

const (
	ClosedState OpState = iota
	ClosingState
	OpeningState
	OpenedState
	ErroredState
)

// AtomicOpState holds an OpState and enforces its legal transitions with
// compare-and-swap operations, so concurrent open, close and recovery
// attempts race safely.
type AtomicOpState struct {
	state atomic.Uint32
}

func (st *AtomicOpState) String() string {
	switch st.Get() {
	case ClosedState:
		return "Closed"
	case ClosingState:
		return "Closing"
	case OpeningState:
		return "Opening"
	case OpenedState:
		return "Opened"
	case ErroredState:
		return "Errored"
	default:
		return "Unknown"
	}
}

// Get returns the current state.
func (st *AtomicOpState) Get() OpState {
	return OpState(st.state.Load())
}

// Set sets the state unconditionally.
func (st *AtomicOpState) Set(state OpState) {
	st.state.Store(uint32(state))
}

func (st *AtomicOpState) IsClosed() bool {
	return st.Get() == ClosedState
}

func (st *AtomicOpState) IsClosing() bool {
	return st.Get() == ClosingState
}

func (st *AtomicOpState) IsOpening() bool {
	return st.Get() == OpeningState
}

func (st *AtomicOpState) IsOpened() bool {
	return st.Get() == OpenedState
}

func (st *AtomicOpState) IsErrored() bool {
	return st.Get() == ErroredState
}

// ToOpening starts an open attempt. It succeeds from Closed and, for
// recovery reopens, from Errored.
func (st *AtomicOpState) ToOpening() bool {
	if st.state.CompareAndSwap(uint32(ClosedState), uint32(OpeningState)) {
		return true
	}

	return st.state.CompareAndSwap(uint32(ErroredState), uint32(OpeningState))
}

func (st *AtomicOpState) ToOpened() bool {
	if st.IsOpened() {
		return true
	}

	return st.state.CompareAndSwap(uint32(OpeningState), uint32(OpenedState))
}

// ToErrored marks an open session failed. Only Opened sessions fail; a
// session already being torn down keeps its state.
func (st *AtomicOpState) ToErrored() bool {
	return st.state.CompareAndSwap(uint32(OpenedState), uint32(ErroredState))
}

func (st *AtomicOpState) ToClosing() bool {
	if st.state.CompareAndSwap(uint32(OpenedState), uint32(ClosingState)) {
		return true
	}
	if st.state.CompareAndSwap(uint32(OpeningState), uint32(ClosingState)) {
		return true
	}

	return st.state.CompareAndSwap(uint32(ErroredState), uint32(ClosingState))
}

func (st *AtomicOpState) ToClosed() bool {
	if st.IsClosed() {
		return true
	}

	return st.state.CompareAndSwap(uint32(ClosingState), uint32(ClosedState))
}

// SessionState is a point-in-time snapshot of a session's observable state.
type SessionState struct {
	// ConnectionOpen reports whether the device handle is held and usable.
	ConnectionOpen bool

	// LastReading is a copy of the most recently published reading, nil
	// when none has been published since the session (re)opened.
	LastReading *weight.Reading

	// ConsecutiveErrors is the current run of device errors without an
	// intervening successful read.
	ConsecutiveErrors int

	// LastError is the most recent device error message. It survives a
	// successful read and clears when the session (re)opens.
	LastError string
}
