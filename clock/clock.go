// Package clock models the gating clock of a peripheral as an opaque
// capability with the usual prepare/enable lifecycle: Prepare reserves the
// clock resource, Enable actually gates it on. Both must be balanced by
// their counterparts before the clock owner releases it.
package clock

import "sync"

// Clock is a gating clock capability handed to a peripheral driver by the
// platform binding code.
type Clock interface {
	// Prepare reserves the clock resource. Must be called once before the
	// first Enable.
	Prepare() error
	// Unprepare releases the reservation made by Prepare.
	Unprepare()
	// Enable gates the clock on. Only valid on a prepared clock.
	Enable() error
	// Disable gates the clock off again.
	Disable()
}

// AlwaysOn is a Clock for clock domains that the firmware leaves running.
// All operations succeed and do nothing.
type AlwaysOn struct{}

func (AlwaysOn) Prepare() error { return nil }
func (AlwaysOn) Unprepare()     {}
func (AlwaysOn) Enable() error  { return nil }
func (AlwaysOn) Disable()       {}

// Shared wraps a Clock with reference counting so that multiple consumers
// can hold the same underlying clock resource. The underlying clock is
// prepared on the first Prepare and unprepared on the last Unprepare;
// Enable/Disable pair up the same way.
type Shared struct {
	lock     sync.Mutex
	clk      Clock
	prepared int
	enabled  int
}

// NewShared returns a reference counting wrapper around clk.
func NewShared(clk Clock) *Shared {
	return &Shared{clk: clk}
}

func (s *Shared) Prepare() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.prepared == 0 {
		if err := s.clk.Prepare(); err != nil {
			return err
		}
	}
	s.prepared++
	return nil
}

func (s *Shared) Unprepare() {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.prepared == 0 {
		return
	}
	s.prepared--
	if s.prepared == 0 {
		s.clk.Unprepare()
	}
}

func (s *Shared) Enable() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.enabled == 0 {
		if err := s.clk.Enable(); err != nil {
			return err
		}
	}
	s.enabled++
	return nil
}

func (s *Shared) Disable() {
	s.lock.Lock()
	defer s.lock.Unlock()

	if s.enabled == 0 {
		return
	}
	s.enabled--
	if s.enabled == 0 {
		s.clk.Disable()
	}
}
