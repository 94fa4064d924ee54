// Package safety implements the pure safety decision function: given the
// latest hall readings and the age of the snapshot, is motion permitted.
package safety

import (
	"fmt"
	"time"
)

// Status is the outcome of an Evaluate call. Computed, never stored.
type Status struct {
	CanMove bool
	Reason  string // empty when CanMove is true
}

// Monitor holds the configured thresholds the decision is made against.
type Monitor struct {
	HallThreshold uint16
	StaleTimeout  time.Duration
}

// New constructs a Monitor with the given thresholds.
func New(hallThreshold uint16, staleTimeout time.Duration) Monitor {
	return Monitor{HallThreshold: hallThreshold, StaleTimeout: staleTimeout}
}

// Evaluate applies the safety rule in a fixed order: no-update, stale,
// missing halls, then per-winch hall-below-threshold. It never mutates its
// inputs and has no side effects.
func (m Monitor) Evaluate(halls map[int]uint16, lastUpdate *time.Time, now time.Time) Status {
	if lastUpdate == nil {
		return Status{CanMove: false, Reason: "no sensor update"}
	}
	if now.Sub(*lastUpdate) > m.StaleTimeout {
		return Status{CanMove: false, Reason: "stale sensor data"}
	}
	if len(halls) == 0 {
		return Status{CanMove: false, Reason: "missing hall data"}
	}
	for _, v := range halls {
		if v < m.HallThreshold {
			return Status{CanMove: false, Reason: fmt.Sprintf("hall below %d", m.HallThreshold)}
		}
	}
	return Status{CanMove: true}
}

// EvaluateAllowingHallBelow is Evaluate with the "hall below threshold"
// clause demoted: a hall-gated job treats a sub-threshold hall as a
// per-motor stop, not a fault, while stale data or a comms failure
// (absent update) still trips FAULT.
func (m Monitor) EvaluateAllowingHallBelow(halls map[int]uint16, lastUpdate *time.Time, now time.Time) Status {
	if lastUpdate == nil {
		return Status{CanMove: false, Reason: "no sensor update"}
	}
	if now.Sub(*lastUpdate) > m.StaleTimeout {
		return Status{CanMove: false, Reason: "stale sensor data"}
	}
	if len(halls) == 0 {
		return Status{CanMove: false, Reason: "missing hall data"}
	}
	return Status{CanMove: true}
}
