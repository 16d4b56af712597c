package model

import (
	"time"

	"github.com/google/uuid"
)

// DefaultInterval is the spacing between two cycles.
const DefaultInterval = 24 * time.Hour

// ScheduleState is the persisted cycle timing.
type ScheduleState struct {
	PreviousRun time.Time `json:"previousRun"`
	NextRun     time.Time `json:"nextRun"`
	CycleCount  int       `json:"cycleCount,omitempty"`
}

// IsZero reports whether no cycle was ever scheduled.
func (s ScheduleState) IsZero() bool {
	return s.PreviousRun.IsZero() && s.NextRun.IsZero() && s.CycleCount == 0
}

// Cycle describes one firing of the scheduler.
type Cycle struct {
	ID        string
	Number    int // cycles completed before this one
	StartedAt time.Time
	Schedule  ScheduleState
}

// NewCycle builds the cycle descriptor for a firing at startedAt.
func NewCycle(number int, startedAt time.Time, next ScheduleState) Cycle {
	return Cycle{
		ID:        uuid.NewString(),
		Number:    number,
		StartedAt: startedAt,
		Schedule:  next,
	}
}
