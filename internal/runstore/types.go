package runstore

import (
	"fmt"
	"time"
)

type Status uint8

const (
	StatusUnknown Status = iota
	StatusSucceeded
	StatusSkipped
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusSucceeded:
		return "succeeded"
	case StatusSkipped:
		return "skipped"
	case StatusFailed:
		return "failed"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(s))
	}
}

// TaskRecord is the persisted outcome of one task attempt within a cycle.
type TaskRecord struct {
	RunID   [32]byte
	Account [20]byte
	Task    string

	Status Status
	// Reason carries the skip precondition or the failure error text.
	Reason string
	TxHash [32]byte

	StartedAt  time.Time
	FinishedAt time.Time
}

// CycleRecord is one cycle run. BeginCycle persists the identity fields;
// FinishCycle fills in the totals.
type CycleRecord struct {
	RunID    [32]byte
	Accounts int

	Attempted int
	Succeeded int
	Skipped   int
	Band      string

	StartedAt  time.Time
	FinishedAt time.Time
}
