// Package runstore persists cycle and task outcomes so success rates stay
// inspectable across restarts.
package runstore

import (
	"context"
	"errors"
)

var (
	ErrNotFound      = errors.New("runstore: not found")
	ErrDuplicateRun  = errors.New("runstore: duplicate run")
	ErrCycleMismatch = errors.New("runstore: cycle mismatch")
)

type Store interface {
	// BeginCycle records a new run. A second begin with the same run id is
	// ErrDuplicateRun.
	BeginCycle(ctx context.Context, c CycleRecord) error
	// FinishCycle fills in the totals of a begun run.
	FinishCycle(ctx context.Context, c CycleRecord) error
	GetCycle(ctx context.Context, runID [32]byte) (CycleRecord, error)

	RecordTask(ctx context.Context, t TaskRecord) error
	// ListTasks returns a run's task records in insertion order.
	ListTasks(ctx context.Context, runID [32]byte) ([]TaskRecord, error)
}
