package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/giwa-labs/bridge-runner/internal/runstore"
)

var ErrInvalidConfig = errors.New("runstore/postgres: invalid config")

type Store struct {
	pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("%w: nil pool", ErrInvalidConfig)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("runstore/postgres: ensure schema: %w", err)
	}
	return nil
}

func (s *Store) BeginCycle(ctx context.Context, c runstore.CycleRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO bridge_cycles (run_id, accounts, started_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (run_id) DO NOTHING
	`, c.RunID[:], int32(c.Accounts), c.StartedAt)
	if err != nil {
		return fmt.Errorf("runstore/postgres: begin cycle: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return runstore.ErrDuplicateRun
	}
	return nil
}

func (s *Store) FinishCycle(ctx context.Context, c runstore.CycleRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE bridge_cycles
		SET attempted = $2, succeeded = $3, skipped = $4, band = $5, finished_at = $6
		WHERE run_id = $1 AND accounts = $7
	`, c.RunID[:], int32(c.Attempted), int32(c.Succeeded), int32(c.Skipped), c.Band, c.FinishedAt, int32(c.Accounts))
	if err != nil {
		return fmt.Errorf("runstore/postgres: finish cycle: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Either an unknown run or one begun with a different account set.
		if _, err := s.GetCycle(ctx, c.RunID); err != nil {
			return err
		}
		return runstore.ErrCycleMismatch
	}
	return nil
}

func (s *Store) GetCycle(ctx context.Context, runID [32]byte) (runstore.CycleRecord, error) {
	if s == nil || s.pool == nil {
		return runstore.CycleRecord{}, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}

	var (
		runIDRaw   []byte
		accounts   int32
		attempted  int32
		succeeded  int32
		skipped    int32
		band       string
		startedAt  time.Time
		finishedAt *time.Time
	)
	err := s.pool.QueryRow(ctx, `
		SELECT run_id, accounts, attempted, succeeded, skipped, band, started_at, finished_at
		FROM bridge_cycles
		WHERE run_id = $1
	`, runID[:]).Scan(&runIDRaw, &accounts, &attempted, &succeeded, &skipped, &band, &startedAt, &finishedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return runstore.CycleRecord{}, runstore.ErrNotFound
		}
		return runstore.CycleRecord{}, fmt.Errorf("runstore/postgres: get cycle: %w", err)
	}

	id, err := to32(runIDRaw)
	if err != nil {
		return runstore.CycleRecord{}, err
	}
	c := runstore.CycleRecord{
		RunID:     id,
		Accounts:  int(accounts),
		Attempted: int(attempted),
		Succeeded: int(succeeded),
		Skipped:   int(skipped),
		Band:      band,
		StartedAt: startedAt,
	}
	if finishedAt != nil {
		c.FinishedAt = *finishedAt
	}
	return c, nil
}

func (s *Store) RecordTask(ctx context.Context, t runstore.TaskRecord) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	var txHash []byte
	if t.TxHash != ([32]byte{}) {
		txHash = t.TxHash[:]
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO bridge_tasks (run_id, account, task, status, reason, tx_hash, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, t.RunID[:], t.Account[:], t.Task, int16(t.Status), t.Reason, txHash, t.StartedAt, t.FinishedAt)
	if err != nil {
		return fmt.Errorf("runstore/postgres: record task: %w", err)
	}
	return nil
}

func (s *Store) ListTasks(ctx context.Context, runID [32]byte) ([]runstore.TaskRecord, error) {
	if s == nil || s.pool == nil {
		return nil, fmt.Errorf("%w: nil store", ErrInvalidConfig)
	}
	if _, err := s.GetCycle(ctx, runID); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx, `
		SELECT run_id, account, task, status, reason, tx_hash, started_at, finished_at
		FROM bridge_tasks
		WHERE run_id = $1
		ORDER BY id
	`, runID[:])
	if err != nil {
		return nil, fmt.Errorf("runstore/postgres: list tasks: %w", err)
	}
	defer rows.Close()

	var out []runstore.TaskRecord
	for rows.Next() {
		var (
			runIDRaw   []byte
			accountRaw []byte
			task       string
			status     int16
			reason     string
			txHashRaw  []byte
			startedAt  time.Time
			finishedAt time.Time
		)
		if err := rows.Scan(&runIDRaw, &accountRaw, &task, &status, &reason, &txHashRaw, &startedAt, &finishedAt); err != nil {
			return nil, fmt.Errorf("runstore/postgres: scan task: %w", err)
		}
		id, err := to32(runIDRaw)
		if err != nil {
			return nil, err
		}
		account, err := to20(accountRaw)
		if err != nil {
			return nil, err
		}
		t := runstore.TaskRecord{
			RunID:      id,
			Account:    account,
			Task:       task,
			Status:     runstore.Status(status),
			Reason:     reason,
			StartedAt:  startedAt,
			FinishedAt: finishedAt,
		}
		if txHashRaw != nil {
			h, err := to32(txHashRaw)
			if err != nil {
				return nil, err
			}
			t.TxHash = h
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("runstore/postgres: list tasks: %w", err)
	}
	return out, nil
}

func to32(b []byte) ([32]byte, error) {
	var out [32]byte
	if len(b) != 32 {
		return out, fmt.Errorf("runstore/postgres: expected 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}

func to20(b []byte) ([20]byte, error) {
	var out [20]byte
	if len(b) != 20 {
		return out, fmt.Errorf("runstore/postgres: expected 20 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}
