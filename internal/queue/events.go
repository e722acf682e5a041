package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// Topics carrying cycle lifecycle events.
const (
	TopicTasks  = "bridge.tasks"
	TopicCycles = "bridge.cycles"
)

// TaskEvent is published after every task attempt.
type TaskEvent struct {
	RunID   string    `json:"run_id"`
	Account string    `json:"account"`
	Task    string    `json:"task"`
	Status  string    `json:"status"`
	Reason  string    `json:"reason,omitempty"`
	TxRef   string    `json:"tx_ref,omitempty"`
	At      time.Time `json:"at"`
}

// CycleEvent is published when a cycle finishes.
type CycleEvent struct {
	RunID     string    `json:"run_id"`
	Accounts  int       `json:"accounts"`
	Attempted int       `json:"attempted"`
	Succeeded int       `json:"succeeded"`
	Skipped   int       `json:"skipped"`
	Band      string    `json:"band"`
	At        time.Time `json:"at"`
}

// Events wraps a Producer with the JSON encoding of the two event kinds.
// Messages are keyed by run id so one run's events stay ordered.
type Events struct {
	producer Producer
}

func NewEvents(producer Producer) *Events {
	return &Events{producer: producer}
}

func (e *Events) PublishTask(ctx context.Context, ev TaskEvent) error {
	return e.publish(ctx, TopicTasks, ev.RunID, ev)
}

func (e *Events) PublishCycle(ctx context.Context, ev CycleEvent) error {
	return e.publish(ctx, TopicCycles, ev.RunID, ev)
}

func (e *Events) publish(ctx context.Context, topic, key string, ev any) error {
	if e == nil || e.producer == nil {
		return nil
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("queue: encode event: %w", err)
	}
	return e.producer.Publish(ctx, topic, []byte(key), payload)
}

func (e *Events) Close() error {
	if e == nil || e.producer == nil {
		return nil
	}
	return e.producer.Close()
}
