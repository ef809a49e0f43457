package core

import "time"

// TaskExecutionRecord captures one completed task's run (spec §6, supplemented
// trace history feature).
type TaskExecutionRecord struct {
	TaskID        TaskID
	Name          string
	ProcessorName string
	Importance    Importance
	FinalState    State
	WakeupSource  WakeupSource
	CancelReason  CancellationReason
	StartedAt     time.Time
	FinishedAt    time.Time
	Duration      time.Duration
	Panicked      bool
}

// ProcessorStats is a point-in-time snapshot of a TaskProcessor's runtime
// state, used for both logging and the prometheus gauge exporter.
type ProcessorStats struct {
	Name            string
	Workers         int
	Pending         int
	Running         int
	Suspended       int
	CoroutinesLive  int
	TasksCompleted  int64
	TasksCancelled  int64
	TasksRejected   int64
	CancelRequested int64
	Closed          bool
}
