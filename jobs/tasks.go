package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskOverdueSweep flips pending installments past their due date to overdue.
	TaskOverdueSweep = "installments:overdue_sweep"
	// TaskIdempotencyCleanup purges expired idempotency keys.
	TaskIdempotencyCleanup = "maintenance:idempotency_cleanup"

	jobOverdueSweep       = "installments_overdue_sweep"
	jobIdempotencyCleanup = "idempotency_cleanup"
)

// OverdueSweepPayload records who asked for a sweep and for which instant.
type OverdueSweepPayload struct {
	TriggeredBy  string    `json:"triggered_by"`
	ScheduledFor time.Time `json:"scheduled_for,omitempty"`
}

// NewOverdueSweepTask builds a sweep task. Duplicate sweeps queued within the
// same minute collapse into one.
func NewOverdueSweepTask(payload OverdueSweepPayload) (*asynq.Task, error) {
	if payload.TriggeredBy == "" {
		payload.TriggeredBy = "cron"
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOverdueSweep, body, asynq.Queue(QueueDefault), asynq.Unique(time.Minute)), nil
}

// IdempotencyCleanupPayload configures the retention of stored keys.
type IdempotencyCleanupPayload struct {
	RetentionHours int `json:"retention_hours"`
}

// NewIdempotencyCleanupTask builds a cleanup task. Zero retention falls back to one week.
func NewIdempotencyCleanupTask(retention time.Duration) (*asynq.Task, error) {
	body, err := json.Marshal(IdempotencyCleanupPayload{RetentionHours: int(retention / time.Hour)})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskIdempotencyCleanup, body, asynq.Queue(QueueDefault)), nil
}
