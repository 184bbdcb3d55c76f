package jobs

import (
	"encoding/json"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskOverdueSweep is the task type for the overdue obligation sweep.
	TaskOverdueSweep = "schedule:overdue_sweep"
)

// OverdueSweepPayload bounds one sweep run.
type OverdueSweepPayload struct {
	Limit int `json:"limit"`
}

// NewOverdueSweepTask constructs an Asynq task.
func NewOverdueSweepTask(limit int) (*asynq.Task, error) {
	data, err := json.Marshal(OverdueSweepPayload{Limit: limit})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskOverdueSweep, data), nil
}
