package jobs

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the only queue the register worker serves.
	QueueDefault = "default"
	// TaskImportBackups moves local failure backups into the database.
	TaskImportBackups = "failed:import-backups"
)

type ImportBackupsPayload struct {
	RequestedBy string    `json:"requested_by,omitempty"`
	RequestedAt time.Time `json:"requested_at"`
}

func NewImportBackupsTask(payload ImportBackupsPayload) (*asynq.Task, error) {
	if payload.RequestedAt.IsZero() {
		payload.RequestedAt = time.Now().UTC()
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskImportBackups, body, asynq.Queue(QueueDefault), asynq.MaxRetry(3)), nil
}
