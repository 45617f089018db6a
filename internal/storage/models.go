package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Job statuses.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

type Job struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	PayloadJSON string    `json:"payload"`
	Status      string    `json:"status"` // JobPending when empty on enqueue
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
	RunAfter    time.Time `json:"run_after"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	LastError   string    `json:"last_error,omitempty"`
}

// Draft is an unsaved edit of one field of one record.
type Draft struct {
	RecordKey string
	Field     string
	Value     string
	UpdatedAt time.Time
}

// DraftKey returns the draft key of a record. New records that have no id
// yet use the id "new".
func DraftKey(recordID string) string {
	if recordID == "" {
		recordID = "new"
	}
	return "unsaved_" + recordID
}
