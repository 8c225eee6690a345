package domain

import "time"

// TaskStatus is the lifecycle of a QueueTask (spec §3, §4.G).
type TaskStatus string

const (
	TaskQueued     TaskStatus = "queued"
	TaskProcessing TaskStatus = "processing"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
)

// QueueTask is a durable, priority-ordered, lease-based unit of work.
type QueueTask struct {
	ID            string
	TaskType      string
	Payload       []byte
	Status        TaskStatus
	Priority      int // 1 highest
	ScheduledAt   time.Time
	LeasedUntil   time.Time
	Lessor        string
	AttemptCount  int
	MaxAttempts   int
	CorrelationID string
	CreatedAt     time.Time
}

// ErrorKind is the taxonomy the retry orchestrator classifies every
// failure into (spec §4.C, §7).
type ErrorKind string

const (
	ErrKindTransient   ErrorKind = "transient"
	ErrKindPermanent   ErrorKind = "permanent"
	ErrKindRateLimited ErrorKind = "rate_limited"
	ErrKindCancelled   ErrorKind = "cancelled"
	ErrKindLeaseLost   ErrorKind = "lease_lost"
	ErrKindUnknown     ErrorKind = "unknown"
)

// ErrorRecordStatus is the lifecycle of a retry chain (spec §4.C).
type ErrorRecordStatus string

const (
	ErrorPendingRetry ErrorRecordStatus = "pending_retry"
	ErrorRetrying     ErrorRecordStatus = "retrying"
	ErrorExhausted    ErrorRecordStatus = "exhausted"
	ErrorResolved     ErrorRecordStatus = "resolved"
)

// ErrorRecord is the durable record of one retry chain.
type ErrorRecord struct {
	ID               string
	CorrelationID    string
	DocumentID       string
	Stage            StageName
	ErrorType        ErrorKind
	Message          string
	Attempt          int
	RetryScheduledAt time.Time
	Status           ErrorRecordStatus
	CreatedAt        time.Time
	UpdatedAt        time.Time
}
