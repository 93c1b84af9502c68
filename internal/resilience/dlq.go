package resilience

import (
	"time"

	"github.com/djesaja/backstage-ingest/internal/model"
)

// DLQ error types.
const (
	ErrorTypeTransient = "transient"
	ErrorTypePermanent = "permanent"
)

// DLQEntry is a manager unit the sink failed to persist, kept for replay.
type DLQEntry struct {
	ID           string            `json:"id"`
	Period       string            `json:"period"`
	Unit         model.ManagerUnit `json:"unit"`
	Error        string            `json:"error"`
	ErrorType    string            `json:"error_type"`
	RetryCount   int               `json:"retry_count"`
	MaxRetries   int               `json:"max_retries"`
	NextRetryAt  time.Time         `json:"next_retry_at"`
	CreatedAt    time.Time         `json:"created_at"`
	LastFailedAt time.Time         `json:"last_failed_at"`
}

// DLQFilter specifies criteria for querying the dead letter queue.
type DLQFilter struct {
	Period    string `json:"period,omitempty"`
	ErrorType string `json:"error_type,omitempty"`
	Limit     int    `json:"limit,omitempty"`
}

// CanRetry reports whether the entry has retries left.
func (e *DLQEntry) CanRetry() bool {
	return e.RetryCount < e.MaxRetries
}

// NextRetry returns when the entry becomes eligible again after its
// RetryCount-th failure. Permanent failures back off an hour per retry,
// transient ones a minute.
func (e *DLQEntry) NextRetry(now time.Time) time.Time {
	base := time.Minute
	if e.ErrorType == ErrorTypePermanent {
		base = time.Hour
	}
	return now.Add(ExponentialBackoff(e.MaxRetries, base, 24*time.Hour).Delay(e.RetryCount))
}
