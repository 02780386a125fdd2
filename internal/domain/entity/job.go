package entity

import (
	"time"

	"github.com/google/uuid"
)

type JobStatus string

const (
	JobStatusPending    JobStatus = "PENDING"
	JobStatusProcessing JobStatus = "PROCESSING"
	JobStatusCompleted  JobStatus = "COMPLETED"
	JobStatusFailed     JobStatus = "FAILED"
)

// Job is the lifecycle record of one detection run.
type Job struct {
	ID             uuid.UUID
	UserID         string
	StackKey       string
	Status         JobStatus
	FrameCount     int
	DetectionCount int
	ProcessingMs   int64
	Attempt        int
	MaxAttempts    int
	ErrorMessage   string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
}

func NewJob(userID, stackKey string, maxAttempts int) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:          uuid.New(),
		UserID:      userID,
		StackKey:    stackKey,
		Status:      JobStatusPending,
		Attempt:     0,
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func (j *Job) MarkProcessing() {
	j.Status = JobStatusProcessing
	j.Attempt++
	j.UpdatedAt = time.Now().UTC()
}

func (j *Job) MarkCompleted(frameCount, detectionCount int, elapsed time.Duration) {
	now := time.Now().UTC()
	j.Status = JobStatusCompleted
	j.FrameCount = frameCount
	j.DetectionCount = detectionCount
	j.ProcessingMs = elapsed.Milliseconds()
	j.UpdatedAt = now
	j.CompletedAt = &now
}

// MarkFailed records the failure. Elapsed time is kept even for
// failed runs; zero leaves any earlier measurement in place.
func (j *Job) MarkFailed(errMsg string, elapsed time.Duration) {
	j.Status = JobStatusFailed
	j.ErrorMessage = errMsg
	if elapsed > 0 {
		j.ProcessingMs = elapsed.Milliseconds()
	}
	j.UpdatedAt = time.Now().UTC()
}

func (j *Job) CanRetry() bool {
	return j.Attempt < j.MaxAttempts
}
