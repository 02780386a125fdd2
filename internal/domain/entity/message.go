package entity

import "github.com/google/uuid"

// DetectionJobMessage is the inbound message from the detection.jobs
// queue. Crop and the model knobs are optional; absent values fall
// back to the service defaults.
type DetectionJobMessage struct {
	JobID      uuid.UUID `json:"job_id"`
	UserID     string    `json:"user_id"`
	StackKey   string    `json:"stack_key"`
	UserEmail  string    `json:"user_email"`
	Crop       *Interval `json:"crop,omitempty"`
	ModelPath  string    `json:"model_path,omitempty"`
	Confidence *float64  `json:"confidence,omitempty"`
	IoU        *float64  `json:"iou,omitempty"`
	UseGPU     *bool     `json:"use_gpu,omitempty"`
}

// DetectionStatusMessage is the outbound message published to the
// detection.status queue.
type DetectionStatusMessage struct {
	JobID          uuid.UUID `json:"job_id"`
	UserID         string    `json:"user_id"`
	Status         JobStatus `json:"status"`
	StackKey       string    `json:"stack_key"`
	FrameCount     int       `json:"frame_count,omitempty"`
	DetectionCount int       `json:"detection_count,omitempty"`
	ProcessingMs   int64     `json:"processing_ms,omitempty"`
	ErrorMessage   string    `json:"error_message,omitempty"`
	Attempt        int       `json:"attempt"`
	MaxAttempts    int       `json:"max_attempts"`
}
