package port

import (
	"context"

	"github.com/google/uuid"
	"github.com/trackkit/yolo-detection-service/internal/domain/entity"
)

type JobRepository interface {
	Create(ctx context.Context, job *entity.Job) error
	Update(ctx context.Context, job *entity.Job) error
	FindByID(ctx context.Context, id uuid.UUID) (*entity.Job, error)
}

// DetectionRepository persists the detections of one frame in a
// single batch.
type DetectionRepository interface {
	SaveFrame(ctx context.Context, jobID uuid.UUID, frame int, detections []entity.Detection) error
}
