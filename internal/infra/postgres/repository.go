package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/trackkit/yolo-detection-service/internal/domain/entity"
)

type JobRepository struct {
	pool *pgxpool.Pool
}

func NewJobRepository(pool *pgxpool.Pool) *JobRepository {
	return &JobRepository{pool: pool}
}

func (r *JobRepository) Create(ctx context.Context, job *entity.Job) error {
	query := `
		INSERT INTO detection_jobs (
			id, user_id, stack_key, status, frame_count, detection_count,
			processing_ms, attempt, max_attempts, error_message,
			created_at, updated_at, completed_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)`

	_, err := r.pool.Exec(ctx, query,
		job.ID, job.UserID, job.StackKey, string(job.Status),
		job.FrameCount, job.DetectionCount, job.ProcessingMs,
		job.Attempt, job.MaxAttempts, job.ErrorMessage,
		job.CreatedAt, job.UpdatedAt, job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

func (r *JobRepository) Update(ctx context.Context, job *entity.Job) error {
	query := `
		UPDATE detection_jobs SET
			status=$2, frame_count=$3, detection_count=$4, processing_ms=$5,
			attempt=$6, error_message=$7, updated_at=$8, completed_at=$9
		WHERE id=$1`

	_, err := r.pool.Exec(ctx, query,
		job.ID, string(job.Status), job.FrameCount, job.DetectionCount,
		job.ProcessingMs, job.Attempt, job.ErrorMessage,
		job.UpdatedAt, job.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	return nil
}

func (r *JobRepository) FindByID(ctx context.Context, id uuid.UUID) (*entity.Job, error) {
	query := `
		SELECT id, user_id, stack_key, status, frame_count, detection_count,
			processing_ms, attempt, max_attempts, error_message,
			created_at, updated_at, completed_at
		FROM detection_jobs WHERE id=$1`

	job := &entity.Job{}
	var status string
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&job.ID, &job.UserID, &job.StackKey, &status,
		&job.FrameCount, &job.DetectionCount, &job.ProcessingMs,
		&job.Attempt, &job.MaxAttempts, &job.ErrorMessage,
		&job.CreatedAt, &job.UpdatedAt, &job.CompletedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("find job by id: %w", err)
	}
	job.Status = entity.JobStatus(status)
	return job, nil
}

type DetectionRepository struct {
	pool *pgxpool.Pool
}

func NewDetectionRepository(pool *pgxpool.Pool) *DetectionRepository {
	return &DetectionRepository{pool: pool}
}

// SaveFrame inserts the detections of one frame in a single batch.
func (r *DetectionRepository) SaveFrame(ctx context.Context, jobID uuid.UUID, frame int, detections []entity.Detection) error {
	if len(detections) == 0 {
		return nil
	}

	query := `
		INSERT INTO detections (
			job_id, frame, class_id, x, y, z, radius, confidence
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`

	batch := &pgx.Batch{}
	for _, d := range detections {
		batch.Queue(query, jobID, frame, d.ClassID, d.X, d.Y, d.Z, d.Radius, d.Confidence)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()
	for range detections {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("insert detections for frame %d: %w", frame, err)
		}
	}
	return nil
}
