package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/trackkit/yolo-detection-service/internal/domain/entity"
	"github.com/trackkit/yolo-detection-service/internal/domain/port"
	"github.com/trackkit/yolo-detection-service/internal/infra/metrics"
	"github.com/trackkit/yolo-detection-service/internal/infra/stackio"
)

type ProcessDetectionUseCase struct {
	repo       port.JobRepository
	detections port.DetectionRepository
	storage    port.StackStorage
	detectors  port.DetectorFactory
	publisher  port.StatusPublisher
	dlq        port.DLQPublisher
	notifier   port.FailureNotifier
	logger     *zap.Logger
	tempDir    string
	maxRetry   int
	defaults   port.RunOptions
}

type ProcessDetectionConfig struct {
	TempDir     string
	MaxRetries  int
	RunDefaults port.RunOptions
}

func NewProcessDetectionUseCase(
	repo port.JobRepository,
	detections port.DetectionRepository,
	storage port.StackStorage,
	detectors port.DetectorFactory,
	publisher port.StatusPublisher,
	dlq port.DLQPublisher,
	notifier port.FailureNotifier,
	logger *zap.Logger,
	cfg ProcessDetectionConfig,
) *ProcessDetectionUseCase {
	return &ProcessDetectionUseCase{
		repo:       repo,
		detections: detections,
		storage:    storage,
		detectors:  detectors,
		publisher:  publisher,
		dlq:        dlq,
		notifier:   notifier,
		logger:     logger,
		tempDir:    cfg.TempDir,
		maxRetry:   cfg.MaxRetries,
		defaults:   cfg.RunDefaults,
	}
}

func (uc *ProcessDetectionUseCase) Execute(ctx context.Context, rawMsg []byte) error {
	tracer := otel.Tracer("usecase")
	ctx, span := tracer.Start(ctx, "ProcessDetectionUseCase.Execute")
	defer span.End()

	totalTimer := time.Now()

	var msg entity.DetectionJobMessage
	if err := json.Unmarshal(rawMsg, &msg); err != nil {
		uc.logger.Error("failed to unmarshal message", zap.Error(err), zap.ByteString("body", rawMsg))
		_ = uc.dlq.PublishToDLQ(ctx, rawMsg, "unmarshal_error: "+err.Error())
		return nil
	}

	span.SetAttributes(
		attribute.String("job.id", msg.JobID.String()),
		attribute.String("job.stack_key", msg.StackKey),
	)

	log := uc.logger.With(zap.String("job_id", msg.JobID.String()), zap.String("stack_key", msg.StackKey))

	job, err := uc.repo.FindByID(ctx, msg.JobID)
	if err != nil {
		job = entity.NewJob(msg.UserID, msg.StackKey, uc.maxRetry)
		job.ID = msg.JobID
		if err := uc.repo.Create(ctx, job); err != nil {
			log.Error("failed to create job record", zap.Error(err))
			return fmt.Errorf("create job: %w", err)
		}
	}

	if !job.CanRetry() {
		log.Warn("job exhausted retries, sending to DLQ")
		_ = uc.handlePermanentFailure(ctx, job, msg, rawMsg, "max retries exceeded")
		return nil
	}

	job.MarkProcessing()
	if err := uc.repo.Update(ctx, job); err != nil {
		log.Error("failed to update job to PROCESSING", zap.Error(err))
		return fmt.Errorf("update job: %w", err)
	}

	metrics.ActiveWorkers.Inc()
	defer metrics.ActiveWorkers.Dec()

	if err := uc.runDetectionPipeline(ctx, job, msg, rawMsg, log); err != nil {
		return err
	}

	metrics.JobsProcessedTotal.WithLabelValues("completed").Inc()
	metrics.JobProcessingDuration.WithLabelValues("total").Observe(time.Since(totalTimer).Seconds())

	return nil
}

func (uc *ProcessDetectionUseCase) runDetectionPipeline(
	ctx context.Context,
	job *entity.Job,
	msg entity.DetectionJobMessage,
	rawMsg []byte,
	log *zap.Logger,
) error {
	tracer := otel.Tracer("usecase")

	workDir := filepath.Join(uc.tempDir, job.ID.String())
	if err := os.MkdirAll(workDir, 0o755); err != nil {
		return fmt.Errorf("create workdir: %w", err)
	}
	defer os.RemoveAll(workDir)

	// Fetch the stack from object storage.
	dlStart := time.Now()
	ctx2, spanDl := tracer.Start(ctx, "download_stack")
	metaPath, rawPath, err := uc.storage.DownloadStack(ctx2, msg.StackKey, workDir)
	spanDl.End()
	if err != nil {
		log.Error("failed to download stack", zap.Error(err))
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "download_stack: "+err.Error(), log)
	}
	metrics.JobProcessingDuration.WithLabelValues("download").Observe(time.Since(dlStart).Seconds())

	stack, err := stackio.Read(metaPath, rawPath)
	if err != nil {
		log.Error("failed to decode stack", zap.Error(err))
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "decode_stack: "+err.Error(), log)
	}

	crop := stack.FullInterval()
	if msg.Crop != nil {
		crop = *msg.Crop
		if err := crop.ValidateWithin(stack.FullInterval()); err != nil {
			log.Error("rejected crop from message", zap.Error(err))
			return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "invalid crop: "+err.Error(), log)
		}
	}

	// Run the external predictor.
	runStart := time.Now()
	ctx3, spanRun := tracer.Start(ctx, "detection_run")
	monitor := newJobMonitor(log, job.ID.String())
	defer monitor.close()
	detector := uc.detectors.NewRun(stack, crop, uc.resolveRunOptions(msg), monitor)
	ok := detector.Process(ctx3)
	spanRun.End()
	metrics.JobProcessingDuration.WithLabelValues("run").Observe(time.Since(runStart).Seconds())
	metrics.FramesStagedTotal.Add(float64(crop.Frames()))

	if !ok {
		errMsg := detector.ErrorMessage()
		log.Error("detection run failed", zap.String("error_message", errMsg))
		job.ProcessingMs = detector.ProcessingTime().Milliseconds()
		uc.uploadRunLog(ctx, job, errMsg, log)
		return uc.handleRetryableFailure(ctx, job, msg, rawMsg, errMsg, log)
	}

	// Persist detections per frame.
	saveStart := time.Now()
	ctx4, spanSave := tracer.Start(ctx, "save_detections")
	result := detector.Result()
	for _, frame := range result.Frames() {
		if err := uc.detections.SaveFrame(ctx4, job.ID, frame, result.Frame(frame)); err != nil {
			spanSave.End()
			log.Error("failed to save detections", zap.Int("frame", frame), zap.Error(err))
			return uc.handleRetryableFailure(ctx, job, msg, rawMsg, "save_detections: "+err.Error(), log)
		}
	}
	spanSave.End()
	metrics.JobProcessingDuration.WithLabelValues("save").Observe(time.Since(saveStart).Seconds())
	metrics.DetectionsIngestedTotal.Add(float64(result.Total()))

	job.MarkCompleted(int(crop.Frames()), result.Total(), detector.ProcessingTime())
	if err := uc.repo.Update(ctx, job); err != nil {
		log.Error("failed to update job to COMPLETED", zap.Error(err))
		return fmt.Errorf("update job completed: %w", err)
	}

	uc.publishStatus(ctx, job, log)

	log.Info("job completed successfully",
		zap.Int("frame_count", job.FrameCount),
		zap.Int("detection_count", job.DetectionCount),
		zap.Int64("processing_ms", job.ProcessingMs),
	)

	return nil
}

// resolveRunOptions folds the per-job overrides over the service
// defaults.
func (uc *ProcessDetectionUseCase) resolveRunOptions(msg entity.DetectionJobMessage) port.RunOptions {
	opts := uc.defaults
	if msg.ModelPath != "" {
		opts.ModelPath = msg.ModelPath
	}
	if msg.Confidence != nil {
		opts.Confidence = *msg.Confidence
	}
	if msg.IoU != nil {
		opts.IoU = *msg.IoU
	}
	if msg.UseGPU != nil {
		opts.UseGPU = *msg.UseGPU
	}
	return opts
}

// uploadRunLog keeps the captured predictor output of a failed run
// around for diagnostics. Best effort.
func (uc *ProcessDetectionUseCase) uploadRunLog(ctx context.Context, job *entity.Job, errMsg string, log *zap.Logger) {
	key := fmt.Sprintf("%s/attempt-%d.log", job.ID.String(), job.Attempt)
	r := strings.NewReader(errMsg)
	if err := uc.storage.UploadRunLog(ctx, key, r, int64(len(errMsg))); err != nil {
		log.Warn("failed to upload run log", zap.Error(err))
	}
}

func (uc *ProcessDetectionUseCase) handleRetryableFailure(
	ctx context.Context,
	job *entity.Job,
	msg entity.DetectionJobMessage,
	rawMsg []byte,
	errMsg string,
	log *zap.Logger,
) error {
	job.MarkFailed(errMsg, 0)
	_ = uc.repo.Update(ctx, job)

	if !job.CanRetry() {
		return uc.handlePermanentFailure(ctx, job, msg, rawMsg, errMsg)
	}

	metrics.RetryTotal.WithLabelValues(strconv.Itoa(job.Attempt)).Inc()
	uc.publishStatus(ctx, job, log)

	return fmt.Errorf("retryable failure (attempt %d/%d): %s", job.Attempt, job.MaxAttempts, errMsg)
}

func (uc *ProcessDetectionUseCase) handlePermanentFailure(
	ctx context.Context,
	job *entity.Job,
	msg entity.DetectionJobMessage,
	rawMsg []byte,
	errMsg string,
) error {
	job.MarkFailed(errMsg, 0)
	_ = uc.repo.Update(ctx, job)

	_ = uc.dlq.PublishToDLQ(ctx, rawMsg, errMsg)

	uc.publishStatus(ctx, job, uc.logger)

	metrics.JobsProcessedTotal.WithLabelValues("dlq").Inc()

	if msg.UserEmail != "" {
		_ = uc.notifier.NotifyFailure(ctx, msg.UserEmail, job.ID.String(), msg.StackKey, errMsg)
	}

	return nil
}

func (uc *ProcessDetectionUseCase) publishStatus(ctx context.Context, job *entity.Job, log *zap.Logger) {
	statusMsg := entity.DetectionStatusMessage{
		JobID:          job.ID,
		UserID:         job.UserID,
		Status:         job.Status,
		StackKey:       job.StackKey,
		FrameCount:     job.FrameCount,
		DetectionCount: job.DetectionCount,
		ProcessingMs:   job.ProcessingMs,
		ErrorMessage:   job.ErrorMessage,
		Attempt:        job.Attempt,
		MaxAttempts:    job.MaxAttempts,
	}
	data, _ := json.Marshal(statusMsg)
	if err := uc.publisher.PublishStatus(ctx, data); err != nil {
		log.Error("failed to publish status", zap.Error(err))
	}
}
