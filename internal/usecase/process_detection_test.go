package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/trackkit/yolo-detection-service/internal/domain/entity"
	"github.com/trackkit/yolo-detection-service/internal/domain/port"
)

type fakeJobRepo struct {
	mu   sync.Mutex
	jobs map[uuid.UUID]*entity.Job
}

func newFakeJobRepo() *fakeJobRepo {
	return &fakeJobRepo{jobs: make(map[uuid.UUID]*entity.Job)}
}

func (r *fakeJobRepo) Create(_ context.Context, job *entity.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *job
	r.jobs[job.ID] = &cp
	return nil
}

func (r *fakeJobRepo) Update(_ context.Context, job *entity.Job) error {
	return r.Create(context.Background(), job)
}

func (r *fakeJobRepo) FindByID(_ context.Context, id uuid.UUID) (*entity.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return nil, errors.New("not found")
	}
	cp := *job
	return &cp, nil
}

type fakeDetectionRepo struct {
	mu     sync.Mutex
	frames map[int][]entity.Detection
}

func newFakeDetectionRepo() *fakeDetectionRepo {
	return &fakeDetectionRepo{frames: make(map[int][]entity.Detection)}
}

func (r *fakeDetectionRepo) SaveFrame(_ context.Context, _ uuid.UUID, frame int, dets []entity.Detection) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames[frame] = append(r.frames[frame], dets...)
	return nil
}

// fakeStorage serves a tiny single-frame stack from memory.
type fakeStorage struct {
	mu      sync.Mutex
	logKeys []string
	downErr error
}

func (s *fakeStorage) DownloadStack(_ context.Context, _ string, destDir string) (string, string, error) {
	if s.downErr != nil {
		return "", "", s.downErr
	}
	meta := `{"axes":["Y","X"],"dims":[2,2],"pixel_type":"uint8","calibration":{"x":1,"y":1,"z":1}}`
	metaPath := filepath.Join(destDir, "stack.json")
	rawPath := filepath.Join(destDir, "stack.raw")
	if err := os.WriteFile(metaPath, []byte(meta), 0o644); err != nil {
		return "", "", err
	}
	if err := os.WriteFile(rawPath, []byte{1, 2, 3, 4}, 0o644); err != nil {
		return "", "", err
	}
	return metaPath, rawPath, nil
}

func (s *fakeStorage) UploadRunLog(_ context.Context, key string, r io.Reader, _ int64) error {
	io.Copy(io.Discard, r)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logKeys = append(s.logKeys, key)
	return nil
}

type fakeDetector struct {
	ok     bool
	errMsg string
	result *entity.Collection
	opts   port.RunOptions
}

func (d *fakeDetector) Process(context.Context) bool  { return d.ok }
func (d *fakeDetector) Result() *entity.Collection    { return d.result }
func (d *fakeDetector) ErrorMessage() string          { return d.errMsg }
func (d *fakeDetector) ProcessingTime() time.Duration { return 42 * time.Millisecond }

type fakeFactory struct {
	detector *fakeDetector
}

func (f *fakeFactory) NewRun(_ *entity.ImageStack, _ entity.Interval, opts port.RunOptions, _ port.RunMonitor) port.Detector {
	f.detector.opts = opts
	return f.detector
}

type fakePublisher struct {
	mu       sync.Mutex
	statuses []entity.DetectionStatusMessage
}

func (p *fakePublisher) PublishStatus(_ context.Context, msg []byte) error {
	var status entity.DetectionStatusMessage
	if err := json.Unmarshal(msg, &status); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.statuses = append(p.statuses, status)
	return nil
}

type fakeDLQ struct {
	mu      sync.Mutex
	reasons []string
}

func (d *fakeDLQ) PublishToDLQ(_ context.Context, _ []byte, reason string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reasons = append(d.reasons, reason)
	return nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	emails []string
}

func (n *fakeNotifier) NotifyFailure(_ context.Context, userEmail, _, _, _ string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.emails = append(n.emails, userEmail)
	return nil
}

type ucFixture struct {
	uc       *ProcessDetectionUseCase
	repo     *fakeJobRepo
	dets     *fakeDetectionRepo
	storage  *fakeStorage
	factory  *fakeFactory
	pub      *fakePublisher
	dlq      *fakeDLQ
	notifier *fakeNotifier
}

func newFixture(t *testing.T, detector *fakeDetector, maxRetries int) *ucFixture {
	t.Helper()
	fx := &ucFixture{
		repo:     newFakeJobRepo(),
		dets:     newFakeDetectionRepo(),
		storage:  &fakeStorage{},
		factory:  &fakeFactory{detector: detector},
		pub:      &fakePublisher{},
		dlq:      &fakeDLQ{},
		notifier: &fakeNotifier{},
	}
	fx.uc = NewProcessDetectionUseCase(
		fx.repo, fx.dets, fx.storage, fx.factory,
		fx.pub, fx.dlq, fx.notifier,
		zap.NewNop(),
		ProcessDetectionConfig{
			TempDir:    t.TempDir(),
			MaxRetries: maxRetries,
			RunDefaults: port.RunOptions{
				ModelPath:  "/models/default.pt",
				Confidence: 0.25,
				IoU:        0.7,
			},
		},
	)
	return fx
}

func jobMessage(t *testing.T) ([]byte, entity.DetectionJobMessage) {
	t.Helper()
	msg := entity.DetectionJobMessage{
		JobID:     uuid.New(),
		UserID:    "user-1",
		StackKey:  "user-1/embryo-01",
		UserEmail: "user@lab.example",
	}
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	return raw, msg
}

func TestExecuteHappyPath(t *testing.T) {
	result := entity.NewCollection()
	result.Put(0, []entity.Detection{{X: 1, Y: 2, Radius: 0.5, Confidence: 0.9}})
	detector := &fakeDetector{ok: true, result: result}
	fx := newFixture(t, detector, 3)
	raw, msg := jobMessage(t)

	require.NoError(t, fx.uc.Execute(context.Background(), raw))

	job, err := fx.repo.FindByID(context.Background(), msg.JobID)
	require.NoError(t, err)
	assert.Equal(t, entity.JobStatusCompleted, job.Status)
	assert.Equal(t, 1, job.DetectionCount)
	assert.Equal(t, 1, job.FrameCount)
	assert.Equal(t, int64(42), job.ProcessingMs)

	assert.Len(t, fx.dets.frames[0], 1)
	require.Len(t, fx.pub.statuses, 1)
	assert.Equal(t, entity.JobStatusCompleted, fx.pub.statuses[0].Status)
	assert.Empty(t, fx.dlq.reasons)
}

func TestExecuteAppliesMessageOverrides(t *testing.T) {
	detector := &fakeDetector{ok: true, result: entity.NewCollection()}
	fx := newFixture(t, detector, 3)

	conf := 0.6
	useGPU := true
	msg := entity.DetectionJobMessage{
		JobID:      uuid.New(),
		UserID:     "user-1",
		StackKey:   "user-1/embryo-01",
		ModelPath:  "/models/custom.pt",
		Confidence: &conf,
		UseGPU:     &useGPU,
	}
	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	require.NoError(t, fx.uc.Execute(context.Background(), raw))

	assert.Equal(t, "/models/custom.pt", detector.opts.ModelPath)
	assert.Equal(t, 0.6, detector.opts.Confidence)
	assert.Equal(t, 0.7, detector.opts.IoU) // default kept
	assert.True(t, detector.opts.UseGPU)
}

func TestExecuteFailedRunIsRetryable(t *testing.T) {
	detector := &fakeDetector{ok: false, errMsg: "[YOLO] problem running yolo", result: entity.NewCollection()}
	fx := newFixture(t, detector, 3)
	raw, msg := jobMessage(t)

	err := fx.uc.Execute(context.Background(), raw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retryable failure")

	job, findErr := fx.repo.FindByID(context.Background(), msg.JobID)
	require.NoError(t, findErr)
	assert.Equal(t, entity.JobStatusFailed, job.Status)
	assert.Equal(t, "[YOLO] problem running yolo", job.ErrorMessage)
	// Processing time is recorded even for failed runs.
	assert.Equal(t, int64(42), job.ProcessingMs)
	// The captured log went to storage for diagnostics.
	assert.Len(t, fx.storage.logKeys, 1)
	assert.Empty(t, fx.notifier.emails)
}

func TestExecuteExhaustedRetriesGoToDLQ(t *testing.T) {
	detector := &fakeDetector{ok: false, errMsg: "[YOLO] problem running yolo", result: entity.NewCollection()}
	fx := newFixture(t, detector, 1)
	raw, msg := jobMessage(t)

	// The single allowed attempt fails permanently.
	err := fx.uc.Execute(context.Background(), raw)
	require.NoError(t, err)

	job, findErr := fx.repo.FindByID(context.Background(), msg.JobID)
	require.NoError(t, findErr)
	assert.Equal(t, entity.JobStatusFailed, job.Status)
	assert.Len(t, fx.dlq.reasons, 1)
	assert.Equal(t, []string{"user@lab.example"}, fx.notifier.emails)
}

func TestExecuteMalformedMessageGoesToDLQ(t *testing.T) {
	detector := &fakeDetector{ok: true, result: entity.NewCollection()}
	fx := newFixture(t, detector, 3)

	require.NoError(t, fx.uc.Execute(context.Background(), []byte("{not json")))
	require.Len(t, fx.dlq.reasons, 1)
	assert.Contains(t, fx.dlq.reasons[0], "unmarshal_error")
}

func TestExecuteDownloadFailureIsRetryable(t *testing.T) {
	detector := &fakeDetector{ok: true, result: entity.NewCollection()}
	fx := newFixture(t, detector, 3)
	fx.storage.downErr = fmt.Errorf("bucket unreachable")
	raw, _ := jobMessage(t)

	err := fx.uc.Execute(context.Background(), raw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "download_stack")
}

func TestExecuteRejectsCropOutsideStack(t *testing.T) {
	detector := &fakeDetector{ok: true, result: entity.NewCollection()}
	fx := newFixture(t, detector, 3)

	// The fake storage serves a 2x2 stack; this crop reaches far
	// outside it and must fail the job instead of reaching the run.
	msg := entity.DetectionJobMessage{
		JobID:    uuid.New(),
		UserID:   "user-1",
		StackKey: "user-1/embryo-01",
		Crop:     &entity.Interval{MaxX: 99, MaxY: 99},
	}
	raw, err := json.Marshal(msg)
	require.NoError(t, err)

	err = fx.uc.Execute(context.Background(), raw)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid crop")

	job, findErr := fx.repo.FindByID(context.Background(), msg.JobID)
	require.NoError(t, findErr)
	assert.Equal(t, entity.JobStatusFailed, job.Status)
	assert.Contains(t, job.ErrorMessage, "invalid crop")
}
