package usecase

import (
	"go.uber.org/zap"

	"github.com/trackkit/yolo-detection-service/internal/infra/metrics"
)

// jobMonitor routes detection-run feedback to the job's logger and
// the per-job progress gauge. It implements port.RunMonitor.
type jobMonitor struct {
	log   *zap.Logger
	jobID string
}

func newJobMonitor(log *zap.Logger, jobID string) *jobMonitor {
	return &jobMonitor{log: log, jobID: jobID}
}

func (m *jobMonitor) Progress(fraction float64) {
	metrics.RunProgress.WithLabelValues(m.jobID).Set(fraction)
}

func (m *jobMonitor) Status(status string) {
	m.log.Info("run status", zap.String("status", status))
}

func (m *jobMonitor) Log(line string) {
	m.log.Debug("run output", zap.String("line", line))
}

func (m *jobMonitor) Error(msg string) {
	m.log.Warn("run diagnostic", zap.String("diagnostic", msg))
}

// close drops the job's progress series so the gauge does not grow
// without bound.
func (m *jobMonitor) close() {
	metrics.RunProgress.DeleteLabelValues(m.jobID)
}
