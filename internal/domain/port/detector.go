package port

import (
	"context"
	"time"

	"github.com/trackkit/yolo-detection-service/internal/domain/entity"
)

// RunConfig is the validated argument set for one external detection
// run. The orchestrator only sets the two folder paths, asks whether
// the configuration is runnable, and consumes the command tokens; the
// argument semantics stay behind this interface.
type RunConfig interface {
	SetInputFolder(path string)
	SetOutputFolder(path string)
	// Validate returns nil when the configuration is ready to run.
	Validate() error
	CommandName() string
	BuildTokens() []string
}

// RunMonitor receives progress and diagnostics from a detection run.
// Fatal conditions are not reported here; they surface as the run's
// error message.
type RunMonitor interface {
	// Progress reports the completed fraction of the current stage,
	// in [0,1].
	Progress(fraction float64)
	// Status names the stage the run entered.
	Status(status string)
	// Log forwards one line of run output.
	Log(line string)
	// Error reports a non-fatal diagnostic.
	Error(msg string)
}

// Detector drives one detection run to completion.
type Detector interface {
	// Process runs the full staging/launch/ingest pipeline. It
	// returns false on a fatal condition; ErrorMessage then holds
	// the single diagnostic message.
	Process(ctx context.Context) bool
	Result() *entity.Collection
	ErrorMessage() string
	ProcessingTime() time.Duration
}

// RunOptions are the per-job model knobs resolved from the job message
// and the service defaults.
type RunOptions struct {
	ModelPath  string
	Confidence float64
	IoU        float64
	UseGPU     bool
}

// DetectorFactory builds a configured detector for one run.
type DetectorFactory interface {
	NewRun(stack *entity.ImageStack, crop entity.Interval, opts RunOptions, monitor RunMonitor) Detector
}
