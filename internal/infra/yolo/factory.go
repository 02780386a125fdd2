package yolo

import (
	"time"

	"github.com/trackkit/yolo-detection-service/internal/domain/entity"
	"github.com/trackkit/yolo-detection-service/internal/domain/port"
)

// Factory builds configured detectors for the worker pipeline.
type Factory struct {
	// Command is the predictor executable, e.g. "yolo".
	Command      string
	PollInterval time.Duration
	// IndexOffset is the frame-index convention of the predictor's
	// result file names. 0 when files keep the staged names.
	IndexOffset   int
	IngestWorkers int
}

func (f *Factory) NewRun(stack *entity.ImageStack, crop entity.Interval, opts port.RunOptions, monitor port.RunMonitor) port.Detector {
	cli := NewCLI(opts.ModelPath)
	if f.Command != "" {
		cli.Command = f.Command
	}
	cli.Confidence = opts.Confidence
	cli.IoU = opts.IoU
	cli.UseGPU = opts.UseGPU

	d := NewDetector(stack, crop, cli, monitor)
	d.PollInterval = f.PollInterval
	d.IndexOffset = f.IndexOffset
	d.IngestWorkers = f.IngestWorkers
	return d
}
