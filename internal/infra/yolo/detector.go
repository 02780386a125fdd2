package yolo

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/trackkit/yolo-detection-service/internal/domain/entity"
	"github.com/trackkit/yolo-detection-service/internal/domain/port"
)

const (
	baseErrorMessage = "[YOLO] "
	outputFolderName = "output"
	logFileName      = "yolo-predict.log"
	workspacePrefix  = "yolo-detect-imgs-"
)

// State of a detection run.
type State string

const (
	StateIdle        State = "IDLE"
	StateStaging     State = "STAGING"
	StateConfiguring State = "CONFIGURING"
	StateLaunching   State = "LAUNCHING"
	StateRunning     State = "RUNNING"
	StateIngesting   State = "INGESTING"
	StateDone        State = "DONE"
	StateFailed      State = "FAILED"
)

// Detector orchestrates one external detection run: it stages the
// cropped stack into an isolated workspace, launches the predictor
// with its output tailed for progress, and ingests the label files
// into a detection collection.
type Detector struct {
	stack   *entity.ImageStack
	crop    entity.Interval
	cfg     port.RunConfig
	monitor port.RunMonitor

	// PollInterval is the log tailing period. Zero means the
	// default of 200 ms.
	PollInterval time.Duration
	// IndexOffset shifts the frame index parsed from result file
	// names. The staged files are named by absolute frame index, so
	// the default of 0 round-trips as long as the external tool
	// keeps the input file names.
	IndexOffset int
	// IngestWorkers bounds the concurrent result-file parses.
	IngestWorkers int

	state          State
	errorMessage   string
	processingTime time.Duration
	output         *entity.Collection
}

func NewDetector(stack *entity.ImageStack, crop entity.Interval, cfg port.RunConfig, monitor port.RunMonitor) *Detector {
	if monitor == nil {
		monitor = NopMonitor{}
	}
	return &Detector{
		stack:   stack,
		crop:    crop,
		cfg:     cfg,
		monitor: monitor,
		state:   StateIdle,
	}
}

func (d *Detector) Result() *entity.Collection    { return d.output }
func (d *Detector) ErrorMessage() string          { return d.errorMessage }
func (d *Detector) ProcessingTime() time.Duration { return d.processingTime }
func (d *Detector) State() State                  { return d.state }

// Process runs the full pipeline and reports overall success. On a
// fatal condition it returns false and ErrorMessage holds the single
// human-readable diagnostic. Ingestion problems never fail the run;
// the collection then holds whatever could be recovered.
func (d *Detector) Process(ctx context.Context) bool {
	d.errorMessage = ""
	d.output = entity.NewCollection()
	start := time.Now()
	defer func() { d.processingTime = time.Since(start) }()

	// Staging.
	d.state = StateStaging
	workspace, err := os.MkdirTemp("", workspacePrefix)
	if err != nil {
		return d.fail("could not create temp folder to save input image: " + err.Error())
	}
	defer os.RemoveAll(workspace)

	d.monitor.Status("Staging source image")
	d.monitor.Log("Saving source image to " + workspace)
	if err := ExportFrames(ctx, d.stack, d.crop, workspace, d.monitor); err != nil {
		return d.fail(fmt.Sprintf("problem saving image frames to %s: %v", workspace, err))
	}
	outputFolder := filepath.Join(workspace, outputFolderName)

	// Configuring.
	d.state = StateConfiguring
	d.cfg.SetInputFolder(workspace)
	d.cfg.SetOutputFolder(outputFolder)
	if err := d.cfg.Validate(); err != nil {
		return d.fail(err.Error())
	}

	command := d.cfg.CommandName()
	nFrames := 1
	if d.stack.HasAxis(entity.AxisTime) {
		nFrames = int(d.crop.Frames())
	}

	// The tailer starts before the process so no early log output is
	// missed; it reads from the start of the file regardless.
	logFile := filepath.Join(workspace, logFileName)
	listener := newLogListener(d.monitor, nFrames)
	tail := newTailer(logFile, d.PollInterval, listener.handle)
	tail.start()
	defer tail.stop()

	// Launching.
	d.state = StateLaunching
	tokens := d.cfg.BuildTokens()
	d.monitor.Status("Running " + command)
	d.monitor.Log("Running " + command + " with args: " + strings.Join(tokens, " "))

	logW, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return d.fail(fmt.Sprintf("could not create log file %s: %v", logFile, err))
	}
	cmd := exec.CommandContext(ctx, command, tokens...)
	cmd.Stdout = logW
	cmd.Stderr = logW
	if err := cmd.Start(); err != nil {
		logW.Close()
		return d.failRun(command, logFile, err)
	}

	// Running.
	d.state = StateRunning
	waitErr := cmd.Wait()
	logW.Close()
	if waitErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			return d.failRun(command, logFile, waitErr)
		}
		// A non-zero exit is not the signal of failure here; the
		// presence or absence of result files is. Keep it in the
		// log stream only.
		d.monitor.Log(fmt.Sprintf(" - %s exited with status %d", command, exitErr.ExitCode()))
	}
	tail.stop()

	// Ingesting.
	d.state = StateIngesting
	d.monitor.Status("Importing detection results")
	ing := &Ingestor{
		Crop:        d.crop,
		Calibration: d.stack.Calibration,
		IndexOffset: d.IndexOffset,
		Workers:     d.IngestWorkers,
		Monitor:     d.monitor,
	}
	ing.Ingest(outputFolder, d.output)

	d.state = StateDone
	return true
}

func (d *Detector) fail(msg string) bool {
	d.state = StateFailed
	d.errorMessage = baseErrorMessage + msg
	return false
}

// failRun builds the fatal message for a launch or runtime failure,
// with a dedicated text for the missing-execute-permission case and
// the captured log contents appended when available.
func (d *Detector) failRun(command, logFile string, err error) bool {
	var msg string
	if errors.Is(err, fs.ErrPermission) {
		msg = "problem running " + command + ":\nthe executable does not have the file permission to run"
	} else {
		msg = "problem running " + command + ":\n" + err.Error()
	}
	if logContent, readErr := os.ReadFile(logFile); readErr == nil && len(logContent) > 0 {
		msg = msg + "\n" + string(logContent)
	}
	return d.fail(msg)
}

// NopMonitor discards all run feedback.
type NopMonitor struct{}

func (NopMonitor) Progress(float64) {}
func (NopMonitor) Status(string)    {}
func (NopMonitor) Log(string)       {}
func (NopMonitor) Error(string)     {}
