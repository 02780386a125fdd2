package yolo

import (
	"fmt"
	"runtime"
	"strconv"
)

// Default model knobs, matching the Ultralytics predictor defaults we
// want when the job message does not override them.
const (
	DefaultConfidence = 0.25
	DefaultIoU        = 0.7
	DefaultCommand    = "yolo"
)

// CLI models the argument set of a `yolo detect predict` invocation.
// It implements port.RunConfig: the detector only sets the source and
// project folders, validates, and consumes the token list.
type CLI struct {
	Command    string
	ModelPath  string
	Confidence float64
	IoU        float64
	UseGPU     bool

	inputFolder  string
	outputFolder string
}

func NewCLI(modelPath string) *CLI {
	return &CLI{
		Command:    DefaultCommand,
		ModelPath:  modelPath,
		Confidence: DefaultConfidence,
		IoU:        DefaultIoU,
	}
}

func (c *CLI) SetInputFolder(path string)  { c.inputFolder = path }
func (c *CLI) SetOutputFolder(path string) { c.outputFolder = path }

func (c *CLI) Validate() error {
	if c.ModelPath == "" {
		return fmt.Errorf("the path to a YOLO model is not set")
	}
	if c.Confidence < 0 || c.Confidence > 1 {
		return fmt.Errorf("confidence threshold must be in [0,1], was %g", c.Confidence)
	}
	if c.IoU < 0 || c.IoU > 1 {
		return fmt.Errorf("IoU threshold must be in [0,1], was %g", c.IoU)
	}
	if c.inputFolder == "" {
		return fmt.Errorf("the input image folder is not set")
	}
	if c.outputFolder == "" {
		return fmt.Errorf("the output folder is not set")
	}
	return nil
}

func (c *CLI) CommandName() string {
	if c.Command == "" {
		return DefaultCommand
	}
	return c.Command
}

// BuildTokens lays out the predict arguments in the key=value form the
// Ultralytics launcher expects. save_txt/save_conf drive the label
// files the ingestor reads; overlay images are always off.
func (c *CLI) BuildTokens() []string {
	return []string{
		"detect", "predict",
		"model=" + c.ModelPath,
		"conf=" + strconv.FormatFloat(c.Confidence, 'g', -1, 64),
		"iou=" + strconv.FormatFloat(c.IoU, 'g', -1, 64),
		"source=" + c.inputFolder,
		"project=" + c.outputFolder,
		"device=" + c.device(),
		"save_txt=True",
		"save_conf=True",
		"save=False",
	}
}

func (c *CLI) device() string {
	if c.UseGPU {
		if runtime.GOOS == "darwin" {
			return "mps"
		}
		return "cuda"
	}
	return "cpu"
}
