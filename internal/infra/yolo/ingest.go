package yolo

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/trackkit/yolo-detection-service/internal/domain/entity"
	"github.com/trackkit/yolo-detection-service/internal/domain/port"
)

const (
	// The predictor writes one label file per frame under this
	// subfolder of the output folder.
	labelsSubfolder = "predict/labels"
	resultSuffix    = ".txt"
)

// frameIndexPattern captures the last run of digits right before the
// file extension, e.g. "7" in "7.txt" or "12" in "a.b.12.txt".
var frameIndexPattern = regexp.MustCompile(`(\d+)\.[^.]+$`)

// Ingestor turns the label files of one run into calibrated detection
// records. Per-file and per-line problems are reported to the monitor
// and skipped; only the ingestion is best-effort, never the run.
type Ingestor struct {
	Crop        entity.Interval
	Calibration entity.Calibration
	// IndexOffset shifts the frame index parsed from file names,
	// for predictors that number frames from 1.
	IndexOffset int
	// Workers bounds the concurrent file parses. Defaults to 4.
	Workers int
	Monitor port.RunMonitor
}

// Ingest scans the labels subfolder of outputFolder and inserts the
// parsed detections into out. A missing or unreadable results folder
// is reported as a diagnostic and yields no detections.
func (ing *Ingestor) Ingest(outputFolder string, out *entity.Collection) {
	dir := filepath.Join(outputFolder, filepath.FromSlash(labelsSubfolder))
	entries, err := os.ReadDir(dir)
	if err != nil {
		ing.Monitor.Error(fmt.Sprintf("could not list results folder %s: %v", dir, err))
		return
	}

	type task struct {
		frame int
		path  string
	}
	var tasks []task
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), resultSuffix) {
			continue
		}
		m := frameIndexPattern.FindStringSubmatch(e.Name())
		if m == nil {
			ing.Monitor.Error(fmt.Sprintf("could not find the frame index in the name of result file %s, skipping", e.Name()))
			continue
		}
		frame, err := strconv.Atoi(m[1])
		if err != nil {
			ing.Monitor.Error(fmt.Sprintf("could not parse the frame index of result file %s: %v, skipping", e.Name(), err))
			continue
		}
		tasks = append(tasks, task{frame: frame + ing.IndexOffset, path: filepath.Join(dir, e.Name())})
	}

	workers := ing.Workers
	if workers <= 0 {
		workers = 4
	}
	if workers > len(tasks) {
		workers = len(tasks)
	}

	ch := make(chan task)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for tk := range ch {
				out.Put(tk.frame, ing.parseFile(tk.path))
			}
		}()
	}
	for _, tk := range tasks {
		ch <- tk
	}
	close(ch)
	wg.Wait()
}

// labelLine is one parsed detection line. Confidence is optional in
// the file; HasConfidence tells the two variants apart.
type labelLine struct {
	ClassID       int
	CenterX       float64
	CenterY       float64
	Width         float64
	Height        float64
	Confidence    float64
	HasConfidence bool
}

func parseLabelLine(fields []string) (labelLine, error) {
	if len(fields) < 5 {
		return labelLine{}, fmt.Errorf("unexpected number of values, should be at least 5 but was %d", len(fields))
	}
	var (
		rec labelLine
		err error
	)
	if rec.ClassID, err = strconv.Atoi(fields[0]); err != nil {
		return labelLine{}, fmt.Errorf("bad class id %q: %w", fields[0], err)
	}
	if rec.CenterX, err = strconv.ParseFloat(fields[1], 64); err != nil {
		return labelLine{}, fmt.Errorf("bad center x %q: %w", fields[1], err)
	}
	if rec.CenterY, err = strconv.ParseFloat(fields[2], 64); err != nil {
		return labelLine{}, fmt.Errorf("bad center y %q: %w", fields[2], err)
	}
	if rec.Width, err = strconv.ParseFloat(fields[3], 64); err != nil {
		return labelLine{}, fmt.Errorf("bad width %q: %w", fields[3], err)
	}
	if rec.Height, err = strconv.ParseFloat(fields[4], 64); err != nil {
		return labelLine{}, fmt.Errorf("bad height %q: %w", fields[4], err)
	}
	if len(fields) >= 6 {
		if rec.Confidence, err = strconv.ParseFloat(fields[5], 64); err != nil {
			return labelLine{}, fmt.Errorf("bad confidence %q: %w", fields[5], err)
		}
		rec.HasConfidence = true
	}
	return rec, nil
}

// parseFile reads one label file. Malformed lines are reported and
// skipped; an unreadable file yields no detections.
func (ing *Ingestor) parseFile(path string) []entity.Detection {
	f, err := os.Open(path)
	if err != nil {
		ing.Monitor.Error(fmt.Sprintf("error reading the file %s: %v", path, err))
		return nil
	}
	defer f.Close()

	width := float64(ing.Crop.Width())
	height := float64(ing.Crop.Height())
	x0 := float64(ing.Crop.MinX)
	y0 := float64(ing.Crop.MinY)

	var detections []entity.Detection
	sc := bufio.NewScanner(f)
	ln := 0
	for sc.Scan() {
		ln++
		rec, err := parseLabelLine(strings.Fields(sc.Text()))
		if err != nil {
			ing.Monitor.Error(fmt.Sprintf("line %d in file %s: %v", ln, path, err))
			continue
		}

		x := ing.Calibration.X * (x0 + rec.CenterX*width)
		y := ing.Calibration.Y * (y0 + rec.CenterY*height)
		w := ing.Calibration.X * rec.Width * width
		h := ing.Calibration.Y * rec.Height * height
		r := 0.5 * (w + h) / 2.

		confidence := 1.
		if rec.HasConfidence {
			confidence = rec.Confidence
		}

		detections = append(detections, entity.Detection{
			ClassID:    rec.ClassID,
			X:          x,
			Y:          y,
			Z:          0,
			Radius:     r,
			Confidence: confidence,
		})
	}
	if err := sc.Err(); err != nil {
		ing.Monitor.Error(fmt.Sprintf("error reading the file %s: %v", path, err))
	}
	return detections
}
