package yolo

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trackkit/yolo-detection-service/internal/domain/entity"
)

// recordingMonitor captures run feedback for assertions.
type recordingMonitor struct {
	mu        sync.Mutex
	fractions []float64
	statuses  []string
	lines     []string
	errors    []string
}

func (m *recordingMonitor) Progress(f float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fractions = append(m.fractions, f)
}

func (m *recordingMonitor) Status(s string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses = append(m.statuses, s)
}

func (m *recordingMonitor) Log(l string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lines = append(m.lines, l)
}

func (m *recordingMonitor) Error(e string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, e)
}

func (m *recordingMonitor) errorCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.errors)
}

func writeLabels(t *testing.T, outputFolder string, files map[string]string) {
	t.Helper()
	dir := filepath.Join(outputFolder, "predict", "labels")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}
}

func newTestIngestor(monitor *recordingMonitor) *Ingestor {
	return &Ingestor{
		Crop:        entity.Interval{MinX: 0, MaxX: 99, MinY: 0, MaxY: 99},
		Calibration: entity.Calibration{X: 1.0, Y: 1.0, Z: 1.0},
		Monitor:     monitor,
	}
}

func TestIngestCoordinateTransform(t *testing.T) {
	out := t.TempDir()
	writeLabels(t, out, map[string]string{
		"0.txt": "1 0.5 0.5 0.2 0.2\n",
	})

	monitor := &recordingMonitor{}
	collection := entity.NewCollection()
	newTestIngestor(monitor).Ingest(out, collection)

	dets := collection.Frame(0)
	require.Len(t, dets, 1)
	assert.Equal(t, 1, dets[0].ClassID)
	assert.InDelta(t, 50.0, dets[0].X, 1e-12)
	assert.InDelta(t, 50.0, dets[0].Y, 1e-12)
	assert.Equal(t, 0.0, dets[0].Z)
	// Half the mean of the two calibrated extents: 0.5*(20+20)/2.
	assert.InDelta(t, 10.0, dets[0].Radius, 1e-12)
	assert.Equal(t, 1.0, dets[0].Confidence)
	assert.Zero(t, monitor.errorCount())
}

func TestIngestAnisotropicCalibration(t *testing.T) {
	out := t.TempDir()
	writeLabels(t, out, map[string]string{
		"3.txt": "0 0.25 0.75 0.1 0.4 0.5\n",
	})

	monitor := &recordingMonitor{}
	ing := &Ingestor{
		Crop:        entity.Interval{MinX: 10, MaxX: 209, MinY: 20, MaxY: 119},
		Calibration: entity.Calibration{X: 0.5, Y: 2.0},
		Monitor:     monitor,
	}
	collection := entity.NewCollection()
	ing.Ingest(out, collection)

	dets := collection.Frame(3)
	require.Len(t, dets, 1)
	// width=200, height=100
	assert.InDelta(t, 0.5*(10+0.25*200), dets[0].X, 1e-12)
	assert.InDelta(t, 2.0*(20+0.75*100), dets[0].Y, 1e-12)
	assert.InDelta(t, 0.5*(0.5*0.1*200+2.0*0.4*100)/2, dets[0].Radius, 1e-12)
	assert.Equal(t, 0.5, dets[0].Confidence)
}

func TestIngestMalformedLineIsSkipped(t *testing.T) {
	out := t.TempDir()
	writeLabels(t, out, map[string]string{
		"0.txt": "0 0.5 0.5 0.2 0.2 0.8\n0 0.1 0.2\n",
	})

	monitor := &recordingMonitor{}
	collection := entity.NewCollection()
	newTestIngestor(monitor).Ingest(out, collection)

	require.Len(t, collection.Frame(0), 1)
	assert.Equal(t, 0.8, collection.Frame(0)[0].Confidence)
	assert.Equal(t, 1, monitor.errorCount())
}

func TestIngestUnparsableFieldIsSkipped(t *testing.T) {
	out := t.TempDir()
	writeLabels(t, out, map[string]string{
		"0.txt": "0 abc 0.5 0.2 0.2\n0 0.5 0.5 0.2 0.2\n",
	})

	monitor := &recordingMonitor{}
	collection := entity.NewCollection()
	newTestIngestor(monitor).Ingest(out, collection)

	assert.Len(t, collection.Frame(0), 1)
	assert.Equal(t, 1, monitor.errorCount())
}

func TestIngestFrameIndexExtraction(t *testing.T) {
	out := t.TempDir()
	writeLabels(t, out, map[string]string{
		"7.txt":        "0 0.5 0.5 0.2 0.2\n",
		"image_07.txt": "0 0.5 0.5 0.2 0.2\n",
		"a.b.12.txt":   "0 0.5 0.5 0.2 0.2\n",
		"frame.txt":    "0 0.5 0.5 0.2 0.2\n",
	})

	monitor := &recordingMonitor{}
	collection := entity.NewCollection()
	newTestIngestor(monitor).Ingest(out, collection)

	assert.Equal(t, []int{7, 12}, collection.Frames())
	// 7.txt and image_07.txt land on the same frame.
	assert.Len(t, collection.Frame(7), 2)
	assert.Len(t, collection.Frame(12), 1)
	// frame.txt carries no digits and is reported.
	require.Equal(t, 1, monitor.errorCount())
	assert.Contains(t, monitor.errors[0], "frame.txt")
}

func TestIngestIndexOffset(t *testing.T) {
	out := t.TempDir()
	writeLabels(t, out, map[string]string{
		"1.txt": "0 0.5 0.5 0.2 0.2\n",
	})

	monitor := &recordingMonitor{}
	ing := newTestIngestor(monitor)
	ing.IndexOffset = -1 // predictor numbers frames from 1
	collection := entity.NewCollection()
	ing.Ingest(out, collection)

	assert.Equal(t, []int{0}, collection.Frames())
}

func TestIngestMissingResultsFolder(t *testing.T) {
	monitor := &recordingMonitor{}
	collection := entity.NewCollection()
	newTestIngestor(monitor).Ingest(filepath.Join(t.TempDir(), "does-not-exist"), collection)

	assert.Zero(t, collection.Total())
	require.Equal(t, 1, monitor.errorCount())
	assert.True(t, strings.Contains(monitor.errors[0], "could not list results folder"))
}

func TestIngestEmptyResultFile(t *testing.T) {
	out := t.TempDir()
	writeLabels(t, out, map[string]string{
		"4.txt": "",
	})

	monitor := &recordingMonitor{}
	collection := entity.NewCollection()
	newTestIngestor(monitor).Ingest(out, collection)

	// The frame is recorded even though it has no detections.
	assert.Equal(t, []int{4}, collection.Frames())
	assert.Zero(t, collection.Total())
	assert.Zero(t, monitor.errorCount())
}

func TestIngestManyFilesConcurrently(t *testing.T) {
	out := t.TempDir()
	files := make(map[string]string)
	for i := 0; i < 40; i++ {
		files[fmt.Sprintf("%d.txt", i)] = "0 0.5 0.5 0.2 0.2\n"
	}
	writeLabels(t, out, files)

	monitor := &recordingMonitor{}
	ing := newTestIngestor(monitor)
	ing.Workers = 8
	collection := entity.NewCollection()
	ing.Ingest(out, collection)

	assert.Equal(t, 40, collection.Total())
	assert.Len(t, collection.Frames(), 40)
}
