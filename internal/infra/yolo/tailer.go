package yolo

import (
	"bytes"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/trackkit/yolo-detection-service/internal/domain/port"
)

// defaultPollInterval is how often the tailer re-reads the log file.
const defaultPollInterval = 200 * time.Millisecond

// tailer polls a growing log file and delivers whole lines to a
// handler, starting from the beginning of the file. The file may not
// exist yet when the tailer starts; it simply yields nothing until it
// appears.
type tailer struct {
	path     string
	interval time.Duration
	handle   func(line string)

	stopOnce sync.Once
	quit     chan struct{}
	done     chan struct{}

	offset  int64
	partial []byte
}

func newTailer(path string, interval time.Duration, handle func(string)) *tailer {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &tailer{
		path:     path,
		interval: interval,
		handle:   handle,
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

func (t *tailer) start() {
	go t.run()
}

func (t *tailer) run() {
	defer close(t.done)
	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()
	for {
		select {
		case <-t.quit:
			// Final read so nothing written right before process
			// exit is lost.
			t.drain()
			return
		case <-ticker.C:
			t.drain()
		}
	}
}

// stop tears the tailer down after one last drain. Safe to call more
// than once; it blocks until the polling goroutine has exited.
func (t *tailer) stop() {
	t.stopOnce.Do(func() { close(t.quit) })
	<-t.done
}

func (t *tailer) drain() {
	f, err := os.Open(t.path)
	if err != nil {
		return
	}
	defer f.Close()

	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		return
	}
	buf, err := io.ReadAll(f)
	if err != nil && len(buf) == 0 {
		return
	}
	t.offset += int64(len(buf))

	data := append(t.partial, buf...)
	for {
		i := bytes.IndexByte(data, '\n')
		if i < 0 {
			break
		}
		t.handle(strings.TrimSuffix(string(data[:i]), "\r"))
		data = data[i+1:]
	}
	t.partial = data
}

// imageDonePattern matches the predictor's per-image completion lines,
// e.g. "image 3/120 /tmp/.../2.tif: ...".
var imageDonePattern = regexp.MustCompile(`^image \d+/\d+`)

// logListener classifies predictor log lines: completion lines bump
// the done counter, everything else non-blank is forwarded verbatim.
type logListener struct {
	monitor port.RunMonitor
	total   int
	done    int
}

func newLogListener(monitor port.RunMonitor, total int) *logListener {
	return &logListener{monitor: monitor, total: total}
}

func (l *logListener) handle(line string) {
	if imageDonePattern.MatchString(line) {
		if l.done < l.total {
			l.done++
		}
		l.monitor.Progress(float64(l.done) / float64(l.total))
		return
	}
	if strings.TrimSpace(line) != "" {
		l.monitor.Log(" - " + line)
	}
}
