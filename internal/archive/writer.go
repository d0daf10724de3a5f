package archive

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/xtxerr/tabarch/config"
	"github.com/xtxerr/tabarch/internal/errors"
	"github.com/xtxerr/tabarch/internal/feed"
)

// Options configures a TableWriter.
type Options struct {
	// Scratch is the actively written file location.
	Scratch string

	// Template is the final path template, expanded with strftime
	// directives using the finished file's modification time in UTC.
	Template string

	// Group is the root group path for table columns.
	Group string

	// SizeLimit is the rotation size threshold in bytes. Zero selects the
	// default: a fraction of the scratch filesystem's total capacity,
	// computed once here.
	SizeLimit int64

	// Period is the rotation age threshold.
	Period time.Duration

	// Compression enables gzip compression of column chunks.
	Compression bool
}

// TableWriter archives a table feed: it appends each update to the current
// archive file, rotates that file on size, age, or demand, and hands
// finished files to the migration pipeline.
//
// TableWriter implements feed.Receiver. One mutex guards the open file and
// rotation bookkeeping; it serializes the feed's delivery context against
// the control loop that evaluates rotation. The migration goroutine runs
// outside the lock: ownership of a finished file transfers at rename time.
type TableWriter struct {
	mu sync.Mutex

	opts     Options
	log      *slog.Logger
	pipeline *Pipeline

	// file is the open archive, nil while closed.
	file *ArchiveFile

	// initial marks the awaiting-initial state: the next update repeats
	// last-known state from before the (re)connect and must be discarded.
	initial bool

	closed bool

	// prevStart is touched only from Update, which the feed delivers
	// serially.
	prevStart time.Time

	// Latency quantiles over per-update processing time, in seconds.
	sketchMu sync.Mutex
	sketch   *ddsketch.DDSketch

	// Counters below are guarded by mu.
	updatesReceived  int64
	updatesDiscarded int64
	updatesFailed    int64
	rowsAppended     int64
	filesOpened      int64
	filesRotated     int64
}

// Stats is a snapshot of writer activity.
type Stats struct {
	UpdatesReceived  int64
	UpdatesDiscarded int64
	UpdatesFailed    int64
	RowsAppended     int64
	FilesOpened      int64
	FilesRotated     int64

	MigrationsStarted   int64
	MigrationsCompleted int64
	MigrationsFailed    int64
	MigrationStalls     int64

	// Processing-time quantiles; zero until enough updates are seen.
	LatencyP50 time.Duration
	LatencyP95 time.Duration
	LatencyP99 time.Duration
}

// NewTableWriter creates a writer. The final-path template is validated and
// the default size threshold computed here, at startup.
func NewTableWriter(opts Options, log *slog.Logger) (*TableWriter, error) {
	if opts.Scratch == "" {
		return nil, fmt.Errorf("scratch path is required")
	}
	if opts.Template == "" {
		return nil, fmt.Errorf("final path template is required")
	}
	if opts.Group == "" {
		opts.Group = config.DefaultGroup
	}
	if opts.Period <= 0 {
		opts.Period = config.DefaultPeriod
	}

	if opts.SizeLimit <= 0 {
		limit, err := defaultSizeLimit(opts.Scratch)
		if err != nil {
			return nil, fmt.Errorf("default size threshold: %w", err)
		}
		opts.SizeLimit = limit
		log.Info("using default size threshold", "bytes", limit)
	}

	pipeline, err := NewPipeline(opts.Template, log.With("component", "migration"))
	if err != nil {
		return nil, err
	}

	sketch, err := ddsketch.NewDefaultDDSketch(config.LatencySketchAccuracy)
	if err != nil {
		return nil, fmt.Errorf("latency sketch: %w", err)
	}

	return &TableWriter{
		opts:     opts,
		log:      log,
		pipeline: pipeline,
		initial:  true,
		sketch:   sketch,
	}, nil
}

// Update implements feed.Receiver. It appends one update under the lock and
// watches its own processing time against the feed's delivery rate: falling
// behind risks the source discarding undelivered samples upstream.
func (w *TableWriter) Update(u *feed.Update) {
	start := time.Now()
	prev := w.prevStart
	w.prevStart = start

	w.mu.Lock()
	err := w.applyLocked(u)
	w.mu.Unlock()

	if err != nil {
		switch {
		case errors.IsFatal(err):
			w.log.Error("update dropped, unrecoverable", "error", err)
		case errors.IsDataShape(err):
			// Bad data aborts this update only; the feed keeps delivering.
			w.log.Warn("update dropped, incompatible data", "error", err)
		default:
			w.log.Error("update dropped", "error", err)
		}
	}

	if prev.IsZero() {
		return
	}

	// interval >= the server update interval, based on the previous update.
	interval := start.Sub(prev)
	elapsed := time.Since(start)

	w.sketchMu.Lock()
	_ = w.sketch.Add(elapsed.Seconds())
	w.sketchMu.Unlock()

	if float64(elapsed) >= float64(interval)*config.LatencyWarnFraction {
		w.log.Warn("processing time approaches feed interval",
			"elapsed", elapsed, "interval", interval)
	} else {
		w.log.Debug("update processed", "elapsed", elapsed, "interval", interval)
	}
}

// applyLocked handles one update with the lock held.
func (w *TableWriter) applyLocked(u *feed.Update) error {
	if w.closed {
		return errors.ErrWriterClosed
	}

	w.updatesReceived++

	if w.initial {
		// The feed's first callback after a (re)connect carries last-known
		// state, not a new sample batch; counting it would double-count.
		w.initial = false
		w.updatesDiscarded++
		w.log.Info("table feed (re)connected, discarding initial update")
		return nil
	}

	if w.file == nil {
		if err := w.openLocked(); err != nil {
			w.updatesFailed++
			return err
		}
	}

	rows, err := w.file.appendUpdate(u)
	w.rowsAppended += int64(rows)
	if err != nil {
		w.updatesFailed++
		return err
	}

	if err := w.file.flush(); err != nil {
		w.updatesFailed++
		return fmt.Errorf("flush after update: %w", err)
	}

	return w.evaluateLocked(false)
}

// Disconnected implements feed.Receiver: arm the initial-update discard and
// force-close any open file. A disconnect is expected, not an error.
func (w *TableWriter) Disconnected() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}

	w.log.Warn("table feed disconnected")
	w.initial = true

	if err := w.evaluateLocked(true); err != nil {
		w.log.Error("rotation on disconnect failed", "error", err)
	}
}

// Evaluate runs one rotation evaluation. The control loop calls it with
// forced=false on its timer and forced=true on an external wake signal.
func (w *TableWriter) Evaluate(forced bool) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return errors.ErrWriterClosed
	}
	return w.evaluateLocked(forced)
}

// Close performs the final forced rotation and waits, without timeout, for
// the last migration: a drain, not a cancel. The subscription must already
// be closed so no delivery races the shutdown.
func (w *TableWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}

	err := w.evaluateLocked(true)
	w.closed = true

	if w.pipeline.Busy() {
		w.log.Info("waiting for final migration")
	}
	w.pipeline.Wait()

	return err
}

// Stats returns a snapshot of writer activity.
func (w *TableWriter) Stats() Stats {
	w.mu.Lock()
	s := Stats{
		UpdatesReceived:  w.updatesReceived,
		UpdatesDiscarded: w.updatesDiscarded,
		UpdatesFailed:    w.updatesFailed,
		RowsAppended:     w.rowsAppended,
		FilesOpened:      w.filesOpened,
		FilesRotated:     w.filesRotated,
	}
	w.mu.Unlock()

	s.MigrationsStarted, s.MigrationsCompleted, s.MigrationsFailed, s.MigrationStalls =
		w.pipeline.Stats()

	w.sketchMu.Lock()
	if w.sketch.GetCount() > 0 {
		if p50, err := w.sketch.GetValueAtQuantile(0.50); err == nil {
			s.LatencyP50 = time.Duration(p50 * float64(time.Second))
		}
		if p95, err := w.sketch.GetValueAtQuantile(0.95); err == nil {
			s.LatencyP95 = time.Duration(p95 * float64(time.Second))
		}
		if p99, err := w.sketch.GetValueAtQuantile(0.99); err == nil {
			s.LatencyP99 = time.Duration(p99 * float64(time.Second))
		}
	}
	w.sketchMu.Unlock()

	return s
}
