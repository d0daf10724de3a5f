package archive

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/lestrrat-go/strftime"

	"github.com/xtxerr/tabarch/config"
)

// Pipeline relocates staged files to their final timestamp-derived paths on
// a background goroutine. Depth is deliberately capped at one job: a
// rotation that arrives while the previous job still runs waits briefly,
// then logs a stall warning and blocks until the job completes. This bounds
// disk and memory use at the cost of stalling the producer under sustained
// overload.
type Pipeline struct {
	log  *slog.Logger
	tmpl *strftime.Strftime

	// done is the in-flight job's completion signal; nil when idle.
	// Submit and Wait run under the writer's lock, never concurrently.
	done chan struct{}

	// relocate performs one job; replaced in tests.
	relocate func(staged string)

	stats PipelineStats
}

// PipelineStats holds migration counters.
type PipelineStats struct {
	Started   atomic.Int64
	Completed atomic.Int64
	Failed    atomic.Int64
	Stalls    atomic.Int64
}

// NewPipeline creates a migration pipeline for the given strftime final-path
// template. The template is validated here, at startup.
func NewPipeline(template string, log *slog.Logger) (*Pipeline, error) {
	tmpl, err := strftime.New(template)
	if err != nil {
		return nil, fmt.Errorf("final path template %q: %w", template, err)
	}
	p := &Pipeline{
		log:  log,
		tmpl: tmpl,
	}
	p.relocate = p.movefile
	return p, nil
}

// Submit hands a staged file to the pipeline and starts its migration
// asynchronously. If the previous migration has not completed, Submit blocks
// until it has; the caller keeps holding the writer lock during that wait by
// design.
func (p *Pipeline) Submit(staged string) {
	if p.done != nil {
		select {
		case <-p.done:
		default:
			// Single-slot pipelining: give the previous job a short grace
			// poll before stalling the producer path.
			t := time.NewTimer(config.MigrationPollWait)
			select {
			case <-p.done:
				t.Stop()
			case <-t.C:
				p.log.Warn("rotation stalls waiting for previous migration to complete, prepare for data loss",
					"staged", staged)
				p.stats.Stalls.Add(1)
				<-p.done
			}
		}
		p.done = nil
		p.log.Info("previous migration complete")
	}

	p.log.Info("starting migration", "staged", staged)
	p.stats.Started.Add(1)

	done := make(chan struct{})
	p.done = done
	go func() {
		defer close(done)
		p.relocate(staged)
	}()
}

// Busy reports whether a migration is currently in flight.
func (p *Pipeline) Busy() bool {
	if p.done == nil {
		return false
	}
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Wait blocks until the in-flight migration, if any, completes. There is no
// timeout: losing the final batch of data is worse than a slow shutdown.
func (p *Pipeline) Wait() {
	if p.done != nil {
		<-p.done
		p.done = nil
	}
}

// Stats returns a snapshot of the migration counters.
func (p *Pipeline) Stats() (started, completed, failed, stalls int64) {
	return p.stats.Started.Load(), p.stats.Completed.Load(),
		p.stats.Failed.Load(), p.stats.Stalls.Load()
}

// movefile runs on the migration goroutine. Every failure is logged with
// full context and terminates the job without retry, leaving the staged file
// in place for manual recovery.
func (p *Pipeline) movefile(staged string) {
	start := time.Now()

	fi, err := os.Stat(staged)
	if err != nil {
		p.log.Error("migration failed", "staged", staged, "error", err)
		p.stats.Failed.Add(1)
		return
	}

	// Expand the template with the file's last-modification time in UTC,
	// not the current time.
	final := p.tmpl.FormatString(fi.ModTime().UTC())

	if _, err := os.Stat(final); err == nil {
		p.log.Error("migration destination already exists, prepare for data loss", "path", final)
		if err := os.Remove(final); err != nil {
			p.log.Error("migration failed", "staged", staged, "final", final, "error", err)
			p.stats.Failed.Add(1)
			return
		}
	}

	// Best effort: if this fails, the move below fails too and carries the
	// real error.
	_ = os.MkdirAll(filepath.Dir(final), 0755)

	p.log.Info("migrating", "staged", staged, "final", final)
	if err := moveFile(staged, final); err != nil {
		p.log.Error("migration failed", "staged", staged, "final", final, "error", err)
		p.stats.Failed.Add(1)
		return
	}

	p.stats.Completed.Add(1)
	p.log.Info("migration complete", "path", final, "elapsed", time.Since(start))
}

// moveFile renames src to dst, falling back to copy-and-remove when they
// live on different filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create destination: %w", err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("copy: %w", err)
	}
	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("sync destination: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return fmt.Errorf("close destination: %w", err)
	}

	return os.Remove(src)
}
