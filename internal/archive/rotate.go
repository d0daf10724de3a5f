package archive

import (
	"os"
	"path/filepath"

	"golang.org/x/sys/unix"

	"github.com/xtxerr/tabarch/config"
	"github.com/xtxerr/tabarch/internal/errors"
)

// evaluateLocked is the rotation decision point. With the lock held: no-op
// when no file is open; otherwise flush durably, then rotate when forced or
// when either the age or the size threshold is met.
func (w *TableWriter) evaluateLocked(forced bool) error {
	if w.file == nil {
		return nil
	}

	if err := w.file.flush(); err != nil {
		return errors.Wrap(err, "flush")
	}

	age := w.file.age()
	size, err := w.file.size()
	if err != nil {
		return errors.Wrap(err, "size check")
	}

	if !forced && age < w.opts.Period && size < w.opts.SizeLimit {
		w.log.Debug("skip rotation, too new and too small",
			"age", age, "period", w.opts.Period,
			"size", size, "limit", w.opts.SizeLimit)
		return nil
	}

	w.log.Info("close and rotate",
		"path", w.opts.Scratch, "age", age, "size", size, "forced", forced)

	closeErr := w.file.close()
	w.file = nil
	w.filesRotated++
	if closeErr != nil {
		return errors.Wrap(closeErr, "close archive")
	}

	return w.stageLocked()
}

// stageLocked renames the inert scratch file out of the active slot and
// submits it for migration. From the rename on, the migration job owns the
// file; the writer no longer touches it.
func (w *TableWriter) stageLocked() error {
	staged := w.opts.Scratch + ".tmp"

	if _, err := os.Stat(staged); err == nil {
		w.log.Error("overwriting staged debris", "path", staged)
	}

	if err := os.Rename(w.opts.Scratch, staged); err != nil {
		return errors.Wrap(err, "stage finished file")
	}

	w.pipeline.Submit(staged)
	return nil
}

// openLocked opens a fresh archive at the scratch path. A leftover scratch
// file from a crashed run is staged for migration first so its data is not
// lost.
func (w *TableWriter) openLocked() error {
	if fi, err := os.Stat(w.opts.Scratch); err == nil {
		w.log.Warn("recovering leftover scratch file",
			"path", w.opts.Scratch, "size", fi.Size())
		if err := w.stageLocked(); err != nil {
			return err
		}
	}

	w.log.Info("opening archive", "path", w.opts.Scratch, "group", w.opts.Group)

	file, err := openArchive(w.opts.Scratch, w.opts.Group, w.opts.Compression, w.log)
	if err != nil {
		return errors.Wrap(err, "open archive")
	}

	w.file = file
	w.filesOpened++
	return nil
}

// defaultSizeLimit computes the default rotation size threshold: a fraction
// of the total capacity of the filesystem holding the scratch path.
func defaultSizeLimit(scratch string) (int64, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(filepath.Dir(scratch), &st); err != nil {
		return 0, errors.Wrap(err, "statfs %s", filepath.Dir(scratch))
	}
	return int64(float64(st.Frsize) * float64(st.Blocks) * config.DefaultSizeFraction), nil
}
