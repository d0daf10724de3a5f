package archive

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/xtxerr/tabarch/config"
	"github.com/xtxerr/tabarch/internal/container"
	"github.com/xtxerr/tabarch/internal/feed"
)

// ArchiveFile owns one open container at the scratch path: the compatibility
// header, the root group, and the table's columns. At most one ArchiveFile
// is open per writer at any time; the writer closes it on rotation,
// disconnect, or shutdown.
type ArchiveFile struct {
	path      string
	c         *container.File
	groupPath string
	openedAt  time.Time
	compress  bool

	// nextRef is the monotonically increasing per-file cell value counter.
	nextRef uint64

	// null is the file's shared placeholder for absent cells.
	null *container.Dataset

	log *slog.Logger
}

// openArchive creates a fresh container at the scratch path with the
// compatibility header patched into its reserved prefix and the root group
// in place. The scratch path must not exist.
func openArchive(scratch, groupPath string, compress bool, log *slog.Logger) (*ArchiveFile, error) {
	c, err := container.Create(scratch, config.DefaultReservedPrefix)
	if err != nil {
		return nil, err
	}

	// The container has committed its superblock; patch the header into the
	// prefix in a second pass.
	now := time.Now()
	hdr, err := Header(DefaultPlatform(), now)
	if err != nil {
		c.Close()
		return nil, err
	}
	if err := WriteHeader(scratch, hdr); err != nil {
		c.Close()
		return nil, fmt.Errorf("patch compatibility header: %w", err)
	}

	if err := c.RequireGroup(groupPath); err != nil {
		c.Close()
		return nil, fmt.Errorf("create root group %s: %w", groupPath, err)
	}

	return &ArchiveFile{
		path:      scratch,
		c:         c,
		groupPath: groupPath,
		openedAt:  now,
		compress:  compress,
		log:       log,
	}, nil
}

// appendUpdate appends one update's fields to their columns.
// Returns the total number of rows appended across all fields.
func (a *ArchiveFile) appendUpdate(u *feed.Update) (int, error) {
	total := 0
	for i := range u.Fields {
		f := &u.Fields[i]

		var (
			n   int
			err error
		)
		switch {
		case f.Numeric != nil:
			n, err = a.appendNumeric(f)
		case f.Cells != nil:
			n, err = a.appendCells(f)
		default:
			continue
		}
		if err != nil {
			return total, err
		}
		total += n
	}
	return total, nil
}

// flush writes everything appended so far through to durable storage.
func (a *ArchiveFile) flush() error {
	return a.c.Flush()
}

// age returns how long the file has been open.
func (a *ArchiveFile) age() time.Duration {
	return time.Since(a.openedAt)
}

// size returns the file's current on-disk size including buffered writes.
func (a *ArchiveFile) size() (int64, error) {
	return a.c.Size()
}

// close flushes and closes the container, leaving the inert file at the
// scratch path for staging.
func (a *ArchiveFile) close() error {
	return a.c.Close()
}
