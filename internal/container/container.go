package container

import (
	"bufio"
	"fmt"
	"os"
	"sync"

	"github.com/xtxerr/tabarch/internal/errors"
)

const (
	containerMagic   = 0x5442434F4E540001 // "TBCONT" + version 1
	containerVersion = 1

	superblockSize   = 16 // 8 bytes magic + 4 bytes version + 4 bytes prefix
	recordHeaderSize = 8  // 4 bytes length + 4 bytes crc

	// maxRecordSize bounds a single record to keep readers sane.
	maxRecordSize = 256 * 1024 * 1024
)

// Record types.
const (
	recCreateGroup   = 1
	recCreateDataset = 2
	recAttr          = 3
	recChunk         = 4
)

// Dataset kinds.
const (
	kindFixed = 0
	kindRef   = 1
)

// Chunk encodings.
const (
	chunkRaw  = 0
	chunkGzip = 1
)

// ElemType identifies the fixed element type of a dataset.
type ElemType int

const (
	Float32 ElemType = iota
	Float64
	Int8
	Int16
	Int32
	Int64
	Uint8
	Uint16
	Uint32
	Uint64
	// RefType is the element type of reference datasets.
	RefType
)

// Size returns the on-disk size of one element in bytes.
func (e ElemType) Size() int {
	switch e {
	case Int8, Uint8:
		return 1
	case Int16, Uint16:
		return 2
	case Float32, Int32, Uint32:
		return 4
	default:
		return 8
	}
}

// String returns a human-readable representation of the element type.
func (e ElemType) String() string {
	switch e {
	case Float32:
		return "float32"
	case Float64:
		return "float64"
	case Int8:
		return "int8"
	case Int16:
		return "int16"
	case Int32:
		return "int32"
	case Int64:
		return "int64"
	case Uint8:
		return "uint8"
	case Uint16:
		return "uint16"
	case Uint32:
		return "uint32"
	case Uint64:
		return "uint64"
	case RefType:
		return "ref"
	default:
		return fmt.Sprintf("ElemType(%d)", int(e))
	}
}

// Ref is an object reference: the ID of the referenced dataset.
type Ref uint64

// File is an open container. It is safe for concurrent use, though the
// archive layer serializes access with its own lock anyway.
type File struct {
	mu sync.Mutex

	path   string
	f      *os.File
	w      *bufio.Writer
	prefix int

	nextID   uint32
	datasets map[string]*Dataset
	byID     map[uint32]*Dataset
	groups   map[string]bool

	closed bool
}

// Dataset is one growable, append-only column inside an open container.
type Dataset struct {
	file *File

	// ID is the dataset's object ID, usable as a Ref target.
	ID uint32

	// Path is the full dataset path, e.g. "/grp/field".
	Path string

	// Elem is the fixed element type; RefType for reference datasets.
	Elem ElemType

	compressed bool
	kind       byte
	rows       int
}

// Create creates a new container file. The call fails if the file already
// exists. reservedPrefix bytes of free space are placed ahead of the
// superblock; the caller may later patch that region in place. The superblock
// is durably committed before Create returns.
func Create(path string, reservedPrefix int) (*File, error) {
	if reservedPrefix < 0 {
		return nil, fmt.Errorf("negative reserved prefix %d", reservedPrefix)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_EXCL, 0644)
	if err != nil {
		return nil, fmt.Errorf("create container %s: %w", path, err)
	}

	c := &File{
		path:     path,
		f:        f,
		prefix:   reservedPrefix,
		datasets: make(map[string]*Dataset),
		byID:     make(map[uint32]*Dataset),
		groups:   map[string]bool{"/": true},
	}

	// Zero-fill the reserved prefix, then the superblock.
	blank := make([]byte, reservedPrefix+superblockSize)
	putSuperblock(blank[reservedPrefix:], uint32(reservedPrefix))

	if _, err := f.Write(blank); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("write superblock: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("commit superblock: %w", err)
	}

	c.w = bufio.NewWriter(f)
	return c, nil
}

// Path returns the backing file path.
func (c *File) Path() string {
	return c.path
}

// ReservedPrefix returns the size of the free prefix region in bytes.
func (c *File) ReservedPrefix() int {
	return c.prefix
}

// CreateGroup creates a group at the given absolute path.
// Returns ErrGroupExists if the group is already present.
func (c *File) CreateGroup(path string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.ErrContainerClosed
	}
	if err := checkPath(path); err != nil {
		return err
	}
	if c.groups[path] {
		return fmt.Errorf("group %s: %w", path, errors.ErrGroupExists)
	}

	if err := c.writeRecord(encodeCreateGroup(path)); err != nil {
		return err
	}
	c.groups[path] = true
	return nil
}

// RequireGroup creates a group if it does not already exist.
func (c *File) RequireGroup(path string) error {
	c.mu.Lock()
	exists := c.groups[path]
	c.mu.Unlock()
	if exists {
		return nil
	}
	return c.CreateGroup(path)
}

// HasGroup reports whether a group exists at the given path.
func (c *File) HasGroup(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.groups[path]
}

// CreateDataset creates a fixed-type dataset of unbounded length and width 1.
// If compressed is true, chunk payloads are gzip-compressed.
func (c *File) CreateDataset(path string, elem ElemType, compressed bool) (*Dataset, error) {
	if elem == RefType {
		return nil, fmt.Errorf("dataset %s: use CreateRefDataset for reference datasets", path)
	}
	return c.createDataset(path, elem, kindFixed, compressed)
}

// CreateRefDataset creates a reference-type dataset of unbounded length and
// width 1.
func (c *File) CreateRefDataset(path string) (*Dataset, error) {
	return c.createDataset(path, RefType, kindRef, false)
}

func (c *File) createDataset(path string, elem ElemType, kind byte, compressed bool) (*Dataset, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, errors.ErrContainerClosed
	}
	if err := checkPath(path); err != nil {
		return nil, err
	}
	if _, ok := c.datasets[path]; ok {
		return nil, fmt.Errorf("dataset %s: %w", path, errors.ErrDatasetExists)
	}

	id := c.nextID
	c.nextID++

	if err := c.writeRecord(encodeCreateDataset(id, path, elem, kind, compressed)); err != nil {
		return nil, err
	}

	d := &Dataset{
		file:       c,
		ID:         id,
		Path:       path,
		Elem:       elem,
		compressed: compressed,
		kind:       kind,
	}
	c.datasets[path] = d
	c.byID[id] = d
	return d, nil
}

// Dataset returns the dataset at the given path, if present.
func (c *File) Dataset(path string) (*Dataset, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.datasets[path]
	return d, ok
}

// Flush writes buffered records through to durable storage.
func (c *File) Flush() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.ErrContainerClosed
	}
	if err := c.w.Flush(); err != nil {
		return fmt.Errorf("flush container: %w", err)
	}
	if err := c.f.Sync(); err != nil {
		return fmt.Errorf("sync container: %w", err)
	}
	return nil
}

// Size returns the current on-disk size of the container, including any
// buffered but unflushed records.
func (c *File) Size() (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, errors.ErrContainerClosed
	}
	fi, err := c.f.Stat()
	if err != nil {
		return 0, err
	}
	return fi.Size() + int64(c.w.Buffered()), nil
}

// Close flushes and closes the container. Closing twice is an error.
func (c *File) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.ErrContainerClosed
	}
	c.closed = true

	if err := c.w.Flush(); err != nil {
		c.f.Close()
		return fmt.Errorf("flush container: %w", err)
	}
	if err := c.f.Sync(); err != nil {
		c.f.Close()
		return fmt.Errorf("sync container: %w", err)
	}
	return c.f.Close()
}

// Rows returns the dataset's current row count.
func (d *Dataset) Rows() int {
	d.file.mu.Lock()
	defer d.file.mu.Unlock()
	return d.rows
}

// Ref returns an object reference to this dataset.
func (d *Dataset) Ref() Ref {
	return Ref(d.ID)
}

// Append extends the dataset by the rows of v and copies them in. v must be a
// slice whose element type matches the dataset's element type, e.g. []float64
// for a Float64 dataset. Returns the number of rows appended.
func (d *Dataset) Append(v any) (int, error) {
	if d.kind != kindFixed {
		return 0, fmt.Errorf("dataset %s: %w", d.Path, errors.ErrElementMismatch)
	}

	data, rows, err := encodeValues(d.Elem, v)
	if err != nil {
		return 0, fmt.Errorf("dataset %s: %w", d.Path, err)
	}
	if rows == 0 {
		return 0, nil
	}
	return rows, d.appendChunk(data, rows)
}

// AppendRefs extends a reference dataset by the given references.
func (d *Dataset) AppendRefs(refs []Ref) (int, error) {
	if d.kind != kindRef {
		return 0, fmt.Errorf("dataset %s: %w", d.Path, errors.ErrElementMismatch)
	}
	if len(refs) == 0 {
		return 0, nil
	}
	return len(refs), d.appendChunk(encodeRefs(refs), len(refs))
}

func (d *Dataset) appendChunk(data []byte, rows int) error {
	c := d.file

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.ErrContainerClosed
	}

	enc := byte(chunkRaw)
	if d.compressed {
		var err error
		if data, err = gzipChunk(data); err != nil {
			return fmt.Errorf("compress chunk for %s: %w", d.Path, err)
		}
		enc = chunkGzip
	}

	if err := c.writeRecord(encodeChunk(d.ID, rows, enc, data)); err != nil {
		return err
	}
	d.rows += rows
	return nil
}

// SetAttr attaches a metadata attribute to the dataset. Supported value
// types: string, []byte, uint8, []uint64.
func (d *Dataset) SetAttr(name string, value any) error {
	c := d.file

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return errors.ErrContainerClosed
	}

	payload, err := encodeAttr(d.ID, name, value)
	if err != nil {
		return fmt.Errorf("attr %s on %s: %w", name, d.Path, err)
	}
	return c.writeRecord(payload)
}

// writeRecord frames and writes one record. Caller holds c.mu.
func (c *File) writeRecord(payload []byte) error {
	var header [recordHeaderSize]byte
	frameRecord(header[:], payload)

	if _, err := c.w.Write(header[:]); err != nil {
		return fmt.Errorf("write record header: %w", err)
	}
	if _, err := c.w.Write(payload); err != nil {
		return fmt.Errorf("write record: %w", err)
	}
	return nil
}

// checkPath validates a group or dataset path.
func checkPath(path string) error {
	if path == "" || path[0] != '/' {
		return fmt.Errorf("path %q must be absolute", path)
	}
	if len(path) > 1 && path[len(path)-1] == '/' {
		return fmt.Errorf("path %q must not end with a slash", path)
	}
	return nil
}
