package container

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"
	"os"
	"sort"

	"github.com/xtxerr/tabarch/internal/errors"
)

// View is a read-only, in-memory view of a container file, produced by
// replaying its record log.
type View struct {
	// Prefix is the size of the reserved prefix region.
	Prefix int

	// Truncated is true when the record log ended in a torn or corrupt
	// record. Everything before the bad record is still available.
	Truncated bool

	groups   map[string]bool
	datasets map[string]*DatasetView
	byID     map[uint32]*DatasetView
}

// DatasetView is the replayed state of one dataset.
type DatasetView struct {
	Path       string
	Elem       ElemType
	Compressed bool

	kind  byte
	id    uint32
	rows  int
	data  []byte
	attrs map[string]attrValue
}

type attrValue struct {
	kind byte
	s    string
	b    []byte
	u8   uint8
	u64s []uint64
}

// Read opens a container file and replays its record log.
func Read(path string) (*View, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open container: %w", err)
	}
	defer f.Close()

	prefix, err := findSuperblock(f)
	if err != nil {
		return nil, fmt.Errorf("container %s: %w", path, err)
	}

	v := &View{
		Prefix:   prefix,
		groups:   map[string]bool{"/": true},
		datasets: make(map[string]*DatasetView),
		byID:     make(map[uint32]*DatasetView),
	}

	if _, err := f.Seek(int64(prefix+superblockSize), io.SeekStart); err != nil {
		return nil, fmt.Errorf("seek past superblock: %w", err)
	}

	for {
		payload, err := readRecord(f)
		if err == io.EOF {
			break
		}
		if err != nil {
			// A torn tail from a crash mid-write; keep what replayed.
			v.Truncated = true
			break
		}
		if err := v.apply(payload); err != nil {
			return nil, fmt.Errorf("container %s: %w", path, err)
		}
	}

	return v, nil
}

// findSuperblock locates the superblock by scanning power-of-two offsets,
// since the prefix size is not knowable before the superblock is read.
func findSuperblock(f *os.File) (int, error) {
	var sb [superblockSize]byte
	for _, off := range []int64{512, 0, 128, 256, 1024, 2048, 4096, 8192} {
		if _, err := f.ReadAt(sb[:], off); err != nil {
			continue
		}
		if binary.LittleEndian.Uint64(sb[0:8]) != containerMagic {
			continue
		}
		if ver := binary.LittleEndian.Uint32(sb[8:12]); ver != containerVersion {
			return 0, fmt.Errorf("unsupported container version %d", ver)
		}
		prefix := int(binary.LittleEndian.Uint32(sb[12:16]))
		if int64(prefix) != off {
			return 0, fmt.Errorf("superblock prefix %d does not match offset %d: %w",
				prefix, off, errors.ErrBadMagic)
		}
		return prefix, nil
	}
	return 0, errors.ErrBadMagic
}

// readRecord reads and verifies the next framed record.
func readRecord(f *os.File) ([]byte, error) {
	var header [recordHeaderSize]byte
	if _, err := io.ReadFull(f, header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read record header: %w", err)
	}

	length := binary.LittleEndian.Uint32(header[0:4])
	expectedCRC := binary.LittleEndian.Uint32(header[4:8])

	if length == 0 || length > maxRecordSize {
		return nil, fmt.Errorf("record of %d bytes: %w", length, errors.ErrCorruptRecord)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(f, payload); err != nil {
		return nil, fmt.Errorf("read record payload: %w", err)
	}

	if crc32.ChecksumIEEE(payload) != expectedCRC {
		return nil, errors.ErrCorruptRecord
	}
	return payload, nil
}

// apply replays one record into the view.
func (v *View) apply(payload []byte) error {
	switch payload[0] {
	case recCreateGroup:
		path, _, err := readString(payload, 1)
		if err != nil {
			return fmt.Errorf("create-group: %w", err)
		}
		v.groups[path] = true

	case recCreateDataset:
		if len(payload) < 5 {
			return fmt.Errorf("create-dataset: %w", errors.ErrCorruptRecord)
		}
		id := binary.LittleEndian.Uint32(payload[1:5])
		path, off, err := readString(payload, 5)
		if err != nil {
			return fmt.Errorf("create-dataset: %w", err)
		}
		if off+3 > len(payload) {
			return fmt.Errorf("create-dataset: %w", errors.ErrCorruptRecord)
		}
		d := &DatasetView{
			Path:       path,
			Elem:       ElemType(payload[off]),
			kind:       payload[off+1],
			Compressed: payload[off+2] == 1,
			id:         id,
			attrs:      make(map[string]attrValue),
		}
		v.datasets[path] = d
		v.byID[id] = d

	case recAttr:
		if len(payload) < 5 {
			return fmt.Errorf("attr: %w", errors.ErrCorruptRecord)
		}
		id := binary.LittleEndian.Uint32(payload[1:5])
		d, ok := v.byID[id]
		if !ok {
			return fmt.Errorf("attr for unknown dataset %d: %w", id, errors.ErrCorruptRecord)
		}
		name, off, err := readString(payload, 5)
		if err != nil {
			return fmt.Errorf("attr: %w", err)
		}
		av, err := decodeAttrValue(payload, off)
		if err != nil {
			return fmt.Errorf("attr %s: %w", name, err)
		}
		d.attrs[name] = av

	case recChunk:
		if len(payload) < 14 {
			return fmt.Errorf("chunk: %w", errors.ErrCorruptRecord)
		}
		id := binary.LittleEndian.Uint32(payload[1:5])
		rows := int(binary.LittleEndian.Uint32(payload[5:9]))
		enc := payload[9]
		n := int(binary.LittleEndian.Uint32(payload[10:14]))
		if 14+n > len(payload) {
			return fmt.Errorf("chunk: %w", errors.ErrCorruptRecord)
		}
		d, ok := v.byID[id]
		if !ok {
			return fmt.Errorf("chunk for unknown dataset %d: %w", id, errors.ErrCorruptRecord)
		}
		data := payload[14 : 14+n]
		if enc == chunkGzip {
			raw, err := gunzipChunk(data)
			if err != nil {
				return fmt.Errorf("decompress chunk for %s: %w", d.Path, err)
			}
			data = raw
		}
		elemSize := 8
		if d.kind == kindFixed {
			elemSize = d.Elem.Size()
		}
		if len(data) != rows*elemSize {
			return fmt.Errorf("chunk for %s has %d bytes for %d rows: %w",
				d.Path, len(data), rows, errors.ErrCorruptRecord)
		}
		d.data = append(d.data, data...)
		d.rows += rows

	default:
		return fmt.Errorf("record type %d: %w", payload[0], errors.ErrCorruptRecord)
	}
	return nil
}

func decodeAttrValue(payload []byte, off int) (attrValue, error) {
	if off >= len(payload) {
		return attrValue{}, errors.ErrCorruptRecord
	}
	kind := payload[off]
	off++

	switch kind {
	case attrString:
		s, _, err := readString(payload, off)
		if err != nil {
			return attrValue{}, err
		}
		return attrValue{kind: kind, s: s}, nil
	case attrBytes:
		if off+4 > len(payload) {
			return attrValue{}, errors.ErrCorruptRecord
		}
		n := int(binary.LittleEndian.Uint32(payload[off:]))
		off += 4
		if off+n > len(payload) {
			return attrValue{}, errors.ErrCorruptRecord
		}
		return attrValue{kind: kind, b: append([]byte(nil), payload[off:off+n]...)}, nil
	case attrUint8:
		if off >= len(payload) {
			return attrValue{}, errors.ErrCorruptRecord
		}
		return attrValue{kind: kind, u8: payload[off]}, nil
	case attrU64s:
		if off+4 > len(payload) {
			return attrValue{}, errors.ErrCorruptRecord
		}
		n := int(binary.LittleEndian.Uint32(payload[off:]))
		off += 4
		if off+8*n > len(payload) {
			return attrValue{}, errors.ErrCorruptRecord
		}
		u64s := make([]uint64, n)
		for i := range u64s {
			u64s[i] = binary.LittleEndian.Uint64(payload[off+8*i:])
		}
		return attrValue{kind: kind, u64s: u64s}, nil
	default:
		return attrValue{}, fmt.Errorf("attribute kind %d: %w", kind, errors.ErrCorruptRecord)
	}
}

// HasGroup reports whether the group exists.
func (v *View) HasGroup(path string) bool {
	return v.groups[path]
}

// Dataset returns the dataset at the given path, if present.
func (v *View) Dataset(path string) (*DatasetView, bool) {
	d, ok := v.datasets[path]
	return d, ok
}

// ByRef resolves an object reference.
func (v *View) ByRef(r Ref) (*DatasetView, bool) {
	d, ok := v.byID[uint32(r)]
	return d, ok
}

// Datasets returns all datasets sorted by path.
func (v *View) Datasets() []*DatasetView {
	out := make([]*DatasetView, 0, len(v.datasets))
	for _, d := range v.datasets {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// Rows returns the dataset's row count.
func (d *DatasetView) Rows() int {
	return d.rows
}

// IsRef reports whether this is a reference dataset.
func (d *DatasetView) IsRef() bool {
	return d.kind == kindRef
}

// AttrString returns a string attribute.
func (d *DatasetView) AttrString(name string) (string, bool) {
	av, ok := d.attrs[name]
	if !ok || av.kind != attrString {
		return "", false
	}
	return av.s, true
}

// AttrUint8 returns a uint8 attribute.
func (d *DatasetView) AttrUint8(name string) (uint8, bool) {
	av, ok := d.attrs[name]
	if !ok || av.kind != attrUint8 {
		return 0, false
	}
	return av.u8, true
}

// AttrUint64s returns a []uint64 attribute.
func (d *DatasetView) AttrUint64s(name string) ([]uint64, bool) {
	av, ok := d.attrs[name]
	if !ok || av.kind != attrU64s {
		return nil, false
	}
	return av.u64s, true
}

// Refs returns the reference values of a reference dataset.
func (d *DatasetView) Refs() ([]Ref, error) {
	if d.kind != kindRef {
		return nil, fmt.Errorf("dataset %s: %w", d.Path, errors.ErrElementMismatch)
	}
	refs := make([]Ref, d.rows)
	for i := range refs {
		refs[i] = Ref(binary.LittleEndian.Uint64(d.data[8*i:]))
	}
	return refs, nil
}

// Float64s returns the dataset values widened to float64. Works for any
// fixed numeric element type.
func (d *DatasetView) Float64s() ([]float64, error) {
	if d.kind != kindFixed {
		return nil, fmt.Errorf("dataset %s: %w", d.Path, errors.ErrElementMismatch)
	}
	out := make([]float64, d.rows)
	size := d.Elem.Size()
	for i := 0; i < d.rows; i++ {
		b := d.data[i*size:]
		switch d.Elem {
		case Float32:
			out[i] = float64(math.Float32frombits(binary.LittleEndian.Uint32(b)))
		case Float64:
			out[i] = math.Float64frombits(binary.LittleEndian.Uint64(b))
		case Int8:
			out[i] = float64(int8(b[0]))
		case Int16:
			out[i] = float64(int16(binary.LittleEndian.Uint16(b)))
		case Int32:
			out[i] = float64(int32(binary.LittleEndian.Uint32(b)))
		case Int64:
			out[i] = float64(int64(binary.LittleEndian.Uint64(b)))
		case Uint8:
			out[i] = float64(b[0])
		case Uint16:
			out[i] = float64(binary.LittleEndian.Uint16(b))
		case Uint32:
			out[i] = float64(binary.LittleEndian.Uint32(b))
		case Uint64:
			out[i] = float64(binary.LittleEndian.Uint64(b))
		}
	}
	return out, nil
}

// Uint64s returns the raw values of a Uint64 dataset.
func (d *DatasetView) Uint64s() ([]uint64, error) {
	if d.Elem != Uint64 || d.kind != kindFixed {
		return nil, fmt.Errorf("dataset %s: %w", d.Path, errors.ErrElementMismatch)
	}
	out := make([]uint64, d.rows)
	for i := range out {
		out[i] = binary.LittleEndian.Uint64(d.data[8*i:])
	}
	return out, nil
}
