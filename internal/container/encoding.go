package container

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"
	"math"

	"github.com/klauspost/compress/gzip"

	"github.com/xtxerr/tabarch/internal/errors"
)

// Record payload encodings (binary, little-endian):
//
// create-group:   type(1) + path string
// create-dataset: type(1) + id(4) + path string + elem(1) + kind(1) + compressed(1)
// attr:           type(1) + id(4) + name string + valkind(1) + value
// chunk:          type(1) + id(4) + rows(4) + enc(1) + data length(4) + data
//
// Strings are a 2-byte length followed by the bytes.

// Attribute value kinds.
const (
	attrString = 0
	attrBytes  = 1
	attrUint8  = 2
	attrU64s   = 3
)

// putSuperblock writes the superblock into b, which must hold superblockSize
// bytes.
func putSuperblock(b []byte, prefix uint32) {
	binary.LittleEndian.PutUint64(b[0:8], containerMagic)
	binary.LittleEndian.PutUint32(b[8:12], containerVersion)
	binary.LittleEndian.PutUint32(b[12:16], prefix)
}

// frameRecord fills the record header for a payload.
func frameRecord(header, payload []byte) {
	binary.LittleEndian.PutUint32(header[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint32(header[4:8], crc32.ChecksumIEEE(payload))
}

func encodeCreateGroup(path string) []byte {
	buf := make([]byte, 0, 3+len(path))
	buf = append(buf, recCreateGroup)
	buf = appendString(buf, path)
	return buf
}

func encodeCreateDataset(id uint32, path string, elem ElemType, kind byte, compressed bool) []byte {
	buf := make([]byte, 0, 10+len(path))
	buf = append(buf, recCreateDataset)
	buf = binary.LittleEndian.AppendUint32(buf, id)
	buf = appendString(buf, path)
	buf = append(buf, byte(elem), kind)
	if compressed {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

func encodeAttr(id uint32, name string, value any) ([]byte, error) {
	buf := make([]byte, 0, 8+len(name))
	buf = append(buf, recAttr)
	buf = binary.LittleEndian.AppendUint32(buf, id)
	buf = appendString(buf, name)

	switch v := value.(type) {
	case string:
		buf = append(buf, attrString)
		buf = appendString(buf, v)
	case []byte:
		buf = append(buf, attrBytes)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v)))
		buf = append(buf, v...)
	case uint8:
		buf = append(buf, attrUint8, v)
	case []uint64:
		buf = append(buf, attrU64s)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(v)))
		for _, u := range v {
			buf = binary.LittleEndian.AppendUint64(buf, u)
		}
	default:
		return nil, fmt.Errorf("unsupported attribute value type %T", value)
	}
	return buf, nil
}

func encodeChunk(id uint32, rows int, enc byte, data []byte) []byte {
	buf := make([]byte, 0, 14+len(data))
	buf = append(buf, recChunk)
	buf = binary.LittleEndian.AppendUint32(buf, id)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(rows))
	buf = append(buf, enc)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(data)))
	buf = append(buf, data...)
	return buf
}

// encodeValues serializes a typed slice into little-endian element bytes.
// Returns ErrElementMismatch when the slice type does not match elem.
func encodeValues(elem ElemType, v any) ([]byte, int, error) {
	switch s := v.(type) {
	case []float32:
		if elem != Float32 {
			return nil, 0, errors.ErrElementMismatch
		}
		buf := make([]byte, 0, 4*len(s))
		for _, x := range s {
			buf = binary.LittleEndian.AppendUint32(buf, math.Float32bits(x))
		}
		return buf, len(s), nil
	case []float64:
		if elem != Float64 {
			return nil, 0, errors.ErrElementMismatch
		}
		buf := make([]byte, 0, 8*len(s))
		for _, x := range s {
			buf = binary.LittleEndian.AppendUint64(buf, math.Float64bits(x))
		}
		return buf, len(s), nil
	case []int8:
		if elem != Int8 {
			return nil, 0, errors.ErrElementMismatch
		}
		buf := make([]byte, len(s))
		for i, x := range s {
			buf[i] = byte(x)
		}
		return buf, len(s), nil
	case []int16:
		if elem != Int16 {
			return nil, 0, errors.ErrElementMismatch
		}
		buf := make([]byte, 0, 2*len(s))
		for _, x := range s {
			buf = binary.LittleEndian.AppendUint16(buf, uint16(x))
		}
		return buf, len(s), nil
	case []int32:
		if elem != Int32 {
			return nil, 0, errors.ErrElementMismatch
		}
		buf := make([]byte, 0, 4*len(s))
		for _, x := range s {
			buf = binary.LittleEndian.AppendUint32(buf, uint32(x))
		}
		return buf, len(s), nil
	case []int64:
		if elem != Int64 {
			return nil, 0, errors.ErrElementMismatch
		}
		buf := make([]byte, 0, 8*len(s))
		for _, x := range s {
			buf = binary.LittleEndian.AppendUint64(buf, uint64(x))
		}
		return buf, len(s), nil
	case []uint8:
		if elem != Uint8 {
			return nil, 0, errors.ErrElementMismatch
		}
		return append([]byte(nil), s...), len(s), nil
	case []uint16:
		if elem != Uint16 {
			return nil, 0, errors.ErrElementMismatch
		}
		buf := make([]byte, 0, 2*len(s))
		for _, x := range s {
			buf = binary.LittleEndian.AppendUint16(buf, x)
		}
		return buf, len(s), nil
	case []uint32:
		if elem != Uint32 {
			return nil, 0, errors.ErrElementMismatch
		}
		buf := make([]byte, 0, 4*len(s))
		for _, x := range s {
			buf = binary.LittleEndian.AppendUint32(buf, x)
		}
		return buf, len(s), nil
	case []uint64:
		if elem != Uint64 {
			return nil, 0, errors.ErrElementMismatch
		}
		buf := make([]byte, 0, 8*len(s))
		for _, x := range s {
			buf = binary.LittleEndian.AppendUint64(buf, x)
		}
		return buf, len(s), nil
	default:
		return nil, 0, fmt.Errorf("unsupported value slice type %T: %w", v, errors.ErrElementMismatch)
	}
}

func encodeRefs(refs []Ref) []byte {
	buf := make([]byte, 0, 8*len(refs))
	for _, r := range refs {
		buf = binary.LittleEndian.AppendUint64(buf, uint64(r))
	}
	return buf
}

// gzipChunk compresses chunk data. Level 9 mirrors the archive's maximum
// compression of cell values.
func gzipChunk(data []byte) ([]byte, error) {
	var out bytes.Buffer
	zw, err := gzip.NewWriterLevel(&out, gzip.BestCompression)
	if err != nil {
		return nil, err
	}
	if _, err := zw.Write(data); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, err
	}
	return out.Bytes(), nil
}

// gunzipChunk decompresses chunk data.
func gunzipChunk(data []byte) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer zr.Close()
	return io.ReadAll(zr)
}

// appendString appends a length-prefixed string.
func appendString(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

// readString reads a length-prefixed string starting at offset.
func readString(data []byte, offset int) (string, int, error) {
	if offset+2 > len(data) {
		return "", 0, fmt.Errorf("data too short for string length")
	}
	n := int(binary.LittleEndian.Uint16(data[offset:]))
	offset += 2
	if offset+n > len(data) {
		return "", 0, fmt.Errorf("data too short for string of %d bytes", n)
	}
	return string(data[offset : offset+n]), offset + n, nil
}
