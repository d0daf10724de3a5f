package archive

import (
	"bytes"
	"fmt"
	"os"
	"runtime"
	"strings"
	"time"

	"github.com/xtxerr/tabarch/internal/errors"
)

// The compatibility header is the fixed 128-byte block written into the
// container's reserved prefix. It makes the file recognizable as a
// MAT 7.3 variant:
//
//	[descriptive ASCII text, space-padded][116..123 zero][0x00 0x02 'I' 'M']
//
// The trailing two bytes are the superblock-version magic; the 0x0002 ahead
// of them is the header version.
const (
	// HeaderSize is the compatibility header length in bytes.
	HeaderSize = 128

	// headerTextSize is the descriptive text region; the trailer follows.
	headerTextSize = HeaderSize - len(headerTrailer)

	headerPrefix     = "MATLAB 7.3 MAT-file, Platform: "
	headerCreatedSep = ", Created on: "
	headerSuffix     = " HDF5 schema 1.00 ."

	// headerTimeLayout matches ctime-style "%a %b %d %H:%M:%S %Y".
	headerTimeLayout = "Mon Jan 02 15:04:05 2006"
)

// headerTrailer is the fixed 12-byte block ending the header.
var headerTrailer = [12]byte{0, 0, 0, 0, 0, 0, 0, 0, 0x00, 0x02, 0x49, 0x4d}

// HeaderInfo holds the fields parseable back out of a compatibility header.
type HeaderInfo struct {
	Platform string
	Created  time.Time
}

// DefaultPlatform describes this runtime for the header's platform field.
func DefaultPlatform() string {
	return fmt.Sprintf("Go %s %s-%s", runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Header produces the 128-byte compatibility block. It fails with
// ErrHeaderOverflow when the descriptive text cannot fit the reserved text
// region; that indicates a platform-description mismatch and is not
// recoverable.
func Header(platform string, created time.Time) ([HeaderSize]byte, error) {
	var h [HeaderSize]byte

	desc := headerPrefix + platform + headerCreatedSep +
		created.Format(headerTimeLayout) + headerSuffix
	if len(desc) > headerTextSize {
		return h, fmt.Errorf("%q is %d bytes, %d reserved: %w",
			desc, len(desc), headerTextSize, errors.ErrHeaderOverflow)
	}

	copy(h[:], desc)
	for i := len(desc); i < headerTextSize; i++ {
		h[i] = ' '
	}
	copy(h[headerTextSize:], headerTrailer[:])
	return h, nil
}

// WriteHeader patches a header block into the reserved prefix of an existing
// file. This is a second pass over the file: the container must have
// committed its superblock first, since the container library owns creation
// of the rest of the file.
func WriteHeader(path string, h [HeaderSize]byte) error {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("open for header write: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteAt(h[:], 0); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	return f.Sync()
}

// ParseHeader parses a compatibility header back into its fields.
func ParseHeader(b []byte) (HeaderInfo, error) {
	var info HeaderInfo

	if len(b) < HeaderSize {
		return info, fmt.Errorf("header is %d bytes, want %d", len(b), HeaderSize)
	}
	if !bytes.Equal(b[headerTextSize:HeaderSize], headerTrailer[:]) {
		return info, fmt.Errorf("header trailer mismatch")
	}

	text := strings.TrimRight(string(b[:headerTextSize]), " ")
	rest, ok := strings.CutPrefix(text, headerPrefix)
	if !ok {
		return info, fmt.Errorf("header text %q missing format prefix", text)
	}
	rest, ok = strings.CutSuffix(rest, headerSuffix)
	if !ok {
		return info, fmt.Errorf("header text %q missing schema suffix", text)
	}
	platform, createdText, ok := strings.Cut(rest, headerCreatedSep)
	if !ok {
		return info, fmt.Errorf("header text %q missing creation timestamp", text)
	}

	created, err := time.Parse(headerTimeLayout, createdText)
	if err != nil {
		return info, fmt.Errorf("header timestamp %q: %w", createdText, err)
	}

	info.Platform = platform
	info.Created = created
	return info, nil
}
