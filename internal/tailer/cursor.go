package tailer

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/oicur0t/intelmon/pkg/models"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
)

// Supported log file encodings
const (
	EncodingUTF16LE = "utf-16le"
	EncodingUTF8    = "utf-8"
)

// ErrVanished is returned when a watched file disappears between the change
// notification and the read. Callers treat it as transient.
var ErrVanished = errors.New("file vanished")

// TextEncoding describes how log file bytes map to text
type TextEncoding struct {
	name     string
	enc      encoding.Encoding
	unitSize int64
}

// LookupEncoding resolves an encoding name from configuration
func LookupEncoding(name string) (TextEncoding, error) {
	switch strings.ToLower(name) {
	case "", EncodingUTF16LE, "utf16le", "utf-16":
		return TextEncoding{
			name:     EncodingUTF16LE,
			enc:      unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM),
			unitSize: 2,
		}, nil
	case EncodingUTF8, "utf8":
		return TextEncoding{name: EncodingUTF8, enc: unicode.UTF8, unitSize: 1}, nil
	default:
		return TextEncoding{}, fmt.Errorf("unsupported encoding %q", name)
	}
}

// Name returns the canonical encoding name
func (e TextEncoding) Name() string { return e.name }

// Batch is the result of one cursor observation
type Batch struct {
	Lines     []string
	Initial   bool
	Truncated bool
	From      int64
	To        int64
}

// Cursor tracks how far one log file has been consumed. A cursor starts
// unknown; its first observation replays the whole file as an initial load,
// later observations return only the bytes appended since. A Cursor is not
// safe for concurrent use; each file's observations must be serialized.
type Cursor struct {
	state    models.FileState
	tracking bool
	encoding TextEncoding
}

// NewCursor creates an unknown cursor for path
func NewCursor(path string, enc TextEncoding, discoveredAt time.Time) *Cursor {
	return &Cursor{
		state: models.FileState{
			Path:         path,
			DiscoveredAt: discoveredAt,
		},
		encoding: enc,
	}
}

// Seed starts tracking at size without replaying existing content. A
// trailing partial code unit is left for the next read.
func (c *Cursor) Seed(size int64) {
	c.state.Offset = size - size%c.encoding.unitSize
	c.tracking = true
}

// Tracking reports whether the initial observation already happened
func (c *Cursor) Tracking() bool { return c.tracking }

// State returns a copy of the file state
func (c *Cursor) State() models.FileState { return c.state }

// Observe compares the file's current size to the consumed offset and reads
// whatever is new. A shrunken file is treated as truncated and re-read from
// the start.
func (c *Cursor) Observe() (Batch, error) {
	info, err := os.Stat(c.state.Path)
	if err != nil {
		return Batch{}, c.wrapErr("stat", err)
	}
	size := info.Size()

	if !c.tracking {
		lines, end, err := c.readRange(0, size)
		if err != nil {
			return Batch{}, err
		}
		c.state.Offset = end
		c.tracking = true
		return Batch{Lines: lines, Initial: true, From: 0, To: end}, nil
	}

	batch := Batch{}
	if size < c.state.Offset {
		c.state.Offset = 0
		batch.Truncated = true
	}

	if size == c.state.Offset {
		batch.From, batch.To = size, size
		return batch, nil
	}

	from := c.state.Offset
	lines, end, err := c.readRange(from, size)
	if err != nil {
		return batch, err
	}
	c.state.Offset = end

	batch.Lines = lines
	batch.From = from
	batch.To = end
	return batch, nil
}

// readRange reads bytes [from, to) and splits them into lines. A trailing
// partial code unit is left for the next read; the returned end is the offset
// actually consumed.
func (c *Cursor) readRange(from, to int64) ([]string, int64, error) {
	if rem := (to - from) % c.encoding.unitSize; rem != 0 {
		to -= rem
	}
	if to <= from {
		return nil, from, nil
	}

	f, err := os.Open(c.state.Path)
	if err != nil {
		return nil, from, c.wrapErr("open", err)
	}
	defer f.Close()

	buf := make([]byte, to-from)
	n, err := f.ReadAt(buf, from)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, from, c.wrapErr("read", err)
	}
	n -= n % int(c.encoding.unitSize)
	buf = buf[:n]

	text, err := c.encoding.enc.NewDecoder().Bytes(buf)
	if err != nil {
		return nil, from, fmt.Errorf("failed to decode %s as %s: %w", c.state.Path, c.encoding.name, err)
	}

	return strings.Split(string(text), "\n"), from + int64(n), nil
}

func (c *Cursor) wrapErr(op string, err error) error {
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s %s: %w", ErrVanished, op, c.state.Path, err)
	}
	return fmt.Errorf("failed to %s %s: %w", op, c.state.Path, err)
}
