package scrape

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Format selects the field delimiter.
type Format int

const (
	CSV Format = iota
	TSV
)

// ParseFormat maps "csv" and "tsv" to a Format.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "", "csv":
		return CSV, nil
	case "tsv":
		return TSV, nil
	default:
		return CSV, fmt.Errorf("unknown output format %q", s)
	}
}

// Encoding selects the output charset.
type Encoding int

const (
	UTF8 Encoding = iota
	// UTF16LE is what Excel expects for tab separated files with non-ASCII text.
	UTF16LE
)

// ParseEncoding maps "utf-8" and "utf-16le" (with or without the dash)
// to an Encoding.
func ParseEncoding(s string) (Encoding, error) {
	switch strings.ToLower(strings.ReplaceAll(s, "-", "")) {
	case "", "utf8":
		return UTF8, nil
	case "utf16le":
		return UTF16LE, nil
	default:
		return UTF8, fmt.Errorf("unknown output encoding %q", s)
	}
}

var boms = map[Encoding][]byte{
	UTF8:    {0xef, 0xbb, 0xbf},
	UTF16LE: {0xff, 0xfe},
}

type writerConfig struct {
	format      Format
	encoding    Encoding
	bom         bool
	crlf        bool
	quoteAll    bool
	placeholder string
}

// RowWriterOption configures a RowWriter.
type RowWriterOption func(*writerConfig)

// WithFormat sets CSV (default) or TSV output.
func WithFormat(f Format) RowWriterOption {
	return func(c *writerConfig) { c.format = f }
}

// WithEncoding sets the output charset. UTF-8 by default.
func WithEncoding(e Encoding) RowWriterOption {
	return func(c *writerConfig) { c.encoding = e }
}

// WithBOM writes a byte order mark for the chosen encoding first.
func WithBOM(on bool) RowWriterOption {
	return func(c *writerConfig) { c.bom = on }
}

// WithCRLF ends lines with \r\n instead of \n.
func WithCRLF(on bool) RowWriterOption {
	return func(c *writerConfig) { c.crlf = on }
}

// WithQuoteAll quotes every field, not only those that need it.
// It is on by default.
func WithQuoteAll(on bool) RowWriterOption {
	return func(c *writerConfig) { c.quoteAll = on }
}

// WithPlaceholder sets the text written for empty fields. "-" by default;
// an empty placeholder keeps empty fields empty.
func WithPlaceholder(s string) RowWriterOption {
	return func(c *writerConfig) { c.placeholder = s }
}

// RowWriter writes delimited rows. Rows passed to one Write or WriteAll
// call are never interleaved with rows from other goroutines.
type RowWriter struct {
	conf writerConfig

	mu     sync.Mutex
	buf    *bufio.Writer
	enc    io.WriteCloser
	closer io.Closer
	rows   int64
	closed bool
}

// NewRowWriter wraps w. The byte order mark, when enabled, is written
// right away.
func NewRowWriter(w io.Writer, opts ...RowWriterOption) (*RowWriter, error) {
	conf := writerConfig{quoteAll: true, placeholder: "-"}
	for _, opt := range opts {
		opt(&conf)
	}

	if conf.bom {
		if _, err := w.Write(boms[conf.encoding]); err != nil {
			return nil, fmt.Errorf("write bom: %w", err)
		}
	}

	rw := &RowWriter{conf: conf}
	var dst io.Writer = w
	if conf.encoding == UTF16LE {
		rw.enc = transform.NewWriter(w, unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM).NewEncoder())
		dst = rw.enc
	}
	rw.buf = bufio.NewWriter(dst)
	return rw, nil
}

// CreateFile creates (or truncates) path and returns a RowWriter for it.
// Close closes the file.
func CreateFile(path string, opts ...RowWriterOption) (*RowWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	rw, err := NewRowWriter(f, opts...)
	if err != nil {
		f.Close()
		return nil, err
	}
	rw.closer = f
	return rw, nil
}

// WriteHeader writes a header row. It is not counted in Rows.
func (w *RowWriter) WriteHeader(cols ...string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writeLocked(cols)
}

// Write writes one row.
func (w *RowWriter) Write(row []string) error {
	return w.WriteAll([][]string{row})
}

// WriteAll writes rows as one block.
func (w *RowWriter) WriteAll(rows [][]string) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, row := range rows {
		if err := w.writeLocked(row); err != nil {
			return err
		}
		w.rows++
	}
	return nil
}

// Rows returns the number of data rows written so far.
func (w *RowWriter) Rows() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.rows
}

// Flush writes buffered rows to the underlying writer.
func (w *RowWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Flush()
}

// Close flushes the writer and closes the file opened by CreateFile.
// It is safe to call more than once.
func (w *RowWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	err := w.buf.Flush()
	if w.enc != nil {
		if cerr := w.enc.Close(); err == nil {
			err = cerr
		}
	}
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

func (w *RowWriter) writeLocked(row []string) error {
	if w.closed {
		return os.ErrClosed
	}

	sep := ","
	if w.conf.format == TSV {
		sep = "\t"
	}
	for i, field := range row {
		if i > 0 {
			w.buf.WriteString(sep)
		}
		w.buf.WriteString(w.field(field, sep))
	}
	eol := "\n"
	if w.conf.crlf {
		eol = "\r\n"
	}
	// bufio keeps the first write error, so checking the last write is enough
	_, err := w.buf.WriteString(eol)
	return err
}

func (w *RowWriter) field(s, sep string) string {
	if s == "" {
		s = w.conf.placeholder
	}
	if !w.conf.quoteAll && !strings.ContainsAny(s, sep+"\"\r\n") {
		return s
	}
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}
