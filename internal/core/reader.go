package core

// reader.go opens CSV sources for the pipeline.
//
// Files are read through three layers:
//
//   - countingReader: bytes consumed from the file, for progress
//   - BOM skipping: drops the UTF-8 BOM Windows tools prepend
//   - field sanitizing: invalid UTF-8 in a field becomes '?'

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync/atomic"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// countingReader counts bytes read from the underlying reader. Safe to poll
// from another goroutine.
type countingReader struct {
	r     io.Reader
	n     atomic.Int64
	total int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n.Add(int64(n))
	return n, err
}

// BytesRead returns the bytes consumed so far.
func (c *countingReader) BytesRead() int64 {
	return c.n.Load()
}

// Percent returns read progress 0..100, or 0 when the size is unknown.
func (c *countingReader) Percent() int {
	if c.total <= 0 {
		return 0
	}
	p := int(c.n.Load() * 100 / c.total)
	return min(p, 100)
}

// skipBOM returns a reader positioned after a leading UTF-8 BOM, if any.
func skipBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	if b, err := br.Peek(len(utf8BOM)); err == nil && bytes.Equal(b, utf8BOM) {
		_, _ = br.Discard(len(utf8BOM))
	}
	return br
}

func sanitizeFields(fields []string) []string {
	for i, f := range fields {
		if !utf8.ValidString(f) {
			fields[i] = strings.ToValidUTF8(f, "?")
		}
	}
	return fields
}

func newCSVReader(r io.Reader) *csv.Reader {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	return cr
}

// csvSource yields SourceRows from an open file.
type csvSource struct {
	file    *os.File
	counter *countingReader
	reader  *csv.Reader
	headers []string
}

// openSource opens path and reads its header row.
func openSource(path string) (*csvSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open source: %w", err)
	}

	var size int64
	if info, err := f.Stat(); err == nil {
		size = info.Size()
	}

	counter := &countingReader{r: f, total: size}
	src := &csvSource{file: f, counter: counter, reader: newCSVReader(skipBOM(counter))}

	header, err := src.reader.Read()
	if err != nil {
		f.Close()
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty file has no header row", ErrInvalidCSV)
		}
		return nil, fmt.Errorf("%w: read header: %w", ErrInvalidCSV, err)
	}
	src.headers = sanitizeFields(header)
	return src, nil
}

// readHeader returns only the header row of the CSV file at path.
func readHeader(path string) ([]string, error) {
	src, err := openSource(path)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	return src.headers, nil
}

// Next returns the next data row, or io.EOF.
func (s *csvSource) Next() (SourceRow, error) {
	fields, err := s.reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return SourceRow{}, io.EOF
		}
		return SourceRow{}, fmt.Errorf("%w: %w", ErrInvalidCSV, err)
	}
	line, _ := s.reader.FieldPos(0)
	return SourceRow{Line: line, Headers: s.headers, Fields: sanitizeFields(fields)}, nil
}

func (s *csvSource) Close() error {
	return s.file.Close()
}
