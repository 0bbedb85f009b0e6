package frame

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// CSVOptions controls ReadCSV.
type CSVOptions struct {
	// Delimiter defaults to ','.
	Delimiter rune

	// KeepNA disables the "_Z"/"nan" to null normalisation.
	KeepNA bool
}

// ReadCSV parses a delimited table whose first record is the header.
func ReadCSV(r io.Reader, opts CSVOptions) (*Frame, error) {
	cr := csv.NewReader(stripBOM(r))
	if opts.Delimiter != 0 {
		cr.Comma = opts.Delimiter
	}
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true
	cr.ReuseRecord = false

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("read csv: empty input")
	}
	if err != nil {
		return nil, fmt.Errorf("read csv header: %w", err)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	f := &Frame{Columns: header}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}
		if len(rec) == 1 && rec[0] == "" {
			continue
		}
		if !opts.KeepNA {
			for i, v := range rec {
				if isNA(v) {
					rec[i] = ""
				}
			}
		}
		if err := f.Append(rec...); err != nil {
			return nil, fmt.Errorf("read csv line %d: %w", line, err)
		}
	}
	return f, nil
}

// ParseCSV is ReadCSV over an in-memory body.
func ParseCSV(body []byte) (*Frame, error) {
	return ReadCSV(bytes.NewReader(body), CSVOptions{})
}

// WriteCSV writes f as comma-separated text with a header row.
func WriteCSV(w io.Writer, f *Frame) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(f.Columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	if err := cw.WriteAll(f.Rows); err != nil {
		return fmt.Errorf("write csv rows: %w", err)
	}
	return nil
}

func stripBOM(r io.Reader) io.Reader {
	buf := make([]byte, len(utf8BOM))
	n, err := io.ReadFull(r, buf)
	if err != nil {
		return bytes.NewReader(buf[:n])
	}
	if bytes.Equal(buf, utf8BOM) {
		return r
	}
	return io.MultiReader(bytes.NewReader(buf), r)
}
