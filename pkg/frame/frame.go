// Package frame holds the tabular result type returned by oda-reader and its
// CSV and parquet codecs.
//
// A Frame is column-ordered and string-typed; the empty string is the null
// value. Upstream SDMX CSV marks missing values as "_Z" or "nan", both of
// which are normalised to null when parsed.
package frame

import (
	"errors"
	"fmt"
	"slices"
)

// NAValues are the upstream markers read as null.
var NAValues = []string{"_Z", "nan"}

// ErrInvalidColumns is returned for frames with empty or duplicate column names.
var ErrInvalidColumns = errors.New("frame: invalid column set")

// Frame is an in-memory table.
type Frame struct {
	Columns []string
	Rows    [][]string
}

// New returns an empty frame with the given columns.
func New(columns ...string) *Frame {
	return &Frame{Columns: slices.Clone(columns)}
}

// Len returns the number of rows.
func (f *Frame) Len() int {
	if f == nil {
		return 0
	}
	return len(f.Rows)
}

// Append adds a row. Short rows are padded with nulls; long rows are an error.
func (f *Frame) Append(row ...string) error {
	if len(row) > len(f.Columns) {
		return fmt.Errorf("frame: row has %d values, frame has %d columns", len(row), len(f.Columns))
	}
	r := make([]string, len(f.Columns))
	copy(r, row)
	f.Rows = append(f.Rows, r)
	return nil
}

// ColumnIndex returns the position of name, or -1.
func (f *Frame) ColumnIndex(name string) int {
	return slices.Index(f.Columns, name)
}

// Column returns a copy of the values of column name.
func (f *Frame) Column(name string) ([]string, bool) {
	idx := f.ColumnIndex(name)
	if idx < 0 {
		return nil, false
	}
	out := make([]string, len(f.Rows))
	for i, r := range f.Rows {
		out[i] = r[idx]
	}
	return out, true
}

// Rename renames columns according to mapping. Unmapped columns are kept.
func (f *Frame) Rename(mapping map[string]string) {
	for i, c := range f.Columns {
		if n, ok := mapping[c]; ok {
			f.Columns[i] = n
		}
	}
}

// Select returns a new frame holding only the named columns, in that order.
// Unknown names are skipped.
func (f *Frame) Select(names ...string) *Frame {
	var idx []int
	out := &Frame{}
	for _, n := range names {
		if i := f.ColumnIndex(n); i >= 0 {
			idx = append(idx, i)
			out.Columns = append(out.Columns, n)
		}
	}
	out.Rows = make([][]string, len(f.Rows))
	for r, row := range f.Rows {
		nr := make([]string, len(idx))
		for j, i := range idx {
			nr[j] = row[i]
		}
		out.Rows[r] = nr
	}
	return out
}

// Map applies fn to every value of column name.
func (f *Frame) Map(name string, fn func(string) string) bool {
	idx := f.ColumnIndex(name)
	if idx < 0 {
		return false
	}
	for _, r := range f.Rows {
		r[idx] = fn(r[idx])
	}
	return true
}

// Clone returns a deep copy.
func (f *Frame) Clone() *Frame {
	if f == nil {
		return nil
	}
	out := &Frame{
		Columns: slices.Clone(f.Columns),
		Rows:    make([][]string, len(f.Rows)),
	}
	for i, r := range f.Rows {
		out.Rows[i] = slices.Clone(r)
	}
	return out
}

// Equal reports whether two frames have identical columns and rows.
func (f *Frame) Equal(o *Frame) bool {
	if f == nil || o == nil {
		return f == o
	}
	if !slices.Equal(f.Columns, o.Columns) || len(f.Rows) != len(o.Rows) {
		return false
	}
	for i := range f.Rows {
		if !slices.Equal(f.Rows[i], o.Rows[i]) {
			return false
		}
	}
	return true
}

// Validate checks that column names are non-empty and unique and that every
// row has one value per column.
func (f *Frame) Validate() error {
	if len(f.Columns) == 0 {
		return fmt.Errorf("%w: no columns", ErrInvalidColumns)
	}
	seen := make(map[string]struct{}, len(f.Columns))
	for _, c := range f.Columns {
		if c == "" {
			return fmt.Errorf("%w: empty column name", ErrInvalidColumns)
		}
		if _, dup := seen[c]; dup {
			return fmt.Errorf("%w: duplicate column %q", ErrInvalidColumns, c)
		}
		seen[c] = struct{}{}
	}
	for i, r := range f.Rows {
		if len(r) != len(f.Columns) {
			return fmt.Errorf("frame: row %d has %d values, want %d", i, len(r), len(f.Columns))
		}
	}
	return nil
}

func isNA(v string) bool {
	return slices.Contains(NAValues, v)
}

// Concat stacks frames vertically. Columns are the union in first-seen order;
// values missing from a frame are null. Nil frames are skipped.
func Concat(frames ...*Frame) *Frame {
	out := &Frame{}
	pos := make(map[string]int)
	for _, f := range frames {
		if f == nil {
			continue
		}
		for _, c := range f.Columns {
			if _, ok := pos[c]; !ok {
				pos[c] = len(out.Columns)
				out.Columns = append(out.Columns, c)
			}
		}
	}
	for _, f := range frames {
		if f == nil {
			continue
		}
		for _, r := range f.Rows {
			nr := make([]string, len(out.Columns))
			for i, c := range f.Columns {
				nr[pos[c]] = r[i]
			}
			out.Rows = append(out.Rows, nr)
		}
	}
	return out
}

// DropEmptyColumns removes columns whose values are all null.
func (f *Frame) DropEmptyColumns() *Frame {
	var keep []string
	for i, c := range f.Columns {
		for _, r := range f.Rows {
			if r[i] != "" {
				keep = append(keep, c)
				break
			}
		}
	}
	return f.Select(keep...)
}
