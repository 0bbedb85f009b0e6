package frame

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"

	"github.com/parquet-go/parquet-go"
	"github.com/parquet-go/parquet-go/compress/zstd"
)

// columnsKey stores the original column order in the file's key/value
// metadata; parquet group fields are ordered by name.
const columnsKey = "oda.columns"

// WriteParquet encodes f as a parquet file with one optional string column per
// frame column. Empty strings are written as nulls.
func WriteParquet(w io.Writer, f *Frame) error {
	if err := f.Validate(); err != nil {
		return err
	}

	group := make(parquet.Group, len(f.Columns))
	for _, c := range f.Columns {
		group[c] = parquet.Optional(parquet.String())
	}
	schema := parquet.NewSchema("frame", group)

	// Leaf index of each frame column in the schema.
	sorted := slices.Clone(f.Columns)
	slices.Sort(sorted)
	leaf := make([]int, len(f.Columns))
	for i, c := range f.Columns {
		leaf[i], _ = slices.BinarySearch(sorted, c)
	}

	order, err := json.Marshal(f.Columns)
	if err != nil {
		return fmt.Errorf("encode column order: %w", err)
	}

	pw := parquet.NewWriter(w, schema,
		parquet.Compression(&zstd.Codec{}),
		parquet.KeyValueMetadata(columnsKey, string(order)),
	)

	const batch = 1024
	rows := make([]parquet.Row, 0, batch)
	for _, r := range f.Rows {
		row := make(parquet.Row, len(f.Columns))
		for i, v := range r {
			idx := leaf[i]
			if v == "" {
				row[idx] = parquet.NullValue().Level(0, 0, idx)
			} else {
				row[idx] = parquet.ByteArrayValue([]byte(v)).Level(0, 1, idx)
			}
		}
		rows = append(rows, row)
		if len(rows) == batch {
			if _, err := pw.WriteRows(rows); err != nil {
				return fmt.Errorf("write parquet rows: %w", err)
			}
			rows = rows[:0]
		}
	}
	if len(rows) > 0 {
		if _, err := pw.WriteRows(rows); err != nil {
			return fmt.Errorf("write parquet rows: %w", err)
		}
	}

	if err := pw.Close(); err != nil {
		return fmt.Errorf("close parquet writer: %w", err)
	}
	return nil
}

// ReadParquet decodes a parquet file. Files written by WriteParquet keep their
// original column order; other files use the schema order. Every leaf value
// is rendered as a string.
func ReadParquet(r io.ReaderAt, size int64) (*Frame, error) {
	pf, err := parquet.OpenFile(r, size)
	if err != nil {
		return nil, fmt.Errorf("open parquet: %w", err)
	}

	fields := pf.Schema().Fields()
	names := make([]string, len(fields))
	for i, fl := range fields {
		names[i] = fl.Name()
	}

	// pos[leaf] = output column position.
	pos := make([]int, len(names))
	columns := names
	if raw, ok := pf.Lookup(columnsKey); ok {
		var order []string
		if err := json.Unmarshal([]byte(raw), &order); err != nil {
			return nil, fmt.Errorf("decode column order: %w", err)
		}
		if len(order) != len(names) {
			return nil, fmt.Errorf("column order lists %d columns, schema has %d", len(order), len(names))
		}
		columns = order
	}
	for leafIdx, n := range names {
		p := slices.Index(columns, n)
		if p < 0 {
			return nil, fmt.Errorf("column %q missing from stored order", n)
		}
		pos[leafIdx] = p
	}

	out := &Frame{Columns: slices.Clone(columns)}
	buf := make([]parquet.Row, 256)
	for _, rg := range pf.RowGroups() {
		rows := rg.Rows()
		for {
			n, err := rows.ReadRows(buf)
			for _, row := range buf[:n] {
				rec := make([]string, len(columns))
				for _, v := range row {
					c := v.Column()
					if c < 0 || c >= len(pos) || v.IsNull() {
						continue
					}
					rec[pos[c]] = valueString(v)
				}
				out.Rows = append(out.Rows, rec)
			}
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				rows.Close()
				return nil, fmt.Errorf("read parquet rows: %w", err)
			}
		}
		rows.Close()
	}
	return out, nil
}

func valueString(v parquet.Value) string {
	switch v.Kind() {
	case parquet.ByteArray, parquet.FixedLenByteArray:
		return string(v.ByteArray())
	default:
		return v.String()
	}
}

// WriteParquetFile writes f to path.
func WriteParquetFile(path string, f *Frame) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if err := WriteParquet(out, f); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("close %s: %w", path, err)
	}
	return nil
}

// ReadParquetFile reads a parquet file from path.
func ReadParquetFile(path string) (*Frame, error) {
	in, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer in.Close()

	st, err := in.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", path, err)
	}
	return ReadParquet(in, st.Size())
}
