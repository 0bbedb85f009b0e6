package frame

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func sample() *Frame {
	return &Frame{
		Columns: []string{"donor", "year", "value", "aid_type"},
		Rows: [][]string{
			{"DAC", "2022", "1.5", ""},
			{"USA", "2023", "", "C01"},
			{"FRA", "2023", "42", "B03"},
		},
	}
}

func TestReadCSV(t *testing.T) {
	body := "\xEF\xBB\xBFDONOR,TIME_PERIOD,OBS_VALUE\nDAC,2022,_Z\nUSA,2023,nan\nFRA,2023,12.5\n"

	f, err := ReadCSV(strings.NewReader(body), CSVOptions{})
	require.NoError(t, err)
	require.Equal(t, []string{"DONOR", "TIME_PERIOD", "OBS_VALUE"}, f.Columns)
	require.Equal(t, 3, f.Len())
	require.Equal(t, "", f.Rows[0][2], "_Z must be read as null")
	require.Equal(t, "", f.Rows[1][2], "nan must be read as null")
	require.Equal(t, "12.5", f.Rows[2][2])
}

func TestReadCSV_Delimiter(t *testing.T) {
	body := "a|b\n1|2\n"
	f, err := ReadCSV(strings.NewReader(body), CSVOptions{Delimiter: '|'})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, f.Columns)
	require.Equal(t, [][]string{{"1", "2"}}, f.Rows)
}

func TestReadCSV_KeepNA(t *testing.T) {
	f, err := ReadCSV(strings.NewReader("a\n_Z\n"), CSVOptions{KeepNA: true})
	require.NoError(t, err)
	require.Equal(t, "_Z", f.Rows[0][0])
}

func TestReadCSV_Empty(t *testing.T) {
	_, err := ReadCSV(strings.NewReader(""), CSVOptions{})
	require.Error(t, err)
}

func TestParquetRoundTrip(t *testing.T) {
	f := sample()

	var buf bytes.Buffer
	require.NoError(t, WriteParquet(&buf, f))

	got, err := ReadParquet(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.True(t, f.Equal(got), "round trip mismatch:\nwant %v\ngot  %v", f, got)
}

func TestParquetRoundTrip_NoRows(t *testing.T) {
	f := New("b", "a")

	path := filepath.Join(t.TempDir(), "empty.parquet")
	require.NoError(t, WriteParquetFile(path, f))

	got, err := ReadParquetFile(path)
	require.NoError(t, err)
	require.Equal(t, []string{"b", "a"}, got.Columns)
	require.Equal(t, 0, got.Len())
}

func TestWriteParquet_InvalidColumns(t *testing.T) {
	tests := []struct {
		name string
		f    *Frame
	}{
		{"no columns", &Frame{}},
		{"duplicate", &Frame{Columns: []string{"a", "a"}}},
		{"empty name", &Frame{Columns: []string{"a", ""}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := WriteParquet(&bytes.Buffer{}, tt.f)
			if !errors.Is(err, ErrInvalidColumns) {
				t.Errorf("WriteParquet() error = %v, want ErrInvalidColumns", err)
			}
		})
	}
}

func TestReadParquet_Corrupt(t *testing.T) {
	data := []byte("definitely not parquet")
	if _, err := ReadParquet(bytes.NewReader(data), int64(len(data))); err == nil {
		t.Error("expected error for corrupt input")
	}
}

func TestFrameHelpers(t *testing.T) {
	f := sample()

	c := f.Clone()
	c.Rows[0][0] = "changed"
	if f.Rows[0][0] != "DAC" {
		t.Error("Clone() shares row storage")
	}

	sel := f.Select("value", "donor", "missing")
	require.Equal(t, []string{"value", "donor"}, sel.Columns)
	require.Equal(t, []string{"1.5", "DAC"}, sel.Rows[0])

	f.Rename(map[string]string{"donor": "donor_code"})
	require.Equal(t, 0, f.ColumnIndex("donor_code"))

	ok := f.Map("year", func(v string) string { return v + "!" })
	require.True(t, ok)
	years, _ := f.Column("year")
	require.Equal(t, []string{"2022!", "2023!", "2023!"}, years)

	require.Error(t, f.Append("1", "2", "3", "4", "5"))
	require.NoError(t, f.Append("X"))
	require.Equal(t, []string{"X", "", "", ""}, f.Rows[3])
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, &Frame{Columns: []string{"a", "b"}, Rows: [][]string{{"1", "x,y"}}}))
	require.Equal(t, "a,b\n1,\"x,y\"\n", buf.String())
}

func TestConcat(t *testing.T) {
	a := &Frame{Columns: []string{"donor", "value"}, Rows: [][]string{{"DAC", "1"}}}
	b := &Frame{Columns: []string{"value", "year"}, Rows: [][]string{{"2", "2023"}}}

	got := Concat(a, nil, b)
	require.Equal(t, []string{"donor", "value", "year"}, got.Columns)
	require.Equal(t, [][]string{{"DAC", "1", ""}, {"", "2", "2023"}}, got.Rows)
}

func TestDropEmptyColumns(t *testing.T) {
	f := &Frame{
		Columns: []string{"a", "empty", "b"},
		Rows:    [][]string{{"1", "", ""}, {"", "", "x"}},
	}
	got := f.DropEmptyColumns()
	require.Equal(t, []string{"a", "b"}, got.Columns)
	require.Equal(t, []string{"1", ""}, got.Rows[0])
}
