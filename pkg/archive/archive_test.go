package archive

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/Sternrassler/oda-reader/internal/testutil"
	"github.com/Sternrassler/oda-reader/pkg/frame"
)

func TestDetectDelimiter(t *testing.T) {
	tests := []struct {
		name   string
		sample string
		want   rune
	}{
		{"comma", "a,b,c\n1,2,3\n4,5,6\n", ','},
		{"pipe", "a|b|c\n1|2|3\n4|5|6\n", '|'},
		{"tab", "a\tb\n1\t2\n3\t4\n", '\t'},
		{"semicolon", "a;b\n1;2\n3;4\n", ';'},
		{"pipe with commas in values", "name|amount\n\"Doe, J\"|1,000\nX|2\n", '|'},
		{"quoted commas ignored", "a|b\n\"x,y,z\"|1\n\"p,q\"|2\n", '|'},
		{"single line falls back to frequency", "a|b|c,d", '|'},
		{"empty defaults to comma", "", ','},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DetectDelimiter([]byte(tt.sample)); got != tt.want {
				t.Errorf("DetectDelimiter() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestDetectDelimiterReader_DoesNotConsume(t *testing.T) {
	d, r, err := DetectDelimiterReader(strings.NewReader("a|b\n1|2\n"))
	require.NoError(t, err)
	require.Equal(t, '|', d)

	f, err := frame.ReadCSV(r, frame.CSVOptions{Delimiter: d})
	require.NoError(t, err)
	require.Equal(t, []string{"a", "b"}, f.Columns)
	require.Equal(t, 1, f.Len())
}

func TestParquetName(t *testing.T) {
	require.Equal(t, "entire_dataset.parquet", ParquetName("Entire Dataset.txt"))
	require.Equal(t, "multi.parquet", ParquetName("data/MULTI.csv"))
}

func TestExtract_Delimited(t *testing.T) {
	data := testutil.Zip(map[string][]byte{
		"Multisystem Entire Dataset.txt": []byte("donor|value\nFRA|1.5\nUSA|2\n"),
		"readme.pdf":                     []byte("ignored"),
	})
	a, err := FromBytes(data, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, KindDelimited, a.Kind())

	dir := t.TempDir()
	written, err := a.Extract(dir)
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(dir, "multisystem_entire_dataset.parquet")}, written)

	f, err := frame.ReadParquetFile(written[0])
	require.NoError(t, err)
	require.Equal(t, []string{"donor", "value"}, f.Columns)
	require.Equal(t, [][]string{{"FRA", "1.5"}, {"USA", "2"}}, f.Rows)
}

func TestExtract_ParquetWins(t *testing.T) {
	src := &frame.Frame{Columns: []string{"a"}, Rows: [][]string{{"1"}}}
	path := filepath.Join(t.TempDir(), "src.parquet")
	require.NoError(t, frame.WriteParquetFile(path, src))
	pq, err := os.ReadFile(path)
	require.NoError(t, err)

	data := testutil.Zip(map[string][]byte{
		"CRS.parquet": pq,
		"notes.txt":   []byte("x"),
	})
	a, err := FromBytes(data, zerolog.Nop())
	require.NoError(t, err)
	require.Equal(t, KindParquet, a.Kind())

	dir := t.TempDir()
	written, err := a.Extract(dir)
	require.NoError(t, err)
	require.Equal(t, []string{filepath.Join(dir, "CRS.parquet")}, written)

	frames, err := a.Frames()
	require.NoError(t, err)
	require.Len(t, frames, 1)
	require.True(t, src.Equal(frames[0]))
}

func TestExtract_NoData(t *testing.T) {
	a, err := FromBytes(testutil.Zip(map[string][]byte{"a.pdf": []byte("x")}), zerolog.Nop())
	require.NoError(t, err)
	_, err = a.Extract(t.TempDir())
	require.ErrorIs(t, err, ErrNoDataFiles)
	_, err = a.Frames()
	require.ErrorIs(t, err, ErrNoDataFiles)
}

func TestOpen_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bulk.zip")
	require.NoError(t, os.WriteFile(path, testutil.Zip(map[string][]byte{"a.csv": []byte("x,y\n1,2\n")}), 0o644))

	a, err := Open(path, zerolog.Nop())
	require.NoError(t, err)
	defer a.Close()

	frames, err := a.Frames()
	require.NoError(t, err)
	require.Equal(t, [][]string{{"1", "2"}}, frames[0].Rows)
}

func TestOpen_NotZip(t *testing.T) {
	_, err := FromBytes([]byte("not a zip"), zerolog.Nop())
	require.Error(t, err)
}

func workbook(t *testing.T, sheet string) []byte {
	t.Helper()
	wb := excelize.NewFile()
	defer wb.Close()
	require.NoError(t, wb.SetSheetName("Sheet1", sheet))
	require.NoError(t, wb.SetSheetRow(sheet, "A1", &[]any{"AidData Record ID", "Recipient", "Amount"}))
	require.NoError(t, wb.SetSheetRow(sheet, "A2", &[]any{"1", "Angola", "100"}))
	require.NoError(t, wb.SetSheetRow(sheet, "A3", &[]any{"2", "Kenya"}))
	buf, err := wb.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

func TestExcelToParquet(t *testing.T) {
	data := testutil.Zip(map[string][]byte{
		"AidData/GCDF_3.0.xlsx":         workbook(t, "GCDF_3.0"),
		"__MACOSX/AidData/._GCDF.xlsx": []byte("junk"),
	})
	a, err := FromBytes(data, zerolog.Nop())
	require.NoError(t, err)

	dir := filepath.Join(t.TempDir(), "out")
	dst, err := a.ExcelToParquet("GCDF_3.0", dir)
	require.NoError(t, err)
	require.Equal(t, filepath.Join(dir, "GCDF_3.0.parquet"), dst)

	f, err := frame.ReadParquetFile(dst)
	require.NoError(t, err)
	require.Equal(t, []string{"AidData Record ID", "Recipient", "Amount"}, f.Columns)
	require.Equal(t, [][]string{{"1", "Angola", "100"}, {"2", "Kenya", ""}}, f.Rows)
}

func TestExcel_RequiresExactlyOneWorkbook(t *testing.T) {
	data := testutil.Zip(map[string][]byte{
		"a.xlsx": workbook(t, "GCDF_3.0"),
		"b.xlsx": workbook(t, "GCDF_3.0"),
	})
	a, err := FromBytes(data, zerolog.Nop())
	require.NoError(t, err)

	_, _, err = a.Excel("GCDF_3.0")
	require.ErrorContains(t, err, "expected exactly 1 Excel file, found 2")
}

func TestExcel_MissingSheet(t *testing.T) {
	a, err := FromBytes(testutil.Zip(map[string][]byte{"a.xlsx": workbook(t, "Other")}), zerolog.Nop())
	require.NoError(t, err)
	_, _, err = a.Excel("GCDF_3.0")
	require.Error(t, err)
}
