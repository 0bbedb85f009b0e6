package archive

import (
	"bytes"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/Sternrassler/oda-reader/pkg/frame"
)

// Excel reads sheet from the single .xlsx member of the archive. The first
// row is the header; short rows are padded with nulls.
func (a *Archive) Excel(sheet string) (*frame.Frame, string, error) {
	members := a.members(func(name string) bool { return strings.HasSuffix(name, ".xlsx") })
	if len(members) != 1 {
		names := make([]string, len(members))
		for i, m := range members {
			names[i] = m.Name
		}
		return nil, "", fmt.Errorf("archive: expected exactly 1 Excel file, found %d: %v", len(members), names)
	}
	m := members[0]

	data, err := readMember(m)
	if err != nil {
		return nil, "", err
	}
	wb, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, "", fmt.Errorf("open workbook %s: %w", m.Name, err)
	}
	defer wb.Close()

	rows, err := wb.GetRows(sheet)
	if err != nil {
		return nil, "", fmt.Errorf("read sheet %s of %s: %w", sheet, m.Name, err)
	}
	if len(rows) == 0 {
		return nil, "", fmt.Errorf("sheet %s of %s is empty", sheet, m.Name)
	}

	f := frame.New(rows[0]...)
	for _, r := range rows[1:] {
		row := make([]string, len(f.Columns))
		copy(row, r)
		f.Rows = append(f.Rows, row)
	}
	a.logger.Info().Str("file", m.Name).Str("sheet", sheet).Int("rows", f.Len()).Msg("Read Excel sheet")
	return f, m.Name, nil
}

// ExcelToParquet saves sheet of the archive's workbook as
// {dir}/{workbook}.parquet and returns the written path.
func (a *Archive) ExcelToParquet(sheet, dir string) (string, error) {
	f, member, err := a.Excel(sheet)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create %s: %w", dir, err)
	}
	name := strings.TrimSuffix(path.Base(member), ".xlsx") + ".parquet"
	dst := filepath.Join(dir, name)
	if err := frame.WriteParquetFile(dst, f); err != nil {
		return "", fmt.Errorf("save %s: %w", member, err)
	}
	return dst, nil
}
