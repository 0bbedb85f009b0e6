package schema

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"slices"
	"strings"

	"github.com/Sternrassler/oda-reader/pkg/frame"
)

// CodeMap converts API codes to .Stat codes.
type CodeMap struct {
	// Area maps .Stat numeric codes to API area codes; it is inverted on use.
	Area map[string]string

	// Prices maps API price-base codes to .Stat amount-type codes.
	Prices map[string]string
}

// ReadCodeMap loads area_codes.json and prices.json from fsys.
func ReadCodeMap(fsys fs.FS) (CodeMap, error) {
	var cm CodeMap
	if err := readJSON(fsys, "area_codes.json", &cm.Area); err != nil {
		return CodeMap{}, err
	}
	if err := readJSON(fsys, "prices.json", &cm.Prices); err != nil {
		return CodeMap{}, err
	}
	return cm, nil
}

func readJSON(fsys fs.FS, name string, v any) error {
	data, err := fs.ReadFile(fsys, name)
	if err != nil {
		return fmt.Errorf("read %s: %w", name, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	return nil
}

// areaToDotstat returns the API code -> .Stat code mapping.
func (c CodeMap) areaToDotstat() map[string]string {
	out := make(map[string]string, len(c.Area))
	for dotstat, api := range c.Area {
		out[api] = dotstat
	}
	return out
}

// MapAreas replaces API area codes in columns with .Stat codes. Unknown
// codes become null. Missing columns are skipped.
func (c CodeMap) MapAreas(f *frame.Frame, columns ...string) {
	m := c.areaToDotstat()
	for _, col := range columns {
		f.Map(col, func(v string) string { return m[v] })
	}
}

// MapPrices replaces price-base codes in column with amount-type codes.
// Unknown codes become null.
func (c CodeMap) MapPrices(f *frame.Frame, column string) {
	f.Map(column, func(v string) string { return c.Prices[v] })
}

// UnitMeasureToAmountType folds the unit-of-measure dimension into the
// amount-type columns, as .Stat had no separate unit concept: rows not in
// USD take their unit code and name as amount type. The unit columns are
// dropped and duplicate rows removed.
func UnitMeasureToAmountType(f *frame.Frame) *frame.Frame {
	unitCode, unitName := f.ColumnIndex("unit_measure_code"), f.ColumnIndex("unit_measure_name")
	amtCode, amtName := f.ColumnIndex("amounttype_code"), f.ColumnIndex("amount_type")
	if unitCode < 0 || amtCode < 0 {
		return f
	}

	var keep []string
	for _, col := range f.Columns {
		if col != "unit_measure_code" && col != "unit_measure_name" {
			keep = append(keep, col)
		}
	}

	var usd, other [][]string
	for _, row := range f.Rows {
		if row[unitCode] == "USD" {
			usd = append(usd, row)
			continue
		}
		r := slices.Clone(row)
		r[amtCode] = row[unitCode]
		if amtName >= 0 && unitName >= 0 {
			r[amtName] = row[unitName]
		}
		other = append(other, r)
	}

	tmp := &frame.Frame{Columns: f.Columns, Rows: append(usd, other...)}
	out := tmp.Select(keep...)

	seen := make(map[string]struct{}, len(out.Rows))
	rows := out.Rows[:0]
	for _, r := range out.Rows {
		k := strings.Join(r, "\x1f")
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		rows = append(rows, r)
	}
	out.Rows = rows
	return out
}
