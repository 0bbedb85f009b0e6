// Package schema translates SDMX API tables into the legacy .Stat layout.
//
// A Translation lists, per API column, the .Stat column name, its type and
// whether it is kept. A CodeMap converts the new alphanumeric area and price
// codes back to the numeric .Stat codes.
package schema

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/Sternrassler/oda-reader/pkg/frame"
)

//go:embed data/*.json
var defaults embed.FS

// Defaults returns the embedded translation files.
func Defaults() fs.FS {
	sub, err := fs.Sub(defaults, "data")
	if err != nil {
		panic(err)
	}
	return sub
}

// ErrUnknownDataset is returned when no translation exists for a dataset.
var ErrUnknownDataset = errors.New("schema: unknown dataset")

// Column describes one API column.
type Column struct {
	Name string `json:"name"`
	Type string `json:"type"`
	Keep bool   `json:"keep"`
}

// Translation maps API column names to their .Stat description.
type Translation map[string]Column

// ReadTranslation loads {dataset}_dotstat.json from fsys.
func ReadTranslation(fsys fs.FS, dataset string) (Translation, error) {
	data, err := fs.ReadFile(fsys, dataset+"_dotstat.json")
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrUnknownDataset, dataset)
		}
		return nil, fmt.Errorf("read %s translation: %w", dataset, err)
	}
	var t Translation
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("parse %s translation: %w", dataset, err)
	}
	return t, nil
}

// Preprocess keeps the columns marked Keep, renames them and coerces numeric
// columns. Values that do not parse as their declared type become null.
func (t Translation) Preprocess(f *frame.Frame) (*frame.Frame, error) {
	var keep []string
	rename := make(map[string]string)
	for _, c := range f.Columns {
		col, ok := t[c]
		if !ok || !col.Keep {
			continue
		}
		keep = append(keep, c)
		rename[c] = col.Name
	}

	out := f.Select(keep...)
	for _, c := range keep {
		switch t[c].Type {
		case "int":
			out.Map(c, coerceInt)
		case "float":
			out.Map(c, coerceFloat)
		}
	}
	out.Rename(rename)
	if err := out.Validate(); err != nil {
		return nil, fmt.Errorf("preprocess: %w", err)
	}
	return out, nil
}

func coerceInt(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if _, err := strconv.ParseInt(v, 10, 64); err == nil {
		return v
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil && f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return ""
}

func coerceFloat(v string) string {
	v = strings.TrimSpace(v)
	if _, err := strconv.ParseFloat(v, 64); err != nil {
		return ""
	}
	return v
}
