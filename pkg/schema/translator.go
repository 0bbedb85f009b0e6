package schema

import (
	"fmt"
	"io/fs"

	"github.com/Sternrassler/oda-reader/pkg/frame"
)

// Translator turns a raw API frame into the .Stat layout.
type Translator interface {
	Preprocess(f *frame.Frame) (*frame.Frame, error)
	ConvertCodes(f *frame.Frame) (*frame.Frame, error)
}

// Dataset translation profiles.
const (
	DAC1        = "dac1"
	DAC2A       = "dac2a"
	CRS         = "crs"
	Multisystem = "multisystem"
)

// Table is the Translator for one dataset.
type Table struct {
	Translation Translation
	Codes       CodeMap

	// AreaColumns are mapped to .Stat area codes.
	AreaColumns []string

	// PriceColumn is mapped to .Stat amount-type codes.
	PriceColumn string

	// FoldUnits applies UnitMeasureToAmountType before price mapping.
	FoldUnits bool
}

// Preprocess implements Translator.
func (t *Table) Preprocess(f *frame.Frame) (*frame.Frame, error) {
	return t.Translation.Preprocess(f)
}

// ConvertCodes implements Translator. f is modified in place when possible.
func (t *Table) ConvertCodes(f *frame.Frame) (*frame.Frame, error) {
	t.Codes.MapAreas(f, t.AreaColumns...)
	if t.FoldUnits {
		f = UnitMeasureToAmountType(f)
	}
	if t.PriceColumn != "" {
		t.Codes.MapPrices(f, t.PriceColumn)
	}
	return f, nil
}

// Load builds the Translator for dataset from fsys. Use Defaults() for the
// embedded files.
func Load(fsys fs.FS, dataset string) (*Table, error) {
	tr, err := ReadTranslation(fsys, dataset)
	if err != nil {
		return nil, err
	}
	codes, err := ReadCodeMap(fsys)
	if err != nil {
		return nil, fmt.Errorf("load %s codes: %w", dataset, err)
	}

	t := &Table{Translation: tr, Codes: codes}
	switch dataset {
	case DAC1:
		t.AreaColumns = []string{"donor_code"}
		t.PriceColumn = "amounttype_code"
		t.FoldUnits = true
	default:
		t.AreaColumns = []string{"donor_code", "recipient_code"}
		t.PriceColumn = "data_type_code"
	}
	return t, nil
}
