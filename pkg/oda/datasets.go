package oda

import (
	"errors"
	"fmt"
	"slices"
	"sort"

	"github.com/Sternrassler/oda-reader/pkg/query"
	"github.com/Sternrassler/oda-reader/pkg/schema"
)

// Dataset identifies an SDMX dataflow served through Download.
type Dataset string

const (
	DAC1        Dataset = "dac1"
	DAC2A       Dataset = "dac2a"
	CRS         Dataset = "crs"
	Multisystem Dataset = "multisystem"
)

var (
	// ErrUnknownDataset is returned for a Dataset not in the registry.
	ErrUnknownDataset = errors.New("unknown dataset")

	// ErrUnknownFilter is returned for a filter key the dataset does not have.
	ErrUnknownFilter = errors.New("unknown filter")
)

// Filters maps a filter name to the codes to keep. A missing or empty entry
// selects all values of that dimension.
type Filters map[string][]string

// filterFunc renders Filters into the SDMX key for one dataset.
type filterFunc func(b *query.Builder, f Filters, microdata bool) string

type datasetDef struct {
	dataflowID     string
	defaultVersion string
	schema         string
	filters        []string
	render         filterFunc
}

var registry = map[Dataset]datasetDef{
	DAC1: {
		dataflowID:     "DSD_DAC1@DF_DAC1",
		defaultVersion: "1.6",
		schema:         schema.DAC1,
		filters:        []string{"donor", "measure", "flow_type", "unit_measure", "price_base"},
		render: func(b *query.Builder, f Filters, _ bool) string {
			return b.DAC1(query.DAC1Filter{
				Donor:       f["donor"],
				Measure:     f["measure"],
				FlowType:    f["flow_type"],
				UnitMeasure: f["unit_measure"],
				PriceBase:   f["price_base"],
			})
		},
	},
	DAC2A: {
		dataflowID:     "DSD_DAC2@DF_DAC2A",
		defaultVersion: "1.4",
		schema:         schema.DAC2A,
		filters:        []string{"donor", "recipient", "measure", "unit_measure", "price_base"},
		render: func(b *query.Builder, f Filters, _ bool) string {
			return b.DAC2A(query.DAC2AFilter{
				Donor:       f["donor"],
				Recipient:   f["recipient"],
				Measure:     f["measure"],
				UnitMeasure: f["unit_measure"],
				PriceBase:   f["price_base"],
			})
		},
	},
	CRS: {
		dataflowID:     "DSD_CRS@DF_CRS",
		defaultVersion: "1.4",
		schema:         schema.CRS,
		filters: []string{"donor", "recipient", "sector", "measure", "channel",
			"modality", "flow_type", "price_base", "unit_measure"},
		render: func(b *query.Builder, f Filters, microdata bool) string {
			return b.CRS(query.CRSFilter{
				Donor:       f["donor"],
				Recipient:   f["recipient"],
				Sector:      f["sector"],
				Measure:     f["measure"],
				Channel:     f["channel"],
				Modality:    f["modality"],
				FlowType:    f["flow_type"],
				PriceBase:   f["price_base"],
				UnitMeasure: f["unit_measure"],
				Microdata:   microdata,
			})
		},
	},
	Multisystem: {
		dataflowID:     "DSD_MULTI@DF_MULTI",
		defaultVersion: "1.3",
		schema:         schema.Multisystem,
		filters: []string{"donor", "recipient", "sector", "measure", "channel",
			"flow_type", "price_base"},
		render: func(b *query.Builder, f Filters, _ bool) string {
			return b.Multisystem(query.MultisystemFilter{
				Donor:     f["donor"],
				Recipient: f["recipient"],
				Sector:    f["sector"],
				Measure:   f["measure"],
				Channel:   f["channel"],
				FlowType:  f["flow_type"],
				PriceBase: f["price_base"],
			})
		},
	},
}

func lookup(ds Dataset) (datasetDef, error) {
	def, ok := registry[ds]
	if !ok {
		return datasetDef{}, fmt.Errorf("%w: %q", ErrUnknownDataset, ds)
	}
	return def, nil
}

// Datasets lists the registered datasets in name order.
func Datasets() []Dataset {
	out := make([]Dataset, 0, len(registry))
	for ds := range registry {
		out = append(out, ds)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ParseDataset resolves a dataset name.
func ParseDataset(name string) (Dataset, error) {
	ds := Dataset(name)
	if _, err := lookup(ds); err != nil {
		return "", err
	}
	return ds, nil
}

// DataflowID returns the SDMX dataflow identifier of ds.
func DataflowID(ds Dataset) (string, error) {
	def, err := lookup(ds)
	if err != nil {
		return "", err
	}
	return def.dataflowID, nil
}

// DefaultVersion returns the dataflow version requested when none is given.
func DefaultVersion(ds Dataset) (string, error) {
	def, err := lookup(ds)
	if err != nil {
		return "", err
	}
	return def.defaultVersion, nil
}

// AvailableFilters returns the filter names accepted for ds, in key order.
func AvailableFilters(ds Dataset) ([]string, error) {
	def, err := lookup(ds)
	if err != nil {
		return nil, err
	}
	return slices.Clone(def.filters), nil
}

func (s datasetDef) validate(f Filters) error {
	for name := range f {
		if !slices.Contains(s.filters, name) {
			return fmt.Errorf("%w %q for %s (available: %v)", ErrUnknownFilter, name, s.dataflowID, s.filters)
		}
	}
	return nil
}
