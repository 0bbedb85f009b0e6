package query

import "strings"

// DAC1Filter selects {donor}.{measure}.{untied}.{flow_type}.{unit_measure}.{price_base}.{period}.
type DAC1Filter struct {
	Donor       []string
	Measure     []string
	FlowType    []string
	UnitMeasure []string
	PriceBase   []string
}

// DAC1 renders f.
func (b *Builder) DAC1(f DAC1Filter) string {
	return strings.Join([]string{
		b.dim(f.Donor),
		b.dim(f.Measure),
		b.dim(nil),
		b.dim(f.FlowType),
		b.dim(f.UnitMeasure),
		b.dim(f.PriceBase),
		b.dim(nil),
	}, ".")
}

// DAC2AFilter selects {donor}.{recipient}.{measure}.{unit_measure}.{price_base}.
type DAC2AFilter struct {
	Donor       []string
	Recipient   []string
	Measure     []string
	UnitMeasure []string
	PriceBase   []string
}

// DAC2A renders f.
func (b *Builder) DAC2A(f DAC2AFilter) string {
	return strings.Join([]string{
		b.dim(f.Donor),
		b.dim(f.Recipient),
		b.dim(f.Measure),
		b.dim(f.UnitMeasure),
		b.dim(f.PriceBase),
	}, ".")
}

// CRSFilter selects {donor}.{recipient}.{sector}.{measure}.{channel}.{modality}.
// {flow_type}.{price_base}.{md_dim}.{md_id}.{unit_measure}. Microdata picks
// the project-level "DD" breakdown instead of the "_T" totals.
type CRSFilter struct {
	Donor       []string
	Recipient   []string
	Sector      []string
	Measure     []string
	Channel     []string
	Modality    []string
	FlowType    []string
	PriceBase   []string
	UnitMeasure []string
	Microdata   bool
}

// CRS renders f.
func (b *Builder) CRS(f CRSFilter) string {
	md := "_T"
	if f.Microdata {
		md = "DD"
	}
	return strings.Join([]string{
		b.dim(f.Donor),
		b.dim(f.Recipient),
		b.dim(f.Sector),
		b.dim(f.Measure),
		b.dim(f.Channel),
		b.dim(f.Modality),
		b.dim(f.FlowType),
		b.dim(f.PriceBase),
		md,
		b.dim(nil),
		b.dim(f.UnitMeasure),
	}, ".")
}

// MultisystemFilter selects {donor}.{recipient}.{sector}.{measure}.{channel}.
// {flow_type}.{price_base}.{md_dim}.{md_id}.{unit_measure}.
type MultisystemFilter struct {
	Donor     []string
	Recipient []string
	Sector    []string
	Measure   []string
	Channel   []string
	FlowType  []string
	PriceBase []string
}

// Multisystem renders f.
func (b *Builder) Multisystem(f MultisystemFilter) string {
	return strings.Join([]string{
		b.dim(f.Donor),
		b.dim(f.Recipient),
		b.dim(f.Sector),
		b.dim(f.Measure),
		b.dim(f.Channel),
		b.dim(f.FlowType),
		b.dim(f.PriceBase),
		"_T",
		b.dim(nil),
		b.dim(nil),
	}, ".")
}
