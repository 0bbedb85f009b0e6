package query

import "testing"

func TestBuild(t *testing.T) {
	tests := []struct {
		name string
		b    *Builder
		want string
	}{
		{
			name: "dac1 v1 defaults",
			b:    New("DSD_DAC1@DF_DAC1", "1.6", V1),
			want: "https://sdmx.oecd.org/public/rest/data/OECD.DCD.FSD,DSD_DAC1@DF_DAC1,1.6/all?format=csvfilewithlabels",
		},
		{
			name: "v1 time period",
			b:    New("DSD_DAC2@DF_DAC2A", "1.4", V1).TimePeriod(2018, 2022),
			want: "https://sdmx.oecd.org/public/rest/data/OECD.DCD.FSD,DSD_DAC2@DF_DAC2A,1.4/all?format=csvfilewithlabels&startPeriod=2018&endPeriod=2022",
		},
		{
			name: "crs routed to dcd-public",
			b:    New("DSD_CRS@DF_CRS", "1.4", V1),
			want: "https://sdmx.oecd.org/dcd-public/rest/data/OECD.DCD.FSD,DSD_CRS@DF_CRS,1.4/all?format=csvfilewithlabels",
		},
		{
			name: "multisystem routed to dcd-public",
			b:    New("DSD_MULTI@DF_MULTI", "1.3", V1),
			want: "https://sdmx.oecd.org/dcd-public/rest/data/OECD.DCD.FSD,DSD_MULTI@DF_MULTI,1.3/all?format=csvfilewithlabels",
		},
		{
			name: "custom bases",
			b:    Bases{V1: "http://mock/public/rest/data/", DCD: "http://mock/dcd-public/rest/data/"}.New("DSD_CRS@DF_CRS", "1.4", V1),
			want: "http://mock/dcd-public/rest/data/OECD.DCD.FSD,DSD_CRS@DF_CRS,1.4/all?format=csvfilewithlabels",
		},
		{
			name: "v2 latest version",
			b:    New("DSD_DAC1@DF_DAC1", "", V2).TimePeriod(2020, 0),
			want: "https://sdmx.oecd.org/public/rest/v2/data/dataflow/OECD.DCD.FSD/DSD_DAC1@DF_DAC1/+/*?format=csvfilewithlabels&c[TIME_PERIOD]=ge:2020",
		},
		{
			name: "v2 open start",
			b:    New("DSD_DAC1@DF_DAC1", "1.6", V2).TimePeriod(0, 2022),
			want: "https://sdmx.oecd.org/public/rest/v2/data/dataflow/OECD.DCD.FSD/DSD_DAC1@DF_DAC1/1.6/*?format=csvfilewithlabels&c[TIME_PERIOD]=ge:1950+le:2022",
		},
		{
			name: "v2 closed range",
			b:    New("DSD_DAC1@DF_DAC1", "1.6", V2).TimePeriod(2020, 2022),
			want: "https://sdmx.oecd.org/public/rest/v2/data/dataflow/OECD.DCD.FSD/DSD_DAC1@DF_DAC1/1.6/*?format=csvfilewithlabels&c[TIME_PERIOD]=ge:2020+le:2022",
		},
		{
			name: "format replaced in place and last n",
			b:    New("DSD_DAC1@DF_DAC1", "1.6", V1).LastNObservations(3).Format("csv"),
			want: "https://sdmx.oecd.org/public/rest/data/OECD.DCD.FSD,DSD_DAC1@DF_DAC1,1.6/all?format=csv&lastNObservations=3",
		},
		{
			name: "custom filter",
			b:    New("DSD_DAC1@DF_DAC1", "1.6", V1).Filter("4+12......"),
			want: "https://sdmx.oecd.org/public/rest/data/OECD.DCD.FSD,DSD_DAC1@DF_DAC1,1.6/4+12......?format=csvfilewithlabels",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.b.Build(); got != tt.want {
				t.Errorf("Build() =\n  %s\nwant\n  %s", got, tt.want)
			}
		})
	}
}

func TestFilters_V1(t *testing.T) {
	b := New("DSD_DAC1@DF_DAC1", "1.6", V1)

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"dac1 empty", b.DAC1(DAC1Filter{}), "......"},
		{"dac1", b.DAC1(DAC1Filter{Donor: []string{"USA", "FRA"}, Measure: []string{"1010"}}), "USA+FRA.1010....."},
		{"dac2a", b.DAC2A(DAC2AFilter{Recipient: []string{"NGA"}, PriceBase: []string{"V"}}), ".NGA...V"},
		{"crs microdata", b.CRS(CRSFilter{Donor: []string{"GBR"}, Microdata: true}), "GBR........DD.."},
		{"crs totals", b.CRS(CRSFilter{Sector: []string{"110"}}), "..110......_T.."},
		{"multisystem", b.Multisystem(MultisystemFilter{Channel: []string{"44000"}}), "....44000..._T.."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("filter = %q, want %q", tt.got, tt.want)
			}
		})
	}
}

func TestFilters_V2(t *testing.T) {
	b := New("DSD_DAC1@DF_DAC1", "1.6", V2)

	if got, want := b.DAC1(DAC1Filter{Donor: []string{"USA"}}), "USA.*.*.*.*.*.*"; got != want {
		t.Errorf("DAC1() = %q, want %q", got, want)
	}
	// v2 cannot filter on several values of one dimension.
	if got, want := b.DAC2A(DAC2AFilter{Donor: []string{"USA", "FRA"}}), "*.*.*.*.*"; got != want {
		t.Errorf("DAC2A() = %q, want %q", got, want)
	}
}
