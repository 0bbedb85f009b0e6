package client

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
)

// versionPattern matches the dataflow version embedded in SDMX data URLs,
// e.g. ",1.6/" in ".../OECD.DCD.FSD,DSD_DAC1@DF_DAC1,1.6/...".
var versionPattern = regexp.MustCompile(`,(\d+\.\d+)/`)

// Version is a dataflow version held as integer tenths so that stepping
// down never accumulates floating-point error.
type Version int

// ParseVersion parses "1.6" or "1" into a Version.
func ParseVersion(s string) (Version, error) {
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse dataflow version %q: %w", s, err)
	}
	if f < 0 {
		return 0, fmt.Errorf("parse dataflow version %q: negative", s)
	}
	return Version(math.Round(f * 10)), nil
}

// MustVersion is ParseVersion for constants.
func MustVersion(s string) Version {
	v, err := ParseVersion(s)
	if err != nil {
		panic(err)
	}
	return v
}

// String renders the version as "major.minor" ("1.0" stays "1.0"). This is
// the form used inside data URLs, where it must stay matchable.
func (v Version) String() string {
	return fmt.Sprintf("%d.%d", int(v)/10, int(v)%10)
}

// FlowString renders the version for dataflow-structure URLs: exactly 1.0 is
// written as "1", which is the form that endpoint accepts.
func (v Version) FlowString() string {
	if v == 10 {
		return "1"
	}
	return v.String()
}

// Prev returns the version one step (0.1) lower. ok is false when no
// positive version remains.
func (v Version) Prev() (Version, bool) {
	if v <= 1 {
		return 0, false
	}
	return v - 1, true
}

// ExtractVersion returns the dataflow version embedded in url.
func ExtractVersion(url string) (Version, bool) {
	m := versionPattern.FindStringSubmatch(url)
	if m == nil {
		return 0, false
	}
	v, err := ParseVersion(m[1])
	if err != nil {
		return 0, false
	}
	return v, true
}

// ReplaceVersion rewrites the dataflow version token of url. URLs without a
// token are returned unchanged.
func ReplaceVersion(url string, v Version) string {
	return versionPattern.ReplaceAllString(url, ","+v.String()+"/")
}
