package framecache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
)

// DefaultVersion is the version sentinel used when a query does not pin a
// dataflow version.
const DefaultVersion = "default"

// ErrReservedParam is returned when an Extra name collides with a fixed
// key field.
var ErrReservedParam = errors.New("reserved cache key parameter")

var reserved = []string{"dataflow_id", "dataflow_version", "url", "pre_process", "dotstat_codes"}

// Params holds every parameter that affects a processed frame.
type Params struct {
	DataflowID      string
	DataflowVersion string
	URL             string
	PreProcess      bool
	DotstatCodes    bool

	// Extra carries additional output-affecting parameters. Values must be
	// JSON-encodable and names must not repeat a fixed field.
	Extra map[string]any
}

// Key returns a deterministic 16-character hex fingerprint of p.
func (p Params) Key() (string, error) {
	version := p.DataflowVersion
	if version == "" {
		version = DefaultVersion
	}

	for _, name := range reserved {
		if _, ok := p.Extra[name]; ok {
			return "", fmt.Errorf("%w: %q", ErrReservedParam, name)
		}
	}

	fields := make(map[string]any, len(p.Extra)+len(reserved))
	maps.Copy(fields, p.Extra)
	fields["dataflow_id"] = p.DataflowID
	fields["dataflow_version"] = version
	fields["url"] = p.URL
	fields["pre_process"] = p.PreProcess
	fields["dotstat_codes"] = p.DotstatCodes

	// encoding/json writes map keys sorted.
	canonical, err := json.Marshal(fields)
	if err != nil {
		return "", fmt.Errorf("encode cache key params: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])[:16], nil
}
