package bulkcache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/Sternrassler/oda-reader/pkg/metrics"
)

// TimeFormat is the layout of Record.DownloadedAt.
const TimeFormat = "2006-01-02T15:04:05-0700"

// Record is one manifest entry. The manifest is the index; the file it names
// is the data. Either may exist without the other.
type Record struct {
	Filename     string  `json:"filename"`
	DownloadedAt string  `json:"downloaded_at"`
	TTLDays      int     `json:"ttl_days"`
	Version      *string `json:"version"`
}

// downloadedAt parses DownloadedAt. An unparsable timestamp reports ok=false
// and the record is treated as stale.
func (r Record) downloadedAt() (time.Time, bool) {
	t, err := time.Parse(TimeFormat, r.DownloadedAt)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

type manifest map[string]Record

// loadManifest reads the manifest. A missing file is an empty manifest; a
// corrupt one is logged and also treated as empty.
func (m *Manager) loadManifest() manifest {
	data, err := os.ReadFile(m.manifestPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			m.logger.Warn().Err(err).Msg("Failed to read manifest, starting fresh")
		}
		return manifest{}
	}
	var out manifest
	if err := json.Unmarshal(data, &out); err != nil {
		m.metrics.CacheError(metrics.TierBulk, "manifest")
		m.logger.Warn().Err(err).Msg("Failed to parse manifest, starting fresh")
		return manifest{}
	}
	if out == nil {
		out = manifest{}
	}
	return out
}

// saveManifest writes the manifest through a temp file and rename.
func (m *Manager) saveManifest(man manifest) error {
	data, err := json.MarshalIndent(man, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	tmp := m.manifestPath + ".tmp-" + strconv.Itoa(os.Getpid())
	defer os.Remove(tmp)

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write manifest: %w", err)
	}
	if err := os.Rename(tmp, m.manifestPath); err != nil {
		return fmt.Errorf("replace manifest: %w", err)
	}
	return nil
}
