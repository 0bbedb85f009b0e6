package oda

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Sternrassler/oda-reader/pkg/archive"
	"github.com/Sternrassler/oda-reader/pkg/bulkcache"
	"github.com/Sternrassler/oda-reader/pkg/client"
	"github.com/Sternrassler/oda-reader/pkg/frame"
	"github.com/Sternrassler/oda-reader/pkg/logging"
)

// ErrBulkFileNotFound is returned when no dataflow version links the file.
var ErrBulkFileNotFound = errors.New("bulk file link not found")

// BulkFile names a bulk download.
type BulkFile string

const (
	BulkCRS         BulkFile = "crs"
	BulkCRSReduced  BulkFile = "crs_reduced"
	BulkMultisystem BulkFile = "multisystem"
	BulkAidData     BulkFile = "aiddata"
)

// Dataflow structure flows and the version their pages are probed from.
const (
	crsFlow       = "DSD_CRS@DF_CRS/"
	multiFlow     = "DSD_MULTI@DF_MULTI/"
	latestFlowVer = "1.6"

	aidDataSheet   = "GCDF_3.0"
	aidDataVersion = "3.0"
)

type bulkDef struct {
	flow   string
	search string
}

var bulkFiles = map[BulkFile]bulkDef{
	BulkCRS:         {flow: crsFlow, search: "CRS-Parquet|"},
	BulkCRSReduced:  {flow: crsFlow, search: "CRS-reduced-parquet|"},
	BulkMultisystem: {flow: multiFlow, search: "Entire dataset (dotStat format)|"},
	BulkAidData:     {},
}

// BulkFiles lists the available bulk downloads.
func BulkFiles() []BulkFile {
	return []BulkFile{BulkCRS, BulkCRSReduced, BulkMultisystem, BulkAidData}
}

// ParseBulkFile resolves a bulk file name.
func ParseBulkFile(name string) (BulkFile, error) {
	bf := BulkFile(name)
	if _, ok := bulkFiles[bf]; !ok {
		return "", fmt.Errorf("unknown bulk file %q", name)
	}
	return bf, nil
}

// BulkFileID finds the file id linked after search on the dataflow
// structure page of flow, stepping the version down from latest by 0.1 when
// the page is missing or carries no link.
func (r *Reader) BulkFileID(ctx context.Context, flow, search string) (string, error) {
	version := client.MustVersion(latestFlowVer)
	pattern := regexp.MustCompile(regexp.QuoteMeta(search) + "(.*?)</")

	for retries := 0; retries <= client.DefaultMaxVersionRetries; retries++ {
		url := r.endpoints.Dataflow + flow + version.FlowString()
		resp, err := r.client.Get(ctx, url)
		if err != nil {
			return "", err
		}

		if resp.StatusCode <= 299 {
			if m := pattern.FindSubmatch(resp.Body); m != nil {
				link := strings.TrimSpace(string(m[1]))
				parts := strings.Split(link, "=")
				return parts[len(parts)-1], nil
			}
		}

		prev, ok := version.Prev()
		if !ok {
			break
		}
		r.logger.Info().
			Str("from", version.String()).
			Str("to", prev.String()).
			Str("search", search).
			Msg("Bulk file link not found, trying previous dataflow version")
		version = prev
	}
	return "", fmt.Errorf("%w: %q on %s", ErrBulkFileNotFound, search, flow)
}

// CRSYearFileID returns the id of the yearly CRS .Stat archive.
func (r *Reader) CRSYearFileID(ctx context.Context, year int) (string, error) {
	return r.BulkFileID(ctx, crsFlow, "CRS "+strconv.Itoa(year)+" (dotStat format)|")
}

// BulkOptions controls BulkDownload.
type BulkOptions struct {
	// SaveTo extracts the data files as parquet into this directory instead
	// of returning a frame.
	SaveTo string

	// Refresh forces a new download even when the cached archive is fresh.
	Refresh bool
}

// BulkResult holds either the loaded frame or the extracted files.
type BulkResult struct {
	Frame *frame.Frame
	Paths []string

	// Archive is the cached archive the result was read from.
	Archive string
}

// BulkDownload fetches a bulk archive through the bulk file cache and returns
// its contents.
func (r *Reader) BulkDownload(ctx context.Context, bf BulkFile, opts BulkOptions) (*BulkResult, error) {
	def, ok := bulkFiles[bf]
	if !ok {
		return nil, fmt.Errorf("unknown bulk file %q", bf)
	}
	ctx = logging.WithContext(ctx, r.clientLog.With().Str("bulk_file", string(bf)).Logger())

	entry, err := r.bulkEntry(ctx, bf, def)
	if err != nil {
		return nil, err
	}
	path, err := r.bulk.Ensure(ctx, entry, opts.Refresh)
	if err != nil {
		return nil, err
	}

	a, err := archive.Open(path, r.logger)
	if err != nil {
		return nil, err
	}
	defer a.Close()

	res := &BulkResult{Archive: path}
	if bf == BulkAidData {
		if opts.SaveTo != "" {
			out, err := a.ExcelToParquet(aidDataSheet, opts.SaveTo)
			if err != nil {
				return nil, err
			}
			res.Paths = []string{out}
			return res, nil
		}
		f, _, err := a.Excel(aidDataSheet)
		if err != nil {
			return nil, err
		}
		res.Frame = f.DropEmptyColumns()
		return res, nil
	}

	if opts.SaveTo != "" {
		res.Paths, err = a.Extract(opts.SaveTo)
		if err != nil {
			return nil, err
		}
		r.logger.Info().Str("dir", opts.SaveTo).Int("files", len(res.Paths)).Msg("Bulk files extracted")
		return res, nil
	}
	frames, err := a.Frames()
	if err != nil {
		return nil, err
	}
	res.Frame = frame.Concat(frames...)
	return res, nil
}

// bulkEntry describes bf to the bulk cache. For OECD files the upstream file
// id is the entry version, so a newly published file invalidates the cache.
func (r *Reader) bulkEntry(ctx context.Context, bf BulkFile, def bulkDef) (bulkcache.Entry, error) {
	entry := bulkcache.Entry{
		Key:      string(bf),
		Filename: string(bf) + ".zip",
		TTLDays:  bulkcache.DefaultTTLDays,
	}

	url := r.endpoints.AidData
	version := aidDataVersion
	if bf != BulkAidData {
		id, err := r.BulkFileID(ctx, def.flow, def.search)
		if err != nil {
			return bulkcache.Entry{}, err
		}
		url = r.endpoints.BulkDownload + id
		version = id
	}
	entry.Version = version
	entry.Fetch = func(ctx context.Context, dst string) error {
		return r.client.StreamToFile(ctx, url, dst)
	}
	return entry, nil
}
