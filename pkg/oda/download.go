package oda

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/Sternrassler/oda-reader/pkg/frame"
	"github.com/Sternrassler/oda-reader/pkg/framecache"
	"github.com/Sternrassler/oda-reader/pkg/logging"
)

// ErrInvalidRequest is returned for contradictory request options.
var ErrInvalidRequest = errors.New("invalid request")

// Request describes one dataset download.
type Request struct {
	Dataset Dataset

	// StartYear and EndYear bound TIME_PERIOD; zero is open.
	StartYear int
	EndYear   int

	Filters Filters

	// Microdata selects project-level CRS rows instead of totals.
	Microdata bool

	// PreProcess renames and types the raw API columns.
	PreProcess bool

	// DotstatCodes converts API codes to .Stat codes. Requires PreProcess.
	DotstatCodes bool

	// DataflowVersion overrides the registry default.
	DataflowVersion string
}

// NewRequest returns a request for ds with the default processing: columns
// preprocessed, codes converted and CRS microdata selected.
func NewRequest(ds Dataset) Request {
	return Request{
		Dataset:      ds,
		Microdata:    true,
		PreProcess:   true,
		DotstatCodes: true,
	}
}

// URL returns the data URL req resolves to.
func (r *Reader) URL(req Request) (string, error) {
	def, err := lookup(req.Dataset)
	if err != nil {
		return "", err
	}
	if err := def.validate(req.Filters); err != nil {
		return "", err
	}
	_, url := r.buildURL(def, req)
	return url, nil
}

func (r *Reader) buildURL(def datasetDef, req Request) (version, url string) {
	version = req.DataflowVersion
	if version == "" {
		version = def.defaultVersion
	}
	b := r.endpoints.Query.New(def.dataflowID, version, r.api).WithLogger(r.logger)
	if len(req.Filters) > 0 || req.Dataset == CRS {
		b.Filter(def.render(b, req.Filters, req.Microdata))
	}
	return version, b.TimePeriod(req.StartYear, req.EndYear).Build()
}

// Download retrieves req as a frame. Identical requests are answered from the
// DataFrame cache; misses go through the HTTP cache and the resilient fetcher.
func (r *Reader) Download(ctx context.Context, req Request) (*frame.Frame, error) {
	ctx, span := r.tracer.Start(ctx, "oda.Download", trace.WithAttributes(
		attribute.String("dataset", string(req.Dataset)),
	))
	defer span.End()
	ctx = logging.WithContext(ctx, r.clientLog.With().Str("dataset", string(req.Dataset)).Logger())

	f, err := r.download(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("rows", f.Len()))
	return f, nil
}

func (r *Reader) download(ctx context.Context, req Request) (*frame.Frame, error) {
	if !req.PreProcess && req.DotstatCodes {
		return nil, fmt.Errorf("%w: cannot convert to dotstat codes without preprocessing", ErrInvalidRequest)
	}
	def, err := lookup(req.Dataset)
	if err != nil {
		return nil, err
	}
	if err := def.validate(req.Filters); err != nil {
		return nil, err
	}
	tr, err := r.translator(req.Dataset, def)
	if err != nil {
		return nil, err
	}

	r.firstUse(ctx)

	version, url := r.buildURL(def, req)
	params := framecache.Params{
		DataflowID:      def.dataflowID,
		DataflowVersion: version,
		URL:             url,
		PreProcess:      req.PreProcess,
		DotstatCodes:    req.DotstatCodes,
	}

	return r.frames.GetOrLoad(ctx, params, func(ctx context.Context) (*frame.Frame, error) {
		resp, err := r.client.Fetch(ctx, url)
		if err != nil {
			return nil, err
		}
		f, err := frame.ParseCSV(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("parse %s response: %w", req.Dataset, err)
		}
		if req.PreProcess {
			if f, err = tr.Preprocess(f); err != nil {
				return nil, fmt.Errorf("preprocess %s: %w", req.Dataset, err)
			}
			if req.DotstatCodes {
				if f, err = tr.ConvertCodes(f); err != nil {
					return nil, fmt.Errorf("convert %s codes: %w", req.Dataset, err)
				}
			}
		}
		r.logger.Info().
			Str("dataset", string(req.Dataset)).
			Int("rows", f.Len()).
			Int("attempts", resp.Attempts).
			Msg("Downloaded dataset")
		return f, nil
	})
}

// firstUse announces caching once and runs the lazy size/age sweep.
func (r *Reader) firstUse(ctx context.Context) {
	r.announce.Do(func() {
		if r.http.Enabled() || r.frames.Enabled() {
			r.logger.Info().Str("cache_dir", r.dirs.Root()).Msg("Caching is enabled")
		}
	})
	r.sweep.Do(func() {
		if _, err := r.sweeper.Sweep(ctx); err != nil {
			r.logger.Warn().Err(err).Msg("Cache limit enforcement failed")
		}
	})
}
