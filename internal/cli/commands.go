package cli

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Sternrassler/oda-reader/pkg/cachedir"
	"github.com/Sternrassler/oda-reader/pkg/frame"
	"github.com/Sternrassler/oda-reader/pkg/maintenance"
	"github.com/Sternrassler/oda-reader/pkg/oda"
	"github.com/Sternrassler/oda-reader/pkg/prefetch"
)

func init() {
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(bulkCmd)
	rootCmd.AddCommand(filtersCmd)
	rootCmd.AddCommand(warmCmd)
	rootCmd.AddCommand(cacheCmd)

	cacheCmd.AddCommand(cacheInfoCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	cacheCmd.AddCommand(cachePruneCmd)
	cacheCmd.AddCommand(cacheRecordsCmd)

	// Download command flags
	downloadCmd.Flags().Int("start", 0, "First year (inclusive)")
	downloadCmd.Flags().Int("end", 0, "Last year (inclusive)")
	downloadCmd.Flags().StringArrayP("filter", "f", nil, "Filter as name=code[,code...] (repeatable)")
	downloadCmd.Flags().String("dataflow-version", "", "Dataflow version (default: registry version)")
	downloadCmd.Flags().Bool("raw", false, "Skip preprocessing and code conversion")
	downloadCmd.Flags().Bool("api-codes", false, "Keep API codes instead of .Stat codes")
	downloadCmd.Flags().Bool("aggregates", false, "CRS: return totals instead of microdata")
	downloadCmd.Flags().StringP("output", "o", "", "Output file (.csv or .parquet; default CSV on stdout)")

	// Bulk command flags
	bulkCmd.Flags().String("save-to", "", "Extract the data files as parquet into this directory")
	bulkCmd.Flags().Bool("refresh", false, "Download again even if the cached file is fresh")
	bulkCmd.Flags().StringP("output", "o", "", "Output file when not extracting (.csv or .parquet)")

	// Warm command flags
	warmCmd.Flags().Int("start", 0, "First year")
	warmCmd.Flags().Int("end", 0, "Last year")
	warmCmd.Flags().Bool("per-year", false, "Issue one request per year")
	warmCmd.Flags().IntP("parallel", "p", prefetch.DefaultConfig().MaxConcurrency, "Max downloads in parallel")

	// Cache command flags
	cacheClearCmd.Flags().String("bulk", "", "Only remove this bulk file key (\"all\" for every bulk file)")
	cacheClearCmd.Flags().Bool("hard", false, "Delete the whole cache root without opening it")
	cachePruneCmd.Flags().Duration("max-age", 0, "Remove files older than this (default: enforce configured limits)")
}

// downloadCmd handles dataset downloads
var downloadCmd = &cobra.Command{
	Use:   "download [dataset]",
	Short: "Download a dataset (dac1, dac2a, crs, multisystem)",
	Args:  cobra.ExactArgs(1),
	RunE:  handleDownload,
}

// bulkCmd handles bulk file downloads
var bulkCmd = &cobra.Command{
	Use:   "bulk [file]",
	Short: "Download a bulk file (crs, crs_reduced, multisystem, aiddata)",
	Args:  cobra.ExactArgs(1),
	RunE:  handleBulk,
}

// filtersCmd lists the filters of a dataset
var filtersCmd = &cobra.Command{
	Use:   "filters [dataset]",
	Short: "List the filters a dataset accepts",
	Args:  cobra.ExactArgs(1),
	RunE:  handleFilters,
}

// warmCmd pre-populates the caches
var warmCmd = &cobra.Command{
	Use:   "warm [dataset...]",
	Short: "Download datasets in parallel to warm the caches",
	Args:  cobra.MinimumNArgs(1),
	RunE:  handleWarm,
}

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and maintain the local cache",
}

var cacheInfoCmd = &cobra.Command{
	Use:   "info",
	Short: "Show cache location, size and tier statistics",
	Args:  cobra.NoArgs,
	RunE:  handleCacheInfo,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear the cache",
	Args:  cobra.NoArgs,
	RunE:  handleCacheClear,
}

var cachePruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Remove expired responses and enforce size and age limits",
	Args:  cobra.NoArgs,
	RunE:  handleCachePrune,
}

var cacheRecordsCmd = &cobra.Command{
	Use:   "records",
	Short: "List cached bulk files",
	Args:  cobra.NoArgs,
	RunE:  handleCacheRecords,
}

// parseFilters turns name=a,b flags into Filters.
func parseFilters(values []string) (oda.Filters, error) {
	if len(values) == 0 {
		return nil, nil
	}
	out := make(oda.Filters, len(values))
	for _, v := range values {
		name, codes, ok := strings.Cut(v, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" || codes == "" {
			return nil, fmt.Errorf("invalid filter %q: want name=code[,code...]", v)
		}
		for _, c := range strings.Split(codes, ",") {
			if c = strings.TrimSpace(c); c != "" {
				out[name] = append(out[name], c)
			}
		}
	}
	return out, nil
}

// writeFrame writes f to path by extension, or as CSV to stdout.
func writeFrame(f *frame.Frame, path string, stdout io.Writer) error {
	switch {
	case path == "":
		return frame.WriteCSV(stdout, f)
	case strings.EqualFold(filepath.Ext(path), ".parquet"):
		return frame.WriteParquetFile(path, f)
	default:
		out, err := os.Create(path)
		if err != nil {
			return fmt.Errorf("create %s: %w", path, err)
		}
		if err := frame.WriteCSV(out, f); err != nil {
			out.Close()
			return err
		}
		return out.Close()
	}
}

func handleDownload(cmd *cobra.Command, args []string) error {
	ds, err := oda.ParseDataset(args[0])
	if err != nil {
		return err
	}
	rawFilters, _ := cmd.Flags().GetStringArray("filter")
	filters, err := parseFilters(rawFilters)
	if err != nil {
		return err
	}

	req := oda.NewRequest(ds)
	req.Filters = filters
	req.StartYear, _ = cmd.Flags().GetInt("start")
	req.EndYear, _ = cmd.Flags().GetInt("end")
	req.DataflowVersion, _ = cmd.Flags().GetString("dataflow-version")
	if raw, _ := cmd.Flags().GetBool("raw"); raw {
		req.PreProcess, req.DotstatCodes = false, false
	}
	if apiCodes, _ := cmd.Flags().GetBool("api-codes"); apiCodes {
		req.DotstatCodes = false
	}
	if aggregates, _ := cmd.Flags().GetBool("aggregates"); aggregates {
		req.Microdata = false
	}

	r, logger, closeReader, err := openReader()
	if err != nil {
		return err
	}
	defer closeReader()

	f, err := r.Download(cmd.Context(), req)
	if err != nil {
		return err
	}
	output, _ := cmd.Flags().GetString("output")
	if err := writeFrame(f, output, cmd.OutOrStdout()); err != nil {
		return err
	}
	logger.Info().Str("dataset", string(ds)).Int("rows", f.Len()).Msg("Download complete")
	return nil
}

func handleBulk(cmd *cobra.Command, args []string) error {
	bf, err := oda.ParseBulkFile(args[0])
	if err != nil {
		return err
	}
	saveTo, _ := cmd.Flags().GetString("save-to")
	refresh, _ := cmd.Flags().GetBool("refresh")
	output, _ := cmd.Flags().GetString("output")

	r, _, closeReader, err := openReader()
	if err != nil {
		return err
	}
	defer closeReader()

	res, err := r.BulkDownload(cmd.Context(), bf, oda.BulkOptions{SaveTo: saveTo, Refresh: refresh})
	if err != nil {
		return err
	}
	if saveTo != "" {
		for _, p := range res.Paths {
			fmt.Fprintln(cmd.OutOrStdout(), p)
		}
		return nil
	}
	return writeFrame(res.Frame, output, cmd.OutOrStdout())
}

func handleFilters(cmd *cobra.Command, args []string) error {
	ds, err := oda.ParseDataset(args[0])
	if err != nil {
		return err
	}
	filters, err := oda.AvailableFilters(ds)
	if err != nil {
		return err
	}
	for _, f := range filters {
		fmt.Fprintln(cmd.OutOrStdout(), f)
	}
	return nil
}

// warmRequests expands datasets over [start, end], one request per year when
// perYear is set.
func warmRequests(datasets []oda.Dataset, start, end int, perYear bool) ([]oda.Request, error) {
	if perYear && (start == 0 || end == 0 || end < start) {
		return nil, fmt.Errorf("--per-year needs --start and --end with start <= end")
	}
	var out []oda.Request
	for _, ds := range datasets {
		if !perYear {
			req := oda.NewRequest(ds)
			req.StartYear, req.EndYear = start, end
			out = append(out, req)
			continue
		}
		for y := start; y <= end; y++ {
			req := oda.NewRequest(ds)
			req.StartYear, req.EndYear = y, y
			out = append(out, req)
		}
	}
	return out, nil
}

func handleWarm(cmd *cobra.Command, args []string) error {
	datasets := make([]oda.Dataset, 0, len(args))
	for _, a := range args {
		ds, err := oda.ParseDataset(a)
		if err != nil {
			return err
		}
		datasets = append(datasets, ds)
	}
	start, _ := cmd.Flags().GetInt("start")
	end, _ := cmd.Flags().GetInt("end")
	perYear, _ := cmd.Flags().GetBool("per-year")
	parallel, _ := cmd.Flags().GetInt("parallel")

	reqs, err := warmRequests(datasets, start, end, perYear)
	if err != nil {
		return err
	}

	r, logger, closeReader, err := openReader()
	if err != nil {
		return err
	}
	defer closeReader()

	cfg := prefetch.DefaultConfig()
	cfg.MaxConcurrency = parallel
	results, err := prefetch.NewWarmer(r, cfg, &logger).Warm(cmd.Context(), reqs)

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DATASET\tSTART\tEND\tROWS\tDURATION\tERROR")
	for _, res := range results {
		errText := ""
		if res.Err != nil {
			errText = res.Err.Error()
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%s\t%s\n", res.Request.Dataset, res.Request.StartYear,
			res.Request.EndYear, res.Rows, res.Duration.Round(time.Millisecond), errText)
	}
	w.Flush()
	return err
}

func handleCacheInfo(cmd *cobra.Command, _ []string) error {
	r, _, closeReader, err := openReader()
	if err != nil {
		return err
	}
	defer closeReader()

	info, err := r.CacheInfo(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Cache directory: %s\n", info.Dir)
	fmt.Fprintf(out, "Total size:      %.2f MB\n", info.SizeMB)
	fmt.Fprintf(out, "HTTP cache:      enabled=%t responses=%d redirects=%d\n",
		info.HTTPEnabled, info.HTTP.ResponseCount, info.HTTP.RedirectCount)
	fmt.Fprintf(out, "DataFrames:      enabled=%t entries=%d size=%.2f MB\n",
		info.DataFramesEnabled, info.DataFrames.TotalEntries, info.DataFrames.TotalSizeMB)
	fmt.Fprintf(out, "Bulk files:      entries=%d stale=%d size=%.2f MB\n",
		info.Bulk.TotalEntries, info.Bulk.StaleEntries, info.Bulk.TotalSizeMB)
	return nil
}

func handleCacheClear(cmd *cobra.Command, _ []string) error {
	if hard, _ := cmd.Flags().GetBool("hard"); hard {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		dirs, err := cachedir.Resolve(cfg.Cache.Dir)
		if err != nil {
			return err
		}
		if err := maintenance.ClearAll(dirs.Root()); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Removed %s\n", dirs.Root())
		return nil
	}

	r, _, closeReader, err := openReader()
	if err != nil {
		return err
	}
	defer closeReader()

	switch key, _ := cmd.Flags().GetString("bulk"); key {
	case "":
		return r.ClearCache(cmd.Context())
	case "all":
		return r.ClearBulk(cmd.Context(), "")
	default:
		return r.ClearBulk(cmd.Context(), key)
	}
}

func handleCachePrune(cmd *cobra.Command, _ []string) error {
	r, _, closeReader, err := openReader()
	if err != nil {
		return err
	}
	defer closeReader()

	ctx := cmd.Context()
	out := cmd.OutOrStdout()
	expired, err := r.PruneHTTP(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Expired HTTP responses removed: %d\n", expired)

	if maxAge, _ := cmd.Flags().GetDuration("max-age"); maxAge > 0 {
		n, err := r.ClearOldEntries(ctx, maxAge)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "Files older than %s removed: %d\n", maxAge, n)
		return nil
	}

	report, err := r.EnforceLimits(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Aged out: %d, evicted for size: %d, HTTP responses pruned: %d\n",
		report.AgedOut, report.SizeEvicted, report.Pruned)
	fmt.Fprintf(out, "Remaining: %.2f MB evictable, %.2f MB protected\n",
		report.RemainingMB, report.ProtectedMB)
	return nil
}

func handleCacheRecords(cmd *cobra.Command, _ []string) error {
	r, _, closeReader, err := openReader()
	if err != nil {
		return err
	}
	defer closeReader()

	records, err := r.BulkRecords(cmd.Context())
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "KEY\tFILE\tVERSION\tAGE (DAYS)\tTTL\tSIZE (MB)\tSTALE")
	for _, rec := range records {
		fmt.Fprintf(w, "%s\t%s\t%s\t%.1f\t%d\t%.2f\t%t\n",
			rec.Key, rec.Filename, rec.Version, rec.AgeDays, rec.TTLDays, rec.SizeMB, rec.IsStale)
	}
	return w.Flush()
}
