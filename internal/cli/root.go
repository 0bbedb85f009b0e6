// Package cli implements the oda-reader command-line interface.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/oda-reader/internal/config"
	"github.com/Sternrassler/oda-reader/pkg/logging"
	"github.com/Sternrassler/oda-reader/pkg/oda"
)

// Version is set at build time.
var Version = "dev"

// Global flags
var (
	configPath string
	cacheDir   string
	logLevel   string
	pretty     bool
	noCache    bool
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:           "oda-reader",
	Short:         "oda-reader - download OECD DAC aid statistics",
	Long:          `A command-line utility for downloading OECD DAC1, DAC2A, CRS and Multisystem data and bulk files through a local cache.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&cacheDir, "cache-dir", "", "Cache root (overrides config and ODA_READER_CACHE_DIR)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&pretty, "pretty", false, "Human-readable log output")
	rootCmd.PersistentFlags().BoolVar(&noCache, "no-cache", false, "Disable the HTTP and DataFrame caches")
}

// loadConfig applies the global flags over the loaded configuration.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return config.Config{}, err
	}
	if cacheDir != "" {
		cfg.Cache.Dir = cacheDir
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if pretty {
		cfg.Log.Pretty = true
	}
	if noCache {
		cfg.Cache.HTTP.Enabled = false
		cfg.Cache.DataFrame.Enabled = false
	}
	return cfg, nil
}

// openReader builds a Reader from the configuration. The returned function
// closes it.
func openReader() (*oda.Reader, zerolog.Logger, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, zerolog.Nop(), nil, err
	}
	logger := logging.Setup(cfg.Logging())

	opts, closeStore := cfg.ReaderOptions(&logger)
	r, err := oda.New(opts)
	if err != nil {
		closeStore()
		return nil, logger, nil, err
	}
	return r, logger, func() {
		r.Close()
		closeStore()
	}, nil
}
