// Package cachedir resolves the on-disk cache layout.
//
// The root is chosen once per Dirs value: an explicit override wins, then
// the ODA_READER_CACHE_DIR environment variable, then the platform user
// cache directory with the layout version appended. Bumping LayoutVersion
// moves every cache tier to a fresh directory.
package cachedir

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// EnvVar names the environment variable that overrides the cache root.
const EnvVar = "ODA_READER_CACHE_DIR"

// LayoutVersion is appended to the platform default root.
const LayoutVersion = "1.3.0"

const (
	appName      = "oda-reader"
	dataFrameDir = "dataframes"
	bulkDir      = "bulk_files"
	httpCacheDB  = "http_cache.sqlite"
)

// Dirs is a resolved cache layout. The zero value is not usable; call Resolve.
type Dirs struct {
	root string
}

// Resolve picks the cache root. override may be empty.
func Resolve(override string) (Dirs, error) {
	if override != "" {
		root, err := normalize(override)
		if err != nil {
			return Dirs{}, err
		}
		return Dirs{root: root}, nil
	}

	if env := os.Getenv(EnvVar); env != "" {
		root, err := normalize(env)
		if err != nil {
			return Dirs{}, fmt.Errorf("%s: %w", EnvVar, err)
		}
		return Dirs{root: root}, nil
	}

	base, err := os.UserCacheDir()
	if err != nil {
		return Dirs{}, fmt.Errorf("locate user cache directory: %w", err)
	}
	return Dirs{root: filepath.Join(base, appName, LayoutVersion)}, nil
}

// normalize expands a leading "~" and makes path absolute.
func normalize(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("expand %q: %w", path, err)
		}
		path = filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolve %q: %w", path, err)
	}
	return abs, nil
}

// Root returns the cache root without creating it.
func (d Dirs) Root() string { return d.root }

// HTTPCachePath returns {root}/http_cache.sqlite, creating the root.
func (d Dirs) HTTPCachePath() (string, error) {
	if err := d.ensure(d.root); err != nil {
		return "", err
	}
	return filepath.Join(d.root, httpCacheDB), nil
}

// DataFrameDir returns {root}/dataframes, creating it.
func (d Dirs) DataFrameDir() (string, error) {
	return d.sub(dataFrameDir)
}

// BulkDir returns {root}/bulk_files, creating it.
func (d Dirs) BulkDir() (string, error) {
	return d.sub(bulkDir)
}

func (d Dirs) sub(name string) (string, error) {
	p := filepath.Join(d.root, name)
	if err := d.ensure(p); err != nil {
		return "", err
	}
	return p, nil
}

func (d Dirs) ensure(p string) error {
	if d.root == "" {
		return errors.New("cache directory not resolved")
	}
	if err := os.MkdirAll(p, 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}
	return nil
}

// IsProtected reports files that cache eviction must never remove: the bulk
// lock file, the bulk manifest and the HTTP cache database with its WAL files.
func IsProtected(name string) bool {
	switch name {
	case ".cache.lock", "manifest.json":
		return true
	}
	return strings.HasPrefix(name, httpCacheDB)
}
