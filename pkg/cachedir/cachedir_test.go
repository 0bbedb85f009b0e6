package cachedir

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolve_Priority(t *testing.T) {
	override := t.TempDir()
	env := t.TempDir()

	t.Run("override wins over env", func(t *testing.T) {
		t.Setenv(EnvVar, env)
		d, err := Resolve(override)
		require.NoError(t, err)
		require.Equal(t, override, d.Root())
	})

	t.Run("env wins over default", func(t *testing.T) {
		t.Setenv(EnvVar, env)
		d, err := Resolve("")
		require.NoError(t, err)
		require.Equal(t, env, d.Root())
	})

	t.Run("default is versioned", func(t *testing.T) {
		t.Setenv(EnvVar, "")
		d, err := Resolve("")
		if err != nil {
			t.Skipf("no user cache directory: %v", err)
		}
		require.Equal(t, LayoutVersion, filepath.Base(d.Root()))
		require.Equal(t, appName, filepath.Base(filepath.Dir(d.Root())))
	})
}

func TestResolve_ExpandsHome(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	d, err := Resolve("~/oda")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, "oda"), d.Root())
}

func TestDirs_Layout(t *testing.T) {
	root := filepath.Join(t.TempDir(), "cache")
	d, err := Resolve(root)
	require.NoError(t, err)

	_, err = os.Stat(root)
	require.True(t, os.IsNotExist(err), "Resolve must not create the root")

	db, err := d.HTTPCachePath()
	require.NoError(t, err)
	require.Equal(t, filepath.Join(root, "http_cache.sqlite"), db)

	frames, err := d.DataFrameDir()
	require.NoError(t, err)
	require.DirExists(t, frames)
	require.Equal(t, "dataframes", filepath.Base(frames))

	bulk, err := d.BulkDir()
	require.NoError(t, err)
	require.DirExists(t, bulk)
	require.Equal(t, "bulk_files", filepath.Base(bulk))
}

func TestIsProtected(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{".cache.lock", true},
		{"manifest.json", true},
		{"http_cache.sqlite", true},
		{"http_cache.sqlite-wal", true},
		{"http_cache.sqlite-shm", true},
		{"crs_full.parquet", false},
		{"0123456789abcdef.parquet", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsProtected(tt.name); got != tt.want {
				t.Errorf("IsProtected(%q) = %v, want %v", tt.name, got, tt.want)
			}
		})
	}
}
