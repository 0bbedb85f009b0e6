// Package archive unpacks the zip archives served by the bulk download
// endpoints. Archives hold parquet files, delimited text or, for AidData,
// a single Excel workbook; everything is written out as parquet.
package archive

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/oda-reader/pkg/frame"
)

// ErrNoDataFiles is returned for archives without parquet, csv or txt members.
var ErrNoDataFiles = errors.New("archive: no parquet, csv or txt files found")

// Kind classifies an archive by its data members.
type Kind int

const (
	KindNone Kind = iota
	KindParquet
	KindDelimited
)

// Archive is an open zip file.
type Archive struct {
	zr     *zip.Reader
	closer io.Closer
	logger zerolog.Logger
}

// Open opens the zip file at path.
func Open(path string, logger zerolog.Logger) (*Archive, error) {
	rc, err := zip.OpenReader(path)
	if err != nil {
		return nil, fmt.Errorf("open archive %s: %w", path, err)
	}
	return &Archive{zr: &rc.Reader, closer: rc, logger: logger}, nil
}

// FromBytes opens an in-memory zip archive.
func FromBytes(data []byte, logger zerolog.Logger) (*Archive, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	return &Archive{zr: zr, logger: logger}, nil
}

// Close releases the underlying file.
func (a *Archive) Close() error {
	if a.closer == nil {
		return nil
	}
	return a.closer.Close()
}

func (a *Archive) members(match func(name string) bool) []*zip.File {
	var out []*zip.File
	for _, f := range a.zr.File {
		if f.FileInfo().IsDir() || isMetadata(f.Name) {
			continue
		}
		if match(strings.ToLower(f.Name)) {
			out = append(out, f)
		}
	}
	return out
}

// isMetadata reports macOS resource-fork entries.
func isMetadata(name string) bool {
	return strings.HasPrefix(name, "__MACOSX/") || strings.HasPrefix(path.Base(name), "._")
}

func isParquet(name string) bool { return strings.HasSuffix(name, ".parquet") }

func isDelimited(name string) bool {
	return strings.HasSuffix(name, ".csv") || strings.HasSuffix(name, ".txt")
}

// Kind reports which data members the archive holds. Parquet wins.
func (a *Archive) Kind() Kind {
	switch {
	case len(a.members(isParquet)) > 0:
		return KindParquet
	case len(a.members(isDelimited)) > 0:
		return KindDelimited
	default:
		return KindNone
	}
}

// Extract writes the data members to dir as parquet and returns the written
// paths. Parquet members are copied; csv and txt members are parsed with a
// detected delimiter and converted.
func (a *Archive) Extract(dir string) ([]string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create %s: %w", dir, err)
	}
	switch a.Kind() {
	case KindParquet:
		return a.copyParquet(dir)
	case KindDelimited:
		return a.convertDelimited(dir)
	default:
		return nil, ErrNoDataFiles
	}
}

// Frames reads every data member into memory.
func (a *Archive) Frames() ([]*frame.Frame, error) {
	var out []*frame.Frame
	switch a.Kind() {
	case KindParquet:
		for _, m := range a.members(isParquet) {
			a.logger.Info().Str("file", m.Name).Msg("Reading parquet member")
			data, err := readMember(m)
			if err != nil {
				return nil, err
			}
			f, err := frame.ReadParquet(bytes.NewReader(data), int64(len(data)))
			if err != nil {
				return nil, fmt.Errorf("%s: %w", m.Name, err)
			}
			out = append(out, f)
		}
	case KindDelimited:
		for _, m := range a.members(isDelimited) {
			f, err := a.readDelimited(m)
			if err != nil {
				return nil, err
			}
			out = append(out, f)
		}
	default:
		return nil, ErrNoDataFiles
	}
	return out, nil
}

func (a *Archive) copyParquet(dir string) ([]string, error) {
	var written []string
	for _, m := range a.members(isParquet) {
		dst := filepath.Join(dir, filepath.FromSlash(m.Name))
		a.logger.Info().Str("file", m.Name).Str("dst", dst).Msg("Saving parquet member")
		if err := copyMember(m, dst); err != nil {
			return written, err
		}
		written = append(written, dst)
	}
	return written, nil
}

func (a *Archive) convertDelimited(dir string) ([]string, error) {
	var written []string
	for _, m := range a.members(isDelimited) {
		f, err := a.readDelimited(m)
		if err != nil {
			return written, err
		}
		dst := filepath.Join(dir, ParquetName(m.Name))
		a.logger.Info().Str("file", m.Name).Str("dst", dst).Int("rows", f.Len()).Msg("Saving delimited member as parquet")
		if err := frame.WriteParquetFile(dst, f); err != nil {
			return written, fmt.Errorf("%s: %w", m.Name, err)
		}
		written = append(written, dst)
	}
	return written, nil
}

func (a *Archive) readDelimited(m *zip.File) (*frame.Frame, error) {
	rc, err := m.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", m.Name, err)
	}
	defer rc.Close()

	delim, r, err := DetectDelimiterReader(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", m.Name, err)
	}
	a.logger.Info().Str("file", m.Name).Str("delimiter", string(delim)).Msg("Detected delimiter")

	f, err := frame.ReadCSV(r, frame.CSVOptions{Delimiter: delim})
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", m.Name, err)
	}
	return f, nil
}

// ParquetName turns a member name into the parquet file name it is saved
// under: extension replaced, lower-cased, spaces as underscores.
func ParquetName(member string) string {
	name := path.Base(member)
	name = strings.TrimSuffix(strings.TrimSuffix(name, ".txt"), ".csv")
	name = strings.ToLower(name) + ".parquet"
	return strings.ReplaceAll(name, " ", "_")
}

func readMember(m *zip.File) ([]byte, error) {
	rc, err := m.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", m.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", m.Name, err)
	}
	return data, nil
}

func copyMember(m *zip.File, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(dst), err)
	}
	rc, err := m.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", m.Name, err)
	}
	defer rc.Close()

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("create %s: %w", dst, err)
	}
	if _, err := io.CopyBuffer(out, rc, make([]byte, 1<<20)); err != nil {
		out.Close()
		return fmt.Errorf("extract %s: %w", m.Name, err)
	}
	return out.Close()
}
