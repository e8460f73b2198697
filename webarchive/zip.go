package webarchive

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/h2non/filetype"
	"github.com/h2non/filetype/matchers"
)

// entries are stamped with a fixed time so identical archives produce identical bytes.
var modTime = time.Date(2000, time.January, 1, 0, 0, 0, 0, time.UTC)

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// WriteTo writes the archive in zip format, manifest first and resources in
// sorted order.
func (a *Archive) WriteTo(w io.Writer) (int64, error) {
	if err := a.Validate(); err != nil {
		return 0, err
	}
	manifest, err := encodeManifest(a.manifest)
	if err != nil {
		return 0, err
	}

	cw := &countingWriter{w: w}
	zw := zip.NewWriter(cw)
	if err := writeEntry(zw, ManifestPath, manifest); err != nil {
		return cw.n, err
	}
	for _, name := range a.Resources() {
		if err := writeEntry(zw, name, a.resources[name]); err != nil {
			return cw.n, err
		}
	}
	if err := zw.Close(); err != nil {
		return cw.n, fmt.Errorf("webarchive: close zip: %w", err)
	}
	return cw.n, nil
}

func writeEntry(zw *zip.Writer, name string, data []byte) error {
	fw, err := zw.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Deflate, Modified: modTime})
	if err != nil {
		return fmt.Errorf("webarchive: create entry %s: %w", name, err)
	}
	if _, err := fw.Write(data); err != nil {
		return fmt.Errorf("webarchive: write entry %s: %w", name, err)
	}
	return nil
}

// Bytes returns the zip encoding of the archive.
func (a *Archive) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := a.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ExportTo writes the archive to path. The file is written next to the target
// and renamed into place, so readers never observe a partial archive.
func (a *Archive) ExportTo(path string, overwrite bool) (int64, error) {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return 0, fmt.Errorf("%w: %s", ErrExists, path)
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return 0, fmt.Errorf("webarchive: export %s: %w", path, err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return 0, fmt.Errorf("webarchive: export %s: %w", path, err)
	}
	defer os.Remove(tmp.Name())

	n, err := a.WriteTo(tmp)
	if err != nil {
		_ = tmp.Close()
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("webarchive: export %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return 0, fmt.Errorf("webarchive: export %s: %w", path, err)
	}
	return n, nil
}

// Open reads the archive stored at path.
func Open(path string) (*Archive, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("webarchive: open %s: %w", path, err)
	}
	a, err := Read(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return a, nil
}

// Read decodes a zip-encoded archive. The content is sniffed before parsing so
// that arbitrary files are rejected with ErrNotArchive.
func Read(r io.ReaderAt, size int64) (*Archive, error) {
	header := make([]byte, 261)
	n, err := r.ReadAt(header, 0)
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("webarchive: read header: %w", err)
	}
	kind, err := filetype.Match(header[:n])
	if err != nil || kind != matchers.TypeZip {
		return nil, ErrNotArchive
	}

	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotArchive, err)
	}

	a := &Archive{resources: make(map[string][]byte)}
	var manifest []byte
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		clean, err := cleanName(f.Name)
		if err != nil || clean != f.Name {
			return nil, fmt.Errorf("%w: %q", ErrUnsafePath, f.Name)
		}
		data, err := readEntry(f)
		if err != nil {
			return nil, err
		}
		if clean == ManifestPath {
			manifest = data
			continue
		}
		a.resources[clean] = data
	}
	if manifest == nil {
		return nil, ErrMissingManifest
	}
	m, err := decodeManifest(manifest)
	if err != nil {
		return nil, err
	}
	a.manifest = m
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

func readEntry(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("webarchive: open entry %s: %w", f.Name, err)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("webarchive: read entry %s: %w", f.Name, err)
	}
	return data, nil
}

// Explode replaces dir with the archive's contents, manifest included.
func (a *Archive) Explode(dir string) error {
	if err := a.Validate(); err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("webarchive: explode %s: %w", dir, err)
	}
	manifest, err := encodeManifest(a.manifest)
	if err != nil {
		return err
	}
	if err := writeFile(dir, ManifestPath, manifest); err != nil {
		return err
	}
	for name, data := range a.resources {
		if err := writeFile(dir, name, data); err != nil {
			return err
		}
	}
	return nil
}

func writeFile(dir, name string, data []byte) error {
	target := filepath.Join(dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("webarchive: explode %s: %w", name, err)
	}
	if err := os.WriteFile(target, data, 0o644); err != nil {
		return fmt.Errorf("webarchive: explode %s: %w", name, err)
	}
	return nil
}
