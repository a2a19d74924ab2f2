// Package archive handles the zip bundles the protocol moves around:
// compiled-artifact directories and calibration data.
package archive

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

var zipMagic = []byte{'P', 'K', 0x03, 0x04}

// IsZip sniffs the payload magic. Raw models and compiled-artifact
// bundles arrive on the same endpoint; this is how they are told apart.
func IsZip(data []byte) bool {
	return len(data) >= len(zipMagic) && bytes.Equal(data[:len(zipMagic)], zipMagic)
}

// Extract unpacks a zip payload into dir and returns the number of
// regular files written. Entries escaping dir are rejected.
func Extract(data []byte, dir string) (int, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, fmt.Errorf("open zip: %w", err)
	}

	written := 0
	for _, f := range zr.File {
		target, err := sanitizePath(dir, f.Name)
		if err != nil {
			return written, err
		}
		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0o755); err != nil {
				return written, fmt.Errorf("mkdir %s: %w", f.Name, err)
			}
			continue
		}
		if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
			return written, fmt.Errorf("mkdir for %s: %w", f.Name, err)
		}
		if err := extractFile(f, target); err != nil {
			return written, err
		}
		written++
	}
	return written, nil
}

func extractFile(f *zip.File, target string) error {
	rc, err := f.Open()
	if err != nil {
		return fmt.Errorf("open entry %s: %w", f.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", f.Name, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return fmt.Errorf("write %s: %w", f.Name, err)
	}
	return nil
}

func sanitizePath(dir, name string) (string, error) {
	if filepath.IsAbs(name) {
		return "", fmt.Errorf("zip entry %q: absolute path", name)
	}
	target := filepath.Join(dir, filepath.FromSlash(name))
	rel, err := filepath.Rel(dir, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("zip entry %q: escapes extraction dir", name)
	}
	return target, nil
}

// PackDir zips the contents of dir (paths relative to dir, sorted walk)
// into a single payload.
func PackDir(dir string) ([]byte, error) {
	var names []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			names = append(names, path)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", dir, err)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, path := range names {
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return nil, err
		}
		w, err := zw.Create(filepath.ToSlash(rel))
		if err != nil {
			return nil, fmt.Errorf("add %s: %w", rel, err)
		}
		src, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", rel, err)
		}
		_, err = io.Copy(w, src)
		src.Close()
		if err != nil {
			return nil, fmt.Errorf("pack %s: %w", rel, err)
		}
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("finish zip: %w", err)
	}
	return buf.Bytes(), nil
}
