// Package fileutil provides file helpers shared by the salvage commands.
package fileutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ulikunitz/xz"
)

// CopyFile copies a file from src to dst, creating parent directories as needed.
func CopyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open source: %w", err)
	}
	defer in.Close()

	if dir := filepath.Dir(dst); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create destination directory: %w", err)
		}
	}

	out, err := os.Create(dst)
	if err != nil {
		return fmt.Errorf("failed to create destination: %w", err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return fmt.Errorf("failed to copy: %w", err)
	}

	if err := out.Close(); err != nil {
		os.Remove(dst)
		return fmt.Errorf("failed to close destination: %w", err)
	}
	return nil
}

// IsXZ reports whether path looks like an xz-compressed file.
func IsXZ(path string) bool {
	return strings.HasSuffix(path, ".xz")
}

// MaterializeSource returns a path to an uncompressed copy of the source
// image. Plain files are returned as-is with a nil cleanup. Files ending in
// .xz are streamed into a temporary file which the returned cleanup removes.
// Damaged database images are commonly shipped compressed; the page scanner
// needs random access, so compressed input is materialized first.
func MaterializeSource(path string) (string, func(), error) {
	if !IsXZ(path) {
		return path, nil, nil
	}

	in, err := os.Open(path)
	if err != nil {
		return "", nil, fmt.Errorf("failed to open source: %w", err)
	}
	defer in.Close()

	xr, err := xz.NewReader(in)
	if err != nil {
		return "", nil, fmt.Errorf("failed to read xz stream: %w", err)
	}

	tmp, err := os.CreateTemp("", "sos-source-*.db")
	if err != nil {
		return "", nil, fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, xr); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return "", nil, fmt.Errorf("failed to decompress source: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return "", nil, fmt.Errorf("failed to close temp file: %w", err)
	}

	cleanup := func() { os.Remove(tmpPath) }
	return tmpPath, cleanup, nil
}
