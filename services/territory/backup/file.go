// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// Dir stores backups as files in a local directory.
type Dir struct {
	Path string
}

// NewDir returns a directory destination, creating it if needed.
func NewDir(path string) (*Dir, error) {
	if path == "" {
		return nil, errors.New("backup directory is required")
	}
	if err := os.MkdirAll(path, 0o750); err != nil {
		return nil, fmt.Errorf("create backup directory %s: %w", path, err)
	}
	return &Dir{Path: path}, nil
}

func (d *Dir) file(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid backup name %q", name)
	}
	return filepath.Join(d.Path, name), nil
}

// Create implements Destination. Data goes to a temporary file that is
// renamed into place on Close.
func (d *Dir) Create(_ context.Context, name string) (io.WriteCloser, error) {
	path, err := d.file(name)
	if err != nil {
		return nil, err
	}
	tmp, err := os.CreateTemp(d.Path, "."+name+".*.tmp")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	return &fileWriter{File: tmp, final: path}, nil
}

// Open implements Destination.
func (d *Dir) Open(_ context.Context, name string) (io.ReadCloser, error) {
	path, err := d.file(name)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, err
	}
	return f, nil
}

// Location implements Destination.
func (d *Dir) Location(name string) string {
	return filepath.Join(d.Path, name)
}

type fileWriter struct {
	*os.File
	final string
}

func (w *fileWriter) Close() error {
	if err := w.File.Sync(); err != nil {
		_ = w.Abort()
		return err
	}
	if err := w.File.Close(); err != nil {
		_ = os.Remove(w.File.Name())
		return err
	}
	return os.Rename(w.File.Name(), w.final)
}

// Abort discards the temporary file.
func (w *fileWriter) Abort() error {
	_ = w.File.Close()
	return os.Remove(w.File.Name())
}
