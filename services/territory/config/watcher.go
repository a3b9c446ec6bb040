// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces bursts of writes from editors.
const DefaultDebounce = 200 * time.Millisecond

// Watcher reloads a config file when it changes.
//
// Description:
//
//	The file's directory is watched so that editors replacing the file by
//	rename are noticed. Each successful reload is passed to the callback;
//	a file that fails to parse or validate is logged and the previous
//	configuration stays in effect.
//
// Thread Safety: Start must be called once. Stop is safe to call from any
// goroutine.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onChange func(*Config)
	logger   *slog.Logger
	debounce time.Duration
	lookup   func(string) (string, bool)
}

// NewWatcher creates a watcher for path.
//
// Inputs:
//
//	path - The config file. Must exist.
//	onChange - Called with every successfully reloaded config.
//	logger - Optional; nil uses slog.Default().
func NewWatcher(path string, onChange func(*Config), logger *slog.Logger) (*Watcher, error) {
	if onChange == nil {
		return nil, fmt.Errorf("onChange must not be nil")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", path, err)
	}
	if _, err := os.Stat(abs); err != nil {
		return nil, fmt.Errorf("stat config %s: %w", abs, err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create file watcher: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Watcher{
		path:     abs,
		watcher:  fw,
		onChange: onChange,
		logger:   logger.With("component", "config.watcher", "path", abs),
		debounce: DefaultDebounce,
		lookup:   os.LookupEnv,
	}, nil
}

// Start blocks, reloading on change, until ctx is done or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	var (
		timer   *time.Timer
		pending <-chan time.Time
	)
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			pending = timer.C

		case <-pending:
			pending = nil
			w.reload()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config watcher error", "error", err)

		case <-ctx.Done():
			return
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := load(w.path, w.lookup)
	if err != nil {
		w.logger.Warn("config reload rejected", "error", err)
		return
	}
	w.logger.Info("config reloaded")
	w.onChange(cfg)
}

// Stop releases the watcher. Start returns soon after.
func (w *Watcher) Stop() error {
	return w.watcher.Close()
}
