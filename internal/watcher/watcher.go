// Copyright 2026 The captcha-bridge Authors. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package watcher hot-reloads the configuration file. Only settings that are
// safe to change mid-flight are propagated: the solving service API key and
// the log level. Listen address changes require a restart.
package watcher

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"github.com/applypilot/captcha-bridge/internal/config"
)

// debounce coalesces editor write bursts into one reload.
const debounce = 500 * time.Millisecond

// Watcher observes the config file and invokes the reload callback with the
// freshly parsed configuration.
type Watcher struct {
	path   string
	reload func(*config.Config)
	fsw    *fsnotify.Watcher
	done   chan struct{}
}

// NewWatcher creates a watcher for the config file at path.
func NewWatcher(path string, reload func(*config.Config)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	// Watch the directory, not the file: most editors replace the file on
	// save, which would drop a direct file watch.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		fsw.Close()
		return nil, err
	}

	return &Watcher{
		path:   path,
		reload: reload,
		fsw:    fsw,
		done:   make(chan struct{}),
	}, nil
}

// Start runs the watch loop until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) {
	go w.loop(ctx)
}

// Stop tears the underlying filesystem watcher down.
func (w *Watcher) Stop() {
	_ = w.fsw.Close()
	<-w.done
}

func (w *Watcher) loop(ctx context.Context) {
	defer close(w.done)

	var timer *time.Timer
	fire := make(chan struct{}, 1)

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(debounce, func() {
				select {
				case fire <- struct{}{}:
				default:
				}
			})
		case <-fire:
			w.reloadConfig()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			log.Warnf("config watcher error: %v", err)
		}
	}
}

func (w *Watcher) reloadConfig() {
	cfg, err := config.LoadConfig(w.path)
	if err != nil {
		log.Errorf("config reload failed, keeping previous settings: %v", err)
		return
	}
	log.Info("configuration file changed, applying reloadable settings")
	w.reload(cfg)
}
