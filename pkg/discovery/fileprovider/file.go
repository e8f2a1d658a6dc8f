// Package fileprovider provides file-based discovery providers.
package fileprovider

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/Semior001/hroxy/pkg/discovery"
	"github.com/cappuccinotm/slogx"
	"github.com/fsnotify/fsnotify"
)

// File discovers the changes in routing rules from a file.
type File struct {
	FileName string
	// Delay is the time to wait after the last change of the file
	// before emitting an event, so that a burst of writes is
	// reported once.
	Delay time.Duration
}

// Name returns the name of the provider.
func (d *File) Name() string {
	return fmt.Sprintf("file:%s", d.FileName)
}

// Events emits an event right away and then on each change of the file.
// The parent directory is watched, so that editors replacing the file
// by renaming are noticed as well.
func (d *File) Events(ctx context.Context) <-chan string {
	res := make(chan string, 1)
	res <- d.Name() // parse for the first time

	path, err := filepath.Abs(d.FileName)
	if err != nil {
		slog.WarnContext(ctx, "failed to resolve file path, changes won't be watched",
			slog.String("file", d.FileName), slogx.Error(err))
		go func() { <-ctx.Done(); close(res) }()
		return res
	}

	w, err := fsnotify.NewWatcher()
	if err == nil {
		if err = w.Add(filepath.Dir(path)); err != nil {
			_ = w.Close()
		}
	}
	if err != nil {
		slog.WarnContext(ctx, "failed to watch file, changes won't be noticed",
			slog.String("file", d.FileName), slogx.Error(err))
		go func() { <-ctx.Done(); close(res) }()
		return res
	}

	go func() {
		defer close(res)
		defer w.Close()

		var debounce <-chan time.Time
		var timer *time.Timer

		for {
			select {
			case <-ctx.Done():
				if timer != nil {
					timer.Stop()
				}
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}

				if filepath.Clean(ev.Name) != path {
					continue
				}

				if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
					continue
				}

				slog.DebugContext(ctx, "file changed",
					slog.String("file", d.FileName),
					slog.String("op", ev.Op.String()))

				// don't react on modification right away
				if timer != nil {
					timer.Stop()
				}
				timer = time.NewTimer(d.Delay)
				debounce = timer.C
			case <-debounce:
				debounce = nil
				select {
				case res <- d.Name():
				case <-ctx.Done():
					return
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				slog.WarnContext(ctx, "file watcher error",
					slog.String("file", d.FileName), slogx.Error(err))
			}
		}
	}()

	return res
}

// Rules parses the file and returns the routing rules from it.
func (d *File) Rules(context.Context) ([]discovery.Rule, error) {
	f, err := os.Open(d.FileName)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}

	defer f.Close()

	rules, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("parse file %s: %w", d.FileName, err)
	}

	return rules, nil
}
