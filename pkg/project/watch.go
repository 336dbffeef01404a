package project

import (
	"context"
	"fmt"
	"io/fs"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// watchDebounce coalesces bursts of descriptor writes into one rescan.
const watchDebounce = 500 * time.Millisecond

// Watch rescans root whenever a project descriptor is created or written
// and invokes onChange with the fresh project list. It blocks until ctx is
// cancelled. Editors produce bursts of events for a single save, so
// rescans are debounced.
func (s *Scanner) Watch(ctx context.Context, root string, onChange func([]*Project, *ScanSummary)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer watcher.Close()

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return watcher.Add(path)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("watching %s: %w", root, err)
	}

	s.logger.Info().Str("root", root).Msg("Watching for project changes")

	var rescanTimer *time.Timer
	for {
		select {
		case <-ctx.Done():
			if rescanTimer != nil {
				rescanTimer.Stop()
			}
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove) == 0 {
				continue
			}
			if filepath.Base(event.Name) != DescriptorName {
				// New directories need watching so descriptors created
				// inside them later are seen.
				if event.Op&fsnotify.Create != 0 {
					_ = watcher.Add(event.Name)
				}
				continue
			}

			s.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Project descriptor changed")

			if rescanTimer != nil {
				rescanTimer.Stop()
			}
			rescanTimer = time.AfterFunc(watchDebounce, func() {
				projects, summary, err := s.ScanAll(ctx, root)
				if err != nil {
					s.logger.Error().Err(err).Msg("Rescan failed")
					return
				}
				onChange(projects, summary)
			})

		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Error().Err(werr).Msg("Watcher error")
		}
	}
}
