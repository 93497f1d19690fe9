package script

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// Watch observes the scripts directory and invokes onChange for every
// script whose source or manifest entry changes. It blocks until ctx is
// cancelled or the watcher fails.
//
// Manifest edits are diffed against the previous snapshot: entries that
// disappear report ChangeRemoved, entries whose Disabled flag turns on
// report ChangeDisabled, and new or modified entries report
// ChangeUpdated. A write to a registered source file reports
// ChangeUpdated for its owner.
func (s *Store) Watch(ctx context.Context, onChange func(Change)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(s.dir); err != nil {
		return err
	}

	prev := s.snapshot()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}

			name := filepath.Base(ev.Name)
			if name == ManifestName {
				if err := s.Load(); err != nil {
					s.logger.Warn("failed to reload manifest", "error", err.Error())
					continue
				}
				next := s.snapshot()
				for _, ch := range diffManifests(prev, next) {
					onChange(ch)
				}
				prev = next
				continue
			}

			// A source file changed; find its owner.
			for _, id := range sortedIDs(prev) {
				if prev[id].SourceFile == name {
					if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
						// Source gone but entry still registered: the
						// next create will fail loudly; nothing to do.
						continue
					}
					onChange(Change{ID: id, Kind: ChangeUpdated})
				}
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			s.logger.Warn("watcher error", "error", err.Error())
		}
	}
}

// diffManifests computes per-script changes between two snapshots.
func diffManifests(prev, next map[string]Script) []Change {
	var out []Change

	for _, id := range sortedIDs(prev) {
		old := prev[id]
		cur, still := next[id]
		switch {
		case !still:
			out = append(out, Change{ID: id, Kind: ChangeRemoved})
		case cur.Disabled && !old.Disabled:
			out = append(out, Change{ID: id, Kind: ChangeDisabled})
		case cur != old:
			out = append(out, Change{ID: id, Kind: ChangeUpdated})
		}
	}

	for _, id := range sortedIDs(next) {
		if _, existed := prev[id]; !existed {
			out = append(out, Change{ID: id, Kind: ChangeUpdated})
		}
	}

	return out
}
