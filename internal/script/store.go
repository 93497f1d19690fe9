// Package script owns the on-disk script store: a scripts.yaml manifest
// plus one source file per command. The supervisor reads last-known
// source by command id from here; install operations are all-or-nothing.
package script

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/scriptbox/scriptbox/internal/errors"
	"github.com/scriptbox/scriptbox/internal/logging"
)

// ManifestName is the manifest file name inside the scripts directory.
const ManifestName = "scripts.yaml"

// idPattern constrains command ids to names safe for file paths,
// log fields, and mailbox keys.
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// manifest is the YAML document shape.
type manifest struct {
	Scripts []Script `yaml:"scripts"`
}

// Install pairs a manifest entry with the source to write.
type Install struct {
	Script Script
	Source string
}

// Store reads and writes the script manifest and sources.
// It is safe for concurrent use.
type Store struct {
	mu             sync.RWMutex
	dir            string
	maxScriptBytes int
	logger         *logging.Logger
	scripts        map[string]Script
	order          []string
}

// NewStore creates a Store rooted at dir. maxScriptBytes caps a single
// script's source during install; non-positive means 1 MiB.
func NewStore(dir string, maxScriptBytes int, logger *logging.Logger) *Store {
	if maxScriptBytes <= 0 {
		maxScriptBytes = 1 << 20
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Store{
		dir:            dir,
		maxScriptBytes: maxScriptBytes,
		logger:         logger.WithComponent("store"),
		scripts:        make(map[string]Script),
	}
}

// Dir returns the store's root directory.
func (s *Store) Dir() string {
	return s.dir
}

// Load reads the manifest from disk. A missing manifest yields an empty
// store.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(s.dir, ManifestName))
	if err != nil {
		if os.IsNotExist(err) {
			s.scripts = make(map[string]Script)
			s.order = nil
			return nil
		}
		return fmt.Errorf("failed to read manifest: %w", err)
	}

	var m manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("failed to parse manifest: %w", err)
	}

	scripts := make(map[string]Script, len(m.Scripts))
	order := make([]string, 0, len(m.Scripts))
	for _, sc := range m.Scripts {
		if _, dup := scripts[sc.ID]; dup {
			return errors.Wrapf(errors.ErrScriptInvalid, "duplicate id %q in manifest", sc.ID)
		}
		scripts[sc.ID] = sc
		order = append(order, sc.ID)
	}

	s.scripts = scripts
	s.order = order
	return nil
}

// List returns display-safe metadata for every registered script, in
// manifest order. Disabled scripts are included; they are registered,
// just not runnable.
func (s *Store) List() []Meta {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Meta, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.scripts[id].meta())
	}
	return out
}

// Get returns the manifest entry for a command id.
func (s *Store) Get(id string) (Script, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.scripts[id]
	return sc, ok
}

// Source reads the last-known source for a command id.
func (s *Store) Source(id string) (string, error) {
	s.mu.RLock()
	sc, ok := s.scripts[id]
	s.mu.RUnlock()

	if !ok {
		return "", errors.Wrapf(errors.ErrScriptNotFound, "%q", id)
	}

	data, err := os.ReadFile(filepath.Join(s.dir, sc.SourceFile))
	if err != nil {
		return "", fmt.Errorf("failed to read source for %q: %w", id, err)
	}
	return string(data), nil
}

// BulkInstall registers a batch of scripts atomically: every entry is
// validated before anything is written, and a failure while writing
// rolls back already-written sources. On any error the store's end
// state is identical to its state before the call, and the error names
// the offending script.
func (s *Store) BulkInstall(installs []Install) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Validate the whole batch first.
	seen := make(map[string]bool, len(installs))
	for _, in := range installs {
		if err := s.validate(in); err != nil {
			return err
		}
		if seen[in.Script.ID] {
			return errors.Wrapf(errors.ErrScriptInvalid, "%q appears twice in batch", in.Script.ID)
		}
		seen[in.Script.ID] = true
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create scripts directory: %w", err)
	}

	// Write sources; undo on failure.
	written := make([]string, 0, len(installs))
	for _, in := range installs {
		path := filepath.Join(s.dir, in.Script.SourceFile)
		if err := os.WriteFile(path, []byte(in.Source), 0644); err != nil {
			for _, p := range written {
				_ = os.Remove(p)
			}
			return errors.Wrapf(err, "failed to write source for %q", in.Script.ID)
		}
		written = append(written, path)
	}

	// Commit to memory, then persist the manifest.
	for _, in := range installs {
		s.scripts[in.Script.ID] = in.Script
		s.order = append(s.order, in.Script.ID)
	}
	if err := s.saveLocked(); err != nil {
		// Roll back memory and sources so the failed call is a no-op.
		for _, in := range installs {
			delete(s.scripts, in.Script.ID)
		}
		s.order = s.order[:len(s.order)-len(installs)]
		for _, p := range written {
			_ = os.Remove(p)
		}
		return err
	}

	s.logger.Info("scripts installed", "count", len(installs))
	return nil
}

// Remove deletes a script from the manifest and removes its source file.
func (s *Store) Remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sc, ok := s.scripts[id]
	if !ok {
		return errors.Wrapf(errors.ErrScriptNotFound, "%q", id)
	}

	delete(s.scripts, id)
	for i, oid := range s.order {
		if oid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}

	if err := s.saveLocked(); err != nil {
		// Restore the entry so the store matches the manifest on disk.
		s.scripts[id] = sc
		s.order = append(s.order, id)
		return err
	}

	if err := os.Remove(filepath.Join(s.dir, sc.SourceFile)); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("failed to remove source file", "command_id", id, "error", err.Error())
	}
	return nil
}

// SetDisabled flips a script's disabled flag and persists the manifest.
func (s *Store) SetDisabled(id string, disabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sc, ok := s.scripts[id]
	if !ok {
		return errors.Wrapf(errors.ErrScriptNotFound, "%q", id)
	}
	if sc.Disabled == disabled {
		return nil
	}

	sc.Disabled = disabled
	s.scripts[id] = sc
	return s.saveLocked()
}

// StartupScripts returns the ids of enabled scripts flagged to run at
// startup, in manifest order.
func (s *Store) StartupScripts() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []string
	for _, id := range s.order {
		sc := s.scripts[id]
		if sc.RunAtStartup && !sc.Disabled {
			out = append(out, id)
		}
	}
	return out
}

// snapshot returns a copy of the current entries keyed by id.
func (s *Store) snapshot() map[string]Script {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]Script, len(s.scripts))
	for id, sc := range s.scripts {
		out[id] = sc
	}
	return out
}

// validate checks one install against store policy.
// Callers must hold s.mu.
func (s *Store) validate(in Install) error {
	sc := in.Script
	if !idPattern.MatchString(sc.ID) {
		return errors.Wrapf(errors.ErrScriptInvalid, "%q: bad command id", sc.ID)
	}
	if sc.DisplayText == "" {
		return errors.Wrapf(errors.ErrScriptInvalid, "%q: display_text is required", sc.ID)
	}
	if sc.SourceFile == "" || filepath.Base(sc.SourceFile) != sc.SourceFile {
		return errors.Wrapf(errors.ErrScriptInvalid, "%q: source_file must be a bare file name", sc.ID)
	}
	if len(in.Source) > s.maxScriptBytes {
		return errors.Wrapf(errors.ErrScriptInvalid, "%q: source exceeds %d bytes", sc.ID, s.maxScriptBytes)
	}
	if _, exists := s.scripts[sc.ID]; exists {
		return errors.Wrapf(errors.ErrScriptExists, "%q", sc.ID)
	}
	return nil
}

// saveLocked writes the manifest. Callers must hold s.mu.
func (s *Store) saveLocked() error {
	m := manifest{Scripts: make([]Script, 0, len(s.order))}
	for _, id := range s.order {
		m.Scripts = append(m.Scripts, s.scripts[id])
	}

	data, err := yaml.Marshal(&m)
	if err != nil {
		return fmt.Errorf("failed to marshal manifest: %w", err)
	}

	if err := os.MkdirAll(s.dir, 0755); err != nil {
		return fmt.Errorf("failed to create scripts directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(s.dir, ManifestName), data, 0644); err != nil {
		return fmt.Errorf("failed to write manifest: %w", err)
	}
	return nil
}

// sortedIDs returns all ids sorted, for deterministic diffing.
func sortedIDs(m map[string]Script) []string {
	ids := make([]string, 0, len(m))
	for id := range m {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
