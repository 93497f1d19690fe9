// Package testutil provides fixtures for scriptbox tests: temporary
// sandbox layouts and pre-populated script stores.
package testutil

import (
	"os"
	"path/filepath"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/scriptbox/scriptbox/internal/script"
)

// Sandbox creates a temporary sandbox directory with a scripts
// subdirectory and returns both paths. Cleanup is automatic.
func Sandbox(t *testing.T) (sandboxDir, scriptsDir string) {
	t.Helper()

	sandboxDir = t.TempDir()
	scriptsDir = filepath.Join(sandboxDir, "scripts")
	if err := os.MkdirAll(scriptsDir, 0755); err != nil {
		t.Fatalf("failed to create scripts dir: %v", err)
	}
	return sandboxDir, scriptsDir
}

// Entry pairs a manifest entry with its source code.
type Entry struct {
	Script script.Script
	Source string
}

// WriteScripts writes a manifest and the source files for the given
// entries into dir, bypassing the store's install path. Use it to set
// up on-disk state a Store should then Load.
func WriteScripts(t *testing.T, dir string, entries []Entry) {
	t.Helper()

	var doc struct {
		Scripts []script.Script `yaml:"scripts"`
	}
	for _, e := range entries {
		doc.Scripts = append(doc.Scripts, e.Script)
		path := filepath.Join(dir, e.Script.SourceFile)
		if err := os.WriteFile(path, []byte(e.Source), 0644); err != nil {
			t.Fatalf("failed to write source %s: %v", e.Script.SourceFile, err)
		}
	}

	data, err := yaml.Marshal(&doc)
	if err != nil {
		t.Fatalf("failed to marshal manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, script.ManifestName), data, 0644); err != nil {
		t.Fatalf("failed to write manifest: %v", err)
	}
}

// LoadedStore creates a store over dir with the given entries already
// registered.
func LoadedStore(t *testing.T, dir string, entries []Entry) *script.Store {
	t.Helper()

	WriteScripts(t, dir, entries)
	store := script.NewStore(dir, 0, nil)
	if err := store.Load(); err != nil {
		t.Fatalf("failed to load store: %v", err)
	}
	return store
}
