package bridge

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/gobwas/glob"

	"github.com/scriptbox/scriptbox/internal/errors"
	"github.com/scriptbox/scriptbox/internal/event"
)

// argString extracts a required string argument.
func argString(call Call, i int) (string, error) {
	if i >= len(call.Args) {
		return "", errors.New("missing argument")
	}
	s, ok := call.Args[i].(string)
	if !ok {
		return "", errors.New("argument must be a string")
	}
	return s, nil
}

// -----------------------------------------------------------------------------
// storage
// -----------------------------------------------------------------------------

// StorageNamespace is a per-command key/value store. Keys from one
// command are invisible to every other command; values are capped at
// maxValueBytes of JSON (0 disables the cap).
func StorageNamespace(maxValueBytes int) Namespace {
	var mu sync.Mutex
	store := make(map[string]map[string]any)

	bucket := func(commandID string) map[string]any {
		b, ok := store[commandID]
		if !ok {
			b = make(map[string]any)
			store[commandID] = b
		}
		return b
	}

	return Namespace{
		Funcs: map[string]Func{
			"get": func(_ context.Context, call Call) (any, error) {
				key, err := argString(call, 0)
				if err != nil {
					return nil, err
				}
				mu.Lock()
				defer mu.Unlock()
				return bucket(call.CommandID)[key], nil
			},
			"set": func(_ context.Context, call Call) (any, error) {
				key, err := argString(call, 0)
				if err != nil {
					return nil, err
				}
				if len(call.Args) < 2 {
					return nil, errors.New("missing value argument")
				}
				value := call.Args[1]
				if maxValueBytes > 0 {
					encoded, err := json.Marshal(value)
					if err != nil {
						return nil, errors.Wrap(err, "value is not storable")
					}
					if len(encoded) > maxValueBytes {
						return nil, errors.Wrapf(errors.ErrPolicyDenied,
							"value exceeds %d bytes", maxValueBytes)
					}
				}
				mu.Lock()
				defer mu.Unlock()
				bucket(call.CommandID)[key] = value
				return nil, nil
			},
			"delete": func(_ context.Context, call Call) (any, error) {
				key, err := argString(call, 0)
				if err != nil {
					return nil, err
				}
				mu.Lock()
				defer mu.Unlock()
				delete(bucket(call.CommandID), key)
				return nil, nil
			},
			"keys": func(_ context.Context, call Call) (any, error) {
				mu.Lock()
				defer mu.Unlock()
				b := bucket(call.CommandID)
				keys := make([]string, 0, len(b))
				for k := range b {
					keys = append(keys, k)
				}
				sort.Strings(keys)
				return keys, nil
			},
		},
	}
}

// -----------------------------------------------------------------------------
// files
// -----------------------------------------------------------------------------

// FilesNamespace exposes file access under root, restricted to paths
// matching the allow globs. Paths are always interpreted relative to
// root; anything that escapes it is denied by policy.
func FilesNamespace(root string, patterns []string) (Namespace, error) {
	globs := make([]glob.Glob, 0, len(patterns))
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			return Namespace{}, errors.Wrapf(err, "invalid file glob %q", p)
		}
		globs = append(globs, g)
	}

	// resolve validates a sandbox-relative path and returns its absolute
	// form under root.
	resolve := func(rel string) (string, error) {
		if rel == "" {
			return "", errors.Wrap(errors.ErrPolicyDenied, "empty path")
		}
		if filepath.IsAbs(rel) {
			return "", errors.Wrapf(errors.ErrPolicyDenied, "absolute path %q", rel)
		}
		clean := filepath.ToSlash(filepath.Clean(rel))
		if clean == ".." || strings.HasPrefix(clean, "../") {
			return "", errors.Wrapf(errors.ErrPolicyDenied, "path %q escapes the sandbox", rel)
		}
		allowed := false
		for _, g := range globs {
			if g.Match(clean) {
				allowed = true
				break
			}
		}
		if !allowed {
			return "", errors.Wrapf(errors.ErrPolicyDenied, "path %q not allowed", rel)
		}
		return filepath.Join(root, filepath.FromSlash(clean)), nil
	}

	return Namespace{
		Funcs: map[string]Func{
			"read": func(_ context.Context, call Call) (any, error) {
				rel, err := argString(call, 0)
				if err != nil {
					return nil, err
				}
				abs, err := resolve(rel)
				if err != nil {
					return nil, err
				}
				data, err := os.ReadFile(abs)
				if err != nil {
					return nil, err
				}
				return string(data), nil
			},
			"write": func(_ context.Context, call Call) (any, error) {
				rel, err := argString(call, 0)
				if err != nil {
					return nil, err
				}
				text, err := argString(call, 1)
				if err != nil {
					return nil, err
				}
				abs, err := resolve(rel)
				if err != nil {
					return nil, err
				}
				if err := os.MkdirAll(filepath.Dir(abs), 0755); err != nil {
					return nil, err
				}
				return nil, os.WriteFile(abs, []byte(text), 0644)
			},
			"list": func(_ context.Context, call Call) (any, error) {
				rel, err := argString(call, 0)
				if err != nil {
					return nil, err
				}
				abs, err := resolve(rel)
				if err != nil {
					return nil, err
				}
				entries, err := os.ReadDir(abs)
				if err != nil {
					return nil, err
				}
				names := make([]string, 0, len(entries))
				for _, e := range entries {
					names = append(names, e.Name())
				}
				return names, nil
			},
			"remove": func(_ context.Context, call Call) (any, error) {
				rel, err := argString(call, 0)
				if err != nil {
					return nil, err
				}
				abs, err := resolve(rel)
				if err != nil {
					return nil, err
				}
				return nil, os.Remove(abs)
			},
		},
	}, nil
}

// -----------------------------------------------------------------------------
// secrets
// -----------------------------------------------------------------------------

// SecretsNamespace exposes named secrets to commands holding a grant.
// A command without a grant for the requested name is denied before the
// value is touched.
func SecretsNamespace(secrets map[string]string, grants map[string][]string) Namespace {
	granted := func(commandID, name string) bool {
		for _, g := range grants[commandID] {
			if g == name {
				return true
			}
		}
		return false
	}

	return Namespace{
		Policy: func(call Call) error {
			name, err := argString(call, 0)
			if err != nil {
				return err
			}
			if !granted(call.CommandID, name) {
				return errors.Wrapf(errors.ErrPolicyDenied,
					"command %q has no grant for secret %q", call.CommandID, name)
			}
			return nil
		},
		Funcs: map[string]Func{
			"get": func(_ context.Context, call Call) (any, error) {
				name, err := argString(call, 0)
				if err != nil {
					return nil, err
				}
				value, ok := secrets[name]
				if !ok {
					return nil, errors.Wrapf(errors.ErrUnknownCapability, "secret %q", name)
				}
				return value, nil
			},
		},
	}
}

// -----------------------------------------------------------------------------
// ui
// -----------------------------------------------------------------------------

// UINamespace lets sandboxed code surface notices through the event
// bus. The monitor renders them in its feed.
func UINamespace(bus *event.Bus) Namespace {
	return Namespace{
		Funcs: map[string]Func{
			"notify": func(_ context.Context, call Call) (any, error) {
				text, err := argString(call, 0)
				if err != nil {
					return nil, err
				}
				bus.Publish(event.NewUINoticeEvent(call.CommandID, text))
				return nil, nil
			},
		},
	}
}
