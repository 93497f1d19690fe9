// Package gate implements the module-import allowlist enforced on every
// require() call inside an instance. Only specifiers registered as host
// builtins resolve; the gate never consults the filesystem or any
// package resolution scheme, so an unknown specifier fails identically
// whether or not a module by that name exists on disk.
package gate

import (
	"sort"
	"sync"

	"github.com/dop251/goja"

	"github.com/scriptbox/scriptbox/internal/errors"
)

// ModuleLoader builds the exports value for a builtin module in the
// given VM. Loaders run at most once per VM per specifier; the gate
// caches the result.
type ModuleLoader func(vm *goja.Runtime) (goja.Value, error)

// Gate holds the builtin allowlist. One Gate is shared by all
// instances; the per-VM require function and exports cache are created
// by Install.
type Gate struct {
	mu       sync.RWMutex
	builtins map[string]ModuleLoader
}

// New creates a Gate with an empty allowlist.
func New() *Gate {
	return &Gate{
		builtins: make(map[string]ModuleLoader),
	}
}

// RegisterBuiltin adds a builtin module to the allowlist. Registering
// an existing name replaces its loader (already-created VM caches are
// unaffected).
func (g *Gate) RegisterBuiltin(name string, loader ModuleLoader) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.builtins[name] = loader
}

// Allowed reports whether a specifier would resolve. This is the
// synchronous allowlist check; it runs before any module code executes.
func (g *Gate) Allowed(specifier string) bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	_, ok := g.builtins[specifier]
	return ok
}

// Builtins returns the sorted list of registered specifiers.
func (g *Gate) Builtins() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	names := make([]string, 0, len(g.builtins))
	for name := range g.builtins {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// lookup returns the loader for a specifier.
func (g *Gate) lookup(specifier string) (ModuleLoader, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	loader, ok := g.builtins[specifier]
	return loader, ok
}

// Install sets the require function on a VM. The exports cache is
// per-VM; the VM's loop goroutine is the only caller, so the cache
// needs no locking.
func (g *Gate) Install(vm *goja.Runtime) error {
	cache := make(map[string]goja.Value)

	return vm.Set("require", func(call goja.FunctionCall) goja.Value {
		specifier := call.Argument(0).String()

		if cached, ok := cache[specifier]; ok {
			return cached
		}

		loader, ok := g.lookup(specifier)
		if !ok {
			panic(vm.NewGoError(errors.Wrapf(errors.ErrModuleNotAllowed, "require(%q)", specifier)))
		}

		exports, err := loader(vm)
		if err != nil {
			panic(vm.NewGoError(errors.Wrapf(err, "require(%q)", specifier)))
		}

		cache[specifier] = exports
		return exports
	})
}
