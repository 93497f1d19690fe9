package cmd

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dop251/goja"

	"github.com/scriptbox/scriptbox/internal/event"
	"github.com/scriptbox/scriptbox/internal/instance"
	"github.com/scriptbox/scriptbox/internal/logging"
	"github.com/scriptbox/scriptbox/internal/script"
	"github.com/scriptbox/scriptbox/internal/supervisor"
	"github.com/scriptbox/scriptbox/internal/testutil"
)

func TestSecretsFromEnv(t *testing.T) {
	t.Setenv("SCRIPTBOX_SECRET_API_TOKEN", "tok-123")
	t.Setenv("SCRIPTBOX_SECRET_DB", "pw")
	t.Setenv("UNRELATED_VAR", "ignored")

	secrets := secretsFromEnv()

	if got := secrets["api_token"]; got != "tok-123" {
		t.Errorf("api_token = %q, want %q", got, "tok-123")
	}
	if got := secrets["db"]; got != "pw" {
		t.Errorf("db = %q, want %q", got, "pw")
	}
	if _, ok := secrets["unrelated_var"]; ok {
		t.Error("unrelated variable leaked into secrets")
	}
}

func TestLogModuleExports(t *testing.T) {
	vm := goja.New()
	exports, err := logModule(logging.NopLogger())(vm)
	if err != nil {
		t.Fatalf("logModule failed: %v", err)
	}

	obj := exports.ToObject(vm)
	for _, name := range []string{"debug", "info", "warn", "error"} {
		fn, ok := goja.AssertFunction(obj.Get(name))
		if !ok {
			t.Fatalf("export %s is not a function", name)
		}
		if _, err := fn(goja.Undefined(), vm.ToValue("hello"), vm.ToValue(42)); err != nil {
			t.Errorf("calling %s failed: %v", name, err)
		}
	}
}

func TestRunSourcePrefersFile(t *testing.T) {
	_, scriptsDir := testutil.Sandbox(t)
	store := testutil.LoadedStore(t, scriptsDir, []testutil.Entry{
		{
			Script: script.Script{ID: "job.a", DisplayText: "Job A", SourceFile: "a.js"},
			Source: "1 + 1;",
		},
	})
	a := &app{store: store}

	source, err := runSource(a, "job.a")
	if err != nil {
		t.Fatalf("stored lookup failed: %v", err)
	}
	if source != "1 + 1;" {
		t.Errorf("stored source = %q", source)
	}

	path := filepath.Join(t.TempDir(), "adhoc.js")
	if err := os.WriteFile(path, []byte("2 + 2;"), 0644); err != nil {
		t.Fatal(err)
	}
	runFile = path
	defer func() { runFile = "" }()

	source, err = runSource(a, "job.a")
	if err != nil {
		t.Fatalf("file lookup failed: %v", err)
	}
	if source != "2 + 2;" {
		t.Errorf("file source = %q", source)
	}
}

func newTestApp(t *testing.T) *app {
	t.Helper()

	_, scriptsDir := testutil.Sandbox(t)
	store := testutil.LoadedStore(t, scriptsDir, []testutil.Entry{
		{
			Script: script.Script{ID: "job.a", DisplayText: "Job A", SourceFile: "a.js"},
			Source: "1 + 1;",
		},
	})

	events := event.NewBus()
	sup := supervisor.New(store, supervisor.WithEventBus(events))
	t.Cleanup(sup.Close)

	return &app{store: store, events: events, sup: sup}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestApplyScriptChangeRemovedAbortsInstance(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	if _, err := a.sup.Create(ctx, "job.a", "1 + 1;", instance.OriginBackground); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	var stopped []event.CommandStoppedEvent
	a.events.SubscribeAll(func(e event.Event) {
		if ev, ok := e.(event.CommandStoppedEvent); ok {
			stopped = append(stopped, ev)
		}
	})

	applyScriptChange(ctx, a, script.Change{ID: "job.a", Kind: script.ChangeRemoved})

	if a.sup.IsRunning("job.a") {
		t.Error("instance still running after removal")
	}
	if len(stopped) != 1 || stopped[0].Reason != instance.ReasonRemoved {
		t.Errorf("stopped events = %+v, want one with reason removed", stopped)
	}
}

func TestApplyScriptChangeUpdatedReplacesRunning(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	first, err := a.sup.Create(ctx, "job.a", "1 + 1;", instance.OriginBackground)
	if err != nil {
		t.Fatalf("create failed: %v", err)
	}

	applyScriptChange(ctx, a, script.Change{ID: "job.a", Kind: script.ChangeUpdated})

	waitFor(t, func() bool { return first.State() == instance.StateAborted })
	if !a.sup.IsRunning("job.a") {
		t.Error("no replacement instance running after update")
	}
}

func TestApplyScriptChangeUpdatedIgnoresStopped(t *testing.T) {
	a := newTestApp(t)

	applyScriptChange(context.Background(), a, script.Change{ID: "job.a", Kind: script.ChangeUpdated})

	if a.sup.IsRunning("job.a") {
		t.Error("update of a non-running script must not start it")
	}
}

func TestApplyScriptChangeDisabled(t *testing.T) {
	a := newTestApp(t)
	ctx := context.Background()

	if _, err := a.sup.Create(ctx, "job.a", "1 + 1;", instance.OriginBackground); err != nil {
		t.Fatalf("create failed: %v", err)
	}

	var reasons []string
	a.events.SubscribeAll(func(e event.Event) {
		if ev, ok := e.(event.CommandStoppedEvent); ok {
			reasons = append(reasons, ev.Reason)
		}
	})

	applyScriptChange(ctx, a, script.Change{ID: "job.a", Kind: script.ChangeDisabled})

	if len(reasons) != 1 || reasons[0] != instance.ReasonDisabled {
		t.Errorf("stop reasons = %v, want [disabled]", reasons)
	}
}

func TestStartStartupScripts(t *testing.T) {
	_, scriptsDir := testutil.Sandbox(t)
	store := testutil.LoadedStore(t, scriptsDir, []testutil.Entry{
		{
			Script: script.Script{ID: "boot.a", DisplayText: "Boot A", SourceFile: "boot.js", RunAtStartup: true},
			Source: "1 + 1;",
		},
		{
			Script: script.Script{ID: "idle.b", DisplayText: "Idle B", SourceFile: "idle.js"},
			Source: "1 + 1;",
		},
	})
	sup := supervisor.New(store)
	t.Cleanup(sup.Close)
	a := &app{store: store, sup: sup}

	startStartupScripts(context.Background(), a, logging.NopLogger())

	if !sup.IsRunning("boot.a") {
		t.Error("startup script not launched")
	}
	if sup.IsRunning("idle.b") {
		t.Error("non-startup script launched")
	}
}
