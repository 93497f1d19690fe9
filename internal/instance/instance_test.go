package instance

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/scriptbox/scriptbox/internal/bridge"
	"github.com/scriptbox/scriptbox/internal/errors"
	"github.com/scriptbox/scriptbox/internal/gate"
	"github.com/scriptbox/scriptbox/internal/mailbox"
	"github.com/scriptbox/scriptbox/internal/script"
)

// testHost records everything an instance calls back with. Message
// delivery goes through a real mailbox bus.
type testHost struct {
	mu      sync.Mutex
	bus     *mailbox.Bus
	sends   []sentMsg
	stops   []stopReq
	invoke  func(call bridge.Call) bridge.Result
	scripts []script.Meta
}

type sentMsg struct {
	target  string
	from    string
	payload any
}

type stopReq struct {
	id     string
	reason AbortReason
}

func newTestHost() *testHost {
	return &testHost{bus: mailbox.NewBus(0, nil)}
}

func (h *testHost) Stop(id string, reason AbortReason) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.stops = append(h.stops, stopReq{id: id, reason: reason})
}

func (h *testHost) Open(_ context.Context, target, from string, payload any) error {
	if payload != nil {
		h.Send(target, from, payload)
	}
	return nil
}

func (h *testHost) Send(target, from string, payload any) {
	h.mu.Lock()
	h.sends = append(h.sends, sentMsg{target: target, from: from, payload: payload})
	h.mu.Unlock()
	h.bus.Send(target, from, payload)
}

func (h *testHost) Bind(id string, handler func(from string, payload any)) func() {
	return h.bus.Bind(id, handler)
}

func (h *testHost) Invoke(_ context.Context, call bridge.Call) bridge.Result {
	if h.invoke != nil {
		return h.invoke(call)
	}
	return bridge.Result{OK: true}
}

func (h *testHost) Scripts() []script.Meta {
	return h.scripts
}

// sentTo returns the payloads sent to a target so far.
func (h *testHost) sentTo(target string) []any {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []any
	for _, s := range h.sends {
		if s.target == target {
			out = append(out, s.payload)
		}
	}
	return out
}

func (h *testHost) stopRequests() []stopReq {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]stopReq(nil), h.stops...)
}

// waitFor polls until cond holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func start(t *testing.T, id, source string, host Host) *Instance {
	t.Helper()
	inst, err := New(id, source, OriginTrusted, host, gate.New())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { inst.Abort(AbortReason{Type: ReasonStopped}) })
	return inst
}

func TestInstance_TopLevelCompletes(t *testing.T) {
	host := newTestHost()
	inst := start(t, "job.a", `command.sendMessage("probe", command.id + ":" + command.origin);`, host)

	if err := inst.WaitReady(context.Background()); err != nil {
		t.Fatalf("WaitReady failed: %v", err)
	}

	got := host.sentTo("probe")
	if len(got) != 1 || got[0] != "job.a:trusted" {
		t.Errorf("unexpected probe: %v", got)
	}
	if inst.State() != StateRunning {
		t.Errorf("expected running state, got %s", inst.State())
	}
}

func TestInstance_TopLevelException(t *testing.T) {
	host := newTestHost()
	inst := start(t, "job.bad", `throw new Error("kaput");`, host)

	err := inst.WaitReady(context.Background())
	if err == nil {
		t.Fatal("expected a top-level error")
	}
	var scriptErr *errors.ScriptError
	if !errors.As(err, &scriptErr) {
		t.Errorf("expected a ScriptError, got %T", err)
	}
	if !strings.Contains(err.Error(), "kaput") {
		t.Errorf("error should carry the script message, got %q", err.Error())
	}
}

func TestInstance_RequireUnknownModuleFails(t *testing.T) {
	host := newTestHost()
	inst := start(t, "job.req", `require("left-pad");`, host)

	err := inst.WaitReady(context.Background())
	if err == nil {
		t.Fatal("expected the require to fail")
	}
	if !strings.Contains(err.Error(), "module not allowed") {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestInstance_OnStopFiresExactlyOnceWithFirstReason(t *testing.T) {
	host := newTestHost()
	inst := start(t, "job.a", `
		command.onStop(function(reason) {
			command.sendMessage("probe", reason.type);
		});
	`, host)
	if err := inst.WaitReady(context.Background()); err != nil {
		t.Fatalf("WaitReady failed: %v", err)
	}

	inst.Abort(AbortReason{Type: ReasonReplaced})
	inst.Abort(AbortReason{Type: ReasonRemoved}) // loses: first write wins

	waitFor(t, func() bool { return len(host.sentTo("probe")) >= 1 }, "onStop callback")
	time.Sleep(20 * time.Millisecond)

	got := host.sentTo("probe")
	if len(got) != 1 {
		t.Fatalf("onStop must fire exactly once, fired %d times", len(got))
	}
	if got[0] != "replaced" {
		t.Errorf("expected reason replaced, got %v", got[0])
	}
	if r := inst.Reason(); r == nil || r.Type != ReasonReplaced {
		t.Errorf("unexpected recorded reason: %+v", r)
	}
}

func TestInstance_OnStopUnsubscribe(t *testing.T) {
	host := newTestHost()
	inst := start(t, "job.a", `
		var off = command.onStop(function() { command.sendMessage("probe", "fired"); });
		off();
	`, host)
	if err := inst.WaitReady(context.Background()); err != nil {
		t.Fatalf("WaitReady failed: %v", err)
	}

	inst.Abort(AbortReason{Type: ReasonStopped})
	time.Sleep(20 * time.Millisecond)

	if got := host.sentTo("probe"); len(got) != 0 {
		t.Errorf("unsubscribed callback must not fire, got %v", got)
	}
}

func TestInstance_OnStopRegisteredDuringSweepStillFires(t *testing.T) {
	host := newTestHost()
	inst := start(t, "job.a", `
		command.onStop(function() {
			command.onStop(function() { command.sendMessage("probe", "late"); });
		});
	`, host)
	if err := inst.WaitReady(context.Background()); err != nil {
		t.Fatalf("WaitReady failed: %v", err)
	}

	inst.Abort(AbortReason{Type: ReasonStopped})

	waitFor(t, func() bool {
		got := host.sentTo("probe")
		return len(got) == 1 && got[0] == "late"
	}, "late onStop callback")
}

func TestInstance_ReasonUndefinedWhileRunning(t *testing.T) {
	host := newTestHost()
	inst := start(t, "job.a", `
		command.sendMessage("probe", command.reason() === undefined);
	`, host)
	if err := inst.WaitReady(context.Background()); err != nil {
		t.Fatalf("WaitReady failed: %v", err)
	}
	got := host.sentTo("probe")
	if len(got) != 1 || got[0] != true {
		t.Errorf("reason() must be undefined while running, got %v", got)
	}
}

func TestInstance_TimersDeadAfterAbort(t *testing.T) {
	host := newTestHost()
	inst := start(t, "job.a", `
		setInterval(function() { command.sendMessage("tick", 1); }, 10);
		setInterval(function() { command.sendMessage("tick", 2); }, 10);
		setInterval(function() { command.sendMessage("tick", 3); }, 10);
	`, host)
	if err := inst.WaitReady(context.Background()); err != nil {
		t.Fatalf("WaitReady failed: %v", err)
	}
	if inst.Arena().Len() != 3 {
		t.Fatalf("expected 3 tracked timers, got %d", inst.Arena().Len())
	}

	inst.Abort(AbortReason{Type: ReasonStopped})
	baseline := len(host.sentTo("tick"))

	// Observe across several intervals: nothing may fire after abort.
	time.Sleep(60 * time.Millisecond)
	if got := len(host.sentTo("tick")); got != baseline {
		t.Errorf("timers fired after abort: %d -> %d", baseline, got)
	}
	if !inst.Arena().Released() {
		t.Error("arena must be released after abort")
	}
}

func TestInstance_SetTimeoutFiresAndClears(t *testing.T) {
	host := newTestHost()
	inst := start(t, "job.a", `
		setTimeout(function() { command.sendMessage("probe", "fired"); }, 5);
		var dead = setTimeout(function() { command.sendMessage("probe", "cleared"); }, 5);
		clearTimeout(dead);
	`, host)
	if err := inst.WaitReady(context.Background()); err != nil {
		t.Fatalf("WaitReady failed: %v", err)
	}

	waitFor(t, func() bool { return len(host.sentTo("probe")) >= 1 }, "timeout to fire")
	time.Sleep(30 * time.Millisecond)

	got := host.sentTo("probe")
	if len(got) != 1 || got[0] != "fired" {
		t.Errorf("expected only the live timeout to fire, got %v", got)
	}
	if inst.Arena().Len() != 0 {
		t.Errorf("fired and cleared timers must leave the arena, %d left", inst.Arena().Len())
	}
}

func TestInstance_OnMessageFlushesBacklogInOrder(t *testing.T) {
	host := newTestHost()

	// Queue before the handler exists.
	host.bus.Send("job.a", "job.b", "first")
	host.bus.Send("job.a", "job.b", "second")

	inst := start(t, "job.a", `
		command.onMessage(function(from, payload) {
			command.sendMessage("probe", from + ":" + payload);
		});
	`, host)
	if err := inst.WaitReady(context.Background()); err != nil {
		t.Fatalf("WaitReady failed: %v", err)
	}

	waitFor(t, func() bool { return len(host.sentTo("probe")) >= 2 }, "backlog flush")
	time.Sleep(20 * time.Millisecond)

	got := host.sentTo("probe")
	if len(got) != 2 || got[0] != "job.b:first" || got[1] != "job.b:second" {
		t.Errorf("backlog must flush exactly once in order, got %v", got)
	}
}

func TestInstance_OnMessageUnsubscribeStopsDelivery(t *testing.T) {
	host := newTestHost()
	inst := start(t, "job.a", `
		var off = command.onMessage(function(from, payload) {
			command.sendMessage("probe", payload);
		});
		off();
	`, host)
	if err := inst.WaitReady(context.Background()); err != nil {
		t.Fatalf("WaitReady failed: %v", err)
	}

	host.bus.Send("job.a", "job.b", "late")
	time.Sleep(20 * time.Millisecond)

	if got := host.sentTo("probe"); len(got) != 0 {
		t.Errorf("unsubscribed handler must not receive, got %v", got)
	}
	if host.bus.Queued("job.a") != 1 {
		t.Errorf("message after unsubscribe must buffer, queued=%d", host.bus.Queued("job.a"))
	}
}

func TestInstance_SelfStopRequestsAbort(t *testing.T) {
	host := newTestHost()
	inst := start(t, "job.a", `command.stop("all done");`, host)
	if err := inst.WaitReady(context.Background()); err != nil {
		t.Fatalf("WaitReady failed: %v", err)
	}

	waitFor(t, func() bool { return len(host.stopRequests()) == 1 }, "stop request")
	req := host.stopRequests()[0]
	if req.id != "job.a" || req.reason.Type != ReasonStopped || req.reason.Detail != "all done" {
		t.Errorf("unexpected stop request: %+v", req)
	}

	// The host acts on the request; teardown must complete.
	inst.Abort(req.reason)
	if inst.State() != StateAborted {
		t.Errorf("expected aborted state, got %s", inst.State())
	}
}

func TestInstance_StopCommandTargetsOther(t *testing.T) {
	host := newTestHost()
	inst := start(t, "job.a", `command.stopCommand("job.b", "make room");`, host)
	if err := inst.WaitReady(context.Background()); err != nil {
		t.Fatalf("WaitReady failed: %v", err)
	}

	waitFor(t, func() bool { return len(host.stopRequests()) == 1 }, "stop request")
	req := host.stopRequests()[0]
	if req.id != "job.b" || req.reason.Detail != "make room" {
		t.Errorf("unexpected stop request: %+v", req)
	}
}

func TestInstance_HostInvokePromise(t *testing.T) {
	host := newTestHost()
	host.invoke = func(call bridge.Call) bridge.Result {
		if call.Namespace == "storage" && call.Function == "get" {
			return bridge.Result{OK: true, Data: "stored-" + call.Args[0].(string)}
		}
		return bridge.Result{OK: false, Error: "unknown bridge capability: " + call.Namespace}
	}

	inst := start(t, "job.a", `
		host.invoke("storage", "get", ["color"]).then(function(data) {
			command.sendMessage("probe", data);
		});
		host.invoke("ghost", "noop", []).catch(function(err) {
			command.sendMessage("probe", String(err));
		});
	`, host)
	if err := inst.WaitReady(context.Background()); err != nil {
		t.Fatalf("WaitReady failed: %v", err)
	}

	waitFor(t, func() bool { return len(host.sentTo("probe")) >= 2 }, "bridge round-trips")

	got := host.sentTo("probe")
	seen := map[any]bool{}
	for _, g := range got {
		seen[g] = true
	}
	if !seen["stored-color"] {
		t.Errorf("missing resolved value, got %v", got)
	}
	if !seen["unknown bridge capability: ghost"] {
		t.Errorf("missing rejected message, got %v", got)
	}
}

func TestInstance_OpenPromiseResolves(t *testing.T) {
	host := newTestHost()
	inst := start(t, "job.a", `
		command.open("job.b", {note: "hi"}).then(function() {
			command.sendMessage("probe", "opened");
		});
	`, host)
	if err := inst.WaitReady(context.Background()); err != nil {
		t.Fatalf("WaitReady failed: %v", err)
	}

	waitFor(t, func() bool { return len(host.sentTo("probe")) >= 1 }, "open to settle")
	if got := host.sentTo("job.b"); len(got) != 1 {
		t.Fatalf("expected the payload to be delivered, got %v", got)
	}
	payload, ok := host.sentTo("job.b")[0].(map[string]any)
	if !ok || payload["note"] != "hi" {
		t.Errorf("payload must cross as a plain exported value, got %#v", host.sentTo("job.b")[0])
	}
}

func TestInstance_ScriptsListing(t *testing.T) {
	host := newTestHost()
	host.scripts = []script.Meta{
		{ID: "job.a", DisplayText: "Job A", DisplayTooltip: "does A"},
		{ID: "job.b", DisplayText: "Job B"},
	}

	inst := start(t, "job.a", `
		var all = command.scripts();
		command.sendMessage("probe", all.length + ":" + all[0].id + ":" + all[0].displayText);
	`, host)
	if err := inst.WaitReady(context.Background()); err != nil {
		t.Fatalf("WaitReady failed: %v", err)
	}

	got := host.sentTo("probe")
	if len(got) != 1 || got[0] != "2:job.a:Job A" {
		t.Errorf("unexpected listing probe: %v", got)
	}
}

func TestInstance_AbortBeforeReady(t *testing.T) {
	host := newTestHost()
	inst, err := New("job.slow", `
		// Busy enough that abort can land before completion is observed.
		var x = 0;
		for (var i = 0; i < 1e6; i++) { x += i; }
	`, OriginBackground, host, gate.New())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	inst.Abort(AbortReason{Type: ReasonRemoved})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := inst.WaitReady(ctx); err != nil {
		if !errors.Is(err, errors.ErrAbortedBeforeReady) {
			t.Errorf("expected ErrAbortedBeforeReady or success, got %v", err)
		}
	}
	if inst.State() != StateAborted {
		t.Errorf("expected aborted, got %s", inst.State())
	}
}

func TestInstance_AbortInterruptsBusyTopLevel(t *testing.T) {
	host := newTestHost()
	inst, err := New("job.spin", `while (true) {}`, OriginTrusted, host, gate.New())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	aborted := make(chan struct{})
	go func() {
		inst.Abort(AbortReason{Type: ReasonStopped})
		close(aborted)
	}()

	select {
	case <-aborted:
	case <-time.After(3 * time.Second):
		t.Fatal("Abort must interrupt a non-yielding script")
	}

	if inst.State() != StateAborted {
		t.Errorf("expected aborted, got %s", inst.State())
	}
	if !inst.Arena().Released() {
		t.Error("arena must be released after abort")
	}
	if err := inst.WaitReady(context.Background()); !errors.Is(err, errors.ErrAbortedBeforeReady) {
		t.Errorf("interrupted top-level must read as aborted, got %v", err)
	}
}

func TestInstance_AbortInterruptsBusyCallback(t *testing.T) {
	host := newTestHost()
	inst := start(t, "job.spin", `
		command.onStop(function(reason) { command.sendMessage("probe", reason.type); });
		setTimeout(function() {
			command.sendMessage("probe", "spinning");
			while (true) {}
		}, 5);
	`, host)
	if err := inst.WaitReady(context.Background()); err != nil {
		t.Fatalf("WaitReady failed: %v", err)
	}

	waitFor(t, func() bool { return len(host.sentTo("probe")) >= 1 }, "callback to start spinning")

	aborted := make(chan struct{})
	go func() {
		inst.Abort(AbortReason{Type: ReasonRemoved})
		close(aborted)
	}()

	select {
	case <-aborted:
	case <-time.After(3 * time.Second):
		t.Fatal("Abort must interrupt a non-yielding callback")
	}

	// The stop callback still runs on the loop after the interrupt is
	// cleared.
	got := host.sentTo("probe")
	if len(got) != 2 || got[1] != "removed" {
		t.Errorf("expected the stop callback to fire after the interrupt, got %v", got)
	}
}

func TestInstance_AbortIsIdempotentAndConcurrent(t *testing.T) {
	host := newTestHost()
	inst := start(t, "job.a", `command.onStop(function() {});`, host)
	if err := inst.WaitReady(context.Background()); err != nil {
		t.Fatalf("WaitReady failed: %v", err)
	}

	var wg sync.WaitGroup
	for k := 0; k < 4; k++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			inst.Abort(AbortReason{Type: ReasonStopped})
		}()
	}
	wg.Wait()

	if inst.State() != StateAborted {
		t.Errorf("expected aborted, got %s", inst.State())
	}
}
