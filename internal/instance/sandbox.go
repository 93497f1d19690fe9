package instance

import (
	"context"
	"time"

	"github.com/dop251/goja"

	"github.com/scriptbox/scriptbox/internal/arena"
	"github.com/scriptbox/scriptbox/internal/bridge"
)

// installSandbox sets the surface sandboxed code may rely on: the
// command and host globals, the arena-tracked timers, and require.
func (i *Instance) installSandbox() error {
	vm := i.vm

	if err := i.gate.Install(vm); err != nil {
		return err
	}

	cmd := vm.NewObject()
	if err := cmd.Set("id", i.id); err != nil {
		return err
	}
	if err := cmd.Set("origin", string(i.origin)); err != nil {
		return err
	}
	for name, fn := range map[string]func(goja.FunctionCall) goja.Value{
		"stop":        i.jsStop,
		"stopCommand": i.jsStopCommand,
		"onStop":      i.jsOnStop,
		"reason":      i.jsReason,
		"open":        i.jsOpen,
		"sendMessage": i.jsSendMessage,
		"onMessage":   i.jsOnMessage,
		"scripts":     i.jsScripts,
	} {
		if err := cmd.Set(name, fn); err != nil {
			return err
		}
	}
	if err := vm.Set("command", cmd); err != nil {
		return err
	}

	host := vm.NewObject()
	if err := host.Set("invoke", i.jsInvoke); err != nil {
		return err
	}
	if err := vm.Set("host", host); err != nil {
		return err
	}

	for name, fn := range map[string]func(goja.FunctionCall) goja.Value{
		"setTimeout":    i.jsSetTimeout,
		"clearTimeout":  i.jsClearTimer,
		"setInterval":   i.jsSetInterval,
		"clearInterval": i.jsClearTimer,
	} {
		if err := vm.Set(name, fn); err != nil {
			return err
		}
	}

	return nil
}

// -----------------------------------------------------------------------------
// command.*
// -----------------------------------------------------------------------------

// jsStop implements command.stop(reason?): the instance requests its
// own abort. The request runs on a fresh goroutine because Abort waits
// for this loop to exit.
func (i *Instance) jsStop(call goja.FunctionCall) goja.Value {
	reason := AbortReason{Type: ReasonStopped}
	if arg := call.Argument(0); !goja.IsUndefined(arg) && !goja.IsNull(arg) {
		reason.Detail = arg.String()
	}
	go i.host.Stop(i.id, reason)
	return goja.Undefined()
}

// jsStopCommand implements command.stopCommand(id, reason?). An omitted
// id targets the caller itself.
func (i *Instance) jsStopCommand(call goja.FunctionCall) goja.Value {
	target := i.id
	if arg := call.Argument(0); !goja.IsUndefined(arg) && !goja.IsNull(arg) {
		target = arg.String()
	}
	reason := AbortReason{Type: ReasonStopped}
	if arg := call.Argument(1); !goja.IsUndefined(arg) && !goja.IsNull(arg) {
		reason.Detail = arg.String()
	}
	go i.host.Stop(target, reason)
	return goja.Undefined()
}

// jsOnStop implements command.onStop(cb) -> unsubscribe. Callbacks fire
// exactly once on the loop; a callback registered during the stop sweep
// is picked up by the sweep's next pass, never invoked synchronously
// with its registration.
func (i *Instance) jsOnStop(call goja.FunctionCall) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(i.vm.NewTypeError("onStop requires a function"))
	}

	entry := &stopEntry{fn: fn}
	i.stopCallbacks = append(i.stopCallbacks, entry)

	return i.vm.ToValue(func(goja.FunctionCall) goja.Value {
		entry.removed = true
		return goja.Undefined()
	})
}

// jsReason implements command.reason() -> {type, detail?} | undefined.
func (i *Instance) jsReason(goja.FunctionCall) goja.Value {
	return i.reasonValue()
}

// jsOpen implements command.open(id, payload?) -> Promise<void>.
func (i *Instance) jsOpen(call goja.FunctionCall) goja.Value {
	target := call.Argument(0).String()
	var payload any
	if arg := call.Argument(1); !goja.IsUndefined(arg) && !goja.IsNull(arg) {
		payload = arg.Export()
	}

	promise, resolve, reject := i.vm.NewPromise()
	go func() {
		err := i.host.Open(context.Background(), target, i.id, payload)
		i.post(func() {
			if err != nil {
				reject(i.vm.ToValue(err.Error()))
				return
			}
			resolve(goja.Undefined())
		})
	}()
	return i.vm.ToValue(promise)
}

// jsSendMessage implements command.sendMessage(id, payload). The
// payload crosses as an exported plain value, never as a live VM
// object.
func (i *Instance) jsSendMessage(call goja.FunctionCall) goja.Value {
	target := call.Argument(0).String()
	var payload any
	if arg := call.Argument(1); !goja.IsUndefined(arg) {
		payload = arg.Export()
	}
	i.host.Send(target, i.id, payload)
	return goja.Undefined()
}

// jsOnMessage implements command.onMessage(handler) -> unsubscribe.
// Binding flushes any backlog queued before the instance registered.
func (i *Instance) jsOnMessage(call goja.FunctionCall) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(i.vm.NewTypeError("onMessage requires a function"))
	}

	b := &msgBinding{handler: fn}
	b.unbind = i.host.Bind(i.id, i.enqueueMessage)
	i.binding = b

	return i.vm.ToValue(func(goja.FunctionCall) goja.Value {
		// A stale unsubscribe after a replacement registration is a
		// no-op; the mailbox epoch-guards its unbind the same way.
		b.unbind()
		if i.binding == b {
			i.binding = nil
		}
		return goja.Undefined()
	})
}

// jsScripts implements command.scripts() -> [{id, displayText,
// displayTooltip}].
func (i *Instance) jsScripts(goja.FunctionCall) goja.Value {
	metas := i.host.Scripts()
	out := make([]map[string]any, 0, len(metas))
	for _, m := range metas {
		entry := map[string]any{
			"id":          m.ID,
			"displayText": m.DisplayText,
		}
		if m.DisplayTooltip != "" {
			entry["displayTooltip"] = m.DisplayTooltip
		}
		out = append(out, entry)
	}
	return i.vm.ToValue(out)
}

// -----------------------------------------------------------------------------
// host.invoke
// -----------------------------------------------------------------------------

// jsInvoke implements host.invoke(namespace, fn, args) -> Promise. The
// bridge envelope is unwrapped: ok resolves with data, failure rejects
// with the message string.
func (i *Instance) jsInvoke(call goja.FunctionCall) goja.Value {
	namespace := call.Argument(0).String()
	function := call.Argument(1).String()

	var args []any
	if arg := call.Argument(2); !goja.IsUndefined(arg) && !goja.IsNull(arg) {
		switch exported := arg.Export().(type) {
		case []any:
			args = exported
		default:
			args = []any{exported}
		}
	}

	promise, resolve, reject := i.vm.NewPromise()
	go func() {
		res := i.host.Invoke(context.Background(), bridge.Call{
			CommandID: i.id,
			Namespace: namespace,
			Function:  function,
			Args:      args,
		})
		i.post(func() {
			if !res.OK {
				reject(i.vm.ToValue(res.Error))
				return
			}
			resolve(i.vm.ToValue(res.Data))
		})
	}()
	return i.vm.ToValue(promise)
}

// -----------------------------------------------------------------------------
// timers
// -----------------------------------------------------------------------------

// jsSetTimeout implements setTimeout(fn, delayMs) -> handle. The timer
// is registered in the arena before it is armed, so an abort sweep can
// never miss it.
func (i *Instance) jsSetTimeout(call goja.FunctionCall) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(i.vm.NewTypeError("setTimeout requires a function"))
	}
	delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
	if delay < 0 {
		delay = 0
	}

	var id uint64
	timer := time.AfterFunc(24*time.Hour, func() {
		i.post(func() {
			if i.State() != StateRunning {
				return
			}
			// A cleared or swept handle means this fire lost the race.
			if !i.arena.Forget(id) {
				return
			}
			i.callScript(fn)
		})
	})

	id, err := i.arena.Register(arena.KindTimer, func() error {
		timer.Stop()
		return nil
	})
	if err != nil {
		// Arena already swept: the instance is aborting.
		timer.Stop()
		return i.vm.ToValue(0)
	}
	timer.Reset(delay)
	return i.vm.ToValue(id)
}

// jsSetInterval implements setInterval(fn, everyMs) -> handle.
func (i *Instance) jsSetInterval(call goja.FunctionCall) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(i.vm.NewTypeError("setInterval requires a function"))
	}
	every := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
	if every <= 0 {
		every = time.Millisecond
	}

	ticker := time.NewTicker(every)
	stop := make(chan struct{})
	go func() {
		for {
			select {
			case <-ticker.C:
				posted := i.post(func() {
					if i.State() != StateRunning {
						return
					}
					i.callScript(fn)
				})
				if !posted {
					return
				}
			case <-stop:
				return
			}
		}
	}()

	id, err := i.arena.Register(arena.KindTimer, func() error {
		ticker.Stop()
		close(stop)
		return nil
	})
	if err != nil {
		ticker.Stop()
		close(stop)
		return i.vm.ToValue(0)
	}
	return i.vm.ToValue(id)
}

// jsClearTimer implements clearTimeout and clearInterval: both release
// the arena handle, which cancels the underlying timer.
func (i *Instance) jsClearTimer(call goja.FunctionCall) goja.Value {
	handle := call.Argument(0).ToInteger()
	if handle > 0 {
		if err := i.arena.Release(uint64(handle)); err != nil {
			i.logger.Warn("timer release failed", "handle", handle, "error", err.Error())
		}
	}
	return goja.Undefined()
}
