package bridge

import "context"

// Call is one capability invocation. CommandID identifies the calling
// instance; policies use it for per-command grants and storage scoping.
type Call struct {
	CorrelationID string
	CommandID     string
	Namespace     string
	Function      string
	Args          []any
}

// Result is the envelope returned for every call. On failure Error
// carries a message string only.
type Result struct {
	CorrelationID string `json:"correlationId"`
	OK            bool   `json:"ok"`
	Data          any    `json:"data,omitempty"`
	Error         string `json:"error,omitempty"`
}

// Func executes one host-side capability function.
type Func func(ctx context.Context, call Call) (any, error)

// Policy is checked before a namespace function executes. A non-nil
// error rejects the call without running it.
type Policy func(call Call) error

// Namespace bundles a policy with the functions it guards.
type Namespace struct {
	// Policy runs before every function in the namespace. Nil means
	// no pre-check.
	Policy Policy

	// Funcs maps function names to implementations.
	Funcs map[string]Func
}
