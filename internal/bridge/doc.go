// Package bridge exposes namespaced host capabilities to sandboxed
// code through a uniform request/response envelope. Every call is
// validated against the namespace's policy before it executes, and
// every failure crosses back as {ok:false, error: message}. The
// original error value, its wrapping chain, and any stack never leave
// the host side.
package bridge
