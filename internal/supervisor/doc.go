// Package supervisor owns the registry of live instances keyed by
// command id. It is the only writer of the registry: create, replace,
// and abort for the same id are serialized on a per-key lock, so a
// replacement instance never overlaps the one it evicts. The supervisor
// also implements the host surface instances call back into (stop,
// open, send, bridge invoke, script listing).
package supervisor
