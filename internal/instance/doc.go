// Package instance runs one script in its own goja VM bound to a
// command id. All VM access is serialized on a dedicated loop
// goroutine; timers, message delivery, and bridge responses are posted
// onto the loop as jobs, so script code only ever observes interleaved
// execution, never parallel access to its globals.
//
// Cancellation is cooperative at the code level and forceful at the
// resource level: Abort signals the loop, runs the registered stop
// callbacks exactly once on the loop, then sweeps the instance's arena.
// A timer or message callback scheduled before the abort that has not
// run yet is dropped.
package instance
