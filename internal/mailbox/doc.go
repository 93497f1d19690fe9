// Package mailbox routes messages between concurrently running
// instances with queue-until-registered semantics: a message sent to a
// command that has not yet bound a handler is buffered, and the entire
// backlog is flushed in FIFO order the moment a handler is bound.
//
// Ordering is guaranteed per (sender, target) pair only. Queues are
// bounded; overflow evicts the oldest message and logs a warning, so a
// target that is aborted and never recreated costs at most one queue's
// worth of memory.
package mailbox
