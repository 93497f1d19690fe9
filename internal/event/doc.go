// Package event defines the event bus and event types used to decouple
// the supervisor from its observers (CLI, monitor TUI, logs). Status
// events carry only display-safe fields: error text crosses as a plain
// message string, never as an error value.
package event
