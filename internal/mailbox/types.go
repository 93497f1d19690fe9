package mailbox

import "time"

// Message is a single inter-instance message. Payloads are plain Go
// values (strings, numbers, maps, slices): script values are exported
// before they enter the bus so no VM object ever crosses between
// instances.
type Message struct {
	From    string
	Payload any
	SentAt  time.Time
}

// Handler receives messages for a bound command. Handlers run on the
// sender's goroutine and must not block or call back into the Bus;
// instance handlers satisfy this by posting onto their own loop.
type Handler func(from string, payload any)
