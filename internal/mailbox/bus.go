package mailbox

import (
	"sync"
	"time"

	"github.com/scriptbox/scriptbox/internal/logging"
)

// DefaultQueueCap bounds a command's pending queue when the caller
// passes a non-positive cap.
const DefaultQueueCap = 256

// box is the per-command mailbox: either bound to a handler or
// queueing. epoch increments on every bind so a stale unbind cannot
// detach a newer handler.
type box struct {
	handler Handler
	epoch   uint64
	queue   []Message
}

// Bus maps command ids to mailboxes. It is safe for concurrent use.
// Handlers are invoked while the bus lock is held, which is what
// preserves FIFO order per (sender, target) pair; handlers must only
// schedule work, never block.
type Bus struct {
	mu       sync.Mutex
	logger   *logging.Logger
	queueCap int
	boxes    map[string]*box
}

// NewBus creates a Bus with the given per-command queue cap.
func NewBus(queueCap int, logger *logging.Logger) *Bus {
	if queueCap <= 0 {
		queueCap = DefaultQueueCap
	}
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Bus{
		logger:   logger.WithComponent("mailbox"),
		queueCap: queueCap,
		boxes:    make(map[string]*box),
	}
}

// Send delivers a message to the target's mailbox. If a handler is
// bound, it is invoked with (from, payload); otherwise the message is
// appended to the target's pending queue. A full queue evicts its
// oldest message.
func (b *Bus) Send(target, from string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()

	bx := b.ensure(target)
	if bx.handler != nil {
		bx.handler(from, payload)
		return
	}

	if len(bx.queue) >= b.queueCap {
		evicted := bx.queue[0]
		bx.queue = bx.queue[1:]
		b.logger.Warn("mailbox queue full, evicting oldest message",
			"target", target,
			"evicted_from", evicted.From,
			"cap", b.queueCap)
	}
	bx.queue = append(bx.queue, Message{
		From:    from,
		Payload: payload,
		SentAt:  time.Now(),
	})
}

// Bind binds a handler to a command's mailbox, flushing any backlog to
// it in original FIFO order first. Only one handler may be bound at a
// time; binding replaces the previous handler without error. The
// returned unbind func returns the mailbox to queueing state; new
// messages buffer again. Unbinding after a replacement bind is a no-op.
func (b *Bus) Bind(id string, h Handler) (unbind func()) {
	b.mu.Lock()

	bx := b.ensure(id)
	bx.epoch++
	epoch := bx.epoch
	backlog := bx.queue
	bx.queue = nil
	bx.handler = h

	// Flush under the lock so a concurrent Send cannot slip ahead of
	// the backlog.
	for _, msg := range backlog {
		h(msg.From, msg.Payload)
	}
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if cur, ok := b.boxes[id]; ok && cur.epoch == epoch {
			cur.handler = nil
		}
	}
}

// Discard tears down a command's mailbox: the bound handler (if any)
// stops receiving and pending queued messages are dropped. Later sends
// to the same id buffer again, for a replacement instance to flush.
func (b *Bus) Discard(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.boxes, id)
}

// Queued returns the number of pending messages for a command.
func (b *Bus) Queued(id string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if bx, ok := b.boxes[id]; ok {
		return len(bx.queue)
	}
	return 0
}

// QueuedTotal returns the number of pending messages across all
// commands.
func (b *Bus) QueuedTotal() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	total := 0
	for _, bx := range b.boxes {
		total += len(bx.queue)
	}
	return total
}

// ensure returns the box for id, creating it if absent.
// Callers must hold b.mu.
func (b *Bus) ensure(id string) *box {
	bx, ok := b.boxes[id]
	if !ok {
		bx = &box{}
		b.boxes[id] = bx
	}
	return bx
}
