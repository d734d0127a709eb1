package transport

import (
	"log/slog"
	"sync"

	"github.com/absmach/fedmob/pkg/protocol"
)

const DefaultHighWater = 256

// Outbox is an unbounded FIFO of outbound messages. Crossing the high
// water mark logs a warning once until the queue drains below it.
type Outbox struct {
	logger    *slog.Logger
	highWater int

	mu     sync.Mutex
	items  []protocol.Message
	bytes  int
	warned bool
}

func NewOutbox(highWater int, logger *slog.Logger) *Outbox {
	if highWater <= 0 {
		highWater = DefaultHighWater
	}

	return &Outbox{
		logger:    logger,
		highWater: highWater,
	}
}

func (o *Outbox) Push(msg protocol.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.items = append(o.items, msg)
	o.bytes += msg.Size()

	if len(o.items) > o.highWater && !o.warned {
		o.warned = true
		o.logger.Warn("Outbound queue above high water mark",
			slog.Int("queued", len(o.items)),
			slog.Int("queued_bytes", o.bytes),
			slog.Int("high_water", o.highWater),
		)
	}
}

// Peek returns the oldest message without removing it.
func (o *Outbox) Peek() (protocol.Message, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.items) == 0 {
		return protocol.Message{}, false
	}

	return o.items[0], true
}

// Pop removes the oldest message.
func (o *Outbox) Pop() (protocol.Message, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.items) == 0 {
		return protocol.Message{}, false
	}

	msg := o.items[0]
	o.items[0] = protocol.Message{}
	o.items = o.items[1:]
	o.bytes -= msg.Size()
	if len(o.items) == 0 {
		o.items = nil
	}
	if o.warned && len(o.items) <= o.highWater {
		o.warned = false
	}

	return msg, true
}

func (o *Outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	return len(o.items)
}
