// Package transport provides reconnecting, queuing duplex channels that
// carry protocol messages between a client and the bridge.
package transport

import (
	"context"
	"errors"
	"time"

	pkgerrors "github.com/absmach/fedmob/pkg/errors"
	"github.com/absmach/fedmob/pkg/protocol"
)

var (
	// ErrConnectivityLost is emitted with a Fatal event once reconnection
	// has given up.
	ErrConnectivityLost = errors.Join(pkgerrors.ErrTransport, errors.New("connectivity lost"))
	ErrNotConnected     = errors.Join(pkgerrors.ErrTransport, errors.New("not connected"))
	ErrClosed           = errors.Join(pkgerrors.ErrTransport, errors.New("channel closed"))
	ErrAlreadyStarted   = errors.Join(pkgerrors.ErrTransport, errors.New("channel already started"))
)

type EventKind uint8

const (
	Connected EventKind = iota
	Disconnected
	Fatal
)

func (k EventKind) String() string {
	switch k {
	case Connected:
		return "connected"
	case Disconnected:
		return "disconnected"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

type Event struct {
	Kind EventKind
	// Attempt is the number of failed dials before a Connected event or
	// before giving up.
	Attempt int
	Err     error
	At      time.Time
}

// Channel is a reconnecting message channel. Send queues messages while
// the channel is down or the handshake for the current connection has not
// completed; queued messages are flushed in FIFO order.
type Channel interface {
	// Connect starts the channel and blocks until the first connection is
	// established or reconnection gives up. It may be called once.
	Connect(ctx context.Context) error

	// Send queues msg for delivery.
	Send(ctx context.Context, msg protocol.Message) error

	// SendDirect writes msg on the current connection, bypassing the
	// queue. It is used for handshake messages.
	SendDirect(ctx context.Context, msg protocol.Message) error

	// HandshakeComplete releases the queue for the current connection.
	HandshakeComplete()

	// Messages is fed by a single reader. It is closed by Disconnect.
	Messages() <-chan protocol.Message

	// Events reports connection changes. It is closed by Disconnect.
	Events() <-chan Event

	// Pending returns the number of queued messages.
	Pending() int

	Disconnect(ctx context.Context) error
}
