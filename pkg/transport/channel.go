package transport

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/absmach/fedmob/pkg/protocol"
)

const (
	defaultInboundBuffer = 64
	eventBuffer          = 16
)

// link is one established connection. Done is closed when the link is
// lost or closed; Err then reports why.
type link interface {
	Write(ctx context.Context, data []byte) error
	Done() <-chan struct{}
	Err() error
	Close() error
}

// dialFunc establishes a link. Inbound frames are passed to deliver from a
// single goroutine per link.
type dialFunc func(ctx context.Context, deliver func([]byte)) (link, error)

type directReq struct {
	data   []byte
	result chan error
}

// channel implements Channel on top of any link type.
type channel struct {
	name    string
	dial    dialFunc
	logger  *slog.Logger
	backoff *Backoff
	outbox  *Outbox

	messages chan protocol.Message
	events   chan Event
	kick     chan struct{}
	direct   chan directReq
	ready    chan error
	closed   chan struct{}

	mu        sync.Mutex
	current   link
	handshake bool
	cancel    context.CancelFunc

	startOnce  sync.Once
	settleOnce sync.Once
	closeOnce  sync.Once
	finishOnce sync.Once
	wg         sync.WaitGroup

	deliverMu sync.RWMutex
	finished  bool
}

func newChannel(name string, dial dialFunc, bc BackoffConfig, highWater, inbound int, logger *slog.Logger) *channel {
	if inbound <= 0 {
		inbound = defaultInboundBuffer
	}

	return &channel{
		name:     name,
		dial:     dial,
		logger:   logger.With(slog.String("transport", name)),
		backoff:  NewBackoff(bc),
		outbox:   NewOutbox(highWater, logger),
		messages: make(chan protocol.Message, inbound),
		events:   make(chan Event, eventBuffer),
		kick:     make(chan struct{}, 1),
		direct:   make(chan directReq),
		ready:    make(chan error, 1),
		closed:   make(chan struct{}),
	}
}

func (c *channel) Connect(ctx context.Context) error {
	started := false
	c.startOnce.Do(func() {
		runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		c.mu.Lock()
		c.cancel = cancel
		c.mu.Unlock()

		c.wg.Add(1)
		go c.run(runCtx)
		started = true
	})
	if !started {
		select {
		case <-c.closed:
			return ErrClosed
		default:
			return ErrAlreadyStarted
		}
	}

	select {
	case err := <-c.ready:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *channel) Send(_ context.Context, msg protocol.Message) error {
	select {
	case <-c.closed:
		return ErrClosed
	default:
	}

	c.outbox.Push(msg)
	c.signal()

	return nil
}

func (c *channel) SendDirect(ctx context.Context, msg protocol.Message) error {
	c.mu.Lock()
	l := c.current
	c.mu.Unlock()
	if l == nil {
		return ErrNotConnected
	}

	req := directReq{data: msg.Bytes(), result: make(chan error, 1)}
	select {
	case c.direct <- req:
	case <-l.Done():
		return ErrNotConnected
	case <-c.closed:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-req.result:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *channel) HandshakeComplete() {
	c.mu.Lock()
	if c.current == nil {
		c.mu.Unlock()

		return
	}
	c.handshake = true
	c.mu.Unlock()

	c.signal()
}

func (c *channel) Messages() <-chan protocol.Message {
	return c.messages
}

func (c *channel) Events() <-chan Event {
	return c.events
}

func (c *channel) Pending() int {
	return c.outbox.Len()
}

func (c *channel) Disconnect(ctx context.Context) error {
	c.startOnce.Do(func() {})
	c.closeOnce.Do(func() {
		close(c.closed)
		c.mu.Lock()
		if c.cancel != nil {
			c.cancel()
		}
		c.mu.Unlock()
	})

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	c.finishOnce.Do(func() {
		c.deliverMu.Lock()
		c.finished = true
		close(c.messages)
		close(c.events)
		c.deliverMu.Unlock()

		if n := c.outbox.Len(); n > 0 {
			c.logger.Warn("Channel closed with undelivered messages", slog.Int("pending", n))
		}
	})

	return nil
}

func (c *channel) run(ctx context.Context) {
	defer c.wg.Done()

	for {
		l, err := c.dial(ctx, c.deliver)
		if err != nil {
			if ctx.Err() != nil {
				c.settle(ErrClosed)

				return
			}

			delay, ok := c.backoff.Next()
			if !ok {
				fatal := fmt.Errorf("%w after %d attempts: %w", ErrConnectivityLost, c.backoff.Attempt(), err)
				c.logger.Error("Giving up on reconnection", slog.Any("error", fatal))
				c.emit(Event{Kind: Fatal, Attempt: c.backoff.Attempt(), Err: fatal, At: time.Now()})
				c.settle(fatal)

				return
			}

			c.logger.Warn("Connection attempt failed",
				slog.Int("attempt", c.backoff.Attempt()),
				slog.Duration("retry_in", delay),
				slog.Any("error", err),
			)

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				c.settle(ErrClosed)

				return
			case <-timer.C:
			}

			continue
		}

		attempts := c.backoff.Attempt()
		c.backoff.Reset()
		c.attach(l)
		c.logger.Info("Connection established", slog.Int("failed_attempts", attempts))
		c.emit(Event{Kind: Connected, Attempt: attempts, At: time.Now()})
		c.settle(nil)

		pumpDone := make(chan struct{})
		go func() {
			defer close(pumpDone)
			c.pump(ctx, l)
		}()

		select {
		case <-l.Done():
		case <-ctx.Done():
		}
		c.detach(l)
		if err := l.Close(); err != nil {
			c.logger.Debug("Failed to close link", slog.Any("error", err))
		}
		<-pumpDone

		if ctx.Err() != nil {
			return
		}

		c.logger.Warn("Connection lost",
			slog.Int("pending", c.outbox.Len()),
			slog.Any("error", l.Err()),
		)
		c.emit(Event{Kind: Disconnected, Err: l.Err(), At: time.Now()})
	}
}

// pump is the only writer on l.
func (c *channel) pump(ctx context.Context, l link) {
	for {
		select {
		case <-l.Done():
			return
		case <-ctx.Done():
			return
		case req := <-c.direct:
			req.result <- l.Write(ctx, req.data)
		case <-c.kick:
			c.flush(ctx, l)
		}
	}
}

func (c *channel) flush(ctx context.Context, l link) {
	for c.released(l) {
		msg, ok := c.outbox.Peek()
		if !ok {
			return
		}
		if err := l.Write(ctx, msg.Bytes()); err != nil {
			c.logger.Warn("Failed to flush queued message",
				slog.String("type", msg.Type()),
				slog.Any("error", err),
			)

			return
		}
		c.outbox.Pop()
	}
}

func (c *channel) released(l link) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.current == l && c.handshake
}

func (c *channel) attach(l link) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.current = l
	c.handshake = false
}

func (c *channel) detach(l link) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current == l {
		c.current = nil
		c.handshake = false
	}
}

func (c *channel) signal() {
	select {
	case c.kick <- struct{}{}:
	default:
	}
}

func (c *channel) settle(err error) {
	c.settleOnce.Do(func() {
		c.ready <- err
	})
}

func (c *channel) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.closed:
	}
}

func (c *channel) deliver(data []byte) {
	msg, err := protocol.Parse(data)
	if err != nil {
		c.logger.Warn("Dropped inbound frame", slog.Any("error", err))

		return
	}

	c.deliverMu.RLock()
	defer c.deliverMu.RUnlock()
	if c.finished {
		return
	}

	select {
	case c.messages <- msg:
	case <-c.closed:
	}
}
