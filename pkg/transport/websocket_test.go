package transport_test

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	pkgerrors "github.com/absmach/fedmob/pkg/errors"
	"github.com/absmach/fedmob/pkg/protocol"
	"github.com/absmach/fedmob/pkg/transport"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var logger = slog.New(slog.NewTextHandler(io.Discard, nil))

type wsServer struct {
	*httptest.Server
	conns chan *websocket.Conn
}

func newWSServer(t *testing.T) *wsServer {
	t.Helper()
	s := &wsServer{conns: make(chan *websocket.Conn, 4)}
	upgrader := websocket.Upgrader{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.conns <- conn
	}))
	t.Cleanup(s.Close)

	return s
}

func (s *wsServer) url() string {
	return "ws" + strings.TrimPrefix(s.URL, "http")
}

func (s *wsServer) accept(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-s.conns:
		return conn
	case <-time.After(5 * time.Second):
		t.Fatal("no connection accepted")

		return nil
	}
}

func readType(t *testing.T, conn *websocket.Conn) protocol.Message {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	msg, err := protocol.Parse(data)
	require.NoError(t, err)

	return msg
}

func waitEvent(t *testing.T, ch transport.Channel, kind transport.EventKind) transport.Event {
	t.Helper()
	for {
		select {
		case ev := <-ch.Events():
			if ev.Kind == kind {
				return ev
			}
		case <-time.After(5 * time.Second):
			t.Fatalf("no %s event", kind)

			return transport.Event{}
		}
	}
}

func seq(t *testing.T, n int) protocol.Message {
	t.Helper()
	msg, err := protocol.NewMessage(protocol.TypeTrainingUpdate, map[string]any{"seq": n})
	require.NoError(t, err)

	return msg
}

func seqOf(t *testing.T, msg protocol.Message) int {
	t.Helper()
	fields, err := msg.Fields()
	require.NoError(t, err)

	return int(fields["seq"].(float64))
}

func newChannel(t *testing.T, url string, bc transport.BackoffConfig) transport.Channel {
	t.Helper()
	ch, err := transport.NewWebSocket(transport.WebSocketConfig{URL: url, Backoff: bc}, logger)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = ch.Disconnect(ctx)
	})

	return ch
}

func TestWebSocketQueueUntilHandshake(t *testing.T) {
	srv := newWSServer(t)
	ch := newChannel(t, srv.url(), transport.BackoffConfig{Base: 10 * time.Millisecond, Cap: 50 * time.Millisecond})

	ctx := context.Background()
	require.NoError(t, ch.Connect(ctx))
	conn := srv.accept(t)
	waitEvent(t, ch, transport.Connected)

	for i := range 3 {
		require.NoError(t, ch.Send(ctx, seq(t, i)))
	}
	assert.Equal(t, 3, ch.Pending())

	reg, err := protocol.NewAdapter("c1").Register()
	require.NoError(t, err)
	require.NoError(t, ch.SendDirect(ctx, reg))
	assert.Equal(t, protocol.TypeRegister, readType(t, conn).Type())

	ch.HandshakeComplete()
	for i := range 3 {
		assert.Equal(t, i, seqOf(t, readType(t, conn)))
	}
	require.Eventually(t, func() bool { return ch.Pending() == 0 }, 5*time.Second, 10*time.Millisecond)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"register_ack","status":"success"}`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`not json`)))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"weights_received","status":"success"}`)))

	for _, want := range []string{protocol.TypeRegisterAck, protocol.TypeWeightsReceived} {
		select {
		case msg := <-ch.Messages():
			assert.Equal(t, want, msg.Type())
		case <-time.After(5 * time.Second):
			t.Fatalf("no %s message", want)
		}
	}
}

func TestWebSocketFIFOAfterReconnect(t *testing.T) {
	srv := newWSServer(t)
	ch := newChannel(t, srv.url(), transport.BackoffConfig{Base: 10 * time.Millisecond, Cap: 50 * time.Millisecond})

	ctx := context.Background()
	require.NoError(t, ch.Connect(ctx))
	first := srv.accept(t)
	waitEvent(t, ch, transport.Connected)
	ch.HandshakeComplete()

	require.NoError(t, ch.Send(ctx, seq(t, 0)))
	assert.Equal(t, 0, seqOf(t, readType(t, first)))

	require.NoError(t, first.Close())
	waitEvent(t, ch, transport.Disconnected)

	const n = 20
	for i := 1; i <= n; i++ {
		require.NoError(t, ch.Send(ctx, seq(t, i)))
	}

	second := srv.accept(t)
	ev := waitEvent(t, ch, transport.Connected)
	assert.Equal(t, 0, ev.Attempt)
	ch.HandshakeComplete()

	for i := 1; i <= n; i++ {
		assert.Equal(t, i, seqOf(t, readType(t, second)))
	}
}

func TestWebSocketGivesUp(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	srv.Close()

	ch := newChannel(t, url, transport.BackoffConfig{Base: time.Millisecond, Cap: 5 * time.Millisecond, MaxAttempts: 2})

	err := ch.Connect(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, transport.ErrConnectivityLost)
	assert.ErrorIs(t, err, pkgerrors.ErrTransport)

	ev := waitEvent(t, ch, transport.Fatal)
	assert.Equal(t, 2, ev.Attempt)
	assert.ErrorIs(t, ev.Err, transport.ErrConnectivityLost)
}

func TestWebSocketLifecycle(t *testing.T) {
	srv := newWSServer(t)
	ch := newChannel(t, srv.url(), transport.BackoffConfig{Base: 10 * time.Millisecond})
	ctx := context.Background()

	assert.ErrorIs(t, ch.SendDirect(ctx, seq(t, 0)), transport.ErrNotConnected)

	require.NoError(t, ch.Connect(ctx))
	srv.accept(t)
	assert.ErrorIs(t, ch.Connect(ctx), transport.ErrAlreadyStarted)

	require.NoError(t, ch.Send(ctx, seq(t, 1)))
	require.NoError(t, ch.Disconnect(ctx))
	require.NoError(t, ch.Disconnect(ctx))

	assert.ErrorIs(t, ch.Send(ctx, seq(t, 2)), transport.ErrClosed)
	assert.ErrorIs(t, ch.Connect(ctx), transport.ErrClosed)

	_, open := <-ch.Messages()
	assert.False(t, open)
	for range ch.Events() {
	}
}

func TestNewWebSocketRequiresURL(t *testing.T) {
	_, err := transport.NewWebSocket(transport.WebSocketConfig{}, logger)
	assert.Error(t, err)
}

func TestOutboxFIFO(t *testing.T) {
	t.Parallel()
	o := transport.NewOutbox(2, logger)

	_, ok := o.Pop()
	assert.False(t, ok)

	for i := range 5 {
		o.Push(seq(t, i))
	}
	assert.Equal(t, 5, o.Len())

	head, ok := o.Peek()
	require.True(t, ok)
	assert.Equal(t, 0, seqOf(t, head))
	assert.Equal(t, 5, o.Len())

	for i := range 5 {
		msg, ok := o.Pop()
		require.True(t, ok, fmt.Sprintf("pop %d", i))
		assert.Equal(t, i, seqOf(t, msg))
	}
	assert.Equal(t, 0, o.Len())
}
