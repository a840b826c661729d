package server

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/mcp-server-core/pkg/protocol"
	"github.com/ajitpratap0/mcp-server-core/pkg/transport"
)

// fakeConn records everything the server sends on it.
type fakeConn struct {
	id   string
	out  chan []byte
	done chan struct{}
	once sync.Once
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{
		id:   id,
		out:  make(chan []byte, 64),
		done: make(chan struct{}),
	}
}

func (c *fakeConn) ID() string            { return c.id }
func (c *fakeConn) Done() <-chan struct{} { return c.done }

func (c *fakeConn) Send(ctx context.Context, msg interface{}) error {
	select {
	case <-c.done:
		return transport.ErrConnectionClosed
	default:
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case c.out <- data:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.done) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// next returns the next message the server sent.
func (c *fakeConn) next(t *testing.T) *protocol.Message {
	t.Helper()
	select {
	case data := <-c.out:
		msg, err := protocol.DecodeMessage(data)
		require.NoError(t, err, "server sent %s", data)
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func (c *fakeConn) nextRaw(t *testing.T) []byte {
	t.Helper()
	select {
	case data := <-c.out:
		return data
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func (c *fakeConn) expectNone(t *testing.T, wait time.Duration) {
	t.Helper()
	select {
	case data := <-c.out:
		t.Fatalf("unexpected message: %s", data)
	case <-time.After(wait):
	}
}

func newTestServer(t *testing.T, opts ...ServerOption) *Server {
	t.Helper()
	s := New(nil, opts...)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func encodeRequest(t *testing.T, id protocol.RequestID, method string, params interface{}) []byte {
	t.Helper()
	req, err := protocol.NewRequest(id, method, params)
	require.NoError(t, err)
	data, err := json.Marshal(req)
	require.NoError(t, err)
	return data
}

// call sends a request and returns the reply, skipping any notifications
// the server sent first.
func call(t *testing.T, s *Server, conn *fakeConn, id protocol.RequestID, method string, params interface{}) *protocol.Message {
	t.Helper()
	s.HandleMessage(context.Background(), conn, encodeRequest(t, id, method, params))
	for {
		msg := conn.next(t)
		if msg.IsResponse() {
			require.Equal(t, id, msg.ID)
			return msg
		}
	}
}

func notify(t *testing.T, s *Server, conn *fakeConn, method string, params interface{}) {
	t.Helper()
	n, err := protocol.NewNotification(method, params)
	require.NoError(t, err)
	data, err := json.Marshal(n)
	require.NoError(t, err)
	s.HandleMessage(context.Background(), conn, data)
}

func initParams() *protocol.InitializeParams {
	return &protocol.InitializeParams{
		ProtocolVersion: protocol.ProtocolVersion,
		ClientInfo:      protocol.Implementation{Name: "test-client", Version: "0.1.0"},
	}
}

// initialize runs the full handshake on conn.
func initialize(t *testing.T, s *Server, conn *fakeConn) {
	t.Helper()
	resp := call(t, s, conn, protocol.StringID("init"), protocol.MethodInitialize, initParams())
	require.Nil(t, resp.Error, "initialize failed: %+v", resp.Error)
	notify(t, s, conn, protocol.NotificationInitialized, nil)
}

func decodeResult(t *testing.T, msg *protocol.Message, target interface{}) {
	t.Helper()
	require.Nil(t, msg.Error, "unexpected error: %+v", msg.Error)
	require.NoError(t, json.Unmarshal(msg.Result, target))
}

func requireErrorCode(t *testing.T, msg *protocol.Message, code int) {
	t.Helper()
	require.NotNil(t, msg.Error, "expected error %d, got result %s", code, msg.Result)
	require.Equal(t, code, msg.Error.Code, "message: %s", msg.Error.Message)
}
