package server

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	mcperrors "github.com/ajitpratap0/mcp-server-core/pkg/errors"
	"github.com/ajitpratap0/mcp-server-core/pkg/protocol"
)

func TestSubscriptions(t *testing.T) {
	s := newTestServer(t)
	a, b := newFakeConn("a"), newFakeConn("b")
	initialize(t, s, a)
	initialize(t, s, b)

	resp := call(t, s, a, protocol.IntID(1), protocol.MethodSubscribeResource, &protocol.SubscribeParams{URI: "mem://watched"})
	require.Nil(t, resp.Error)
	// Subscribing twice is harmless.
	resp = call(t, s, a, protocol.IntID(2), protocol.MethodSubscribeResource, &protocol.SubscribeParams{URI: "mem://watched"})
	require.Nil(t, resp.Error)
	assert.Equal(t, []string{"mem://watched"}, s.Subscriptions("a"))
	assert.Empty(t, s.Subscriptions("b"))

	require.NoError(t, s.NotifyResourceUpdated(context.Background(), "mem://watched"))
	msg := a.next(t)
	assert.Equal(t, protocol.NotificationResourceUpdated, msg.Method)
	var params protocol.ResourceUpdatedParams
	require.NoError(t, json.Unmarshal(msg.Params, &params))
	assert.Equal(t, "mem://watched", params.URI)
	b.expectNone(t, 50*time.Millisecond)

	require.NoError(t, s.NotifyResourceUpdated(context.Background(), "mem://other"))
	a.expectNone(t, 50*time.Millisecond)

	resp = call(t, s, a, protocol.IntID(3), protocol.MethodUnsubscribeResource, &protocol.SubscribeParams{URI: "mem://watched"})
	require.Nil(t, resp.Error)
	require.NoError(t, s.NotifyResourceUpdated(context.Background(), "mem://watched"))
	a.expectNone(t, 50*time.Millisecond)

	resp = call(t, s, a, protocol.IntID(4), protocol.MethodUnsubscribeResource, &protocol.SubscribeParams{URI: "mem://watched"})
	requireErrorCode(t, resp, mcperrors.CodeInvalidParams)

	resp = call(t, s, a, protocol.IntID(5), protocol.MethodSubscribeResource, &protocol.SubscribeParams{})
	requireErrorCode(t, resp, mcperrors.CodeInvalidParams)
}

func TestListChangedBroadcast(t *testing.T) {
	s := newTestServer(t)
	a, b, pending := newFakeConn("a"), newFakeConn("b"), newFakeConn("pending")
	initialize(t, s, a)
	initialize(t, s, b)
	call(t, s, pending, protocol.IntID(1), protocol.MethodPing, nil)

	tests := []struct {
		method string
		send   func() error
	}{
		{protocol.NotificationResourcesListChanged, func() error { return s.NotifyResourcesListChanged(context.Background()) }},
		{protocol.NotificationPromptsListChanged, func() error { return s.NotifyPromptsListChanged(context.Background()) }},
		{protocol.NotificationToolsListChanged, func() error {
			s.RegisterTool(echoTool, echoHandler)
			return nil
		}},
		{protocol.NotificationToolsListChanged, func() error {
			s.Tools().UnregisterTool("echo")
			return nil
		}},
	}
	for _, tt := range tests {
		require.NoError(t, tt.send())
		assert.Equal(t, tt.method, a.next(t).Method)
		assert.Equal(t, tt.method, b.next(t).Method)
	}
	pending.expectNone(t, 50*time.Millisecond)
}

func TestNotifyAfterDisconnect(t *testing.T) {
	s := newTestServer(t)
	conn := newFakeConn("gone")
	initialize(t, s, conn)
	require.NoError(t, conn.Close())

	require.Eventually(t, func() bool {
		return s.SessionState("gone") == StateClosed
	}, time.Second, 10*time.Millisecond)
	assert.NoError(t, s.NotifyResourcesListChanged(context.Background()))
}
