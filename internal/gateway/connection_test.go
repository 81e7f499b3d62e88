package gateway

import (
	"encoding/json"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/delfinzap/realtime/internal/envelope"
	gwerrors "github.com/delfinzap/realtime/internal/errors"
)

func TestEmit_EncryptsDomainEvents(t *testing.T) {
	agent := agentPrincipal()
	g := testGateway(t, newFakePrincipalStore(agent), newFakeTicketStore())
	c := testConnection(g, agent)

	payload := map[string]interface{}{"id": "t1", "status": "open"}
	require.True(t, c.Emit("ticket", payload))

	frames := drainFrames(t, c)
	require.Len(t, frames, 1)
	assert.Equal(t, "encrypted:ticket", frames[0].Event)

	// The frame payload is an envelope that decrypts back to the original
	var env envelope.Envelope
	require.NoError(t, json.Unmarshal(frames[0].Payload, &env))
	assert.Equal(t, "ticket", env.Event)
	assert.NotEmpty(t, env.IV)

	event, decrypted, err := g.crypto.DecryptEnvelope(&env)
	require.NoError(t, err)
	assert.Equal(t, "ticket", event)
	assert.Equal(t, map[string]interface{}{"id": "t1", "status": "open"}, decrypted)
}

func TestEmit_ReservedEventsStayPlaintext(t *testing.T) {
	agent := agentPrincipal()
	g := testGateway(t, newFakePrincipalStore(agent), newFakeTicketStore())
	c := testConnection(g, agent)

	require.True(t, c.Emit("ready", nil))
	require.True(t, c.Emit("error", map[string]interface{}{"code": "X"}))
	require.True(t, c.Emit("gateway.ping", nil))

	frames := drainFrames(t, c)
	require.Len(t, frames, 3)
	assert.Equal(t, "ready", frames[0].Event)
	assert.Equal(t, "error", frames[1].Event)
	assert.Equal(t, "gateway.ping", frames[2].Event)
	assert.Empty(t, frames[0].Payload)
}

func TestEmit_NilCryptoSendsPlaintext(t *testing.T) {
	agent := agentPrincipal()
	g := testGateway(t, newFakePrincipalStore(agent), newFakeTicketStore())
	c := newConnection(nil, "conn-plain", agent, nil, g.logger)

	require.True(t, c.Emit("ticket", map[string]interface{}{"id": "t1"}))

	frames := drainFrames(t, c)
	require.Len(t, frames, 1)
	assert.Equal(t, "ticket", frames[0].Event)

	var payload map[string]interface{}
	require.NoError(t, json.Unmarshal(frames[0].Payload, &payload))
	assert.Equal(t, "t1", payload["id"])
}

func TestSendError_Shape(t *testing.T) {
	agent := agentPrincipal()
	g := testGateway(t, newFakePrincipalStore(agent), newFakeTicketStore())
	c := testConnection(g, agent)

	c.sendError(gwerrors.ErrRateLimitExceeded("joinChatBox"), 750)

	frames := drainFrames(t, c)
	require.Len(t, frames, 1)
	// Error frames bypass encryption so clients can always decode them
	require.Equal(t, "error", frames[0].Event)

	var p errorPayload
	require.NoError(t, json.Unmarshal(frames[0].Payload, &p))
	assert.Equal(t, "RATE_LIMIT_EXCEEDED", p.Code)
	assert.Equal(t, "joinChatBox", p.Event)
	assert.Equal(t, 750, p.RetryAfter)
	assert.True(t, p.Recoverable)
	assert.NotEmpty(t, p.Message)
}

func TestSafeSend_AfterSetClosing(t *testing.T) {
	agent := agentPrincipal()
	g := testGateway(t, newFakePrincipalStore(agent), newFakeTicketStore())
	c := testConnection(g, agent)

	require.True(t, c.SafeSend([]byte("{}")))

	c.SetClosing()
	assert.False(t, c.SafeSend([]byte("{}")))
	assert.False(t, c.Emit("ticket", nil))
}

func TestSafeSend_BufferFull(t *testing.T) {
	agent := agentPrincipal()
	g := testGateway(t, newFakePrincipalStore(agent), newFakeTicketStore())
	c := testConnection(g, agent)

	for i := 0; i < cap(c.send); i++ {
		require.True(t, c.SafeSend([]byte("{}")))
	}

	// A full buffer drops the frame instead of blocking
	assert.False(t, c.SafeSend([]byte("{}")))
	assert.False(t, c.Emit("ticket", nil))
}

func TestSafeSend_ConcurrentWithCloseSend(t *testing.T) {
	agent := agentPrincipal()
	g := testGateway(t, newFakePrincipalStore(agent), newFakeTicketStore())
	c := testConnection(g, agent)

	// Hammer SafeSend from many goroutines while the channel is closed
	// underneath them, as a hub publish racing a disconnect would
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			for j := 0; j < 100; j++ {
				c.SafeSend([]byte("{}"))
			}
		}()
	}

	assert.NotPanics(t, func() {
		close(start)
		c.closeSend()
		wg.Wait()
	})

	assert.False(t, c.SafeSend([]byte("{}")))
}

func TestReservedEvent(t *testing.T) {
	assert.True(t, reservedEvent("ready"))
	assert.True(t, reservedEvent("error"))
	assert.True(t, reservedEvent("gateway.shutdown"))

	assert.False(t, reservedEvent("ticket"))
	assert.False(t, reservedEvent("appMessage"))
	assert.False(t, reservedEvent("readyState"))
}

func TestClose_NilSocketIsSafe(t *testing.T) {
	agent := agentPrincipal()
	g := testGateway(t, newFakePrincipalStore(agent), newFakeTicketStore())
	c := testConnection(g, agent)

	assert.NoError(t, c.Close())
}
