package gateway

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/real-rm/golog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/delfinzap/realtime/internal/auth"
	"github.com/delfinzap/realtime/internal/channel"
	"github.com/delfinzap/realtime/internal/envelope"
	"github.com/delfinzap/realtime/internal/principal"
	"github.com/delfinzap/realtime/internal/ratelimit"
	"github.com/delfinzap/realtime/internal/ticket"
)

// fakePrincipalStore serves principals from memory
type fakePrincipalStore struct {
	principals map[string]*principal.Principal
	online     map[string]bool
	mu         sync.Mutex
}

func newFakePrincipalStore(ps ...*principal.Principal) *fakePrincipalStore {
	store := &fakePrincipalStore{
		principals: make(map[string]*principal.Principal),
		online:     make(map[string]bool),
	}
	for _, p := range ps {
		store.principals[p.ID] = p
	}
	return store
}

func (s *fakePrincipalStore) FindByID(_ context.Context, id string) (*principal.Principal, error) {
	p, ok := s.principals[id]
	if !ok {
		return nil, principal.ErrNotFound
	}
	return p, nil
}

func (s *fakePrincipalStore) SetOnline(_ context.Context, id string, online bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online[id] = online
	return nil
}

func (s *fakePrincipalStore) isOnline(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.online[id]
}

// fakeTicketStore serves tickets from memory
type fakeTicketStore struct {
	tickets map[string]*ticket.Ticket
}

func newFakeTicketStore(ts ...*ticket.Ticket) *fakeTicketStore {
	store := &fakeTicketStore{tickets: make(map[string]*ticket.Ticket)}
	for _, tk := range ts {
		store.tickets[tk.ID] = tk
	}
	return store
}

func (s *fakeTicketStore) FindByID(_ context.Context, id string) (*ticket.Ticket, error) {
	tk, ok := s.tickets[id]
	if !ok {
		return nil, ticket.ErrNotFound
	}
	return tk, nil
}

func newTestLogger(t *testing.T) *golog.Logger {
	t.Helper()
	logger, err := golog.InitLog(golog.LogConfig{
		Dir:            t.TempDir(),
		Level:          "error",
		StandardOutput: false,
	})
	require.NoError(t, err)
	t.Cleanup(func() { logger.Close() })
	return logger
}

// testGateway wires a gateway over fake stores for handler tests
func testGateway(t *testing.T, principals *fakePrincipalStore, tickets *fakeTicketStore) *Gateway {
	t.Helper()
	logger := newTestLogger(t)
	hub := channel.NewHub(logger)
	limiter := ratelimit.NewEventLimiter(time.Second, 100, time.Minute, logger)
	crypto, err := envelope.NewCrypto("gateway-test-envelope-key")
	require.NoError(t, err)

	return New(auth.NewTokenVerifier("gateway-test-signing-key-0123456789"),
		principals, tickets, hub, crypto, limiter, logger, Options{})
}

// testConnection creates a connection that is registered with the hub but has
// no underlying socket; outbound frames accumulate in the send buffer.
func testConnection(g *Gateway, p *principal.Principal) *Connection {
	return newConnection(nil, "conn-"+p.ID, p, g.crypto, g.logger)
}

// adminPrincipal and agentPrincipal are the two authorization poles
func adminPrincipal() *principal.Principal {
	return &principal.Principal{ID: "admin-1", CompanyID: "co-1", Profile: "admin"}
}

func agentPrincipal() *principal.Principal {
	return &principal.Principal{
		ID:        "agent-1",
		CompanyID: "co-1",
		Profile:   "user",
		Queues: []principal.Queue{
			{ID: "q1", Name: "Support"},
			{ID: "q2", Name: "Sales"},
		},
	}
}

// drainFrames decodes every frame currently buffered on the connection
func drainFrames(t *testing.T, c *Connection) []frame {
	t.Helper()
	var frames []frame
	for {
		select {
		case data := <-c.send:
			var f frame
			require.NoError(t, json.Unmarshal(data, &f))
			frames = append(frames, f)
		default:
			return frames
		}
	}
}

func TestJoinChatBox_AuthorizedOwner(t *testing.T) {
	agent := agentPrincipal()
	g := testGateway(t, newFakePrincipalStore(agent),
		newFakeTicketStore(&ticket.Ticket{ID: "t1", CompanyID: "co-1", UserID: "agent-1", Status: "open"}))
	c := testConnection(g, agent)

	g.handleJoinChatBox(c, "t1")

	assert.Equal(t, 1, g.hub.Len("t1"))
	assert.Equal(t, 1, c.counters.Count("ticket-t1"))
}

func TestJoinChatBox_AdminCanJoinUnassignedTicket(t *testing.T) {
	admin := adminPrincipal()
	g := testGateway(t, newFakePrincipalStore(admin),
		newFakeTicketStore(&ticket.Ticket{ID: "t1", CompanyID: "co-1", UserID: "someone-else", Status: "open"}))
	c := testConnection(g, admin)

	g.handleJoinChatBox(c, "t1")

	assert.Equal(t, 1, g.hub.Len("t1"))
}

func TestJoinChatBox_SoftFailures(t *testing.T) {
	agent := agentPrincipal()

	tests := []struct {
		name   string
		ticket *ticket.Ticket
	}{
		{"ticket does not exist", nil},
		{"ticket from another company", &ticket.Ticket{ID: "t1", CompanyID: "co-2", UserID: "agent-1"}},
		{"ticket assigned to another agent", &ticket.Ticket{ID: "t1", CompanyID: "co-1", UserID: "agent-2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeTicketStore()
			if tt.ticket != nil {
				store.tickets[tt.ticket.ID] = tt.ticket
			}
			g := testGateway(t, newFakePrincipalStore(agent), store)
			c := testConnection(g, agent)

			g.handleJoinChatBox(c, "t1")

			// The join is silently declined: no subscription, no counter
			// advance, and nothing sent to the client
			assert.Equal(t, 0, g.hub.Len("t1"))
			assert.Equal(t, 0, c.counters.Count("ticket-t1"))
			assert.Empty(t, drainFrames(t, c))
		})
	}
}

func TestJoinLeaveChatBox_ReferenceCounting(t *testing.T) {
	agent := agentPrincipal()
	g := testGateway(t, newFakePrincipalStore(agent),
		newFakeTicketStore(&ticket.Ticket{ID: "t1", CompanyID: "co-1", UserID: "agent-1"}))
	c := testConnection(g, agent)

	// Two joins, one subscription
	g.handleJoinChatBox(c, "t1")
	g.handleJoinChatBox(c, "t1")
	assert.Equal(t, 1, g.hub.Len("t1"))
	assert.Equal(t, 2, c.counters.Count("ticket-t1"))

	// First leave keeps the subscription
	g.handleLeaveChatBox(c, "t1")
	assert.Equal(t, 1, g.hub.Len("t1"))

	// Second leave drops it
	g.handleLeaveChatBox(c, "t1")
	assert.Equal(t, 0, g.hub.Len("t1"))

	// Extra leaves stay at zero
	g.handleLeaveChatBox(c, "t1")
	assert.Equal(t, 0, g.hub.Len("t1"))
	assert.Equal(t, 0, c.counters.Count("ticket-t1"))
}

func TestLeaveChatBox_DoesNotReauthorize(t *testing.T) {
	agent := agentPrincipal()
	store := newFakeTicketStore(&ticket.Ticket{ID: "t1", CompanyID: "co-1", UserID: "agent-1"})
	g := testGateway(t, newFakePrincipalStore(agent), store)
	c := testConnection(g, agent)

	g.handleJoinChatBox(c, "t1")
	require.Equal(t, 1, g.hub.Len("t1"))

	// The ticket is reassigned after the join; leaving still works
	store.tickets["t1"].UserID = "agent-2"
	g.handleLeaveChatBox(c, "t1")
	assert.Equal(t, 0, g.hub.Len("t1"))
}

func TestNotification_AdminFanOut(t *testing.T) {
	admin := adminPrincipal()
	g := testGateway(t, newFakePrincipalStore(admin), newFakeTicketStore())
	c := testConnection(g, admin)

	g.handleJoinNotification(c)
	assert.Equal(t, 1, g.hub.Len("company-co-1-notification"))

	g.handleLeaveNotification(c)
	assert.Equal(t, 0, g.hub.Len("company-co-1-notification"))
}

func TestNotification_AgentFanOut(t *testing.T) {
	agent := agentPrincipal()
	g := testGateway(t, newFakePrincipalStore(agent), newFakeTicketStore())
	c := testConnection(g, agent)

	g.handleJoinNotification(c)

	assert.Equal(t, 1, g.hub.Len("queue-q1-notification"))
	assert.Equal(t, 1, g.hub.Len("queue-q2-notification"))
	// allTicket is disabled, so no unassigned-queue channel
	assert.Equal(t, 0, g.hub.Len("queue-null-notification"))

	g.handleLeaveNotification(c)
	assert.Equal(t, 0, g.hub.Len("queue-q1-notification"))
	assert.Equal(t, 0, g.hub.Len("queue-q2-notification"))
}

func TestNotification_AgentWithAllTicket(t *testing.T) {
	agent := agentPrincipal()
	agent.AllTicket = true
	g := testGateway(t, newFakePrincipalStore(agent), newFakeTicketStore())
	c := testConnection(g, agent)

	g.handleJoinNotification(c)
	assert.Equal(t, 1, g.hub.Len("queue-null-notification"))

	g.handleLeaveNotification(c)
	assert.Equal(t, 0, g.hub.Len("queue-null-notification"))
}

func TestNotification_ReferenceCounting(t *testing.T) {
	agent := agentPrincipal()
	g := testGateway(t, newFakePrincipalStore(agent), newFakeTicketStore())
	c := testConnection(g, agent)

	g.handleJoinNotification(c)
	g.handleJoinNotification(c)
	assert.Equal(t, 1, g.hub.Len("queue-q1-notification"))

	g.handleLeaveNotification(c)
	assert.Equal(t, 1, g.hub.Len("queue-q1-notification"))

	g.handleLeaveNotification(c)
	assert.Equal(t, 0, g.hub.Len("queue-q1-notification"))
}

func TestJoinTickets_AdminAnyStatus(t *testing.T) {
	admin := adminPrincipal()
	g := testGateway(t, newFakePrincipalStore(admin), newFakeTicketStore())
	c := testConnection(g, admin)

	for _, status := range []string{"open", "pending", "closed"} {
		g.handleJoinTickets(c, status)
		assert.Equal(t, 1, g.hub.Len("company-co-1-"+status), "status %s", status)

		g.handleLeaveTickets(c, status)
		assert.Equal(t, 0, g.hub.Len("company-co-1-"+status), "status %s", status)
	}
}

func TestJoinTickets_AgentPending(t *testing.T) {
	agent := agentPrincipal()
	agent.AllTicket = true
	g := testGateway(t, newFakePrincipalStore(agent), newFakeTicketStore())
	c := testConnection(g, agent)

	g.handleJoinTickets(c, "pending")

	assert.Equal(t, 1, g.hub.Len("queue-q1-pending"))
	assert.Equal(t, 1, g.hub.Len("queue-q2-pending"))
	assert.Equal(t, 1, g.hub.Len("queue-null-pending"))

	g.handleLeaveTickets(c, "pending")
	assert.Equal(t, 0, g.hub.Len("queue-q1-pending"))
	assert.Equal(t, 0, g.hub.Len("queue-null-pending"))
}

func TestJoinTickets_AgentNonPendingAdvancesCounterOnly(t *testing.T) {
	agent := agentPrincipal()
	g := testGateway(t, newFakePrincipalStore(agent), newFakeTicketStore())
	c := testConnection(g, agent)

	g.handleJoinTickets(c, "open")

	// No channels, but the refcount advances so a later leave balances
	assert.Empty(t, g.hub.Occupancy())
	assert.Equal(t, 1, c.counters.Count("status-open"))

	g.handleLeaveTickets(c, "open")
	assert.Equal(t, 0, c.counters.Count("status-open"))
}

func TestDispatch_UnknownEventIsIgnored(t *testing.T) {
	agent := agentPrincipal()
	g := testGateway(t, newFakePrincipalStore(agent), newFakeTicketStore())
	c := testConnection(g, agent)

	assert.NotPanics(t, func() {
		g.dispatch(c, "someFutureEvent", map[string]interface{}{"k": "v"})
	})
	assert.Empty(t, drainFrames(t, c))
}
