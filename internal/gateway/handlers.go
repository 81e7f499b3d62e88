package gateway

import (
	"errors"
	"fmt"

	"github.com/delfinzap/realtime/internal/constants"
	"github.com/delfinzap/realtime/internal/metrics"
	"github.com/delfinzap/realtime/internal/principal"
	"github.com/delfinzap/realtime/internal/ticket"
	"github.com/delfinzap/realtime/internal/util"
)

// Channel naming. These are the contract with the CRM backend publishing
// into the hub; renaming one breaks every producer.

// companyMainChannel is the tenant-wide channel every connection joins.
func companyMainChannel(companyID string) string {
	return fmt.Sprintf("company-%s-mainchannel", companyID)
}

// userChannel is the principal's private channel.
func userChannel(principalID string) string {
	return fmt.Sprintf("user-%s", principalID)
}

// ticketCounterKey is the membership counter key for a ticket conversation.
// The channel name is the bare ticket id; the counter key is prefixed so it
// cannot collide with the notification and status keys.
func ticketCounterKey(ticketID string) string {
	return "ticket-" + ticketID
}

// notificationCounterKey is the single membership counter key for the whole
// notification fan-out, regardless of how many channels it expands to.
const notificationCounterKey = "notification"

// statusCounterKey is the membership counter key for one ticket status fan-out.
func statusCounterKey(status string) string {
	return "status-" + status
}

// notificationChannels expands the notification fan-out for a principal.
// Admins watch the whole tenant; agents watch their queues, plus the
// unassigned-queue channel when they may take any ticket.
func notificationChannels(p *principal.Principal) []string {
	// No else needed: early return pattern (guard clause)
	if p.IsAdmin() {
		return []string{fmt.Sprintf("company-%s-notification", p.CompanyID)}
	}

	channels := make([]string, 0, len(p.Queues)+1)
	for _, q := range p.Queues {
		channels = append(channels, fmt.Sprintf("queue-%s-notification", q.ID))
	}
	if p.AllTicket {
		channels = append(channels, "queue-null-notification")
	}
	return channels
}

// statusChannels expands the ticket-status fan-out for a principal.
// Admins watch any status tenant-wide. Agents only watch pending tickets,
// scoped to their queues; other statuses expand to nothing.
func statusChannels(p *principal.Principal, status string) []string {
	// No else needed: early return pattern (guard clause)
	if p.IsAdmin() {
		return []string{fmt.Sprintf("company-%s-%s", p.CompanyID, status)}
	}

	// No else needed: early return pattern (guard clause)
	if status != constants.TicketStatusPending {
		return nil
	}

	channels := make([]string, 0, len(p.Queues)+1)
	for _, q := range p.Queues {
		channels = append(channels, fmt.Sprintf("queue-%s-pending", q.ID))
	}
	if p.AllTicket {
		channels = append(channels, "queue-null-pending")
	}
	return channels
}

// dispatch routes a validated inbound event to its handler. Unknown events
// are dropped silently; the gateway only consumes membership events, business
// traffic flows the other way.
func (g *Gateway) dispatch(c *Connection, eventName string, payload interface{}) {
	switch eventName {
	case constants.EventJoinChatBox:
		g.handleJoinChatBox(c, payload.(string))
	case constants.EventLeaveChatBox:
		g.handleLeaveChatBox(c, payload.(string))
	case constants.EventJoinNotification:
		g.handleJoinNotification(c)
	case constants.EventLeaveNotification:
		g.handleLeaveNotification(c)
	case constants.EventJoinTickets:
		g.handleJoinTickets(c, payload.(string))
	case constants.EventLeaveTickets:
		g.handleLeaveTickets(c, payload.(string))
	default:
		g.logger.Debug("Ignoring unhandled event",
			"event", eventName,
			"principal_id", c.Principal.ID)
	}
}

// handleJoinChatBox subscribes a connection to one ticket conversation after
// authorizing the principal against the ticket. Authorization failures are
// soft: they are logged and counted, the client is told nothing, and the
// connection stays open.
func (g *Gateway) handleJoinChatBox(c *Connection, ticketID string) {
	p := c.Principal

	ctx, cancel := util.NewTimeoutContext(constants.TicketLookupTimeout)
	defer cancel()

	t, err := g.tickets.FindByID(ctx, ticketID)
	// No else needed: early return pattern (guard clause)
	if err != nil {
		if errors.Is(err, ticket.ErrNotFound) {
			metrics.UnauthorizedJoins.Inc()
			g.logger.Warn("Attempt to join non-existent ticket channel",
				"ticket_id", ticketID,
				"principal_id", p.ID)
			return
		}
		util.LogError(g.logger, "gateway", "load ticket for authorization", err,
			"ticket_id", ticketID,
			"principal_id", p.ID)
		return
	}

	// No else needed: early return pattern (guard clause)
	if t.CompanyID != p.CompanyID {
		metrics.UnauthorizedJoins.Inc()
		g.logger.Warn("Unauthorized attempt to access ticket from another company",
			"ticket_id", ticketID,
			"principal_id", p.ID,
			"company_id", p.CompanyID)
		return
	}

	// No else needed: early return pattern (guard clause)
	if t.UserID != p.ID && !p.IsAdmin() {
		metrics.UnauthorizedJoins.Inc()
		g.logger.Warn("Unauthorized attempt to access ticket assigned to another user",
			"ticket_id", ticketID,
			"principal_id", p.ID)
		return
	}

	count := c.counters.Increment(ticketCounterKey(ticketID))
	// No else needed: optional operation (subscribe only on the first reference)
	if count == 1 {
		g.hub.Subscribe(ticketID, c)
	}

	g.logger.Debug("Joined ticket channel",
		"ticket_id", ticketID,
		"principal_id", p.ID,
		"count", count)
}

// handleLeaveChatBox drops one reference to a ticket conversation. Leaving
// does not re-authorize: a principal that could join can always leave, even
// after reassignment.
func (g *Gateway) handleLeaveChatBox(c *Connection, ticketID string) {
	count := c.counters.Decrement(ticketCounterKey(ticketID))
	// No else needed: optional operation (unsubscribe only on the last reference)
	if count == 0 {
		g.hub.Unsubscribe(ticketID, c)
	}

	g.logger.Debug("Left ticket channel",
		"ticket_id", ticketID,
		"principal_id", c.Principal.ID,
		"count", count)
}

// handleJoinNotification subscribes the connection to its notification
// fan-out on the first reference.
func (g *Gateway) handleJoinNotification(c *Connection) {
	count := c.counters.Increment(notificationCounterKey)
	// No else needed: optional operation (subscribe only on the first reference)
	if count == 1 {
		for _, name := range notificationChannels(c.Principal) {
			g.hub.Subscribe(name, c)
		}
	}

	g.logger.Debug("Joined notification channels",
		"principal_id", c.Principal.ID,
		"count", count)
}

// handleLeaveNotification drops one reference to the notification fan-out.
func (g *Gateway) handleLeaveNotification(c *Connection) {
	count := c.counters.Decrement(notificationCounterKey)
	// No else needed: optional operation (unsubscribe only on the last reference)
	if count == 0 {
		for _, name := range notificationChannels(c.Principal) {
			g.hub.Unsubscribe(name, c)
		}
	}

	g.logger.Debug("Left notification channels",
		"principal_id", c.Principal.ID,
		"count", count)
}

// handleJoinTickets subscribes the connection to the fan-out for one ticket
// status. The counter advances even when the fan-out expands to nothing for
// this principal, so a later leave stays balanced.
func (g *Gateway) handleJoinTickets(c *Connection, status string) {
	count := c.counters.Increment(statusCounterKey(status))
	// No else needed: optional operation (subscribe only on the first reference)
	if count == 1 {
		channels := statusChannels(c.Principal, status)
		// No else needed: optional operation (log-only when nothing to join)
		if len(channels) == 0 {
			g.logger.Debug("Principal cannot subscribe to status channel",
				"status", status,
				"principal_id", c.Principal.ID)
		}
		for _, name := range channels {
			g.hub.Subscribe(name, c)
		}
	}

	g.logger.Debug("Joined status channels",
		"status", status,
		"principal_id", c.Principal.ID,
		"count", count)
}

// handleLeaveTickets drops one reference to a ticket-status fan-out.
func (g *Gateway) handleLeaveTickets(c *Connection, status string) {
	count := c.counters.Decrement(statusCounterKey(status))
	// No else needed: optional operation (unsubscribe only on the last reference)
	if count == 0 {
		for _, name := range statusChannels(c.Principal, status) {
			g.hub.Unsubscribe(name, c)
		}
	}

	g.logger.Debug("Left status channels",
		"status", status,
		"principal_id", c.Principal.ID,
		"count", count)
}
