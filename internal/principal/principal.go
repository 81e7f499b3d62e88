// Package principal models the authenticated agent behind a gateway
// connection and loads it from the CRM's MongoDB collections.
package principal

import "github.com/delfinzap/realtime/internal/constants"

// Queue is one support queue the principal is assigned to.
type Queue struct {
	ID   string `bson:"_id" json:"id"`
	Name string `bson:"name" json:"name"`
}

// Principal is the authenticated identity bound to a connection for its
// lifetime. It is loaded once after the handshake and never refreshed;
// profile or queue changes take effect on the next connection.
type Principal struct {
	ID        string  `json:"id"`
	CompanyID string  `json:"companyId"`
	Profile   string  `json:"profile"`
	Queues    []Queue `json:"queues"`
	AllTicket bool    `json:"allTicket"`
	Online    bool    `json:"online"`
}

// IsAdmin reports whether the principal carries the admin profile.
func (p *Principal) IsAdmin() bool {
	return p.Profile == constants.ProfileAdmin
}

// QueueIDs returns the ids of the principal's queues.
func (p *Principal) QueueIDs() []string {
	ids := make([]string, 0, len(p.Queues))
	for _, q := range p.Queues {
		ids = append(ids, q.ID)
	}
	return ids
}
