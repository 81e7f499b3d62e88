package envelope

import (
	"fmt"

	"github.com/delfinzap/realtime/internal/constants"
	gwerrors "github.com/delfinzap/realtime/internal/errors"
)

// Validate checks the payload of a client-originated event against the
// structural rules for that event name. Unrecognized event names pass
// through unchanged: new events are not rejected defensively, they simply
// carry no validation yet.
//
// Validation always runs on the plaintext event name and payload, after
// envelope decryption and before any business handler.
func Validate(eventName string, payload interface{}) error {
	switch eventName {
	case constants.EventJoinChatBox, constants.EventLeaveChatBox:
		return validateTicketID(payload)

	case constants.EventJoinTickets, constants.EventLeaveTickets:
		return validateTicketStatus(payload)

	case constants.EventJoinNotification, constants.EventLeaveNotification:
		// No payload expected
		return nil

	default:
		return nil
	}
}

// validateTicketID checks a joinChatBox/leaveChatBox payload.
func validateTicketID(payload interface{}) error {
	ticketID, ok := payload.(string)
	// No else needed: early return pattern (guard clause)
	if !ok {
		return gwerrors.ErrInvalidTicketID("must be a string")
	}

	// No else needed: early return pattern (guard clause)
	if ticketID == "" || ticketID == "undefined" || ticketID == "null" {
		return gwerrors.ErrInvalidTicketID("must not be empty")
	}

	// Long ids are rejected to bound channel-key memory
	if len(ticketID) > constants.MaxTicketIDLength {
		return gwerrors.ErrInvalidTicketID(
			fmt.Sprintf("length %d exceeds maximum %d", len(ticketID), constants.MaxTicketIDLength))
	}

	return nil
}

// validateTicketStatus checks a joinTickets/leaveTickets payload against
// the closed status set.
func validateTicketStatus(payload interface{}) error {
	status, ok := payload.(string)
	// No else needed: early return pattern (guard clause)
	if !ok {
		return gwerrors.ErrInvalidStatus(fmt.Sprintf("%v", payload))
	}

	switch status {
	case constants.TicketStatusOpen, constants.TicketStatusPending, constants.TicketStatusClosed:
		return nil
	default:
		return gwerrors.ErrInvalidStatus(status)
	}
}
