package domain

import (
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

type Role string

const (
	RoleCustomer Role = "customer"
	RolePandit   Role = "pandit"
	RoleAdmin    Role = "admin"
)

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleCustomer, RolePandit, RoleAdmin:
		return Role(s), nil
	default:
		return "", errors.Wrapf(ErrValidation, "unknown role %q", s)
	}
}

// Actor is the authenticated caller of a workflow operation. It is passed
// explicitly into every call; the engine never reads ambient session state.
type Actor struct {
	ID   uuid.UUID
	Role Role
}

// CanTransition decides whether the actor may fire ev on the booking.
// Rules are evaluated in order; everything not explicitly allowed is denied.
func CanTransition(actor Actor, b Booking, ev Event) bool {
	switch actor.Role {
	case RoleAdmin:
		return ev == EventCancel && !b.Status.Terminal()
	case RolePandit:
		switch ev {
		case EventAccept, EventDecline, EventComplete:
			return actor.ID == b.PanditID
		case EventCancel:
			// Pandits cancel only confirmed bookings; declining covers pending.
			return actor.ID == b.PanditID && b.Status == StatusConfirmed
		}
	case RoleCustomer:
		if ev == EventCancel {
			return actor.ID == b.CustomerID &&
				(b.Status == StatusPendingPayment || b.Status == StatusPending)
		}
	}
	return false
}
