package domain

import (
	"testing"

	"github.com/google/uuid"
)

func TestCanTransition(t *testing.T) {
	customer := uuid.New()
	pandit := uuid.New()
	admin := uuid.New()
	stranger := uuid.New()

	booking := func(status Status) Booking {
		return Booking{ID: uuid.New(), CustomerID: customer, PanditID: pandit, Status: status}
	}

	tests := []struct {
		name  string
		actor Actor
		b     Booking
		ev    Event
		want  bool
	}{
		{"assigned pandit accepts", Actor{pandit, RolePandit}, booking(StatusPending), EventAccept, true},
		{"assigned pandit declines", Actor{pandit, RolePandit}, booking(StatusPending), EventDecline, true},
		{"assigned pandit completes", Actor{pandit, RolePandit}, booking(StatusConfirmed), EventComplete, true},
		{"assigned pandit cancels confirmed", Actor{pandit, RolePandit}, booking(StatusConfirmed), EventCancel, true},
		{"assigned pandit cannot cancel pending", Actor{pandit, RolePandit}, booking(StatusPending), EventCancel, false},
		{"other pandit cannot accept", Actor{stranger, RolePandit}, booking(StatusPending), EventAccept, false},

		{"owner cancels pending", Actor{customer, RoleCustomer}, booking(StatusPending), EventCancel, true},
		{"owner cancels pending_payment", Actor{customer, RoleCustomer}, booking(StatusPendingPayment), EventCancel, true},
		{"owner cannot cancel confirmed", Actor{customer, RoleCustomer}, booking(StatusConfirmed), EventCancel, false},
		{"owner cannot accept", Actor{customer, RoleCustomer}, booking(StatusPending), EventAccept, false},
		{"stranger cannot cancel", Actor{stranger, RoleCustomer}, booking(StatusPending), EventCancel, false},

		{"admin cancels pending", Actor{admin, RoleAdmin}, booking(StatusPending), EventCancel, true},
		{"admin cancels confirmed", Actor{admin, RoleAdmin}, booking(StatusConfirmed), EventCancel, true},
		{"admin cannot cancel completed", Actor{admin, RoleAdmin}, booking(StatusCompleted), EventCancel, false},
		{"admin cannot accept", Actor{admin, RoleAdmin}, booking(StatusPending), EventAccept, false},
		{"admin cannot complete", Actor{admin, RoleAdmin}, booking(StatusConfirmed), EventComplete, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := CanTransition(tt.actor, tt.b, tt.ev); got != tt.want {
				t.Fatalf("CanTransition(%s, %s, %s) = %v, want %v", tt.actor.Role, tt.b.Status, tt.ev, got, tt.want)
			}
		})
	}
}
