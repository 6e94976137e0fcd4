package domain

import (
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPendingPayment Status = "pending_payment"
	StatusPending        Status = "pending"
	StatusConfirmed      Status = "confirmed"
	StatusCompleted      Status = "completed"
	StatusCancelled      Status = "cancelled"
	StatusPaymentFailed  Status = "payment_failed"
)

func ParseStatus(s string) (Status, error) {
	switch Status(s) {
	case StatusPendingPayment, StatusPending, StatusConfirmed, StatusCompleted, StatusCancelled, StatusPaymentFailed:
		return Status(s), nil
	default:
		return "", errors.Wrapf(ErrValidation, "unknown status %q", s)
	}
}

func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusPaymentFailed:
		return true
	}
	return false
}

type Event string

const (
	EventSettlementVerified Event = "settlement_verified"
	EventSettlementFailed   Event = "settlement_failed"
	EventAccept             Event = "accept"
	EventDecline            Event = "decline"
	EventComplete           Event = "complete"
	EventCancel             Event = "cancel"
)

func ParseEvent(s string) (Event, error) {
	switch Event(s) {
	case EventAccept, EventDecline, EventComplete, EventCancel:
		return Event(s), nil
	default:
		return "", errors.Wrapf(ErrValidation, "unknown event %q", s)
	}
}

// transitions is the full booking state machine. Settlement events are only
// ever raised by the workflow engine itself; accept/decline/complete/cancel
// arrive from actors and pass the role guard first.
var transitions = map[Status]map[Event]Status{
	StatusPendingPayment: {
		EventSettlementVerified: StatusPending,
		EventSettlementFailed:   StatusPaymentFailed,
	},
	StatusPending: {
		EventAccept:  StatusConfirmed,
		EventDecline: StatusCancelled,
		EventCancel:  StatusCancelled,
	},
	StatusConfirmed: {
		EventComplete: StatusCompleted,
		EventCancel:   StatusCancelled,
	},
}

// NextStatus reports the state a booking moves to when ev fires from `from`,
// or false if the edge is not declared.
func NextStatus(from Status, ev Event) (Status, bool) {
	to, ok := transitions[from][ev]
	return to, ok
}

type DeliveryMode string

const (
	DeliveryInPerson DeliveryMode = "in_person"
	DeliveryVirtual  DeliveryMode = "virtual"
)

func ParseDeliveryMode(s string) (DeliveryMode, error) {
	switch DeliveryMode(s) {
	case DeliveryInPerson, DeliveryVirtual:
		return DeliveryMode(s), nil
	default:
		return "", errors.Wrapf(ErrValidation, "unknown delivery mode %q", s)
	}
}

type Booking struct {
	ID             uuid.UUID
	CustomerID     uuid.UUID
	PanditID       uuid.UUID
	PujaTypeID     uuid.UUID
	ScheduledAt    time.Time
	DeliveryMode   DeliveryMode
	Address        string
	Price          decimal.Decimal
	Currency       string
	Status         Status
	CreatedAt      time.Time
	TransitionedAt time.Time
	LastActorID    uuid.UUID
}

// NewBooking validates the creation invariants and returns a booking in
// pending_payment. Price is the snapshot taken from the puja type; it never
// changes after this point.
func NewBooking(customerID, panditID, pujaTypeID uuid.UUID, scheduledAt time.Time, mode DeliveryMode, address string, price decimal.Decimal) (Booking, error) {
	if customerID == uuid.Nil {
		return Booking{}, errors.Wrap(ErrValidation, "customer id required")
	}
	if panditID == uuid.Nil {
		return Booking{}, errors.Wrap(ErrValidation, "pandit id required")
	}
	if pujaTypeID == uuid.Nil {
		return Booking{}, errors.Wrap(ErrValidation, "puja type id required")
	}
	if !scheduledAt.After(time.Now()) {
		return Booking{}, errors.Wrap(ErrValidation, "scheduled time must be in the future")
	}
	if mode == DeliveryInPerson && strings.TrimSpace(address) == "" {
		return Booking{}, errors.Wrap(ErrValidation, "address required for in-person bookings")
	}
	if price.IsNegative() || price.IsZero() {
		return Booking{}, errors.Wrap(ErrValidation, "price must be positive")
	}

	now := time.Now()
	return Booking{
		ID:             uuid.New(),
		CustomerID:     customerID,
		PanditID:       panditID,
		PujaTypeID:     pujaTypeID,
		ScheduledAt:    scheduledAt,
		DeliveryMode:   mode,
		Address:        strings.TrimSpace(address),
		Price:          price,
		Currency:       "INR",
		Status:         StatusPendingPayment,
		CreatedAt:      now,
		TransitionedAt: now,
		LastActorID:    customerID,
	}, nil
}
