package workflow

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pujaseva/puja-bookings-and-settlements/internal/domain"
	"github.com/pujaseva/puja-bookings-and-settlements/internal/gateway"
)

type BookingStore interface {
	CreateBooking(ctx context.Context, b domain.Booking) error
	GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error)
	ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]domain.Booking, error)
	ListByPandit(ctx context.Context, panditID uuid.UUID) ([]domain.Booking, error)
	ListBookings(ctx context.Context) ([]domain.Booking, error)
	ListStalePendingPayments(ctx context.Context, cutoff time.Time) ([]domain.Booking, error)
	// Transition is a compare-and-swap: the write applies only if the booking
	// is still in `from`, otherwise domain.ErrConflict.
	Transition(ctx context.Context, id uuid.UUID, from, to domain.Status, ev domain.Event, actorID uuid.UUID) (domain.Booking, error)
}

type SettlementStore interface {
	CreateAttempt(ctx context.Context, a domain.SettlementAttempt) error
	AttemptByBooking(ctx context.Context, bookingID uuid.UUID) (domain.SettlementAttempt, error)
	AttemptByExternalRef(ctx context.Context, ref string) (domain.SettlementAttempt, error)
	// MarkVerified is a compare-and-swap from initiated to verified; a raced
	// or repeated call fails with domain.ErrConflict.
	MarkVerified(ctx context.Context, attemptID uuid.UUID, at time.Time) error
	MarkFailed(ctx context.Context, attemptID uuid.UUID) error
}

type Catalog interface {
	GetPujaType(ctx context.Context, id uuid.UUID) (domain.PujaType, error)
	GetPandit(ctx context.Context, id uuid.UUID) (domain.Pandit, error)
	ListApprovedPandits(ctx context.Context) ([]domain.Pandit, error)
	SetPanditApproval(ctx context.Context, id uuid.UUID, approved bool) (domain.Pandit, error)
}

type SettlementGateway interface {
	Begin(ctx context.Context, b domain.Booking, receipt string) (gateway.Order, error)
	Verify(proof domain.SettlementProof) error
	Simulate(b domain.Booking) domain.SettlementResult
	KeyID() string
}

// Audit records who moved which booking when; optional.
type Audit interface {
	LogTransition(ctx context.Context, b domain.Booking, ev domain.Event, actorID uuid.UUID) error
}

// VerifyLocker serializes settlement verification per booking across
// processes; optional, the store CAS remains authoritative.
type VerifyLocker interface {
	AcquireVerifyLock(ctx context.Context, bookingID uuid.UUID, ttl time.Duration) (bool, error)
	ReleaseVerifyLock(ctx context.Context, bookingID uuid.UUID) error
}
