package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/pujaseva/puja-bookings-and-settlements/internal/domain"
)

// Store is an in-memory booking and settlement store with the same CAS
// semantics as the Postgres repository. Used by unit tests and the dev flow.
type Store struct {
	mu        sync.Mutex
	bookings  map[uuid.UUID]domain.Booking
	attempts  map[uuid.UUID]domain.SettlementAttempt
	byBooking map[uuid.UUID]uuid.UUID
}

func NewStore() *Store {
	return &Store{
		bookings:  make(map[uuid.UUID]domain.Booking),
		attempts:  make(map[uuid.UUID]domain.SettlementAttempt),
		byBooking: make(map[uuid.UUID]uuid.UUID),
	}
}

func (s *Store) CreateBooking(ctx context.Context, b domain.Booking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.bookings[b.ID]; ok {
		return errors.Wrap(domain.ErrConflict, "booking id already exists")
	}
	s.bookings[b.ID] = b
	return nil
}

func (s *Store) GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.bookings[id]
	if !ok {
		return domain.Booking{}, errors.Wrap(domain.ErrNotFound, "booking")
	}
	return b, nil
}

func (s *Store) ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]domain.Booking, error) {
	return s.list(func(b domain.Booking) bool { return b.CustomerID == customerID })
}

func (s *Store) ListByPandit(ctx context.Context, panditID uuid.UUID) ([]domain.Booking, error) {
	return s.list(func(b domain.Booking) bool { return b.PanditID == panditID })
}

func (s *Store) ListBookings(ctx context.Context) ([]domain.Booking, error) {
	return s.list(func(domain.Booking) bool { return true })
}

func (s *Store) ListStalePendingPayments(ctx context.Context, cutoff time.Time) ([]domain.Booking, error) {
	return s.list(func(b domain.Booking) bool {
		return b.Status == domain.StatusPendingPayment && !b.CreatedAt.After(cutoff)
	})
}

func (s *Store) list(keep func(domain.Booking) bool) ([]domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Booking
	for _, b := range s.bookings {
		if keep(b) {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out, nil
}

func (s *Store) Transition(ctx context.Context, id uuid.UUID, from, to domain.Status, ev domain.Event, actorID uuid.UUID) (domain.Booking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, ok := s.bookings[id]
	if !ok {
		return domain.Booking{}, errors.Wrap(domain.ErrNotFound, "booking")
	}
	if next, ok := domain.NextStatus(from, ev); !ok || next != to {
		return domain.Booking{}, errors.Wrapf(domain.ErrInvalidTransition, "%s is not legal from %s", ev, from)
	}
	if b.Status != from {
		return domain.Booking{}, errors.Wrapf(domain.ErrConflict, "booking moved to %s", b.Status)
	}

	b.Status = to
	b.TransitionedAt = time.Now()
	b.LastActorID = actorID
	s.bookings[id] = b
	return b, nil
}

func (s *Store) CreateAttempt(ctx context.Context, a domain.SettlementAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byBooking[a.BookingID]; ok {
		return errors.Wrap(domain.ErrConflict, "settlement attempt already exists for booking")
	}
	s.attempts[a.ID] = a
	s.byBooking[a.BookingID] = a.ID
	return nil
}

func (s *Store) AttemptByBooking(ctx context.Context, bookingID uuid.UUID) (domain.SettlementAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.byBooking[bookingID]
	if !ok {
		return domain.SettlementAttempt{}, errors.Wrap(domain.ErrNotFound, "settlement attempt")
	}
	return s.attempts[id], nil
}

func (s *Store) AttemptByExternalRef(ctx context.Context, ref string) (domain.SettlementAttempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, a := range s.attempts {
		if a.ExternalRef == ref {
			return a, nil
		}
	}
	return domain.SettlementAttempt{}, errors.Wrap(domain.ErrNotFound, "settlement attempt")
}

func (s *Store) MarkVerified(ctx context.Context, attemptID uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[attemptID]
	if !ok {
		return errors.Wrap(domain.ErrNotFound, "settlement attempt")
	}
	if a.Outcome != domain.OutcomeInitiated {
		return errors.Wrapf(domain.ErrConflict, "attempt is %s", a.Outcome)
	}
	a.Outcome = domain.OutcomeVerified
	a.VerifiedAt = &at
	s.attempts[attemptID] = a
	return nil
}

func (s *Store) MarkFailed(ctx context.Context, attemptID uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.attempts[attemptID]
	if !ok {
		return errors.Wrap(domain.ErrNotFound, "settlement attempt")
	}
	if a.Outcome != domain.OutcomeInitiated {
		return errors.Wrapf(domain.ErrConflict, "attempt is %s", a.Outcome)
	}
	a.Outcome = domain.OutcomeFailed
	s.attempts[attemptID] = a
	return nil
}
