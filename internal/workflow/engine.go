package workflow

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/pujaseva/puja-bookings-and-settlements/internal/domain"
	"github.com/pujaseva/puja-bookings-and-settlements/internal/gateway"
	"github.com/pujaseva/puja-bookings-and-settlements/internal/observability"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// SystemActorID marks transitions the engine applies on its own behalf
// (settlement outcomes, expiry), as opposed to actor-driven events.
var SystemActorID = uuid.Nil

// Engine owns the booking state machine: creation, settlement with gateway
// fallback, and role-gated transitions. Audit and locks may be nil.
type Engine struct {
	bookings    BookingStore
	settlements SettlementStore
	catalog     Catalog
	gateway     SettlementGateway
	audit       Audit
	locks       VerifyLocker
	logger      observability.Logger
}

func NewEngine(bookings BookingStore, settlements SettlementStore, catalog Catalog, gw SettlementGateway, audit Audit, locks VerifyLocker, logger observability.Logger) *Engine {
	return &Engine{
		bookings:    bookings,
		settlements: settlements,
		catalog:     catalog,
		gateway:     gw,
		audit:       audit,
		locks:       locks,
		logger:      logger,
	}
}

type CreateBookingInput struct {
	PujaTypeID   uuid.UUID
	PanditID     uuid.UUID
	ScheduledAt  time.Time
	DeliveryMode domain.DeliveryMode
	Address      string
}

func (e *Engine) CreateBooking(ctx context.Context, actor domain.Actor, in CreateBookingInput) (domain.Booking, error) {
	if actor.Role != domain.RoleCustomer {
		return domain.Booking{}, errors.Wrap(domain.ErrForbidden, "only customers create bookings")
	}

	puja, err := e.catalog.GetPujaType(ctx, in.PujaTypeID)
	if err != nil {
		return domain.Booking{}, err
	}
	pandit, err := e.catalog.GetPandit(ctx, in.PanditID)
	if err != nil {
		return domain.Booking{}, err
	}
	if !pandit.Approved {
		return domain.Booking{}, errors.Wrap(domain.ErrValidation, "pandit is not approved")
	}

	b, err := domain.NewBooking(actor.ID, in.PanditID, in.PujaTypeID, in.ScheduledAt, in.DeliveryMode, in.Address, puja.Price)
	if err != nil {
		return domain.Booking{}, err
	}
	if err := e.bookings.CreateBooking(ctx, b); err != nil {
		return domain.Booking{}, err
	}

	observability.BookingsCreated.Inc()
	e.logger.WithField("booking_id", b.ID).WithField("customer_id", actor.ID).Info("booking created")
	return b, nil
}

// BeginSettlementResult carries either an open gateway order the client must
// complete, or the finished simulated settlement.
type BeginSettlementResult struct {
	Path    domain.SettlementPath
	Booking domain.Booking
	Order   *gateway.Order
	KeyID   string
	Result  *domain.SettlementResult
}

func (e *Engine) BeginSettlement(ctx context.Context, actor domain.Actor, bookingID uuid.UUID) (BeginSettlementResult, error) {
	b, err := e.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return BeginSettlementResult{}, err
	}
	if actor.Role != domain.RoleAdmin && actor.ID != b.CustomerID {
		return BeginSettlementResult{}, errors.Wrap(domain.ErrForbidden, "not the booking owner")
	}
	if b.Status != domain.StatusPendingPayment {
		return BeginSettlementResult{}, errors.Wrapf(domain.ErrInvalidTransition, "booking is %s", b.Status)
	}

	existing, err := e.settlements.AttemptByBooking(ctx, bookingID)
	switch {
	case err == nil:
		switch existing.Outcome {
		case domain.OutcomeVerified:
			return BeginSettlementResult{}, errors.Wrap(domain.ErrConflict, "booking already settled")
		case domain.OutcomeFailed:
			return BeginSettlementResult{}, errors.Wrap(domain.ErrConflict, "settlement already failed, create a new booking")
		}
		// An open gateway order is resumable; hand the same order back.
		order := gateway.Order{
			ID:       existing.ExternalRef,
			Amount:   existing.Amount.Mul(decimal.NewFromInt(100)).IntPart(),
			Currency: existing.Currency,
		}
		return BeginSettlementResult{Path: domain.PathGateway, Booking: b, Order: &order, KeyID: e.gateway.KeyID()}, nil
	case !errors.Is(err, domain.ErrNotFound):
		return BeginSettlementResult{}, err
	}

	attemptID := uuid.New()
	order, err := e.gateway.Begin(ctx, b, attemptID.String())
	if errors.Is(err, domain.ErrGatewayUnavailable) {
		e.logger.WithField("booking_id", b.ID).Warn("gateway unavailable, settling via simulated path")
		return e.settleSimulated(ctx, b, attemptID)
	}
	if err != nil {
		return BeginSettlementResult{}, err
	}

	att := domain.SettlementAttempt{
		ID:          attemptID,
		BookingID:   b.ID,
		Path:        domain.PathGateway,
		ExternalRef: order.ID,
		Amount:      b.Price,
		Currency:    b.Currency,
		Outcome:     domain.OutcomeInitiated,
		CreatedAt:   time.Now(),
	}
	if err := e.settlements.CreateAttempt(ctx, att); err != nil {
		return BeginSettlementResult{}, err
	}

	observability.SettlementsTotal.WithLabelValues(string(domain.PathGateway), string(domain.OutcomeInitiated)).Inc()
	return BeginSettlementResult{Path: domain.PathGateway, Booking: b, Order: &order, KeyID: e.gateway.KeyID()}, nil
}

func (e *Engine) settleSimulated(ctx context.Context, b domain.Booking, attemptID uuid.UUID) (BeginSettlementResult, error) {
	res := e.gateway.Simulate(b)
	att := domain.SettlementAttempt{
		ID:          attemptID,
		BookingID:   b.ID,
		Path:        domain.PathSimulated,
		ExternalRef: res.SettlementID,
		Amount:      b.Price,
		Currency:    b.Currency,
		Outcome:     domain.OutcomeInitiated,
		CreatedAt:   time.Now(),
	}
	if err := e.settlements.CreateAttempt(ctx, att); err != nil {
		return BeginSettlementResult{}, err
	}
	if err := e.settlements.MarkVerified(ctx, attemptID, res.VerifiedAt); err != nil {
		return BeginSettlementResult{}, err
	}

	updated, err := e.bookings.Transition(ctx, b.ID, domain.StatusPendingPayment, domain.StatusPending, domain.EventSettlementVerified, SystemActorID)
	if err != nil {
		return BeginSettlementResult{}, err
	}
	e.logTransition(ctx, updated, domain.EventSettlementVerified, SystemActorID)

	observability.SettlementsTotal.WithLabelValues(string(domain.PathSimulated), string(domain.OutcomeVerified)).Inc()
	return BeginSettlementResult{Path: domain.PathSimulated, Booking: updated, Result: &res}, nil
}

func (e *Engine) VerifySettlement(ctx context.Context, actor domain.Actor, bookingID uuid.UUID, proof domain.SettlementProof) (domain.Booking, domain.SettlementResult, error) {
	b, err := e.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return domain.Booking{}, domain.SettlementResult{}, err
	}
	if actor.Role != domain.RoleAdmin && actor.ID != b.CustomerID {
		return domain.Booking{}, domain.SettlementResult{}, errors.Wrap(domain.ErrForbidden, "not the booking owner")
	}

	att, err := e.settlements.AttemptByBooking(ctx, bookingID)
	if err != nil {
		return domain.Booking{}, domain.SettlementResult{}, err
	}
	switch att.Outcome {
	case domain.OutcomeVerified:
		return domain.Booking{}, domain.SettlementResult{}, errors.Wrap(domain.ErrConflict, "settlement already verified")
	case domain.OutcomeFailed:
		return domain.Booking{}, domain.SettlementResult{}, errors.Wrap(domain.ErrConflict, "settlement already failed")
	}
	if att.Path == domain.PathSimulated {
		return domain.Booking{}, domain.SettlementResult{}, errors.Wrap(domain.ErrConflict, "simulated settlement needs no verification")
	}

	if proof.OrderID != att.ExternalRef {
		return e.failSettlement(ctx, b, att, errors.Wrap(domain.ErrVerificationFailed, "proof does not match settlement order"))
	}
	if err := e.gateway.Verify(proof); err != nil {
		if errors.Is(err, domain.ErrVerificationFailed) {
			return e.failSettlement(ctx, b, att, err)
		}
		// Credentials gone between begin and verify. The attempt stays open
		// and the caller retries; gateway trouble is never surfaced as such.
		if errors.Is(err, domain.ErrGatewayUnavailable) {
			return domain.Booking{}, domain.SettlementResult{}, errors.Wrap(domain.ErrConflict, "verification unavailable, retry")
		}
		return domain.Booking{}, domain.SettlementResult{}, err
	}

	if e.locks != nil {
		ok, err := e.locks.AcquireVerifyLock(ctx, b.ID, 30*time.Second)
		if err != nil {
			return domain.Booking{}, domain.SettlementResult{}, err
		}
		if !ok {
			return domain.Booking{}, domain.SettlementResult{}, errors.Wrap(domain.ErrConflict, "verification already in progress")
		}
		defer e.locks.ReleaseVerifyLock(ctx, b.ID)
	}

	verifiedAt := time.Now()
	if err := e.settlements.MarkVerified(ctx, att.ID, verifiedAt); err != nil {
		return domain.Booking{}, domain.SettlementResult{}, err
	}
	updated, err := e.bookings.Transition(ctx, b.ID, domain.StatusPendingPayment, domain.StatusPending, domain.EventSettlementVerified, SystemActorID)
	if err != nil {
		return domain.Booking{}, domain.SettlementResult{}, err
	}
	e.logTransition(ctx, updated, domain.EventSettlementVerified, SystemActorID)

	observability.SettlementsTotal.WithLabelValues(string(domain.PathGateway), string(domain.OutcomeVerified)).Inc()
	res := domain.SettlementResult{BookingID: b.ID, SettlementID: att.SettlementID(), VerifiedAt: verifiedAt}
	return updated, res, nil
}

// failSettlement lands the booking on payment_failed; a retried purchase
// needs a new booking, never a second attempt on this one.
func (e *Engine) failSettlement(ctx context.Context, b domain.Booking, att domain.SettlementAttempt, cause error) (domain.Booking, domain.SettlementResult, error) {
	if err := e.settlements.MarkFailed(ctx, att.ID); err != nil {
		return domain.Booking{}, domain.SettlementResult{}, err
	}
	updated, err := e.bookings.Transition(ctx, b.ID, domain.StatusPendingPayment, domain.StatusPaymentFailed, domain.EventSettlementFailed, SystemActorID)
	if err != nil {
		return domain.Booking{}, domain.SettlementResult{}, err
	}
	e.logTransition(ctx, updated, domain.EventSettlementFailed, SystemActorID)

	observability.SettlementsTotal.WithLabelValues(string(att.Path), string(domain.OutcomeFailed)).Inc()
	return updated, domain.SettlementResult{}, cause
}

// Transition applies an actor event (accept, decline, complete, cancel).
func (e *Engine) Transition(ctx context.Context, actor domain.Actor, bookingID uuid.UUID, ev domain.Event) (domain.Booking, error) {
	switch ev {
	case domain.EventAccept, domain.EventDecline, domain.EventComplete, domain.EventCancel:
	default:
		return domain.Booking{}, errors.Wrapf(domain.ErrValidation, "event %q is not actor-driven", ev)
	}

	b, err := e.bookings.GetBooking(ctx, bookingID)
	if err != nil {
		return domain.Booking{}, err
	}
	if !domain.CanTransition(actor, b, ev) {
		return domain.Booking{}, errors.Wrapf(domain.ErrForbidden, "%s may not %s this booking", actor.Role, ev)
	}
	next, ok := domain.NextStatus(b.Status, ev)
	if !ok {
		return domain.Booking{}, errors.Wrapf(domain.ErrInvalidTransition, "%s is not legal from %s", ev, b.Status)
	}

	updated, err := e.bookings.Transition(ctx, b.ID, b.Status, next, ev, actor.ID)
	if err != nil {
		return domain.Booking{}, err
	}
	e.logTransition(ctx, updated, ev, actor.ID)

	observability.TransitionsTotal.WithLabelValues(string(ev)).Inc()
	return updated, nil
}

func (e *Engine) GetBooking(ctx context.Context, actor domain.Actor, id uuid.UUID) (domain.Booking, error) {
	b, err := e.bookings.GetBooking(ctx, id)
	if err != nil {
		return domain.Booking{}, err
	}
	if actor.Role != domain.RoleAdmin && actor.ID != b.CustomerID && actor.ID != b.PanditID {
		return domain.Booking{}, errors.Wrap(domain.ErrForbidden, "not a party to this booking")
	}
	return b, nil
}

func (e *Engine) ListCustomerBookings(ctx context.Context, actor domain.Actor) ([]domain.Booking, error) {
	return e.bookings.ListByCustomer(ctx, actor.ID)
}

func (e *Engine) ListPanditBookings(ctx context.Context, actor domain.Actor, panditID uuid.UUID) ([]domain.Booking, error) {
	if actor.Role != domain.RoleAdmin && !(actor.Role == domain.RolePandit && actor.ID == panditID) {
		return nil, errors.Wrap(domain.ErrForbidden, "not this pandit")
	}
	return e.bookings.ListByPandit(ctx, panditID)
}

func (e *Engine) ListAllBookings(ctx context.Context, actor domain.Actor) ([]domain.Booking, error) {
	if actor.Role != domain.RoleAdmin {
		return nil, errors.Wrap(domain.ErrForbidden, "admin only")
	}
	return e.bookings.ListBookings(ctx)
}

func (e *Engine) GetPujaType(ctx context.Context, id uuid.UUID) (domain.PujaType, error) {
	return e.catalog.GetPujaType(ctx, id)
}

func (e *Engine) ListApprovedPandits(ctx context.Context) ([]domain.Pandit, error) {
	return e.catalog.ListApprovedPandits(ctx)
}

// SetPanditApproval flips the unapproved/approved gate; admin only.
func (e *Engine) SetPanditApproval(ctx context.Context, actor domain.Actor, panditID uuid.UUID, approved bool) (domain.Pandit, error) {
	if actor.Role != domain.RoleAdmin {
		return domain.Pandit{}, errors.Wrap(domain.ErrForbidden, "admin only")
	}
	return e.catalog.SetPanditApproval(ctx, panditID, approved)
}

// ExpireStalePendingPayments fails bookings abandoned in pending_payment for
// longer than ttl. Returns how many bookings were expired.
func (e *Engine) ExpireStalePendingPayments(ctx context.Context, ttl time.Duration) (int, error) {
	stale, err := e.bookings.ListStalePendingPayments(ctx, time.Now().Add(-ttl))
	if err != nil {
		return 0, err
	}

	var expired atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for _, b := range stale {
		b := b
		g.Go(func() error {
			att, err := e.settlements.AttemptByBooking(gctx, b.ID)
			switch {
			case err == nil && att.Outcome == domain.OutcomeVerified:
				// A verify was interrupted after the attempt was spent.
				// Finish its transition instead of expiring a paid booking.
				updated, err := e.bookings.Transition(gctx, b.ID, domain.StatusPendingPayment, domain.StatusPending, domain.EventSettlementVerified, SystemActorID)
				if errors.Is(err, domain.ErrConflict) {
					return nil
				}
				if err != nil {
					return err
				}
				e.logTransition(gctx, updated, domain.EventSettlementVerified, SystemActorID)
				return nil
			case err == nil && att.Outcome == domain.OutcomeInitiated:
				if err := e.settlements.MarkFailed(gctx, att.ID); err != nil {
					// A verify won the outcome race; leave the booking to it.
					if errors.Is(err, domain.ErrConflict) {
						return nil
					}
					return err
				}
			case err != nil && !errors.Is(err, domain.ErrNotFound):
				return err
			}
			updated, err := e.bookings.Transition(gctx, b.ID, domain.StatusPendingPayment, domain.StatusPaymentFailed, domain.EventSettlementFailed, SystemActorID)
			if errors.Is(err, domain.ErrConflict) {
				// Someone settled or failed it while we scanned; leave it be.
				return nil
			}
			if err != nil {
				return err
			}
			e.logTransition(gctx, updated, domain.EventSettlementFailed, SystemActorID)
			observability.ExpiredBookings.Inc()
			expired.Add(1)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(expired.Load()), err
	}
	return int(expired.Load()), nil
}

func (e *Engine) logTransition(ctx context.Context, b domain.Booking, ev domain.Event, actorID uuid.UUID) {
	e.logger.WithField("booking_id", b.ID).WithField("status", b.Status).WithField("event", ev).Info("booking transitioned")
	if e.audit == nil {
		return
	}
	if err := e.audit.LogTransition(ctx, b, ev, actorID); err != nil {
		e.logger.Error("failed to write audit log", err)
	}
}
