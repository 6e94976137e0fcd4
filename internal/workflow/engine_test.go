package workflow

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/pujaseva/puja-bookings-and-settlements/internal/adapters/memory"
	"github.com/pujaseva/puja-bookings-and-settlements/internal/domain"
	"github.com/pujaseva/puja-bookings-and-settlements/internal/gateway"
	"github.com/pujaseva/puja-bookings-and-settlements/internal/observability"
	"github.com/shopspring/decimal"
)

const stubSecret = "test-secret"

// stubGateway stands in for the Razorpay adapter. With down=true every Begin
// reports the gateway unavailable, which forces the simulated path;
// verifyDown makes Verify report the gateway unavailable instead.
type stubGateway struct {
	down       bool
	verifyDown bool

	mu     sync.Mutex
	orders int
}

func (g *stubGateway) Begin(ctx context.Context, b domain.Booking, receipt string) (gateway.Order, error) {
	if g.down {
		return gateway.Order{}, errors.Wrap(domain.ErrGatewayUnavailable, "stub gateway down")
	}
	g.mu.Lock()
	g.orders++
	id := fmt.Sprintf("order_%d", g.orders)
	g.mu.Unlock()
	return gateway.Order{ID: id, Amount: b.Price.Mul(decimal.NewFromInt(100)).IntPart(), Currency: b.Currency}, nil
}

func (g *stubGateway) Verify(p domain.SettlementProof) error {
	if g.verifyDown {
		return errors.Wrap(domain.ErrGatewayUnavailable, "stub credentials not set")
	}
	if p.OrderID == "" || p.PaymentID == "" || p.Signature == "" {
		return errors.Wrap(domain.ErrVerificationFailed, "incomplete settlement proof")
	}
	mac := hmac.New(sha256.New, []byte(stubSecret))
	mac.Write([]byte(p.OrderID + "|" + p.PaymentID))
	if !hmac.Equal([]byte(hex.EncodeToString(mac.Sum(nil))), []byte(p.Signature)) {
		return errors.Wrap(domain.ErrVerificationFailed, "signature mismatch")
	}
	return nil
}

func (g *stubGateway) Simulate(b domain.Booking) domain.SettlementResult {
	return domain.SettlementResult{BookingID: b.ID, SettlementID: "sim_" + uuid.NewString(), VerifiedAt: time.Now()}
}

func (g *stubGateway) KeyID() string { return "rzp_test_key" }

func signProof(orderID, paymentID string) domain.SettlementProof {
	mac := hmac.New(sha256.New, []byte(stubSecret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return domain.SettlementProof{
		OrderID:   orderID,
		PaymentID: paymentID,
		Signature: hex.EncodeToString(mac.Sum(nil)),
	}
}

type fixture struct {
	engine   *Engine
	store    *memory.Store
	gw       *stubGateway
	customer domain.Actor
	pandit   domain.Actor
	admin    domain.Actor
	pujaID   uuid.UUID
}

func newFixture(t *testing.T, gatewayDown bool) *fixture {
	t.Helper()

	store := memory.NewStore()
	catalog := memory.NewCatalog()
	gw := &stubGateway{down: gatewayDown}

	customer := domain.Actor{ID: uuid.New(), Role: domain.RoleCustomer}
	pandit := domain.Actor{ID: uuid.New(), Role: domain.RolePandit}
	admin := domain.Actor{ID: uuid.New(), Role: domain.RoleAdmin}

	pujaID := uuid.New()
	catalog.AddPujaType(domain.PujaType{ID: pujaID, NameEN: "Satyanarayan Puja", DurationMinutes: 90, Price: decimal.NewFromInt(1100)})
	catalog.AddPandit(domain.Pandit{ID: pandit.ID, City: "Varanasi", State: "UP", Approved: true})

	engine := NewEngine(store, store, catalog, gw, nil, nil, observability.NewLogger())
	return &fixture{engine: engine, store: store, gw: gw, customer: customer, pandit: pandit, admin: admin, pujaID: pujaID}
}

func (f *fixture) createBooking(t *testing.T) domain.Booking {
	t.Helper()
	b, err := f.engine.CreateBooking(context.Background(), f.customer, CreateBookingInput{
		PujaTypeID:   f.pujaID,
		PanditID:     f.pandit.ID,
		ScheduledAt:  time.Now().Add(72 * time.Hour),
		DeliveryMode: domain.DeliveryVirtual,
	})
	if err != nil {
		t.Fatalf("create booking: %v", err)
	}
	return b
}

func TestLifecycleSimulatedSettlement(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	b := f.createBooking(t)

	res, err := f.engine.BeginSettlement(ctx, f.customer, b.ID)
	if err != nil {
		t.Fatalf("begin settlement: %v", err)
	}
	if res.Path != domain.PathSimulated {
		t.Fatalf("path = %s, want simulated", res.Path)
	}
	if res.Result == nil || res.Result.SettlementID == "" {
		t.Fatal("simulated settlement must return a settlement id")
	}
	if res.Booking.Status != domain.StatusPending {
		t.Fatalf("status = %s, want pending", res.Booking.Status)
	}

	if _, err := f.engine.Transition(ctx, f.pandit, b.ID, domain.EventAccept); err != nil {
		t.Fatalf("accept: %v", err)
	}
	updated, err := f.engine.Transition(ctx, f.pandit, b.ID, domain.EventComplete)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if updated.Status != domain.StatusCompleted {
		t.Fatalf("status = %s, want completed", updated.Status)
	}
}

func TestLifecycleGatewaySettlement(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	b := f.createBooking(t)

	res, err := f.engine.BeginSettlement(ctx, f.customer, b.ID)
	if err != nil {
		t.Fatalf("begin settlement: %v", err)
	}
	if res.Path != domain.PathGateway {
		t.Fatalf("path = %s, want gateway", res.Path)
	}
	if res.Order == nil || res.Order.ID == "" {
		t.Fatal("gateway settlement must return an open order")
	}
	if res.Order.Amount != 110000 {
		t.Fatalf("order amount = %d paise, want 110000", res.Order.Amount)
	}
	if res.Booking.Status != domain.StatusPendingPayment {
		t.Fatalf("status = %s, booking must stay pending_payment until verified", res.Booking.Status)
	}

	updated, sres, err := f.engine.VerifySettlement(ctx, f.customer, b.ID, signProof(res.Order.ID, "pay_1"))
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if updated.Status != domain.StatusPending {
		t.Fatalf("status = %s, want pending", updated.Status)
	}
	if sres.SettlementID != res.Order.ID {
		t.Fatalf("settlement id = %s, want %s", sres.SettlementID, res.Order.ID)
	}
}

func TestVerifyRejectsTamperedProof(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	b := f.createBooking(t)

	res, err := f.engine.BeginSettlement(ctx, f.customer, b.ID)
	if err != nil {
		t.Fatal(err)
	}

	proof := signProof(res.Order.ID, "pay_1")
	proof.Signature = "deadbeef"
	if _, _, err := f.engine.VerifySettlement(ctx, f.customer, b.ID, proof); !errors.Is(err, domain.ErrVerificationFailed) {
		t.Fatalf("expected ErrVerificationFailed, got %v", err)
	}

	got, err := f.engine.GetBooking(ctx, f.customer, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusPaymentFailed {
		t.Fatalf("status = %s, want payment_failed after rejected proof", got.Status)
	}

	// The attempt is spent. No retry on this booking, on either operation.
	if _, err := f.engine.BeginSettlement(ctx, f.customer, b.ID); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("begin after failure: expected ErrInvalidTransition, got %v", err)
	}
	if _, _, err := f.engine.VerifySettlement(ctx, f.customer, b.ID, signProof(res.Order.ID, "pay_1")); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("verify after failure: expected ErrConflict, got %v", err)
	}
}

func TestVerifyRejectsForeignOrder(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	b := f.createBooking(t)

	if _, err := f.engine.BeginSettlement(ctx, f.customer, b.ID); err != nil {
		t.Fatal(err)
	}

	// A valid signature over someone else's order must not settle this booking.
	proof := signProof("order_other", "pay_1")
	if _, _, err := f.engine.VerifySettlement(ctx, f.customer, b.ID, proof); !errors.Is(err, domain.ErrVerificationFailed) {
		t.Fatalf("expected ErrVerificationFailed, got %v", err)
	}
}

func TestBeginSettlementResumable(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	b := f.createBooking(t)

	first, err := f.engine.BeginSettlement(ctx, f.customer, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	second, err := f.engine.BeginSettlement(ctx, f.customer, b.ID)
	if err != nil {
		t.Fatalf("second begin must resume, got %v", err)
	}
	if second.Order == nil || second.Order.ID != first.Order.ID {
		t.Fatal("resumed begin must hand back the same open order")
	}
	if g := f.gw.orders; g != 1 {
		t.Fatalf("gateway orders created = %d, want 1", g)
	}
}

func TestBeginSettlementAuthorization(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	b := f.createBooking(t)

	stranger := domain.Actor{ID: uuid.New(), Role: domain.RoleCustomer}
	if _, err := f.engine.BeginSettlement(ctx, stranger, b.ID); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("stranger: expected ErrForbidden, got %v", err)
	}
	if _, err := f.engine.BeginSettlement(ctx, f.admin, b.ID); err != nil {
		t.Fatalf("admin may settle on behalf of the customer: %v", err)
	}
}

func TestCustomerCancel(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	b := f.createBooking(t)

	// The role guard lets an owner try, but pending_payment has no cancel
	// edge; the booking either settles or expires.
	if _, err := f.engine.Transition(ctx, f.customer, b.ID, domain.EventCancel); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("cancel in pending_payment: expected ErrInvalidTransition, got %v", err)
	}

	if _, err := f.engine.BeginSettlement(ctx, f.customer, b.ID); err != nil {
		t.Fatal(err)
	}
	updated, err := f.engine.Transition(ctx, f.customer, b.ID, domain.EventCancel)
	if err != nil {
		t.Fatalf("cancel pending: %v", err)
	}
	if updated.Status != domain.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", updated.Status)
	}

	if _, err := f.engine.Transition(ctx, f.pandit, b.ID, domain.EventAccept); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("accept after cancel: expected ErrInvalidTransition, got %v", err)
	}
}

func TestTransitionAuthorization(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()
	b := f.createBooking(t)
	if _, err := f.engine.BeginSettlement(ctx, f.customer, b.ID); err != nil {
		t.Fatal(err)
	}

	otherPandit := domain.Actor{ID: uuid.New(), Role: domain.RolePandit}
	if _, err := f.engine.Transition(ctx, otherPandit, b.ID, domain.EventAccept); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("unassigned pandit: expected ErrForbidden, got %v", err)
	}
	if _, err := f.engine.Transition(ctx, f.customer, b.ID, domain.EventAccept); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("customer accept: expected ErrForbidden, got %v", err)
	}
	if _, err := f.engine.Transition(ctx, f.pandit, b.ID, domain.EventComplete); !errors.Is(err, domain.ErrInvalidTransition) {
		t.Fatalf("complete from pending: expected ErrInvalidTransition, got %v", err)
	}

	if _, err := f.engine.Transition(ctx, f.pandit, b.ID, domain.EventAccept); err != nil {
		t.Fatal(err)
	}
	updated, err := f.engine.Transition(ctx, f.admin, b.ID, domain.EventCancel)
	if err != nil {
		t.Fatalf("admin cancel: %v", err)
	}
	if updated.Status != domain.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", updated.Status)
	}
	if _, err := f.engine.Transition(ctx, f.admin, b.ID, domain.EventCancel); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("cancel a terminal booking: expected ErrForbidden, got %v", err)
	}
}

func TestCreateBookingValidation(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	if _, err := f.engine.CreateBooking(ctx, f.pandit, CreateBookingInput{}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("pandit create: expected ErrForbidden, got %v", err)
	}

	in := CreateBookingInput{
		PujaTypeID:   uuid.New(),
		PanditID:     f.pandit.ID,
		ScheduledAt:  time.Now().Add(time.Hour),
		DeliveryMode: domain.DeliveryVirtual,
	}
	if _, err := f.engine.CreateBooking(ctx, f.customer, in); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("unknown puja type: expected ErrNotFound, got %v", err)
	}

	unapproved := uuid.New()
	f.mustAddPandit(t, domain.Pandit{ID: unapproved, City: "Pune", State: "MH"})
	in.PujaTypeID = f.pujaID
	in.PanditID = unapproved
	if _, err := f.engine.CreateBooking(ctx, f.customer, in); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("unapproved pandit: expected ErrValidation, got %v", err)
	}
}

func (f *fixture) mustAddPandit(t *testing.T, p domain.Pandit) {
	t.Helper()
	catalog, ok := f.engine.catalog.(*memory.Catalog)
	if !ok {
		t.Fatal("fixture catalog is not the in-memory catalog")
	}
	catalog.AddPandit(p)
}

func TestConcurrentVerificationSettlesOnce(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	b := f.createBooking(t)

	res, err := f.engine.BeginSettlement(ctx, f.customer, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	proof := signProof(res.Order.ID, "pay_1")

	const n = 32
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := f.engine.VerifySettlement(ctx, f.customer, b.ID, proof)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var succeeded int
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		if !errors.Is(err, domain.ErrConflict) {
			t.Fatalf("loser must fail with ErrConflict, got %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("exactly one verification must win, got %d", succeeded)
	}

	got, err := f.engine.GetBooking(ctx, f.customer, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusPending {
		t.Fatalf("status = %s, want pending", got.Status)
	}
	att, err := f.store.AttemptByBooking(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if att.Outcome != domain.OutcomeVerified {
		t.Fatalf("attempt outcome = %s, want verified", att.Outcome)
	}
}

func TestExpireRecoversInterruptedVerification(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	b := f.createBooking(t)

	if _, err := f.engine.BeginSettlement(ctx, f.customer, b.ID); err != nil {
		t.Fatal(err)
	}

	// The attempt is spent but the booking never advanced, as after a crash
	// between the two writes of a verification.
	att, err := f.store.AttemptByBooking(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if err := f.store.MarkVerified(ctx, att.ID, time.Now()); err != nil {
		t.Fatal(err)
	}

	expired, err := f.engine.ExpireStalePendingPayments(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if expired != 0 {
		t.Fatalf("expired = %d, a paid booking must never be expired", expired)
	}

	got, err := f.engine.GetBooking(ctx, f.customer, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusPending {
		t.Fatalf("status = %s, want pending after the sweep completes the verification", got.Status)
	}
}

// raceyStore makes every MarkFailed lose the outcome race, as when a
// verification lands between the sweep's read and its write.
type raceyStore struct {
	*memory.Store
}

func (s *raceyStore) MarkFailed(ctx context.Context, attemptID uuid.UUID) error {
	return errors.Wrap(domain.ErrConflict, "attempt is verified")
}

func TestExpireSkipsRacedAttempt(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	engine := NewEngine(f.store, &raceyStore{f.store}, f.engine.catalog, f.gw, nil, nil, observability.NewLogger())

	raced := f.createBooking(t)
	if _, err := engine.BeginSettlement(ctx, f.customer, raced.ID); err != nil {
		t.Fatal(err)
	}
	abandoned := f.createBooking(t)

	// The raced booking is skipped; the rest of the sweep still runs.
	expired, err := engine.ExpireStalePendingPayments(ctx, 0)
	if err != nil {
		t.Fatalf("a lost outcome race must not abort the sweep: %v", err)
	}
	if expired != 1 {
		t.Fatalf("expired = %d, want 1", expired)
	}

	got, err := engine.GetBooking(ctx, f.customer, raced.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusPendingPayment {
		t.Fatalf("raced booking status = %s, must be left alone", got.Status)
	}
	got, err = engine.GetBooking(ctx, f.customer, abandoned.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusPaymentFailed {
		t.Fatalf("abandoned booking status = %s, want payment_failed", got.Status)
	}
}

func TestVerifyDuringGatewayOutage(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	b := f.createBooking(t)

	res, err := f.engine.BeginSettlement(ctx, f.customer, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	proof := signProof(res.Order.ID, "pay_1")

	f.gw.verifyDown = true
	if _, _, err := f.engine.VerifySettlement(ctx, f.customer, b.ID, proof); !errors.Is(err, domain.ErrConflict) {
		t.Fatalf("expected ErrConflict while the gateway is unreachable, got %v", err)
	}

	// Nothing is spent; the same proof settles once the gateway is back.
	att, err := f.store.AttemptByBooking(ctx, b.ID)
	if err != nil {
		t.Fatal(err)
	}
	if att.Outcome != domain.OutcomeInitiated {
		t.Fatalf("attempt outcome = %s, must stay initiated", att.Outcome)
	}

	f.gw.verifyDown = false
	updated, _, err := f.engine.VerifySettlement(ctx, f.customer, b.ID, proof)
	if err != nil {
		t.Fatalf("retry after outage: %v", err)
	}
	if updated.Status != domain.StatusPending {
		t.Fatalf("status = %s, want pending", updated.Status)
	}
}

func TestExpireStalePendingPayments(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	stale := f.createBooking(t)
	settled := f.createBooking(t)
	if _, err := f.engine.BeginSettlement(ctx, f.customer, settled.ID); err != nil {
		t.Fatal(err)
	}

	expired, err := f.engine.ExpireStalePendingPayments(ctx, 0)
	if err != nil {
		t.Fatal(err)
	}
	if expired != 1 {
		t.Fatalf("expired = %d, want 1", expired)
	}

	got, err := f.engine.GetBooking(ctx, f.customer, stale.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusPaymentFailed {
		t.Fatalf("stale booking status = %s, want payment_failed", got.Status)
	}
	got, err = f.engine.GetBooking(ctx, f.customer, settled.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.StatusPending {
		t.Fatalf("settled booking status = %s, must be untouched", got.Status)
	}
}
