package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type SettlementPath string

const (
	PathGateway   SettlementPath = "gateway"
	PathSimulated SettlementPath = "simulated"
)

type SettlementOutcome string

const (
	OutcomeInitiated SettlementOutcome = "initiated"
	OutcomeVerified  SettlementOutcome = "verified"
	OutcomeFailed    SettlementOutcome = "failed"
)

// SettlementAttempt is one attempt to pay for a booking. A booking has at
// most one attempt, and at most one attempt ever reaches verified.
type SettlementAttempt struct {
	ID         uuid.UUID
	BookingID  uuid.UUID
	Path       SettlementPath
	// ExternalRef is the gateway order id on the gateway path and the locally
	// generated settlement id on the simulated path.
	ExternalRef string
	Amount      decimal.Decimal
	Currency    string
	Outcome     SettlementOutcome
	CreatedAt   time.Time
	VerifiedAt  *time.Time
}

// SettlementID is the identifier reported to callers for this attempt.
func (a SettlementAttempt) SettlementID() string {
	if a.ExternalRef != "" {
		return a.ExternalRef
	}
	return a.ID.String()
}

// SettlementResult is the uniform shape both settlement paths produce; the
// workflow engine never needs to know which path settled.
type SettlementResult struct {
	BookingID    uuid.UUID `json:"booking_id"`
	SettlementID string    `json:"settlement_id"`
	VerifiedAt   time.Time `json:"verified_at"`
}

// SettlementProof is the signed payload the gateway hands the client after a
// hosted checkout; the signature covers "orderID|paymentID".
type SettlementProof struct {
	OrderID   string `json:"order_id"`
	PaymentID string `json:"payment_id"`
	Signature string `json:"signature"`
}
