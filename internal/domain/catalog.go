package domain

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// PujaType is the catalog record a booking snapshots its price from.
type PujaType struct {
	ID              uuid.UUID
	NameEN          string
	NameLocal       string
	DurationMinutes int
	Price           decimal.Decimal
	Virtual         bool
}

// Pandit is the officiant profile. Approved gates whether the pandit may be
// offered at booking creation; only an admin flips it.
type Pandit struct {
	ID       uuid.UUID
	City     string
	State    string
	Approved bool
}
