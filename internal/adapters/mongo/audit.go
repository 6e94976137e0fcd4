package mongo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pujaseva/puja-bookings-and-settlements/internal/domain"
	"github.com/pujaseva/puja-bookings-and-settlements/internal/observability"
	"go.mongodb.org/mongo-driver/mongo"
)

// AuditLogger records every booking transition: who moved which booking to
// what state, and when.
type AuditLogger struct {
	coll   *mongo.Collection
	logger observability.Logger
}

func NewAuditLogger(db *mongo.Database, logger observability.Logger) *AuditLogger {
	return &AuditLogger{
		coll:   db.Collection("transition_logs"),
		logger: logger,
	}
}

type TransitionLog struct {
	ID        uuid.UUID     `bson:"_id"`
	BookingID uuid.UUID     `bson:"booking_id"`
	Event     domain.Event  `bson:"event"`
	Status    domain.Status `bson:"status"`
	ActorID   uuid.UUID     `bson:"actor_id"`
	Timestamp time.Time     `bson:"timestamp"`
}

func (a *AuditLogger) LogTransition(ctx context.Context, b domain.Booking, ev domain.Event, actorID uuid.UUID) error {
	log := TransitionLog{
		ID:        uuid.New(),
		BookingID: b.ID,
		Event:     ev,
		Status:    b.Status,
		ActorID:   actorID,
		Timestamp: time.Now(),
	}
	_, err := a.coll.InsertOne(ctx, log)
	if err != nil {
		a.logger.Error("failed to insert transition log", err)
		return err
	}
	return nil
}
