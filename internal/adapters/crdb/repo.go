package crdb

import (
	"context"
	"encoding/json"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pujaseva/puja-bookings-and-settlements/internal/domain"
	"github.com/pujaseva/puja-bookings-and-settlements/internal/observability"
	"github.com/shopspring/decimal"
)

const (
	SerializationFailureCode = "40001"
	UniqueViolationCode      = "23505"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	start := time.Now()
	defer func() { observability.DBTxDuration.Observe(time.Since(start).Seconds()) }()

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == SerializationFailureCode {
			return domain.ErrSerializationFailure
		}
		return err
	}

	return tx.Commit(ctx)
}

func (r *Repository) CreateBooking(ctx context.Context, b domain.Booking) error {
	return r.WithTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO bookings (id, customer_id, pandit_id, puja_type_id, scheduled_at, delivery_mode, address, price, currency, status, created_at, transitioned_at, last_actor_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		`, b.ID, b.CustomerID, b.PanditID, b.PujaTypeID, b.ScheduledAt, b.DeliveryMode, b.Address, b.Price.String(), b.Currency, b.Status, b.CreatedAt, b.TransitionedAt, b.LastActorID)
		if err != nil {
			return err
		}

		payload, _ := json.Marshal(map[string]interface{}{"booking_id": b.ID, "status": b.Status})
		return r.InsertOutbox(ctx, tx, OutboxRecord{
			ID:            uuid.New(),
			AggregateType: "booking",
			AggregateID:   b.ID,
			EventType:     "booking.created",
			Payload:       payload,
			DedupeKey:     uuid.New().String(),
		})
	})
}

const bookingColumns = `id, customer_id, pandit_id, puja_type_id, scheduled_at, delivery_mode, address, price::text, currency, status, created_at, transitioned_at, last_actor_id`

func scanBooking(row pgx.Row) (domain.Booking, error) {
	var b domain.Booking
	var price string
	err := row.Scan(&b.ID, &b.CustomerID, &b.PanditID, &b.PujaTypeID, &b.ScheduledAt, &b.DeliveryMode, &b.Address, &price, &b.Currency, &b.Status, &b.CreatedAt, &b.TransitionedAt, &b.LastActorID)
	if err == pgx.ErrNoRows {
		return domain.Booking{}, errors.Wrap(domain.ErrNotFound, "booking")
	}
	if err != nil {
		return domain.Booking{}, err
	}
	b.Price, err = decimal.NewFromString(price)
	if err != nil {
		return domain.Booking{}, err
	}
	return b, nil
}

func (r *Repository) GetBooking(ctx context.Context, id uuid.UUID) (domain.Booking, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id)
	return scanBooking(row)
}

func (r *Repository) listBookings(ctx context.Context, query string, args ...interface{}) ([]domain.Booking, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *Repository) ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]domain.Booking, error) {
	return r.listBookings(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE customer_id = $1 ORDER BY scheduled_at ASC`, customerID)
}

func (r *Repository) ListByPandit(ctx context.Context, panditID uuid.UUID) ([]domain.Booking, error) {
	return r.listBookings(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE pandit_id = $1 ORDER BY scheduled_at ASC`, panditID)
}

func (r *Repository) ListBookings(ctx context.Context) ([]domain.Booking, error) {
	return r.listBookings(ctx, `SELECT `+bookingColumns+` FROM bookings ORDER BY scheduled_at ASC`)
}

func (r *Repository) ListStalePendingPayments(ctx context.Context, cutoff time.Time) ([]domain.Booking, error) {
	return r.listBookings(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE status = 'pending_payment' AND created_at <= $1 ORDER BY scheduled_at ASC`, cutoff)
}

// Transition applies the state change only if the booking is still in `from`,
// and records an outbox event in the same transaction.
func (r *Repository) Transition(ctx context.Context, id uuid.UUID, from, to domain.Status, ev domain.Event, actorID uuid.UUID) (domain.Booking, error) {
	if next, ok := domain.NextStatus(from, ev); !ok || next != to {
		return domain.Booking{}, errors.Wrapf(domain.ErrInvalidTransition, "%s is not legal from %s", ev, from)
	}

	var updated domain.Booking
	err := r.WithTx(ctx, func(tx pgx.Tx) error {
		result, err := tx.Exec(ctx, `
			UPDATE bookings SET status = $3, transitioned_at = now(), last_actor_id = $4
			WHERE id = $1 AND status = $2
		`, id, from, to, actorID)
		if err != nil {
			return err
		}
		if result.RowsAffected() == 0 {
			var current domain.Status
			err := tx.QueryRow(ctx, `SELECT status FROM bookings WHERE id = $1`, id).Scan(&current)
			if err == pgx.ErrNoRows {
				return errors.Wrap(domain.ErrNotFound, "booking")
			}
			if err != nil {
				return err
			}
			return errors.Wrapf(domain.ErrConflict, "booking moved to %s", current)
		}

		payload, _ := json.Marshal(map[string]interface{}{"booking_id": id, "status": to, "event": ev})
		if err := r.InsertOutbox(ctx, tx, OutboxRecord{
			ID:            uuid.New(),
			AggregateType: "booking",
			AggregateID:   id,
			EventType:     "booking." + string(ev),
			Payload:       payload,
			DedupeKey:     uuid.New().String(),
		}); err != nil {
			return err
		}

		updated, err = scanBooking(tx.QueryRow(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
		return err
	})
	if err != nil {
		return domain.Booking{}, err
	}
	return updated, nil
}

func (r *Repository) CreateAttempt(ctx context.Context, a domain.SettlementAttempt) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO settlement_attempts (id, booking_id, path, external_ref, amount, currency, outcome, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, a.ID, a.BookingID, a.Path, a.ExternalRef, a.Amount.String(), a.Currency, a.Outcome, a.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == UniqueViolationCode {
		return errors.Wrap(domain.ErrConflict, "settlement attempt already exists for booking")
	}
	return err
}

const attemptColumns = `id, booking_id, path, external_ref, amount::text, currency, outcome, created_at, verified_at`

func scanAttempt(row pgx.Row) (domain.SettlementAttempt, error) {
	var a domain.SettlementAttempt
	var amount string
	err := row.Scan(&a.ID, &a.BookingID, &a.Path, &a.ExternalRef, &amount, &a.Currency, &a.Outcome, &a.CreatedAt, &a.VerifiedAt)
	if err == pgx.ErrNoRows {
		return domain.SettlementAttempt{}, errors.Wrap(domain.ErrNotFound, "settlement attempt")
	}
	if err != nil {
		return domain.SettlementAttempt{}, err
	}
	a.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return domain.SettlementAttempt{}, err
	}
	return a, nil
}

func (r *Repository) AttemptByBooking(ctx context.Context, bookingID uuid.UUID) (domain.SettlementAttempt, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+attemptColumns+` FROM settlement_attempts WHERE booking_id = $1`, bookingID)
	return scanAttempt(row)
}

func (r *Repository) AttemptByExternalRef(ctx context.Context, ref string) (domain.SettlementAttempt, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+attemptColumns+` FROM settlement_attempts WHERE external_ref = $1`, ref)
	return scanAttempt(row)
}

// MarkVerified flips the attempt from initiated to verified, at most once
// per booking even under concurrent verification calls.
func (r *Repository) MarkVerified(ctx context.Context, attemptID uuid.UUID, at time.Time) error {
	return r.casAttempt(ctx, attemptID, domain.OutcomeVerified, &at)
}

func (r *Repository) MarkFailed(ctx context.Context, attemptID uuid.UUID) error {
	return r.casAttempt(ctx, attemptID, domain.OutcomeFailed, nil)
}

func (r *Repository) casAttempt(ctx context.Context, attemptID uuid.UUID, to domain.SettlementOutcome, at *time.Time) error {
	result, err := r.pool.Exec(ctx, `
		UPDATE settlement_attempts SET outcome = $2, verified_at = $3
		WHERE id = $1 AND outcome = 'initiated'
	`, attemptID, to, at)
	if err != nil {
		return err
	}
	if result.RowsAffected() == 0 {
		var current domain.SettlementOutcome
		err := r.pool.QueryRow(ctx, `SELECT outcome FROM settlement_attempts WHERE id = $1`, attemptID).Scan(&current)
		if err == pgx.ErrNoRows {
			return errors.Wrap(domain.ErrNotFound, "settlement attempt")
		}
		if err != nil {
			return err
		}
		return errors.Wrapf(domain.ErrConflict, "attempt is %s", current)
	}
	return nil
}
