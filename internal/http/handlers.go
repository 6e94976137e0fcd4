package http

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/pujaseva/puja-bookings-and-settlements/internal/config"
	"github.com/pujaseva/puja-bookings-and-settlements/internal/domain"
	"github.com/pujaseva/puja-bookings-and-settlements/internal/idempotency"
	"github.com/pujaseva/puja-bookings-and-settlements/internal/workflow"
)

type Handlers struct {
	cfg    *config.Config
	engine *workflow.Engine
	idemp  *idempotency.Idempotency
}

func NewHandlers(cfg *config.Config, engine *workflow.Engine, idemp *idempotency.Idempotency) *Handlers {
	return &Handlers{cfg: cfg, engine: engine, idemp: idemp}
}

func (h *Handlers) replayIdempotent(w http.ResponseWriter, r *http.Request) bool {
	if h.idemp == nil {
		return false
	}
	existing, err := h.idemp.Get(r.Context(), r.Header.Get("Idempotency-Key"))
	if err != nil || existing == nil {
		return false
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(existing.Status)
	w.Write(existing.Result)
	return true
}

func (h *Handlers) storeIdempotent(r *http.Request, status int, body []byte) {
	if h.idemp == nil {
		return
	}
	h.idemp.Set(r.Context(), r.Header.Get("Idempotency-Key"), idempotency.Response{Status: status, Result: body})
}

func bookingJSON(b domain.Booking) map[string]interface{} {
	return map[string]interface{}{
		"booking_id":      b.ID,
		"customer_id":     b.CustomerID,
		"pandit_id":       b.PanditID,
		"puja_type_id":    b.PujaTypeID,
		"scheduled_at":    b.ScheduledAt.Format(time.RFC3339),
		"delivery_mode":   b.DeliveryMode,
		"address":         b.Address,
		"price":           b.Price.String(),
		"currency":        b.Currency,
		"state":           b.Status,
		"created_at":      b.CreatedAt.Format(time.RFC3339),
		"transitioned_at": b.TransitionedAt.Format(time.RFC3339),
	}
}

func (h *Handlers) CreateBooking(w http.ResponseWriter, r *http.Request) {
	if h.replayIdempotent(w, r) {
		return
	}
	actor, ok := ActorFromContext(r.Context())
	if !ok {
		WriteError(w, http.StatusUnauthorized, "unauthorized", "missing actor")
		return
	}

	var req struct {
		PujaTypeID   uuid.UUID `json:"puja_type_id"`
		PanditID     uuid.UUID `json:"pandit_id"`
		ScheduledAt  time.Time `json:"scheduled_at"`
		DeliveryMode string    `json:"delivery_mode"`
		Address      string    `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	mode, err := domain.ParseDeliveryMode(req.DeliveryMode)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	b, err := h.engine.CreateBooking(r.Context(), actor, workflow.CreateBookingInput{
		PujaTypeID:   req.PujaTypeID,
		PanditID:     req.PanditID,
		ScheduledAt:  req.ScheduledAt,
		DeliveryMode: mode,
		Address:      req.Address,
	})
	if err != nil {
		writeDomainError(w, err)
		return
	}

	body := writeJSON(w, http.StatusCreated, map[string]interface{}{
		"booking_id": b.ID,
		"state":      b.Status,
	})
	h.storeIdempotent(r, http.StatusCreated, body)
}

func (h *Handlers) GetBooking(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation_error", "invalid booking id")
		return
	}

	b, err := h.engine.GetBooking(r.Context(), actor, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bookingJSON(b))
}

func (h *Handlers) ListMyBookings(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	bookings, err := h.engine.ListCustomerBookings(r.Context(), actor)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bookingsJSON(bookings))
}

func (h *Handlers) ListPanditBookings(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	panditID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation_error", "invalid pandit id")
		return
	}

	bookings, err := h.engine.ListPanditBookings(r.Context(), actor, panditID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bookingsJSON(bookings))
}

func (h *Handlers) ListAllBookings(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	bookings, err := h.engine.ListAllBookings(r.Context(), actor)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bookingsJSON(bookings))
}

func bookingsJSON(bookings []domain.Booking) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(bookings))
	for _, b := range bookings {
		out = append(out, bookingJSON(b))
	}
	return out
}

func (h *Handlers) BeginSettlement(w http.ResponseWriter, r *http.Request) {
	if h.replayIdempotent(w, r) {
		return
	}
	actor, _ := ActorFromContext(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation_error", "invalid booking id")
		return
	}

	res, err := h.engine.BeginSettlement(r.Context(), actor, id)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	resp := map[string]interface{}{
		"path":  res.Path,
		"state": res.Booking.Status,
	}
	if res.Order != nil {
		resp["key_id"] = res.KeyID
		resp["gateway_order"] = map[string]interface{}{
			"id":       res.Order.ID,
			"amount":   res.Order.Amount,
			"currency": res.Order.Currency,
		}
	}
	if res.Result != nil {
		resp["settlement_id"] = res.Result.SettlementID
		resp["verified_at"] = res.Result.VerifiedAt.Format(time.RFC3339)
	}

	body := writeJSON(w, http.StatusOK, resp)
	h.storeIdempotent(r, http.StatusOK, body)
}

func (h *Handlers) VerifySettlement(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation_error", "invalid booking id")
		return
	}

	var proof domain.SettlementProof
	if err := json.NewDecoder(r.Body).Decode(&proof); err != nil {
		WriteError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	b, res, err := h.engine.VerifySettlement(r.Context(), actor, id, proof)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"state":         b.Status,
		"settlement_id": res.SettlementID,
		"verified_at":   res.VerifiedAt.Format(time.RFC3339),
	})
}

func (h *Handlers) TransitionBooking(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation_error", "invalid booking id")
		return
	}

	var req struct {
		Event string `json:"event"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	ev, err := domain.ParseEvent(req.Event)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	b, err := h.engine.Transition(r.Context(), actor, id, ev)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"state": b.Status})
}

func (h *Handlers) ListApprovedPandits(w http.ResponseWriter, r *http.Request) {
	pandits, err := h.engine.ListApprovedPandits(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	out := make([]map[string]interface{}, 0, len(pandits))
	for _, p := range pandits {
		out = append(out, map[string]interface{}{"pandit_id": p.ID, "city": p.City, "state": p.State})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) GetPujaType(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation_error", "invalid puja type id")
		return
	}
	puja, err := h.engine.GetPujaType(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"puja_type_id":     puja.ID,
		"name_en":          puja.NameEN,
		"name_local":       puja.NameLocal,
		"duration_minutes": puja.DurationMinutes,
		"price":            puja.Price.String(),
		"virtual":          puja.Virtual,
	})
}

func (h *Handlers) ApprovePandit(w http.ResponseWriter, r *http.Request) {
	actor, _ := ActorFromContext(r.Context())
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		WriteError(w, http.StatusBadRequest, "validation_error", "invalid pandit id")
		return
	}

	var req struct {
		Approved bool `json:"approved"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteError(w, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	p, err := h.engine.SetPanditApproval(r.Context(), actor, id, req.Approved)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"pandit_id": p.ID,
		"approved":  p.Approved,
	})
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}
