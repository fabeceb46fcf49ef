package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/beautycita/schedule-service/internal/booking"
	"github.com/beautycita/schedule-service/internal/cache"
	"github.com/beautycita/schedule-service/internal/interval"
	"github.com/beautycita/schedule-service/internal/model"
	"github.com/beautycita/schedule-service/internal/scheduling"
)

// Engine is the scheduling facade surface the HTTP layer binds to.
type Engine interface {
	AvailableSlots(ctx context.Context, providerID string, from, to time.Time, duration time.Duration) ([]scheduling.Slot, error)
	CreateBooking(ctx context.Context, req scheduling.CreateBookingRequest) (model.Booking, error)
	TransitionBooking(ctx context.Context, bookingID string, target booking.Status) (model.Booking, error)
	ListBookings(ctx context.Context, providerID string, limit int) ([]model.Booking, error)
}

type BookingHandler struct {
	engine Engine
	cache  *cache.SlotsCache
	logger *slog.Logger
}

// NewBookingHandler wires the facade to the HTTP surface. slotsCache may be
// nil when Redis is not configured; listings are then computed on every call.
func NewBookingHandler(engine Engine, slotsCache *cache.SlotsCache, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{engine: engine, cache: slotsCache, logger: logger}
}

type slotItem struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type bookingItem struct {
	BookingID       string `json:"booking_id"`
	ProviderID      string `json:"provider_id"`
	ClientID        string `json:"client_id"`
	ServiceID       string `json:"service_id"`
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
	Status          string `json:"status"`
	TotalPriceCents int64  `json:"total_price_cents"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

func toBookingItem(b model.Booking) bookingItem {
	return bookingItem{
		BookingID:       b.ID,
		ProviderID:      b.ProviderID,
		ClientID:        b.ClientID,
		ServiceID:       b.ServiceID,
		StartTime:       b.StartTime.UTC().Format(time.RFC3339),
		EndTime:         b.EndTime.UTC().Format(time.RFC3339),
		Status:          string(b.Status),
		TotalPriceCents: b.TotalPriceCents,
		CreatedAt:       b.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:       b.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

// Slots lists bookable start times. The listing is advisory: an empty array
// means the provider has no openings in the range, which is a valid answer,
// not an error.
func (h *BookingHandler) Slots(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	providerID := strings.TrimSpace(r.URL.Query().Get("provider_id"))
	if providerID == "" {
		http.Error(w, "provider_id required", http.StatusBadRequest)
		return
	}
	from, err := time.Parse(time.RFC3339, strings.TrimSpace(r.URL.Query().Get("from")))
	if err != nil {
		http.Error(w, "invalid from", http.StatusBadRequest)
		return
	}
	to, err := time.Parse(time.RFC3339, strings.TrimSpace(r.URL.Query().Get("to")))
	if err != nil {
		http.Error(w, "invalid to", http.StatusBadRequest)
		return
	}
	durationMins, err := strconv.Atoi(strings.TrimSpace(r.URL.Query().Get("duration_minutes")))
	if err != nil || durationMins <= 0 || durationMins > 8*60 {
		http.Error(w, "invalid duration_minutes", http.StatusBadRequest)
		return
	}

	cacheQuery := fmt.Sprintf("%d:%d:%d", from.Unix(), to.Unix(), durationMins)
	if h.cache != nil {
		if body, ok := h.cache.Get(r.Context(), providerID, cacheQuery); ok {
			writeJSONBody(w, http.StatusOK, body)
			return
		}
	}

	slots, err := h.engine.AvailableSlots(r.Context(), providerID, from, to, time.Duration(durationMins)*time.Minute)
	if err != nil {
		switch {
		case errors.Is(err, scheduling.ErrNotFound):
			http.Error(w, "provider not found", http.StatusNotFound)
		case errors.Is(err, interval.ErrInvalidInterval):
			http.Error(w, "invalid range", http.StatusBadRequest)
		default:
			h.logger.Error("slot listing failed", "provider_id", providerID, "err", err)
			http.Error(w, "failed to compute slots", http.StatusInternalServerError)
		}
		return
	}

	items := make([]slotItem, 0, len(slots))
	for _, s := range slots {
		items = append(items, slotItem{
			StartTime: s.Start.UTC().Format(time.RFC3339),
			EndTime:   s.End.UTC().Format(time.RFC3339),
		})
	}
	body, err := json.Marshal(items)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	if h.cache != nil {
		h.cache.Set(r.Context(), providerID, cacheQuery, body)
	}
	writeJSONBody(w, http.StatusOK, body)
}

type createBookingRequest struct {
	ProviderID      string `json:"provider_id"`
	ClientID        string `json:"client_id"`
	ServiceID       string `json:"service_id"`
	StartTime       string `json:"start_time"`
	EndTime         string `json:"end_time"`
	TotalPriceCents int64  `json:"total_price_cents"`
}

// Book creates a PENDING booking. 409 means another booking holds the
// interval and retrying the same interval is pointless; 503 means transient
// transaction contention where the identical request may be retried.
func (h *BookingHandler) Book(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.ProviderID = strings.TrimSpace(req.ProviderID)
	req.ClientID = strings.TrimSpace(req.ClientID)
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	if req.ProviderID == "" || req.ClientID == "" || req.ServiceID == "" {
		http.Error(w, "provider_id, client_id and service_id required", http.StatusBadRequest)
		return
	}
	start, err := time.Parse(time.RFC3339, req.StartTime)
	if err != nil {
		http.Error(w, "invalid start_time", http.StatusBadRequest)
		return
	}
	end, err := time.Parse(time.RFC3339, req.EndTime)
	if err != nil {
		http.Error(w, "invalid end_time", http.StatusBadRequest)
		return
	}

	b, err := h.engine.CreateBooking(r.Context(), scheduling.CreateBookingRequest{
		ProviderID:      req.ProviderID,
		ClientID:        req.ClientID,
		ServiceID:       req.ServiceID,
		StartTime:       start,
		EndTime:         end,
		TotalPriceCents: req.TotalPriceCents,
		IdempotencyKey:  strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		switch {
		case errors.Is(err, interval.ErrInvalidInterval):
			http.Error(w, "end_time must be after start_time", http.StatusBadRequest)
		case errors.Is(err, scheduling.ErrConflict):
			http.Error(w, "time slot already booked", http.StatusConflict)
		case errors.Is(err, scheduling.ErrRetryable):
			http.Error(w, "booking contention, retry", http.StatusServiceUnavailable)
		case errors.Is(err, scheduling.ErrNotFound):
			http.Error(w, "provider not found", http.StatusNotFound)
		default:
			h.logger.Error("booking create failed", "provider_id", req.ProviderID, "err", err)
			http.Error(w, "failed to create booking", http.StatusInternalServerError)
		}
		return
	}

	if h.cache != nil {
		h.cache.Invalidate(r.Context(), b.ProviderID)
	}
	writeJSON(w, http.StatusCreated, toBookingItem(b))
}

type transitionRequest struct {
	BookingID string `json:"booking_id"`
	Status    string `json:"status"`
}

func (h *BookingHandler) Transition(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.BookingID = strings.TrimSpace(req.BookingID)
	if req.BookingID == "" || strings.TrimSpace(req.Status) == "" {
		http.Error(w, "booking_id and status required", http.StatusBadRequest)
		return
	}

	b, err := h.engine.TransitionBooking(r.Context(), req.BookingID, booking.Status(strings.TrimSpace(req.Status)))
	if err != nil {
		switch {
		case errors.Is(err, booking.ErrInvalidTransition):
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		case errors.Is(err, scheduling.ErrNotFound):
			http.Error(w, "booking not found", http.StatusNotFound)
		case errors.Is(err, scheduling.ErrRetryable):
			http.Error(w, "transition contention, retry", http.StatusServiceUnavailable)
		default:
			h.logger.Error("booking transition failed", "booking_id", req.BookingID, "err", err)
			http.Error(w, "failed to transition booking", http.StatusInternalServerError)
		}
		return
	}

	if h.cache != nil {
		h.cache.Invalidate(r.Context(), b.ProviderID)
	}
	writeJSON(w, http.StatusOK, toBookingItem(b))
}

func (h *BookingHandler) List(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	providerID := strings.TrimSpace(r.URL.Query().Get("provider_id"))
	if providerID == "" {
		http.Error(w, "provider_id required", http.StatusBadRequest)
		return
	}
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}

	bookings, err := h.engine.ListBookings(r.Context(), providerID, limit)
	if err != nil {
		h.logger.Error("booking list failed", "provider_id", providerID, "err", err)
		http.Error(w, "failed to list bookings", http.StatusInternalServerError)
		return
	}

	items := make([]bookingItem, 0, len(bookings))
	for _, b := range bookings {
		items = append(items, toBookingItem(b))
	}
	writeJSON(w, http.StatusOK, items)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	writeJSONBody(w, status, body)
}

func writeJSONBody(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
