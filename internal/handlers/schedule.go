package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/beautycita/schedule-service/internal/cache"
	"github.com/beautycita/schedule-service/internal/model"
	"github.com/beautycita/schedule-service/internal/scheduling"
	"github.com/beautycita/schedule-service/internal/storage"
)

// ScheduleHandler owns the provider-facing write surface: timezone, weekly
// rules, time off. Every write invalidates the provider's cached listings.
type ScheduleHandler struct {
	repo   *storage.ScheduleRepository
	cache  *cache.SlotsCache
	logger *slog.Logger
}

func NewScheduleHandler(repo *storage.ScheduleRepository, slotsCache *cache.SlotsCache, logger *slog.Logger) *ScheduleHandler {
	return &ScheduleHandler{repo: repo, cache: slotsCache, logger: logger}
}

type upsertProviderRequest struct {
	ProviderID string `json:"provider_id"`
	Timezone   string `json:"timezone"`
}

func (h *ScheduleHandler) UpsertProvider(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req upsertProviderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.ProviderID = strings.TrimSpace(req.ProviderID)
	req.Timezone = strings.TrimSpace(req.Timezone)
	if req.ProviderID == "" || req.Timezone == "" {
		http.Error(w, "provider_id and timezone required", http.StatusBadRequest)
		return
	}
	if _, err := time.LoadLocation(req.Timezone); err != nil {
		http.Error(w, "timezone must be a valid IANA name", http.StatusBadRequest)
		return
	}

	if err := h.repo.UpsertProvider(r.Context(), req.ProviderID, req.Timezone); err != nil {
		h.logger.Error("provider upsert failed", "provider_id", req.ProviderID, "err", err)
		http.Error(w, "failed to upsert provider", http.StatusInternalServerError)
		return
	}
	h.invalidate(r, req.ProviderID)
	writeJSON(w, http.StatusOK, map[string]string{"provider_id": req.ProviderID, "timezone": req.Timezone})
}

type ruleItem struct {
	Weekday       int `json:"weekday"`
	StartMinute   int `json:"start_minute"`
	EndMinute     int `json:"end_minute"`
	SlotMinutes   int `json:"slot_minutes"`
	BufferMinutes int `json:"buffer_minutes"`
}

func (h *ScheduleHandler) Schedule(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.getSchedule(w, r)
	case http.MethodPost:
		h.replaceSchedule(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *ScheduleHandler) getSchedule(w http.ResponseWriter, r *http.Request) {
	providerID := strings.TrimSpace(r.URL.Query().Get("provider_id"))
	if providerID == "" {
		http.Error(w, "provider_id required", http.StatusBadRequest)
		return
	}

	rules, err := h.repo.ListRules(r.Context(), providerID)
	if err != nil {
		h.logger.Error("schedule fetch failed", "provider_id", providerID, "err", err)
		http.Error(w, "failed to load schedule", http.StatusInternalServerError)
		return
	}

	items := make([]ruleItem, 0, len(rules))
	for _, rule := range rules {
		items = append(items, ruleItem{
			Weekday:       rule.Weekday,
			StartMinute:   rule.StartMinute,
			EndMinute:     rule.EndMinute,
			SlotMinutes:   rule.SlotMinutes,
			BufferMinutes: rule.BufferMinutes,
		})
	}
	writeJSON(w, http.StatusOK, items)
}

type replaceScheduleRequest struct {
	ProviderID string     `json:"provider_id"`
	Rules      []ruleItem `json:"rules"`
}

// replaceSchedule swaps the provider's whole week, the way the provider app
// saves its hours screen. Rule edits apply from now on; existing bookings are
// never re-validated against the new rules.
func (h *ScheduleHandler) replaceSchedule(w http.ResponseWriter, r *http.Request) {
	var req replaceScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.ProviderID = strings.TrimSpace(req.ProviderID)
	if req.ProviderID == "" {
		http.Error(w, "provider_id required", http.StatusBadRequest)
		return
	}

	rules := make([]model.AvailabilityRule, 0, len(req.Rules))
	for _, item := range req.Rules {
		if item.Weekday < 0 || item.Weekday > 6 {
			http.Error(w, "weekday must be 0..6", http.StatusBadRequest)
			return
		}
		if item.StartMinute < 0 || item.EndMinute > 24*60 || item.StartMinute >= item.EndMinute {
			http.Error(w, "start_minute/end_minute out of range", http.StatusBadRequest)
			return
		}
		if item.SlotMinutes < 0 || item.BufferMinutes < 0 {
			http.Error(w, "slot_minutes/buffer_minutes must not be negative", http.StatusBadRequest)
			return
		}
		rules = append(rules, model.AvailabilityRule{
			ProviderID:    req.ProviderID,
			Weekday:       item.Weekday,
			StartMinute:   item.StartMinute,
			EndMinute:     item.EndMinute,
			SlotMinutes:   item.SlotMinutes,
			BufferMinutes: item.BufferMinutes,
		})
	}

	if err := h.repo.ReplaceRules(r.Context(), req.ProviderID, rules); err != nil {
		if errors.Is(err, scheduling.ErrNotFound) {
			http.Error(w, "provider not found", http.StatusNotFound)
			return
		}
		h.logger.Error("schedule replace failed", "provider_id", req.ProviderID, "err", err)
		http.Error(w, "failed to replace schedule", http.StatusInternalServerError)
		return
	}
	h.invalidate(r, req.ProviderID)
	writeJSON(w, http.StatusOK, map[string]int{"rules": len(rules)})
}

type timeOffItem struct {
	ID        string `json:"id,omitempty"`
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
	Reason    string `json:"reason,omitempty"`
}

func (h *ScheduleHandler) TimeOff(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.listTimeOff(w, r)
	case http.MethodPost:
		h.createTimeOff(w, r)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *ScheduleHandler) listTimeOff(w http.ResponseWriter, r *http.Request) {
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

	periods, err := h.repo.ListTimeOff(r.Context(), providerID, from, to)
	if err != nil {
		h.logger.Error("time off list failed", "provider_id", providerID, "err", err)
		http.Error(w, "failed to list time off", http.StatusInternalServerError)
		return
	}

	items := make([]timeOffItem, 0, len(periods))
	for _, p := range periods {
		items = append(items, timeOffItem{
			ID:        p.ID,
			StartTime: p.StartTime.UTC().Format(time.RFC3339),
			EndTime:   p.EndTime.UTC().Format(time.RFC3339),
			Reason:    p.Reason,
		})
	}
	writeJSON(w, http.StatusOK, items)
}

type createTimeOffRequest struct {
	ProviderID string `json:"provider_id"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
	Reason     string `json:"reason"`
}

func (h *ScheduleHandler) createTimeOff(w http.ResponseWriter, r *http.Request) {
	var req createTimeOffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.ProviderID = strings.TrimSpace(req.ProviderID)
	if req.ProviderID == "" {
		http.Error(w, "provider_id required", http.StatusBadRequest)
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
	if !end.After(start) {
		http.Error(w, "end_time must be after start_time", http.StatusBadRequest)
		return
	}

	id, err := h.repo.CreateTimeOff(r.Context(), req.ProviderID, start, end, strings.TrimSpace(req.Reason))
	if err != nil {
		if errors.Is(err, scheduling.ErrNotFound) {
			http.Error(w, "provider not found", http.StatusNotFound)
			return
		}
		h.logger.Error("time off create failed", "provider_id", req.ProviderID, "err", err)
		http.Error(w, "failed to create time off", http.StatusInternalServerError)
		return
	}
	h.invalidate(r, req.ProviderID)
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

type deleteTimeOffRequest struct {
	ProviderID string `json:"provider_id"`
	ID         string `json:"id"`
}

func (h *ScheduleHandler) DeleteTimeOff(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req deleteTimeOffRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.ProviderID = strings.TrimSpace(req.ProviderID)
	req.ID = strings.TrimSpace(req.ID)
	if req.ProviderID == "" || req.ID == "" {
		http.Error(w, "provider_id and id required", http.StatusBadRequest)
		return
	}

	if err := h.repo.DeleteTimeOff(r.Context(), req.ProviderID, req.ID); err != nil {
		if errors.Is(err, scheduling.ErrNotFound) {
			http.Error(w, "time off not found", http.StatusNotFound)
			return
		}
		h.logger.Error("time off delete failed", "provider_id", req.ProviderID, "err", err)
		http.Error(w, "failed to delete time off", http.StatusInternalServerError)
		return
	}
	h.invalidate(r, req.ProviderID)
	writeJSON(w, http.StatusOK, map[string]string{"id": req.ID})
}

func (h *ScheduleHandler) invalidate(r *http.Request, providerID string) {
	if h.cache != nil {
		h.cache.Invalidate(r.Context(), providerID)
	}
}
