// Package api exposes HTTP handlers for the attendance service.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"example.com/attendance/internal/auth"
	"example.com/attendance/internal/domain"
	"example.com/attendance/internal/persistence"
	"example.com/attendance/internal/reporting"
)

// Handler coordinates HTTP requests with the session manager and the report generators.
type Handler struct {
	service  *domain.Service
	metrics  *reporting.MetricsAggregator
	series   *reporting.SeriesGenerator
	trainers *reporting.TrainerRollUp
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service, metrics *reporting.MetricsAggregator, series *reporting.SeriesGenerator, trainers *reporting.TrainerRollUp) *Handler {
	return &Handler{service: service, metrics: metrics, series: series, trainers: trainers}
}

// RegisterRoutes wires endpoints to the router.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/healthz", healthz)

	r.Route("/v1/attendance", func(r chi.Router) {
		r.Get("/", h.listHistory)
		r.Post("/check-in", h.checkIn)
		r.Get("/open", h.openSession)
		r.Post("/{attendanceID}/check-out", h.checkOut)
	})

	r.Route("/v1/reports", func(r chi.Router) {
		r.Get("/dashboard", h.dashboard)
		r.Get("/revenue", h.revenue)
		r.Get("/member-growth", h.memberGrowth)
		r.Get("/plan-distribution", h.planDistribution)
		r.Get("/attendance-trend", h.attendanceTrend)
		r.Get("/trainer-performance", h.trainerPerformance)
	})
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// authorize resolves the caller and checks that it holds one of the scopes.
func authorize(w http.ResponseWriter, r *http.Request, scopes ...string) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	if !claims.HasAnyScope(scopes...) {
		writeError(w, http.StatusForbidden, "forbidden", "scope "+scopes[0]+" required")
		return nil, false
	}
	return claims, true
}

func (h *Handler) checkIn(w http.ResponseWriter, r *http.Request) {
	claims, ok := authorize(w, r, auth.ScopeAttendanceWrite)
	if !ok {
		return
	}

	var req CheckInRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return
	}

	record, err := h.service.CheckIn(r.Context(), claims.Actor(), req.MemberID)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAttendanceView(*record))
}

func (h *Handler) checkOut(w http.ResponseWriter, r *http.Request) {
	claims, ok := authorize(w, r, auth.ScopeAttendanceWrite)
	if !ok {
		return
	}

	record, err := h.service.CheckOut(r.Context(), claims.Actor(), chi.URLParam(r, "attendanceID"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toAttendanceView(*record))
}

func (h *Handler) openSession(w http.ResponseWriter, r *http.Request) {
	claims, ok := authorize(w, r, auth.ScopeAttendanceRead, auth.ScopeAttendanceWrite)
	if !ok {
		return
	}

	record, err := h.service.GetOpenSession(r.Context(), claims.Actor(), r.URL.Query().Get("member_id"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	resp := OpenSessionResponse{}
	if record != nil {
		view := toAttendanceView(*record)
		resp.Session = &view
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) listHistory(w http.ResponseWriter, r *http.Request) {
	claims, ok := authorize(w, r, auth.ScopeAttendanceRead, auth.ScopeAttendanceWrite)
	if !ok {
		return
	}

	query := r.URL.Query()
	filter := domain.HistoryFilter{MemberID: strings.TrimSpace(query.Get("member_id"))}

	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			writeError(w, http.StatusBadRequest, "validation_failed", "limit must be a positive integer")
			return
		}
		filter.Limit = parsed
	}

	var err error
	if filter.From, err = parseDay(query.Get("from"), h.service.Location()); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "from must be YYYY-MM-DD or RFC3339")
		return
	}
	if filter.To, err = parseDay(query.Get("to"), h.service.Location()); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "to must be YYYY-MM-DD or RFC3339")
		return
	}
	if filter.Cursor, err = persistence.DecodeCursor(query.Get("cursor")); err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	records, next, err := h.service.ListHistory(r.Context(), claims.Actor(), filter)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	items := make([]AttendanceView, 0, len(records))
	for _, rec := range records {
		items = append(items, toAttendanceView(rec))
	}
	writeJSON(w, http.StatusOK, ListAttendanceResponse{
		Items:      items,
		NextCursor: persistence.EncodeCursor(next),
	})
}

// parseDay accepts a calendar date in loc or a full RFC3339 timestamp. Empty input is the zero time.
func parseDay(raw string, loc *time.Location) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if day, err := time.ParseInLocation(time.DateOnly, raw, loc); err == nil {
		return day, nil
	}
	return time.Parse(time.RFC3339, raw)
}

func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	var validation *domain.ValidationError
	switch {
	case errors.As(err, &validation):
		writeValidationError(w, validation)
	case errors.Is(err, domain.ErrUnauthorized):
		writeError(w, http.StatusForbidden, "forbidden", "caller is not bound to a usable identity")
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", "attendance record not found")
	case errors.Is(err, domain.ErrSessionAlreadyOpen):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	default:
		requestLogger(r).Error("request failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

func writeValidationError(w http.ResponseWriter, v *domain.ValidationError) {
	writeJSON(w, http.StatusBadRequest, map[string]any{
		"type":   "validation_failed",
		"detail": v.Error(),
		"fields": v.FieldErrors,
	})
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	payload := map[string]string{
		"type":   code,
		"detail": detail,
	}
	writeJSON(w, status, payload)
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
