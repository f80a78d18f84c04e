package api

import (
	"net/http"
	"strings"

	"example.com/attendance/internal/auth"
	"example.com/attendance/internal/domain"
	"example.com/attendance/internal/reporting"
)

// reportScope resolves which slice of the tenant a report covers. Trainers always see their own
// members; staff may narrow any report with ?trainer_id=. Members have no report access.
func reportScope(w http.ResponseWriter, r *http.Request) (reporting.Scope, bool) {
	claims, ok := authorize(w, r, auth.ScopeReportsRead)
	if !ok {
		return reporting.Scope{}, false
	}

	actor := claims.Actor()
	if err := actor.Validate(); err != nil {
		writeDomainError(w, r, err)
		return reporting.Scope{}, false
	}

	scope := reporting.Scope{TenantID: actor.TenantID}
	switch actor.Type {
	case domain.ActorTrainer:
		scope.TrainerID = actor.TrainerID
	case domain.ActorStaff:
		scope.TrainerID = strings.TrimSpace(r.URL.Query().Get("trainer_id"))
	default:
		writeError(w, http.StatusForbidden, "forbidden", "reports are available to staff and trainers")
		return reporting.Scope{}, false
	}
	return scope, true
}

func (h *Handler) dashboard(w http.ResponseWriter, r *http.Request) {
	scope, ok := reportScope(w, r)
	if !ok {
		return
	}
	metrics, err := h.metrics.DashboardMetrics(r.Context(), scope)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toDashboardView(metrics))
}

func (h *Handler) revenue(w http.ResponseWriter, r *http.Request) {
	scope, ok := reportScope(w, r)
	if !ok {
		return
	}
	points, err := h.series.RevenueByMonth(r.Context(), scope)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	items := make([]RevenuePointView, 0, len(points))
	for _, p := range points {
		items = append(items, RevenuePointView{Year: p.Year, Month: int(p.Month), Label: p.Label, Amount: p.Amount})
	}
	writeJSON(w, http.StatusOK, SeriesResponse[RevenuePointView]{Items: items})
}

func (h *Handler) memberGrowth(w http.ResponseWriter, r *http.Request) {
	scope, ok := reportScope(w, r)
	if !ok {
		return
	}
	points, err := h.series.MemberGrowthByMonth(r.Context(), scope)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	items := make([]GrowthPointView, 0, len(points))
	for _, p := range points {
		items = append(items, GrowthPointView{Year: p.Year, Month: int(p.Month), Label: p.Label, Count: p.Count})
	}
	writeJSON(w, http.StatusOK, SeriesResponse[GrowthPointView]{Items: items})
}

func (h *Handler) planDistribution(w http.ResponseWriter, r *http.Request) {
	scope, ok := reportScope(w, r)
	if !ok {
		return
	}
	buckets, err := h.series.PlanDistribution(r.Context(), scope)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	items := make([]PlanBucketView, 0, len(buckets))
	for _, b := range buckets {
		items = append(items, PlanBucketView{PlanType: b.PlanType, Name: b.Label, Value: b.Value, Color: b.Color})
	}
	writeJSON(w, http.StatusOK, SeriesResponse[PlanBucketView]{Items: items})
}

func (h *Handler) attendanceTrend(w http.ResponseWriter, r *http.Request) {
	scope, ok := reportScope(w, r)
	if !ok {
		return
	}
	weeks, err := h.series.AttendanceTrend(r.Context(), scope)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	items := make([]WeeklyPointView, 0, len(weeks))
	for _, wk := range weeks {
		items = append(items, WeeklyPointView{
			ISOYear:       wk.ISOYear,
			ISOWeek:       wk.ISOWeek,
			WeekStart:     wk.WeekStart,
			Label:         wk.Label,
			Total:         wk.Total,
			AveragePerDay: wk.AveragePerDay,
		})
	}
	writeJSON(w, http.StatusOK, SeriesResponse[WeeklyPointView]{Items: items})
}

func (h *Handler) trainerPerformance(w http.ResponseWriter, r *http.Request) {
	scope, ok := reportScope(w, r)
	if !ok {
		return
	}
	rows, err := h.trainers.TrainerPerformance(r.Context(), scope)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	items := make([]TrainerRowView, 0, len(rows))
	for _, row := range rows {
		items = append(items, TrainerRowView{
			TrainerID:    row.TrainerID,
			TrainerName:  row.TrainerName,
			SessionCount: row.SessionCount,
			Revenue:      row.Revenue,
		})
	}
	writeJSON(w, http.StatusOK, SeriesResponse[TrainerRowView]{Items: items})
}
