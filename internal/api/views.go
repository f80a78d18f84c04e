package api

import (
	"time"

	"github.com/shopspring/decimal"

	"example.com/attendance/internal/domain"
	"example.com/attendance/internal/reporting"
)

// CheckInRequest is the payload for POST /v1/attendance/check-in. Member callers may omit it.
type CheckInRequest struct {
	MemberID string `json:"member_id"`
}

// AttendanceView exposes one attendance session.
type AttendanceView struct {
	AttendanceID    string     `json:"attendance_id"`
	TenantID        string     `json:"tenant_id"`
	MemberID        string     `json:"member_id"`
	Status          string     `json:"status"`
	CheckInAt       time.Time  `json:"check_in_at"`
	CheckOutAt      *time.Time `json:"check_out_at"`
	DurationSeconds *int64     `json:"duration_seconds,omitempty"`
}

// OpenSessionResponse wraps the member's open session, or null.
type OpenSessionResponse struct {
	Session *AttendanceView `json:"session"`
}

// ListAttendanceResponse packages list results.
type ListAttendanceResponse struct {
	Items      []AttendanceView `json:"items"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

// DashboardView is the JSON form of the dashboard KPIs. Money is rendered as decimal strings.
type DashboardView struct {
	TotalMembers         int                   `json:"total_members"`
	ActiveMembers        int                   `json:"active_members"`
	ExpiringSoon         int                   `json:"expiring_soon"`
	TotalRevenue         decimal.Decimal       `json:"total_revenue"`
	RevenueThisMonth     decimal.Decimal       `json:"revenue_this_month"`
	RevenuePreviousMonth decimal.Decimal       `json:"revenue_previous_month"`
	RevenueChangePercent float64               `json:"revenue_change_percent"`
	CheckInsToday        int                   `json:"check_ins_today"`
	AttendanceByHour     []reporting.HourCount `json:"attendance_by_hour"`
	GeneratedAt          time.Time             `json:"generated_at"`
}

// SeriesResponse wraps a chart series.
type SeriesResponse[T any] struct {
	Items []T `json:"items"`
}

// RevenuePointView is one month of revenue.
type RevenuePointView struct {
	Year   int             `json:"year"`
	Month  int             `json:"month"`
	Label  string          `json:"label"`
	Amount decimal.Decimal `json:"amount"`
}

// GrowthPointView is one month of new members.
type GrowthPointView struct {
	Year  int    `json:"year"`
	Month int    `json:"month"`
	Label string `json:"label"`
	Count int    `json:"count"`
}

// PlanBucketView is one slice of the plan distribution chart.
type PlanBucketView struct {
	PlanType string `json:"plan_type"`
	Name     string `json:"name"`
	Value    int    `json:"value"`
	Color    string `json:"color"`
}

// WeeklyPointView is one ISO week of attendance.
type WeeklyPointView struct {
	ISOYear       int       `json:"iso_year"`
	ISOWeek       int       `json:"iso_week"`
	WeekStart     time.Time `json:"week_start"`
	Label         string    `json:"label"`
	Total         int       `json:"total"`
	AveragePerDay int       `json:"average_per_day"`
}

// TrainerRowView is one trainer's share of revenue.
type TrainerRowView struct {
	TrainerID    string          `json:"trainer_id"`
	TrainerName  string          `json:"trainer_name"`
	SessionCount int             `json:"session_count"`
	Revenue      decimal.Decimal `json:"revenue"`
}

func toAttendanceView(rec domain.AttendanceRecord) AttendanceView {
	view := AttendanceView{
		AttendanceID: rec.ID,
		TenantID:     rec.TenantID,
		MemberID:     rec.MemberID,
		Status:       rec.State.Status.String(),
		CheckInAt:    rec.CheckInAt,
		CheckOutAt:   rec.State.CheckOutAt(),
	}
	if !rec.State.IsOpen() {
		seconds := int64(rec.Duration() / time.Second)
		view.DurationSeconds = &seconds
	}
	return view
}

func toDashboardView(m reporting.DashboardMetrics) DashboardView {
	return DashboardView{
		TotalMembers:         m.TotalMembers,
		ActiveMembers:        m.ActiveMembers,
		ExpiringSoon:         m.ExpiringSoon,
		TotalRevenue:         m.TotalRevenue,
		RevenueThisMonth:     m.RevenueThisMonth,
		RevenuePreviousMonth: m.RevenuePreviousMonth,
		RevenueChangePercent: m.RevenueChangePercent,
		CheckInsToday:        m.CheckInsToday,
		AttendanceByHour:     m.AttendanceByHour,
		GeneratedAt:          m.GeneratedAt,
	}
}
