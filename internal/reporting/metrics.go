package reporting

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"example.com/attendance/internal/domain"
	"example.com/attendance/internal/observability"
)

const expiringSoonWindow = 7 * 24 * time.Hour

// Scope selects the data a report covers: a whole tenant, or only the members currently
// assigned to TrainerID when it is set.
type Scope struct {
	TenantID  string
	TrainerID string
}

// CheckInSource supplies raw check-in timestamps in [from, to). The session manager implements it.
type CheckInSource interface {
	CheckInTimes(ctx context.Context, tenantID, trainerID string, from, to time.Time) ([]time.Time, error)
}

// DashboardMetrics is the KPI bundle shown on the gym dashboard.
type DashboardMetrics struct {
	TotalMembers         int
	ActiveMembers        int
	ExpiringSoon         int
	TotalRevenue         decimal.Decimal
	RevenueThisMonth     decimal.Decimal
	RevenuePreviousMonth decimal.Decimal
	RevenueChangePercent float64
	CheckInsToday        int
	AttendanceByHour     []HourCount
	GeneratedAt          time.Time
}

// MetricsAggregator computes today's KPIs.
type MetricsAggregator struct {
	members  domain.MemberReader
	payments domain.PaymentReader
	checkIns CheckInSource
	settings settings
}

// NewMetricsAggregator constructs a MetricsAggregator.
func NewMetricsAggregator(members domain.MemberReader, payments domain.PaymentReader, checkIns CheckInSource, opts ...Option) *MetricsAggregator {
	return &MetricsAggregator{
		members:  members,
		payments: payments,
		checkIns: checkIns,
		settings: newSettings(opts),
	}
}

// DashboardMetrics recomputes the KPI bundle for the scope. Empty data yields zero values.
func (a *MetricsAggregator) DashboardMetrics(ctx context.Context, scope Scope) (DashboardMetrics, error) {
	if scope.TenantID == "" {
		return DashboardMetrics{}, domain.ErrUnauthorized
	}
	defer observability.ObserveReport("dashboard", time.Now())

	now := a.settings.localNow()
	loc := a.settings.loc

	members, err := a.members.ListMembers(ctx, domain.MemberQuery{TenantID: scope.TenantID, TrainerID: scope.TrainerID})
	if err != nil {
		return DashboardMetrics{}, fmt.Errorf("list members: %w", err)
	}
	metrics := summarizeMembers(members, now)

	thisMonth := startOfMonth(now, loc)
	nextMonth := thisMonth.AddDate(0, 1, 0)
	prevMonth := thisMonth.AddDate(0, -1, 0)

	sums := []struct {
		dst  *decimal.Decimal
		from time.Time
		to   time.Time
	}{
		{dst: &metrics.TotalRevenue},
		{dst: &metrics.RevenueThisMonth, from: thisMonth, to: nextMonth},
		{dst: &metrics.RevenuePreviousMonth, from: prevMonth, to: thisMonth},
	}
	for _, sum := range sums {
		total, err := a.payments.SumPayments(ctx, domain.PaymentQuery{
			TenantID:  scope.TenantID,
			TrainerID: scope.TrainerID,
			From:      sum.from,
			To:        sum.to,
		})
		if err != nil {
			return DashboardMetrics{}, fmt.Errorf("sum payments: %w", err)
		}
		*sum.dst = total
	}
	metrics.RevenueChangePercent = percentChange(metrics.RevenuePreviousMonth, metrics.RevenueThisMonth)

	today := startOfDay(now, loc)
	times, err := a.checkIns.CheckInTimes(ctx, scope.TenantID, scope.TrainerID, today, today.AddDate(0, 0, 1))
	if err != nil {
		return DashboardMetrics{}, fmt.Errorf("load check-ins: %w", err)
	}
	metrics.CheckInsToday = len(times)
	metrics.AttendanceByHour = HourHistogram(times, loc)
	metrics.GeneratedAt = now

	return metrics, nil
}

func summarizeMembers(members []domain.Member, now time.Time) DashboardMetrics {
	var out DashboardMetrics
	horizon := now.Add(expiringSoonWindow)
	for _, m := range members {
		out.TotalMembers++
		if m.Status == domain.MemberStatusActive {
			out.ActiveMembers++
		}
		if m.Status == domain.MemberStatusExpiring {
			out.ExpiringSoon++
			continue
		}
		if m.ExpiresAt != nil && !m.ExpiresAt.Before(now) && !m.ExpiresAt.After(horizon) {
			out.ExpiringSoon++
		}
	}
	return out
}

// percentChange is the month-over-month delta in percent, rounded to one decimal.
// It is 0 when there is no previous revenue to compare against.
func percentChange(previous, current decimal.Decimal) float64 {
	if previous.IsZero() {
		return 0
	}
	return current.Sub(previous).Div(previous).Mul(decimal.NewFromInt(100)).Round(1).InexactFloat64()
}
