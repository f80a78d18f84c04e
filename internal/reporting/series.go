package reporting

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"example.com/attendance/internal/domain"
	"example.com/attendance/internal/observability"
)

const (
	seriesMonths = 12
	trendWeeks   = 8

	// NeutralColor tags plan types without a dedicated color.
	NeutralColor = "#9ca3af"
)

var planStyles = map[string]struct {
	label string
	color string
}{
	domain.PlanMonthly: {label: "Monthly", color: "#3b82f6"},
	domain.PlanCoin:    {label: "Coin", color: "#f59e0b"},
	domain.PlanBundle:  {label: "Bundle", color: "#10b981"},
}

// CheckInReader reads raw check-in timestamps straight from the attendance ledger.
type CheckInReader interface {
	CheckInTimes(ctx context.Context, q domain.CheckInQuery) ([]time.Time, error)
}

// RevenuePoint is the revenue collected in one calendar month.
type RevenuePoint struct {
	Year   int
	Month  time.Month
	Label  string
	Amount decimal.Decimal
}

// GrowthPoint is the number of members who joined in one calendar month.
type GrowthPoint struct {
	Year  int
	Month time.Month
	Label string
	Count int
}

// PlanBucket is the member count for one plan type.
type PlanBucket struct {
	PlanType string
	Label    string
	Value    int
	Color    string
}

// WeeklyPoint is the attendance of one ISO week.
type WeeklyPoint struct {
	ISOYear       int
	ISOWeek       int
	WeekStart     time.Time
	Label         string
	Total         int
	AveragePerDay int
}

// SeriesGenerator computes chart series. Each series issues its own reads.
type SeriesGenerator struct {
	members  domain.MemberReader
	payments domain.PaymentReader
	checkIns CheckInReader
	settings settings
}

// NewSeriesGenerator constructs a SeriesGenerator.
func NewSeriesGenerator(members domain.MemberReader, payments domain.PaymentReader, checkIns CheckInReader, opts ...Option) *SeriesGenerator {
	return &SeriesGenerator{
		members:  members,
		payments: payments,
		checkIns: checkIns,
		settings: newSettings(opts),
	}
}

// RevenueByMonth sums payments per calendar month over the last 12 months, oldest first.
// Months without payments are omitted.
func (g *SeriesGenerator) RevenueByMonth(ctx context.Context, scope Scope) ([]RevenuePoint, error) {
	if scope.TenantID == "" {
		return nil, domain.ErrUnauthorized
	}
	defer observability.ObserveReport("revenue_by_month", time.Now())

	from, to := g.monthWindow()
	payments, err := g.payments.ListPayments(ctx, domain.PaymentQuery{
		TenantID:  scope.TenantID,
		TrainerID: scope.TrainerID,
		From:      from,
		To:        to,
	})
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}

	sums := make(map[monthKey]decimal.Decimal)
	for _, p := range payments {
		key := monthOf(p.Date, g.settings.loc)
		sums[key] = sums[key].Add(p.Amount)
	}

	keys := sortedMonths(sums)
	out := make([]RevenuePoint, 0, len(keys))
	for _, key := range keys {
		out = append(out, RevenuePoint{Year: key.year, Month: key.month, Label: key.label(), Amount: sums[key]})
	}
	return out, nil
}

// MemberGrowthByMonth counts members by the month they started, last 12 months, oldest first.
// Months without new members are omitted.
func (g *SeriesGenerator) MemberGrowthByMonth(ctx context.Context, scope Scope) ([]GrowthPoint, error) {
	if scope.TenantID == "" {
		return nil, domain.ErrUnauthorized
	}
	defer observability.ObserveReport("member_growth_by_month", time.Now())

	from, to := g.monthWindow()
	members, err := g.members.ListMembers(ctx, domain.MemberQuery{
		TenantID:    scope.TenantID,
		TrainerID:   scope.TrainerID,
		StartedFrom: from,
	})
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}

	counts := make(map[monthKey]int)
	for _, m := range members {
		if m.StartDate.Before(from) || !m.StartDate.Before(to) {
			continue
		}
		counts[monthOf(m.StartDate, g.settings.loc)]++
	}

	keys := sortedMonths(counts)
	out := make([]GrowthPoint, 0, len(keys))
	for _, key := range keys {
		out = append(out, GrowthPoint{Year: key.year, Month: key.month, Label: key.label(), Count: counts[key]})
	}
	return out, nil
}

// PlanDistribution counts members per plan type, largest first. With no members it returns a
// single placeholder bucket so charts always have something to draw.
func (g *SeriesGenerator) PlanDistribution(ctx context.Context, scope Scope) ([]PlanBucket, error) {
	if scope.TenantID == "" {
		return nil, domain.ErrUnauthorized
	}
	defer observability.ObserveReport("plan_distribution", time.Now())

	members, err := g.members.ListMembers(ctx, domain.MemberQuery{TenantID: scope.TenantID, TrainerID: scope.TrainerID})
	if err != nil {
		return nil, fmt.Errorf("list members: %w", err)
	}
	if len(members) == 0 {
		return []PlanBucket{{Label: "No members", Value: 0, Color: NeutralColor}}, nil
	}

	counts := make(map[string]int)
	for _, m := range members {
		counts[strings.ToLower(strings.TrimSpace(m.PlanType))]++
	}

	out := make([]PlanBucket, 0, len(counts))
	for planType, count := range counts {
		label, color := planStyle(planType)
		out = append(out, PlanBucket{PlanType: planType, Label: label, Value: count, Color: color})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Value != out[j].Value {
			return out[i].Value > out[j].Value
		}
		return out[i].PlanType < out[j].PlanType
	})
	return out, nil
}

// AttendanceTrend reports average daily check-ins for each of the last 8 ISO weeks, oldest first.
// Every week is present; weeks without check-ins report zero.
func (g *SeriesGenerator) AttendanceTrend(ctx context.Context, scope Scope) ([]WeeklyPoint, error) {
	if scope.TenantID == "" {
		return nil, domain.ErrUnauthorized
	}
	defer observability.ObserveReport("attendance_trend", time.Now())

	loc := g.settings.loc
	currentWeek := startOfISOWeek(g.settings.localNow(), loc)
	first := currentWeek.AddDate(0, 0, -7*(trendWeeks-1))
	end := currentWeek.AddDate(0, 0, 7)

	times, err := g.checkIns.CheckInTimes(ctx, domain.CheckInQuery{
		TenantID:  scope.TenantID,
		TrainerID: scope.TrainerID,
		From:      first,
		To:        end,
	})
	if err != nil {
		return nil, fmt.Errorf("load check-ins: %w", err)
	}

	out := make([]WeeklyPoint, trendWeeks)
	for i := range out {
		weekStart := first.AddDate(0, 0, 7*i)
		year, week := weekStart.ISOWeek()
		out[i] = WeeklyPoint{
			ISOYear:   year,
			ISOWeek:   week,
			WeekStart: weekStart,
			Label:     fmt.Sprintf("W%02d", week),
		}
	}

	firstDay := civilDay(first, loc)
	for _, t := range times {
		idx := (civilDay(t, loc) - firstDay) / 7
		if idx < 0 || idx >= trendWeeks {
			continue
		}
		out[idx].Total++
	}
	for i := range out {
		out[i].AveragePerDay = int(math.Round(float64(out[i].Total) / 7))
	}
	return out, nil
}

// monthWindow returns [first day of the month 11 months ago, first day of next month).
func (g *SeriesGenerator) monthWindow() (time.Time, time.Time) {
	current := startOfMonth(g.settings.localNow(), g.settings.loc)
	return current.AddDate(0, -(seriesMonths - 1), 0), current.AddDate(0, 1, 0)
}

func planStyle(planType string) (string, string) {
	if style, ok := planStyles[planType]; ok {
		return style.label, style.color
	}
	if planType == "" {
		return "Other", NeutralColor
	}
	return strings.ToUpper(planType[:1]) + planType[1:], NeutralColor
}

func sortedMonths[V any](buckets map[monthKey]V) []monthKey {
	keys := make([]monthKey, 0, len(buckets))
	for key := range buckets {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].before(keys[j]) })
	return keys
}
