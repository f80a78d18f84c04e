package reporting_test

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"example.com/attendance/internal/domain"
	"example.com/attendance/internal/persistence/memory"
	"example.com/attendance/internal/reporting"
)

func newSeries(store *memory.Store) *reporting.SeriesGenerator {
	return reporting.NewSeriesGenerator(store, store, store, reporting.WithClock(fixedClock))
}

func TestRevenueByMonthIsSparseAndChronological(t *testing.T) {
	store := memory.NewStore()
	store.PutMember(domain.Member{ID: "m1", TenantID: tenantID})

	pay(store, "m1", "99.00", time.Date(2025, time.March, 31, 23, 0, 0, 0, time.UTC))
	pay(store, "m1", "40.00", time.Date(2025, time.April, 1, 0, 0, 0, 0, time.UTC))
	pay(store, "m1", "20.00", time.Date(2026, time.January, 15, 8, 0, 0, 0, time.UTC))
	pay(store, "m1", "22.50", time.Date(2026, time.January, 20, 8, 0, 0, 0, time.UTC))
	pay(store, "m1", "15.00", time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC))

	points, err := newSeries(store).RevenueByMonth(context.Background(), reporting.Scope{TenantID: tenantID})
	require.NoError(t, err)
	require.Len(t, points, 3)

	require.Equal(t, "Apr 2025", points[0].Label)
	require.True(t, decimal.RequireFromString("40").Equal(points[0].Amount))
	require.Equal(t, 2026, points[1].Year)
	require.Equal(t, time.January, points[1].Month)
	require.True(t, decimal.RequireFromString("42.50").Equal(points[1].Amount))
	require.Equal(t, "Mar 2026", points[2].Label)
}

func TestMemberGrowthByMonth(t *testing.T) {
	store := memory.NewStore()
	starts := []time.Time{
		time.Date(2025, time.February, 3, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.June, 3, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.June, 30, 0, 0, 0, 0, time.UTC),
		time.Date(2026, time.March, 9, 0, 0, 0, 0, time.UTC),
	}
	for _, start := range starts {
		store.PutMember(domain.Member{TenantID: tenantID, StartDate: start})
	}

	points, err := newSeries(store).MemberGrowthByMonth(context.Background(), reporting.Scope{TenantID: tenantID})
	require.NoError(t, err)
	require.Len(t, points, 2)
	require.Equal(t, "Jun 2025", points[0].Label)
	require.Equal(t, 2, points[0].Count)
	require.Equal(t, "Mar 2026", points[1].Label)
	require.Equal(t, 1, points[1].Count)
}

func TestPlanDistribution(t *testing.T) {
	store := memory.NewStore()
	for _, plan := range []string{domain.PlanMonthly, domain.PlanMonthly, "Monthly", domain.PlanCoin, "yoga"} {
		store.PutMember(domain.Member{TenantID: tenantID, PlanType: plan})
	}

	buckets, err := newSeries(store).PlanDistribution(context.Background(), reporting.Scope{TenantID: tenantID})
	require.NoError(t, err)
	require.Equal(t, []reporting.PlanBucket{
		{PlanType: domain.PlanMonthly, Label: "Monthly", Value: 3, Color: "#3b82f6"},
		{PlanType: domain.PlanCoin, Label: "Coin", Value: 1, Color: "#f59e0b"},
		{PlanType: "yoga", Label: "Yoga", Value: 1, Color: reporting.NeutralColor},
	}, buckets)
}

func TestAttendanceTrendCoversEightWeeks(t *testing.T) {
	store := memory.NewStore()
	store.PutMember(domain.Member{ID: "m1", TenantID: tenantID})

	// Sunday before the oldest week in range.
	checkInAt(t, store, "m1", time.Date(2026, time.January, 18, 10, 0, 0, 0, time.UTC))
	for i := 0; i < 3; i++ {
		checkInAt(t, store, "m1", time.Date(2026, time.January, 19+i, 10, 0, 0, 0, time.UTC))
	}
	for i := 0; i < 4; i++ {
		checkInAt(t, store, "m1", time.Date(2026, time.February, 2+i, 10, 0, 0, 0, time.UTC))
	}
	for i := 0; i < 10; i++ {
		checkInAt(t, store, "m1", time.Date(2026, time.March, 9, 6+i, 0, 0, 0, time.UTC))
	}

	points, err := newSeries(store).AttendanceTrend(context.Background(), reporting.Scope{TenantID: tenantID})
	require.NoError(t, err)
	require.Len(t, points, 8)

	require.Equal(t, "W04", points[0].Label)
	require.Equal(t, time.Date(2026, time.January, 19, 0, 0, 0, 0, time.UTC), points[0].WeekStart)
	require.Equal(t, 3, points[0].Total)
	require.Zero(t, points[0].AveragePerDay)

	require.Equal(t, 6, points[2].ISOWeek)
	require.Equal(t, 4, points[2].Total)
	require.Equal(t, 1, points[2].AveragePerDay)

	require.Equal(t, "W11", points[7].Label)
	require.Equal(t, 2026, points[7].ISOYear)
	require.Equal(t, 10, points[7].Total)
	require.Equal(t, 1, points[7].AveragePerDay)

	for i := 1; i < len(points); i++ {
		require.True(t, points[i-1].WeekStart.Before(points[i].WeekStart))
	}
	for _, idx := range []int{1, 3, 4, 5, 6} {
		require.Zero(t, points[idx].Total)
	}
}

func TestSeriesRequireTenant(t *testing.T) {
	series := newSeries(memory.NewStore())
	ctx := context.Background()

	_, err := series.RevenueByMonth(ctx, reporting.Scope{})
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = series.MemberGrowthByMonth(ctx, reporting.Scope{})
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = series.PlanDistribution(ctx, reporting.Scope{})
	require.ErrorIs(t, err, domain.ErrUnauthorized)
	_, err = series.AttendanceTrend(ctx, reporting.Scope{})
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}
