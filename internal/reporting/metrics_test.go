package reporting_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"example.com/attendance/internal/domain"
	"example.com/attendance/internal/persistence/memory"
	"example.com/attendance/internal/reporting"
)

const tenantID = "tenant-1"

var now = time.Date(2026, time.March, 10, 14, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return now }

func checkInAt(t *testing.T, store *memory.Store, memberID string, at time.Time) {
	t.Helper()
	err := store.Create(context.Background(), domain.AttendanceRecord{
		ID:        uuid.NewString(),
		TenantID:  tenantID,
		MemberID:  memberID,
		CheckInAt: at,
		State:     domain.Open(),
	})
	require.NoError(t, err)
}

func pay(store *memory.Store, memberID, amount string, at time.Time) {
	store.AddPayment(domain.Payment{
		TenantID: tenantID,
		MemberID: memberID,
		Amount:   decimal.RequireFromString(amount),
		Date:     at,
		Category: "membership",
	})
}

func newAggregator(store *memory.Store, loc *time.Location) *reporting.MetricsAggregator {
	sessions := domain.NewService(store, store, domain.WithClock(fixedClock), domain.WithLocation(loc))
	return reporting.NewMetricsAggregator(store, store, sessions,
		reporting.WithClock(fixedClock),
		reporting.WithLocation(loc),
	)
}

func seedDashboard(t *testing.T) *memory.Store {
	t.Helper()
	store := memory.NewStore()
	soon := now.Add(3 * 24 * time.Hour)
	later := now.Add(30 * 24 * time.Hour)

	store.PutMember(domain.Member{ID: "m1", TenantID: tenantID, TrainerID: "t1", Status: domain.MemberStatusActive, ExpiresAt: &later})
	store.PutMember(domain.Member{ID: "m2", TenantID: tenantID, Status: domain.MemberStatusExpiring})
	store.PutMember(domain.Member{ID: "m3", TenantID: tenantID, Status: domain.MemberStatusActive, ExpiresAt: &soon})
	store.PutMember(domain.Member{ID: "m4", TenantID: tenantID, Status: domain.MemberStatusExpired})
	store.PutMember(domain.Member{ID: "x1", TenantID: "tenant-2", Status: domain.MemberStatusActive})

	pay(store, "m1", "100.00", time.Date(2026, time.March, 1, 0, 0, 0, 0, time.UTC))
	pay(store, "m2", "50.00", time.Date(2026, time.February, 28, 23, 59, 0, 0, time.UTC))
	pay(store, "m3", "25.50", time.Date(2026, time.February, 10, 12, 0, 0, 0, time.UTC))
	pay(store, "m1", "10.00", time.Date(2025, time.December, 1, 9, 0, 0, 0, time.UTC))

	checkInAt(t, store, "m1", time.Date(2026, time.March, 10, 6, 15, 0, 0, time.UTC))
	checkInAt(t, store, "m2", time.Date(2026, time.March, 10, 6, 40, 0, 0, time.UTC))
	checkInAt(t, store, "m3", time.Date(2026, time.March, 10, 13, 5, 0, 0, time.UTC))
	checkInAt(t, store, "m1", time.Date(2026, time.March, 9, 23, 30, 0, 0, time.UTC))
	return store
}

func TestDashboardMetrics(t *testing.T) {
	store := seedDashboard(t)

	metrics, err := newAggregator(store, time.UTC).DashboardMetrics(context.Background(), reporting.Scope{TenantID: tenantID})
	require.NoError(t, err)

	require.Equal(t, 4, metrics.TotalMembers)
	require.Equal(t, 2, metrics.ActiveMembers)
	require.LessOrEqual(t, metrics.ActiveMembers, metrics.TotalMembers)
	require.Equal(t, 2, metrics.ExpiringSoon)

	require.True(t, decimal.RequireFromString("185.50").Equal(metrics.TotalRevenue), metrics.TotalRevenue.String())
	require.True(t, decimal.RequireFromString("100").Equal(metrics.RevenueThisMonth), "a payment on the 1st counts toward this month")
	require.True(t, decimal.RequireFromString("75.50").Equal(metrics.RevenuePreviousMonth))
	require.InDelta(t, 32.5, metrics.RevenueChangePercent, 0.001)

	require.Equal(t, 3, metrics.CheckInsToday)
	require.Len(t, metrics.AttendanceByHour, reporting.HoursPerDay)
	sum := 0
	for hour, entry := range metrics.AttendanceByHour {
		require.Equal(t, hour, entry.Hour)
		require.GreaterOrEqual(t, entry.Count, 0)
		sum += entry.Count
	}
	require.Equal(t, metrics.CheckInsToday, sum)
	require.Equal(t, 2, metrics.AttendanceByHour[6].Count)
	require.Equal(t, 1, metrics.AttendanceByHour[13].Count)
	require.Equal(t, now, metrics.GeneratedAt)
}

func TestDashboardMetricsTrainerScope(t *testing.T) {
	store := seedDashboard(t)

	metrics, err := newAggregator(store, time.UTC).DashboardMetrics(context.Background(), reporting.Scope{TenantID: tenantID, TrainerID: "t1"})
	require.NoError(t, err)

	require.Equal(t, 1, metrics.TotalMembers)
	require.Zero(t, metrics.ExpiringSoon)
	require.True(t, decimal.RequireFromString("110").Equal(metrics.TotalRevenue))
	require.True(t, metrics.RevenuePreviousMonth.IsZero())
	require.Zero(t, metrics.RevenueChangePercent)
	require.Equal(t, 1, metrics.CheckInsToday)
}

func TestDashboardMetricsUsesReportTimezone(t *testing.T) {
	store := memory.NewStore()
	store.PutMember(domain.Member{ID: "m1", TenantID: tenantID})
	tokyo := time.FixedZone("UTC+9", 9*60*60)

	// 01:00 on March 10 in UTC+9, still March 9 in UTC.
	checkInAt(t, store, "m1", time.Date(2026, time.March, 9, 16, 0, 0, 0, time.UTC))

	metrics, err := newAggregator(store, tokyo).DashboardMetrics(context.Background(), reporting.Scope{TenantID: tenantID})
	require.NoError(t, err)
	require.Equal(t, 1, metrics.CheckInsToday)
	require.Equal(t, 1, metrics.AttendanceByHour[1].Count)

	metrics, err = newAggregator(store, time.UTC).DashboardMetrics(context.Background(), reporting.Scope{TenantID: tenantID})
	require.NoError(t, err)
	require.Zero(t, metrics.CheckInsToday)
}

func TestDashboardMetricsEmptyTenant(t *testing.T) {
	store := memory.NewStore()
	ctx := context.Background()
	scope := reporting.Scope{TenantID: "empty-tenant"}

	metrics, err := newAggregator(store, time.UTC).DashboardMetrics(ctx, scope)
	require.NoError(t, err)
	require.Zero(t, metrics.TotalMembers)
	require.Zero(t, metrics.ActiveMembers)
	require.Zero(t, metrics.ExpiringSoon)
	require.True(t, metrics.TotalRevenue.IsZero())
	require.True(t, metrics.RevenueThisMonth.IsZero())
	require.True(t, metrics.RevenuePreviousMonth.IsZero())
	require.Zero(t, metrics.RevenueChangePercent)
	require.Zero(t, metrics.CheckInsToday)
	require.Len(t, metrics.AttendanceByHour, reporting.HoursPerDay)

	series := reporting.NewSeriesGenerator(store, store, store, reporting.WithClock(fixedClock))
	buckets, err := series.PlanDistribution(ctx, scope)
	require.NoError(t, err)
	require.Equal(t, []reporting.PlanBucket{{Label: "No members", Value: 0, Color: reporting.NeutralColor}}, buckets)
}

func TestDashboardMetricsRequiresTenant(t *testing.T) {
	_, err := newAggregator(memory.NewStore(), time.UTC).DashboardMetrics(context.Background(), reporting.Scope{})
	require.ErrorIs(t, err, domain.ErrUnauthorized)
}

func TestHourHistogram(t *testing.T) {
	times := []time.Time{
		time.Date(2026, time.March, 10, 0, 0, 0, 0, time.UTC),
		time.Date(2026, time.March, 10, 23, 59, 59, 0, time.UTC),
		time.Date(2026, time.March, 10, 23, 0, 0, 0, time.UTC),
	}
	histogram := reporting.HourHistogram(times, time.UTC)
	require.Len(t, histogram, reporting.HoursPerDay)
	require.Equal(t, 1, histogram[0].Count)
	require.Equal(t, 2, histogram[23].Count)

	require.Len(t, reporting.HourHistogram(nil, time.UTC), reporting.HoursPerDay)
}
