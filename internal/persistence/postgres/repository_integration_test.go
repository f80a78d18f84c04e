//go:build integration

package postgres

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	postgrescontainer "github.com/testcontainers/testcontainers-go/modules/postgres"

	"example.com/attendance/internal/domain"
	"example.com/attendance/internal/reporting"
)

func setupRepository(t *testing.T) (*Repository, *pgxpool.Pool) {
	t.Helper()
	ctx := context.Background()

	pg, err := postgrescontainer.Run(ctx, "postgres:16-alpine",
		postgrescontainer.WithDatabase("attendance"),
		postgrescontainer.WithUsername("platform"),
		postgrescontainer.WithPassword("platform"),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = pg.Terminate(ctx) })

	connStr, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	require.NoError(t, waitForDatabase(ctx, connStr))

	runMigrations(t, ctx, connStr)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Close() })

	return NewRepository(pool), pool
}

func TestRepositoryRespectsTenantIsolation(t *testing.T) {
	ctx := context.Background()
	repo, _ := setupRepository(t)

	rec := domain.AttendanceRecord{
		ID:        uuid.NewString(),
		TenantID:  uuid.NewString(),
		MemberID:  uuid.NewString(),
		CheckInAt: time.Now().UTC().Truncate(time.Microsecond),
		State:     domain.Open(),
	}
	require.NoError(t, repo.Create(ctx, rec))

	stored, err := repo.Get(ctx, rec.TenantID, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.Equal(t, rec.ID, stored.ID)
	require.True(t, stored.State.IsOpen())

	storedOther, err := repo.Get(ctx, uuid.NewString(), rec.ID)
	require.NoError(t, err)
	require.Nil(t, storedOther, "RLS should prevent cross-tenant access")

	closedOther, err := repo.Close(ctx, uuid.NewString(), rec.ID, time.Now().UTC())
	require.NoError(t, err)
	require.Nil(t, closedOther)

	missing, err := repo.Get(ctx, rec.TenantID, "not-a-uuid")
	require.NoError(t, err)
	require.Nil(t, missing)
}

func TestSessionLifecycleAgainstPostgres(t *testing.T) {
	ctx := context.Background()
	repo, pool := setupRepository(t)

	tenantID := uuid.NewString()
	member := domain.Member{ID: uuid.NewString(), TenantID: tenantID, Status: domain.MemberStatusActive, PlanType: domain.PlanMonthly, StartDate: time.Now().UTC()}
	require.NoError(t, repo.UpsertMember(ctx, member))

	clock := time.Date(2026, time.March, 10, 6, 15, 0, 0, time.UTC)
	service := domain.NewService(repo, repo, domain.WithClock(func() time.Time { return clock }))
	actor := domain.Actor{ID: "user-1", TenantID: tenantID, Type: domain.ActorMember, MemberID: member.ID}

	rec, err := service.CheckIn(ctx, actor, "")
	require.NoError(t, err)

	open, err := service.GetOpenSession(ctx, actor, "")
	require.NoError(t, err)
	require.NotNil(t, open)
	require.Equal(t, rec.ID, open.ID)

	clock = clock.Add(90 * time.Minute)
	closed, err := service.CheckOut(ctx, actor, rec.ID)
	require.NoError(t, err)
	require.Equal(t, 90*time.Minute, closed.Duration())

	open, err = service.GetOpenSession(ctx, actor, "")
	require.NoError(t, err)
	require.Nil(t, open)

	stale, err := service.CheckIn(ctx, actor, "")
	require.NoError(t, err)
	clock = clock.Add(25 * time.Hour)

	open, err = service.GetOpenSession(ctx, actor, "")
	require.NoError(t, err)
	require.Nil(t, open)

	swept, err := repo.Get(ctx, tenantID, stale.ID)
	require.NoError(t, err)
	require.False(t, swept.State.IsOpen())
	require.True(t, swept.CheckInAt.Equal(swept.State.ClosedAt))

	again, err := repo.CloseStale(ctx, tenantID, member.ID, clock)
	require.NoError(t, err)
	require.Empty(t, again, "a second sweep must not touch closed rows")

	var eventTypes []string
	rows, err := pool.Query(ctx, `SELECT event_type FROM outbox WHERE tenant_id=$1 ORDER BY event_id`, tenantID)
	require.NoError(t, err)
	for rows.Next() {
		var eventType string
		require.NoError(t, rows.Scan(&eventType))
		eventTypes = append(eventTypes, eventType)
	}
	require.NoError(t, rows.Err())
	require.Equal(t, []string{
		"attendance.checked_in",
		"attendance.checked_out",
		"attendance.checked_in",
		"attendance.auto_closed",
	}, eventTypes)
}

func TestCreateExclusiveAllowsOneConcurrentCheckIn(t *testing.T) {
	ctx := context.Background()
	repo, _ := setupRepository(t)

	tenantID := uuid.NewString()
	memberID := uuid.NewString()
	now := time.Now().UTC()

	const attempts = 8
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		created  int
		rejected int
	)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := repo.CreateExclusive(ctx, domain.AttendanceRecord{
				ID:        uuid.NewString(),
				TenantID:  tenantID,
				MemberID:  memberID,
				CheckInAt: now,
				State:     domain.Open(),
			}, now.Add(-domain.DefaultStaleWindow))

			mu.Lock()
			defer mu.Unlock()
			if err == nil {
				created++
			} else if errors.Is(err, domain.ErrSessionAlreadyOpen) {
				rejected++
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, created)
	require.Equal(t, attempts-1, rejected)
}

func TestHistoryPaginationAgainstPostgres(t *testing.T) {
	ctx := context.Background()
	repo, _ := setupRepository(t)

	tenantID := uuid.NewString()
	memberID := uuid.NewString()
	base := time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)
	for day := 0; day < 5; day++ {
		require.NoError(t, repo.Create(ctx, domain.AttendanceRecord{
			ID:        uuid.NewString(),
			TenantID:  tenantID,
			MemberID:  memberID,
			CheckInAt: base.AddDate(0, 0, day),
			State:     domain.Open(),
		}))
	}

	first, err := repo.List(ctx, domain.HistoryQuery{TenantID: tenantID, MemberID: memberID, Limit: 2})
	require.NoError(t, err)
	require.Len(t, first, 2)
	require.True(t, first[0].CheckInAt.Equal(base.AddDate(0, 0, 4)))

	last := first[len(first)-1]
	second, err := repo.List(ctx, domain.HistoryQuery{
		TenantID: tenantID,
		MemberID: memberID,
		Cursor:   &domain.Cursor{CheckInAt: last.CheckInAt, ID: last.ID},
		Limit:    10,
	})
	require.NoError(t, err)
	require.Len(t, second, 3)
	require.True(t, second[0].CheckInAt.Equal(base.AddDate(0, 0, 2)))

	ranged, err := repo.List(ctx, domain.HistoryQuery{
		TenantID: tenantID,
		From:     base.AddDate(0, 0, 1),
		To:       base.AddDate(0, 0, 3),
	})
	require.NoError(t, err)
	require.Len(t, ranged, 2)
}

func TestReadModelsFeedReports(t *testing.T) {
	ctx := context.Background()
	repo, _ := setupRepository(t)

	tenantID := uuid.NewString()
	require.NoError(t, repo.UpsertTrainer(ctx, domain.Trainer{ID: "trainer-1", TenantID: tenantID, Name: "Alex"}))
	require.NoError(t, repo.UpsertMember(ctx, domain.Member{ID: "pg-m1", TenantID: tenantID, TrainerID: "trainer-1", Status: domain.MemberStatusActive, PlanType: domain.PlanMonthly, StartDate: time.Now().UTC()}))
	require.NoError(t, repo.UpsertMember(ctx, domain.Member{ID: "pg-m2", TenantID: tenantID, Status: domain.MemberStatusExpired, PlanType: domain.PlanCoin, StartDate: time.Now().UTC()}))

	paidAt := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, repo.InsertPayment(ctx, domain.Payment{ID: uuid.NewString(), TenantID: tenantID, MemberID: "pg-m1", Amount: decimal.RequireFromString("49.90"), Date: paidAt}))
	require.NoError(t, repo.InsertPayment(ctx, domain.Payment{ID: uuid.NewString(), TenantID: tenantID, MemberID: "pg-m2", Amount: decimal.RequireFromString("10.10"), Date: paidAt}))

	total, err := repo.SumPayments(ctx, domain.PaymentQuery{TenantID: tenantID})
	require.NoError(t, err)
	require.True(t, decimal.RequireFromString("60").Equal(total), total.String())

	scoped, err := repo.SumPayments(ctx, domain.PaymentQuery{TenantID: tenantID, TrainerID: "trainer-1"})
	require.NoError(t, err)
	require.True(t, decimal.RequireFromString("49.90").Equal(scoped))

	rows, err := reporting.NewTrainerRollUp(repo, repo, repo).TrainerPerformance(ctx, reporting.Scope{TenantID: tenantID})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "Alex", rows[0].TrainerName)
	require.Equal(t, reporting.UnassignedTrainerName, rows[1].TrainerName)

	buckets, err := reporting.NewSeriesGenerator(repo, repo, repo).PlanDistribution(ctx, reporting.Scope{TenantID: tenantID})
	require.NoError(t, err)
	require.Len(t, buckets, 2)
}

func runMigrations(t *testing.T, ctx context.Context, connStr string) {
	files := []string{
		"../../../db/postgres/migrations/0001_init.up.sql",
	}

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	defer pool.Close()

	for _, rel := range files {
		path := resolvePath(t, rel)
		contents, readErr := os.ReadFile(path)
		require.NoError(t, readErr)

		_, execErr := pool.Exec(ctx, string(contents))
		require.NoError(t, execErr)
	}
}

func resolvePath(t *testing.T, rel string) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(file), rel)
}

func waitForDatabase(ctx context.Context, connStr string) error {
	deadline := time.Now().Add(30 * time.Second)
	for {
		pool, err := pgxpool.New(ctx, connStr)
		if err == nil {
			err = pool.Ping(ctx)
			pool.Close()
			if err == nil {
				return nil
			}
		}
		if time.Now().After(deadline) {
			return err
		}
		time.Sleep(time.Second)
	}
}
