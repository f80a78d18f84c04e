//go:build integration

package gormstore

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

var (
	_ domain.AttendanceRepository = (*Store)(nil)
	_ domain.MemberReader         = (*Store)(nil)
	_ domain.PaymentReader        = (*Store)(nil)
	_ domain.TrainerReader        = (*Store)(nil)
)

func setupStore(t *testing.T) (*Store, *pgxpool.Pool) {
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

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)
	t.Cleanup(pool.Close)

	contents, err := os.ReadFile(resolvePath(t, "../../../db/postgres/migrations/0001_init.up.sql"))
	require.NoError(t, err)
	_, err = pool.Exec(ctx, string(contents))
	require.NoError(t, err)

	store, err := Open(connStr)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Shutdown() })
	return store, pool
}

func TestStoreSessionLifecycle(t *testing.T) {
	ctx := context.Background()
	store, pool := setupStore(t)

	tenantID := uuid.NewString()
	memberID := uuid.NewString()
	require.NoError(t, store.UpsertMember(ctx, domain.Member{ID: memberID, TenantID: tenantID, Status: domain.MemberStatusActive, PlanType: domain.PlanMonthly, StartDate: time.Now().UTC()}))

	clock := time.Date(2026, time.March, 10, 6, 0, 0, 0, time.UTC)
	service := domain.NewService(store, store, domain.WithClock(func() time.Time { return clock }))
	staff := domain.Actor{ID: "desk", TenantID: tenantID, Type: domain.ActorStaff}

	rec, err := service.CheckIn(ctx, staff, memberID)
	require.NoError(t, err)

	stored, err := store.Get(ctx, tenantID, rec.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	require.True(t, stored.State.IsOpen())

	other, err := store.Get(ctx, uuid.NewString(), rec.ID)
	require.NoError(t, err)
	require.Nil(t, other)

	clock = clock.Add(time.Hour)
	closed, err := service.CheckOut(ctx, staff, rec.ID)
	require.NoError(t, err)
	require.Equal(t, time.Hour, closed.Duration())

	stale, err := service.CheckIn(ctx, staff, memberID)
	require.NoError(t, err)
	clock = clock.Add(30 * time.Hour)

	open, err := service.GetOpenSession(ctx, staff, memberID)
	require.NoError(t, err)
	require.Nil(t, open)

	swept, err := store.Get(ctx, tenantID, stale.ID)
	require.NoError(t, err)
	require.False(t, swept.State.IsOpen())
	require.Zero(t, swept.Duration())

	history, next, err := service.ListHistory(ctx, staff, domain.HistoryFilter{MemberID: memberID, Limit: 1})
	require.NoError(t, err)
	require.Len(t, history, 1)
	require.Equal(t, stale.ID, history[0].ID)
	require.NotNil(t, next)

	rest, _, err := service.ListHistory(ctx, staff, domain.HistoryFilter{MemberID: memberID, Cursor: next})
	require.NoError(t, err)
	require.Len(t, rest, 1)
	require.Equal(t, rec.ID, rest[0].ID)

	var outboxEvents int
	require.NoError(t, pool.QueryRow(ctx, `SELECT COUNT(*) FROM outbox WHERE tenant_id=$1`, tenantID).Scan(&outboxEvents))
	require.Equal(t, 4, outboxEvents)
}

func TestStoreCreateExclusive(t *testing.T) {
	ctx := context.Background()
	store, _ := setupStore(t)

	tenantID := uuid.NewString()
	memberID := uuid.NewString()
	now := time.Now().UTC()

	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		created  int
		rejected int
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := store.CreateExclusive(ctx, domain.AttendanceRecord{
				ID: uuid.NewString(), TenantID: tenantID, MemberID: memberID, CheckInAt: now, State: domain.Open(),
			}, now.Add(-domain.DefaultStaleWindow))

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				created++
			case errors.Is(err, domain.ErrSessionAlreadyOpen):
				rejected++
			}
		}()
	}
	wg.Wait()

	require.Equal(t, 1, created)
	require.Equal(t, 4, rejected)
}

func TestStoreReadModelsFeedReports(t *testing.T) {
	ctx := context.Background()
	store, _ := setupStore(t)

	tenantID := uuid.NewString()
	paidAt := time.Now().UTC().Add(-time.Hour)
	require.NoError(t, store.UpsertTrainer(ctx, domain.Trainer{ID: "gorm-t1", TenantID: tenantID, Name: "Sam"}))
	require.NoError(t, store.UpsertMember(ctx, domain.Member{ID: "gorm-m1", TenantID: tenantID, TrainerID: "gorm-t1", Status: domain.MemberStatusActive, PlanType: domain.PlanBundle, StartDate: paidAt}))
	require.NoError(t, store.UpsertMember(ctx, domain.Member{ID: "gorm-m2", TenantID: tenantID, Status: domain.MemberStatusActive, PlanType: domain.PlanCoin, StartDate: paidAt}))

	payment := domain.Payment{ID: uuid.NewString(), TenantID: tenantID, MemberID: "gorm-m1", Amount: decimal.RequireFromString("80.00"), Date: paidAt}
	require.NoError(t, store.InsertPayment(ctx, payment))
	require.NoError(t, store.InsertPayment(ctx, payment), "replayed payments are ignored")
	require.NoError(t, store.InsertPayment(ctx, domain.Payment{ID: uuid.NewString(), TenantID: tenantID, MemberID: "gorm-m2", Amount: decimal.RequireFromString("12.50"), Date: paidAt}))

	total, err := store.SumPayments(ctx, domain.PaymentQuery{TenantID: tenantID})
	require.NoError(t, err)
	require.True(t, decimal.RequireFromString("92.50").Equal(total), total.String())

	members, err := store.ListMembers(ctx, domain.MemberQuery{TenantID: tenantID, TrainerID: "gorm-t1"})
	require.NoError(t, err)
	require.Len(t, members, 1)
	require.Equal(t, "gorm-t1", members[0].TrainerID)

	rows, err := reporting.NewTrainerRollUp(store, store, store).TrainerPerformance(ctx, reporting.Scope{TenantID: tenantID})
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, "Sam", rows[0].TrainerName)
	require.True(t, decimal.RequireFromString("80").Equal(rows[0].Revenue))
	require.Equal(t, reporting.UnassignedTrainerName, rows[1].TrainerName)
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
