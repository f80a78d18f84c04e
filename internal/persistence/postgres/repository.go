package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"example.com/attendance/internal/domain"
	"example.com/attendance/internal/events"
)

const attendanceColumns = `attendance_id, tenant_id, member_id, check_in_at, check_out_at`

// Repository provides Postgres-backed persistence for the attendance ledger, its read models and outbox events.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// inTenantTx runs fn in a transaction scoped to the tenant for row level security.
func (r *Repository) inTenantTx(ctx context.Context, tenantID string, fn func(pgx.Tx) error) (err error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback(ctx)
		}
	}()

	if _, err = tx.Exec(ctx, "SELECT set_config('app.tenant_id', $1, true)", tenantID); err != nil {
		return err
	}
	if err = fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Create persists a new session and records the check-in event in the same transaction.
func (r *Repository) Create(ctx context.Context, record domain.AttendanceRecord) error {
	return r.inTenantTx(ctx, record.TenantID, func(tx pgx.Tx) error {
		return insertAttendance(ctx, tx, record)
	})
}

// CreateExclusive serialises check-ins per member with a transaction-scoped advisory lock
// and refuses the insert while a non-stale open session exists.
func (r *Repository) CreateExclusive(ctx context.Context, record domain.AttendanceRecord, openSince time.Time) error {
	return r.inTenantTx(ctx, record.TenantID, func(tx pgx.Tx) error {
		lockKey := events.PartitionKey(record.TenantID, record.MemberID)
		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock(hashtext($1))", lockKey); err != nil {
			return err
		}

		var open bool
		err := tx.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM attendance
                WHERE tenant_id=$1 AND member_id=$2 AND check_out_at IS NULL AND check_in_at >= $3)`,
			record.TenantID, record.MemberID, openSince,
		).Scan(&open)
		if err != nil {
			return err
		}
		if open {
			return domain.ErrSessionAlreadyOpen
		}
		return insertAttendance(ctx, tx, record)
	})
}

func insertAttendance(ctx context.Context, tx pgx.Tx, record domain.AttendanceRecord) error {
	const stmt = `INSERT INTO attendance (attendance_id, tenant_id, member_id, check_in_at, check_out_at)
        VALUES ($1,$2,$3,$4,$5)`

	if _, err := tx.Exec(ctx, stmt,
		record.ID,
		record.TenantID,
		record.MemberID,
		record.CheckInAt,
		record.State.CheckOutAt(),
	); err != nil {
		return err
	}

	return insertOutbox(ctx, tx, record, events.CheckedIn(record))
}

// Get retrieves a session by ID.
func (r *Repository) Get(ctx context.Context, tenantID, attendanceID string) (*domain.AttendanceRecord, error) {
	if _, err := uuid.Parse(attendanceID); err != nil {
		return nil, nil
	}

	var found *domain.AttendanceRecord
	err := r.inTenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+attendanceColumns+` FROM attendance WHERE tenant_id=$1 AND attendance_id=$2`, tenantID, attendanceID)
		rec, err := scanAttendance(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		found = &rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// Close sets the check-out time and records the check-out event.
func (r *Repository) Close(ctx context.Context, tenantID, attendanceID string, at time.Time) (*domain.AttendanceRecord, error) {
	if _, err := uuid.Parse(attendanceID); err != nil {
		return nil, nil
	}

	var closed *domain.AttendanceRecord
	err := r.inTenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`UPDATE attendance SET check_out_at=$3, updated_at=NOW()
                WHERE tenant_id=$1 AND attendance_id=$2
                RETURNING `+attendanceColumns,
			tenantID, attendanceID, at,
		)
		rec, err := scanAttendance(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		closed = &rec
		return insertOutbox(ctx, tx, rec, events.CheckedOut(rec))
	})
	if err != nil {
		return nil, err
	}
	return closed, nil
}

// CloseStale closes the member's open sessions checked in before the cutoff with zero duration.
// Only rows still open are touched, so concurrent sweeps never emit the same close twice.
func (r *Repository) CloseStale(ctx context.Context, tenantID, memberID string, before time.Time) ([]string, error) {
	var ids []string
	err := r.inTenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx,
			`UPDATE attendance SET check_out_at=check_in_at, updated_at=NOW()
                WHERE tenant_id=$1 AND member_id=$2 AND check_out_at IS NULL AND check_in_at < $3
                RETURNING `+attendanceColumns,
			tenantID, memberID, before,
		)
		if err != nil {
			return err
		}
		closed, err := collectAttendance(rows)
		if err != nil {
			return err
		}

		for _, rec := range closed {
			if err := insertOutbox(ctx, tx, rec, events.AutoClosed(rec)); err != nil {
				return err
			}
			ids = append(ids, rec.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

// LatestOpen returns the most recent open session checked in at or after since.
func (r *Repository) LatestOpen(ctx context.Context, tenantID, memberID string, since time.Time) (*domain.AttendanceRecord, error) {
	var found *domain.AttendanceRecord
	err := r.inTenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx,
			`SELECT `+attendanceColumns+` FROM attendance
                WHERE tenant_id=$1 AND member_id=$2 AND check_out_at IS NULL AND check_in_at >= $3
                ORDER BY check_in_at DESC, attendance_id DESC
                LIMIT 1`,
			tenantID, memberID, since,
		)
		rec, err := scanAttendance(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		found = &rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// List returns sessions newest first using keyset pagination.
func (r *Repository) List(ctx context.Context, q domain.HistoryQuery) ([]domain.AttendanceRecord, error) {
	args := []any{q.TenantID}
	query := `SELECT ` + attendanceColumns + ` FROM attendance WHERE tenant_id=$1`

	if q.MemberID != "" {
		args = append(args, q.MemberID)
		query += fmt.Sprintf(` AND member_id=$%d`, len(args))
	}
	if !q.From.IsZero() {
		args = append(args, q.From)
		query += fmt.Sprintf(` AND check_in_at >= $%d`, len(args))
	}
	if !q.To.IsZero() {
		args = append(args, q.To)
		query += fmt.Sprintf(` AND check_in_at < $%d`, len(args))
	}
	if q.Cursor != nil {
		args = append(args, q.Cursor.CheckInAt, q.Cursor.ID)
		query += fmt.Sprintf(` AND (check_in_at, attendance_id) < ($%d, $%d)`, len(args)-1, len(args))
	}
	query += ` ORDER BY check_in_at DESC, attendance_id DESC`
	if q.Limit > 0 {
		args = append(args, q.Limit)
		query += fmt.Sprintf(` LIMIT $%d`, len(args))
	}

	var results []domain.AttendanceRecord
	err := r.inTenantTx(ctx, q.TenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		results, err = collectAttendance(rows)
		return err
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// CheckInTimes returns raw check-in timestamps in [From, To). Bucketing is left to the caller.
func (r *Repository) CheckInTimes(ctx context.Context, q domain.CheckInQuery) ([]time.Time, error) {
	args := []any{q.TenantID, q.From, q.To}
	query := `SELECT a.check_in_at FROM attendance a`
	if q.TrainerID != "" {
		query += ` JOIN members m ON m.tenant_id = a.tenant_id AND m.member_id = a.member_id AND m.trainer_id = $4`
		args = append(args, q.TrainerID)
	}
	query += ` WHERE a.tenant_id=$1 AND a.check_in_at >= $2 AND a.check_in_at < $3 ORDER BY a.check_in_at`

	times := make([]time.Time, 0)
	err := r.inTenantTx(ctx, q.TenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		times, err = pgx.CollectRows(rows, pgx.RowTo[time.Time])
		return err
	})
	if err != nil {
		return nil, err
	}
	return times, nil
}

func scanAttendance(row pgx.Row) (domain.AttendanceRecord, error) {
	var (
		rec        domain.AttendanceRecord
		checkOutAt *time.Time
	)
	if err := row.Scan(&rec.ID, &rec.TenantID, &rec.MemberID, &rec.CheckInAt, &checkOutAt); err != nil {
		return domain.AttendanceRecord{}, err
	}
	rec.CheckInAt = rec.CheckInAt.UTC()
	rec.State = domain.StateFromCheckOut(checkOutAt)
	return rec, nil
}

func collectAttendance(rows pgx.Rows) ([]domain.AttendanceRecord, error) {
	defer rows.Close()

	results := make([]domain.AttendanceRecord, 0)
	for rows.Next() {
		rec, err := scanAttendance(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return results, nil
}
