// Package gormstore implements the attendance ledger and read-model ports with gorm on Postgres.
// It shares the schema and row level security of the pgx repository and is selected with
// STORAGE_DRIVER=gorm.
package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"example.com/attendance/internal/domain"
	"example.com/attendance/internal/events"
)

// Store provides gorm-backed persistence for the attendance ledger and its read models.
type Store struct {
	db *gorm.DB
}

// Open connects to Postgres through gorm's pgx-based driver.
func Open(dsn string) (*Store, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger:  logger.Default.LogMode(logger.Warn),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("open gorm: %w", err)
	}
	return New(db), nil
}

// New wraps an existing gorm handle.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Shutdown releases the underlying connection pool.
func (s *Store) Shutdown() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *Store) inTenantTx(ctx context.Context, tenantID string, fn func(tx *gorm.DB) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Exec("SELECT set_config('app.tenant_id', ?, true)", tenantID).Error; err != nil {
			return err
		}
		return fn(tx)
	})
}

// Create persists a new session and records the check-in event in the same transaction.
func (s *Store) Create(ctx context.Context, record domain.AttendanceRecord) error {
	return s.inTenantTx(ctx, record.TenantID, func(tx *gorm.DB) error {
		return insertAttendance(tx, record)
	})
}

// CreateExclusive serialises check-ins per member with a transaction-scoped advisory lock.
func (s *Store) CreateExclusive(ctx context.Context, record domain.AttendanceRecord, openSince time.Time) error {
	return s.inTenantTx(ctx, record.TenantID, func(tx *gorm.DB) error {
		lockKey := events.PartitionKey(record.TenantID, record.MemberID)
		if err := tx.Exec("SELECT pg_advisory_xact_lock(hashtext(?))", lockKey).Error; err != nil {
			return err
		}

		var open int64
		err := openSessions(tx, record.TenantID, record.MemberID).
			Where("check_in_at >= ?", openSince).
			Count(&open).Error
		if err != nil {
			return err
		}
		if open > 0 {
			return domain.ErrSessionAlreadyOpen
		}
		return insertAttendance(tx, record)
	})
}

func insertAttendance(tx *gorm.DB, record domain.AttendanceRecord) error {
	row := fromRecord(record)
	if err := tx.Create(&row).Error; err != nil {
		return err
	}
	return insertOutbox(tx, record, events.CheckedIn(record))
}

func openSessions(tx *gorm.DB, tenantID, memberID string) *gorm.DB {
	return tx.Model(&attendanceRow{}).
		Where("tenant_id = ? AND member_id = ? AND check_out_at IS NULL", tenantID, memberID)
}

// Get retrieves a session by ID.
func (s *Store) Get(ctx context.Context, tenantID, attendanceID string) (*domain.AttendanceRecord, error) {
	if _, err := uuid.Parse(attendanceID); err != nil {
		return nil, nil
	}

	var found *domain.AttendanceRecord
	err := s.inTenantTx(ctx, tenantID, func(tx *gorm.DB) error {
		var row attendanceRow
		err := tx.Where("tenant_id = ? AND attendance_id = ?", tenantID, attendanceID).Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		rec := row.record()
		found = &rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// Close sets the check-out time and records the check-out event.
func (s *Store) Close(ctx context.Context, tenantID, attendanceID string, at time.Time) (*domain.AttendanceRecord, error) {
	if _, err := uuid.Parse(attendanceID); err != nil {
		return nil, nil
	}

	var closed *domain.AttendanceRecord
	err := s.inTenantTx(ctx, tenantID, func(tx *gorm.DB) error {
		var row attendanceRow
		result := tx.Model(&row).
			Clauses(clause.Returning{}).
			Where("tenant_id = ? AND attendance_id = ?", tenantID, attendanceID).
			Updates(map[string]any{"check_out_at": at, "updated_at": gorm.Expr("NOW()")})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}
		rec := row.record()
		closed = &rec
		return insertOutbox(tx, rec, events.CheckedOut(rec))
	})
	if err != nil {
		return nil, err
	}
	return closed, nil
}

// CloseStale closes the member's open sessions checked in before the cutoff with zero duration.
func (s *Store) CloseStale(ctx context.Context, tenantID, memberID string, before time.Time) ([]string, error) {
	var ids []string
	err := s.inTenantTx(ctx, tenantID, func(tx *gorm.DB) error {
		var rows []attendanceRow
		err := tx.Model(&rows).
			Clauses(clause.Returning{}).
			Where("tenant_id = ? AND member_id = ? AND check_out_at IS NULL AND check_in_at < ?", tenantID, memberID, before).
			Updates(map[string]any{"check_out_at": gorm.Expr("check_in_at"), "updated_at": gorm.Expr("NOW()")}).Error
		if err != nil {
			return err
		}
		for _, row := range rows {
			rec := row.record()
			if err := insertOutbox(tx, rec, events.AutoClosed(rec)); err != nil {
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
func (s *Store) LatestOpen(ctx context.Context, tenantID, memberID string, since time.Time) (*domain.AttendanceRecord, error) {
	var found *domain.AttendanceRecord
	err := s.inTenantTx(ctx, tenantID, func(tx *gorm.DB) error {
		var row attendanceRow
		err := openSessions(tx, tenantID, memberID).
			Where("check_in_at >= ?", since).
			Order("check_in_at DESC, attendance_id DESC").
			Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		rec := row.record()
		found = &rec
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// List returns sessions newest first using keyset pagination.
func (s *Store) List(ctx context.Context, q domain.HistoryQuery) ([]domain.AttendanceRecord, error) {
	results := make([]domain.AttendanceRecord, 0)
	err := s.inTenantTx(ctx, q.TenantID, func(tx *gorm.DB) error {
		query := tx.Model(&attendanceRow{}).Where("tenant_id = ?", q.TenantID)
		if q.MemberID != "" {
			query = query.Where("member_id = ?", q.MemberID)
		}
		if !q.From.IsZero() {
			query = query.Where("check_in_at >= ?", q.From)
		}
		if !q.To.IsZero() {
			query = query.Where("check_in_at < ?", q.To)
		}
		if q.Cursor != nil {
			query = query.Where("(check_in_at, attendance_id) < (?, ?)", q.Cursor.CheckInAt, q.Cursor.ID)
		}
		query = query.Order("check_in_at DESC, attendance_id DESC")
		if q.Limit > 0 {
			query = query.Limit(q.Limit)
		}

		var rows []attendanceRow
		if err := query.Find(&rows).Error; err != nil {
			return err
		}
		for _, row := range rows {
			results = append(results, row.record())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return results, nil
}

// CheckInTimes returns raw check-in timestamps in [From, To).
func (s *Store) CheckInTimes(ctx context.Context, q domain.CheckInQuery) ([]time.Time, error) {
	times := make([]time.Time, 0)
	err := s.inTenantTx(ctx, q.TenantID, func(tx *gorm.DB) error {
		query := tx.Table("attendance AS a").
			Where("a.tenant_id = ? AND a.check_in_at >= ? AND a.check_in_at < ?", q.TenantID, q.From, q.To)
		if q.TrainerID != "" {
			query = query.Joins("JOIN members m ON m.tenant_id = a.tenant_id AND m.member_id = a.member_id AND m.trainer_id = ?", q.TrainerID)
		}
		return query.Order("a.check_in_at").Pluck("a.check_in_at", &times).Error
	})
	if err != nil {
		return nil, err
	}
	return times, nil
}

// insertOutbox records an event for the dispatcher inside the caller's transaction.
func insertOutbox(tx *gorm.DB, rec domain.AttendanceRecord, env events.Envelope) error {
	route, ok := events.RouteFor(env.EventType)
	if !ok {
		return fmt.Errorf("unknown event type: %s", env.EventType)
	}
	body, err := json.Marshal(env.Payload)
	if err != nil {
		return err
	}

	row := outboxRow{
		TenantID:      rec.TenantID,
		AggregateType: "attendance",
		AggregateID:   rec.ID,
		EventType:     env.EventType,
		Topic:         route.Topic,
		SchemaSubject: route.SchemaSubject,
		PartitionKey:  events.PartitionKey(rec.TenantID, rec.MemberID),
		Payload:       body,
		DedupeKey:     env.DedupeKey,
	}
	return tx.Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "dedupe_key"}}, DoNothing: true}).
		Create(&row).Error
}

// paymentScope applies the filters shared by ListPayments and SumPayments.
func paymentScope(tx *gorm.DB, q domain.PaymentQuery) *gorm.DB {
	query := tx.Model(&paymentRow{}).Where("payments.tenant_id = ?", q.TenantID)
	if q.TrainerID != "" {
		query = query.Joins("JOIN members m ON m.tenant_id = payments.tenant_id AND m.member_id = payments.member_id AND m.trainer_id = ?", q.TrainerID)
	}
	if !q.From.IsZero() {
		query = query.Where("payments.paid_at >= ?", q.From)
	}
	if !q.To.IsZero() {
		query = query.Where("payments.paid_at < ?", q.To)
	}
	return query
}

// GetMember loads a member snapshot.
func (s *Store) GetMember(ctx context.Context, tenantID, memberID string) (*domain.Member, error) {
	var found *domain.Member
	err := s.inTenantTx(ctx, tenantID, func(tx *gorm.DB) error {
		var row memberRow
		err := tx.Where("tenant_id = ? AND member_id = ?", tenantID, memberID).Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		member := row.member()
		found = &member
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// ListMembers returns member snapshots matching the query.
func (s *Store) ListMembers(ctx context.Context, q domain.MemberQuery) ([]domain.Member, error) {
	return s.findMembers(ctx, q.TenantID, func(tx *gorm.DB) *gorm.DB {
		query := tx.Where("tenant_id = ?", q.TenantID)
		if q.TrainerID != "" {
			query = query.Where("trainer_id = ?", q.TrainerID)
		}
		if !q.StartedFrom.IsZero() {
			query = query.Where("start_date >= ?", q.StartedFrom)
		}
		return query
	})
}

// MembersByID returns the members among ids that exist in the tenant.
func (s *Store) MembersByID(ctx context.Context, tenantID string, ids []string) ([]domain.Member, error) {
	if len(ids) == 0 {
		return []domain.Member{}, nil
	}
	return s.findMembers(ctx, tenantID, func(tx *gorm.DB) *gorm.DB {
		return tx.Where("tenant_id = ? AND member_id IN ?", tenantID, ids)
	})
}

func (s *Store) findMembers(ctx context.Context, tenantID string, scope func(*gorm.DB) *gorm.DB) ([]domain.Member, error) {
	members := make([]domain.Member, 0)
	err := s.inTenantTx(ctx, tenantID, func(tx *gorm.DB) error {
		var rows []memberRow
		if err := scope(tx).Order("member_id").Find(&rows).Error; err != nil {
			return err
		}
		for _, row := range rows {
			members = append(members, row.member())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return members, nil
}

// ListPayments returns payments in [From, To) ordered by date.
func (s *Store) ListPayments(ctx context.Context, q domain.PaymentQuery) ([]domain.Payment, error) {
	payments := make([]domain.Payment, 0)
	err := s.inTenantTx(ctx, q.TenantID, func(tx *gorm.DB) error {
		var rows []paymentRow
		if err := paymentScope(tx, q).Select("payments.*").Order("payments.paid_at, payments.payment_id").Find(&rows).Error; err != nil {
			return err
		}
		for _, row := range rows {
			payments = append(payments, row.payment())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return payments, nil
}

// SumPayments totals payment amounts in [From, To) in the database.
func (s *Store) SumPayments(ctx context.Context, q domain.PaymentQuery) (decimal.Decimal, error) {
	total := decimal.Zero
	err := s.inTenantTx(ctx, q.TenantID, func(tx *gorm.DB) error {
		return paymentScope(tx, q).Select("COALESCE(SUM(payments.amount), 0)").Row().Scan(&total)
	})
	if err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

// TrainerNames resolves trainer ids to display names.
func (s *Store) TrainerNames(ctx context.Context, tenantID string, ids []string) (map[string]string, error) {
	names := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}
	err := s.inTenantTx(ctx, tenantID, func(tx *gorm.DB) error {
		var rows []trainerRow
		if err := tx.Where("tenant_id = ? AND trainer_id IN ?", tenantID, ids).Find(&rows).Error; err != nil {
			return err
		}
		for _, row := range rows {
			names[row.TrainerID] = row.Name
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// UpsertMember replicates a member snapshot from the member records service.
func (s *Store) UpsertMember(ctx context.Context, m domain.Member) error {
	row := memberRow{
		MemberID:  m.ID,
		TenantID:  m.TenantID,
		Name:      m.Name,
		Status:    string(m.Status),
		ExpiresAt: m.ExpiresAt,
		PlanType:  m.PlanType,
		StartDate: m.StartDate,
	}
	if m.TrainerID != "" {
		trainerID := m.TrainerID
		row.TrainerID = &trainerID
	}
	return s.inTenantTx(ctx, m.TenantID, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "member_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"trainer_id", "name", "status", "expires_at", "plan_type", "start_date"}),
		}).Create(&row).Error
	})
}

// InsertPayment replicates a payment from the billing service. Replays are ignored.
func (s *Store) InsertPayment(ctx context.Context, p domain.Payment) error {
	row := paymentRow{PaymentID: p.ID, TenantID: p.TenantID, MemberID: p.MemberID, Amount: p.Amount, PaidAt: p.Date, Category: p.Category}
	return s.inTenantTx(ctx, p.TenantID, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row).Error
	})
}

// UpsertTrainer replicates a trainer's display name.
func (s *Store) UpsertTrainer(ctx context.Context, t domain.Trainer) error {
	row := trainerRow{TrainerID: t.ID, TenantID: t.TenantID, Name: t.Name}
	return s.inTenantTx(ctx, t.TenantID, func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "trainer_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"name"}),
		}).Create(&row).Error
	})
}
