package gormstore

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"

	"example.com/attendance/internal/domain"
)

// The models map onto the tables created by db/postgres/migrations; the store never auto-migrates.

type attendanceRow struct {
	AttendanceID string     `gorm:"column:attendance_id;primaryKey"`
	TenantID     string     `gorm:"column:tenant_id"`
	MemberID     string     `gorm:"column:member_id"`
	CheckInAt    time.Time  `gorm:"column:check_in_at"`
	CheckOutAt   *time.Time `gorm:"column:check_out_at"`
}

func (attendanceRow) TableName() string { return "attendance" }

func fromRecord(rec domain.AttendanceRecord) attendanceRow {
	return attendanceRow{
		AttendanceID: rec.ID,
		TenantID:     rec.TenantID,
		MemberID:     rec.MemberID,
		CheckInAt:    rec.CheckInAt,
		CheckOutAt:   rec.State.CheckOutAt(),
	}
}

func (r attendanceRow) record() domain.AttendanceRecord {
	return domain.AttendanceRecord{
		ID:        r.AttendanceID,
		TenantID:  r.TenantID,
		MemberID:  r.MemberID,
		CheckInAt: r.CheckInAt.UTC(),
		State:     domain.StateFromCheckOut(r.CheckOutAt),
	}
}

type memberRow struct {
	MemberID  string     `gorm:"column:member_id;primaryKey"`
	TenantID  string     `gorm:"column:tenant_id"`
	TrainerID *string    `gorm:"column:trainer_id"`
	Name      string     `gorm:"column:name"`
	Status    string     `gorm:"column:status"`
	ExpiresAt *time.Time `gorm:"column:expires_at"`
	PlanType  string     `gorm:"column:plan_type"`
	StartDate time.Time  `gorm:"column:start_date"`
}

func (memberRow) TableName() string { return "members" }

func (m memberRow) member() domain.Member {
	out := domain.Member{
		ID:        m.MemberID,
		TenantID:  m.TenantID,
		Name:      m.Name,
		Status:    domain.MemberStatus(m.Status),
		ExpiresAt: m.ExpiresAt,
		PlanType:  m.PlanType,
		StartDate: m.StartDate,
	}
	if m.TrainerID != nil {
		out.TrainerID = *m.TrainerID
	}
	return out
}

type paymentRow struct {
	PaymentID string          `gorm:"column:payment_id;primaryKey"`
	TenantID  string          `gorm:"column:tenant_id"`
	MemberID  string          `gorm:"column:member_id"`
	Amount    decimal.Decimal `gorm:"column:amount;type:numeric(14,2)"`
	PaidAt    time.Time       `gorm:"column:paid_at"`
	Category  string          `gorm:"column:category"`
}

func (paymentRow) TableName() string { return "payments" }

func (p paymentRow) payment() domain.Payment {
	return domain.Payment{
		ID:       p.PaymentID,
		TenantID: p.TenantID,
		MemberID: p.MemberID,
		Amount:   p.Amount,
		Date:     p.PaidAt,
		Category: p.Category,
	}
}

type trainerRow struct {
	TrainerID string `gorm:"column:trainer_id;primaryKey"`
	TenantID  string `gorm:"column:tenant_id"`
	Name      string `gorm:"column:name"`
}

func (trainerRow) TableName() string { return "trainers" }

type outboxRow struct {
	EventID       int64           `gorm:"column:event_id;primaryKey;autoIncrement"`
	TenantID      string          `gorm:"column:tenant_id"`
	AggregateType string          `gorm:"column:aggregate_type"`
	AggregateID   string          `gorm:"column:aggregate_id"`
	EventType     string          `gorm:"column:event_type"`
	Topic         string          `gorm:"column:topic"`
	SchemaSubject string          `gorm:"column:schema_subject"`
	PartitionKey  string          `gorm:"column:partition_key"`
	Payload       json.RawMessage `gorm:"column:payload;type:jsonb"`
	DedupeKey     string          `gorm:"column:dedupe_key"`
}

func (outboxRow) TableName() string { return "outbox" }
