package consumer

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// AuditLogHandler appends attendance events to attendance_event_log.
// Redelivered records are ignored by their (topic, partition, offset) key.
type AuditLogHandler struct {
	pool *pgxpool.Pool
}

// NewAuditLogHandler constructs a handler backed by the provided pool.
func NewAuditLogHandler(pool *pgxpool.Pool) *AuditLogHandler {
	return &AuditLogHandler{pool: pool}
}

type attendanceRef struct {
	AttendanceID string `json:"attendance_id"`
	MemberID     string `json:"member_id"`
}

// Handle stores the raw event with the attendance and member it refers to.
func (h *AuditLogHandler) Handle(ctx context.Context, msg Message) error {
	var ref attendanceRef
	if err := json.Unmarshal(msg.Payload, &ref); err != nil {
		return fmt.Errorf("decode attendance reference: %w", err)
	}
	if ref.AttendanceID == "" {
		ref.AttendanceID = msg.AggregateID
	}

	_, err := h.pool.Exec(ctx,
		`INSERT INTO attendance_event_log (event_type, tenant_id, attendance_id, member_id, schema_id, schema_subject, topic, partition, record_offset, payload, received_at)
         VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
         ON CONFLICT (topic, partition, record_offset) DO NOTHING`,
		msg.EventType,
		msg.TenantID,
		nullIfEmpty(ref.AttendanceID),
		nullIfEmpty(ref.MemberID),
		msg.SchemaID,
		msg.SchemaSubject,
		msg.Topic,
		msg.Partition,
		msg.Offset,
		msg.Payload,
		msg.Timestamp,
	)
	return err
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}
