package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"example.com/attendance/internal/domain"
	"example.com/attendance/internal/events"
)

const aggregateType = "attendance"

// insertOutbox records an event for the dispatcher inside the caller's transaction.
// A repeated dedupe key is ignored so replays of the same transition emit one event.
func insertOutbox(ctx context.Context, tx pgx.Tx, rec domain.AttendanceRecord, env events.Envelope) error {
	route, ok := events.RouteFor(env.EventType)
	if !ok {
		return fmt.Errorf("unknown event type: %s", env.EventType)
	}

	body, err := json.Marshal(env.Payload)
	if err != nil {
		return err
	}

	const stmt = `INSERT INTO outbox (tenant_id, aggregate_type, aggregate_id, event_type, topic, schema_subject, partition_key, payload, dedupe_key)
        VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
        ON CONFLICT (dedupe_key) DO NOTHING`

	_, err = tx.Exec(ctx, stmt,
		rec.TenantID,
		aggregateType,
		rec.ID,
		env.EventType,
		route.Topic,
		route.SchemaSubject,
		events.PartitionKey(rec.TenantID, rec.MemberID),
		body,
		env.DedupeKey,
	)
	return err
}
