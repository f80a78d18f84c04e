package events

import (
	"fmt"
	"time"

	"example.com/attendance/internal/domain"
)

// Envelope is the outbox entry produced by one ledger transition.
type Envelope struct {
	EventType string
	DedupeKey string
	Payload   any
}

// CheckedIn describes the opening of rec.
func CheckedIn(rec domain.AttendanceRecord) Envelope {
	return Envelope{
		EventType: TypeCheckedIn,
		DedupeKey: rec.ID + ":" + TypeCheckedIn,
		Payload: AttendanceCheckedIn{
			AttendanceID: rec.ID,
			TenantID:     rec.TenantID,
			MemberID:     rec.MemberID,
			CheckInAt:    rec.CheckInAt,
		},
	}
}

// CheckedOut describes an explicit check-out. Re-closing a session is a new event, so the
// close time is part of the dedupe key.
func CheckedOut(rec domain.AttendanceRecord) Envelope {
	return Envelope{
		EventType: TypeCheckedOut,
		DedupeKey: fmt.Sprintf("%s:%s:%d", rec.ID, TypeCheckedOut, rec.State.ClosedAt.UnixNano()),
		Payload:   closed(rec, ReasonCheckOut),
	}
}

// AutoClosed describes a stale session closed by a sweep. It can happen only once per session.
func AutoClosed(rec domain.AttendanceRecord) Envelope {
	return Envelope{
		EventType: TypeAutoClosed,
		DedupeKey: rec.ID + ":" + TypeAutoClosed,
		Payload:   closed(rec, ReasonStale),
	}
}

func closed(rec domain.AttendanceRecord, reason string) AttendanceClosed {
	return AttendanceClosed{
		AttendanceID: rec.ID,
		TenantID:     rec.TenantID,
		MemberID:     rec.MemberID,
		CheckInAt:    rec.CheckInAt,
		CheckOutAt:   rec.State.ClosedAt,
		DurationSec:  int64(rec.Duration() / time.Second),
		Reason:       reason,
	}
}
