package domain

import "time"

// SessionStatus distinguishes open sessions from closed ones.
type SessionStatus int

const (
	SessionOpen SessionStatus = iota + 1
	SessionClosed
)

func (s SessionStatus) String() string {
	switch s {
	case SessionOpen:
		return "open"
	case SessionClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SessionState is the explicit Open | Closed{ClosedAt} state of an attendance record.
// Storage keeps a nullable check_out_at column; conversion happens only at the persistence edge.
type SessionState struct {
	Status   SessionStatus
	ClosedAt time.Time
}

// Open returns the state of a session that has not been checked out.
func Open() SessionState {
	return SessionState{Status: SessionOpen}
}

// ClosedAt returns the state of a session closed at the given instant.
func ClosedAt(at time.Time) SessionState {
	return SessionState{Status: SessionClosed, ClosedAt: at.UTC()}
}

// IsOpen reports whether the session is still open.
func (s SessionState) IsOpen() bool {
	return s.Status != SessionClosed
}

// CheckOutAt converts the state to the nullable column representation.
func (s SessionState) CheckOutAt() *time.Time {
	if s.IsOpen() {
		return nil
	}
	at := s.ClosedAt
	return &at
}

// StateFromCheckOut converts a nullable check_out_at column value into a SessionState.
func StateFromCheckOut(checkOutAt *time.Time) SessionState {
	if checkOutAt == nil {
		return Open()
	}
	return ClosedAt(*checkOutAt)
}

// AttendanceRecord is one check-in/check-out session in the attendance ledger.
type AttendanceRecord struct {
	ID        string
	TenantID  string
	MemberID  string
	CheckInAt time.Time
	State     SessionState
}

// Duration returns how long a closed session lasted, or zero while it is open.
func (r AttendanceRecord) Duration() time.Duration {
	if r.State.IsOpen() {
		return 0
	}
	return r.State.ClosedAt.Sub(r.CheckInAt)
}

// Cursor models the keyset pagination token for attendance history.
type Cursor struct {
	CheckInAt time.Time
	ID        string
}

// HistoryQuery selects ledger rows for a tenant, newest first.
// From is inclusive and To exclusive; zero values leave the bound open.
type HistoryQuery struct {
	TenantID string
	MemberID string
	From     time.Time
	To       time.Time
	Cursor   *Cursor
	Limit    int
}

// CheckInQuery selects raw check-in timestamps in [From, To) for reporting.
// A non-empty TrainerID narrows the rows to members currently assigned to that trainer.
type CheckInQuery struct {
	TenantID  string
	TrainerID string
	From      time.Time
	To        time.Time
}
