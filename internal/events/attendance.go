// Package events defines the attendance event payloads published through the outbox.
package events

import "time"

// Event types recorded in the outbox.
const (
	TypeCheckedIn  = "attendance.checked_in"
	TypeCheckedOut = "attendance.checked_out"
	TypeAutoClosed = "attendance.auto_closed"
)

// Close reasons carried by AttendanceClosed.
const (
	ReasonCheckOut = "check_out"
	ReasonStale    = "stale"
)

// AttendanceCheckedIn is emitted when a member opens a session.
type AttendanceCheckedIn struct {
	AttendanceID string    `json:"attendance_id"`
	TenantID     string    `json:"tenant_id"`
	MemberID     string    `json:"member_id"`
	CheckInAt    time.Time `json:"check_in_at"`
}

// AttendanceClosed is emitted for explicit check-outs and for stale sessions closed by a sweep.
type AttendanceClosed struct {
	AttendanceID string    `json:"attendance_id"`
	TenantID     string    `json:"tenant_id"`
	MemberID     string    `json:"member_id"`
	CheckInAt    time.Time `json:"check_in_at"`
	CheckOutAt   time.Time `json:"check_out_at"`
	DurationSec  int64     `json:"duration_sec"`
	Reason       string    `json:"reason"`
}

// Route describes where an event type is published.
type Route struct {
	Topic         string
	SchemaSubject string
}

var routes = map[string]Route{
	TypeCheckedIn:  {Topic: "attendance_checked_in", SchemaSubject: "attendance_checked_in-value"},
	TypeCheckedOut: {Topic: "attendance_closed", SchemaSubject: "attendance_closed-value"},
	TypeAutoClosed: {Topic: "attendance_closed", SchemaSubject: "attendance_closed-value"},
}

// RouteFor returns the topic and schema subject of an event type.
func RouteFor(eventType string) (Route, bool) {
	r, ok := routes[eventType]
	return r, ok
}

// Topics lists every topic attendance events are published to.
func Topics() []string {
	return []string{"attendance_checked_in", "attendance_closed"}
}

// PartitionKey keeps all events of one member on one partition.
func PartitionKey(tenantID, memberID string) string {
	return tenantID + ":" + memberID
}
