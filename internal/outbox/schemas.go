package outbox

import "example.com/attendance/internal/events"

const attendanceCheckedInSchema = `{
  "type": "object",
  "title": "AttendanceCheckedIn",
  "properties": {
    "attendance_id": {"type": "string"},
    "tenant_id": {"type": "string"},
    "member_id": {"type": "string"},
    "check_in_at": {"type": "string", "format": "date-time"}
  },
  "required": ["attendance_id", "tenant_id", "member_id", "check_in_at"],
  "additionalProperties": false
}`

const attendanceClosedSchema = `{
  "type": "object",
  "title": "AttendanceClosed",
  "properties": {
    "attendance_id": {"type": "string"},
    "tenant_id": {"type": "string"},
    "member_id": {"type": "string"},
    "check_in_at": {"type": "string", "format": "date-time"},
    "check_out_at": {"type": "string", "format": "date-time"},
    "duration_sec": {"type": "integer", "minimum": 0},
    "reason": {"type": "string", "enum": ["check_out", "stale"]}
  },
  "required": ["attendance_id", "tenant_id", "member_id", "check_in_at", "check_out_at", "duration_sec", "reason"],
  "additionalProperties": false
}`

var schemaCatalog = map[string]string{
	events.TypeCheckedIn:  attendanceCheckedInSchema,
	events.TypeCheckedOut: attendanceClosedSchema,
	events.TypeAutoClosed: attendanceClosedSchema,
}

func schemaFor(eventType string) (string, bool) {
	schema, ok := schemaCatalog[eventType]
	return schema, ok
}
