package auth

// Known OAuth scopes used by the attendance service.
const (
	ScopeAttendanceWrite = "attendance:write"
	ScopeAttendanceRead  = "attendance:read"
	ScopeReportsRead     = "reports:read"
)
