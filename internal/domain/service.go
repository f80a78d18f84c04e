// Package domain defines the attendance session model and the session manager.
package domain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"example.com/attendance/internal/logging"
	"example.com/attendance/internal/observability"
)

const (
	// DefaultStaleWindow is how long a session may stay open before the next lookup force-closes it.
	DefaultStaleWindow = 24 * time.Hour

	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// AttendanceRepository captures persistence operations on the attendance ledger.
// Get, Close and LatestOpen return (nil, nil) when no row matches.
type AttendanceRepository interface {
	Create(ctx context.Context, record AttendanceRecord) error
	// CreateExclusive inserts the record unless the member already has an open record
	// checked in at or after openSince, in which case it returns ErrSessionAlreadyOpen.
	CreateExclusive(ctx context.Context, record AttendanceRecord, openSince time.Time) error
	Get(ctx context.Context, tenantID, attendanceID string) (*AttendanceRecord, error)
	Close(ctx context.Context, tenantID, attendanceID string, at time.Time) (*AttendanceRecord, error)
	// CloseStale sets check_out_at = check_in_at on the member's open records checked in before
	// the cutoff and returns the ids it closed.
	CloseStale(ctx context.Context, tenantID, memberID string, before time.Time) ([]string, error)
	LatestOpen(ctx context.Context, tenantID, memberID string, since time.Time) (*AttendanceRecord, error)
	List(ctx context.Context, q HistoryQuery) ([]AttendanceRecord, error)
	CheckInTimes(ctx context.Context, q CheckInQuery) ([]time.Time, error)
}

// Option configures optional behaviour for the Service.
type Option func(*Service)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithStaleWindow overrides how long a session may stay open.
func WithStaleWindow(window time.Duration) Option {
	return func(s *Service) {
		if window > 0 {
			s.staleWindow = window
		}
	}
}

// WithSingleOpenSession enforces at most one open session per member at check-in.
// Disabled by default: concurrent open sessions are permitted, matching existing gym behaviour.
func WithSingleOpenSession(enabled bool) Option {
	return func(s *Service) {
		s.singleOpen = enabled
	}
}

// WithLocation sets the timezone used to interpret whole-day history filters.
func WithLocation(loc *time.Location) Option {
	return func(s *Service) {
		if loc != nil {
			s.loc = loc
		}
	}
}

// WithLogger overrides the fallback logger used when the context carries none.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Service is the attendance session manager: check-in, check-out, stale-session sweeps and history.
type Service struct {
	repo        AttendanceRepository
	members     MemberReader
	now         func() time.Time
	staleWindow time.Duration
	singleOpen  bool
	loc         *time.Location
	logger      *slog.Logger
}

// NewService constructs a Service.
func NewService(repo AttendanceRepository, members MemberReader, opts ...Option) *Service {
	s := &Service{
		repo:        repo,
		members:     members,
		now:         time.Now,
		staleWindow: DefaultStaleWindow,
		loc:         time.UTC,
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Location returns the timezone used for calendar arithmetic.
func (s *Service) Location() *time.Location {
	return s.loc
}

// CheckIn opens a new session for the member.
func (s *Service) CheckIn(ctx context.Context, actor Actor, memberID string) (*AttendanceRecord, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	target, err := actor.resolveMember(memberID)
	if err != nil {
		return nil, err
	}

	member, err := s.members.GetMember(ctx, actor.TenantID, target)
	if err != nil {
		return nil, fmt.Errorf("load member: %w", err)
	}
	if member == nil || member.TenantID != actor.TenantID {
		return nil, ErrNotFound
	}

	now := s.now().UTC()
	record := AttendanceRecord{
		ID:        uuid.NewString(),
		TenantID:  actor.TenantID,
		MemberID:  member.ID,
		CheckInAt: now,
		State:     Open(),
	}

	if s.singleOpen {
		err = s.repo.CreateExclusive(ctx, record, now.Add(-s.staleWindow))
	} else {
		err = s.repo.Create(ctx, record)
	}
	if err != nil {
		if errors.Is(err, ErrSessionAlreadyOpen) {
			return nil, err
		}
		return nil, fmt.Errorf("create attendance: %w", err)
	}

	observability.RecordCheckIn(actor.TenantID)
	s.log(ctx).Info("member checked in",
		"tenant_id", record.TenantID,
		"member_id", record.MemberID,
		"attendance_id", record.ID,
	)
	return &record, nil
}

// CheckOut closes the session. Closing an already-closed session overwrites its check-out time.
func (s *Service) CheckOut(ctx context.Context, actor Actor, attendanceID string) (*AttendanceRecord, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	if attendanceID == "" {
		return nil, newValidationError("attendance_id", "is required")
	}

	existing, err := s.repo.Get(ctx, actor.TenantID, attendanceID)
	if err != nil {
		return nil, fmt.Errorf("load attendance: %w", err)
	}
	if existing == nil || !actor.canSee(*existing) {
		return nil, ErrNotFound
	}

	at := s.now().UTC()
	if at.Before(existing.CheckInAt) {
		at = existing.CheckInAt
	}

	closed, err := s.repo.Close(ctx, actor.TenantID, attendanceID, at)
	if err != nil {
		return nil, fmt.Errorf("close attendance: %w", err)
	}
	if closed == nil {
		return nil, ErrNotFound
	}

	observability.RecordCheckOut(actor.TenantID)
	s.log(ctx).Info("member checked out",
		"tenant_id", closed.TenantID,
		"member_id", closed.MemberID,
		"attendance_id", closed.ID,
		"duration", closed.Duration().String(),
	)
	return closed, nil
}

// GetOpenSession force-closes the member's stale sessions with zero duration, then returns the
// most recent session opened within the stale window, or nil.
func (s *Service) GetOpenSession(ctx context.Context, actor Actor, memberID string) (*AttendanceRecord, error) {
	if err := actor.Validate(); err != nil {
		return nil, err
	}
	target, err := actor.resolveMember(memberID)
	if err != nil {
		return nil, err
	}

	cutoff := s.now().UTC().Add(-s.staleWindow)

	closedIDs, err := s.repo.CloseStale(ctx, actor.TenantID, target, cutoff)
	if err != nil {
		return nil, fmt.Errorf("close stale sessions: %w", err)
	}
	if len(closedIDs) > 0 {
		observability.RecordStaleClosed(actor.TenantID, len(closedIDs))
		s.log(ctx).Info("closed stale sessions",
			"tenant_id", actor.TenantID,
			"member_id", target,
			"closed", len(closedIDs),
		)
	}

	open, err := s.repo.LatestOpen(ctx, actor.TenantID, target, cutoff)
	if err != nil {
		return nil, fmt.Errorf("load open session: %w", err)
	}
	return open, nil
}

// HistoryFilter narrows attendance history. From and To are inclusive calendar days in the
// service location; zero values leave the bound open.
type HistoryFilter struct {
	MemberID string
	From     time.Time
	To       time.Time
	Cursor   *Cursor
	Limit    int
}

// ListHistory returns attendance records newest first with keyset pagination.
// Member actors only ever see their own sessions; staff may list the whole tenant.
func (s *Service) ListHistory(ctx context.Context, actor Actor, filter HistoryFilter) ([]AttendanceRecord, *Cursor, error) {
	if err := actor.Validate(); err != nil {
		return nil, nil, err
	}

	memberID := filter.MemberID
	if actor.Type == ActorMember {
		if memberID != "" && memberID != actor.MemberID {
			return nil, nil, ErrNotFound
		}
		memberID = actor.MemberID
	}

	q := HistoryQuery{
		TenantID: actor.TenantID,
		MemberID: memberID,
		Cursor:   filter.Cursor,
		Limit:    clampLimit(filter.Limit),
	}
	if !filter.From.IsZero() {
		q.From = startOfDay(filter.From, s.loc)
	}
	if !filter.To.IsZero() {
		q.To = startOfDay(filter.To, s.loc).AddDate(0, 0, 1)
	}
	if !q.From.IsZero() && !q.To.IsZero() && !q.From.Before(q.To) {
		return nil, nil, newValidationError("from", "must not be after to")
	}

	records, err := s.repo.List(ctx, q)
	if err != nil {
		return nil, nil, fmt.Errorf("list attendance: %w", err)
	}

	var next *Cursor
	if len(records) == q.Limit {
		last := records[len(records)-1]
		next = &Cursor{CheckInAt: last.CheckInAt, ID: last.ID}
	}
	return records, next, nil
}

// CheckInTimes returns raw check-in timestamps in [from, to) for reporting.
func (s *Service) CheckInTimes(ctx context.Context, tenantID, trainerID string, from, to time.Time) ([]time.Time, error) {
	return s.repo.CheckInTimes(ctx, CheckInQuery{TenantID: tenantID, TrainerID: trainerID, From: from, To: to})
}

func (s *Service) log(ctx context.Context) *slog.Logger {
	if logger := logging.FromContext(ctx); logger != nil {
		return logger
	}
	return s.logger
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		return maxHistoryLimit
	}
	return limit
}

func startOfDay(t time.Time, loc *time.Location) time.Time {
	local := t.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
}
