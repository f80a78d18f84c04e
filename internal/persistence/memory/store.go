// Package memory provides an in-process store for local development and tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"example.com/attendance/internal/domain"
)

// Store keeps the attendance ledger and the member, payment and trainer read models in memory.
type Store struct {
	mu         sync.RWMutex
	attendance map[string]domain.AttendanceRecord
	members    map[string]domain.Member
	payments   []domain.Payment
	trainers   map[string]domain.Trainer
}

// NewStore constructs an empty Store.
func NewStore() *Store {
	return &Store{
		attendance: make(map[string]domain.AttendanceRecord),
		members:    make(map[string]domain.Member),
		trainers:   make(map[string]domain.Trainer),
	}
}

// PutMember inserts or replaces a member snapshot.
func (s *Store) PutMember(member domain.Member) domain.Member {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(member.ID) == "" {
		member.ID = uuid.NewString()
	}
	if member.Status == "" {
		member.Status = domain.MemberStatusActive
	}
	s.members[member.ID] = member
	return member
}

// AddPayment appends a payment snapshot.
func (s *Store) AddPayment(payment domain.Payment) domain.Payment {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(payment.ID) == "" {
		payment.ID = uuid.NewString()
	}
	s.payments = append(s.payments, payment)
	return payment
}

// PutTrainer inserts or replaces a trainer.
func (s *Store) PutTrainer(trainer domain.Trainer) domain.Trainer {
	s.mu.Lock()
	defer s.mu.Unlock()

	if strings.TrimSpace(trainer.ID) == "" {
		trainer.ID = uuid.NewString()
	}
	s.trainers[trainer.ID] = trainer
	return trainer
}

// Records returns a copy of every ledger row ordered by check-in time.
func (s *Store) Records() []domain.AttendanceRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.AttendanceRecord, 0, len(s.attendance))
	for _, rec := range s.attendance {
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CheckInAt.Equal(out[j].CheckInAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CheckInAt.Before(out[j].CheckInAt)
	})
	return out
}

// Create implements domain.AttendanceRepository.
func (s *Store) Create(ctx context.Context, record domain.AttendanceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attendance[record.ID] = record
	return nil
}

// CreateExclusive implements domain.AttendanceRepository. The write lock makes check and insert atomic.
func (s *Store) CreateExclusive(ctx context.Context, record domain.AttendanceRecord, openSince time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, rec := range s.attendance {
		if rec.TenantID == record.TenantID && rec.MemberID == record.MemberID &&
			rec.State.IsOpen() && !rec.CheckInAt.Before(openSince) {
			return domain.ErrSessionAlreadyOpen
		}
	}
	s.attendance[record.ID] = record
	return nil
}

// Get implements domain.AttendanceRepository.
func (s *Store) Get(ctx context.Context, tenantID, attendanceID string) (*domain.AttendanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.attendance[attendanceID]
	if !ok || rec.TenantID != tenantID {
		return nil, nil
	}
	return &rec, nil
}

// Close implements domain.AttendanceRepository.
func (s *Store) Close(ctx context.Context, tenantID, attendanceID string, at time.Time) (*domain.AttendanceRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.attendance[attendanceID]
	if !ok || rec.TenantID != tenantID {
		return nil, nil
	}
	rec.State = domain.ClosedAt(at)
	s.attendance[attendanceID] = rec
	return &rec, nil
}

// CloseStale implements domain.AttendanceRepository.
func (s *Store) CloseStale(ctx context.Context, tenantID, memberID string, before time.Time) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var closed []string
	for id, rec := range s.attendance {
		if rec.TenantID != tenantID || rec.MemberID != memberID || !rec.State.IsOpen() {
			continue
		}
		if rec.CheckInAt.Before(before) {
			rec.State = domain.ClosedAt(rec.CheckInAt)
			s.attendance[id] = rec
			closed = append(closed, id)
		}
	}
	sort.Strings(closed)
	return closed, nil
}

// LatestOpen implements domain.AttendanceRepository.
func (s *Store) LatestOpen(ctx context.Context, tenantID, memberID string, since time.Time) (*domain.AttendanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var latest *domain.AttendanceRecord
	for _, rec := range s.attendance {
		if rec.TenantID != tenantID || rec.MemberID != memberID || !rec.State.IsOpen() {
			continue
		}
		if rec.CheckInAt.Before(since) {
			continue
		}
		if latest == nil || newerThan(rec, *latest) {
			candidate := rec
			latest = &candidate
		}
	}
	return latest, nil
}

// List implements domain.AttendanceRepository.
func (s *Store) List(ctx context.Context, q domain.HistoryQuery) ([]domain.AttendanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	results := make([]domain.AttendanceRecord, 0)
	for _, rec := range s.attendance {
		if rec.TenantID != q.TenantID {
			continue
		}
		if q.MemberID != "" && rec.MemberID != q.MemberID {
			continue
		}
		if !q.From.IsZero() && rec.CheckInAt.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && !rec.CheckInAt.Before(q.To) {
			continue
		}
		if q.Cursor != nil && !newerThan(domain.AttendanceRecord{ID: q.Cursor.ID, CheckInAt: q.Cursor.CheckInAt}, rec) {
			continue
		}
		results = append(results, rec)
	}

	sort.Slice(results, func(i, j int) bool { return newerThan(results[i], results[j]) })
	if q.Limit > 0 && len(results) > q.Limit {
		results = results[:q.Limit]
	}
	return results, nil
}

// CheckInTimes implements domain.AttendanceRepository.
func (s *Store) CheckInTimes(ctx context.Context, q domain.CheckInQuery) ([]time.Time, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]time.Time, 0)
	for _, rec := range s.attendance {
		if rec.TenantID != q.TenantID {
			continue
		}
		if q.TrainerID != "" && s.members[rec.MemberID].TrainerID != q.TrainerID {
			continue
		}
		if rec.CheckInAt.Before(q.From) || !rec.CheckInAt.Before(q.To) {
			continue
		}
		out = append(out, rec.CheckInAt)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out, nil
}

// GetMember implements domain.MemberReader.
func (s *Store) GetMember(ctx context.Context, tenantID, memberID string) (*domain.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	member, ok := s.members[memberID]
	if !ok || member.TenantID != tenantID {
		return nil, nil
	}
	return &member, nil
}

// ListMembers implements domain.MemberReader.
func (s *Store) ListMembers(ctx context.Context, q domain.MemberQuery) ([]domain.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Member, 0)
	for _, member := range s.members {
		if member.TenantID != q.TenantID {
			continue
		}
		if q.TrainerID != "" && member.TrainerID != q.TrainerID {
			continue
		}
		if !q.StartedFrom.IsZero() && member.StartDate.Before(q.StartedFrom) {
			continue
		}
		out = append(out, member)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// MembersByID implements domain.MemberReader.
func (s *Store) MembersByID(ctx context.Context, tenantID string, ids []string) ([]domain.Member, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Member, 0, len(ids))
	for _, id := range ids {
		if member, ok := s.members[id]; ok && member.TenantID == tenantID {
			out = append(out, member)
		}
	}
	return out, nil
}

// ListPayments implements domain.PaymentReader.
func (s *Store) ListPayments(ctx context.Context, q domain.PaymentQuery) ([]domain.Payment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.filterPayments(q), nil
}

// SumPayments implements domain.PaymentReader.
func (s *Store) SumPayments(ctx context.Context, q domain.PaymentQuery) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	total := decimal.Zero
	for _, p := range s.filterPayments(q) {
		total = total.Add(p.Amount)
	}
	return total, nil
}

func (s *Store) filterPayments(q domain.PaymentQuery) []domain.Payment {
	out := make([]domain.Payment, 0)
	for _, p := range s.payments {
		if p.TenantID != q.TenantID {
			continue
		}
		if q.TrainerID != "" && s.members[p.MemberID].TrainerID != q.TrainerID {
			continue
		}
		if !q.From.IsZero() && p.Date.Before(q.From) {
			continue
		}
		if !q.To.IsZero() && !p.Date.Before(q.To) {
			continue
		}
		out = append(out, p)
	}
	return out
}

// TrainerNames implements domain.TrainerReader.
func (s *Store) TrainerNames(ctx context.Context, tenantID string, ids []string) (map[string]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make(map[string]string, len(ids))
	for _, id := range ids {
		if trainer, ok := s.trainers[id]; ok && trainer.TenantID == tenantID {
			names[id] = trainer.Name
		}
	}
	return names, nil
}

// newerThan orders records by check-in time then id, descending.
func newerThan(a, b domain.AttendanceRecord) bool {
	if a.CheckInAt.Equal(b.CheckInAt) {
		return a.ID > b.ID
	}
	return a.CheckInAt.After(b.CheckInAt)
}
