package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// MemberStatus is the membership lifecycle status maintained by the member records service.
type MemberStatus string

const (
	MemberStatusActive   MemberStatus = "active"
	MemberStatusExpiring MemberStatus = "expiring"
	MemberStatusExpired  MemberStatus = "expired"
	MemberStatusInactive MemberStatus = "inactive"
)

// Plan types sold by gyms.
const (
	PlanMonthly = "monthly"
	PlanCoin    = "coin"
	PlanBundle  = "bundle"
)

// UnassignedTrainerID is the roll-up key for members without a trainer.
const UnassignedTrainerID = ""

// Member is a point-in-time snapshot of a gym member. TrainerID holds the current assignment.
type Member struct {
	ID        string
	TenantID  string
	TrainerID string
	Name      string
	Status    MemberStatus
	ExpiresAt *time.Time
	PlanType  string
	StartDate time.Time
}

// Payment is a point-in-time snapshot of a recorded member payment.
type Payment struct {
	ID       string
	TenantID string
	MemberID string
	Amount   decimal.Decimal
	Date     time.Time
	Category string
}

// Trainer is the display information needed to label roll-up rows.
type Trainer struct {
	ID       string
	TenantID string
	Name     string
}

// MemberQuery filters member snapshots. Zero values leave a filter unset.
type MemberQuery struct {
	TenantID    string
	TrainerID   string
	StartedFrom time.Time
}

// PaymentQuery filters payments on [From, To). TrainerID narrows to members currently assigned to it.
type PaymentQuery struct {
	TenantID  string
	TrainerID string
	From      time.Time
	To        time.Time
}

// MemberReader is read access to member master data owned by another service.
type MemberReader interface {
	GetMember(ctx context.Context, tenantID, memberID string) (*Member, error)
	ListMembers(ctx context.Context, q MemberQuery) ([]Member, error)
	MembersByID(ctx context.Context, tenantID string, ids []string) ([]Member, error)
}

// PaymentReader is read access to recorded payments.
type PaymentReader interface {
	ListPayments(ctx context.Context, q PaymentQuery) ([]Payment, error)
	SumPayments(ctx context.Context, q PaymentQuery) (decimal.Decimal, error)
}

// TrainerReader resolves trainer ids to display names. Unknown ids are absent from the result.
type TrainerReader interface {
	TrainerNames(ctx context.Context, tenantID string, ids []string) (map[string]string, error)
}
