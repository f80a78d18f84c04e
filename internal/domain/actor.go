package domain

import "strings"

// ActorType identifies who is calling: a member using the self-service portal, gym staff, or a trainer.
type ActorType string

const (
	ActorMember  ActorType = "member"
	ActorStaff   ActorType = "staff"
	ActorTrainer ActorType = "trainer"
)

// Actor is the resolved caller. Tenant and identity resolution happen outside this package.
type Actor struct {
	ID        string
	TenantID  string
	Type      ActorType
	MemberID  string
	TrainerID string
}

// Validate ensures the actor carries a tenant binding and the identity its type requires.
func (a Actor) Validate() error {
	if strings.TrimSpace(a.TenantID) == "" {
		return ErrUnauthorized
	}
	switch a.Type {
	case ActorMember:
		if strings.TrimSpace(a.MemberID) == "" {
			return ErrUnauthorized
		}
	case ActorTrainer:
		if strings.TrimSpace(a.TrainerID) == "" {
			return ErrUnauthorized
		}
	case ActorStaff:
	default:
		return ErrUnauthorized
	}
	return nil
}

// resolveMember returns the member a request targets. Members always act on themselves;
// staff and trainers name the member explicitly.
func (a Actor) resolveMember(memberID string) (string, error) {
	memberID = strings.TrimSpace(memberID)
	if a.Type == ActorMember {
		if memberID != "" && memberID != a.MemberID {
			return "", ErrNotFound
		}
		return a.MemberID, nil
	}
	if memberID == "" {
		return "", newValidationError("member_id", "is required")
	}
	return memberID, nil
}

// canSee reports whether a record of the actor's tenant is also within its personal scope.
func (a Actor) canSee(record AttendanceRecord) bool {
	if record.TenantID != a.TenantID {
		return false
	}
	if a.Type == ActorMember {
		return record.MemberID == a.MemberID
	}
	return true
}
