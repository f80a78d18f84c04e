package reporting

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"example.com/attendance/internal/domain"
	"example.com/attendance/internal/observability"
)

const (
	UnassignedTrainerName = "Unassigned"
	UnknownTrainerName    = "Unknown"
)

// TrainerRow is one trainer's share of payments. SessionCount counts payments, not visits.
type TrainerRow struct {
	TrainerID    string
	TrainerName  string
	SessionCount int
	Revenue      decimal.Decimal
}

// RollUpTrainers attributes each payment to the trainer its member is currently assigned to.
// Payments whose member is missing from members, or has no trainer, land on the unassigned row.
// Rows are sorted by revenue descending, then by name.
func RollUpTrainers(payments []domain.Payment, members []domain.Member, names map[string]string) []TrainerRow {
	trainerOf := make(map[string]string, len(members))
	for _, m := range members {
		trainerOf[m.ID] = m.TrainerID
	}

	rows := make(map[string]*TrainerRow)
	for _, p := range payments {
		key := trainerOf[p.MemberID]
		row, ok := rows[key]
		if !ok {
			row = &TrainerRow{TrainerID: key, TrainerName: trainerName(key, names), Revenue: decimal.Zero}
			rows[key] = row
		}
		row.SessionCount++
		row.Revenue = row.Revenue.Add(p.Amount)
	}

	out := make([]TrainerRow, 0, len(rows))
	for _, row := range rows {
		out = append(out, *row)
	}
	sort.Slice(out, func(i, j int) bool {
		if cmp := out[i].Revenue.Cmp(out[j].Revenue); cmp != 0 {
			return cmp > 0
		}
		if out[i].TrainerName != out[j].TrainerName {
			return out[i].TrainerName < out[j].TrainerName
		}
		return out[i].TrainerID < out[j].TrainerID
	})
	return out
}

func trainerName(id string, names map[string]string) string {
	if id == domain.UnassignedTrainerID {
		return UnassignedTrainerName
	}
	if name, ok := names[id]; ok && name != "" {
		return name
	}
	return UnknownTrainerName
}

// TrainerRollUp loads the rows RollUpTrainers folds.
type TrainerRollUp struct {
	members  domain.MemberReader
	payments domain.PaymentReader
	trainers domain.TrainerReader
}

// NewTrainerRollUp constructs a TrainerRollUp.
func NewTrainerRollUp(members domain.MemberReader, payments domain.PaymentReader, trainers domain.TrainerReader) *TrainerRollUp {
	return &TrainerRollUp{members: members, payments: payments, trainers: trainers}
}

// TrainerPerformance rolls up every payment of the tenant by the member's current trainer.
func (r *TrainerRollUp) TrainerPerformance(ctx context.Context, scope Scope) ([]TrainerRow, error) {
	if scope.TenantID == "" {
		return nil, domain.ErrUnauthorized
	}
	defer observability.ObserveReport("trainer_performance", time.Now())

	payments, err := r.payments.ListPayments(ctx, domain.PaymentQuery{TenantID: scope.TenantID, TrainerID: scope.TrainerID})
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	if len(payments) == 0 {
		return []TrainerRow{}, nil
	}

	seen := make(map[string]struct{}, len(payments))
	memberIDs := make([]string, 0, len(payments))
	for _, p := range payments {
		if _, ok := seen[p.MemberID]; ok {
			continue
		}
		seen[p.MemberID] = struct{}{}
		memberIDs = append(memberIDs, p.MemberID)
	}

	members, err := r.members.MembersByID(ctx, scope.TenantID, memberIDs)
	if err != nil {
		return nil, fmt.Errorf("load members: %w", err)
	}

	trainerSet := make(map[string]struct{})
	trainerIDs := make([]string, 0)
	for _, m := range members {
		if m.TrainerID == domain.UnassignedTrainerID {
			continue
		}
		if _, ok := trainerSet[m.TrainerID]; ok {
			continue
		}
		trainerSet[m.TrainerID] = struct{}{}
		trainerIDs = append(trainerIDs, m.TrainerID)
	}

	names := map[string]string{}
	if len(trainerIDs) > 0 {
		names, err = r.trainers.TrainerNames(ctx, scope.TenantID, trainerIDs)
		if err != nil {
			return nil, fmt.Errorf("resolve trainer names: %w", err)
		}
	}

	return RollUpTrainers(payments, members, names), nil
}
