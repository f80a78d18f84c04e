package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"example.com/attendance/internal/domain"
)

const memberColumns = `member_id, tenant_id, trainer_id, name, status, expires_at, plan_type, start_date`

// GetMember loads a member snapshot.
func (r *Repository) GetMember(ctx context.Context, tenantID, memberID string) (*domain.Member, error) {
	var found *domain.Member
	err := r.inTenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `SELECT `+memberColumns+` FROM members WHERE tenant_id=$1 AND member_id=$2`, tenantID, memberID)
		member, err := scanMember(row)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		found = &member
		return nil
	})
	if err != nil {
		return nil, err
	}
	return found, nil
}

// ListMembers returns member snapshots matching the query.
func (r *Repository) ListMembers(ctx context.Context, q domain.MemberQuery) ([]domain.Member, error) {
	args := []any{q.TenantID}
	query := `SELECT ` + memberColumns + ` FROM members WHERE tenant_id=$1`
	if q.TrainerID != "" {
		args = append(args, q.TrainerID)
		query += fmt.Sprintf(` AND trainer_id=$%d`, len(args))
	}
	if !q.StartedFrom.IsZero() {
		args = append(args, q.StartedFrom)
		query += fmt.Sprintf(` AND start_date >= $%d`, len(args))
	}
	query += ` ORDER BY member_id`

	return r.queryMembers(ctx, q.TenantID, query, args...)
}

// MembersByID returns the members among ids that exist in the tenant.
func (r *Repository) MembersByID(ctx context.Context, tenantID string, ids []string) ([]domain.Member, error) {
	if len(ids) == 0 {
		return []domain.Member{}, nil
	}
	return r.queryMembers(ctx, tenantID,
		`SELECT `+memberColumns+` FROM members WHERE tenant_id=$1 AND member_id = ANY($2) ORDER BY member_id`,
		tenantID, ids,
	)
}

func (r *Repository) queryMembers(ctx context.Context, tenantID, query string, args ...any) ([]domain.Member, error) {
	members := make([]domain.Member, 0)
	err := r.inTenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			member, err := scanMember(rows)
			if err != nil {
				return err
			}
			members = append(members, member)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return members, nil
}

func scanMember(row pgx.Row) (domain.Member, error) {
	var (
		member    domain.Member
		trainerID *string
		status    string
	)
	if err := row.Scan(&member.ID, &member.TenantID, &trainerID, &member.Name, &status, &member.ExpiresAt, &member.PlanType, &member.StartDate); err != nil {
		return domain.Member{}, err
	}
	if trainerID != nil {
		member.TrainerID = *trainerID
	}
	member.Status = domain.MemberStatus(status)
	return member, nil
}

// paymentFilter renders the WHERE clause shared by ListPayments and SumPayments.
func paymentFilter(q domain.PaymentQuery) (string, []any) {
	args := []any{q.TenantID}
	clause := ` FROM payments p`
	if q.TrainerID != "" {
		args = append(args, q.TrainerID)
		clause += fmt.Sprintf(` JOIN members m ON m.tenant_id = p.tenant_id AND m.member_id = p.member_id AND m.trainer_id = $%d`, len(args))
	}
	clause += ` WHERE p.tenant_id=$1`
	if !q.From.IsZero() {
		args = append(args, q.From)
		clause += fmt.Sprintf(` AND p.paid_at >= $%d`, len(args))
	}
	if !q.To.IsZero() {
		args = append(args, q.To)
		clause += fmt.Sprintf(` AND p.paid_at < $%d`, len(args))
	}
	return clause, args
}

// ListPayments returns payments in [From, To) ordered by date.
func (r *Repository) ListPayments(ctx context.Context, q domain.PaymentQuery) ([]domain.Payment, error) {
	clause, args := paymentFilter(q)
	query := `SELECT p.payment_id, p.tenant_id, p.member_id, p.amount::text, p.paid_at, p.category` + clause + ` ORDER BY p.paid_at, p.payment_id`

	payments := make([]domain.Payment, 0)
	err := r.inTenantTx(ctx, q.TenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				p      domain.Payment
				amount string
			)
			if err := rows.Scan(&p.ID, &p.TenantID, &p.MemberID, &amount, &p.Date, &p.Category); err != nil {
				return err
			}
			if p.Amount, err = decimal.NewFromString(amount); err != nil {
				return fmt.Errorf("parse amount of payment %s: %w", p.ID, err)
			}
			payments = append(payments, p)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return payments, nil
}

// SumPayments totals payment amounts in [From, To) in the database.
func (r *Repository) SumPayments(ctx context.Context, q domain.PaymentQuery) (decimal.Decimal, error) {
	clause, args := paymentFilter(q)
	query := `SELECT COALESCE(SUM(p.amount), 0)::text` + clause

	total := decimal.Zero
	err := r.inTenantTx(ctx, q.TenantID, func(tx pgx.Tx) error {
		var raw string
		if err := tx.QueryRow(ctx, query, args...).Scan(&raw); err != nil {
			return err
		}
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			return fmt.Errorf("parse payment sum: %w", err)
		}
		total = parsed
		return nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return total, nil
}

// TrainerNames resolves trainer ids to display names.
func (r *Repository) TrainerNames(ctx context.Context, tenantID string, ids []string) (map[string]string, error) {
	names := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return names, nil
	}
	err := r.inTenantTx(ctx, tenantID, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, `SELECT trainer_id, name FROM trainers WHERE tenant_id=$1 AND trainer_id = ANY($2)`, tenantID, ids)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var id, name string
			if err := rows.Scan(&id, &name); err != nil {
				return err
			}
			names[id] = name
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// UpsertMember replicates a member snapshot from the member records service.
func (r *Repository) UpsertMember(ctx context.Context, m domain.Member) error {
	return r.inTenantTx(ctx, m.TenantID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO members (`+memberColumns+`) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
                ON CONFLICT (member_id) DO UPDATE SET trainer_id=EXCLUDED.trainer_id, name=EXCLUDED.name,
                    status=EXCLUDED.status, expires_at=EXCLUDED.expires_at, plan_type=EXCLUDED.plan_type, start_date=EXCLUDED.start_date`,
			m.ID, m.TenantID, nullIfEmpty(m.TrainerID), m.Name, string(m.Status), m.ExpiresAt, m.PlanType, m.StartDate,
		)
		return err
	})
}

// InsertPayment replicates a payment from the billing service. Replays are ignored.
func (r *Repository) InsertPayment(ctx context.Context, p domain.Payment) error {
	return r.inTenantTx(ctx, p.TenantID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO payments (payment_id, tenant_id, member_id, amount, paid_at, category)
                VALUES ($1,$2,$3,$4::numeric,$5,$6) ON CONFLICT (payment_id) DO NOTHING`,
			p.ID, p.TenantID, p.MemberID, p.Amount.String(), p.Date, p.Category,
		)
		return err
	})
}

// UpsertTrainer replicates a trainer's display name.
func (r *Repository) UpsertTrainer(ctx context.Context, t domain.Trainer) error {
	return r.inTenantTx(ctx, t.TenantID, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx,
			`INSERT INTO trainers (trainer_id, tenant_id, name) VALUES ($1,$2,$3)
                ON CONFLICT (trainer_id) DO UPDATE SET name=EXCLUDED.name`,
			t.ID, t.TenantID, t.Name,
		)
		return err
	})
}

func nullIfEmpty(value string) any {
	if value == "" {
		return nil
	}
	return value
}
