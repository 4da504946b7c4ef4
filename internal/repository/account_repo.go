package repository

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/typeflow/backend/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

const accountColumns = `id, email, password_hash, external_subject_id, plan_type,
	monthly_credits, monthly_credits_used, bonus_credits, has_received_initial_credits,
	is_vip, is_admin, admin_notes, processor_customer_id, processor_subscription_id,
	archived_at, created_at, last_active_at`

type AccountRepo struct {
	pool *pgxpool.Pool
}

func NewAccountRepo(pool *pgxpool.Pool) *AccountRepo {
	return &AccountRepo{pool: pool}
}

func scanAccount(row pgx.Row) (*models.Account, error) {
	var a models.Account
	err := row.Scan(&a.ID, &a.Email, &a.PasswordHash, &a.ExternalSubjectID, &a.PlanType,
		&a.MonthlyCredits, &a.MonthlyCreditsUsed, &a.BonusCredits, &a.HasReceivedInitialCredits,
		&a.IsVip, &a.IsAdmin, &a.AdminNotes, &a.ProcessorCustomerID, &a.ProcessorSubscriptionID,
		&a.ArchivedAt, &a.CreatedAt, &a.LastActiveAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &a, nil
}

func (r *AccountRepo) Create(ctx context.Context, a *models.Account) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO accounts (id, email, password_hash, external_subject_id, plan_type,
			monthly_credits, monthly_credits_used, bonus_credits, has_received_initial_credits)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, last_active_at
	`, a.ID, a.Email, a.PasswordHash, a.ExternalSubjectID, a.PlanType,
		a.MonthlyCredits, a.MonthlyCreditsUsed, a.BonusCredits, a.HasReceivedInitialCredits).
		Scan(&a.CreatedAt, &a.LastActiveAt)
}

// CreateTx inserts an account inside the caller's transaction.
func (r *AccountRepo) CreateTx(ctx context.Context, tx pgx.Tx, a *models.Account) error {
	return tx.QueryRow(ctx, `
		INSERT INTO accounts (id, email, password_hash, external_subject_id, plan_type,
			monthly_credits, monthly_credits_used, bonus_credits, has_received_initial_credits)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING created_at, last_active_at
	`, a.ID, a.Email, a.PasswordHash, a.ExternalSubjectID, a.PlanType,
		a.MonthlyCredits, a.MonthlyCreditsUsed, a.BonusCredits, a.HasReceivedInitialCredits).
		Scan(&a.CreatedAt, &a.LastActiveAt)
}

func (r *AccountRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error) {
	return scanAccount(r.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1`, id))
}

// GetByEmail matches archived accounts too; callers decide what an archived
// match means (login rejects, signup restores).
func (r *AccountRepo) GetByEmail(ctx context.Context, email string) (*models.Account, error) {
	return scanAccount(r.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE email = $1`, email))
}

func (r *AccountRepo) GetByExternalSubjectID(ctx context.Context, subject string) (*models.Account, error) {
	return scanAccount(r.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE external_subject_id = $1`, subject))
}

func (r *AccountRepo) GetByProcessorCustomerID(ctx context.Context, customerID string) (*models.Account, error) {
	return scanAccount(r.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE processor_customer_id = $1`, customerID))
}

// GetByIDForUpdate locks the account row for update. Call within a transaction.
func (r *AccountRepo) GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Account, error) {
	return scanAccount(tx.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE id = $1 FOR UPDATE`, id))
}

// ApplyDebit applies a pre-computed monthly/bonus split in one guarded UPDATE.
// The WHERE clause re-checks availability so the statement can never overdraw
// even if the caller's arithmetic is stale. Zero rows means insufficient funds.
func (r *AccountRepo) ApplyDebit(ctx context.Context, tx pgx.Tx, id uuid.UUID, monthlyUsedDelta, bonusDelta, amount int) (*models.Account, error) {
	a, err := scanAccount(tx.QueryRow(ctx, `
		UPDATE accounts
		SET monthly_credits_used = monthly_credits_used + $2,
			bonus_credits = bonus_credits - $3,
			last_active_at = now()
		WHERE id = $1
			AND GREATEST(monthly_credits - monthly_credits_used, 0) + bonus_credits >= $4
		RETURNING `+accountColumns, id, monthlyUsedDelta, bonusDelta, amount))
	if errors.Is(err, ErrNotFound) {
		return nil, pgx.ErrNoRows
	}
	return a, err
}

// AddBonusCredits adds amount to the bonus pool and returns the new pool size.
func (r *AccountRepo) AddBonusCredits(ctx context.Context, id uuid.UUID, amount int) (newBonus int, err error) {
	err = r.pool.QueryRow(ctx, `
		UPDATE accounts SET bonus_credits = bonus_credits + $2 WHERE id = $1
		RETURNING bonus_credits
	`, id, amount).Scan(&newBonus)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	return newBonus, err
}

// AddBonusCreditsTx is AddBonusCredits inside the caller's transaction.
func (r *AccountRepo) AddBonusCreditsTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int) (newBonus int, err error) {
	err = tx.QueryRow(ctx, `
		UPDATE accounts SET bonus_credits = bonus_credits + $2 WHERE id = $1
		RETURNING bonus_credits
	`, id, amount).Scan(&newBonus)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	return newBonus, err
}

// AddMonthlyCredits raises the monthly ceiling (admin/compensation grants).
func (r *AccountRepo) AddMonthlyCredits(ctx context.Context, id uuid.UUID, amount int) (newCeiling int, err error) {
	err = r.pool.QueryRow(ctx, `
		UPDATE accounts SET monthly_credits = monthly_credits + $2 WHERE id = $1
		RETURNING monthly_credits
	`, id, amount).Scan(&newCeiling)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, ErrNotFound
	}
	return newCeiling, err
}

// SetPlan switches plan type and rewrites the monthly pool in one statement.
func (r *AccountRepo) SetPlan(ctx context.Context, id uuid.UUID, plan string, monthlyCredits, monthlyCreditsUsed int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE accounts SET plan_type = $2, monthly_credits = $3, monthly_credits_used = $4
		WHERE id = $1
	`, id, plan, monthlyCredits, monthlyCreditsUsed)
	return err
}

// SetPlanTx is SetPlan inside the caller's transaction.
func (r *AccountRepo) SetPlanTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, plan string, monthlyCredits, monthlyCreditsUsed int) error {
	_, err := tx.Exec(ctx, `
		UPDATE accounts SET plan_type = $2, monthly_credits = $3, monthly_credits_used = $4
		WHERE id = $1
	`, id, plan, monthlyCredits, monthlyCreditsUsed)
	return err
}

func (r *AccountRepo) SetProcessorCustomerID(ctx context.Context, id uuid.UUID, customerID string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE accounts SET processor_customer_id = $2 WHERE id = $1`, id, customerID)
	return err
}

func (r *AccountRepo) SetProcessorSubscriptionID(ctx context.Context, id uuid.UUID, subscriptionID *string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE accounts SET processor_subscription_id = $2 WHERE id = $1`, id, subscriptionID)
	return err
}

// LinkExternalSubjectTx binds an external-IdP subject to an existing account.
func (r *AccountRepo) LinkExternalSubjectTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, subject string) error {
	_, err := tx.Exec(ctx,
		`UPDATE accounts SET external_subject_id = $2 WHERE id = $1`, id, subject)
	return err
}

// Archive soft-deletes: stamps archived_at and clears the credential secret so
// the account cannot be logged into while archived.
func (r *AccountRepo) Archive(ctx context.Context, id uuid.UUID, at time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE accounts SET archived_at = $2, password_hash = NULL
		WHERE id = $1 AND archived_at IS NULL
	`, id, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RestoreTx clears archived_at and re-sets the credential inside the caller's
// transaction. passwordHash may be nil for external-identity restores.
func (r *AccountRepo) RestoreTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, passwordHash *string) error {
	_, err := tx.Exec(ctx, `
		UPDATE accounts SET archived_at = NULL, password_hash = COALESCE($2, password_hash), last_active_at = now()
		WHERE id = $1
	`, id, passwordHash)
	return err
}

func (r *AccountRepo) SetVip(ctx context.Context, id uuid.UUID, vip bool, notes *string) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE accounts SET is_vip = $2, admin_notes = COALESCE($3, admin_notes) WHERE id = $1`,
		id, vip, notes)
	return err
}

func (r *AccountRepo) TouchLastActive(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `UPDATE accounts SET last_active_at = now() WHERE id = $1`, id)
	return err
}

// ListArchivedBefore returns accounts whose restore window closed before cutoff.
func (r *AccountRepo) ListArchivedBefore(ctx context.Context, cutoff time.Time) ([]*models.Account, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE archived_at IS NOT NULL AND archived_at < $1`, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, a)
	}
	return list, rows.Err()
}

// DeleteTx hard-deletes the account row inside the caller's transaction.
// Dependent rows are removed first by the purge sweep.
func (r *AccountRepo) DeleteTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	_, err := tx.Exec(ctx, `DELETE FROM accounts WHERE id = $1`, id)
	return err
}
