package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/typeflow/backend/internal/models"
)

// UsageRepo persists per-request usage logs, both account- and device-scoped.
type UsageRepo struct {
	pool *pgxpool.Pool
}

func NewUsageRepo(pool *pgxpool.Pool) *UsageRepo {
	return &UsageRepo{pool: pool}
}

func (r *UsageRepo) Create(ctx context.Context, u *models.UsageLog) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO usage_logs (id, account_id, request_type, had_image, credits_charged, tokens_input, tokens_output, cost_usd)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, u.ID, u.AccountID, u.RequestType, u.HadImage, u.CreditsCharged, u.TokensInput, u.TokensOutput, u.CostUSD).
		Scan(&u.CreatedAt)
}

// CreateTx inserts a usage log inside the caller's transaction so the log and
// the debit it records commit together.
func (r *UsageRepo) CreateTx(ctx context.Context, tx pgx.Tx, u *models.UsageLog) error {
	return tx.QueryRow(ctx, `
		INSERT INTO usage_logs (id, account_id, request_type, had_image, credits_charged, tokens_input, tokens_output, cost_usd)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, u.ID, u.AccountID, u.RequestType, u.HadImage, u.CreditsCharged, u.TokensInput, u.TokensOutput, u.CostUSD).
		Scan(&u.CreatedAt)
}

func (r *UsageRepo) CreateGuest(ctx context.Context, g *models.GuestUsageLog) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO guest_usage_logs (id, device_id, request_type, had_image, credits_charged, tokens_input, tokens_output, cost_usd)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at
	`, g.ID, g.DeviceID, g.RequestType, g.HadImage, g.CreditsCharged, g.TokensInput, g.TokensOutput, g.CostUSD).
		Scan(&g.CreatedAt)
}

// StampConverted back-references a device's guest logs to the account the
// device converted into. Only unstamped rows are touched.
func (r *UsageRepo) StampConverted(ctx context.Context, deviceID string, accountID uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE guest_usage_logs SET converted_account_id = $2
		WHERE device_id = $1 AND converted_account_id IS NULL
	`, deviceID, accountID)
	return err
}

func (r *UsageRepo) ListByAccountID(ctx context.Context, accountID uuid.UUID, limit int) ([]*models.UsageLog, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, request_type, had_image, credits_charged, tokens_input, tokens_output, cost_usd, created_at
		FROM usage_logs WHERE account_id = $1 ORDER BY created_at DESC LIMIT $2
	`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.UsageLog
	for rows.Next() {
		var u models.UsageLog
		if err := rows.Scan(&u.ID, &u.AccountID, &u.RequestType, &u.HadImage, &u.CreditsCharged, &u.TokensInput, &u.TokensOutput, &u.CostUSD, &u.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &u)
	}
	return list, rows.Err()
}

// DeleteByAccountTx removes an account's usage logs (purge sweep).
func (r *UsageRepo) DeleteByAccountTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) error {
	_, err := tx.Exec(ctx, `DELETE FROM usage_logs WHERE account_id = $1`, accountID)
	return err
}
