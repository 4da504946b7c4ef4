package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/typeflow/backend/internal/models"
)

// AdjustmentRepo persists the append-only credit-adjustment audit trail.
type AdjustmentRepo struct {
	pool *pgxpool.Pool
}

func NewAdjustmentRepo(pool *pgxpool.Pool) *AdjustmentRepo {
	return &AdjustmentRepo{pool: pool}
}

func (r *AdjustmentRepo) Create(ctx context.Context, a *models.CreditAdjustment) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO credit_adjustments (id, account_id, delta, kind, source, reason, actor)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, a.ID, a.AccountID, a.Delta, a.Kind, a.Source, a.Reason, a.Actor).Scan(&a.CreatedAt)
}

// CreateTx inserts an adjustment inside the caller's transaction.
func (r *AdjustmentRepo) CreateTx(ctx context.Context, tx pgx.Tx, a *models.CreditAdjustment) error {
	return tx.QueryRow(ctx, `
		INSERT INTO credit_adjustments (id, account_id, delta, kind, source, reason, actor)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, a.ID, a.AccountID, a.Delta, a.Kind, a.Source, a.Reason, a.Actor).Scan(&a.CreatedAt)
}

func (r *AdjustmentRepo) ListByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.CreditAdjustment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, account_id, delta, kind, source, reason, actor, created_at
		FROM credit_adjustments WHERE account_id = $1 ORDER BY created_at DESC
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.CreditAdjustment
	for rows.Next() {
		var a models.CreditAdjustment
		if err := rows.Scan(&a.ID, &a.AccountID, &a.Delta, &a.Kind, &a.Source, &a.Reason, &a.Actor, &a.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &a)
	}
	return list, rows.Err()
}

// DeleteByAccountTx removes an account's adjustments (purge sweep).
func (r *AdjustmentRepo) DeleteByAccountTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) error {
	_, err := tx.Exec(ctx, `DELETE FROM credit_adjustments WHERE account_id = $1`, accountID)
	return err
}
