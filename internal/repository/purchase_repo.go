package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/typeflow/backend/internal/models"
)

const purchaseColumns = `id, account_id, transaction_id, original_transaction_id,
	product_id, credits_added, is_subscription, created_at`

// PurchaseRepo persists purchase-transaction records. transaction_id carries a
// unique index; inserts racing the same transaction surface as a 23505 error.
type PurchaseRepo struct {
	pool *pgxpool.Pool
}

func NewPurchaseRepo(pool *pgxpool.Pool) *PurchaseRepo {
	return &PurchaseRepo{pool: pool}
}

func scanPurchase(row pgx.Row) (*models.PurchaseTransaction, error) {
	var p models.PurchaseTransaction
	err := row.Scan(&p.ID, &p.AccountID, &p.TransactionID, &p.OriginalTransactionID,
		&p.ProductID, &p.CreditsAdded, &p.IsSubscription, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PurchaseRepo) Create(ctx context.Context, p *models.PurchaseTransaction) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO purchase_transactions (id, account_id, transaction_id, original_transaction_id, product_id, credits_added, is_subscription)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, p.ID, p.AccountID, p.TransactionID, p.OriginalTransactionID, p.ProductID, p.CreditsAdded, p.IsSubscription).
		Scan(&p.CreatedAt)
}

// CreateTx inserts a purchase record inside the caller's transaction.
func (r *PurchaseRepo) CreateTx(ctx context.Context, tx pgx.Tx, p *models.PurchaseTransaction) error {
	return tx.QueryRow(ctx, `
		INSERT INTO purchase_transactions (id, account_id, transaction_id, original_transaction_id, product_id, credits_added, is_subscription)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, p.ID, p.AccountID, p.TransactionID, p.OriginalTransactionID, p.ProductID, p.CreditsAdded, p.IsSubscription).
		Scan(&p.CreatedAt)
}

func (r *PurchaseRepo) GetByTransactionID(ctx context.Context, transactionID string) (*models.PurchaseTransaction, error) {
	return scanPurchase(r.pool.QueryRow(ctx,
		`SELECT `+purchaseColumns+` FROM purchase_transactions WHERE transaction_id = $1`, transactionID))
}

// GetByOriginalTransactionID returns the earliest record of a subscription
// group, which is the account the subscription is bound to.
func (r *PurchaseRepo) GetByOriginalTransactionID(ctx context.Context, originalTransactionID string) (*models.PurchaseTransaction, error) {
	return scanPurchase(r.pool.QueryRow(ctx, `
		SELECT `+purchaseColumns+` FROM purchase_transactions
		WHERE original_transaction_id = $1 ORDER BY created_at ASC LIMIT 1
	`, originalTransactionID))
}

func (r *PurchaseRepo) ListByAccountID(ctx context.Context, accountID uuid.UUID) ([]*models.PurchaseTransaction, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+purchaseColumns+` FROM purchase_transactions WHERE account_id = $1 ORDER BY created_at DESC`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.PurchaseTransaction
	for rows.Next() {
		p, err := scanPurchase(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

// DeleteByAccountTx removes an account's purchase records (purge sweep).
func (r *PurchaseRepo) DeleteByAccountTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) error {
	_, err := tx.Exec(ctx, `DELETE FROM purchase_transactions WHERE account_id = $1`, accountID)
	return err
}
