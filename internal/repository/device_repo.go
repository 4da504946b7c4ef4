package repository

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/typeflow/backend/internal/models"
)

const deviceColumns = `device_id, total_credits_used, requests_today, last_request_date,
	has_received_initial_credits, converted_account_id, created_at, last_used_at`

type DeviceRepo struct {
	pool *pgxpool.Pool
}

func NewDeviceRepo(pool *pgxpool.Pool) *DeviceRepo {
	return &DeviceRepo{pool: pool}
}

func scanDevice(row pgx.Row) (*models.DeviceLedger, error) {
	var d models.DeviceLedger
	err := row.Scan(&d.DeviceID, &d.TotalCreditsUsed, &d.RequestsToday, &d.LastRequestDate,
		&d.HasReceivedInitialCredits, &d.ConvertedAccountID, &d.CreatedAt, &d.LastUsedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &d, nil
}

func (r *DeviceRepo) Get(ctx context.Context, deviceID string) (*models.DeviceLedger, error) {
	return scanDevice(r.pool.QueryRow(ctx,
		`SELECT `+deviceColumns+` FROM device_ledger WHERE device_id = $1`, deviceID))
}

// RecordUsage upserts the device row: creates it on first anonymous use,
// otherwise bumps the cumulative counter and the per-day counter. The per-day
// counter resets when the request date changes.
func (r *DeviceRepo) RecordUsage(ctx context.Context, deviceID string, creditsUsed int, today string) (*models.DeviceLedger, error) {
	return scanDevice(r.pool.QueryRow(ctx, `
		INSERT INTO device_ledger (device_id, total_credits_used, requests_today, last_request_date, last_used_at)
		VALUES ($1, $2, 1, $3, now())
		ON CONFLICT (device_id) DO UPDATE SET
			total_credits_used = device_ledger.total_credits_used + EXCLUDED.total_credits_used,
			requests_today = CASE
				WHEN device_ledger.last_request_date = EXCLUDED.last_request_date
				THEN device_ledger.requests_today + 1 ELSE 1 END,
			last_request_date = EXCLUDED.last_request_date,
			last_used_at = now()
		RETURNING `+deviceColumns, deviceID, creditsUsed, today))
}

// MarkInitialCredits flips the per-device free-grant flag, creating the row if
// the device has never been seen.
func (r *DeviceRepo) MarkInitialCredits(ctx context.Context, deviceID string, today string) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO device_ledger (device_id, total_credits_used, requests_today, last_request_date, has_received_initial_credits, last_used_at)
		VALUES ($1, 0, 0, $2, TRUE, now())
		ON CONFLICT (device_id) DO UPDATE SET has_received_initial_credits = TRUE
	`, deviceID, today)
	return err
}

// SetConvertedAccountTx links the device row to the account it converted into.
func (r *DeviceRepo) SetConvertedAccountTx(ctx context.Context, tx pgx.Tx, deviceID string, accountID uuid.UUID) error {
	_, err := tx.Exec(ctx,
		`UPDATE device_ledger SET converted_account_id = $2 WHERE device_id = $1`, deviceID, accountID)
	return err
}
