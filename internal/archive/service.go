package archive

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/typeflow/backend/internal/models"
)

// AccountStore is the account repository surface the archive manager needs.
type AccountStore interface {
	Archive(ctx context.Context, id uuid.UUID, at time.Time) error
	ListArchivedBefore(ctx context.Context, cutoff time.Time) ([]*models.Account, error)
	DeleteTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error
}

// DependentStore deletes one kind of account-scoped dependent rows.
type DependentStore interface {
	DeleteByAccountTx(ctx context.Context, tx pgx.Tx, accountID uuid.UUID) error
}

// TxBeginner opens transactions; *pgxpool.Pool satisfies it.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Service implements soft-delete with a timed restore window and the
// scheduled hard-purge. Restore itself happens through entitlement sync when
// the same identity signs up again within the window.
type Service struct {
	db         TxBeginner
	accounts   AccountStore
	dependents []DependentStore
	now        func() time.Time
	log        *slog.Logger
}

// NewService wires the archive manager. dependents are the stores holding
// account-scoped rows that must go when the account is purged (purchase
// transactions, usage logs, credit adjustments). Device-ledger rows stay:
// they are device-scoped and kept for anti-fraud.
func NewService(db TxBeginner, accounts AccountStore, dependents []DependentStore, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{db: db, accounts: accounts, dependents: dependents, now: time.Now, log: log}
}

// Archive soft-deletes the account: stamps archived_at and clears the
// credential secret. Balance, plan, and audit history are preserved for the
// full restore window.
func (s *Service) Archive(ctx context.Context, accountID uuid.UUID) error {
	return s.accounts.Archive(ctx, accountID, s.now())
}

// PurgeAccount hard-deletes one account and its dependent rows in a single
// transaction. Re-running against an already-purged id is a no-op.
func (s *Service) PurgeAccount(ctx context.Context, accountID uuid.UUID) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	for _, dep := range s.dependents {
		if err := dep.DeleteByAccountTx(ctx, tx, accountID); err != nil {
			return err
		}
	}
	if err := s.accounts.DeleteTx(ctx, tx, accountID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// PurgeExpired removes every account whose archive window closed before now.
// Safe to run on any cadence; each account is purged in its own transaction
// so one failure does not block the rest of the sweep.
func (s *Service) PurgeExpired(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-models.ArchiveWindowDays * 24 * time.Hour)
	expired, err := s.accounts.ListArchivedBefore(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	purged := 0
	for _, acc := range expired {
		if err := s.PurgeAccount(ctx, acc.ID); err != nil {
			s.log.Error("purge failed", "account_id", acc.ID, "error", err)
			continue
		}
		s.log.Info("purged archived account", "account_id", acc.ID, "archived_at", acc.ArchivedAt)
		purged++
	}
	return purged, nil
}
