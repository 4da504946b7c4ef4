package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/typeflow/backend/internal/models"
)

// ErrInsufficientCredits is returned when the account balance is too low for
// the requested debit. No partial debit ever happens.
var ErrInsufficientCredits = errors.New("insufficient credits")

// AccountStore is the minimal account repository interface the ledger needs.
type AccountStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Account, error)
	ApplyDebit(ctx context.Context, tx pgx.Tx, id uuid.UUID, monthlyUsedDelta, bonusDelta, amount int) (*models.Account, error)
	AddBonusCredits(ctx context.Context, id uuid.UUID, amount int) (int, error)
	AddMonthlyCredits(ctx context.Context, id uuid.UUID, amount int) (int, error)
}

// AdjustmentStore appends audit entries for non-debit credit changes.
type AdjustmentStore interface {
	Create(ctx context.Context, a *models.CreditAdjustment) error
}

// UsageStore appends account usage logs.
type UsageStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, u *models.UsageLog) error
}

// TxBeginner opens transactions; *pgxpool.Pool satisfies it.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// UsageRecord carries the telemetry written alongside a debit.
type UsageRecord struct {
	RequestType  string
	HadImage     bool
	TokensInput  *int
	TokensOutput *int
	CostUSD      *float64
}

// Service is the credit ledger: balance computation, atomic debits drawing
// monthly-allowance-first, and audited credit grants.
type Service struct {
	db          TxBeginner
	accounts    AccountStore
	adjustments AdjustmentStore
	usage       UsageStore
	log         *slog.Logger
}

func NewService(db TxBeginner, accounts AccountStore, adjustments AdjustmentStore, usage UsageStore, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{db: db, accounts: accounts, adjustments: adjustments, usage: usage, log: log}
}

// Available returns the account's spendable balance.
func (s *Service) Available(ctx context.Context, accountID uuid.UUID) (int, error) {
	acc, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return 0, err
	}
	return acc.AvailableCredits(), nil
}

// Debit charges amount against the account inside the caller's transaction:
// the row is locked, the monthly pool is consumed before the bonus pool, and
// the guarded UPDATE re-checks availability so concurrent debits cannot
// overspend. A usage log is written in the same transaction. Returns the
// post-debit balance.
func (s *Service) Debit(ctx context.Context, tx pgx.Tx, accountID uuid.UUID, amount int, rec UsageRecord) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("debit amount must be positive, got %d", amount)
	}
	acc, err := s.accounts.GetByIDForUpdate(ctx, tx, accountID)
	if err != nil {
		return 0, err
	}
	if acc.AvailableCredits() < amount {
		return 0, ErrInsufficientCredits
	}
	fromMonthly := acc.MonthlyRemaining()
	if fromMonthly > amount {
		fromMonthly = amount
	}
	fromBonus := amount - fromMonthly
	updated, err := s.accounts.ApplyDebit(ctx, tx, accountID, fromMonthly, fromBonus, amount)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrInsufficientCredits
		}
		return 0, err
	}
	if err := s.usage.CreateTx(ctx, tx, &models.UsageLog{
		ID:             uuid.New(),
		AccountID:      accountID,
		RequestType:    rec.RequestType,
		HadImage:       rec.HadImage,
		CreditsCharged: amount,
		TokensInput:    rec.TokensInput,
		TokensOutput:   rec.TokensOutput,
		CostUSD:        rec.CostUSD,
	}); err != nil {
		return 0, err
	}
	return updated.AvailableCredits(), nil
}

// DebitUsage runs Debit in its own transaction.
func (s *Service) DebitUsage(ctx context.Context, accountID uuid.UUID, amount int, rec UsageRecord) (int, error) {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback(ctx)
	remaining, err := s.Debit(ctx, tx, accountID, amount, rec)
	if err != nil {
		return 0, err
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, err
	}
	return remaining, nil
}

// GrantBonus adds to the non-expiring bonus pool and appends an adjustment
// record. The grant is the primary transition: an adjustment-write failure is
// logged, never rolled back.
func (s *Service) GrantBonus(ctx context.Context, accountID uuid.UUID, amount int, kind, source, reason, actor string) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("grant amount must be positive, got %d", amount)
	}
	newBonus, err := s.accounts.AddBonusCredits(ctx, accountID, amount)
	if err != nil {
		return 0, err
	}
	s.recordAdjustment(ctx, accountID, amount, kind, source, reason, actor)
	return newBonus, nil
}

// GrantMonthly raises the monthly ceiling, audited the same way as GrantBonus.
func (s *Service) GrantMonthly(ctx context.Context, accountID uuid.UUID, amount int, kind, source, reason, actor string) (int, error) {
	if amount <= 0 {
		return 0, fmt.Errorf("grant amount must be positive, got %d", amount)
	}
	newCeiling, err := s.accounts.AddMonthlyCredits(ctx, accountID, amount)
	if err != nil {
		return 0, err
	}
	s.recordAdjustment(ctx, accountID, amount, kind, source, reason, actor)
	return newCeiling, nil
}

func (s *Service) recordAdjustment(ctx context.Context, accountID uuid.UUID, delta int, kind, source, reason, actor string) {
	if actor == "" {
		actor = models.SystemActor
	}
	err := s.adjustments.Create(ctx, &models.CreditAdjustment{
		ID:        uuid.New(),
		AccountID: accountID,
		Delta:     delta,
		Kind:      kind,
		Source:    source,
		Reason:    reason,
		Actor:     actor,
	})
	if err != nil {
		s.log.Error("credit adjustment write failed", "account_id", accountID, "delta", delta, "kind", kind, "error", err)
	}
}
