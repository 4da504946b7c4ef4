package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/typeflow/backend/internal/models"
	"github.com/typeflow/backend/internal/repository"
)

var (
	// ErrUnknownProduct is returned for an unrecognized product id. No state changes.
	ErrUnknownProduct = errors.New("unknown product")
	// ErrSubscriptionLinkedElsewhere is returned when a subscription group or
	// transaction is already bound to a different account. No state changes.
	ErrSubscriptionLinkedElsewhere = errors.New("subscription linked to another account")
	// ErrCustomerLinkedElsewhere is returned when a processor customer id is
	// already bound to a different account.
	ErrCustomerLinkedElsewhere = errors.New("customer linked to another account")
)

// AccountStore is the account repository surface billing needs.
type AccountStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Account, error)
	GetByProcessorCustomerID(ctx context.Context, customerID string) (*models.Account, error)
	SetPlan(ctx context.Context, id uuid.UUID, plan string, monthlyCredits, monthlyCreditsUsed int) error
	SetPlanTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, plan string, monthlyCredits, monthlyCreditsUsed int) error
	AddBonusCreditsTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int) (int, error)
	SetProcessorSubscriptionID(ctx context.Context, id uuid.UUID, subscriptionID *string) error
	SetProcessorCustomerID(ctx context.Context, id uuid.UUID, customerID string) error
}

// PurchaseStore persists and looks up purchase-transaction records.
type PurchaseStore interface {
	GetByTransactionID(ctx context.Context, transactionID string) (*models.PurchaseTransaction, error)
	GetByOriginalTransactionID(ctx context.Context, originalTransactionID string) (*models.PurchaseTransaction, error)
	CreateTx(ctx context.Context, tx pgx.Tx, p *models.PurchaseTransaction) error
}

// CreditGranter issues audited bonus grants (the credit ledger).
type CreditGranter interface {
	GrantBonus(ctx context.Context, accountID uuid.UUID, amount int, kind, source, reason, actor string) (int, error)
}

// TxBeginner opens transactions; *pgxpool.Pool satisfies it.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// ValidateResult reports the account state after a purchase validation.
type ValidateResult struct {
	Account          *models.Account
	CreditsAdded     int
	AlreadyProcessed bool
}

// Service validates store purchases idempotently and applies processor
// subscription-lifecycle notifications.
type Service struct {
	db        TxBeginner
	accounts  AccountStore
	purchases PurchaseStore
	granter   CreditGranter
	log       *slog.Logger
}

func NewService(db TxBeginner, accounts AccountStore, purchases PurchaseStore, granter CreditGranter, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{db: db, accounts: accounts, purchases: purchases, granter: granter, log: log}
}

// Validate processes one store purchase. Replaying a transaction id already
// applied to this account is a no-op returning current state; a transaction
// or subscription group bound to a different account is a conflict. The grant
// and the purchase record commit in one transaction, so the unique index on
// transaction_id closes the window between the pre-check and the apply: the
// loser of a concurrent replay rolls its grant back and resolves to a replay
// or a conflict, never a double-apply.
func (s *Service) Validate(ctx context.Context, accountID uuid.UUID, productID, transactionID, originalTransactionID string) (*ValidateResult, error) {
	acc, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if originalTransactionID == "" {
		originalTransactionID = transactionID
	}

	existing, err := s.purchases.GetByTransactionID(ctx, transactionID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}
	if existing != nil {
		return s.resolveExisting(existing, acc, accountID)
	}

	creditsAdded := 0
	isSubscription := false

	switch {
	case productID == models.ProductProMonthly:
		isSubscription = true
		if acc.PlanType == models.PlanPro {
			// Renewal replaying against an account already upgraded through a
			// different transaction id.
			return &ValidateResult{Account: acc, AlreadyProcessed: true}, nil
		}
		bound, err := s.purchases.GetByOriginalTransactionID(ctx, originalTransactionID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
		if bound != nil && bound.AccountID != accountID {
			return nil, ErrSubscriptionLinkedElsewhere
		}
		creditsAdded = models.ProMonthlyCredits

	case models.ProductCredits[productID] > 0:
		creditsAdded = models.ProductCredits[productID]

	case productID == models.ProductPreRegistration:
		// Non-consumable marker purchase: no credits, record only.

	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProduct, productID)
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	switch {
	case productID == models.ProductProMonthly:
		if err := s.accounts.SetPlanTx(ctx, tx, accountID, models.PlanPro, models.ProMonthlyCredits, 0); err != nil {
			return nil, err
		}
	case models.ProductCredits[productID] > 0:
		if _, err := s.accounts.AddBonusCreditsTx(ctx, tx, accountID, creditsAdded); err != nil {
			return nil, err
		}
	}

	if err := s.purchases.CreateTx(ctx, tx, &models.PurchaseTransaction{
		ID:                    uuid.New(),
		AccountID:             accountID,
		TransactionID:         transactionID,
		OriginalTransactionID: originalTransactionID,
		ProductID:             productID,
		CreditsAdded:          creditsAdded,
		IsSubscription:        isSubscription,
	}); err != nil {
		if isUniqueViolation(err) {
			// Lost a race against another validation of the same transaction.
			// The deferred rollback undoes the grant; whoever won owns it.
			tx.Rollback(ctx)
			won, lookupErr := s.purchases.GetByTransactionID(ctx, transactionID)
			if lookupErr != nil {
				return nil, lookupErr
			}
			return s.resolveExisting(won, acc, accountID)
		}
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	updated, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return &ValidateResult{Account: updated, CreditsAdded: creditsAdded}, nil
}

// resolveExisting maps an already-recorded transaction to a replay or a
// cross-account conflict.
func (s *Service) resolveExisting(rec *models.PurchaseTransaction, acc *models.Account, accountID uuid.UUID) (*ValidateResult, error) {
	if rec.AccountID != accountID {
		return nil, ErrSubscriptionLinkedElsewhere
	}
	return &ValidateResult{Account: acc, AlreadyProcessed: true}, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// LinkProcessorCustomer binds the payment processor's customer reference to
// the account so later processor notifications can be resolved. Relinking the
// same pair is a no-op; a customer id held by another account is a conflict.
func (s *Service) LinkProcessorCustomer(ctx context.Context, accountID uuid.UUID, customerID string) error {
	if customerID == "" {
		return fmt.Errorf("customer id is required")
	}
	existing, err := s.accounts.GetByProcessorCustomerID(ctx, customerID)
	if err != nil && !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	if existing != nil {
		if existing.ID == accountID {
			return nil
		}
		return ErrCustomerLinkedElsewhere
	}
	return s.accounts.SetProcessorCustomerID(ctx, accountID, customerID)
}

// SubscriptionStarted handles a processor created/renewed notification:
// upgrade to pro, refill the monthly pool, record the subscription id.
func (s *Service) SubscriptionStarted(ctx context.Context, customerID, subscriptionID string) error {
	acc, err := s.accounts.GetByProcessorCustomerID(ctx, customerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.log.Warn("subscription event for unknown customer", "customer_id", customerID)
			return nil
		}
		return err
	}
	if err := s.accounts.SetPlan(ctx, acc.ID, models.PlanPro, models.ProMonthlyCredits, 0); err != nil {
		return err
	}
	return s.accounts.SetProcessorSubscriptionID(ctx, acc.ID, &subscriptionID)
}

// SubscriptionCanceled reverts the account to the free plan and clears the
// subscription id. Monthly usage is left as-is; the balance formula clamps
// any overshoot against the smaller ceiling.
func (s *Service) SubscriptionCanceled(ctx context.Context, customerID string) error {
	acc, err := s.accounts.GetByProcessorCustomerID(ctx, customerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.log.Warn("cancel event for unknown customer", "customer_id", customerID)
			return nil
		}
		return err
	}
	if err := s.accounts.SetPlan(ctx, acc.ID, models.PlanFree, models.FreeMonthlyCredits, acc.MonthlyCreditsUsed); err != nil {
		return err
	}
	return s.accounts.SetProcessorSubscriptionID(ctx, acc.ID, nil)
}

// PaymentSucceeded handles a one-shot payment notification carrying a credits
// amount: credit the bonus pool with an adjustment record.
func (s *Service) PaymentSucceeded(ctx context.Context, customerID string, credits int) error {
	if credits <= 0 {
		return nil
	}
	acc, err := s.accounts.GetByProcessorCustomerID(ctx, customerID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.log.Warn("payment event for unknown customer", "customer_id", customerID)
			return nil
		}
		return err
	}
	_, err = s.granter.GrantBonus(ctx, acc.ID, credits, models.AdjustmentPromo, models.SourcePurchase,
		fmt.Sprintf("purchased %d credits", credits), models.SystemActor)
	return err
}
