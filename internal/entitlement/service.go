package entitlement

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/typeflow/backend/internal/models"
	"github.com/typeflow/backend/internal/repository"
)

// AccountStore is the account repository surface entitlement sync needs.
type AccountStore interface {
	GetByEmail(ctx context.Context, email string) (*models.Account, error)
	GetByExternalSubjectID(ctx context.Context, subject string) (*models.Account, error)
	GetByIDForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Account, error)
	CreateTx(ctx context.Context, tx pgx.Tx, a *models.Account) error
	RestoreTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, passwordHash *string) error
	LinkExternalSubjectTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, subject string) error
	AddBonusCreditsTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, amount int) (int, error)
	SetPlanTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, plan string, monthlyCredits, monthlyCreditsUsed int) error
}

// DeviceStore is the device-ledger surface entitlement sync needs.
type DeviceStore interface {
	Get(ctx context.Context, deviceID string) (*models.DeviceLedger, error)
	SetConvertedAccountTx(ctx context.Context, tx pgx.Tx, deviceID string, accountID uuid.UUID) error
}

// PurchaseStore records subscription state synced from the device.
type PurchaseStore interface {
	GetByOriginalTransactionID(ctx context.Context, originalTransactionID string) (*models.PurchaseTransaction, error)
	CreateTx(ctx context.Context, tx pgx.Tx, p *models.PurchaseTransaction) error
}

// AdjustmentStore appends audit entries for merged credits.
type AdjustmentStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, a *models.CreditAdjustment) error
}

// GuestLogStore stamps a device's guest logs with the converted account.
type GuestLogStore interface {
	StampConverted(ctx context.Context, deviceID string, accountID uuid.UUID) error
}

// Purger hard-deletes one account whose restore window has closed.
type Purger interface {
	PurgeAccount(ctx context.Context, accountID uuid.UUID) error
}

// TxBeginner opens transactions; *pgxpool.Pool satisfies it.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// LocalSubscription is the subscription state the device believes it holds
// but the server has not yet recorded.
type LocalSubscription struct {
	OriginalTransactionID string
	RemainingCredits      int
}

// SyncRequest is one login/signup reconciliation.
type SyncRequest struct {
	Email             string
	ExternalSubjectID string  // set on the external-identity path
	PasswordHash      *string // set on the password signup path
	VerifiedEmail     string  // email from a verified IdP token supplied alongside password signup
	DeviceID          string
	LocalBonusCredits int
	LocalSub          *LocalSubscription
}

// SyncResult reports what the reconciliation did.
type SyncResult struct {
	Account       *models.Account
	Created       bool
	Restored      bool
	MergedCredits int
}

// Service reconciles locally-cached purchase state and guest-accumulated data
// into an account once per login/signup, inside a single transaction so a
// mid-sequence failure cannot leave the account half-migrated. Guest-log
// stamping is best-effort after commit.
type Service struct {
	db          TxBeginner
	accounts    AccountStore
	devices     DeviceStore
	purchases   PurchaseStore
	adjustments AdjustmentStore
	guestLogs   GuestLogStore
	purger      Purger
	now         func() time.Time
	log         *slog.Logger
}

func NewService(db TxBeginner, accounts AccountStore, devices DeviceStore, purchases PurchaseStore,
	adjustments AdjustmentStore, guestLogs GuestLogStore, purger Purger, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		db:          db,
		accounts:    accounts,
		devices:     devices,
		purchases:   purchases,
		adjustments: adjustments,
		guestLogs:   guestLogs,
		purger:      purger,
		now:         time.Now,
		log:         log,
	}
}

// freeGrantEligiblePassword is the signup-bonus policy for the email/password
// path: the signup email must match the email of a verified external-identity
// token, and the device must not have collected the grant already. The
// external-identity path grants unconditionally on first creation; the
// asymmetry is deliberate (anti multi-account farming on the password path).
func freeGrantEligiblePassword(email, verifiedEmail string, deviceGranted bool) bool {
	return verifiedEmail != "" && strings.EqualFold(email, verifiedEmail) && !deviceGranted
}

// duplicateFreeGrant detects a device-local free grant that the server has
// already issued elsewhere: the merge amount equals exactly the grant size and
// both the account and the device carry the one-shot flag. Anything else
// merges in full.
func duplicateFreeGrant(amount int, acc *models.Account, dev *models.DeviceLedger) bool {
	return amount == models.FreeInitialCredits &&
		acc.HasReceivedInitialCredits &&
		dev != nil && dev.HasReceivedInitialCredits
}

// Sync runs the login/signup reconciliation and returns the (possibly created
// or restored) account.
func (s *Service) Sync(ctx context.Context, req SyncRequest) (*SyncResult, error) {
	acc, err := s.resolve(ctx, req)
	if err != nil {
		return nil, err
	}

	// An archived match past its restore window must not be revived, even if
	// the sweep has not caught up: purge it and sign the identity up fresh.
	if acc != nil && acc.Archived() && !acc.RestorableAt(s.now()) {
		if err := s.purger.PurgeAccount(ctx, acc.ID); err != nil {
			return nil, err
		}
		acc = nil
	}

	var dev *models.DeviceLedger
	if req.DeviceID != "" {
		dev, err = s.devices.Get(ctx, req.DeviceID)
		if err != nil && !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}

	tx, err := s.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	res := &SyncResult{}
	switch {
	case acc == nil:
		acc, err = s.createAccount(ctx, tx, req, dev)
		if err != nil {
			return nil, err
		}
		res.Created = true
	case acc.Archived():
		if err := s.restoreAccount(ctx, tx, acc, req); err != nil {
			return nil, err
		}
		res.Restored = true
	default:
		// Re-read under lock so the merge below works on current balances.
		acc, err = s.accounts.GetByIDForUpdate(ctx, tx, acc.ID)
		if err != nil {
			return nil, err
		}
		if req.ExternalSubjectID != "" && acc.ExternalSubjectID == nil {
			if err := s.accounts.LinkExternalSubjectTx(ctx, tx, acc.ID, req.ExternalSubjectID); err != nil {
				return nil, err
			}
			sub := req.ExternalSubjectID
			acc.ExternalSubjectID = &sub
		}
	}

	merged, err := s.mergeLocalCredits(ctx, tx, acc, dev, req.LocalBonusCredits)
	if err != nil {
		return nil, err
	}
	res.MergedCredits = merged

	if req.LocalSub != nil {
		if err := s.syncLocalSubscription(ctx, tx, acc, req.LocalSub); err != nil {
			return nil, err
		}
	}

	if req.DeviceID != "" {
		if err := s.devices.SetConvertedAccountTx(ctx, tx, req.DeviceID, acc.ID); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	// Retroactive guest-log stamping is secondary bookkeeping.
	if req.DeviceID != "" {
		if err := s.guestLogs.StampConverted(ctx, req.DeviceID, acc.ID); err != nil {
			s.log.Error("guest log stamping failed", "device_id", req.DeviceID, "account_id", acc.ID, "error", err)
		}
	}

	res.Account = acc
	return res, nil
}

// resolve locates an existing account by external subject first, then email.
// Archived accounts match too.
func (s *Service) resolve(ctx context.Context, req SyncRequest) (*models.Account, error) {
	if req.ExternalSubjectID != "" {
		acc, err := s.accounts.GetByExternalSubjectID(ctx, req.ExternalSubjectID)
		if err == nil {
			return acc, nil
		}
		if !errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}
	}
	acc, err := s.accounts.GetByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return acc, nil
}

func (s *Service) createAccount(ctx context.Context, tx pgx.Tx, req SyncRequest, dev *models.DeviceLedger) (*models.Account, error) {
	deviceGranted := dev != nil && dev.HasReceivedInitialCredits

	granted := false
	if req.ExternalSubjectID != "" {
		granted = true
	} else {
		granted = freeGrantEligiblePassword(req.Email, req.VerifiedEmail, deviceGranted)
	}

	acc := &models.Account{
		ID:           uuid.New(),
		Email:        req.Email,
		PasswordHash: req.PasswordHash,
		PlanType:     models.PlanFree,
	}
	if req.ExternalSubjectID != "" {
		sub := req.ExternalSubjectID
		acc.ExternalSubjectID = &sub
	}
	if granted {
		acc.MonthlyCredits = models.FreeMonthlyCredits
		acc.HasReceivedInitialCredits = true
	}
	if err := s.accounts.CreateTx(ctx, tx, acc); err != nil {
		return nil, err
	}
	return acc, nil
}

func (s *Service) restoreAccount(ctx context.Context, tx pgx.Tx, acc *models.Account, req SyncRequest) error {
	// Lock before mutating; the pool-read copy may be stale.
	locked, err := s.accounts.GetByIDForUpdate(ctx, tx, acc.ID)
	if err != nil {
		return err
	}
	*acc = *locked
	if err := s.accounts.RestoreTx(ctx, tx, acc.ID, req.PasswordHash); err != nil {
		return err
	}
	acc.ArchivedAt = nil
	if req.PasswordHash != nil {
		acc.PasswordHash = req.PasswordHash
	}
	if req.ExternalSubjectID != "" && acc.ExternalSubjectID == nil {
		if err := s.accounts.LinkExternalSubjectTx(ctx, tx, acc.ID, req.ExternalSubjectID); err != nil {
			return err
		}
		sub := req.ExternalSubjectID
		acc.ExternalSubjectID = &sub
	}
	return nil
}

// mergeLocalCredits folds device-accumulated consumable-purchase credits into
// the bonus pool, filtering out a duplicated free grant.
func (s *Service) mergeLocalCredits(ctx context.Context, tx pgx.Tx, acc *models.Account, dev *models.DeviceLedger, amount int) (int, error) {
	if amount <= 0 {
		return 0, nil
	}
	if duplicateFreeGrant(amount, acc, dev) {
		s.log.Info("skipping duplicate free-grant merge", "account_id", acc.ID, "amount", amount)
		return 0, nil
	}
	newBonus, err := s.accounts.AddBonusCreditsTx(ctx, tx, acc.ID, amount)
	if err != nil {
		return 0, err
	}
	acc.BonusCredits = newBonus
	if err := s.adjustments.CreateTx(ctx, tx, &models.CreditAdjustment{
		ID:        uuid.New(),
		AccountID: acc.ID,
		Delta:     amount,
		Kind:      models.AdjustmentBonus,
		Source:    models.SourceMerge,
		Reason:    "merged device-local credits at login",
		Actor:     models.SystemActor,
	}); err != nil {
		return 0, err
	}
	return amount, nil
}

// syncLocalSubscription records a subscription the device holds locally but
// the server has never seen, and aligns the account's monthly pool with the
// balance the user believed they had left in the cycle. An already-recorded
// subscription group is left alone.
func (s *Service) syncLocalSubscription(ctx context.Context, tx pgx.Tx, acc *models.Account, sub *LocalSubscription) error {
	if sub.OriginalTransactionID == "" {
		return nil
	}
	_, err := s.purchases.GetByOriginalTransactionID(ctx, sub.OriginalTransactionID)
	if err == nil {
		return nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return err
	}

	remaining := sub.RemainingCredits
	if remaining < 0 {
		remaining = 0
	}
	if remaining > models.ProMonthlyCredits {
		remaining = models.ProMonthlyCredits
	}
	used := models.ProMonthlyCredits - remaining

	if err := s.accounts.SetPlanTx(ctx, tx, acc.ID, models.PlanPro, models.ProMonthlyCredits, used); err != nil {
		return err
	}
	acc.PlanType = models.PlanPro
	acc.MonthlyCredits = models.ProMonthlyCredits
	acc.MonthlyCreditsUsed = used

	return s.purchases.CreateTx(ctx, tx, &models.PurchaseTransaction{
		ID:                    uuid.New(),
		AccountID:             acc.ID,
		TransactionID:         sub.OriginalTransactionID,
		OriginalTransactionID: sub.OriginalTransactionID,
		ProductID:             models.ProductProMonthly,
		CreditsAdded:          models.ProMonthlyCredits,
		IsSubscription:        true,
	})
}
