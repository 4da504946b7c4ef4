package guest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/typeflow/backend/internal/models"
	"github.com/typeflow/backend/internal/repository"
)

// DeviceStore is the device-ledger repository interface the guest service needs.
type DeviceStore interface {
	Get(ctx context.Context, deviceID string) (*models.DeviceLedger, error)
	RecordUsage(ctx context.Context, deviceID string, creditsUsed int, today string) (*models.DeviceLedger, error)
	MarkInitialCredits(ctx context.Context, deviceID string, today string) error
}

// UsageStore appends guest usage logs.
type UsageStore interface {
	CreateGuest(ctx context.Context, g *models.GuestUsageLog) error
}

// Usage carries one anonymous request's telemetry.
type Usage struct {
	RequestType  string
	HadImage     bool
	Credits      int
	TokensInput  *int
	TokensOutput *int
	CostUSD      *float64
}

// Service tracks anonymous usage per device. It enforces nothing: guest-mode
// credit enforcement is the client's responsibility. The server records usage
// for analytics and remembers whether the device ever received the free
// initial grant, so that a later signup cannot collect it twice.
type Service struct {
	devices DeviceStore
	usage   UsageStore
	log     *slog.Logger
}

func NewService(devices DeviceStore, usage UsageStore, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{devices: devices, usage: usage, log: log}
}

func today() string {
	return time.Now().UTC().Format("2006-01-02")
}

// Record updates the device's cumulative and per-day counters and appends a
// guest usage log. The log write is best-effort bookkeeping: its failure is
// logged, not surfaced, because the vendor call already happened.
func (s *Service) Record(ctx context.Context, deviceID string, u Usage) (*models.DeviceLedger, error) {
	dev, err := s.devices.RecordUsage(ctx, deviceID, u.Credits, today())
	if err != nil {
		return nil, err
	}
	if err := s.usage.CreateGuest(ctx, &models.GuestUsageLog{
		ID:             uuid.New(),
		DeviceID:       deviceID,
		RequestType:    u.RequestType,
		HadImage:       u.HadImage,
		CreditsCharged: u.Credits,
		TokensInput:    u.TokensInput,
		TokensOutput:   u.TokensOutput,
		CostUSD:        u.CostUSD,
	}); err != nil {
		s.log.Error("guest usage log write failed", "device_id", deviceID, "error", err)
	}
	return dev, nil
}

// HasReceivedInitialCredits reports whether the device already collected the
// free initial grant. An unseen device has not.
func (s *Service) HasReceivedInitialCredits(ctx context.Context, deviceID string) (bool, error) {
	dev, err := s.devices.Get(ctx, deviceID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	return dev.HasReceivedInitialCredits, nil
}

// MarkInitialCredits records that the device collected the free initial grant.
func (s *Service) MarkInitialCredits(ctx context.Context, deviceID string) error {
	return s.devices.MarkInitialCredits(ctx, deviceID, today())
}
