package guest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/typeflow/backend/internal/models"
	"github.com/typeflow/backend/internal/repository"
)

type mockDevices struct {
	mu      sync.Mutex
	devices map[string]*models.DeviceLedger
	marked  []string
}

func newMockDevices(devs ...*models.DeviceLedger) *mockDevices {
	m := &mockDevices{devices: make(map[string]*models.DeviceLedger)}
	for _, d := range devs {
		cp := *d
		m.devices[d.DeviceID] = &cp
	}
	return m
}

func (m *mockDevices) Get(_ context.Context, deviceID string) (*models.DeviceLedger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[deviceID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *mockDevices) RecordUsage(_ context.Context, deviceID string, creditsUsed int, today string) (*models.DeviceLedger, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[deviceID]
	if !ok {
		d = &models.DeviceLedger{DeviceID: deviceID}
		m.devices[deviceID] = d
	}
	if d.LastRequestDate != today {
		d.RequestsToday = 0
		d.LastRequestDate = today
	}
	d.TotalCreditsUsed += creditsUsed
	d.RequestsToday++
	cp := *d
	return &cp, nil
}

func (m *mockDevices) MarkInitialCredits(_ context.Context, deviceID string, _ string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.devices[deviceID]
	if !ok {
		d = &models.DeviceLedger{DeviceID: deviceID}
		m.devices[deviceID] = d
	}
	d.HasReceivedInitialCredits = true
	m.marked = append(m.marked, deviceID)
	return nil
}

type mockGuestUsage struct {
	mu   sync.Mutex
	logs []*models.GuestUsageLog
	err  error
}

func (m *mockGuestUsage) CreateGuest(_ context.Context, g *models.GuestUsageLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	cp := *g
	m.logs = append(m.logs, &cp)
	return nil
}

func TestRecord_UpsertsDeviceAndLogs(t *testing.T) {
	devices := newMockDevices()
	usage := &mockGuestUsage{}
	svc := NewService(devices, usage, nil)

	dev, err := svc.Record(context.Background(), "device-1", Usage{RequestType: "text", Credits: 1})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if dev.TotalCreditsUsed != 1 || dev.RequestsToday != 1 {
		t.Errorf("device counters: %+v", dev)
	}

	dev, err = svc.Record(context.Background(), "device-1", Usage{RequestType: "vision", HadImage: true, Credits: 3})
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if dev.TotalCreditsUsed != 4 || dev.RequestsToday != 2 {
		t.Errorf("device counters after second call: %+v", dev)
	}

	if len(usage.logs) != 2 {
		t.Fatalf("guest logs: got %d, want 2", len(usage.logs))
	}
	if usage.logs[1].CreditsCharged != 3 || !usage.logs[1].HadImage {
		t.Errorf("unexpected log: %+v", usage.logs[1])
	}
}

func TestRecord_LogFailureIsNotFatal(t *testing.T) {
	devices := newMockDevices()
	usage := &mockGuestUsage{err: errors.New("insert failed")}
	svc := NewService(devices, usage, nil)

	if _, err := svc.Record(context.Background(), "device-1", Usage{RequestType: "text", Credits: 1}); err != nil {
		t.Fatalf("a failed guest-log write should not surface: %v", err)
	}
}

func TestHasReceivedInitialCredits(t *testing.T) {
	devices := newMockDevices(&models.DeviceLedger{DeviceID: "granted", HasReceivedInitialCredits: true})
	svc := NewService(devices, &mockGuestUsage{}, nil)

	got, err := svc.HasReceivedInitialCredits(context.Background(), "granted")
	if err != nil || !got {
		t.Errorf("granted device: got %v, %v", got, err)
	}

	// An unseen device has not received the grant; not an error.
	got, err = svc.HasReceivedInitialCredits(context.Background(), "brand-new")
	if err != nil {
		t.Fatalf("unseen device: %v", err)
	}
	if got {
		t.Error("unseen device should report false")
	}
}

func TestMarkInitialCredits(t *testing.T) {
	devices := newMockDevices()
	svc := NewService(devices, &mockGuestUsage{}, nil)

	if err := svc.MarkInitialCredits(context.Background(), "device-1"); err != nil {
		t.Fatalf("MarkInitialCredits: %v", err)
	}
	got, err := svc.HasReceivedInitialCredits(context.Background(), "device-1")
	if err != nil || !got {
		t.Errorf("after mark: got %v, %v", got, err)
	}
}
