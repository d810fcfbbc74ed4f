package reservation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/SharedWheels/SharedWheels/internal/common/config"
)

// memStore 内存版 Store，供服务用例测试使用。
type memStore struct {
	byID        map[string]*Reservation
	created     []*Reservation
	emergencies int64
	createErr   error
}

func newMemStore() *memStore {
	return &memStore{byID: map[string]*Reservation{}}
}

func (m *memStore) GetByID(ctx context.Context, id string) (*Reservation, error) {
	r, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) Save(ctx context.Context, res *Reservation) error {
	cp := *res
	m.byID[res.ID] = &cp
	return nil
}

func (m *memStore) CreateChecked(ctx context.Context, res *Reservation, filter ConflictFilter, now time.Time) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.created = append(m.created, res)
	return m.Save(ctx, res)
}

func (m *memStore) CreateWithCancellations(ctx context.Context, res *Reservation, cancelIDs []string, actorID, reason string, now time.Time) error {
	m.created = append(m.created, res)
	return m.Save(ctx, res)
}

func (m *memStore) CountEmergencyInMonth(ctx context.Context, requesterID string, ref time.Time) (int64, error) {
	return m.emergencies, nil
}

func (m *memStore) ListBlocking(ctx context.Context, vehicleID string, from time.Time, statuses []Status) ([]Reservation, error) {
	return nil, nil
}

func (m *memStore) List(ctx context.Context, f ListFilter) ([]Reservation, int64, error) {
	return nil, 0, nil
}

// captureFees 记录罚金端口收到的入参。
type captureFees struct {
	calls []LateReturnInput
}

func (c *captureFees) RecordLateReturn(ctx context.Context, in LateReturnInput) (*LateFeeRecord, error) {
	c.calls = append(c.calls, in)
	return &LateFeeRecord{ID: "fee-1", LateMinutes: 47, AmountCents: 2000, Status: "pending"}, nil
}

func testSvc(st *memStore, fees LateFeeRecorder, capCfg config.PriorityConfig) *Service {
	return NewService(st, nil, nil, nil, fees, config.BookingConfig{RequireApproval: true}, capCfg, nil)
}

func createIn(t *testing.T, emergency bool) CreateInput {
	return CreateInput{
		VehicleID:       "v-1",
		GroupID:         "g-1",
		RequesterID:     "u-1",
		StartAt:         mustParse(t, "2025-06-02T10:00:00Z"),
		EndAt:           mustParse(t, "2025-06-02T12:00:00Z"),
		IsEmergency:     emergency,
		EmergencyReason: "hospital run",
	}
}

func TestCreateEmergencyUnderCap(t *testing.T) {
	st := newMemStore()
	st.emergencies = 1
	svc := testSvc(st, nil, config.PriorityConfig{EmergencyMonthlyCap: 2})

	res, err := svc.Create(context.Background(), createIn(t, true), mustParse(t, "2025-06-01T09:00:00Z"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !res.IsEmergency || res.Tier != TierEmergency {
		t.Fatalf("expected emergency preserved under cap, got emergency=%v tier=%s", res.IsEmergency, res.Tier)
	}
}

func TestCreateEmergencyCapOverflowDemotesToNormal(t *testing.T) {
	st := newMemStore()
	st.emergencies = 2 // 本月额度已用满
	svc := testSvc(st, nil, config.PriorityConfig{EmergencyMonthlyCap: 2})

	res, err := svc.Create(context.Background(), createIn(t, true), mustParse(t, "2025-06-01T09:00:00Z"))
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if res.IsEmergency {
		t.Fatalf("expected emergency flag cleared after cap overflow")
	}
	if res.Tier != TierNormal {
		t.Fatalf("expected tier demoted to normal, got %s", res.Tier)
	}
	if len(st.created) != 1 {
		t.Fatalf("demoted request should still be created, got %d", len(st.created))
	}
}

func TestCompleteTripLateDefaultsReturnEventID(t *testing.T) {
	st := newMemStore()
	end := mustParse(t, "2025-06-02T12:00:00Z")
	st.byID["r-1"] = &Reservation{
		ID:          "r-1",
		VehicleID:   "v-1",
		GroupID:     "g-1",
		RequesterID: "u-1",
		StartAt:     end.Add(-2 * time.Hour),
		EndAt:       end,
		Status:      StatusInProgress,
	}
	fees := &captureFees{}
	svc := testSvc(st, fees, config.PriorityConfig{EmergencyMonthlyCap: 2})

	returnedAt := end.Add(47 * time.Minute)
	out, err := svc.CompleteTrip(context.Background(), "r-1",
		TripEvidence{ReturnedAt: returnedAt}, returnedAt)
	if err != nil {
		t.Fatalf("CompleteTrip: %v", err)
	}
	if out.LateFee == nil || out.LateFee.AmountCents != 2000 {
		t.Fatalf("expected late fee in result, got %+v", out.LateFee)
	}
	if len(fees.calls) != 1 {
		t.Fatalf("expected one fee call, got %d", len(fees.calls))
	}
	// 未提供还车事件 ID 时退回预约 ID，计费幂等键不缺失
	if fees.calls[0].ReturnEventID != "r-1" {
		t.Fatalf("expected return event id to default to reservation id, got %q", fees.calls[0].ReturnEventID)
	}
	if out.Reservation.Status != StatusCompleted {
		t.Fatalf("expected completed, got %s", out.Reservation.Status)
	}
}

func TestCancelTwicePreservesAudit(t *testing.T) {
	st := newMemStore()
	st.byID["r-1"] = &Reservation{
		ID:          "r-1",
		VehicleID:   "v-1",
		GroupID:     "g-1",
		RequesterID: "u-1",
		StartAt:     mustParse(t, "2025-06-02T10:00:00Z"),
		EndAt:       mustParse(t, "2025-06-02T12:00:00Z"),
		Status:      StatusConfirmed,
	}
	svc := testSvc(st, nil, config.PriorityConfig{EmergencyMonthlyCap: 2})

	now := mustParse(t, "2025-06-01T09:00:00Z")
	if _, err := svc.Cancel(context.Background(), "r-1", "u-1", "plans changed", now); err != nil {
		t.Fatalf("first cancel: %v", err)
	}

	_, err := svc.Cancel(context.Background(), "r-1", "u-2", "stale retry", now.Add(time.Hour))
	var ite *InvalidTransitionError
	if !errors.As(err, &ite) {
		t.Fatalf("expected InvalidTransitionError on repeated cancel, got %v", err)
	}

	got := st.byID["r-1"]
	if got.CancelledBy != "u-1" || got.CancelReason != "plans changed" {
		t.Fatalf("repeated cancel must not overwrite audit fields: %+v", got)
	}
}
