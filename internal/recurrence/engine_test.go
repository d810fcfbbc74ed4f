package recurrence

import (
	"context"
	"testing"
	"time"

	"github.com/SharedWheels/SharedWheels/internal/common/config"
	"github.com/SharedWheels/SharedWheels/internal/reservation"
)

// memRuleStore 内存版 RuleStore，供引擎测试使用。
type memRuleStore struct {
	rules map[string]*RecurrenceRule
}

func (s *memRuleStore) ListDue(ctx context.Context, now time.Time) ([]RecurrenceRule, error) {
	var out []RecurrenceRule
	for _, r := range s.rules {
		if r.Status != StatusActive {
			continue
		}
		if r.PausedUntil != nil && r.PausedUntil.After(now) {
			continue
		}
		out = append(out, *r)
	}
	return out, nil
}

func (s *memRuleStore) WithRuleLock(ctx context.Context, id string, fn func(rule *RecurrenceRule) error) error {
	r, ok := s.rules[id]
	if !ok {
		return ErrNotFound
	}
	return fn(r)
}

// captureCreator 记录创建请求；可按 occurrence 起点注入错误。
type captureCreator struct {
	created []reservation.CreateInput
	fail    []struct {
		at  time.Time
		err error
	}
}

func (c *captureCreator) failAt(at time.Time, err error) {
	c.fail = append(c.fail, struct {
		at  time.Time
		err error
	}{at: at, err: err})
}

func (c *captureCreator) Create(ctx context.Context, in reservation.CreateInput, now time.Time) (*reservation.Reservation, error) {
	for _, f := range c.fail {
		if f.at.Equal(in.StartAt) {
			return nil, f.err
		}
	}
	c.created = append(c.created, in)
	return &reservation.Reservation{ID: "generated"}, nil
}

func engineRule() *RecurrenceRule {
	return &RecurrenceRule{
		ID:              "rule-1",
		VehicleID:       "v-1",
		GroupID:         "g-1",
		RequesterID:     "u-1",
		Pattern:         PatternWeekly,
		IntervalN:       1,
		Weekdays:        WeekdaysJoin([]time.Weekday{time.Tuesday, time.Thursday}),
		DayStartMinutes: 8 * 60,
		DayEndMinutes:   9 * 60,
		WindowStart:     time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC),
		Status:          StatusActive,
		TimeZone:        "UTC",
	}
}

func sweepCfg() config.RecurrenceConfig {
	return config.RecurrenceConfig{HorizonDays: 14, SweepIntervalMinutes: 180, InsertRatePerSecond: 1000}
}

func TestRunSweepRerunWithUnchangedWatermarkCreatesNothing(t *testing.T) {
	rule := engineRule()
	store := &memRuleStore{rules: map[string]*RecurrenceRule{rule.ID: rule}}
	creator := &captureCreator{}
	engine := NewEngine(store, creator, sweepCfg(), nil)

	now := day(t, "2025-06-02T00:00:00Z")
	report, err := engine.RunSweep(context.Background(), now)
	if err != nil {
		t.Fatalf("RunSweep: %v", err)
	}
	if report.Created != 4 || len(creator.created) != 4 {
		t.Fatalf("expected 4 reservations on first sweep, got report=%d created=%d",
			report.Created, len(creator.created))
	}
	wantMark := now.AddDate(0, 0, 14)
	if rule.LastGeneratedUntil == nil || !rule.LastGeneratedUntil.Equal(wantMark) {
		t.Fatalf("expected watermark %s, got %v", wantMark, rule.LastGeneratedUntil)
	}

	// 水位线未动的前提下重跑：不得再生成任何预约
	report2, err := engine.RunSweep(context.Background(), now)
	if err != nil {
		t.Fatalf("second RunSweep: %v", err)
	}
	if report2.Created != 0 {
		t.Fatalf("rerun with unchanged watermark must create nothing, got %d", report2.Created)
	}
	if len(creator.created) != 4 {
		t.Fatalf("creator saw %d total creates, expected 4", len(creator.created))
	}
	if !rule.LastGeneratedUntil.Equal(wantMark) {
		t.Fatalf("watermark must not move on rerun, got %v", rule.LastGeneratedUntil)
	}
}

func TestRunSweepSkipsConflictsAndExisting(t *testing.T) {
	rule := engineRule()
	store := &memRuleStore{rules: map[string]*RecurrenceRule{rule.ID: rule}}
	creator := &captureCreator{}
	// 6/5 撞他人预约，6/10 幂等键已存在
	creator.failAt(day(t, "2025-06-05T08:00:00Z"), &reservation.ConflictError{VehicleID: "v-1"})
	creator.failAt(day(t, "2025-06-10T08:00:00Z"), reservation.ErrConcurrentModification)
	engine := NewEngine(store, creator, sweepCfg(), nil)

	now := day(t, "2025-06-02T00:00:00Z")
	report, err := engine.RunSweep(context.Background(), now)
	if err != nil {
		t.Fatalf("RunSweep: %v", err)
	}
	if report.Created != 2 || report.Skipped != 2 {
		t.Fatalf("expected created=2 skipped=2, got created=%d skipped=%d",
			report.Created, report.Skipped)
	}
	if len(report.Rules) != 1 {
		t.Fatalf("expected one rule report, got %d", len(report.Rules))
	}
	rr := report.Rules[0]
	if rr.SkippedConflict != 1 || rr.SkippedExisting != 1 {
		t.Fatalf("expected one conflict skip and one existing skip, got %+v", rr)
	}
	// 跳过不阻塞水位线推进
	if rule.LastGeneratedUntil == nil || !rule.LastGeneratedUntil.Equal(now.AddDate(0, 0, 14)) {
		t.Fatalf("watermark should advance past skipped occurrences, got %v", rule.LastGeneratedUntil)
	}
}

func TestRunSweepPausedRuleLeavesWatermarkAlone(t *testing.T) {
	rule := engineRule()
	until := day(t, "2025-07-01T00:00:00Z")
	rule.Status = StatusPaused
	rule.PausedUntil = &until
	store := &memRuleStore{rules: map[string]*RecurrenceRule{rule.ID: rule}}
	creator := &captureCreator{}
	engine := NewEngine(store, creator, sweepCfg(), nil)

	report, err := engine.RunSweep(context.Background(), day(t, "2025-06-02T00:00:00Z"))
	if err != nil {
		t.Fatalf("RunSweep: %v", err)
	}
	if report.Created != 0 || len(creator.created) != 0 {
		t.Fatalf("paused rule must not generate, got %d", len(creator.created))
	}
	if rule.LastGeneratedUntil != nil {
		t.Fatalf("paused rule watermark must stay put, got %v", rule.LastGeneratedUntil)
	}
}
