package fee

import (
	"testing"
	"time"

	"github.com/SharedWheels/SharedWheels/internal/common/config"
)

func feeCfg() config.LateFeeConfig {
	return config.LateFeeConfig{
		IncrementMinutes:  15,
		FeePerIncrement:   500,
		MaxFeeCents:       0,
		CalculationMethod: "per_15min_increment",
	}
}

func TestLateMinutesCeiling(t *testing.T) {
	end := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

	if got := LateMinutes(end, end); got != 0 {
		t.Fatalf("on-time return: expected 0, got %d", got)
	}
	if got := LateMinutes(end, end.Add(-10*time.Minute)); got != 0 {
		t.Fatalf("early return: expected 0, got %d", got)
	}
	if got := LateMinutes(end, end.Add(47*time.Minute)); got != 47 {
		t.Fatalf("expected 47, got %d", got)
	}
	// 不足一分钟向上取整
	if got := LateMinutes(end, end.Add(30*time.Second)); got != 1 {
		t.Fatalf("expected 1, got %d", got)
	}
	if got := LateMinutes(end, end.Add(46*time.Minute+1*time.Second)); got != 47 {
		t.Fatalf("expected 47 after ceiling, got %d", got)
	}
}

func TestRatePerIncrement(t *testing.T) {
	c := NewCalculator(feeCfg())

	cases := []struct {
		mins int
		want int64
	}{
		{0, 0},
		{-5, 0},
		{1, 500},
		{15, 500},
		{16, 1000},
		{30, 1000},
		{47, 2000}, // 47 分钟跨 4 个 15 分钟段
		{60, 2000},
		{61, 2500},
	}
	for _, tc := range cases {
		if got := c.Rate(tc.mins); got != tc.want {
			t.Fatalf("Rate(%d): expected %d, got %d", tc.mins, tc.want, got)
		}
	}
}

func TestRateMonotonic(t *testing.T) {
	c := NewCalculator(feeCfg())
	prev := int64(0)
	for m := 0; m <= 240; m++ {
		got := c.Rate(m)
		if got < prev {
			t.Fatalf("fee decreased at %d minutes: %d -> %d", m, prev, got)
		}
		prev = got
	}
}

func TestRateCap(t *testing.T) {
	cfg := feeCfg()
	cfg.MaxFeeCents = 3000
	c := NewCalculator(cfg)

	if got := c.Rate(47); got != 2000 {
		t.Fatalf("under cap: expected 2000, got %d", got)
	}
	if got := c.Rate(600); got != 3000 {
		t.Fatalf("over cap: expected 3000, got %d", got)
	}
}

func TestRateDefaultStep(t *testing.T) {
	cfg := feeCfg()
	cfg.IncrementMinutes = 0
	c := NewCalculator(cfg)

	// 步长未配置时按 15 分钟兜底
	if got := c.Rate(16); got != 1000 {
		t.Fatalf("expected 1000 with default step, got %d", got)
	}
}
