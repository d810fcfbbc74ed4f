package priority

import (
	"testing"
	"time"

	"github.com/SharedWheels/SharedWheels/internal/common/config"
)

func testCfg() config.PriorityConfig {
	return config.PriorityConfig{
		WeightOwnershipShare: 10,
		WeightWaitDays:       5,
		WeightEmergency:      100,
		WaitSaturationDays:   30,
		EmergencyMonthlyCap:  2,
	}
}

func TestScoreComponents(t *testing.T) {
	r := NewResolver(testCfg())

	// 份额越高分越高
	low := r.Score(Candidate{OwnershipShare: 0.2})
	high := r.Score(Candidate{OwnershipShare: 0.5})
	if high <= low {
		t.Fatalf("expected higher share to score higher: %v <= %v", high, low)
	}

	// 等待天数在饱和点封顶
	atSat := r.Score(Candidate{DaysSinceLast: 30})
	overSat := r.Score(Candidate{DaysSinceLast: 300})
	if atSat != overSat {
		t.Fatalf("wait factor should saturate: %v != %v", atSat, overSat)
	}

	// 紧急加成远大于常规分量
	normal := r.Score(Candidate{OwnershipShare: 1, DaysSinceLast: 300})
	emergency := r.Score(Candidate{OwnershipShare: 0.1, IsEmergency: true})
	if emergency <= normal {
		t.Fatalf("emergency boost should dominate: %v <= %v", emergency, normal)
	}
}

func TestRankOrderingAndTieBreak(t *testing.T) {
	r := NewResolver(testCfg())
	t0 := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	ranked := r.Rank([]Candidate{
		{RequesterID: "late-request", OwnershipShare: 0.3, RequestedAt: t0.Add(time.Hour)},
		{RequesterID: "big-owner", OwnershipShare: 0.6, RequestedAt: t0},
		{RequesterID: "early-request", OwnershipShare: 0.3, RequestedAt: t0},
	})

	if ranked[0].RequesterID != "big-owner" {
		t.Fatalf("expected big-owner first, got %s", ranked[0].RequesterID)
	}
	// 同分：先到先得
	if ranked[1].RequesterID != "early-request" || ranked[2].RequesterID != "late-request" {
		t.Fatalf("expected tie-break by request time, got [%s, %s]",
			ranked[1].RequesterID, ranked[2].RequesterID)
	}
}

func TestWaitFactorZeroFloor(t *testing.T) {
	r := NewResolver(testCfg())
	if got := r.Score(Candidate{DaysSinceLast: -3}); got != 0 {
		t.Fatalf("negative wait days should contribute 0, got %v", got)
	}
}
