package recurrence

import (
	"testing"
	"time"
)

func day(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parse %s: %v", s, err)
	}
	return ts
}

func weeklyRule() *RecurrenceRule {
	return &RecurrenceRule{
		ID:              "rule-1",
		Pattern:         PatternWeekly,
		IntervalN:       1,
		Weekdays:        WeekdaysJoin([]time.Weekday{time.Tuesday, time.Thursday}),
		DayStartMinutes: 8 * 60,
		DayEndMinutes:   9 * 60,
		WindowStart:     time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC), // 周一
		TimeZone:        "UTC",
	}
}

func TestOccurrencesWeeklyTwoWeekHorizon(t *testing.T) {
	rule := weeklyRule()

	// 14 天窗口：周二/周四各两次，恰好 4 个
	got, err := Occurrences(rule,
		day(t, "2025-06-02T00:00:00Z"),
		day(t, "2025-06-16T00:00:00Z"))
	if err != nil {
		t.Fatalf("Occurrences: %v", err)
	}
	want := []string{
		"2025-06-03T08:00:00Z",
		"2025-06-05T08:00:00Z",
		"2025-06-10T08:00:00Z",
		"2025-06-12T08:00:00Z",
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d occurrences, got %d: %#v", len(want), len(got), got)
	}
	for i, w := range want {
		if !got[i].StartAt.Equal(day(t, w)) {
			t.Fatalf("occurrence %d: expected %s, got %s", i, w, got[i].StartAt)
		}
		if got[i].EndAt.Sub(got[i].StartAt) != time.Hour {
			t.Fatalf("occurrence %d: expected 1h duration, got %s", i, got[i].EndAt.Sub(got[i].StartAt))
		}
	}
}

func TestOccurrencesWindowLowerBoundExclusivePast(t *testing.T) {
	rule := weeklyRule()

	// 下界推进到 6/5 08:00 之后：6/3 和 6/5 都不应再出现
	got, err := Occurrences(rule,
		day(t, "2025-06-05T09:00:00Z"),
		day(t, "2025-06-16T00:00:00Z"))
	if err != nil {
		t.Fatalf("Occurrences: %v", err)
	}
	if len(got) != 2 || !got[0].StartAt.Equal(day(t, "2025-06-10T08:00:00Z")) {
		t.Fatalf("expected [06-10, 06-12], got %#v", got)
	}
}

func TestOccurrencesWeeklyEveryOtherWeek(t *testing.T) {
	rule := weeklyRule()
	rule.IntervalN = 2

	got, err := Occurrences(rule,
		day(t, "2025-06-02T00:00:00Z"),
		day(t, "2025-06-30T00:00:00Z"))
	if err != nil {
		t.Fatalf("Occurrences: %v", err)
	}
	// 第 0 周和第 2 周命中，第 1、3 周跳过
	want := []string{
		"2025-06-03T08:00:00Z",
		"2025-06-05T08:00:00Z",
		"2025-06-17T08:00:00Z",
		"2025-06-19T08:00:00Z",
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d occurrences, got %d: %#v", len(want), len(got), got)
	}
	for i, w := range want {
		if !got[i].StartAt.Equal(day(t, w)) {
			t.Fatalf("occurrence %d: expected %s, got %s", i, w, got[i].StartAt)
		}
	}
}

func TestOccurrencesDailyInterval(t *testing.T) {
	rule := &RecurrenceRule{
		ID:              "rule-d",
		Pattern:         PatternDaily,
		IntervalN:       3,
		DayStartMinutes: 10 * 60,
		DayEndMinutes:   11 * 60,
		WindowStart:     time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		TimeZone:        "UTC",
	}

	got, err := Occurrences(rule,
		day(t, "2025-06-01T00:00:00Z"),
		day(t, "2025-06-10T00:00:00Z"))
	if err != nil {
		t.Fatalf("Occurrences: %v", err)
	}
	want := []string{
		"2025-06-01T10:00:00Z",
		"2025-06-04T10:00:00Z",
		"2025-06-07T10:00:00Z",
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d occurrences, got %d: %#v", len(want), len(got), got)
	}
	for i, w := range want {
		if !got[i].StartAt.Equal(day(t, w)) {
			t.Fatalf("occurrence %d: expected %s, got %s", i, w, got[i].StartAt)
		}
	}
}

func TestOccurrencesMonthlySkipsShortMonth(t *testing.T) {
	rule := &RecurrenceRule{
		ID:              "rule-m",
		Pattern:         PatternMonthly,
		IntervalN:       1,
		DayStartMinutes: 9 * 60,
		DayEndMinutes:   12 * 60,
		WindowStart:     time.Date(2025, 1, 31, 0, 0, 0, 0, time.UTC),
		TimeZone:        "UTC",
	}

	got, err := Occurrences(rule,
		day(t, "2025-01-01T00:00:00Z"),
		day(t, "2025-05-01T00:00:00Z"))
	if err != nil {
		t.Fatalf("Occurrences: %v", err)
	}
	// 2 月没有 31 号，整月跳过；4 月也没有
	want := []string{
		"2025-01-31T09:00:00Z",
		"2025-03-31T09:00:00Z",
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d occurrences, got %d: %#v", len(want), len(got), got)
	}
	for i, w := range want {
		if !got[i].StartAt.Equal(day(t, w)) {
			t.Fatalf("occurrence %d: expected %s, got %s", i, w, got[i].StartAt)
		}
	}
}

func TestOccurrencesRuleTimeZoneConvertsToUTC(t *testing.T) {
	rule := &RecurrenceRule{
		ID:              "rule-tz",
		Pattern:         PatternDaily,
		IntervalN:       1,
		DayStartMinutes: 8 * 60, // 上海时间 08:00
		DayEndMinutes:   9 * 60,
		WindowStart:     time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC),
		TimeZone:        "Asia/Shanghai",
	}

	got, err := Occurrences(rule,
		day(t, "2025-06-03T00:00:00Z"),
		day(t, "2025-06-04T00:00:00Z"))
	if err != nil {
		t.Fatalf("Occurrences: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 occurrence, got %#v", got)
	}
	// UTC+8：本地 08:00 = UTC 00:00
	if !got[0].StartAt.Equal(day(t, "2025-06-03T00:00:00Z")) {
		t.Fatalf("expected 00:00 UTC, got %s", got[0].StartAt)
	}
	if got[0].StartAt.Location() != time.UTC {
		t.Fatalf("occurrence times must be UTC")
	}
}

func TestOccurrencesDSTKeepsWallClock(t *testing.T) {
	// 纽约 2025-03-09 02:00 春令时拨快一小时
	rule := &RecurrenceRule{
		ID:              "rule-dst",
		Pattern:         PatternDaily,
		IntervalN:       1,
		DayStartMinutes: 8 * 60, // 本地 08:00
		DayEndMinutes:   9 * 60,
		WindowStart:     time.Date(2025, 3, 8, 0, 0, 0, 0, time.UTC),
		TimeZone:        "America/New_York",
	}

	got, err := Occurrences(rule,
		day(t, "2025-03-08T00:00:00Z"),
		day(t, "2025-03-11T00:00:00Z"))
	if err != nil {
		t.Fatalf("Occurrences: %v", err)
	}
	// EST 08:00 = 13:00Z；切换后 EDT 08:00 = 12:00Z
	want := []string{
		"2025-03-08T13:00:00Z",
		"2025-03-09T12:00:00Z",
		"2025-03-10T12:00:00Z",
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d occurrences, got %d: %#v", len(want), len(got), got)
	}
	for i, w := range want {
		if !got[i].StartAt.Equal(day(t, w)) {
			t.Fatalf("occurrence %d: expected %s, got %s", i, w, got[i].StartAt)
		}
	}
}

func TestOccurrencesRespectsWindowStartAnchor(t *testing.T) {
	rule := weeklyRule()

	// 查询窗口早于规则生效日：生效日前不得产生 occurrence
	got, err := Occurrences(rule,
		day(t, "2025-05-26T00:00:00Z"),
		day(t, "2025-06-04T00:00:00Z"))
	if err != nil {
		t.Fatalf("Occurrences: %v", err)
	}
	if len(got) != 1 || !got[0].StartAt.Equal(day(t, "2025-06-03T08:00:00Z")) {
		t.Fatalf("expected only 06-03 after rule window start, got %#v", got)
	}
}

func TestOccurrencesRejectsBadDayRange(t *testing.T) {
	rule := weeklyRule()
	rule.DayStartMinutes = 10 * 60
	rule.DayEndMinutes = 9 * 60

	if _, err := Occurrences(rule,
		day(t, "2025-06-02T00:00:00Z"),
		day(t, "2025-06-16T00:00:00Z")); err == nil {
		t.Fatalf("expected error for inverted day range")
	}
}
