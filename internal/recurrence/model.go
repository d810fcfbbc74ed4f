package recurrence

import (
	"strconv"
	"strings"
	"time"
)

// Pattern 周期模式。
type Pattern string

const (
	PatternDaily   Pattern = "daily"
	PatternWeekly  Pattern = "weekly"
	PatternMonthly Pattern = "monthly"
)

// Status 规则状态。
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCancelled Status = "cancelled"
)

// RecurrenceRule 周期性预约规则 GORM 模型。
// 不变量：LastGeneratedUntil 单调不减；早于水位线的 occurrence 绝不允许再次物化。
type RecurrenceRule struct {
	ID string `gorm:"primaryKey;size:36"`

	VehicleID   string `gorm:"index;size:36;not null"`
	GroupID     string `gorm:"size:36;not null"`
	RequesterID string `gorm:"index;size:36;not null"`

	Pattern   Pattern `gorm:"type:varchar(10);not null"`
	IntervalN int     `gorm:"not null;default:1"` // 间隔倍数（每 N 天/周/月）
	// 逗号分隔的 time.Weekday 数值，例如 "2,4" = 周二/周四；weekly 必填
	Weekdays string `gorm:"size:32"`

	// 每日起止时刻（自当天零点的分钟数，按规则时区解释）
	DayStartMinutes int `gorm:"not null"`
	DayEndMinutes   int `gorm:"not null"`

	// 规则生效窗口（起始日期必填，结束日期可空 = 无限期）
	WindowStart time.Time  `gorm:"not null"`
	WindowEnd   *time.Time

	Status      Status     `gorm:"type:varchar(10);index;not null;default:'active'"`
	PausedUntil *time.Time // 在此时刻之前整条规则跳过生成（水位线不动）

	// 生成水位线：已物化日期的排他上界
	LastGeneratedUntil  *time.Time
	LastGenerationRunAt *time.Time

	TimeZone string `gorm:"size:64;not null;default:'UTC'"` // IANA 时区名

	CancelReason string     `gorm:"size:255"`
	CancelledAt  *time.Time

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// WeekdaysSlice 解析逗号分隔的星期集合。
func (r RecurrenceRule) WeekdaysSlice() []time.Weekday {
	if strings.TrimSpace(r.Weekdays) == "" {
		return nil
	}
	parts := strings.Split(r.Weekdays, ",")
	out := make([]time.Weekday, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil || n < 0 || n > 6 {
			continue
		}
		out = append(out, time.Weekday(n))
	}
	return out
}

// WeekdaysJoin 把星期集合编码为存储格式。
func WeekdaysJoin(days []time.Weekday) string {
	if len(days) == 0 {
		return ""
	}
	out := make([]string, 0, len(days))
	for _, d := range days {
		out = append(out, strconv.Itoa(int(d)))
	}
	return strings.Join(out, ",")
}

// Location 规则时区；解析失败回退 UTC。
func (r RecurrenceRule) Location() *time.Location {
	loc, err := time.LoadLocation(r.TimeZone)
	if err != nil || loc == nil {
		return time.UTC
	}
	return loc
}
