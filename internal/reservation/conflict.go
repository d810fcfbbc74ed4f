package reservation

import "sort"

// ConflictFilter 冲突检测的排除条件。
type ConflictFilter struct {
	// ExcludeReservationID 更新场景下忽略自身。
	ExcludeReservationID string
	// ExcludeRecurrenceRuleID 周期性规则重新生成时跳过它自己产出的预约。
	ExcludeRecurrenceRuleID string
}

// Overlaps 判断已有区间 b 与候选区间 a 是否重叠。
// 半开区间 [start, end)，尾点互贴（b.EndAt == a.StartAt）不算冲突。
// 按边界策略拆成三种覆盖情形书写（等价于 a.start < b.end && b.start < a.end）：
//  1. b 的起点落在 a 内
//  2. b 的终点落在 a 内（不含 a 起点本身）
//  3. b 完整包住 a
func Overlaps(a Interval, b Interval) bool {
	// 情形 1：b 在候选窗内开始
	if !b.StartAt.Before(a.StartAt) && b.StartAt.Before(a.EndAt) {
		return true
	}
	// 情形 2：b 在候选窗内结束（终点为开边界）
	if b.EndAt.After(a.StartAt) && !b.EndAt.After(a.EndAt) {
		return true
	}
	// 情形 3：b 完整包含候选窗
	if !b.StartAt.After(a.StartAt) && !b.EndAt.Before(a.EndAt) {
		return true
	}
	return false
}

// FindConflicts 纯函数冲突检测：在给定的既有预约集合中，
// 找出与候选区间重叠的子集，按 StartAt 升序返回。
// 无副作用、确定性，可并发重复调用；由调用方决定传入哪些状态的预约
//（默认阻塞集为 BlockingStatuses，不含 cancelled / completed）。
func FindConflicts(candidate Interval, existing []Reservation, filter ConflictFilter) []Reservation {
	if !candidate.EndAt.After(candidate.StartAt) {
		return nil
	}

	out := make([]Reservation, 0, 4)
	for i := range existing {
		r := existing[i]
		if filter.ExcludeReservationID != "" && r.ID == filter.ExcludeReservationID {
			continue
		}
		if filter.ExcludeRecurrenceRuleID != "" && r.RecurrenceRuleID != nil &&
			*r.RecurrenceRuleID == filter.ExcludeRecurrenceRuleID {
			continue
		}
		if Overlaps(candidate, Interval{StartAt: r.StartAt, EndAt: r.EndAt}) {
			out = append(out, r)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].StartAt.Equal(out[j].StartAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartAt.Before(out[j].StartAt)
	})
	return out
}

// recommendSearchLimit 备选窗口向后探测的次数上限。
const recommendSearchLimit = 256

// RecommendWindow 在同车阻塞集中寻找最早能放下所需时长的空档。
// 从候选起点开始向后推：每撞上一个阻塞区间就把探测起点挪到其 EndAt。
// 找不到（理论上只在数据异常时发生）返回 nil。
func RecommendWindow(requested Interval, blocking []Reservation) *Interval {
	dur := requested.Duration()
	if dur <= 0 {
		return nil
	}

	// 冲突检测对顺序不敏感，这里按起点排好便于线性推进。
	sorted := make([]Reservation, len(blocking))
	copy(sorted, blocking)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].StartAt.Before(sorted[j].StartAt) })

	cursor := requested.StartAt
	for i := 0; i < recommendSearchLimit; i++ {
		window := Interval{StartAt: cursor, EndAt: cursor.Add(dur)}
		hit := false
		for j := range sorted {
			b := Interval{StartAt: sorted[j].StartAt, EndAt: sorted[j].EndAt}
			if Overlaps(window, b) {
				hit = true
				if b.EndAt.After(cursor) {
					cursor = b.EndAt
				}
			}
		}
		if !hit {
			return &window
		}
	}
	return nil
}
