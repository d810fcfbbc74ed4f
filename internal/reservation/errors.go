package reservation

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrConcurrentModification 原子“检测+插入”竞争失败，调用方应重查后重试。
	ErrConcurrentModification = errors.New("reservation: concurrent modification, re-check and retry")
	// ErrNotFound 预约不存在。
	ErrNotFound = errors.New("reservation: not found")
)

// Interval 半开时间区间 [StartAt, EndAt)。
type Interval struct {
	StartAt time.Time
	EndAt   time.Time
}

// Duration 区间长度。
func (iv Interval) Duration() time.Duration {
	return iv.EndAt.Sub(iv.StartAt)
}

// ConflictError 创建/校验时发现时间窗冲突。
// 属于可预期的业务结果：携带冲突集合与同车可用的推荐备选窗口。
type ConflictError struct {
	VehicleID   string
	Requested   Interval
	Conflicts   []Reservation
	Recommended *Interval // 同车最近一个能放下所需时长的空档，可能为 nil
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("reservation: vehicle %s window [%s, %s) conflicts with %d reservation(s)",
		e.VehicleID,
		e.Requested.StartAt.Format(time.RFC3339),
		e.Requested.EndAt.Format(time.RFC3339),
		len(e.Conflicts))
}

// InvalidTransitionError 非法状态流转（客户端/逻辑缺陷，不可重试）。
type InvalidTransitionError struct {
	ReservationID string
	From          Status
	To            Status
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("reservation: invalid status transition %s -> %s (id=%s)", e.From, e.To, e.ReservationID)
}
