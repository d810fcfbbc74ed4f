package reservation

import "time"

// AllowTransition 定义预约状态机的允许流转关系。
// 采用“有向图”方式配置；cancelled 可从任意非终态进入。
var AllowTransition = map[Status][]Status{
	StatusPendingApproval: {StatusConfirmed, StatusCancelled},
	StatusConfirmed:       {StatusInProgress, StatusCancelled},
	StatusInProgress:      {StatusCompleted, StatusCancelled},
	// 终态：不允许从 completed / cancelled 再流转
	StatusCompleted: {},
	StatusCancelled: {},
}

// CanTransition 判断 from -> to 是否是一个允许的状态流转。
// 非终态允许自环（幂等重放）；终态一经进入不再接受任何流转，
// 避免重复 cancel/complete 覆盖已落盘的记账字段。
func CanTransition(from, to Status) bool {
	if from == to {
		return !from.IsTerminal()
	}
	allowed, ok := AllowTransition[from]
	if !ok {
		return false
	}
	for _, s := range allowed {
		if s == to {
			return true
		}
	}
	return false
}

// ApplyTransition 对预约应用状态变更，并维护关键时间字段。
// 非法流转返回 *InvalidTransitionError，调用方可用 errors.As 识别。
func ApplyTransition(r *Reservation, to Status, now time.Time) error {
	if r == nil {
		return &InvalidTransitionError{To: to}
	}
	from := r.Status
	if !CanTransition(from, to) {
		return &InvalidTransitionError{ReservationID: r.ID, From: from, To: to}
	}

	r.Status = to

	switch to {
	case StatusConfirmed:
		if r.ApprovedAt == nil {
			t := now
			r.ApprovedAt = &t
		}
	case StatusInProgress:
		if r.StartedAt == nil {
			t := now
			r.StartedAt = &t
		}
	case StatusCompleted:
		if r.CompletedAt == nil {
			t := now
			r.CompletedAt = &t
		}
	case StatusCancelled:
		if r.CancelledAt == nil {
			t := now
			r.CancelledAt = &t
		}
	}
	return nil
}
