package reservation

import (
	"context"
	"fmt"
	"time"

	"github.com/SharedWheels/SharedWheels/internal/common/config"
	"github.com/SharedWheels/SharedWheels/internal/common/logger"
)

// ReminderKind 提醒窗口类型（派生调度，不是状态流转）。
type ReminderKind string

const (
	ReminderPreCheckout    ReminderKind = "pre_checkout"    // 取车前（默认 24h）
	ReminderFinalCheckout  ReminderKind = "final_checkout"  // 取车前（默认 1h）
	ReminderMissedCheckout ReminderKind = "missed_checkout" // 超过 start_at 未取车（默认 30min）
)

// NotificationSink 通知投递端口（外部协作方，本核心只产出事件不实现投递）。
type NotificationSink interface {
	ReservationReminder(ctx context.Context, kind ReminderKind, r *Reservation) error
}

// ReminderDue 纯函数：判断某预约的某类提醒此刻是否应当触发。
// 每类提醒至多触发一次，由对应的时间戳字段去重。
func ReminderDue(r *Reservation, kind ReminderKind, now time.Time, cfg config.BookingConfig) bool {
	if r == nil {
		return false
	}
	switch kind {
	case ReminderPreCheckout:
		if r.PreCheckoutRemindedAt != nil {
			return false
		}
		if r.Status != StatusPendingApproval && r.Status != StatusConfirmed {
			return false
		}
		due := r.StartAt.Add(-time.Duration(cfg.PreCheckoutRemindMinutes) * time.Minute)
		return !now.Before(due) && now.Before(r.StartAt)
	case ReminderFinalCheckout:
		if r.FinalCheckoutRemindedAt != nil {
			return false
		}
		if r.Status != StatusConfirmed {
			return false
		}
		due := r.StartAt.Add(-time.Duration(cfg.FinalCheckoutMinutes) * time.Minute)
		return !now.Before(due) && now.Before(r.StartAt)
	case ReminderMissedCheckout:
		if r.MissedCheckoutNotedAt != nil {
			return false
		}
		// confirmed 且已过宽限仍未取车
		if r.Status != StatusConfirmed {
			return false
		}
		grace := r.StartAt.Add(time.Duration(cfg.MissedCheckoutMinutes) * time.Minute)
		return !now.Before(grace) && now.Before(r.EndAt)
	default:
		return false
	}
}

// listReminderCandidates 拉取 start_at 落在提醒关注范围内的非终态预约。
// 精确的触发判定交给 ReminderDue，查询只做粗筛。
func (r *Repo) listReminderCandidates(ctx context.Context, now time.Time, cfg config.BookingConfig) ([]Reservation, error) {
	db := r.withCtx(ctx)
	if db == nil {
		return nil, fmt.Errorf("repo db is nil")
	}
	lookahead := time.Duration(cfg.PreCheckoutRemindMinutes) * time.Minute
	var rows []Reservation
	err := db.
		Where("status IN ? AND start_at <= ? AND end_at > ?",
			[]Status{StatusPendingApproval, StatusConfirmed}, now.Add(lookahead), now).
		Find(&rows).Error
	return rows, err
}

// markReminded 落盘触发时间戳，保证周期扫描不会重复投递。
func (r *Repo) markReminded(ctx context.Context, id string, kind ReminderKind, now time.Time) error {
	db := r.withCtx(ctx)
	if db == nil {
		return fmt.Errorf("repo db is nil")
	}
	col := ""
	switch kind {
	case ReminderPreCheckout:
		col = "pre_checkout_reminded_at"
	case ReminderFinalCheckout:
		col = "final_checkout_reminded_at"
	case ReminderMissedCheckout:
		col = "missed_checkout_noted_at"
	default:
		return fmt.Errorf("unknown reminder kind: %s", kind)
	}
	return db.Model(&Reservation{}).
		Where("id = ? AND "+col+" IS NULL", id).
		Update(col, now).Error
}

// ReminderSweeper 周期性提醒扫描。
type ReminderSweeper struct {
	repo *Repo
	sink NotificationSink
	cfg  config.BookingConfig
	log  logger.Logger
}

func NewReminderSweeper(repo *Repo, sink NotificationSink, cfg config.BookingConfig, log logger.Logger) *ReminderSweeper {
	return &ReminderSweeper{repo: repo, sink: sink, cfg: cfg, log: log}
}

// RunSweep 扫描一轮，返回本轮投递的提醒数。
// 先落盘时间戳再投递，每类提醒至多触发一次。
func (w *ReminderSweeper) RunSweep(ctx context.Context, now time.Time) (int, error) {
	if w == nil || w.repo == nil {
		return 0, fmt.Errorf("sweeper not initialized")
	}
	now = now.UTC()

	rows, err := w.repo.listReminderCandidates(ctx, now, w.cfg)
	if err != nil {
		return 0, err
	}

	kinds := []ReminderKind{ReminderPreCheckout, ReminderFinalCheckout, ReminderMissedCheckout}
	fired := 0
	for i := range rows {
		r := rows[i]
		for _, kind := range kinds {
			if !ReminderDue(&r, kind, now, w.cfg) {
				continue
			}
			if err := w.repo.markReminded(ctx, r.ID, kind, now); err != nil {
				if w.log != nil {
					w.log.Warnf("mark reminder %s for reservation=%s failed: %v", kind, r.ID, err)
				}
				continue
			}
			if w.sink != nil {
				if err := w.sink.ReservationReminder(ctx, kind, &r); err != nil && w.log != nil {
					w.log.Warnf("deliver reminder %s for reservation=%s failed: %v", kind, r.ID, err)
				}
			}
			fired++
		}
	}
	return fired, nil
}

// LogSink 默认的日志型通知出口（真实投递由外部通知服务承接）。
type LogSink struct {
	Log logger.Logger
}

func (s LogSink) ReservationReminder(ctx context.Context, kind ReminderKind, r *Reservation) error {
	if s.Log != nil && r != nil {
		s.Log.Infof("reminder %s: reservation=%s vehicle=%s start_at=%s",
			kind, r.ID, r.VehicleID, r.StartAt.Format(time.RFC3339))
	}
	return nil
}
