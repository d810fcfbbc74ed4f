package reservation

import (
	"context"
	"errors"
	"fmt"
	"time"

	mysqldrv "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/SharedWheels/SharedWheels/internal/priority"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) withCtx(ctx context.Context) *gorm.DB {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.WithContext(ctx)
}

// mapWriteErr 把底层写竞争统一映射为 ErrConcurrentModification：
// 1062 唯一键撞车（幂等键已存在）、1213 死锁被选为牺牲者、
// 1205 锁等待超时，都意味着“检测+插入”输掉了竞争，调用方应重查后重试。
func mapWriteErr(err error) error {
	if err == nil {
		return nil
	}
	var me *mysqldrv.MySQLError
	if errors.As(err, &me) {
		switch me.Number {
		case 1062, 1205, 1213:
			return ErrConcurrentModification
		}
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrConcurrentModification
	}
	return err
}

func (r *Repo) GetByID(ctx context.Context, id string) (*Reservation, error) {
	db := r.withCtx(ctx)
	if db == nil {
		return nil, fmt.Errorf("repo db is nil")
	}
	var res Reservation
	if err := db.Where("id = ?", id).First(&res).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &res, nil
}

func (r *Repo) Save(ctx context.Context, res *Reservation) error {
	db := r.withCtx(ctx)
	if db == nil {
		return fmt.Errorf("repo db is nil")
	}
	return mapWriteErr(db.Save(res).Error)
}

// blockingSetLocked 在事务内加行锁读出某车辆的阻塞集合（预约 + 维护窗口）。
// SELECT ... FOR UPDATE 把“检测+插入”串行化，防止两个并发创建同时看到无冲突。
func blockingSetLocked(tx *gorm.DB, vehicleID string, from time.Time, statuses []Status) ([]Reservation, error) {
	var rows []Reservation
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("vehicle_id = ? AND status IN ? AND end_at > ?", vehicleID, statuses, from).
		Order("start_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	var blocks []VehicleBlock
	err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("vehicle_id = ? AND end_at > ?", vehicleID, from).
		Find(&blocks).Error
	if err != nil {
		return nil, err
	}
	for _, b := range blocks {
		rows = append(rows, b.AsReservation())
	}
	return rows, nil
}

// ListBlocking 读出车辆的阻塞集合（含维护窗口折算的合成预约），不加锁。
// 只看 end_at 在 from 之后的行，历史行对新窗口不可能再冲突。
func (r *Repo) ListBlocking(ctx context.Context, vehicleID string, from time.Time, statuses []Status) ([]Reservation, error) {
	db := r.withCtx(ctx)
	if db == nil {
		return nil, fmt.Errorf("repo db is nil")
	}
	if len(statuses) == 0 {
		statuses = BlockingStatuses
	}

	var rows []Reservation
	err := db.
		Where("vehicle_id = ? AND status IN ? AND end_at > ?", vehicleID, statuses, from).
		Order("start_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	var blocks []VehicleBlock
	if err := db.Where("vehicle_id = ? AND end_at > ?", vehicleID, from).Find(&blocks).Error; err != nil {
		return nil, err
	}
	for _, b := range blocks {
		rows = append(rows, b.AsReservation())
	}
	return rows, nil
}

// CreateChecked 原子“冲突检测 + 插入”。
// 事务内对车辆的阻塞集合加行锁后重新检测；有冲突时返回 *ConflictError（含推荐备选窗口），
// 事务回滚、不产生任何写入。幂等键撞车映射为 ErrConcurrentModification。
func (r *Repo) CreateChecked(ctx context.Context, res *Reservation, filter ConflictFilter, now time.Time) error {
	db := r.withCtx(ctx)
	if db == nil {
		return fmt.Errorf("repo db is nil")
	}
	candidate := Interval{StartAt: res.StartAt, EndAt: res.EndAt}

	err := db.Transaction(func(tx *gorm.DB) error {
		blocking, err := blockingSetLocked(tx, res.VehicleID, now.Add(-24*time.Hour), BlockingStatuses)
		if err != nil {
			return err
		}
		conflicts := FindConflicts(candidate, blocking, filter)
		if len(conflicts) > 0 {
			return &ConflictError{
				VehicleID:   res.VehicleID,
				Requested:   candidate,
				Conflicts:   conflicts,
				Recommended: RecommendWindow(candidate, blocking),
			}
		}
		return tx.Create(res).Error
	})
	return mapWriteErr(err)
}

// CreateWithCancellations 紧急通道：同一事务内取消被压制的冲突预约并插入新预约。
// 再次加锁检测时排除待取消集合；若出现新的冲突（竞争窗口期插入的行）则整体失败。
func (r *Repo) CreateWithCancellations(ctx context.Context, res *Reservation, cancelIDs []string, actorID, reason string, now time.Time) error {
	db := r.withCtx(ctx)
	if db == nil {
		return fmt.Errorf("repo db is nil")
	}
	cancelSet := make(map[string]struct{}, len(cancelIDs))
	for _, id := range cancelIDs {
		cancelSet[id] = struct{}{}
	}
	candidate := Interval{StartAt: res.StartAt, EndAt: res.EndAt}

	err := db.Transaction(func(tx *gorm.DB) error {
		blocking, err := blockingSetLocked(tx, res.VehicleID, now.Add(-24*time.Hour), BlockingStatuses)
		if err != nil {
			return err
		}

		remaining := make([]Reservation, 0, len(blocking))
		toCancel := make([]Reservation, 0, len(cancelIDs))
		for _, b := range blocking {
			if _, ok := cancelSet[b.ID]; ok {
				toCancel = append(toCancel, b)
				continue
			}
			remaining = append(remaining, b)
		}
		if len(toCancel) != len(cancelIDs) {
			// 有待取消行已不在阻塞集合里（被别人动过），让调用方重查
			return ErrConcurrentModification
		}

		if conflicts := FindConflicts(candidate, remaining, ConflictFilter{}); len(conflicts) > 0 {
			return &ConflictError{
				VehicleID:   res.VehicleID,
				Requested:   candidate,
				Conflicts:   conflicts,
				Recommended: RecommendWindow(candidate, remaining),
			}
		}

		for i := range toCancel {
			c := toCancel[i]
			if err := ApplyTransition(&c, StatusCancelled, now); err != nil {
				return err
			}
			c.CancelledBy = actorID
			c.CancelReason = reason
			if err := tx.Save(&c).Error; err != nil {
				return err
			}
		}
		return tx.Create(res).Error
	})
	return mapWriteErr(err)
}

// CountEmergencyInMonth 统计某用户在 ref 所在自然月内创建的紧急预约数（含已取消，审计口径）。
func (r *Repo) CountEmergencyInMonth(ctx context.Context, requesterID string, ref time.Time) (int64, error) {
	db := r.withCtx(ctx)
	if db == nil {
		return 0, fmt.Errorf("repo db is nil")
	}
	monthStart := time.Date(ref.Year(), ref.Month(), 1, 0, 0, 0, 0, time.UTC)
	nextMonth := monthStart.AddDate(0, 1, 0)

	var n int64
	err := db.Model(&Reservation{}).
		Where("requester_id = ? AND is_emergency = ? AND created_at >= ? AND created_at < ?",
			requesterID, true, monthStart, nextMonth).
		Count(&n).Error
	return n, err
}

// CancelFutureByRule 取消某条周期性规则已生成、且尚未开始的预约。
// 进行中/已完成的行不动。返回受影响行数。
func (r *Repo) CancelFutureByRule(ctx context.Context, ruleID, reason string, now time.Time) (int64, error) {
	db := r.withCtx(ctx)
	if db == nil {
		return 0, fmt.Errorf("repo db is nil")
	}
	res := db.Model(&Reservation{}).
		Where("recurrence_rule_id = ? AND status IN ? AND start_at > ?",
			ruleID, []Status{StatusPendingApproval, StatusConfirmed}, now).
		Updates(map[string]interface{}{
			"status":        StatusCancelled,
			"cancel_reason": reason,
			"cancelled_at":  now,
		})
	return res.RowsAffected, res.Error
}

// ListFilter 查询条件。
type ListFilter struct {
	VehicleID   string
	RequesterID string
	Status      Status
	Offset      int
	Limit       int
}

// List 支持按车辆 / 发起人 / 状态过滤 + 分页。
func (r *Repo) List(ctx context.Context, f ListFilter) ([]Reservation, int64, error) {
	db := r.withCtx(ctx)
	if db == nil {
		return nil, 0, fmt.Errorf("repo db is nil")
	}
	if f.Limit <= 0 {
		f.Limit = 20
	}
	if f.Offset < 0 {
		f.Offset = 0
	}

	q := db.Model(&Reservation{})
	if f.VehicleID != "" {
		q = q.Where("vehicle_id = ?", f.VehicleID)
	}
	if f.RequesterID != "" {
		q = q.Where("requester_id = ?", f.RequesterID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var rows []Reservation
	if err := q.Order("start_at DESC").Offset(f.Offset).Limit(f.Limit).Find(&rows).Error; err != nil {
		return nil, 0, err
	}
	return rows, total, nil
}

// Repo 同时充当紧急预约计数端口（priority.EmergencyCountProvider）。
var _ priority.EmergencyCountProvider = (*Repo)(nil)

// AddVehicleBlock 登记维护占用窗口。
func (r *Repo) AddVehicleBlock(ctx context.Context, b *VehicleBlock) error {
	db := r.withCtx(ctx)
	if db == nil {
		return fmt.Errorf("repo db is nil")
	}
	return db.Create(b).Error
}
