package recurrence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound 规则不存在。
var ErrNotFound = errors.New("recurrence: rule not found")

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

func (r *Repo) Create(ctx context.Context, rule *RecurrenceRule) error {
	db := r.withCtx(ctx)
	if db == nil {
		return fmt.Errorf("repo db is nil")
	}
	return db.Create(rule).Error
}

func (r *Repo) GetByID(ctx context.Context, id string) (*RecurrenceRule, error) {
	db := r.withCtx(ctx)
	if db == nil {
		return nil, fmt.Errorf("repo db is nil")
	}
	var rule RecurrenceRule
	if err := db.Where("id = ?", id).First(&rule).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &rule, nil
}

// ListDue 列出本轮扫描应处理的规则：active 且未处于暂停期。
// 暂停中的规则整条跳过，水位线保持不动（恢复后不回补暂停期间的日期）。
func (r *Repo) ListDue(ctx context.Context, now time.Time) ([]RecurrenceRule, error) {
	db := r.withCtx(ctx)
	if db == nil {
		return nil, fmt.Errorf("repo db is nil")
	}
	var rules []RecurrenceRule
	err := db.
		Where("status = ? AND (paused_until IS NULL OR paused_until <= ?)", StatusActive, now).
		Order("created_at ASC").
		Find(&rules).Error
	return rules, err
}

// WithRuleLock 对单条规则加行锁后执行 fn，实现“单规则单写者”：
// 生成任务与用户的暂停/取消操作都必须经由这里串行化。
// fn 对规则行的修改在同一事务内落盘；fn 返回错误则整体回滚。
func (r *Repo) WithRuleLock(ctx context.Context, id string, fn func(rule *RecurrenceRule) error) error {
	db := r.withCtx(ctx)
	if db == nil {
		return fmt.Errorf("repo db is nil")
	}
	return db.Transaction(func(tx *gorm.DB) error {
		var rule RecurrenceRule
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			First(&rule).Error
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}
		if err := fn(&rule); err != nil {
			return err
		}
		return tx.Save(&rule).Error
	})
}
