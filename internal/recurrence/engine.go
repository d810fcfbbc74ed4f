package recurrence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opentracing/opentracing-go"

	"github.com/SharedWheels/SharedWheels/internal/common/config"
	"github.com/SharedWheels/SharedWheels/internal/common/logger"
	"github.com/SharedWheels/SharedWheels/internal/common/middleware"
	"github.com/SharedWheels/SharedWheels/internal/reservation"
)

// RuleReport 单条规则一轮扫描的结果计数。
type RuleReport struct {
	RuleID          string
	Created         int // 新物化的预约数
	SkippedConflict int // 撞上他人预约而跳过的 occurrence 数
	SkippedExisting int // 幂等键已存在（重复运行/竞争）而跳过的数量
}

// GenerationReport 一轮扫描的汇总。
type GenerationReport struct {
	RunAt   time.Time
	Rules   []RuleReport
	Created int
	Skipped int
}

// RuleStore 引擎所需的规则存储端口，生产实现为 *Repo。
type RuleStore interface {
	ListDue(ctx context.Context, now time.Time) ([]RecurrenceRule, error)
	WithRuleLock(ctx context.Context, id string, fn func(rule *RecurrenceRule) error) error
}

var _ RuleStore = (*Repo)(nil)

// ReservationCreator 预约创建端口，生产实现为 *reservation.Service。
type ReservationCreator interface {
	Create(ctx context.Context, in reservation.CreateInput, now time.Time) (*reservation.Reservation, error)
}

// Engine 周期性预约生成引擎。
// 每轮扫描逐条处理到期规则：持有规则行锁 -> 枚举窗口内 occurrence ->
// 逐个走预约创建（冲突跳过，不取消他人）-> 推进水位线。
// 水位线推进与规则行锁同事务提交；插入本身由 (rule_id, occurrence_start)
// 唯一键兜底，崩溃重试不会产生重复预约。
type Engine struct {
	rules   RuleStore
	resSvc  ReservationCreator
	cfg     config.RecurrenceConfig
	log     logger.Logger
	limiter *middleware.TokenBucket
}

func NewEngine(rules RuleStore, resSvc ReservationCreator, cfg config.RecurrenceConfig, log logger.Logger) *Engine {
	rate := int64(cfg.InsertRatePerSecond)
	if rate <= 0 {
		rate = 20
	}
	return &Engine{
		rules:   rules,
		resSvc:  resSvc,
		cfg:     cfg,
		log:     log,
		limiter: middleware.NewTokenBucket(rate, rate),
	}
}

// RunSweep 执行一轮生成扫描。
// 单条规则失败只记录不中断，其余规则照常处理；报告里按规则给出计数。
func (e *Engine) RunSweep(ctx context.Context, now time.Time) (*GenerationReport, error) {
	if e == nil || e.rules == nil || e.resSvc == nil {
		return nil, fmt.Errorf("engine not initialized")
	}
	span, ctx := opentracing.StartSpanFromContext(ctx, "recurrence.RunSweep")
	defer span.Finish()

	now = now.UTC()
	report := &GenerationReport{RunAt: now}

	due, err := e.rules.ListDue(ctx, now)
	if err != nil {
		return nil, err
	}

	for i := range due {
		ruleID := due[i].ID
		rr, err := e.sweepRule(ctx, ruleID, now)
		if err != nil {
			// 单规则失败不终止整轮；水位线未推进，下一轮从原地重试
			if e.log != nil {
				e.log.Errorf("generation sweep failed for rule=%s: %v", ruleID, err)
			}
			continue
		}
		if rr == nil {
			continue
		}
		report.Rules = append(report.Rules, *rr)
		report.Created += rr.Created
		report.Skipped += rr.SkippedConflict + rr.SkippedExisting
	}

	span.SetTag("rules", len(due))
	span.SetTag("created", report.Created)
	return report, nil
}

// sweepRule 在规则行锁内处理单条规则。
func (e *Engine) sweepRule(ctx context.Context, ruleID string, now time.Time) (*RuleReport, error) {
	var out *RuleReport
	err := e.rules.WithRuleLock(ctx, ruleID, func(rule *RecurrenceRule) error {
		// 拿到锁后重读状态：期间可能被暂停/取消
		if rule.Status != StatusActive {
			return nil
		}
		if rule.PausedUntil != nil && rule.PausedUntil.After(now) {
			return nil
		}

		lower, upper := e.generationWindow(rule, now)
		rr := &RuleReport{RuleID: rule.ID}
		out = rr

		if upper.After(lower) {
			occs, err := Occurrences(rule, lower, upper)
			if err != nil {
				return err
			}
			for _, occ := range occs {
				if err := e.waitForToken(ctx); err != nil {
					return err
				}
				if err := e.materialize(ctx, rule, occ, now, rr); err != nil {
					return err
				}
			}
		}

		// 水位线单调推进，随规则行锁事务落盘
		if rule.LastGeneratedUntil == nil || upper.After(*rule.LastGeneratedUntil) {
			u := upper
			rule.LastGeneratedUntil = &u
		}
		t := now
		rule.LastGenerationRunAt = &t
		return nil
	})
	return out, err
}

// generationWindow 计算本轮生成窗口 [lower, upper)。
// 下界取 水位线 / 规则起始 / 当前时刻 三者最大值：暂停期过去的日期不回补。
func (e *Engine) generationWindow(rule *RecurrenceRule, now time.Time) (time.Time, time.Time) {
	lower := rule.WindowStart.UTC()
	if rule.LastGeneratedUntil != nil && rule.LastGeneratedUntil.After(lower) {
		lower = rule.LastGeneratedUntil.UTC()
	}
	if now.After(lower) {
		lower = now
	}

	horizon := e.cfg.HorizonDays
	if horizon <= 0 {
		horizon = 14
	}
	upper := now.AddDate(0, 0, horizon)
	if rule.WindowEnd != nil && rule.WindowEnd.Before(upper) {
		upper = rule.WindowEnd.UTC()
	}
	return lower, upper
}

// materialize 为单个 occurrence 创建预约。
// 冲突与幂等键已存在都是预期内的跳过，计数后继续；其余错误中断本规则。
func (e *Engine) materialize(ctx context.Context, rule *RecurrenceRule, occ Occurrence, now time.Time, rr *RuleReport) error {
	occStart := occ.StartAt
	_, err := e.resSvc.Create(ctx, reservation.CreateInput{
		VehicleID:        rule.VehicleID,
		GroupID:          rule.GroupID,
		RequesterID:      rule.RequesterID,
		StartAt:          occ.StartAt,
		EndAt:            occ.EndAt,
		Tier:             reservation.TierNormal,
		RecurrenceRuleID: rule.ID,
		OccurrenceStart:  &occStart,
	}, now)
	if err == nil {
		rr.Created++
		return nil
	}

	var ce *reservation.ConflictError
	if errors.As(err, &ce) {
		// 周期性生成永不压制他人：记录后跳过该 occurrence
		rr.SkippedConflict++
		if e.log != nil {
			e.log.Infof("rule=%s occurrence=%s skipped: %d conflict(s)",
				rule.ID, occ.StartAt.Format(time.RFC3339), len(ce.Conflicts))
		}
		return nil
	}
	if errors.Is(err, reservation.ErrConcurrentModification) {
		// 幂等键已存在：该 occurrence 之前已物化
		rr.SkippedExisting++
		return nil
	}
	return err
}

// waitForToken 令牌桶限速，避免一轮扫描打满数据库。
func (e *Engine) waitForToken(ctx context.Context) error {
	for !e.limiter.Allow(ctx) {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
	return nil
}
