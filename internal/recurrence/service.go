package recurrence

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/SharedWheels/SharedWheels/internal/common/logger"
	"github.com/SharedWheels/SharedWheels/internal/reservation"
)

// Service 周期性规则的用户操作：创建 / 暂停 / 恢复 / 取消。
// 所有状态与水位线的修改都经由规则行锁，与后台生成任务互斥。
type Service struct {
	repo    *Repo
	resRepo *reservation.Repo
	log     logger.Logger
}

func NewService(repo *Repo, resRepo *reservation.Repo, log logger.Logger) *Service {
	return &Service{repo: repo, resRepo: resRepo, log: log}
}

// CreateRuleInput 创建规则的入参。
type CreateRuleInput struct {
	VehicleID   string
	GroupID     string
	RequesterID string

	Pattern   Pattern
	IntervalN int
	Weekdays  []time.Weekday

	DayStartMinutes int
	DayEndMinutes   int

	WindowStart time.Time
	WindowEnd   *time.Time
	TimeZone    string
}

// CreateRule 创建规则（状态 active，水位线为空，首轮扫描开始物化）。
func (s *Service) CreateRule(ctx context.Context, in CreateRuleInput) (*RecurrenceRule, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("service not initialized")
	}
	if err := validateRule(&in); err != nil {
		return nil, err
	}

	rule := &RecurrenceRule{
		ID:              uuid.NewString(),
		VehicleID:       strings.TrimSpace(in.VehicleID),
		GroupID:         strings.TrimSpace(in.GroupID),
		RequesterID:     strings.TrimSpace(in.RequesterID),
		Pattern:         in.Pattern,
		IntervalN:       in.IntervalN,
		Weekdays:        WeekdaysJoin(in.Weekdays),
		DayStartMinutes: in.DayStartMinutes,
		DayEndMinutes:   in.DayEndMinutes,
		WindowStart:     in.WindowStart.UTC(),
		Status:          StatusActive,
		TimeZone:        strings.TrimSpace(in.TimeZone),
	}
	if rule.TimeZone == "" {
		rule.TimeZone = "UTC"
	}
	if in.WindowEnd != nil {
		t := in.WindowEnd.UTC()
		rule.WindowEnd = &t
	}

	if err := s.repo.Create(ctx, rule); err != nil {
		return nil, err
	}
	return rule, nil
}

// Pause 暂停到指定时刻。暂停期间扫描整条跳过、水位线不动；
// 恢复后只从当下往前生成，暂停期错过的日期不回补。
func (s *Service) Pause(ctx context.Context, id string, until time.Time) (*RecurrenceRule, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("service not initialized")
	}
	var out *RecurrenceRule
	err := s.repo.WithRuleLock(ctx, strings.TrimSpace(id), func(rule *RecurrenceRule) error {
		if rule.Status == StatusCancelled {
			return fmt.Errorf("recurrence: rule %s is cancelled", rule.ID)
		}
		t := until.UTC()
		rule.Status = StatusPaused
		rule.PausedUntil = &t
		out = rule
		return nil
	})
	return out, err
}

// Resume 恢复生成。
func (s *Service) Resume(ctx context.Context, id string) (*RecurrenceRule, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("service not initialized")
	}
	var out *RecurrenceRule
	err := s.repo.WithRuleLock(ctx, strings.TrimSpace(id), func(rule *RecurrenceRule) error {
		if rule.Status == StatusCancelled {
			return fmt.Errorf("recurrence: rule %s is cancelled", rule.ID)
		}
		rule.Status = StatusActive
		rule.PausedUntil = nil
		out = rule
		return nil
	})
	return out, err
}

// CancelRule 取消规则：停止所有后续生成，并取消已生成、尚未开始的预约；
// 进行中/已完成的预约不受影响。
func (s *Service) CancelRule(ctx context.Context, id, reason string, now time.Time) (*RecurrenceRule, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("service not initialized")
	}
	now = now.UTC()
	var out *RecurrenceRule
	err := s.repo.WithRuleLock(ctx, strings.TrimSpace(id), func(rule *RecurrenceRule) error {
		if rule.Status == StatusCancelled {
			out = rule
			return nil
		}
		t := now
		rule.Status = StatusCancelled
		rule.CancelReason = strings.TrimSpace(reason)
		rule.CancelledAt = &t
		out = rule
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.resRepo != nil {
		n, err := s.resRepo.CancelFutureByRule(ctx, out.ID, "recurrence rule cancelled", now)
		if err != nil {
			return nil, err
		}
		if s.log != nil && n > 0 {
			s.log.Infof("rule=%s cancelled, revoked %d future reservation(s)", out.ID, n)
		}
	}
	return out, nil
}

// Get 查询单条规则。
func (s *Service) Get(ctx context.Context, id string) (*RecurrenceRule, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("service not initialized")
	}
	return s.repo.GetByID(ctx, strings.TrimSpace(id))
}

func validateRule(in *CreateRuleInput) error {
	if strings.TrimSpace(in.VehicleID) == "" {
		return fmt.Errorf("vehicle_id required")
	}
	if strings.TrimSpace(in.GroupID) == "" {
		return fmt.Errorf("group_id required")
	}
	if strings.TrimSpace(in.RequesterID) == "" {
		return fmt.Errorf("requester_id required")
	}
	switch in.Pattern {
	case PatternDaily, PatternMonthly:
	case PatternWeekly:
		if len(in.Weekdays) == 0 {
			return fmt.Errorf("weekly pattern requires weekdays")
		}
	default:
		return fmt.Errorf("unknown pattern: %s", in.Pattern)
	}
	if in.IntervalN < 1 {
		return fmt.Errorf("interval must be >= 1")
	}
	if in.DayEndMinutes <= in.DayStartMinutes {
		return fmt.Errorf("day_end must be after day_start")
	}
	if in.DayStartMinutes < 0 || in.DayEndMinutes > 24*60 {
		return fmt.Errorf("day start/end out of range")
	}
	if in.WindowStart.IsZero() {
		return fmt.Errorf("window_start required")
	}
	if in.WindowEnd != nil && !in.WindowEnd.After(in.WindowStart) {
		return fmt.Errorf("window_end must be after window_start")
	}
	if tz := strings.TrimSpace(in.TimeZone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("invalid time zone %q: %w", tz, err)
		}
	}
	return nil
}
