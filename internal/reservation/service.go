package reservation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/SharedWheels/SharedWheels/internal/common/config"
	"github.com/SharedWheels/SharedWheels/internal/common/logger"
	"github.com/SharedWheels/SharedWheels/internal/priority"
)

// LateReturnInput 超时还车计费入参（传给罚金模块）。
type LateReturnInput struct {
	ReservationID string
	ReturnEventID string
	RequesterID   string
	VehicleID     string
	GroupID       string
	ScheduledEnd  time.Time
	ActualReturn  time.Time
}

// LateFeeRecord 罚金创建结果的最小视图（完整行由罚金模块持有）。
type LateFeeRecord struct {
	ID          string
	LateMinutes int
	AmountCents int64
	Status      string
}

// LateFeeRecorder 罚金模块端口：还车超时后创建一条待付罚金。
type LateFeeRecorder interface {
	RecordLateReturn(ctx context.Context, in LateReturnInput) (*LateFeeRecord, error)
}

// Store 预约服务所需的存储端口，生产实现为 *Repo。
type Store interface {
	GetByID(ctx context.Context, id string) (*Reservation, error)
	Save(ctx context.Context, res *Reservation) error
	CreateChecked(ctx context.Context, res *Reservation, filter ConflictFilter, now time.Time) error
	CreateWithCancellations(ctx context.Context, res *Reservation, cancelIDs []string, actorID, reason string, now time.Time) error
	CountEmergencyInMonth(ctx context.Context, requesterID string, ref time.Time) (int64, error)
	ListBlocking(ctx context.Context, vehicleID string, from time.Time, statuses []Status) ([]Reservation, error)
	List(ctx context.Context, f ListFilter) ([]Reservation, int64, error)
}

var _ Store = (*Repo)(nil)

// Service 封装预约领域的核心用例（不依赖 gRPC / HTTP），便于复用和测试。
type Service struct {
	repo     Store
	resolver *priority.Resolver
	groups   priority.GroupContextProvider
	usage    priority.UsageHistoryProvider
	fees     LateFeeRecorder
	cfg      config.BookingConfig
	capCfg   config.PriorityConfig
	log      logger.Logger
}

func NewService(
	repo Store,
	resolver *priority.Resolver,
	groups priority.GroupContextProvider,
	usage priority.UsageHistoryProvider,
	fees LateFeeRecorder,
	cfg config.BookingConfig,
	capCfg config.PriorityConfig,
	log logger.Logger,
) *Service {
	return &Service{
		repo:     repo,
		resolver: resolver,
		groups:   groups,
		usage:    usage,
		fees:     fees,
		cfg:      cfg,
		capCfg:   capCfg,
		log:      log,
	}
}

// CreateInput 创建预约的入参（可作为传输层 DTO 的基础）。
type CreateInput struct {
	VehicleID   string
	GroupID     string
	RequesterID string
	StartAt     time.Time
	EndAt       time.Time

	Tier            PriorityTier
	IsEmergency     bool
	EmergencyReason string

	// 周期性规则生成路径填写；用户直接创建时留空
	RecurrenceRuleID string
	OccurrenceStart  *time.Time
}

// ConflictCheck 冲突查询结果。
type ConflictCheck struct {
	Conflicts   []Reservation
	Recommended *Interval
}

// CheckConflicts 只读冲突查询：返回与候选窗重叠的阻塞预约及推荐备选窗口。
func (s *Service) CheckConflicts(ctx context.Context, vehicleID string, startAt, endAt time.Time, excludeID string) (*ConflictCheck, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("service not initialized")
	}
	vehicleID = strings.TrimSpace(vehicleID)
	if vehicleID == "" {
		return nil, fmt.Errorf("vehicle_id required")
	}
	if !endAt.After(startAt) {
		return nil, fmt.Errorf("end_at must be after start_at")
	}

	blocking, err := s.repo.ListBlocking(ctx, vehicleID, startAt.Add(-24*time.Hour), BlockingStatuses)
	if err != nil {
		return nil, err
	}
	candidate := Interval{StartAt: startAt.UTC(), EndAt: endAt.UTC()}
	conflicts := FindConflicts(candidate, blocking, ConflictFilter{ExcludeReservationID: excludeID})

	out := &ConflictCheck{Conflicts: conflicts}
	if len(conflicts) > 0 {
		out.Recommended = RecommendWindow(candidate, blocking)
	}
	return out, nil
}

// Create 创建预约。
// 冲突是正常可报告的业务结果：返回 *ConflictError（含冲突集合与推荐窗口）。
// 紧急请求在未超出每月上限时可自动取消得分更低的冲突预约；超限则静默降级为普通请求。
func (s *Service) Create(ctx context.Context, in CreateInput, now time.Time) (*Reservation, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("service not initialized")
	}
	if err := validateCreate(&in); err != nil {
		return nil, err
	}
	now = now.UTC()

	res := s.newReservation(in, now)

	if in.IsEmergency {
		n, err := s.repo.CountEmergencyInMonth(ctx, in.RequesterID, now)
		if err != nil {
			return nil, err
		}
		if int(n) >= s.capCfg.EmergencyMonthlyCap {
			// 超出每月上限：紧急标记降级为普通仲裁，请求继续走标准路径
			if s.log != nil {
				s.log.Warnf("emergency cap exceeded for requester=%s (used=%d cap=%d), demoting to normal",
					in.RequesterID, n, s.capCfg.EmergencyMonthlyCap)
			}
			res.IsEmergency = false
			res.Tier = TierNormal
		}
	}

	filter := ConflictFilter{ExcludeRecurrenceRuleID: in.RecurrenceRuleID}
	err := s.repo.CreateChecked(ctx, res, filter, now)
	if err == nil {
		return res, nil
	}

	var ce *ConflictError
	if !errors.As(err, &ce) {
		return nil, err
	}
	if !res.IsEmergency {
		return nil, ce
	}

	// 紧急通道：只压制得分严格更低的冲突；维护窗口（合成预约）永不可压制。
	cancelIDs, err := s.supersedableConflicts(ctx, res, ce.Conflicts, now)
	if err != nil {
		return nil, err
	}
	if cancelIDs == nil {
		return nil, ce
	}

	if err := s.repo.CreateWithCancellations(ctx, res, cancelIDs, in.RequesterID, "superseded by emergency", now); err != nil {
		return nil, err
	}
	if s.log != nil {
		s.log.Infof("emergency reservation %s superseded %d conflicting reservation(s)", res.ID, len(cancelIDs))
	}
	return res, nil
}

func (s *Service) newReservation(in CreateInput, now time.Time) *Reservation {
	status := StatusPendingApproval
	if !s.cfg.RequireApproval {
		// 未配置审批关口的组走快速通道，创建即确认
		status = StatusConfirmed
	}
	tier := in.Tier
	if tier == "" {
		tier = TierNormal
	}
	if in.IsEmergency {
		tier = TierEmergency
	}

	res := &Reservation{
		ID:              uuid.NewString(),
		VehicleID:       strings.TrimSpace(in.VehicleID),
		GroupID:         strings.TrimSpace(in.GroupID),
		RequesterID:     strings.TrimSpace(in.RequesterID),
		StartAt:         in.StartAt.UTC(),
		EndAt:           in.EndAt.UTC(),
		Status:          status,
		Tier:            tier,
		IsEmergency:     in.IsEmergency,
		EmergencyReason: strings.TrimSpace(in.EmergencyReason),
	}
	if status == StatusConfirmed {
		t := now
		res.ApprovedAt = &t
	}
	if rid := strings.TrimSpace(in.RecurrenceRuleID); rid != "" {
		res.RecurrenceRuleID = &rid
		if in.OccurrenceStart != nil {
			t := in.OccurrenceStart.UTC()
			res.OccurrenceStart = &t
		}
	}
	return res
}

// supersedableConflicts 用优先级打分判断紧急请求能否压制全部冲突。
// 返回 nil 表示存在压不掉的冲突（同级紧急、维护窗口等），应按普通冲突上报。
func (s *Service) supersedableConflicts(ctx context.Context, res *Reservation, conflicts []Reservation, now time.Time) ([]string, error) {
	if s.resolver == nil {
		return nil, nil
	}

	candidates := make([]priority.Candidate, 0, len(conflicts)+1)
	mine, err := s.candidateFor(ctx, res.GroupID, res.VehicleID, res.RequesterID, true, now)
	if err != nil {
		return nil, err
	}
	candidates = append(candidates, mine)

	for i := range conflicts {
		c := conflicts[i]
		if strings.HasPrefix(c.ID, "block-") {
			// 维护占用不可被压制
			return nil, nil
		}
		cand, err := s.candidateFor(ctx, c.GroupID, c.VehicleID, c.RequesterID, c.IsEmergency, c.CreatedAt)
		if err != nil {
			return nil, err
		}
		cand.Ref = c.ID
		candidates = append(candidates, cand)
	}

	ranked := s.resolver.Rank(candidates)
	myScore := float64(0)
	for _, rc := range ranked {
		if rc.Ref == "" && rc.RequesterID == res.RequesterID {
			myScore = rc.Score
		}
	}

	ids := make([]string, 0, len(conflicts))
	for _, rc := range ranked {
		if rc.Ref == "" {
			continue
		}
		if rc.Score >= myScore {
			return nil, nil
		}
		ids = append(ids, rc.Ref)
	}
	return ids, nil
}

func (s *Service) candidateFor(ctx context.Context, groupID, vehicleID, requesterID string, isEmergency bool, createdAt time.Time) (priority.Candidate, error) {
	cand := priority.Candidate{
		RequesterID: requesterID,
		IsEmergency: isEmergency,
		RequestedAt: createdAt,
	}
	if s.groups != nil {
		members, err := s.groups.GetMembers(ctx, groupID)
		if err != nil {
			return cand, fmt.Errorf("group context: %w", err)
		}
		for _, m := range members {
			if m.UserID == requesterID {
				cand.OwnershipShare = m.Share
				break
			}
		}
	}
	if s.usage != nil {
		days, err := s.usage.DaysSinceLastReservation(ctx, requesterID, vehicleID)
		if err != nil {
			return cand, fmt.Errorf("usage history: %w", err)
		}
		cand.DaysSinceLast = days
	}
	return cand, nil
}

// Approve 审批通过：pending_approval -> confirmed。
// 确认即进入硬阻塞状态集，此刻必须重新通过冲突校验。
func (s *Service) Approve(ctx context.Context, id, approverID string, now time.Time) (*Reservation, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("service not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("id required")
	}

	res, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	blocking, err := s.repo.ListBlocking(ctx, res.VehicleID, res.StartAt.Add(-24*time.Hour),
		[]Status{StatusConfirmed, StatusInProgress})
	if err != nil {
		return nil, err
	}
	candidate := Interval{StartAt: res.StartAt, EndAt: res.EndAt}
	if conflicts := FindConflicts(candidate, blocking, ConflictFilter{ExcludeReservationID: id}); len(conflicts) > 0 {
		return nil, &ConflictError{
			VehicleID:   res.VehicleID,
			Requested:   candidate,
			Conflicts:   conflicts,
			Recommended: RecommendWindow(candidate, blocking),
		}
	}

	if err := ApplyTransition(res, StatusConfirmed, now.UTC()); err != nil {
		return nil, err
	}
	res.ApprovedBy = strings.TrimSpace(approverID)
	if err := s.repo.Save(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}

// TripEvidence 取车/还车时记录的证据。
type TripEvidence struct {
	OdometerKm     int64
	ReturnEventID  string
	ReturnedAt     time.Time
	DamageReported bool
}

// BeginTrip 取车：confirmed -> in_progress，记录起始里程。
func (s *Service) BeginTrip(ctx context.Context, id string, ev TripEvidence, now time.Time) (*Reservation, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("service not initialized")
	}
	res, err := s.repo.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}
	if err := ApplyTransition(res, StatusInProgress, now.UTC()); err != nil {
		return nil, err
	}
	res.OdometerStart = ev.OdometerKm
	if err := s.repo.Save(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}

// CompleteResult 还车结果：预约终态 + 可能产生的超时罚金。
type CompleteResult struct {
	Reservation *Reservation
	LateFee     *LateFeeRecord
}

// CompleteTrip 还车：in_progress -> completed。
// 记录里程/行程费；实际还车时间晚于 EndAt 时触发超时罚金计算。
func (s *Service) CompleteTrip(ctx context.Context, id string, ev TripEvidence, now time.Time) (*CompleteResult, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("service not initialized")
	}
	res, err := s.repo.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}

	now = now.UTC()
	if err := ApplyTransition(res, StatusCompleted, now); err != nil {
		return nil, err
	}

	returnedAt := ev.ReturnedAt.UTC()
	if returnedAt.IsZero() {
		returnedAt = now
	}
	res.ActualReturnAt = &returnedAt
	res.OdometerEnd = ev.OdometerKm
	if res.OdometerEnd > res.OdometerStart {
		res.DistanceKm = res.OdometerEnd - res.OdometerStart
	}
	res.TripFeeCents = res.DistanceKm * s.cfg.TripFeePerKmCents
	res.NeedsDamageReview = ev.DamageReported

	if err := s.repo.Save(ctx, res); err != nil {
		return nil, err
	}

	out := &CompleteResult{Reservation: res}
	if s.fees != nil && returnedAt.After(res.EndAt) {
		eventID := strings.TrimSpace(ev.ReturnEventID)
		if eventID == "" {
			// 还车事件与预约 1:1，缺省用预约 ID 作为计费幂等键
			eventID = res.ID
		}
		rec, err := s.fees.RecordLateReturn(ctx, LateReturnInput{
			ReservationID: res.ID,
			ReturnEventID: eventID,
			RequesterID:   res.RequesterID,
			VehicleID:     res.VehicleID,
			GroupID:       res.GroupID,
			ScheduledEnd:  res.EndAt,
			ActualReturn:  returnedAt,
		})
		if err != nil {
			return nil, err
		}
		out.LateFee = rec
	}
	return out, nil
}

// Cancel 取消：任意非终态 -> cancelled，保留行用于审计与周期性记账。
func (s *Service) Cancel(ctx context.Context, id, actorID, reason string, now time.Time) (*Reservation, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("service not initialized")
	}
	res, err := s.repo.GetByID(ctx, strings.TrimSpace(id))
	if err != nil {
		return nil, err
	}
	if err := ApplyTransition(res, StatusCancelled, now.UTC()); err != nil {
		return nil, err
	}
	res.CancelledBy = strings.TrimSpace(actorID)
	res.CancelReason = strings.TrimSpace(reason)
	if err := s.repo.Save(ctx, res); err != nil {
		return nil, err
	}
	return res, nil
}

// Get 查询单个预约。
func (s *Service) Get(ctx context.Context, id string) (*Reservation, error) {
	if s == nil || s.repo == nil {
		return nil, fmt.Errorf("service not initialized")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("id required")
	}
	return s.repo.GetByID(ctx, id)
}

// List 分页查询。
func (s *Service) List(ctx context.Context, f ListFilter) ([]Reservation, int64, error) {
	if s == nil || s.repo == nil {
		return nil, 0, fmt.Errorf("service not initialized")
	}
	return s.repo.List(ctx, f)
}

func validateCreate(in *CreateInput) error {
	if strings.TrimSpace(in.VehicleID) == "" {
		return fmt.Errorf("vehicle_id required")
	}
	if strings.TrimSpace(in.GroupID) == "" {
		return fmt.Errorf("group_id required")
	}
	if strings.TrimSpace(in.RequesterID) == "" {
		return fmt.Errorf("requester_id required")
	}
	if in.StartAt.IsZero() || in.EndAt.IsZero() {
		return fmt.Errorf("start_at/end_at required")
	}
	if !in.EndAt.After(in.StartAt) {
		return fmt.Errorf("end_at must be after start_at")
	}
	return nil
}
