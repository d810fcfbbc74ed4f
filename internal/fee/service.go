package fee

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	mysqldrv "github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/SharedWheels/SharedWheels/internal/reservation"
)

// ErrNotFound 罚金行不存在。
var ErrNotFound = errors.New("fee: not found")

// Service 罚金领域用例：创建（由还车流转触发）、豁免、标记已收取。
type Service struct {
	db   *gorm.DB
	calc *Calculator
}

func NewService(db *gorm.DB, calc *Calculator) *Service {
	return &Service{db: db, calc: calc}
}

// RecordLateReturn 为一次超时还车创建罚金行（status=pending）。
// 满足 reservation.LateFeeRecorder 端口。
// 同一 return_event_id 重复触发时返回已存在的行（唯一索引兜底，幂等）。
func (s *Service) RecordLateReturn(ctx context.Context, in reservation.LateReturnInput) (*reservation.LateFeeRecord, error) {
	if s == nil || s.db == nil || s.calc == nil {
		return nil, fmt.Errorf("service not initialized")
	}
	if strings.TrimSpace(in.ReturnEventID) == "" {
		return nil, fmt.Errorf("return_event_id required")
	}

	lateMins := LateMinutes(in.ScheduledEnd, in.ActualReturn)
	if lateMins <= 0 {
		// 未超时不产生罚金
		return nil, nil
	}
	amount := s.calc.Rate(lateMins)

	row := &LateReturnFee{
		ID:               uuid.NewString(),
		ReservationID:    in.ReservationID,
		ReturnEventID:    strings.TrimSpace(in.ReturnEventID),
		RequesterID:      in.RequesterID,
		VehicleID:        in.VehicleID,
		GroupID:          in.GroupID,
		LateMinutes:      lateMins,
		FeeCents:         amount,
		OriginalFeeCents: amount,
		Method:           s.calc.Method(),
		Status:           StatusPending,
	}

	err := s.db.WithContext(ctx).Create(row).Error
	if err != nil {
		if isDuplicateKey(err) {
			var existing LateReturnFee
			if ferr := s.db.WithContext(ctx).
				Where("return_event_id = ?", row.ReturnEventID).
				First(&existing).Error; ferr == nil {
				return toRecord(&existing), nil
			}
		}
		return nil, err
	}
	return toRecord(row), nil
}

// Waive 管理员豁免：有效金额清零，原始金额与豁免人/原因/时间留痕。
func (s *Service) Waive(ctx context.Context, id, actorID, reason string, now time.Time) (*LateReturnFee, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("service not initialized")
	}
	row, err := s.getByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if row.Status == StatusCharged {
		return nil, fmt.Errorf("fee: cannot waive a charged fee (id=%s)", id)
	}

	t := now.UTC()
	row.Status = StatusWaived
	row.FeeCents = 0
	row.WaivedBy = strings.TrimSpace(actorID)
	row.WaiveReason = strings.TrimSpace(reason)
	row.WaivedAt = &t
	if err := s.db.WithContext(ctx).Save(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

// MarkCharged 账务集成回调：收款完成后标记 charged 并回填外部单据号。
func (s *Service) MarkCharged(ctx context.Context, id, billingRef string, now time.Time) (*LateReturnFee, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("service not initialized")
	}
	row, err := s.getByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if row.Status != StatusPending {
		return nil, fmt.Errorf("fee: only pending fees can be charged (id=%s status=%s)", id, row.Status)
	}

	t := now.UTC()
	row.Status = StatusCharged
	row.BillingRef = strings.TrimSpace(billingRef)
	row.ChargedAt = &t
	if err := s.db.WithContext(ctx).Save(row).Error; err != nil {
		return nil, err
	}
	return row, nil
}

func (s *Service) getByID(ctx context.Context, id string) (*LateReturnFee, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("id required")
	}
	var row LateReturnFee
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &row, nil
}

func toRecord(row *LateReturnFee) *reservation.LateFeeRecord {
	return &reservation.LateFeeRecord{
		ID:          row.ID,
		LateMinutes: row.LateMinutes,
		AmountCents: row.FeeCents,
		Status:      string(row.Status),
	}
}

func isDuplicateKey(err error) bool {
	var me *mysqldrv.MySQLError
	if errors.As(err, &me) && me.Number == 1062 {
		return true
	}
	return errors.Is(err, gorm.ErrDuplicatedKey)
}

var _ reservation.LateFeeRecorder = (*Service)(nil)
