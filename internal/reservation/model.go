package reservation

import "time"

// Status 预约状态枚举（持久化为字符串）。
type Status string

const (
	StatusPendingApproval Status = "pending_approval" // 已创建，待组内审批
	StatusConfirmed       Status = "confirmed"        // 已确认，占用时间窗
	StatusInProgress      Status = "in_progress"      // 已取车，行程进行中
	StatusCompleted       Status = "completed"        // 已还车完成
	StatusCancelled       Status = "cancelled"        // 已取消（保留行，不物理删除）
)

// PriorityTier 预约优先级档位。
type PriorityTier string

const (
	TierNormal    PriorityTier = "normal"
	TierHigh      PriorityTier = "high"
	TierEmergency PriorityTier = "emergency"
)

// Reservation 预约 GORM 模型。
// 时间区间为半开区间 [StartAt, EndAt)，一律 UTC。
// 不变量：同一车辆上 status ∈ {confirmed, in_progress} 的预约区间互不重叠。
type Reservation struct {
	ID string `gorm:"primaryKey;size:36"`

	// 业务关联
	VehicleID   string `gorm:"index:idx_vehicle_window;size:36;not null"` // 车辆
	GroupID     string `gorm:"index;size:36;not null"`                    // 共有组
	RequesterID string `gorm:"index;size:36;not null"`                    // 发起人

	// 时间窗（半开区间，UTC）
	StartAt time.Time `gorm:"index:idx_vehicle_window;not null"`
	EndAt   time.Time `gorm:"not null"`

	Status Status       `gorm:"type:varchar(20);index;not null"`
	Tier   PriorityTier `gorm:"type:varchar(10);not null;default:'normal'"`

	// 紧急标记（受每月上限约束，超限时降级为 normal）
	IsEmergency     bool   `gorm:"not null;default:false"`
	EmergencyReason string `gorm:"size:255"`

	// 周期性规则生成的预约携带 (规则ID, 当次起始) 作为幂等键，
	// 唯一索引保证同一 occurrence 不会被重复物化。
	RecurrenceRuleID *string    `gorm:"size:36;index;uniqueIndex:uk_rule_occurrence"`
	OccurrenceStart  *time.Time `gorm:"uniqueIndex:uk_rule_occurrence"`

	// 审批/取消记账
	ApprovedBy   string     `gorm:"size:36"`
	ApprovedAt   *time.Time
	CancelledBy  string     `gorm:"size:36"`
	CancelReason string     `gorm:"size:255"`
	CancelledAt  *time.Time

	// 行程证据
	OdometerStart     int64
	OdometerEnd       int64
	DistanceKm        int64      // 实际行驶里程（公里）
	TripFeeCents      int64      `gorm:"not null;default:0"`     // 行程费（分）
	NeedsDamageReview bool       `gorm:"not null;default:false"` // 行后车损复核
	StartedAt         *time.Time // 取车时间
	CompletedAt       *time.Time // 还车时间
	ActualReturnAt    *time.Time // 实际还车时间（用于超时计费）

	// 提醒去重：每个窗口只触发一次，发出后记录时间戳
	PreCheckoutRemindedAt   *time.Time
	FinalCheckoutRemindedAt *time.Time
	MissedCheckoutNotedAt   *time.Time

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// IsTerminal 是否已进入终态。
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// BlockingStatuses 默认参与冲突检测的状态集合。
// 调用方可按场景收窄（例如审批前校验也计入 pending_approval）。
var BlockingStatuses = []Status{StatusPendingApproval, StatusConfirmed, StatusInProgress}

// VehicleBlock 车辆维护等运营性占用窗口。
// 冲突检测时折算为一条“合成的已确认预约”参与判定（永远阻塞，不可被紧急取消）。
type VehicleBlock struct {
	ID        string    `gorm:"primaryKey;size:36"`
	VehicleID string    `gorm:"index;size:36;not null"`
	StartAt   time.Time `gorm:"not null"`
	EndAt     time.Time `gorm:"not null"`
	Reason    string    `gorm:"size:255"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
}

// AsReservation 转成合成预约参与冲突检测。ID 加前缀便于在冲突结果里识别。
func (b VehicleBlock) AsReservation() Reservation {
	return Reservation{
		ID:        "block-" + b.ID,
		VehicleID: b.VehicleID,
		StartAt:   b.StartAt,
		EndAt:     b.EndAt,
		Status:    StatusConfirmed,
		Tier:      TierHigh,
	}
}
