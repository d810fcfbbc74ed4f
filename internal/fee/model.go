package fee

import "time"

// Status 罚金状态。
type Status string

const (
	StatusPending Status = "pending" // 已生成，待收取
	StatusCharged Status = "charged" // 账务侧已收取
	StatusWaived  Status = "waived"  // 管理员豁免（保留原始金额供审计）
)

// LateReturnFee 超时还车罚金 GORM 模型。
// 与还车事件 1:1：return_event_id 唯一索引保证同一事件不会重复计费。
type LateReturnFee struct {
	ID string `gorm:"primaryKey;size:36"`

	ReservationID string `gorm:"index;size:36;not null"`
	ReturnEventID string `gorm:"uniqueIndex;size:36;not null"`
	RequesterID   string `gorm:"index;size:36;not null"`
	VehicleID     string `gorm:"size:36;not null"`
	GroupID       string `gorm:"size:36;not null"`

	LateMinutes int `gorm:"not null"`
	// 金额单位：分。豁免时 FeeCents 清零，OriginalFeeCents 不动。
	FeeCents         int64  `gorm:"not null"`
	OriginalFeeCents int64  `gorm:"not null"`
	Method           string `gorm:"size:64"` // 计费口径标签，如 per_15min_increment

	Status Status `gorm:"type:varchar(10);index;not null;default:'pending'"`

	// 豁免记账
	WaivedBy     string     `gorm:"size:36"`
	WaiveReason  string     `gorm:"size:255"`
	WaivedAt     *time.Time

	// 账务侧回填的外部单据号
	BillingRef string `gorm:"size:64"`
	ChargedAt  *time.Time

	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}
