package fee

import (
	"time"

	"github.com/SharedWheels/SharedWheels/internal/common/config"
)

// Calculator 超时罚金计算：按固定步长分段计费，单调不减，可封顶。
// 步长/单价/封顶均来自配置，不在代码里写死。
type Calculator struct {
	cfg config.LateFeeConfig
}

func NewCalculator(cfg config.LateFeeConfig) *Calculator {
	return &Calculator{cfg: cfg}
}

// LateMinutes 计算超时分钟数（向上取整）；未超时返回 0。
func LateMinutes(scheduledEnd, actualReturn time.Time) int {
	over := actualReturn.Sub(scheduledEnd)
	if over <= 0 {
		return 0
	}
	mins := int(over / time.Minute)
	if over%time.Minute != 0 {
		mins++
	}
	return mins
}

// Rate 超时分钟数 -> 罚金（分）。
// lateMinutes <= 0 恒为 0；对 lateMinutes 单调不减；不会出现负数。
func (c *Calculator) Rate(lateMinutes int) int64 {
	if c == nil || lateMinutes <= 0 {
		return 0
	}
	step := c.cfg.IncrementMinutes
	if step <= 0 {
		step = 15
	}
	increments := int64((lateMinutes + step - 1) / step)
	amount := increments * c.cfg.FeePerIncrement
	if c.cfg.MaxFeeCents > 0 && amount > c.cfg.MaxFeeCents {
		amount = c.cfg.MaxFeeCents
	}
	return amount
}

// Method 记录到罚金行上的计费口径标签。
func (c *Calculator) Method() string {
	if c == nil || c.cfg.CalculationMethod == "" {
		return "per_increment"
	}
	return c.cfg.CalculationMethod
}
