package priority

import (
	"sort"
	"time"

	"github.com/SharedWheels/SharedWheels/internal/common/config"
)

// Candidate 参与同一时间窗仲裁的一方。
type Candidate struct {
	RequesterID    string
	Ref            string  // 可选：关联的已有预约 ID（新请求留空）
	OwnershipShare float64 // 所在组的产权份额 (0,1]
	DaysSinceLast  float64 // 距上次用车天数（公平性输入）
	IsEmergency    bool
	RequestedAt    time.Time // 请求创建时间，平分时早者胜
}

// Ranked 打分后的候选。
type Ranked struct {
	Candidate
	Score float64
}

// Resolver 冲突仲裁打分器。
// score = w1*份额 + w2*f(等待天数) + w3*紧急加成；权重全部来自配置。
type Resolver struct {
	cfg config.PriorityConfig
}

func NewResolver(cfg config.PriorityConfig) *Resolver {
	return &Resolver{cfg: cfg}
}

// Score 单个候选的得分。
func (r *Resolver) Score(c Candidate) float64 {
	if r == nil {
		return 0
	}
	s := r.cfg.WeightOwnershipShare * c.OwnershipShare
	s += r.cfg.WeightWaitDays * r.waitFactor(c.DaysSinceLast)
	if c.IsEmergency {
		s += r.cfg.WeightEmergency
	}
	return s
}

// waitFactor 等待天数的饱和函数：线性爬升，到饱和点后封顶为 1。
// 久未用车者得到公平性补偿，但不会无限累积。
func (r *Resolver) waitFactor(days float64) float64 {
	if days <= 0 {
		return 0
	}
	sat := r.cfg.WaitSaturationDays
	if sat <= 0 {
		sat = 30
	}
	if days >= sat {
		return 1
	}
	return days / sat
}

// Rank 打分并按得分降序排序；同分按 RequestedAt 升序（先到先得）。
func (r *Resolver) Rank(candidates []Candidate) []Ranked {
	out := make([]Ranked, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, Ranked{Candidate: c, Score: r.Score(c)})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].RequestedAt.Before(out[j].RequestedAt)
	})
	return out
}
