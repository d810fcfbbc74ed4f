package priority

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/hashicorp/consul/api"

	"github.com/SharedWheels/SharedWheels/internal/common/config"
	"github.com/SharedWheels/SharedWheels/internal/common/middleware"
)

// GroupMember 组成员及其产权份额（外部服务的只读视图，本核心不拥有也不修改）。
type GroupMember struct {
	UserID string  `json:"user_id"`
	Share  float64 `json:"share"` // (0,1]，同组份额之和为 1
	Role   string  `json:"role"`
}

// GroupContextProvider 组上下文只读端口。
// 上游把组成员建模成 ORM 关联对象的做法在这里显式化为端口注入。
type GroupContextProvider interface {
	GetMembers(ctx context.Context, groupID string) ([]GroupMember, error)
}

// UsageHistoryProvider 用车历史只读端口。
type UsageHistoryProvider interface {
	DaysSinceLastReservation(ctx context.Context, userID, vehicleID string) (float64, error)
}

// EmergencyCountProvider 当月紧急预约计数端口（上限校验用）。
// 默认由预约仓储本地实现；拆分部署时可换成远端实现。
type EmergencyCountProvider interface {
	CountEmergencyInMonth(ctx context.Context, requesterID string, ref time.Time) (int64, error)
}

// HTTPProviders 通过 Consul 发现 + HTTP 调用外部组/用量服务的实现。
// 出站调用包在熔断器里，外部服务抖动不应拖垮预约主链路。
type HTTPProviders struct {
	consul  *api.Client
	cfg     config.ProvidersConfig
	client  *http.Client
	breaker *middleware.CircuitBreaker
}

func NewHTTPProviders(consul *api.Client, cfg config.ProvidersConfig) *HTTPProviders {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	reset := time.Duration(cfg.BreakerResetSecs) * time.Second
	if reset <= 0 {
		reset = 30 * time.Second
	}
	failures := cfg.BreakerFailures
	if failures <= 0 {
		failures = 5
	}
	return &HTTPProviders{
		consul:  consul,
		cfg:     cfg,
		client:  &http.Client{Timeout: timeout},
		breaker: middleware.NewCircuitBreaker("providers", failures, reset),
	}
}

// resolveAddr 从 Consul 取一个健康实例地址。
func (p *HTTPProviders) resolveAddr(service string) (string, error) {
	if p.consul == nil {
		return "", fmt.Errorf("consul client is nil")
	}
	entries, _, err := p.consul.Health().Service(service, "", true, nil)
	if err != nil {
		return "", fmt.Errorf("consul lookup %s: %w", service, err)
	}
	if len(entries) == 0 {
		return "", fmt.Errorf("no healthy instance for %s", service)
	}
	svc := entries[0].Service
	return fmt.Sprintf("http://%s:%d", svc.Address, svc.Port), nil
}

func (p *HTTPProviders) getJSON(ctx context.Context, service, path string, out interface{}) error {
	return p.breaker.Call(ctx, func() error {
		base, err := p.resolveAddr(service)
		if err != nil {
			return err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
		if err != nil {
			return err
		}
		resp, err := p.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%s%s: unexpected status %d", service, path, resp.StatusCode)
		}
		return json.NewDecoder(resp.Body).Decode(out)
	})
}

func (p *HTTPProviders) GetMembers(ctx context.Context, groupID string) ([]GroupMember, error) {
	var members []GroupMember
	path := fmt.Sprintf("/internal/groups/%s/members", groupID)
	if err := p.getJSON(ctx, p.cfg.GroupServiceName, path, &members); err != nil {
		return nil, err
	}
	return members, nil
}

func (p *HTTPProviders) DaysSinceLastReservation(ctx context.Context, userID, vehicleID string) (float64, error) {
	var out struct {
		Days float64 `json:"days"`
	}
	path := fmt.Sprintf("/internal/usage/%s/vehicles/%s/days-since-last", userID, vehicleID)
	if err := p.getJSON(ctx, p.cfg.UsageServiceName, path, &out); err != nil {
		return 0, err
	}
	return out.Days, nil
}

var (
	_ GroupContextProvider = (*HTTPProviders)(nil)
	_ UsageHistoryProvider = (*HTTPProviders)(nil)
)
