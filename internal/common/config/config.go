package config

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Config 应用配置
type Config struct {
	Server     ServerConfig     `json:"server"`
	Database   DatabaseConfig   `json:"database"`
	Consul     ConsulConfig     `json:"consul"`
	Jaeger     JaegerConfig     `json:"jaeger"`
	Log        LogConfig        `json:"log"`
	Auth       AuthConfig       `json:"auth"`
	Booking    BookingConfig    `json:"booking"`
	Priority   PriorityConfig   `json:"priority"`
	Recurrence RecurrenceConfig `json:"recurrence"`
	LateFee    LateFeeConfig    `json:"late_fee"`
	Providers  ProvidersConfig  `json:"providers"`
}

// ServerConfig 服务配置
type ServerConfig struct {
	Name     string `json:"name"`      // 服务名称
	Host     string `json:"host"`      // 服务地址
	Port     int    `json:"port"`      // 服务端口
	GRPCPort int    `json:"grpc_port"` // gRPC端口
	HTTPPort int    `json:"http_port"` // HTTP端口
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver   string `json:"driver"`   // 数据库驱动
	Host     string `json:"host"`     // 数据库地址
	Port     int    `json:"port"`     // 数据库端口
	User     string `json:"user"`     // 用户名
	Password string `json:"password"` // 密码
	Database string `json:"database"` // 数据库名
	MaxIdle  int    `json:"max_idle"` // 最大空闲连接
	MaxOpen  int    `json:"max_open"` // 最大打开连接
}

// ConsulConfig Consul配置
type ConsulConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// JaegerConfig Jaeger配置
type JaegerConfig struct {
	Endpoint string  `json:"endpoint"`
	Sampler  float64 `json:"sampler"` // 采样率 0.0-1.0
}

// LogConfig 日志配置
type LogConfig struct {
	Level  string `json:"level"`  // debug, info, warn, error
	Format string `json:"format"` // json, text
	Output string `json:"output"` // stdout, file
	Path   string `json:"path"`   // 日志文件路径
}

// AuthConfig JWT 鉴权配置（供 gRPC 拦截器使用）
type AuthConfig struct {
	Enabled       bool                `json:"enabled"`
	JWTSecret     string              `json:"jwt_secret"`
	Issuer        string              `json:"issuer"`
	Audience      string              `json:"audience"`
	PublicMethods []string            `json:"public_methods"` // 免鉴权方法全名列表
	RBAC          map[string][]string `json:"rbac"`           // method -> 允许角色
}

// BookingConfig 预约生命周期相关的可调参数。
// 提醒偏移均为“相对 start_at 的分钟数”，业务侧不应硬编码。
type BookingConfig struct {
	RequireApproval          bool  `json:"require_approval"`            // 组内是否启用审批关口；关闭则创建直达 confirmed
	PreCheckoutRemindMinutes int   `json:"pre_checkout_remind_minutes"` // 出发前提醒（默认 24h = 1440）
	FinalCheckoutMinutes     int   `json:"final_checkout_minutes"`      // 最后提醒（默认 1h = 60）
	MissedCheckoutMinutes    int   `json:"missed_checkout_minutes"`     // 超过 start_at 未取车提醒（默认 30）
	TripFeePerKmCents        int64 `json:"trip_fee_per_km_cents"`       // 行程费单价（分/公里），完成时记账
}

// PriorityConfig 冲突仲裁打分的权重配置。
type PriorityConfig struct {
	WeightOwnershipShare float64 `json:"weight_ownership_share"` // 份额权重
	WeightWaitDays       float64 `json:"weight_wait_days"`       // 等待天数权重（饱和函数）
	WeightEmergency      float64 `json:"weight_emergency"`       // 紧急加成
	WaitSaturationDays   float64 `json:"wait_saturation_days"`   // 等待天数饱和点
	EmergencyMonthlyCap  int     `json:"emergency_monthly_cap"`  // 每人每自然月紧急预约上限
}

// RecurrenceConfig 周期性预约生成的配置。
type RecurrenceConfig struct {
	HorizonDays          int `json:"horizon_days"`           // 滚动生成窗口（天）
	SweepIntervalMinutes int `json:"sweep_interval_minutes"` // 后台扫描周期（分钟）
	InsertRatePerSecond  int `json:"insert_rate_per_second"` // 单次扫描内落库限速（令牌桶）
}

// LateFeeConfig 超时还车罚金配置（分段计费，金额单位：分）。
type LateFeeConfig struct {
	IncrementMinutes  int    `json:"increment_minutes"`  // 计费步长（默认 15 分钟）
	FeePerIncrement   int64  `json:"fee_per_increment"`  // 每步长金额（分）
	MaxFeeCents       int64  `json:"max_fee_cents"`      // 封顶金额（分），0 表示不封顶
	CalculationMethod string `json:"calculation_method"` // 记录在罚金行上的口径标签
}

// ProvidersConfig 外部只读数据服务（组成员/用量历史）的访问配置。
type ProvidersConfig struct {
	GroupServiceName string `json:"group_service_name"` // Consul 中的服务名
	UsageServiceName string `json:"usage_service_name"`
	TimeoutSeconds   int    `json:"timeout_seconds"`
	BreakerFailures  int    `json:"breaker_failures"`      // 熔断阈值
	BreakerResetSecs int    `json:"breaker_reset_seconds"` // 熔断恢复窗口
}

var (
	globalConfig *Config
	configOnce   sync.Once
)

// LoadConfig 加载配置
func LoadConfig(configPath string) (*Config, error) {
	var err error
	configOnce.Do(func() {
		globalConfig = &Config{}
		// 如果配置文件不存在，使用默认配置
		if _, err = os.Stat(configPath); os.IsNotExist(err) {
			logrus.Warnf("Config file not found: %s, using default config", configPath)
			globalConfig = defaultConfig()
			err = nil
			return
		}

		data, readErr := os.ReadFile(configPath)
		if readErr != nil {
			err = fmt.Errorf("failed to read config file: %w", readErr)
			return
		}

		if unmarshalErr := json.Unmarshal(data, globalConfig); unmarshalErr != nil {
			err = fmt.Errorf("failed to parse config file: %w", unmarshalErr)
			return
		}
	})

	if err != nil {
		return nil, err
	}

	return globalConfig, nil
}

// GetConfig 获取全局配置
func GetConfig() *Config {
	if globalConfig == nil {
		return defaultConfig()
	}
	return globalConfig
}

// defaultConfig 默认配置（开发环境）
func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Name:     "reservation-service",
			Host:     "0.0.0.0",
			Port:     8080,
			GRPCPort: 50051,
			HTTPPort: 8080,
		},
		Database: DatabaseConfig{
			Driver:   "mysql",
			Host:     "localhost",
			Port:     3306,
			User:     "root",
			Password: "root",
			Database: "sharedwheels",
			MaxIdle:  10,
			MaxOpen:  100,
		},
		Consul: ConsulConfig{
			Host: "localhost",
			Port: 8500,
		},
		Jaeger: JaegerConfig{
			Endpoint: "http://localhost:14268/api/traces",
			Sampler:  1.0,
		},
		Log: LogConfig{
			Level:  "debug",
			Format: "text",
			Output: "stdout",
			Path:   "logs/app.log",
		},
		Auth: AuthConfig{
			Enabled: false,
		},
		Booking: BookingConfig{
			RequireApproval:          true,
			PreCheckoutRemindMinutes: 24 * 60,
			FinalCheckoutMinutes:     60,
			MissedCheckoutMinutes:    30,
			TripFeePerKmCents:        0,
		},
		Priority: PriorityConfig{
			WeightOwnershipShare: 10,
			WeightWaitDays:       5,
			WeightEmergency:      100,
			WaitSaturationDays:   30,
			EmergencyMonthlyCap:  2,
		},
		Recurrence: RecurrenceConfig{
			HorizonDays:          14,
			SweepIntervalMinutes: 180,
			InsertRatePerSecond:  20,
		},
		LateFee: LateFeeConfig{
			IncrementMinutes:  15,
			FeePerIncrement:   500,
			MaxFeeCents:       0,
			CalculationMethod: "per_15min_increment",
		},
		Providers: ProvidersConfig{
			GroupServiceName: "group-service",
			UsageServiceName: "usage-service",
			TimeoutSeconds:   3,
			BreakerFailures:  5,
			BreakerResetSecs: 30,
		},
	}
}
