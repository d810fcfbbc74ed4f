package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"google.golang.org/grpc"

	"github.com/SharedWheels/SharedWheels/internal/common/config"
	"github.com/SharedWheels/SharedWheels/internal/common/db"
	"github.com/SharedWheels/SharedWheels/internal/common/discovery"
	"github.com/SharedWheels/SharedWheels/internal/common/logger"
	"github.com/SharedWheels/SharedWheels/internal/common/server"
	"github.com/SharedWheels/SharedWheels/internal/common/tracing"
	"github.com/SharedWheels/SharedWheels/internal/fee"
	"github.com/SharedWheels/SharedWheels/internal/priority"
	"github.com/SharedWheels/SharedWheels/internal/recurrence"
	"github.com/SharedWheels/SharedWheels/internal/reservation"
)

var (
	configPath = flag.String("config", "configs/reservation-service.json", "配置文件路径")
)

func main() {
	flag.Parse()

	// 加载配置
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 初始化日志
	log, err := logger.NewLogger(cfg.Log.Level, cfg.Log.Format, cfg.Log.Output, cfg.Log.Path)
	if err != nil {
		panic(fmt.Sprintf("failed to init logger: %v", err))
	}

	// 初始化链路追踪
	tracer, closer, err := tracing.InitTracer(
		cfg.Server.Name,
		cfg.Jaeger.Endpoint,
		cfg.Jaeger.Sampler,
	)
	if err != nil {
		log.Warnf("failed to init tracer: %v", err)
	} else {
		defer closer.Close()
	}
	_ = tracer

	// 初始化数据库
	gormDB, err := db.NewMySQL(
		cfg.Database.Host,
		cfg.Database.Port,
		cfg.Database.User,
		cfg.Database.Password,
		cfg.Database.Database,
		cfg.Database.MaxIdle,
		cfg.Database.MaxOpen,
	)
	if err != nil {
		log.Fatalf("failed to init mysql: %v", err)
	}
	if err := gormDB.AutoMigrate(
		&reservation.Reservation{},
		&reservation.VehicleBlock{},
		&recurrence.RecurrenceRule{},
		&fee.LateReturnFee{},
	); err != nil {
		log.Fatalf("failed to migrate mysql schema: %v", err)
	}

	// 外部只读数据服务（组成员 / 用量历史）走 Consul 发现 + 熔断
	consulClient, err := discovery.NewConsulClient(cfg.Consul.Host, cfg.Consul.Port)
	if err != nil {
		log.Warnf("failed to connect to Consul for providers: %v", err)
		consulClient = nil
	}
	providers := priority.NewHTTPProviders(consulClient, cfg.Providers)

	// 组装领域服务
	resRepo := reservation.NewRepo(gormDB)
	resolver := priority.NewResolver(cfg.Priority)
	feeSvc := fee.NewService(gormDB, fee.NewCalculator(cfg.LateFee))
	resSvc := reservation.NewService(resRepo, resolver, providers, providers, feeSvc,
		cfg.Booking, cfg.Priority, log)

	ruleRepo := recurrence.NewRepo(gormDB)
	ruleSvc := recurrence.NewService(ruleRepo, resRepo, log)
	engine := recurrence.NewEngine(ruleRepo, resSvc, cfg.Recurrence, log)
	reminders := reservation.NewReminderSweeper(resRepo, reservation.LogSink{Log: log}, cfg.Booking, log)

	// 后台周期任务：周期性预约生成 + 提醒扫描
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go runGenerationLoop(ctx, engine, cfg.Recurrence, log)
	go runReminderLoop(ctx, reminders, log)

	// 启动统一的 gRPC 服务模板
	if err := server.RunGRPCServer(cfg, log, func(s *grpc.Server) error {
		// TODO: 业务 proto 就绪后在这里注册预约/规则/罚金 gRPC 服务
		// pb.RegisterReservationServiceServer(s, reservationpb.NewServer(resSvc, ruleSvc, feeSvc))
		_ = ruleSvc
		return nil
	}); err != nil {
		log.Fatalf("reservation-service exited with error: %v", err)
	}
}

// runGenerationLoop 启动后立即跑一轮生成，之后按配置周期触发。
func runGenerationLoop(ctx context.Context, engine *recurrence.Engine, cfg config.RecurrenceConfig, log logger.Logger) {
	interval := time.Duration(cfg.SweepIntervalMinutes) * time.Minute
	if interval <= 0 {
		interval = 3 * time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		report, err := engine.RunSweep(ctx, time.Now())
		if err != nil {
			log.Errorf("generation sweep failed: %v", err)
		} else if report != nil {
			log.Infof("generation sweep done: rules=%d created=%d skipped=%d",
				len(report.Rules), report.Created, report.Skipped)
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// runReminderLoop 每分钟扫描一轮到期提醒。
func runReminderLoop(ctx context.Context, sweeper *reservation.ReminderSweeper, log logger.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := sweeper.RunSweep(ctx, time.Now())
			if err != nil {
				log.Errorf("reminder sweep failed: %v", err)
			} else if n > 0 {
				log.Infof("reminder sweep fired %d reminder(s)", n)
			}
		}
	}
}
