package fee

import (
	"context"
	"testing"
	"time"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/SharedWheels/SharedWheels/internal/reservation"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		TranslateError: true,
		Logger:         gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql.DB: %v", err)
	}
	// 内存库绑定单连接，连接池换连接会丢库
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(&LateReturnFee{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func lateInput(eventID string, lateBy time.Duration) reservation.LateReturnInput {
	end := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	return reservation.LateReturnInput{
		ReservationID: "r-1",
		ReturnEventID: eventID,
		RequesterID:   "u-1",
		VehicleID:     "v-1",
		GroupID:       "g-1",
		ScheduledEnd:  end,
		ActualReturn:  end.Add(lateBy),
	}
}

func TestWaivePreservesOriginalFee(t *testing.T) {
	svc := NewService(testDB(t), NewCalculator(feeCfg()))
	ctx := context.Background()

	rec, err := svc.RecordLateReturn(ctx, lateInput("ret-1", 47*time.Minute))
	if err != nil {
		t.Fatalf("RecordLateReturn: %v", err)
	}
	if rec.AmountCents != 2000 {
		t.Fatalf("expected 2000 cents for 47 late minutes, got %d", rec.AmountCents)
	}

	now := time.Date(2025, 6, 3, 9, 0, 0, 0, time.UTC)
	row, err := svc.Waive(ctx, rec.ID, "admin-1", "first offense", now)
	if err != nil {
		t.Fatalf("Waive: %v", err)
	}
	if row.FeeCents != 0 {
		t.Fatalf("waived fee must charge nothing, got %d", row.FeeCents)
	}
	if row.OriginalFeeCents != 2000 {
		t.Fatalf("original amount must survive the waiver, got %d", row.OriginalFeeCents)
	}
	if row.Status != StatusWaived {
		t.Fatalf("expected status waived, got %s", row.Status)
	}
	if row.WaivedBy != "admin-1" || row.WaiveReason != "first offense" || row.WaivedAt == nil {
		t.Fatalf("waiver bookkeeping incomplete: %+v", row)
	}
}

func TestWaiveRejectsChargedFee(t *testing.T) {
	svc := NewService(testDB(t), NewCalculator(feeCfg()))
	ctx := context.Background()
	now := time.Date(2025, 6, 3, 9, 0, 0, 0, time.UTC)

	rec, err := svc.RecordLateReturn(ctx, lateInput("ret-2", 20*time.Minute))
	if err != nil {
		t.Fatalf("RecordLateReturn: %v", err)
	}
	if _, err := svc.MarkCharged(ctx, rec.ID, "bill-77", now); err != nil {
		t.Fatalf("MarkCharged: %v", err)
	}
	if _, err := svc.Waive(ctx, rec.ID, "admin-1", "too late", now); err == nil {
		t.Fatalf("expected waive of a charged fee to fail")
	}
}

func TestRecordLateReturnIdempotentPerEvent(t *testing.T) {
	svc := NewService(testDB(t), NewCalculator(feeCfg()))
	ctx := context.Background()

	first, err := svc.RecordLateReturn(ctx, lateInput("ret-3", 30*time.Minute))
	if err != nil {
		t.Fatalf("first RecordLateReturn: %v", err)
	}
	second, err := svc.RecordLateReturn(ctx, lateInput("ret-3", 30*time.Minute))
	if err != nil {
		t.Fatalf("second RecordLateReturn: %v", err)
	}
	if second.ID != first.ID {
		t.Fatalf("same return event must map to one fee row: %s != %s", second.ID, first.ID)
	}
	if second.AmountCents != first.AmountCents {
		t.Fatalf("amount drifted across retries: %d != %d", second.AmountCents, first.AmountCents)
	}
}
