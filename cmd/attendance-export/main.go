package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"go.uber.org/zap"

	"antigravity-biosync/internal/config"
	"antigravity-biosync/internal/database"
	"antigravity-biosync/internal/export"
	"antigravity-biosync/internal/models"
	"antigravity-biosync/internal/reconcile"
	"antigravity-biosync/internal/repository"
)

// 月度考勤导出工具：按组织时区取整月记录，生成 Excel 给 HR。
func main() {
	var month = flag.String("month", "", "Month to export, YYYY-MM (default: previous month)")
	var out = flag.String("out", "", "Output file (default: attendance-YYYY-MM.xlsx)")
	flag.Parse()

	cfg := config.Load()
	loc := reconcile.OrgLocation(cfg.Sync.OrgUTCOffsetMinutes)

	var start time.Time
	if *month == "" {
		now := time.Now().In(loc)
		start = time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, loc).AddDate(0, -1, 0)
	} else {
		parsed, err := time.ParseInLocation("2006-01", *month, loc)
		if err != nil {
			log.Fatalf("Invalid -month %q, expected YYYY-MM: %v", *month, err)
		}
		start = parsed
	}
	end := start.AddDate(0, 1, 0).Add(-24 * time.Hour)

	outFile := *out
	if outFile == "" {
		outFile = fmt.Sprintf("attendance-%s.xlsx", start.Format("2006-01"))
	}

	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		log.Fatalf("Cannot connect to database: %v", err)
	}
	defer db.Close()

	logger := zap.NewNop()
	staffRepo := repository.NewStaffRepository(db, logger)
	attendanceRepo := repository.NewAttendanceRepository(db, logger)

	ctx := context.Background()

	// day key 存的是组织时区当日零点对应的 UTC 时刻
	records, err := attendanceRepo.ListByDateRange(ctx, start.UTC(), end.UTC())
	if err != nil {
		log.Fatalf("Cannot load attendance records: %v", err)
	}

	staff, err := staffRepo.ListAll(ctx)
	if err != nil {
		log.Fatalf("Cannot load staff profiles: %v", err)
	}
	byUserID := make(map[string]models.StaffIdentity, len(staff))
	for _, ident := range staff {
		byUserID[ident.UserID] = ident
	}

	rows := make([]export.AttendanceRow, 0, len(records))
	for _, rec := range records {
		rows = append(rows, export.AttendanceRow{
			Staff:  byUserID[rec.UserID],
			Record: rec,
		})
	}

	data, err := export.GenerateAttendanceExport(rows, loc)
	if err != nil {
		log.Fatalf("Cannot generate export: %v", err)
	}
	if err := os.WriteFile(outFile, data, 0o644); err != nil {
		log.Fatalf("Cannot write %s: %v", outFile, err)
	}

	fmt.Printf("Exported %d records (%s to %s) to %s\n",
		len(records), start.Format("2006-01-02"), end.Format("2006-01-02"), outFile)
}
