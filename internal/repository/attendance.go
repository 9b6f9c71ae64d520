package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"antigravity-biosync/internal/models"

	"go.uber.org/zap"
)

// AttendanceRepository 考勤记录仓库
type AttendanceRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAttendanceRepository 创建考勤仓库
func NewAttendanceRepository(db *sql.DB, logger *zap.Logger) *AttendanceRepository {
	return &AttendanceRepository{db: db, logger: logger}
}

// GetByUserAndDate 按员工与考勤日查询，未找到返回 (nil, nil)
func (r *AttendanceRepository) GetByUserAndDate(ctx context.Context, userID string, date time.Time) (*models.AttendanceRecord, error) {
	query := `
		SELECT id, user_id, date, check_in, check_out, work_hours, status, method, created_at, updated_at
		FROM attendance_records
		WHERE user_id = $1 AND date = $2
	`

	var rec models.AttendanceRecord
	err := r.db.QueryRowContext(ctx, query, userID, date).Scan(
		&rec.ID,
		&rec.UserID,
		&rec.Date,
		&rec.CheckIn,
		&rec.CheckOut,
		&rec.WorkHours,
		&rec.Status,
		&rec.Method,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query attendance record: %w", err)
	}
	return &rec, nil
}

// Create 插入考勤记录
func (r *AttendanceRepository) Create(ctx context.Context, rec *models.AttendanceRecord) error {
	query := `
		INSERT INTO attendance_records
			(id, user_id, date, check_in, check_out, work_hours, status, method, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
	`

	_, err := r.db.ExecContext(ctx, query,
		rec.ID,
		rec.UserID,
		rec.Date,
		rec.CheckIn,
		rec.CheckOut,
		rec.WorkHours,
		rec.Status,
		rec.Method,
	)
	if err != nil {
		return fmt.Errorf("failed to insert attendance record: %w", err)
	}
	return nil
}

// Update 更新考勤记录的打卡时间、工时与状态
func (r *AttendanceRepository) Update(ctx context.Context, rec *models.AttendanceRecord) error {
	query := `
		UPDATE attendance_records
		SET check_in = $1, check_out = $2, work_hours = $3, status = $4, method = $5, updated_at = NOW()
		WHERE id = $6
	`

	result, err := r.db.ExecContext(ctx, query,
		rec.CheckIn,
		rec.CheckOut,
		rec.WorkHours,
		rec.Status,
		rec.Method,
		rec.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update attendance record: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("attendance record not found: %s", rec.ID)
	}
	return nil
}

// ListByDateRange 按日期区间列出考勤记录（用于报表导出）
func (r *AttendanceRepository) ListByDateRange(ctx context.Context, from, to time.Time) ([]models.AttendanceRecord, error) {
	query := `
		SELECT id, user_id, date, check_in, check_out, work_hours, status, method, created_at, updated_at
		FROM attendance_records
		WHERE date >= $1 AND date <= $2
		ORDER BY date, user_id
	`

	rows, err := r.db.QueryContext(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query attendance records: %w", err)
	}
	defer rows.Close()

	var records []models.AttendanceRecord
	for rows.Next() {
		var rec models.AttendanceRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.UserID,
			&rec.Date,
			&rec.CheckIn,
			&rec.CheckOut,
			&rec.WorkHours,
			&rec.Status,
			&rec.Method,
			&rec.CreatedAt,
			&rec.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan attendance record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate attendance records: %w", err)
	}
	return records, nil
}
