package repository

import (
	"context"
	"database/sql"
	"fmt"

	"antigravity-biosync/internal/models"

	"go.uber.org/zap"
)

// StaffRepository 员工档案仓库（只读，映射由管理后台维护）
type StaffRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewStaffRepository 创建员工仓库
func NewStaffRepository(db *sql.DB, logger *zap.Logger) *StaffRepository {
	return &StaffRepository{db: db, logger: logger}
}

// ListBiometricIdentities 列出已绑定设备编号的员工身份
func (r *StaffRepository) ListBiometricIdentities(ctx context.Context) ([]models.StaffIdentity, error) {
	query := `
		SELECT
			s.user_id,
			s.staff_number,
			COALESCE(s.biometric_device_id, ''),
			COALESCE(u.full_name, ''),
			COALESCE(s.department, '')
		FROM staff_profiles s
		LEFT JOIN users u ON u.id = s.user_id
		WHERE s.biometric_device_id IS NOT NULL AND s.biometric_device_id <> ''
		ORDER BY s.staff_number
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query staff identities: %w", err)
	}
	defer rows.Close()

	var identities []models.StaffIdentity
	for rows.Next() {
		var ident models.StaffIdentity
		if err := rows.Scan(
			&ident.UserID,
			&ident.StaffNumber,
			&ident.BiometricDeviceID,
			&ident.FullName,
			&ident.Department,
		); err != nil {
			return nil, fmt.Errorf("failed to scan staff identity: %w", err)
		}
		identities = append(identities, ident)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate staff identities: %w", err)
	}
	return identities, nil
}

// ListAll 列出全部员工（用于设备用户对账，不要求已绑定设备编号）
func (r *StaffRepository) ListAll(ctx context.Context) ([]models.StaffIdentity, error) {
	query := `
		SELECT
			s.user_id,
			s.staff_number,
			COALESCE(s.biometric_device_id, ''),
			COALESCE(u.full_name, ''),
			COALESCE(s.department, '')
		FROM staff_profiles s
		LEFT JOIN users u ON u.id = s.user_id
		ORDER BY s.staff_number
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query staff profiles: %w", err)
	}
	defer rows.Close()

	var identities []models.StaffIdentity
	for rows.Next() {
		var ident models.StaffIdentity
		if err := rows.Scan(
			&ident.UserID,
			&ident.StaffNumber,
			&ident.BiometricDeviceID,
			&ident.FullName,
			&ident.Department,
		); err != nil {
			return nil, fmt.Errorf("failed to scan staff profile: %w", err)
		}
		identities = append(identities, ident)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate staff profiles: %w", err)
	}
	return identities, nil
}
