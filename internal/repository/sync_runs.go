package repository

import (
	"context"
	"database/sql"
	"fmt"

	"antigravity-biosync/internal/models"

	"go.uber.org/zap"
)

// SyncRunRepository 同步运行审计仓库（只追加）
type SyncRunRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewSyncRunRepository 创建同步审计仓库
func NewSyncRunRepository(db *sql.DB, logger *zap.Logger) *SyncRunRepository {
	return &SyncRunRepository{db: db, logger: logger}
}

// Insert 写入一条同步运行记录
func (r *SyncRunRepository) Insert(ctx context.Context, run *models.SyncRun) error {
	query := `
		INSERT INTO biometric_sync_runs
			(id, sync_time, status, logs_fetched, logs_saved, error_message)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(ctx, query,
		run.ID,
		run.SyncTime,
		run.Status,
		run.LogsFetched,
		run.LogsSaved,
		run.ErrorMessage,
	)
	if err != nil {
		return fmt.Errorf("failed to insert sync run: %w", err)
	}
	return nil
}

// ListRecent 按时间倒序列出最近 limit 条运行记录
func (r *SyncRunRepository) ListRecent(ctx context.Context, limit int) ([]models.SyncRun, error) {
	query := `
		SELECT id, sync_time, status, logs_fetched, logs_saved, COALESCE(error_message, '')
		FROM biometric_sync_runs
		ORDER BY sync_time DESC
		LIMIT $1
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync runs: %w", err)
	}
	defer rows.Close()

	var runs []models.SyncRun
	for rows.Next() {
		var run models.SyncRun
		if err := rows.Scan(
			&run.ID,
			&run.SyncTime,
			&run.Status,
			&run.LogsFetched,
			&run.LogsSaved,
			&run.ErrorMessage,
		); err != nil {
			return nil, fmt.Errorf("failed to scan sync run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sync runs: %w", err)
	}
	return runs, nil
}
