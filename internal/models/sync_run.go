package models

import "time"

// 同步轮次结果状态
const (
	SyncSuccess = "SUCCESS"
	SyncPartial = "PARTIAL" // 完成但有未映射编号或人工记录冲突
	SyncFailed  = "FAILED"
)

// SyncRun 一轮同步的审计记录（只追加，不修改）
type SyncRun struct {
	ID           string    `json:"id"`
	SyncTime     time.Time `json:"sync_time"`
	Status       string    `json:"status"`
	LogsFetched  int       `json:"logs_fetched"`
	LogsSaved    int       `json:"logs_saved"`
	ErrorMessage string    `json:"error_message,omitempty"`
}
