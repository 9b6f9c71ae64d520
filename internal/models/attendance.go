package models

import "time"

// 考勤方式（记录来源）
const (
	MethodBiometric   = "BIOMETRIC"   // 指纹机同步
	MethodManualAdmin = "MANUAL_ADMIN" // 管理员手工录入
	MethodRegularized = "REGULARIZED"  // 补卡/调整后的记录
	MethodWeb         = "WEB"          // 网页自助打卡
)

// 考勤状态（派生值，不作为输入）
const (
	StatusPresent    = "PRESENT"
	StatusHalfDay    = "HALF_DAY"
	StatusIncomplete = "INCOMPLETE" // 只有上班打卡，缺下班打卡
	StatusAbsent     = "ABSENT"
	StatusWFH        = "WFH"
	StatusOnLeave    = "ON_LEAVE"
)

// AttendanceRecord 考勤记录：每个 (user_id, date) 唯一
// Date 是组织时区当日零点换算成 UTC 的时刻（day key）
type AttendanceRecord struct {
	ID        string     `json:"id"`
	UserID    string     `json:"user_id"`
	Date      time.Time  `json:"date"`
	CheckIn   *time.Time `json:"check_in,omitempty"`
	CheckOut  *time.Time `json:"check_out,omitempty"`
	WorkHours *float64   `json:"work_hours,omitempty"`
	Status    string     `json:"status"`
	Method    string     `json:"method"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// IsManuallyEntered 判断记录是否为人工维护（同步时不允许覆盖）
func (r *AttendanceRecord) IsManuallyEntered() bool {
	return r.Method == MethodManualAdmin || r.Method == MethodRegularized
}
