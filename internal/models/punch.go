package models

import "time"

// PunchEvent 指纹机上报的单条打卡事件（每轮同步的临时数据，不落库）
// Timestamp 是设备时钟的"墙上时间"，这里用 UTC 承载但不代表 UTC——
// 时区的解释统一由 reconcile 包完成，其他组件禁止自行换算日期。
type PunchEvent struct {
	DeviceUserID string    `json:"device_user_id"`
	Timestamp    time.Time `json:"timestamp"`
	RawRecordID  uint16    `json:"raw_record_id"` // 设备内部序号，仅用于单轮去重
	VerifyType   byte      `json:"verify_type"`   // 验证方式（指纹/卡/密码）
	PunchState   byte      `json:"punch_state"`
}

// DeviceUser 设备端登记的用户（72字节用户记录解码结果）
type DeviceUser struct {
	UID       uint16 `json:"uid"`
	UserID    string `json:"user_id"` // 设备侧用户编号，应与 staff_number 对应
	Name      string `json:"name"`
	Privilege byte   `json:"privilege"`
	Card      uint32 `json:"card"`
}

// StaffIdentity 员工身份映射：staff_number 与设备侧编号的对应关系
// 一个 biometric_device_id 同一时间最多属于一个员工；映射由外部维护，
// 同步程序只读，绝不按姓名猜测。
type StaffIdentity struct {
	UserID            string `json:"user_id"`
	StaffNumber       string `json:"staff_number"`
	BiometricDeviceID string `json:"biometric_device_id"` // 可能为空（未绑定）
	FullName          string `json:"full_name"`
	Department        string `json:"department"`
}
