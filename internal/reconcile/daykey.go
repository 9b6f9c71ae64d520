// Package reconcile 把打卡事件折叠为按日考勤记录。
//
// 全部日期分桶计算集中在本包：设备时间戳按组织固定时区解释，
// day key 是组织本地当日零点换算成 UTC 的时刻。其他组件一律不得
// 自行计算 day key——历史上分散换算正是跨天错位问题的来源。
package reconcile

import "time"

// OrgLocation 组织固定时区（如 IST = 330 分钟）
func OrgLocation(offsetMinutes int) *time.Location {
	return time.FixedZone("ORG", offsetMinutes*60)
}

// orgWallClock 把设备墙上时间（UTC 承载、不代表 UTC）重新解释为组织时区的时刻
// 约定：设备时钟按组织本地时间维护（SetTime 同步时也按此口径写入）。
func orgWallClock(deviceTime time.Time, loc *time.Location) time.Time {
	return time.Date(
		deviceTime.Year(), deviceTime.Month(), deviceTime.Day(),
		deviceTime.Hour(), deviceTime.Minute(), deviceTime.Second(),
		deviceTime.Nanosecond(), loc,
	)
}

// DayKey 计算打卡时刻所属的考勤日：组织本地零点，以 UTC 表示
// 例：IST 2026-02-19 00:00 → 2026-02-18T18:30:00Z
func DayKey(deviceTime time.Time, loc *time.Location) time.Time {
	local := orgWallClock(deviceTime, loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return midnight.UTC()
}
