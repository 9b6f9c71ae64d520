package reconcile

import (
	"context"
	"fmt"
	"sort"
	"time"

	"antigravity-biosync/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// 当日工时不足4小时记半天（原考勤规则）
const halfDayThreshold = 4 * time.Hour

// Punch 已完成身份解析的打卡事件
type Punch struct {
	Staff models.StaffIdentity
	Event models.PunchEvent
}

// Conflict 人工记录冲突：该 (user, day) 已有人工维护的记录，同步跳过
type Conflict struct {
	UserID      string
	StaffNumber string
	Date        time.Time
	Method      string
}

// RecordUpdate 一条待持久化的考勤记录变更
type RecordUpdate struct {
	Record  models.AttendanceRecord
	Created bool // true=新建，false=按 Record.ID 更新
}

// Result 一次合并的产出
type Result struct {
	Updates   []RecordUpdate
	Conflicts []Conflict
	Deduped   int // 单轮内按设备序号去掉的重复条数
}

// AttendanceSource 现有考勤记录的读取接口（由 repository 实现）
type AttendanceSource interface {
	// GetByUserAndDate 不存在时返回 (nil, nil)
	GetByUserAndDate(ctx context.Context, userID string, date time.Time) (*models.AttendanceRecord, error)
}

// Engine 考勤对账引擎
type Engine struct {
	source AttendanceSource
	loc    *time.Location
	logger *zap.Logger
}

// NewEngine 创建对账引擎
func NewEngine(source AttendanceSource, orgUTCOffsetMinutes int, logger *zap.Logger) *Engine {
	return &Engine{
		source: source,
		loc:    OrgLocation(orgUTCOffsetMinutes),
		logger: logger,
	}
}

type groupKey struct {
	userID  string
	dayUnix int64
}

// Merge 把打卡事件折叠为考勤记录变更。
//
// 合并语义是幂等折叠：签到 = 全部已知打卡的最小时刻，签退 = 最大时刻
// （存在多个不同时刻时）。现有记录的 check_in/check_out 也并入时刻集合，
// 因此对重叠事件集重复执行与对并集执行一次结果相同。
// 人工维护的记录绝不覆盖，只记冲突。
func (e *Engine) Merge(ctx context.Context, punches []Punch) (*Result, error) {
	result := &Result{}

	// 1. 单轮内去重（设备序号 + 用户 + 时刻）
	type dedupeKey struct {
		rawID  uint16
		userID string
		unix   int64
	}
	seen := make(map[dedupeKey]struct{}, len(punches))

	// 2. 按 (user, day key) 分组，收集组织时区的真实时刻
	groups := make(map[groupKey][]time.Time)
	staffByUser := make(map[string]models.StaffIdentity)

	for _, p := range punches {
		dk := dedupeKey{rawID: p.Event.RawRecordID, userID: p.Staff.UserID, unix: p.Event.Timestamp.Unix()}
		if _, dup := seen[dk]; dup {
			result.Deduped++
			continue
		}
		seen[dk] = struct{}{}

		day := DayKey(p.Event.Timestamp, e.loc)
		instant := orgWallClock(p.Event.Timestamp, e.loc).UTC()

		key := groupKey{userID: p.Staff.UserID, dayUnix: day.Unix()}
		groups[key] = append(groups[key], instant)
		staffByUser[p.Staff.UserID] = p.Staff
	}

	// 3. 稳定顺序遍历，便于测试和日志比对
	keys := make([]groupKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].userID != keys[j].userID {
			return keys[i].userID < keys[j].userID
		}
		return keys[i].dayUnix < keys[j].dayUnix
	})

	for _, key := range keys {
		day := time.Unix(key.dayUnix, 0).UTC()

		existing, err := e.source.GetByUserAndDate(ctx, key.userID, day)
		if err != nil {
			return nil, fmt.Errorf("failed to load attendance record for %s on %s: %w",
				key.userID, day.Format("2006-01-02"), err)
		}

		if existing != nil && existing.IsManuallyEntered() {
			staff := staffByUser[key.userID]
			result.Conflicts = append(result.Conflicts, Conflict{
				UserID:      key.userID,
				StaffNumber: staff.StaffNumber,
				Date:        day,
				Method:      existing.Method,
			})
			e.logger.Warn("Skipping biometric merge over manually entered record",
				zap.String("user_id", key.userID),
				zap.String("staff_number", staff.StaffNumber),
				zap.String("date", day.Format("2006-01-02")),
				zap.String("method", existing.Method),
			)
			continue
		}

		// 时刻集合 = 本轮打卡 ∪ 现有记录的签到/签退
		times := append([]time.Time(nil), groups[key]...)
		if existing != nil {
			if existing.CheckIn != nil {
				times = append(times, existing.CheckIn.UTC())
			}
			if existing.CheckOut != nil {
				times = append(times, existing.CheckOut.UTC())
			}
		}

		checkIn, checkOut := foldTimes(times)
		status, workHours := deriveStatus(checkIn, checkOut)

		now := time.Now().UTC()
		var record models.AttendanceRecord
		created := existing == nil
		if created {
			record = models.AttendanceRecord{
				ID:        uuid.New().String(),
				UserID:    key.userID,
				Date:      day,
				CreatedAt: now,
			}
		} else {
			record = *existing
		}
		record.CheckIn = &checkIn
		record.CheckOut = checkOut
		record.WorkHours = workHours
		record.Status = status
		record.Method = models.MethodBiometric
		record.UpdatedAt = now

		result.Updates = append(result.Updates, RecordUpdate{Record: record, Created: created})
	}

	return result, nil
}

// foldTimes 取最早时刻为签到；存在第二个不同时刻时，最晚为签退
// 只有一个不同时刻 → 签退缺失（记录不完整，不是错误）。
func foldTimes(times []time.Time) (time.Time, *time.Time) {
	min, max := times[0], times[0]
	for _, t := range times[1:] {
		if t.Before(min) {
			min = t
		}
		if t.After(max) {
			max = t
		}
	}
	if max.Equal(min) {
		return min, nil
	}
	out := max
	return min, &out
}

// deriveStatus 由签到/签退派生状态和工时
func deriveStatus(checkIn time.Time, checkOut *time.Time) (string, *float64) {
	if checkOut == nil {
		return models.StatusIncomplete, nil
	}
	dur := checkOut.Sub(checkIn)
	hours := dur.Hours()
	if dur < halfDayThreshold {
		return models.StatusHalfDay, &hours
	}
	return models.StatusPresent, &hours
}
