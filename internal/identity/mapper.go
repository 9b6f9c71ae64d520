// Package identity 负责设备侧用户编号到内部员工的映射。
//
// 设备上报的编号格式不统一：纯数字（"13"）、补零（"0013"）、带前缀
// （"QIX0013"）都出现过。这里统一归一化后做精确查找；找不到就是
// Unmapped（交给人工处理），绝不按姓名相似度猜测。
package identity

import (
	"fmt"
	"strings"

	"antigravity-biosync/internal/models"
)

// Normalize 归一化设备用户编号：
// 去掉 NUL/空白，剥离字母前缀，数字部分去前导零。
// 无数字的编号按大写原样比较。
func Normalize(id string) string {
	id = strings.TrimSpace(strings.Trim(id, "\x00"))
	if id == "" {
		return ""
	}

	digits := make([]byte, 0, len(id))
	for i := 0; i < len(id); i++ {
		if id[i] >= '0' && id[i] <= '9' {
			digits = append(digits, id[i])
		}
	}
	if len(digits) == 0 {
		return strings.ToUpper(id)
	}

	trimmed := strings.TrimLeft(string(digits), "0")
	if trimmed == "" {
		return "0"
	}
	return trimmed
}

// Mapper 设备编号 → 员工的只读映射
type Mapper struct {
	byDeviceID map[string]models.StaffIdentity
}

// NewMapper 基于外部配置的员工身份构建映射
// 两个员工归一化后撞到同一个设备编号是配置错误，直接报错而不是挑一个。
func NewMapper(identities []models.StaffIdentity) (*Mapper, error) {
	byDeviceID := make(map[string]models.StaffIdentity, len(identities))
	for _, ident := range identities {
		if ident.BiometricDeviceID == "" {
			continue // 未绑定设备编号的员工不参与映射
		}
		key := Normalize(ident.BiometricDeviceID)
		if key == "" {
			continue
		}
		if prev, ok := byDeviceID[key]; ok && prev.UserID != ident.UserID {
			return nil, fmt.Errorf("ambiguous biometric device id %q: maps to both %s and %s",
				ident.BiometricDeviceID, prev.StaffNumber, ident.StaffNumber)
		}
		byDeviceID[key] = ident
	}
	return &Mapper{byDeviceID: byDeviceID}, nil
}

// Resolve 按归一化后的设备编号查找员工
// 第二个返回值为 false 表示 Unmapped（不是异常，调用方记入错误统计）。
func (m *Mapper) Resolve(deviceUserID string) (models.StaffIdentity, bool) {
	ident, ok := m.byDeviceID[Normalize(deviceUserID)]
	return ident, ok
}

// Size 已绑定设备编号的员工数
func (m *Mapper) Size() int {
	return len(m.byDeviceID)
}
