package service

import (
	"context"
	"sort"

	"go.uber.org/zap"

	"antigravity-biosync/internal/identity"
	"antigravity-biosync/internal/models"
)

// AuditReport 设备用户与员工名单的对账结果
type AuditReport struct {
	DeviceUsers       int      `json:"device_users"`       // 设备端登记的用户总数
	Matched           int      `json:"matched"`            // 能对上员工映射的设备用户数
	UnboundDeviceIDs  []string `json:"unbound_device_ids"` // 设备上存在但没有员工绑定的编号
	MissingOnDevice   []string `json:"missing_on_device"`  // 已绑定编号但设备上找不到的员工工号
	AmbiguousBindings []string `json:"ambiguous_bindings"` // 多个员工绑定到同一设备编号（同步会整轮拒绝，必须先修数据）
}

// AuditUserSync 拉取设备端用户表，与员工绑定关系对账。
// 与 RunCycle 互斥：设备同一时间只接受一个会话。
func (s *SyncService) AuditUserSync(ctx context.Context) (*AuditReport, error) {
	if !s.busy.CompareAndSwap(false, true) {
		return nil, ErrSyncInProgress
	}
	defer func() {
		s.setState(StateIdle)
		s.busy.Store(false)
	}()

	s.setState(StateConnecting)
	session, err := s.connector.Connect()
	if err != nil {
		return nil, err
	}
	defer session.Close()

	s.setState(StateFetching)
	users, err := session.ReadUsers()
	if err != nil {
		return nil, err
	}

	staff, err := s.staff.ListAll(ctx)
	if err != nil {
		return nil, err
	}

	byNorm := make(map[string][]models.StaffIdentity)
	for _, ident := range staff {
		if ident.BiometricDeviceID == "" {
			continue
		}
		key := identity.Normalize(ident.BiometricDeviceID)
		byNorm[key] = append(byNorm[key], ident)
	}

	report := &AuditReport{DeviceUsers: len(users)}

	// 歧义绑定单独上报，不参与匹配——同一份数据会让同步整轮失败
	bound := make(map[string]models.StaffIdentity)
	ambiguous := make(map[string]bool)
	for key, idents := range byNorm {
		if len(idents) > 1 {
			ambiguous[key] = true
			for _, ident := range idents {
				report.AmbiguousBindings = append(report.AmbiguousBindings, ident.StaffNumber)
			}
			continue
		}
		bound[key] = idents[0]
	}

	seen := make(map[string]bool)
	for _, user := range users {
		key := identity.Normalize(user.UserID)
		if ambiguous[key] {
			continue
		}
		if _, ok := bound[key]; ok {
			report.Matched++
			seen[key] = true
		} else {
			report.UnboundDeviceIDs = append(report.UnboundDeviceIDs, user.UserID)
		}
	}
	for key, ident := range bound {
		if !seen[key] {
			report.MissingOnDevice = append(report.MissingOnDevice, ident.StaffNumber)
		}
	}
	sort.Strings(report.UnboundDeviceIDs)
	sort.Strings(report.MissingOnDevice)
	sort.Strings(report.AmbiguousBindings)

	if len(report.AmbiguousBindings) > 0 {
		s.logger.Warn("Ambiguous biometric bindings found",
			zap.Strings("staff_numbers", report.AmbiguousBindings))
	}

	s.logger.Info("Device user audit completed",
		zap.Int("device_users", report.DeviceUsers),
		zap.Int("matched", report.Matched),
		zap.Int("unbound_on_device", len(report.UnboundDeviceIDs)),
		zap.Int("missing_on_device", len(report.MissingOnDevice)))

	return report, nil
}
