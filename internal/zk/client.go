package zk

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"antigravity-biosync/internal/models"

	"go.uber.org/zap"
)

// FreeSizes 设备容量统计（CMD_GET_FREE_SIZES）
type FreeSizes struct {
	Users           int
	Records         int
	UsersCapacity   int
	RecordsCapacity int
}

// DeviceInfo 设备基本信息
type DeviceInfo struct {
	DeviceName   string
	SerialNumber string
	Platform     string
	Firmware     string
	DeviceTime   time.Time
}

// ReadAttendanceLogs 批量拉取打卡日志并解码为 PunchEvent
// 设备无日志返回空切片（不是错误）；坏帧自动重试一次，仍失败则返回错误。
// 时间戳按设备墙上时间原样解码（UTC 承载），时区解释交给 reconcile。
func (s *Session) ReadAttendanceLogs() ([]models.PunchEvent, error) {
	buf, err := s.readLogBuffer()
	if err != nil {
		if IsKind(err, KindCorruptFrame) {
			s.logger.Warn("Corrupt frame while reading attendance logs, retrying once", zap.Error(err))
			buf, err = s.readLogBuffer()
		}
		if err != nil {
			return nil, err
		}
	}
	return decodeAttendanceLogs(buf)
}

// readLogBuffer 禁用设备采集 → 拉全量日志 → 恢复采集
// 读日志期间禁用采集是厂家 SDK 的固定流程，避免传输与新打卡相互干扰。
func (s *Session) readLogBuffer() ([]byte, error) {
	if _, err := s.Send(CmdDisableDevice, nil); err != nil {
		return nil, err
	}
	buf, err := s.readWithBuffer(CmdAttLogRRQ, nil)
	if _, enableErr := s.Send(CmdEnableDevice, nil); enableErr != nil {
		s.logger.Warn("Failed to re-enable device after log read", zap.Error(enableErr))
	}
	return buf, err
}

// ReadUsers 读取设备端登记的全部用户
func (s *Session) ReadUsers() ([]models.DeviceUser, error) {
	buf, err := s.readWithBuffer(CmdUserTempRRQ, []byte{fctUser})
	if err != nil {
		return nil, err
	}
	return decodeUsers(buf)
}

// readWithBuffer 处理批量数据响应：
// 小数据直接随 CMD_DATA 返回；大数据走 CMD_PREPARE_DATA（带总长）+
// 若干 CMD_DATA 分片 + 结束 ACK，读完发 CMD_FREE_DATA 释放设备缓冲。
func (s *Session) readWithBuffer(cmd uint16, data []byte) ([]byte, error) {
	resp, err := s.Send(cmd, data)
	if err != nil {
		return nil, err
	}

	switch resp.Cmd {
	case CmdData:
		return resp.Data, nil
	case CmdAckOK:
		// 没有数据可返回（如空日志）
		return nil, nil
	case CmdPrepareData:
		// data 前4字节是总长度
		if len(resp.Data) < 4 {
			return nil, newDeviceError(KindCorruptFrame, "prepare data", fmt.Errorf("short prepare header: %d bytes", len(resp.Data)))
		}
		total := int(binary.LittleEndian.Uint32(resp.Data[0:4]))
		if total > maxPayloadSize*16 {
			return nil, newDeviceError(KindCorruptFrame, "prepare data", fmt.Errorf("implausible data size %d", total))
		}

		var buf bytes.Buffer
		for buf.Len() < total {
			frame, err := s.readFrame()
			if err != nil {
				return nil, err
			}
			switch frame.Cmd {
			case CmdData:
				buf.Write(frame.Data)
			case CmdAckOK:
				// 设备提前结束（数据比声明的少）
				return nil, newDeviceError(KindCorruptFrame, "data transfer",
					fmt.Errorf("truncated: got %d of %d bytes", buf.Len(), total))
			default:
				return nil, newDeviceError(KindCorruptFrame, "data transfer", fmt.Errorf("unexpected cmd=%d", frame.Cmd))
			}
		}

		// 传输完成后的结束 ACK
		if frame, err := s.readFrame(); err != nil {
			return nil, err
		} else if frame.Cmd != CmdAckOK {
			s.logger.Debug("Unexpected frame after data transfer", zap.Uint16("cmd", frame.Cmd))
		}

		if _, err := s.Send(CmdFreeData, nil); err != nil {
			s.logger.Warn("Failed to free device data buffer", zap.Error(err))
		}
		return buf.Bytes()[:total], nil
	default:
		return nil, newDeviceError(KindCorruptFrame, "bulk read", fmt.Errorf("unexpected response cmd=%d", resp.Cmd))
	}
}

// decodeAttendanceLogs 解码40字节定长打卡记录
// 缓冲前4字节为记录区总长（与 pyzk 口径一致），之后每40字节一条。
func decodeAttendanceLogs(buf []byte) ([]models.PunchEvent, error) {
	if len(buf) == 0 {
		return nil, nil
	}
	if len(buf) < 4 {
		return nil, newDeviceError(KindCorruptFrame, "attendance data", fmt.Errorf("buffer shorter than size prefix: %d bytes", len(buf)))
	}
	records := buf[4:]
	if len(records) == 0 {
		return nil, nil
	}
	if len(records)%attLogRecordSize != 0 {
		return nil, newDeviceError(KindCorruptFrame, "attendance data",
			fmt.Errorf("truncated record set: %d bytes, record size %d", len(records), attLogRecordSize))
	}

	events := make([]models.PunchEvent, 0, len(records)/attLogRecordSize)
	for off := 0; off < len(records); off += attLogRecordSize {
		r := records[off : off+attLogRecordSize]
		events = append(events, models.PunchEvent{
			RawRecordID:  binary.LittleEndian.Uint16(r[0:2]),
			DeviceUserID: cstr(r[2:26]),
			VerifyType:   r[26],
			Timestamp:    decodeTime(binary.LittleEndian.Uint32(r[27:31]), time.UTC),
			PunchState:   r[31],
		})
	}
	return events, nil
}

// decodeUsers 解码72字节定长用户记录
func decodeUsers(buf []byte) ([]models.DeviceUser, error) {
	if len(buf) == 0 {
		return nil, nil
	}
	if len(buf) < 4 {
		return nil, newDeviceError(KindCorruptFrame, "user data", fmt.Errorf("buffer shorter than size prefix: %d bytes", len(buf)))
	}
	records := buf[4:]
	if len(records) == 0 {
		return nil, nil
	}
	if len(records)%userRecordSize != 0 {
		return nil, newDeviceError(KindCorruptFrame, "user data",
			fmt.Errorf("truncated record set: %d bytes, record size %d", len(records), userRecordSize))
	}

	users := make([]models.DeviceUser, 0, len(records)/userRecordSize)
	for off := 0; off < len(records); off += userRecordSize {
		r := records[off : off+userRecordSize]
		u := models.DeviceUser{
			UID:       binary.LittleEndian.Uint16(r[0:2]),
			Privilege: r[2],
			Name:      cstr(r[11:35]),
			Card:      binary.LittleEndian.Uint32(r[35:39]),
			UserID:    cstr(r[48:72]),
		}
		if u.Name == "" {
			u.Name = u.UserID
		}
		users = append(users, u)
	}
	return users, nil
}

// GetTime 读取设备时钟（墙上时间，UTC 承载）
func (s *Session) GetTime() (time.Time, error) {
	resp, err := s.Send(CmdGetTime, nil)
	if err != nil {
		return time.Time{}, err
	}
	if len(resp.Data) < 4 {
		return time.Time{}, newDeviceError(KindCorruptFrame, "get time", fmt.Errorf("short response: %d bytes", len(resp.Data)))
	}
	return decodeTime(binary.LittleEndian.Uint32(resp.Data[0:4]), time.UTC), nil
}

// SetTime 设置设备时钟（传入组织本地墙上时间）
func (s *Session) SetTime(t time.Time) error {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, encodeTime(t))
	return s.expectOK(CmdSetTime, data, "set time")
}

// GetFreeSizes 读取用户数/记录数及容量
func (s *Session) GetFreeSizes() (*FreeSizes, error) {
	resp, err := s.Send(CmdGetFreeSizes, nil)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) < 80 {
		return nil, newDeviceError(KindCorruptFrame, "free sizes", fmt.Errorf("short response: %d bytes", len(resp.Data)))
	}
	i32 := func(idx int) int {
		return int(int32(binary.LittleEndian.Uint32(resp.Data[idx*4 : idx*4+4])))
	}
	return &FreeSizes{
		Users:           i32(4),
		Records:         i32(8),
		UsersCapacity:   i32(15),
		RecordsCapacity: i32(16),
	}, nil
}

// GetDeviceInfo 读取设备名称/序列号/平台/固件/时钟
// 单项读取失败不视为致命（与原管理后台行为一致），留空即可。
func (s *Session) GetDeviceInfo() (*DeviceInfo, error) {
	info := &DeviceInfo{}
	info.DeviceName, _ = s.ReadOption("~DeviceName")
	info.SerialNumber, _ = s.ReadOption("~SerialNumber")
	info.Platform, _ = s.ReadOption("~Platform")

	if resp, err := s.Send(CmdVersion, nil); err == nil {
		info.Firmware = cstr(resp.Data)
	}

	t, err := s.GetTime()
	if err != nil {
		return nil, err
	}
	info.DeviceTime = t
	return info, nil
}

// ReadOption 读取设备配置项（CMD_OPTIONS_RRQ，响应形如 "name=value"）
func (s *Session) ReadOption(name string) (string, error) {
	resp, err := s.Send(CmdOptionsRRQ, append([]byte(name), 0))
	if err != nil {
		return "", err
	}
	val := cstr(resp.Data)
	if i := strings.IndexByte(val, '='); i >= 0 {
		val = val[i+1:]
	}
	return strings.TrimSpace(val), nil
}

// Restart 重启设备
func (s *Session) Restart() error {
	return s.expectOK(CmdRestart, nil, "restart")
}

// ClearAttendanceLogs 清空设备侧打卡日志
// 设备存储有限（约10万条），确认入库后可定期清理。
func (s *Session) ClearAttendanceLogs() error {
	return s.expectOK(CmdClearAttLog, nil, "clear attendance logs")
}

func (s *Session) expectOK(cmd uint16, data []byte, op string) error {
	resp, err := s.Send(cmd, data)
	if err != nil {
		return err
	}
	if resp.Cmd != CmdAckOK {
		return newDeviceError(KindCommandRejected, op, fmt.Errorf("unexpected response cmd=%d", resp.Cmd))
	}
	return nil
}
