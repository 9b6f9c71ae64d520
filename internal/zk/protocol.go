// Package zk 实现 ZKTeco 系指纹机（eSSL K90 Pro 等）的 TCP 二进制协议。
//
// 帧格式：8字节头（魔数 50 50 82 7d + u32小端负载长度）+ 负载。
// 负载：cmd u16 | checksum u16 | session u16 | reply u16 | data。
// 校验和为 16 位反码累加（与 pyzk / zkteco-js 一致）。
package zk

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"
)

// 命令码
const (
	CmdConnect       uint16 = 1000
	CmdExit          uint16 = 1001
	CmdEnableDevice  uint16 = 1002
	CmdDisableDevice uint16 = 1003
	CmdRestart       uint16 = 1004
	CmdAuth          uint16 = 1102
	CmdVersion       uint16 = 1100

	CmdPrepareData uint16 = 1500
	CmdData        uint16 = 1501
	CmdFreeData    uint16 = 1502

	CmdAckOK     uint16 = 2000
	CmdAckError  uint16 = 2001
	CmdAckData   uint16 = 2002
	CmdAckUnauth uint16 = 2005

	CmdOptionsRRQ   uint16 = 11
	CmdAttLogRRQ    uint16 = 13
	CmdClearAttLog  uint16 = 15
	CmdUserTempRRQ  uint16 = 9
	CmdGetFreeSizes uint16 = 50
	CmdGetTime      uint16 = 201
	CmdSetTime      uint16 = 202
)

// 数据读取的功能号（CMD_USERTEMP_RRQ 的 data 首字节）
const fctUser byte = 5

// TCP 帧魔数
var tcpMagic = []byte{0x50, 0x50, 0x82, 0x7d}

const (
	headerSize = 8 // 魔数4 + 长度4
	// 单条记录长度（TCP 模式）
	attLogRecordSize = 40
	userRecordSize   = 72

	maxPayloadSize = 1024 * 1024 // 防御异常长度字段
)

// Frame 一帧解码结果
type Frame struct {
	Cmd     uint16
	Session uint16
	Reply   uint16
	Data    []byte
}

// checksum 16位反码累加校验和（奇数长度时补最后一个字节）
func checksum(p []byte) uint16 {
	var sum uint32
	for len(p) > 1 {
		sum += uint32(binary.LittleEndian.Uint16(p[:2]))
		p = p[2:]
		if sum > 0xFFFF {
			sum -= 0xFFFF
		}
	}
	if len(p) == 1 {
		sum += uint32(p[0])
	}
	for sum > 0xFFFF {
		sum -= 0xFFFF
	}
	return ^uint16(sum) & 0xFFFF
}

// buildPayload 构造负载（计算并填入校验和）
func buildPayload(cmd, session, reply uint16, data []byte) []byte {
	p := make([]byte, 8+len(data))
	binary.LittleEndian.PutUint16(p[0:2], cmd)
	// p[2:4] 校验和先置零
	binary.LittleEndian.PutUint16(p[4:6], session)
	binary.LittleEndian.PutUint16(p[6:8], reply)
	copy(p[8:], data)
	binary.LittleEndian.PutUint16(p[2:4], checksum(p))
	return p
}

// wrapFrame 加上 TCP 帧头
func wrapFrame(payload []byte) []byte {
	out := make([]byte, headerSize+len(payload))
	copy(out, tcpMagic)
	binary.LittleEndian.PutUint32(out[4:8], uint32(len(payload)))
	copy(out[headerSize:], payload)
	return out
}

// parsePayload 解析负载并验证校验和
func parsePayload(p []byte) (*Frame, error) {
	if len(p) < 8 {
		return nil, fmt.Errorf("payload too short: %d bytes", len(p))
	}
	got := binary.LittleEndian.Uint16(p[2:4])
	check := make([]byte, len(p))
	copy(check, p)
	check[2], check[3] = 0, 0
	if want := checksum(check); got != want {
		return nil, fmt.Errorf("checksum mismatch: got 0x%04x, want 0x%04x", got, want)
	}
	return &Frame{
		Cmd:     binary.LittleEndian.Uint16(p[0:2]),
		Session: binary.LittleEndian.Uint16(p[4:6]),
		Reply:   binary.LittleEndian.Uint16(p[6:8]),
		Data:    p[8:],
	}, nil
}

// encodeTime 设备时间编码：以 2000 年为基准的紧凑日历编码
func encodeTime(t time.Time) uint32 {
	days := uint32(t.Year()-2000)*12*31 + uint32(t.Month()-1)*31 + uint32(t.Day()-1)
	secs := uint32(t.Hour())*3600 + uint32(t.Minute())*60 + uint32(t.Second())
	return days*86400 + secs
}

// decodeTime 设备时间解码，loc 指定结果的 Location（不做时区换算）
func decodeTime(v uint32, loc *time.Location) time.Time {
	sec := int(v % 60)
	v /= 60
	min := int(v % 60)
	v /= 60
	hour := int(v % 24)
	v /= 24
	day := int(v%31) + 1
	v /= 31
	month := time.Month(v%12) + 1
	v /= 12
	year := int(v) + 2000
	return time.Date(year, month, day, hour, min, sec, 0, loc)
}

// makeCommKey 通讯密码混淆（commpro.c MakeKey 的移植，与 pyzk 一致）
func makeCommKey(key uint32, sessionID uint16, ticks byte) []byte {
	var k uint32
	for i := 0; i < 32; i++ {
		if key&(1<<uint(i)) != 0 {
			k = k<<1 | 1
		} else {
			k = k << 1
		}
	}
	k += uint32(sessionID)

	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], k)
	b[0] ^= 'Z'
	b[1] ^= 'K'
	b[2] ^= 'S'
	b[3] ^= 'O'

	// 两个 u16 交换
	h0 := binary.LittleEndian.Uint16(b[0:2])
	h1 := binary.LittleEndian.Uint16(b[2:4])
	binary.LittleEndian.PutUint16(b[0:2], h1)
	binary.LittleEndian.PutUint16(b[2:4], h0)

	b[0] ^= ticks
	b[1] ^= ticks
	b[2] = ticks
	b[3] ^= ticks
	return b[:]
}

// cstr 截取 NUL 结尾的 ASCII 字符串并去除首尾空白
func cstr(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(bytes.TrimSpace(b))
}
