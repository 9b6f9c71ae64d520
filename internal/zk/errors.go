package zk

import (
	"errors"
	"fmt"
)

// ErrorKind 设备错误分类
// 调用方按 Kind 分支处理，禁止匹配错误文本
type ErrorKind int

const (
	// KindUnreachable 连接超时/拒绝，等下一轮调度重试
	KindUnreachable ErrorKind = iota
	// KindHandshake 握手失败（协议不匹配、通讯密码错误等）
	KindHandshake
	// KindCorruptFrame 校验和不符或数据截断，单条命令可重试一次
	KindCorruptFrame
	// KindCommandRejected 设备返回 CMD_ACK_ERROR
	KindCommandRejected
)

func (k ErrorKind) String() string {
	switch k {
	case KindUnreachable:
		return "DeviceUnreachable"
	case KindHandshake:
		return "HandshakeFailure"
	case KindCorruptFrame:
		return "CorruptFrame"
	case KindCommandRejected:
		return "CommandRejected"
	default:
		return "Unknown"
	}
}

// DeviceError 指纹机通讯错误
type DeviceError struct {
	Kind ErrorKind
	Op   string // 出错的操作，如 "connect"、"read attendance logs"
	Err  error  // 底层错误，可能为 nil
}

func (e *DeviceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Op)
}

func (e *DeviceError) Unwrap() error {
	return e.Err
}

func newDeviceError(kind ErrorKind, op string, err error) *DeviceError {
	return &DeviceError{Kind: kind, Op: op, Err: err}
}

// IsKind 判断错误是否为指定分类的设备错误
func IsKind(err error, kind ErrorKind) bool {
	var de *DeviceError
	return errors.As(err, &de) && de.Kind == kind
}
