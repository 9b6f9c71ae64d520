package zk

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	"antigravity-biosync/internal/config"

	"go.uber.org/zap"
)

// commKeyTicks MakeKey 的固定 ticks 参数（与厂家 SDK 一致）
const commKeyTicks byte = 50

// Transport 指纹机 TCP 传输层
// 每轮同步建立一个独占会话，用完必须显式断开——设备侧只允许一个并发连接。
type Transport struct {
	cfg    config.DeviceConfig
	logger *zap.Logger
}

// NewTransport 创建传输层
func NewTransport(cfg config.DeviceConfig, logger *zap.Logger) *Transport {
	return &Transport{cfg: cfg, logger: logger}
}

// Session 一次设备会话（单轮同步内独占使用，不支持并发调用）
type Session struct {
	conn        net.Conn
	sessionID   uint16
	replyID     uint16
	readTimeout time.Duration
	logger      *zap.Logger
}

// Connect 建立 TCP 连接并完成握手
// 连接超时/拒绝 → DeviceUnreachable；握手阶段的任何异常 → HandshakeFailure。
func (t *Transport) Connect() (*Session, error) {
	addr := net.JoinHostPort(t.cfg.Host, fmt.Sprintf("%d", t.cfg.Port))

	conn, err := net.DialTimeout("tcp", addr, t.cfg.ConnectTimeout)
	if err != nil {
		return nil, newDeviceError(KindUnreachable, "connect "+addr, err)
	}

	s := &Session{
		conn:        conn,
		readTimeout: t.cfg.ReadTimeout,
		logger:      t.logger,
	}

	resp, err := s.send(CmdConnect, nil)
	if err != nil {
		conn.Close()
		return nil, newDeviceError(KindHandshake, "handshake", err)
	}

	// 设备在握手响应里分配 session id
	s.sessionID = resp.Session

	switch resp.Cmd {
	case CmdAckOK:
		// 无通讯密码，握手完成
	case CmdAckUnauth:
		if t.cfg.CommKey == 0 {
			conn.Close()
			return nil, newDeviceError(KindHandshake, "handshake", fmt.Errorf("device requires comm key but none configured"))
		}
		key := makeCommKey(uint32(t.cfg.CommKey), s.sessionID, commKeyTicks)
		authResp, err := s.send(CmdAuth, key)
		if err != nil {
			conn.Close()
			return nil, newDeviceError(KindHandshake, "auth", err)
		}
		if authResp.Cmd != CmdAckOK {
			conn.Close()
			return nil, newDeviceError(KindHandshake, "auth", fmt.Errorf("device rejected comm key (cmd=%d)", authResp.Cmd))
		}
	default:
		conn.Close()
		return nil, newDeviceError(KindHandshake, "handshake", fmt.Errorf("unexpected response cmd=%d", resp.Cmd))
	}

	t.logger.Debug("Device session established",
		zap.String("addr", addr),
		zap.Uint16("session_id", s.sessionID),
	)
	return s, nil
}

// Close 发送退出命令并关闭连接（错误只记录，保证连接释放）
func (s *Session) Close() error {
	if s.conn == nil {
		return nil
	}
	if _, err := s.send(CmdExit, nil); err != nil {
		s.logger.Debug("Exit command failed during disconnect", zap.Error(err))
	}
	err := s.conn.Close()
	s.conn = nil
	return err
}

// Send 发送一条命令并读取一帧响应
// CMD_ACK_ERROR 映射为 CommandRejected；坏帧映射为 CorruptFrame。
func (s *Session) Send(cmd uint16, data []byte) (*Frame, error) {
	resp, err := s.send(cmd, data)
	if err != nil {
		return nil, err
	}
	if resp.Cmd == CmdAckError {
		return nil, newDeviceError(KindCommandRejected, fmt.Sprintf("command %d", cmd), nil)
	}
	return resp, nil
}

func (s *Session) send(cmd uint16, data []byte) (*Frame, error) {
	payload := buildPayload(cmd, s.sessionID, s.replyID, data)
	s.replyID++

	if err := s.conn.SetWriteDeadline(time.Now().Add(s.readTimeout)); err != nil {
		return nil, err
	}
	if _, err := s.conn.Write(wrapFrame(payload)); err != nil {
		return nil, newDeviceError(KindUnreachable, fmt.Sprintf("write command %d", cmd), err)
	}
	return s.readFrame()
}

// readFrame 读取一帧：8字节头 + 负载，验证魔数和校验和
func (s *Session) readFrame() (*Frame, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
		return nil, err
	}

	header := make([]byte, headerSize)
	if _, err := io.ReadFull(s.conn, header); err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, newDeviceError(KindUnreachable, "read frame header", err)
		}
		return nil, newDeviceError(KindCorruptFrame, "read frame header", err)
	}
	if header[0] != tcpMagic[0] || header[1] != tcpMagic[1] || header[2] != tcpMagic[2] || header[3] != tcpMagic[3] {
		return nil, newDeviceError(KindCorruptFrame, "frame header", fmt.Errorf("bad magic % x", header[:4]))
	}

	length := binary.LittleEndian.Uint32(header[4:8])
	if length < 8 || length > maxPayloadSize {
		return nil, newDeviceError(KindCorruptFrame, "frame header", fmt.Errorf("implausible payload length %d", length))
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(s.conn, payload); err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return nil, newDeviceError(KindUnreachable, "read frame payload", err)
		}
		return nil, newDeviceError(KindCorruptFrame, "read frame payload", err)
	}

	frame, err := parsePayload(payload)
	if err != nil {
		return nil, newDeviceError(KindCorruptFrame, "decode frame", err)
	}
	return frame, nil
}
