package zk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildParsePayload_RoundTrip(t *testing.T) {
	data := []byte{0x01, 0x02, 0x03, 0x04, 0x05}
	p := buildPayload(CmdAttLogRRQ, 0x1234, 7, data)

	frame, err := parsePayload(p)
	require.NoError(t, err)
	assert.Equal(t, CmdAttLogRRQ, frame.Cmd)
	assert.Equal(t, uint16(0x1234), frame.Session)
	assert.Equal(t, uint16(7), frame.Reply)
	assert.Equal(t, data, frame.Data)
}

func TestParsePayload_ChecksumMismatch(t *testing.T) {
	p := buildPayload(CmdConnect, 0, 0, []byte("hello"))
	p[len(p)-1] ^= 0xFF // 破坏一个字节

	_, err := parsePayload(p)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "checksum mismatch")
}

func TestParsePayload_TooShort(t *testing.T) {
	_, err := parsePayload([]byte{0x01, 0x02, 0x03})
	assert.Error(t, err)
}

func TestChecksum_OddLength(t *testing.T) {
	// 奇数长度负载也必须能构造和校验
	p := buildPayload(CmdConnect, 1, 2, []byte{0xAA})
	_, err := parsePayload(p)
	assert.NoError(t, err)
}

func TestWrapFrame_Header(t *testing.T) {
	payload := buildPayload(CmdConnect, 0, 0, nil)
	out := wrapFrame(payload)

	assert.Equal(t, tcpMagic, out[:4])
	assert.Equal(t, byte(len(payload)), out[4])
	assert.Equal(t, payload, out[headerSize:])
}

func TestTimeCodec_Epoch(t *testing.T) {
	// 编码基准：2000-01-01 00:00:00 = 0
	assert.Equal(t, uint32(0), encodeTime(time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)))
	assert.Equal(t, time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC), decodeTime(0, time.UTC))

	// 一天 = 86400
	assert.Equal(t, time.Date(2000, 1, 2, 0, 0, 0, 0, time.UTC), decodeTime(86400, time.UTC))
}

func TestTimeCodec_RoundTrip(t *testing.T) {
	cases := []time.Time{
		time.Date(2026, 2, 19, 9, 0, 0, 0, time.UTC),
		time.Date(2026, 2, 28, 23, 59, 59, 0, time.UTC),
		time.Date(2024, 12, 31, 18, 30, 0, 0, time.UTC),
		time.Date(2000, 1, 31, 0, 0, 1, 0, time.UTC),
	}
	for _, want := range cases {
		got := decodeTime(encodeTime(want), time.UTC)
		assert.True(t, got.Equal(want), "round trip %v != %v", got, want)
	}
}

func TestMakeCommKey_KnownVector(t *testing.T) {
	// key=0, session=0, ticks=50 的固定输出（与厂家 MakeKey 算法对齐）
	key := makeCommKey(0, 0, 50)
	assert.Equal(t, []byte{0x61, 0x7D, 0x32, 0x79}, key)
}

func TestMakeCommKey_DependsOnSession(t *testing.T) {
	a := makeCommKey(123456, 0x0001, 50)
	b := makeCommKey(123456, 0x0002, 50)
	assert.NotEqual(t, a, b)
	assert.Len(t, a, 4)
}

func TestCstr(t *testing.T) {
	assert.Equal(t, "QIX0013", cstr([]byte("QIX0013\x00\x00\x00junk")))
	assert.Equal(t, "13", cstr([]byte(" 13 \x00")))
	assert.Equal(t, "", cstr([]byte{0x00, 0x00}))
}
