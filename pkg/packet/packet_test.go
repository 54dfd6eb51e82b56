package packet

import (
	"net"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func controlMessage(level, typ int32, data []byte) []byte {
	buf := make([]byte, unix.CmsgSpace(len(data)))
	hdr := (*unix.Cmsghdr)(unsafe.Pointer(&buf[0]))
	hdr.Level = level
	hdr.Type = typ
	hdr.SetLen(unix.CmsgLen(len(data)))
	copy(buf[unix.CmsgLen(0):], data)
	return buf
}

func timevalBytes(sec, usec int64) []byte {
	tv := unix.NsecToTimeval(sec*1e9 + usec*1e3)
	return unsafe.Slice((*byte)(unsafe.Pointer(&tv)), unsafe.Sizeof(tv))
}

func TestDecodeTimestamp(t *testing.T) {
	buf := controlMessage(unix.SOL_SOCKET, unix.SCM_TIMESTAMP, timevalBytes(1700000000, 123456))
	ts, err := decodeTimestamp(buf)
	require.NoError(t, err)
	assert.Equal(t, Timestamp(1700000000_123456), ts)
	assert.Equal(t, "1700000000.123456", ts.String())
}

func TestDecodeTimestampSkipsOtherMessages(t *testing.T) {
	buf := controlMessage(unix.IPPROTO_IP, unix.IP_TTL, []byte{64, 0, 0, 0})
	buf = append(buf, controlMessage(unix.SOL_SOCKET, unix.SCM_TIMESTAMP, timevalBytes(5, 7))...)
	ts, err := decodeTimestamp(buf)
	require.NoError(t, err)
	assert.Equal(t, Timestamp(5_000007), ts)
}

func TestDecodeTimestampMissing(t *testing.T) {
	_, err := decodeTimestamp(nil)
	assert.ErrorIs(t, err, ErrTimestampNotFound)

	_, err = decodeTimestamp(controlMessage(unix.IPPROTO_IP, unix.IP_TTL, []byte{64, 0, 0, 0}))
	assert.ErrorIs(t, err, ErrTimestampNotFound)
}

func TestDecodeTimestampShort(t *testing.T) {
	_, err := decodeTimestamp(controlMessage(unix.SOL_SOCKET, unix.SCM_TIMESTAMP, []byte{1, 2}))
	assert.ErrorIs(t, err, ErrScmTimestampNotEnoughData)
}

func TestTimestampSub(t *testing.T) {
	kernel := Timestamp(10_999990)
	user := Timestamp(11_000015)
	assert.Equal(t, int64(25), user.Sub(kernel))
	assert.Equal(t, int64(-25), kernel.Sub(user))
}

func TestTimestampStringNegative(t *testing.T) {
	assert.Equal(t, "-1.999999", Timestamp(-1).String())
}

func listenLoopback(t *testing.T) (*Receiver, *net.UDPConn) {
	t.Helper()
	r, err := Listen(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)}, 1<<20)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })

	sa, err := r.LocalAddr()
	require.NoError(t, err)
	local := sa.(*unix.SockaddrInet4)

	conn, err := net.DialUDP("udp4", nil, &net.UDPAddr{IP: net.IP(local.Addr[:]), Port: local.Port})
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return r, conn
}

func TestReceiveLoopback(t *testing.T) {
	r, conn := listenLoopback(t)

	granted, _ := r.RecvBuffer()
	assert.Positive(t, granted)

	_, err := conn.Write([]byte{0x80, 0x60, 0x12, 0x34, 0xde, 0xad})
	require.NoError(t, err)

	p, err := r.Receive()
	require.NoError(t, err)
	assert.Equal(t, []byte{0x80, 0x60, 0x12, 0x34, 0xde, 0xad}, p.Payload)
	assert.False(t, p.Stale)
	assert.False(t, p.Truncated)
	assert.NotZero(t, p.KernelTime)
	assert.GreaterOrEqual(t, p.Latency(), int64(0))
}

func TestReceiveTruncates(t *testing.T) {
	r, conn := listenLoopback(t)

	_, err := conn.Write(make([]byte, MaxPayload+100))
	require.NoError(t, err)

	p, err := r.Receive()
	require.NoError(t, err)
	assert.Len(t, p.Payload, MaxPayload)
	assert.True(t, p.Truncated)
}

func TestReceiveReusesTimestampWhenAbsent(t *testing.T) {
	r, conn := listenLoopback(t)
	r.now = func() Timestamp { return 42 }

	_, err := conn.Write([]byte{1})
	require.NoError(t, err)
	first, err := r.Receive()
	require.NoError(t, err)
	require.False(t, first.Stale)

	require.NoError(t, unix.SetsockoptInt(r.fd, unix.SOL_SOCKET, unix.SO_TIMESTAMP, 0))
	_, err = conn.Write([]byte{2})
	require.NoError(t, err)
	second, err := r.Receive()
	require.NoError(t, err)

	assert.True(t, second.Stale)
	assert.Equal(t, first.KernelTime, second.KernelTime)
	assert.Equal(t, Timestamp(42), second.UserTime)
}

func TestListenBindError(t *testing.T) {
	r, _ := listenLoopback(t)
	sa, err := r.LocalAddr()
	require.NoError(t, err)
	local := sa.(*unix.SockaddrInet4)

	_, err = Listen(&net.UDPAddr{IP: net.IP(local.Addr[:]), Port: local.Port}, 0)
	assert.ErrorIs(t, err, ErrBind)
	assert.ErrorIs(t, err, unix.EADDRINUSE)
}

func TestReceiveClosedSocketIsFatal(t *testing.T) {
	r, err := Listen(&net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)}, 0)
	require.NoError(t, err)
	require.NoError(t, r.Close())

	_, err = r.Receive()
	assert.ErrorIs(t, err, ErrReceive)
	assert.True(t, IsFatal(err))
	assert.False(t, IsFatal(unix.EAGAIN))
}
