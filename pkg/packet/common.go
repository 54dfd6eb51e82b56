package packet

import (
	"errors"
	"fmt"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

type (
	Timestamp int64 // unix time in microseconds - differences are latencies in microseconds
)

var (
	ErrSocket  = errors.New("socket error")
	ErrBind    = errors.New("bind error")
	ErrReceive = errors.New("receive error")

	ErrTimestampNotFound         = errors.New("no timestamp found in control data")
	ErrScmTimestampNotEnoughData = errors.New("not enough data received for ScmTimestamp")
)

const (
	ctlBufSize = 256 // room for a single Timeval plus Cmsghdr with plenty to spare
)

func FromTime(t time.Time) Timestamp {
	return Timestamp(t.UnixMicro())
}

func FromTimeval(tv unix.Timeval) Timestamp {
	sec, nsec := tv.Unix()
	return Timestamp(sec*1e6 + nsec/1e3)
}

// Sub returns t-u in microseconds; the result is negative when u is later than t.
func (t Timestamp) Sub(u Timestamp) int64 {
	return int64(t - u)
}

func (t Timestamp) String() string {
	sec, usec := int64(t)/1e6, int64(t)%1e6
	if usec < 0 {
		sec--
		usec += 1e6
	}
	return fmt.Sprintf("%d.%06d", sec, usec)
}

func EnableTimestamping(fd int) error {
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_TIMESTAMP, 1); err != nil {
		return fmt.Errorf("%w: setsockopt(SO_TIMESTAMP): %w", ErrSocket, err)
	}
	return nil
}

// SetRecvBuffer asks for a receive buffer of size bytes, first bypassing
// rmem_max (needs CAP_NET_ADMIN) and then within it. The size actually granted
// is always returned; err only reports why the full request was not honoured.
func SetRecvBuffer(fd, size int) (int, error) {
	forceErr := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUFFORCE, size)
	if forceErr != nil {
		forceErr = fmt.Errorf("setsockopt(SO_RCVBUFFORCE): %w", forceErr)
		if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF, size); err != nil {
			forceErr = fmt.Errorf("setsockopt(SO_RCVBUF): %w", err)
		}
	}

	granted, err := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_RCVBUF)
	if err != nil {
		return 0, fmt.Errorf("getsockopt(SO_RCVBUF): %w", err)
	}
	return granted, forceErr
}

func decodeTimestamp(buf []byte) (Timestamp, error) {
	for len(buf) > 0 {
		hdr, data, remainder, err := unix.ParseOneSocketControlMessage(buf)
		if err != nil {
			return 0, fmt.Errorf("unix.ParseOneSocketControlMessage: %w", err)
		}

		switch hdr.Level {
		case unix.SOL_SOCKET:
			switch hdr.Type {
			case unix.SCM_TIMESTAMP:
				if uintptr(len(data)) < unsafe.Sizeof(unix.Timeval{}) {
					return 0, ErrScmTimestampNotEnoughData
				}
				tv := (*unix.Timeval)(unsafe.Pointer(unsafe.SliceData(data)))
				return FromTimeval(*tv), nil
			}
		}

		buf = remainder
	}
	return 0, ErrTimestampNotFound
}
