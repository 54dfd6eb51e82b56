package packet

import (
	"errors"
	"fmt"
	"kulatency/pkg/socket"
	"net"
	"time"

	"golang.org/x/sys/unix"
)

const MaxPayload = 4096

// Packet is one received datagram. Payload aliases the receiver's buffer and
// is only valid until the next call to Receive.
type Packet struct {
	Payload    []byte
	KernelTime Timestamp
	UserTime   Timestamp
	Stale      bool // no timestamp in this datagram's control data, KernelTime is the previous one
	Truncated  bool
}

func (p *Packet) Latency() int64 {
	return p.UserTime.Sub(p.KernelTime)
}

type Receiver struct {
	fd         int
	buf        []byte
	ctlBuf     []byte
	kernelTime Timestamp
	now        func() Timestamp
	rcvBuf     int
	rcvBufErr  error
}

// Listen opens an IPv4 datagram socket with kernel receive timestamps enabled
// and binds it to addr. A receive buffer of rcvBuf bytes is requested on a best
// effort basis; see RecvBuffer.
func Listen(addr *net.UDPAddr, rcvBuf int) (*Receiver, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: socket: %w", ErrSocket, err)
	}

	r := &Receiver{
		fd:     fd,
		buf:    make([]byte, MaxPayload),
		ctlBuf: make([]byte, ctlBufSize),
		now:    func() Timestamp { return FromTime(time.Now()) },
	}

	if err = EnableTimestamping(fd); err != nil {
		unix.Close(fd)
		return nil, err
	}

	if rcvBuf > 0 {
		r.rcvBuf, r.rcvBufErr = SetRecvBuffer(fd, rcvBuf)
	}

	if err = unix.Bind(fd, socket.Addr(addr)); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("%w: bind %s: %w", ErrBind, addr, err)
	}

	return r, nil
}

// RecvBuffer reports the receive buffer size granted by the kernel and, when
// the requested size could not be forced, the reason.
func (r *Receiver) RecvBuffer() (int, error) {
	return r.rcvBuf, r.rcvBufErr
}

func (r *Receiver) LocalAddr() (unix.Sockaddr, error) {
	sa, err := unix.Getsockname(r.fd)
	if err != nil {
		return nil, fmt.Errorf("getsockname: %w", err)
	}
	return sa, nil
}

func (r *Receiver) Close() error {
	return unix.Close(r.fd)
}

// Receive blocks until a datagram arrives.
func (r *Receiver) Receive() (Packet, error) {
	n, ctlN, flags, _, err := unix.Recvmsg(r.fd, r.buf, r.ctlBuf, 0)
	userTime := r.now()
	if err != nil {
		return Packet{}, fmt.Errorf("%w: recvmsg: %w", ErrReceive, err)
	}

	p := Packet{
		Payload:   r.buf[:n],
		UserTime:  userTime,
		Truncated: flags&unix.MSG_TRUNC != 0,
	}

	ts, err := decodeTimestamp(r.ctlBuf[:ctlN])
	switch {
	case err == nil:
		r.kernelTime = ts
	case errors.Is(err, ErrTimestampNotFound):
		p.Stale = true
	default:
		return Packet{}, fmt.Errorf("%w: %w", ErrReceive, err)
	}
	p.KernelTime = r.kernelTime

	return p, nil
}

// IsFatal tells whether a receive error means the socket can no longer be used.
func IsFatal(err error) bool {
	for _, errno := range []unix.Errno{unix.EBADF, unix.ENOTSOCK, unix.EFAULT, unix.EINVAL} {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}
