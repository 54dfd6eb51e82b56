package socket

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// Addr converts x to an IPv4 socket address; a nil or unspecified IP binds to
// all interfaces.
func Addr(x *net.UDPAddr) unix.Sockaddr {
	res := &unix.SockaddrInet4{
		Port: x.Port,
	}
	if ip4 := x.IP.To4(); ip4 != nil {
		copy(res.Addr[:], ip4)
	}
	return res
}

func AddrToString(sa unix.Sockaddr) string {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		ip := net.IP(v.Addr[:])
		return fmt.Sprintf("%s:%d", ip, v.Port)
	case *unix.SockaddrInet6:
		ip := net.IP(v.Addr[:])
		return fmt.Sprintf("[%s]:%d", ip, v.Port)
	case *unix.SockaddrUnix:
		return v.Name
	default:
		panic(fmt.Errorf("unsupported address type %T", v))
	}
}

// InterfaceAddr returns the primary IPv4 address of the named interface, as
// reported by the SIOCGIFADDR ioctl.
func InterfaceAddr(name string) (net.IP, error) {
	ifr, err := unix.NewIfreq(name)
	if err != nil {
		return nil, fmt.Errorf("interface %q: %w", name, err)
	}

	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	defer unix.Close(fd)

	if err = unix.IoctlIfreq(fd, unix.SIOCGIFADDR, ifr); err != nil {
		return nil, fmt.Errorf("ioctl(SIOCGIFADDR) on %q: %w", name, err)
	}

	addr, err := ifr.Inet4Addr()
	if err != nil {
		return nil, fmt.Errorf("interface %q: %w", name, err)
	}
	return net.IP(addr), nil
}
