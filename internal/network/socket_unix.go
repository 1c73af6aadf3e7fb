//go:build linux || darwin || freebsd || netbsd || openbsd

package network

import (
	"fmt"
	"net"
	"syscall"
)

// IPV6_HDRINCL isn't exposed by the syscall package on every unix
// target; its value (36) has been stable across Linux and the BSDs
// since raw IPv6 header inclusion was added.
const ipv6HdrIncl = 36

// rawSocket is a send-only raw IP socket with header inclusion
// enabled: the kernel transmits exactly the bytes flowtrace hands it,
// including the IP header, instead of building one from socket
// options. Grounded on the raw-socket pattern used for OS-fingerprint
// probes elsewhere in the example pack, extended here to dual-stack.
type rawSocket struct {
	fd int
	v6 bool
}

func newRawSocket4() (*rawSocket, error) {
	fd, err := syscall.Socket(syscall.AF_INET, syscall.SOCK_RAW, syscall.IPPROTO_RAW)
	if err != nil {
		return nil, fmt.Errorf("network: raw IPv4 socket: %w", err)
	}
	if err := syscall.SetsockoptInt(fd, syscall.IPPROTO_IP, syscall.IP_HDRINCL, 1); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("network: IP_HDRINCL: %w", err)
	}
	return &rawSocket{fd: fd}, nil
}

func newRawSocket6() (*rawSocket, error) {
	fd, err := syscall.Socket(syscall.AF_INET6, syscall.SOCK_RAW, syscall.IPPROTO_RAW)
	if err != nil {
		return nil, fmt.Errorf("network: raw IPv6 socket: %w", err)
	}
	if err := syscall.SetsockoptInt(fd, syscall.IPPROTO_IPV6, ipv6HdrIncl, 1); err != nil {
		syscall.Close(fd)
		return nil, fmt.Errorf("network: IPV6_HDRINCL: %w", err)
	}
	return &rawSocket{fd: fd, v6: true}, nil
}

func (s *rawSocket) send(dst net.IP, packet []byte) error {
	if s.v6 {
		var addr [16]byte
		copy(addr[:], dst.To16())
		return syscall.Sendto(s.fd, packet, 0, &syscall.SockaddrInet6{Addr: addr})
	}
	var addr [4]byte
	copy(addr[:], dst.To4())
	return syscall.Sendto(s.fd, packet, 0, &syscall.SockaddrInet4{Addr: addr})
}

func (s *rawSocket) close() error {
	return syscall.Close(s.fd)
}
