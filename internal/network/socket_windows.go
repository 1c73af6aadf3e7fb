//go:build windows

package network

import (
	"fmt"
	"net"
)

// Windows' raw-socket story (no IP_HDRINCL-equivalent for arbitrary
// header injection without the Npcap driver) doesn't support the
// same header-included send path the unix build uses. flowtrace's
// Windows build degrades to reporting the condition rather than
// silently sending malformed packets.
type rawSocket struct {
	v6 bool
}

func newRawSocket4() (*rawSocket, error) {
	return nil, fmt.Errorf("network: raw IPv4 send sockets are not supported on windows")
}

func newRawSocket6() (*rawSocket, error) {
	return nil, fmt.Errorf("network: raw IPv6 send sockets are not supported on windows")
}

func (s *rawSocket) send(dst net.IP, packet []byte) error {
	return fmt.Errorf("network: raw send is not supported on windows")
}

func (s *rawSocket) close() error { return nil }
