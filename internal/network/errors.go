package network

import "errors"

// Network-level errors, surfaced up through ptloop as plain Go errors
// rather than algorithm events — a failure to open or use a socket is
// an operational problem, not a probing outcome.
var (
	// ErrPermissionDenied indicates the raw socket could not be
	// opened because the process lacks the required privilege.
	ErrPermissionDenied = errors.New("network: permission denied opening raw socket")

	// ErrUnsupportedFamily indicates IPv4/IPv6 raw send is not
	// available on the current platform.
	ErrUnsupportedFamily = errors.New("network: address family not supported on this platform")

	// ErrClosed indicates an operation was attempted on a Network
	// after Close.
	ErrClosed = errors.New("network: use of closed network")
)
