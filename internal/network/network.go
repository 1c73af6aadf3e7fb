// Package network owns the raw send socket and ICMP listener a
// running trace uses to put probes on the wire and match replies back
// to them. It is deliberately thin: the only concurrency it owns is
// the unavoidable blocking socket read, which it turns into channel
// sends for the single-threaded ptloop scheduler to consume.
package network

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/net/icmp"
	"golang.org/x/net/ipv4"
	"golang.org/x/net/ipv6"

	"github.com/mnikolakis/flowtrace/internal/probe"
)

// Family selects the IP version a Network operates over.
type Family int

const (
	FamilyV4 Family = 4
	FamilyV6 Family = 6
)

// Reply is one matched response delivered to the caller: either an
// intermediate-hop ICMP error or the destination's echo reply.
type Reply struct {
	ProbeID  uint64
	FromIP   net.IP
	RTT      time.Duration
	ICMPType int
	ICMPCode int
	Reached  bool
}

// ICMP type numbers for "destination unreachable" in each family.
// TimeExceeded (the normal hop notification) and DstUnreach both
// arrive with Reached == false, so telling a routing error apart from
// an ordinary hop reply needs the type number, not just Reached.
const (
	ICMPv4DestUnreachable = 3
	ICMPv6DestUnreachable = 1
)

// IsRoutingError reports whether this reply is an ICMP error from an
// intermediate router other than the expected TimeExceeded hop
// notification — e.g. network/host unreachable, admin prohibited.
// Port-unreachable (the destination itself answering) is excluded via
// Reached, which handlePacket already sets only for that case.
func (r Reply) IsRoutingError(family Family) bool {
	if r.Reached {
		return false
	}
	want := ICMPv4DestUnreachable
	if family == FamilyV6 {
		want = ICMPv6DestUnreachable
	}
	return r.ICMPType == want
}

type inFlightProbe struct {
	probeID uint64
	sentAt  time.Time
	family  Family
}

// Network owns the raw send socket and ICMP listener(s) for one
// address family, plus the in-flight table correlating a Paris serial
// back to the probe that carried it.
type Network struct {
	family Family
	raw    *rawSocket
	conn   *icmp.PacketConn

	mu       sync.Mutex
	inflight map[uint16]*inFlightProbe
	closed   bool

	replies chan Reply
}

// Open creates the raw send socket and ICMP listener for family.
func Open(family Family) (*Network, error) {
	n := &Network{
		family:   family,
		inflight: make(map[uint16]*inFlightProbe),
		replies:  make(chan Reply, 64),
	}

	var err error
	if family == FamilyV6 {
		n.raw, err = newRawSocket6()
		if err == nil {
			n.conn, err = icmp.ListenPacket("ip6:ipv6-icmp", "::")
		}
	} else {
		n.raw, err = newRawSocket4()
		if err == nil {
			n.conn, err = icmp.ListenPacket("ip4:icmp", "0.0.0.0")
		}
	}
	if err != nil {
		if n.raw != nil {
			n.raw.close()
		}
		return nil, fmt.Errorf("network: Open: %w", err)
	}
	return n, nil
}

// Replies returns the channel matched responses are posted to. A
// dedicated goroutine (started by Listen) pumps the blocking ICMP
// read into this channel; it performs no algorithm-state mutation of
// its own, so the ptloop scheduler remains the only consumer and the
// only place decisions get made.
func (n *Network) Replies() <-chan Reply { return n.replies }

// Send serializes p with serial encoded into its transport checksum
// field and transmits it to dst, recording it as in-flight.
func (n *Network) Send(p *probe.Probe, dst net.IP, serial uint16) error {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return ErrClosed
	}
	n.mu.Unlock()

	raw, err := p.SerializeWithSerial(serial)
	if err != nil {
		return fmt.Errorf("network: Send: %w", err)
	}

	sentAt := time.Now()
	p.SetSendingTime(sentAt)
	if err := n.raw.send(dst, raw); err != nil {
		return fmt.Errorf("network: Send: %w", err)
	}

	n.mu.Lock()
	n.inflight[serial] = &inFlightProbe{probeID: p.ID(), sentAt: sentAt, family: n.family}
	n.mu.Unlock()
	return nil
}

// Forget removes a probe from the in-flight table without waiting for
// a reply — used when ptloop declares it a star on timeout, so a
// late-arriving duplicate reply isn't matched to a stale entry.
func (n *Network) Forget(serial uint16) {
	n.mu.Lock()
	delete(n.inflight, serial)
	n.mu.Unlock()
}

// Pending reports how many probes are currently awaiting a reply.
func (n *Network) Pending() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.inflight)
}

// Listen starts the blocking-read pump goroutine; it exits when ctx
// is done or the Network is closed.
func (n *Network) Listen(ctx context.Context) {
	go n.recvLoop(ctx)
}

func (n *Network) recvLoop(ctx context.Context) {
	buf := make([]byte, 1500)
	for {
		if ctx.Err() != nil {
			return
		}
		n.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		nn, peer, err := n.conn.ReadFrom(buf)
		if err != nil {
			n.mu.Lock()
			closed := n.closed
			n.mu.Unlock()
			if closed {
				return
			}
			continue // deadline or transient error; the caller re-checks ctx
		}
		n.handlePacket(buf[:nn], peer)
	}
}

func (n *Network) handlePacket(data []byte, peer net.Addr) {
	proto := 1
	if n.family == FamilyV6 {
		proto = 58
	}
	msg, err := icmp.ParseMessage(proto, data)
	if err != nil {
		return
	}

	recvAt := time.Now()
	fromIP := peerIP(peer)

	switch body := msg.Body.(type) {
	case *icmp.TimeExceeded:
		n.deliverQuoted(body.Data, fromIP, recvAt, icmpTypeNumber(msg.Type), int(msg.Code), false)
	case *icmp.DstUnreach:
		// Only port-unreachable (code 3 for ICMPv4, code 4 for ICMPv6)
		// means the destination itself answered; every other
		// Destination Unreachable code (net/host/protocol unreachable,
		// admin prohibited, ...) is a routing error from some
		// intermediate hop.
		portUnreachable := 3
		if n.family == FamilyV6 {
			portUnreachable = 4
		}
		reached := int(msg.Code) == portUnreachable
		n.deliverQuoted(body.Data, fromIP, recvAt, icmpTypeNumber(msg.Type), int(msg.Code), reached)
	case *icmp.Echo:
		n.deliverEcho(uint16(body.ID), fromIP, recvAt, icmpTypeNumber(msg.Type), int(msg.Code))
	}
}

// deliverQuoted extracts the serial embedded in a quoted probe's
// transport checksum and resolves it against the in-flight table.
// quoted is the original IP header plus leading transport bytes that
// RFC 792/4443 guarantee the router copies back verbatim.
func (n *Network) deliverQuoted(quoted []byte, fromIP net.IP, recvAt time.Time, icmpType, icmpCode int, reached bool) {
	first := "ipv4"
	if n.family == FamilyV6 {
		first = "ipv6"
	}
	serial, err := probe.ExtractSerial(first, quoted)
	if err != nil {
		return
	}
	n.resolve(serial, fromIP, recvAt, icmpType, icmpCode, reached)
}

func (n *Network) deliverEcho(id uint16, fromIP net.IP, recvAt time.Time, icmpType, icmpCode int) {
	n.resolve(id, fromIP, recvAt, icmpType, icmpCode, true)
}

func (n *Network) resolve(serial uint16, fromIP net.IP, recvAt time.Time, icmpType, icmpCode int, reached bool) {
	n.mu.Lock()
	entry, ok := n.inflight[serial]
	if ok {
		delete(n.inflight, serial)
	}
	n.mu.Unlock()
	if !ok {
		return
	}

	select {
	case n.replies <- Reply{
		ProbeID:  entry.probeID,
		FromIP:   fromIP,
		RTT:      recvAt.Sub(entry.sentAt),
		ICMPType: icmpType,
		ICMPCode: icmpCode,
		Reached:  reached,
	}:
	default:
		// A full reply channel means ptloop has fallen behind the
		// socket; drop rather than block the I/O pump goroutine.
	}
}

// Close releases the raw send socket and ICMP listener.
func (n *Network) Close() error {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()

	var err error
	if n.conn != nil {
		err = n.conn.Close()
	}
	if n.raw != nil {
		if rerr := n.raw.close(); rerr != nil && err == nil {
			err = rerr
		}
	}
	return err
}

func peerIP(peer net.Addr) net.IP {
	switch a := peer.(type) {
	case *net.IPAddr:
		return a.IP
	case *net.UDPAddr:
		return a.IP
	default:
		return nil
	}
}

func icmpTypeNumber(t icmp.Type) int {
	switch v := t.(type) {
	case ipv4.ICMPType:
		return int(v)
	case ipv6.ICMPType:
		return int(v)
	default:
		return -1
	}
}
