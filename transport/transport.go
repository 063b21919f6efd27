// Package transport is the socket boundary for R-GOOSE/R-SV datagrams: a
// UDP multicast sender/receiver bound to a named network interface. It is
// intentionally thin and replaceable — a custom driver can substitute for
// UDPMulticast by implementing the same Sender/Receiver interfaces.
package transport

import (
	"context"
	"fmt"
	"net"
	"syscall"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"

	"github.com/rgoose90/ied/internal/iface"
)

// Port is the fixed R-GOOSE/R-SV UDP port (§6).
const Port = 102

// TTL is the fixed multicast hop limit for sent datagrams (§6).
const TTL = 16

// Sender transmits one datagram to a multicast group.
type Sender interface {
	Send(groupIP net.IP, port int, payload []byte) error
}

// Receiver reads datagrams from a bound multicast socket.
type Receiver interface {
	Recv() (payload []byte, err error)
	Close() error
}

// UDPMulticast is the reference Sender/Receiver, built on a
// net.ListenConfig-bound UDP socket plus golang.org/x/net/ipv4 for per-send
// TTL and outgoing-interface control that the standard library alone does
// not expose on a connectionless UDP socket.
type UDPMulticast struct {
	ifi     *net.Interface
	conn    *net.UDPConn
	pktConn *ipv4.PacketConn
	buf     []byte
}

// setReuseAddr sets SO_REUSEADDR before bind so multiple processes on one
// host can each join the same multicast group on UDP/102, per the
// external-interface contract (§6).
func setReuseAddr(network, address string, c syscall.RawConn) error {
	var sockErr error
	err := c.Control(func(fd uintptr) {
		sockErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
	if err != nil {
		return err
	}
	return sockErr
}

// NewUDPMulticast binds to every group in groups on the named interface and
// returns a ready-to-use UDPMulticast. The recv buffer is sized to
// maxDatagramSize.
func NewUDPMulticast(ifName string, groups []net.IP, maxDatagramSize int) (*UDPMulticast, error) {
	ifi, err := net.InterfaceByName(ifName)
	if err != nil {
		return nil, fmt.Errorf("transport: resolve interface %q: %w", ifName, err)
	}

	// Resolving the interface's own bound IPv4 address up front fails
	// fast with a clear error if the interface is unconfigured, before
	// any socket is opened.
	if _, err := iface.ResolveIPv4(ifName); err != nil {
		return nil, fmt.Errorf("transport: %w", err)
	}

	lc := net.ListenConfig{Control: setReuseAddr}
	pc, err := lc.ListenPacket(context.Background(), "udp4", fmt.Sprintf(":%d", Port))
	if err != nil {
		return nil, fmt.Errorf("transport: listen on UDP/%d: %w", Port, err)
	}
	conn := pc.(*net.UDPConn)

	pktConn := ipv4.NewPacketConn(conn)
	if err := pktConn.SetMulticastTTL(TTL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: set multicast TTL: %w", err)
	}
	if err := pktConn.SetMulticastInterface(ifi); err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: set multicast interface: %w", err)
	}
	if err := pktConn.SetMulticastLoopback(true); err != nil {
		conn.Close()
		return nil, fmt.Errorf("transport: set multicast loopback: %w", err)
	}

	for _, g := range groups {
		if err := pktConn.JoinGroup(ifi, &net.UDPAddr{IP: g}); err != nil {
			conn.Close()
			return nil, fmt.Errorf("transport: join group %s: %w", g, err)
		}
	}

	return &UDPMulticast{
		ifi:     ifi,
		conn:    conn,
		pktConn: pktConn,
		buf:     make([]byte, maxDatagramSize),
	}, nil
}

// Send transmits payload to groupIP:port, re-applying the outgoing multicast
// interface chosen at construction on every call.
func (u *UDPMulticast) Send(groupIP net.IP, port int, payload []byte) error {
	if err := u.pktConn.SetMulticastInterface(u.ifi); err != nil {
		return fmt.Errorf("transport: set multicast interface before send: %w", err)
	}
	_, err := u.conn.WriteToUDP(payload, &net.UDPAddr{IP: groupIP, Port: port})
	if err != nil {
		return fmt.Errorf("transport: send to %s:%d: %w", groupIP, port, err)
	}
	return nil
}

// Recv blocks for the next datagram and returns a copy of its payload.
func (u *UDPMulticast) Recv() ([]byte, error) {
	n, _, _, err := u.pktConn.ReadFrom(u.buf)
	if err != nil {
		return nil, fmt.Errorf("transport: recv: %w", err)
	}
	out := make([]byte, n)
	copy(out, u.buf[:n])
	return out, nil
}

// Close releases the underlying socket.
func (u *UDPMulticast) Close() error {
	return u.conn.Close()
}
