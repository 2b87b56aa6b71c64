// Package netio provides the UDP transport for BFD Control packets: one
// shared socket per local port, TTL 255 on transmit, and GTSM validation
// of the TTL on receive (RFC 5881 Section 5).
package netio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"syscall"

	"golang.org/x/net/ipv4"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
)

// gtsmTTL is the TTL required on both transmit and receipt for
// single-hop BFD (RFC 5881 Section 5): a packet from more than one hop
// away cannot arrive with TTL 255.
const gtsmTTL = 255

// readBufSize is sized for one Ethernet MTU; BFD Control packets are far
// smaller, but oversize datagrams must be read whole to be rejected.
const readBufSize = 1500

// ErrNoSocket indicates a send for a local port with no open socket.
var ErrNoSocket = errors.New("no socket for local port")

// DatagramHandler consumes one received, TTL-validated datagram. The data
// slice is only valid for the duration of the call.
type DatagramHandler func(peer netip.AddrPort, data []byte)

// -------------------------------------------------------------------------
// Conn
// -------------------------------------------------------------------------

// Conn is one UDP socket bound to a local BFD port, shared by every
// session using that port.
type Conn struct {
	logger    *slog.Logger
	pc        *ipv4.PacketConn
	udp       *net.UDPConn
	localPort uint16
}

// Listen opens a UDP socket on 0.0.0.0:localPort configured for BFD:
// transmit TTL pinned to 255 and received TTL reported per datagram.
func Listen(ctx context.Context, localPort uint16, logger *slog.Logger) (*Conn, error) {
	lc := net.ListenConfig{
		Control: func(network, address string, c syscall.RawConn) error {
			var ctrlErr error
			err := c.Control(func(fd uintptr) {
				ctrlErr = unix.SetsockoptInt(int(fd), unix.IPPROTO_IP, unix.IP_TTL, gtsmTTL)
				if ctrlErr != nil {
					return
				}
				ctrlErr = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
			})
			if err != nil {
				return err
			}
			return ctrlErr
		},
	}

	pconn, err := lc.ListenPacket(ctx, "udp4", fmt.Sprintf(":%d", localPort))
	if err != nil {
		return nil, fmt.Errorf("listen udp port %d: %w", localPort, err)
	}

	udp := pconn.(*net.UDPConn)
	pc := ipv4.NewPacketConn(udp)
	if err := pc.SetControlMessage(ipv4.FlagTTL, true); err != nil {
		udp.Close()
		return nil, fmt.Errorf("enable ttl reporting on port %d: %w", localPort, err)
	}

	return &Conn{
		logger:    logger.With("local_port", localPort),
		pc:        pc,
		udp:       udp,
		localPort: localPort,
	}, nil
}

// LocalPort returns the bound local port.
func (c *Conn) LocalPort() uint16 { return c.localPort }

// Send transmits one datagram to peer from the bound port.
func (c *Conn) Send(peer netip.AddrPort, data []byte) error {
	if _, err := c.udp.WriteToUDPAddrPort(data, peer); err != nil {
		return fmt.Errorf("send to %s: %w", peer, err)
	}
	return nil
}

// ReadLoop receives datagrams until the socket is closed, validating the
// GTSM TTL and passing survivors to handle. Datagrams with a TTL below
// 255 are discarded without reaching the protocol engine.
func (c *Conn) ReadLoop(handle DatagramHandler) error {
	// A full MTU so oversize datagrams are seen whole and rejected by the
	// codec's length validation instead of being silently truncated.
	buf := make([]byte, readBufSize)

	for {
		n, cm, src, err := c.pc.ReadFrom(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("read udp port %d: %w", c.localPort, err)
		}

		peer := peerAddrPort(src)
		if cm == nil || cm.TTL != gtsmTTL {
			ttl := -1
			if cm != nil {
				ttl = cm.TTL
			}
			c.logger.Debug("discarding datagram failing GTSM",
				"peer", peer.String(), "ttl", ttl)
			continue
		}

		handle(peer, buf[:n])
	}
}

// Close shuts the socket, terminating ReadLoop.
func (c *Conn) Close() error {
	return c.udp.Close()
}

// peerAddrPort normalizes a received source address to a canonical IPv4
// netip.AddrPort for table lookup.
func peerAddrPort(src net.Addr) netip.AddrPort {
	ua, ok := src.(*net.UDPAddr)
	if !ok {
		return netip.AddrPort{}
	}
	ap := ua.AddrPort()
	return netip.AddrPortFrom(ap.Addr().Unmap(), ap.Port())
}

// -------------------------------------------------------------------------
// Mux
// -------------------------------------------------------------------------

// Mux owns one Conn per local port in use and routes outbound packets to
// the right socket. It implements the engine's PacketSender.
//
// Sockets are opened at startup; the map is read-only once Run starts.
type Mux struct {
	logger *slog.Logger
	conns  map[uint16]*Conn
}

// NewMux creates an empty socket mux.
func NewMux(logger *slog.Logger) *Mux {
	return &Mux{
		logger: logger,
		conns:  make(map[uint16]*Conn),
	}
}

// Ensure opens the socket for localPort if it is not already open.
func (m *Mux) Ensure(ctx context.Context, localPort uint16) error {
	if _, ok := m.conns[localPort]; ok {
		return nil
	}
	c, err := Listen(ctx, localPort, m.logger)
	if err != nil {
		return err
	}
	m.conns[localPort] = c
	m.logger.Info("listening", "local_port", localPort)
	return nil
}

// SendControlPacket transmits an encoded Control packet from localPort.
func (m *Mux) SendControlPacket(peer netip.AddrPort, localPort uint16, data []byte) error {
	c, ok := m.conns[localPort]
	if !ok {
		return fmt.Errorf("send from port %d: %w", localPort, ErrNoSocket)
	}
	return c.Send(peer, data)
}

// Run drives every socket's read loop until ctx is canceled, delivering
// datagrams to handle. Blocks until all read loops return.
func (m *Mux) Run(ctx context.Context, handle DatagramHandler) error {
	g, ctx := errgroup.WithContext(ctx)

	for _, c := range m.conns {
		g.Go(func() error {
			return c.ReadLoop(handle)
		})
	}
	g.Go(func() error {
		<-ctx.Done()
		m.closeAll()
		return ctx.Err()
	})

	return g.Wait()
}

// closeAll shuts every socket.
func (m *Mux) closeAll() {
	for _, c := range m.conns {
		if err := c.Close(); err != nil {
			m.logger.Warn("socket close failed", "local_port", c.localPort, "error", err)
		}
	}
}
