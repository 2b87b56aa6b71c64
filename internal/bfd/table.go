package bfd

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"

	"github.com/netrange/bfdd/internal/sched"
)

// -------------------------------------------------------------------------
// Session Table
// -------------------------------------------------------------------------

// Sentinel errors for table operations.
var (
	// ErrDuplicateDiscriminator indicates a registration collision. Fatal
	// at startup; cannot occur later because discriminators are drawn at
	// creation against the live table.
	ErrDuplicateDiscriminator = errors.New("duplicate discriminator")

	// ErrDuplicatePeer indicates a second session for the same peer
	// address and port.
	ErrDuplicatePeer = errors.New("duplicate peer")

	// ErrSessionNotFound indicates no session matches the given key.
	ErrSessionNotFound = errors.New("session not found")
)

// Discard reasons reported to the discard counter.
const (
	DiscardMalformed = "malformed"
	DiscardUnmatched = "unmatched"
	DiscardAuth      = "auth"
)

// peerKey indexes sessions by peer transport identity, used to match
// inbound packets whose Your Discriminator is still zero.
type peerKey struct {
	addr netip.Addr
	port uint16
}

// Table owns every session in the process: it registers, indexes, and
// demultiplexes them, and implements the broadcast administrative actions.
//
// The table is mutated only on the event loop goroutine; under that
// scheduling rule no locking is needed.
type Table struct {
	logger *slog.Logger
	loop   *sched.Loop
	sender PacketSender

	byDiscr map[uint32]*Session
	byPeer  map[peerKey]*Session

	// dynamic permits session creation from unmatched inbound packets.
	// Capability-gated; off by default.
	dynamic bool

	// dynamicTemplate supplies parameters for dynamically created
	// sessions; the peer identity comes from the packet source.
	dynamicTemplate SessionConfig

	observer StateChangeFunc

	// discard counts discarded inbound packets by reason.
	discard func(reason string)

	sessionOpts []SessionOption
}

// TableOption configures a Table.
type TableOption func(*Table)

// WithTableLogger sets the table's logger.
func WithTableLogger(logger *slog.Logger) TableOption {
	return func(t *Table) { t.logger = logger }
}

// WithStateObserver registers an observer forwarded to every session the
// table creates.
func WithStateObserver(fn StateChangeFunc) TableOption {
	return func(t *Table) { t.observer = fn }
}

// WithDiscardCounter registers a counter for discarded inbound packets.
func WithDiscardCounter(fn func(reason string)) TableOption {
	return func(t *Table) { t.discard = fn }
}

// WithDynamicSessions permits creating sessions from unmatched inbound
// packets, using template for everything but the peer identity.
func WithDynamicSessions(template SessionConfig) TableOption {
	return func(t *Table) {
		t.dynamic = true
		t.dynamicTemplate = template
	}
}

// WithSessionOptions appends options applied to every session the table
// creates.
func WithSessionOptions(opts ...SessionOption) TableOption {
	return func(t *Table) { t.sessionOpts = append(t.sessionOpts, opts...) }
}

// NewTable creates an empty session table.
func NewTable(loop *sched.Loop, sender PacketSender, opts ...TableOption) *Table {
	t := &Table{
		logger:  slog.Default(),
		loop:    loop,
		sender:  sender,
		byDiscr: make(map[uint32]*Session),
		byPeer:  make(map[peerKey]*Session),
		discard: func(string) {},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Len returns the number of registered sessions.
func (t *Table) Len() int { return len(t.byDiscr) }

// Add creates a session from cfg, assigns it a fresh discriminator,
// registers it, and starts it. Loop goroutine only (startup registration
// happens before the loop runs, which satisfies the same exclusivity).
func (t *Table) Add(cfg SessionConfig, opts ...SessionOption) (*Session, error) {
	cfg = cfg.withDefaults()

	key := peerKey{addr: cfg.PeerAddr, port: cfg.PeerPort}
	if _, ok := t.byPeer[key]; ok {
		return nil, fmt.Errorf("add session for %s:%d: %w", cfg.PeerAddr, cfg.PeerPort, ErrDuplicatePeer)
	}

	discr, err := AllocDiscriminator(func(d uint32) bool {
		_, used := t.byDiscr[d]
		return used
	})
	if err != nil {
		return nil, fmt.Errorf("add session for %s:%d: %w", cfg.PeerAddr, cfg.PeerPort, err)
	}

	sessOpts := make([]SessionOption, 0, len(t.sessionOpts)+len(opts)+1)
	sessOpts = append(sessOpts, t.sessionOpts...)
	if t.observer != nil {
		sessOpts = append(sessOpts, WithObserver(t.observer))
	}
	sessOpts = append(sessOpts, opts...)

	s, err := NewSession(discr, cfg, t.loop, t.sender, sessOpts...)
	if err != nil {
		return nil, err
	}
	if err := t.register(s); err != nil {
		return nil, err
	}

	t.logger.Info("session registered",
		"local_discr", discr,
		"peer", cfg.PeerAddr.String(),
		"peer_port", cfg.PeerPort,
	)
	s.Start()
	return s, nil
}

// register indexes s by discriminator and peer identity.
func (t *Table) register(s *Session) error {
	if _, ok := t.byDiscr[s.LocalDiscriminator()]; ok {
		return fmt.Errorf("register session %d: %w", s.LocalDiscriminator(), ErrDuplicateDiscriminator)
	}
	key := peerKey{addr: s.peerAddr, port: s.peerPort}
	if _, ok := t.byPeer[key]; ok {
		return fmt.Errorf("register session %d: %w", s.LocalDiscriminator(), ErrDuplicatePeer)
	}
	t.byDiscr[s.LocalDiscriminator()] = s
	t.byPeer[key] = s
	return nil
}

// LookupByDiscriminator returns the session owning discriminator d, or nil.
func (t *Table) LookupByDiscriminator(d uint32) *Session {
	return t.byDiscr[d]
}

// LookupByPeer returns the session for the given peer identity, or nil.
// Used only for inbound packets whose Your Discriminator is zero.
func (t *Table) LookupByPeer(addr netip.Addr, port uint16) *Session {
	return t.byPeer[peerKey{addr: addr, port: port}]
}

// Remove deregisters and stops the session owning discriminator d.
func (t *Table) Remove(d uint32) error {
	s, ok := t.byDiscr[d]
	if !ok {
		return fmt.Errorf("remove session %d: %w", d, ErrSessionNotFound)
	}
	s.Stop()
	delete(t.byDiscr, d)
	delete(t.byPeer, peerKey{addr: s.peerAddr, port: s.peerPort})
	t.logger.Info("session removed", "local_discr", d)
	return nil
}

// ForEach calls fn for every registered session. fn may mutate the
// session but must not add or remove table entries.
func (t *Table) ForEach(fn func(*Session)) {
	for _, s := range t.byDiscr {
		fn(s)
	}
}

// Snapshots returns a point-in-time view of every session. Loop goroutine
// only; off-loop callers wrap it in Loop.Call.
func (t *Table) Snapshots() []SessionSnapshot {
	out := make([]SessionSnapshot, 0, len(t.byDiscr))
	for _, s := range t.byDiscr {
		out = append(out, s.Snapshot())
	}
	return out
}

// -------------------------------------------------------------------------
// Inbound demultiplexing — RFC 5880 Section 6.8.6
// -------------------------------------------------------------------------

// HandleDatagram decodes one inbound datagram and dispatches it to the
// owning session. Malformed and unmatched packets are counted and
// silently discarded; neither is ever fatal.
func (t *Table) HandleDatagram(peer netip.AddrPort, data []byte) {
	var pkt ControlPacket
	if err := UnmarshalControlPacket(data, &pkt); err != nil {
		t.discard(DiscardMalformed)
		t.logger.Debug("discarding malformed packet",
			"peer", peer.String(), "error", err)
		return
	}

	s := t.demux(peer, &pkt)
	if s == nil {
		t.discard(DiscardUnmatched)
		t.logger.Debug("discarding unmatched packet",
			"peer", peer.String(),
			"your_discr", pkt.YourDiscriminator,
		)
		return
	}

	s.HandlePacket(&pkt)
}

// demux locates the session a packet belongs to: by Your Discriminator
// when set, otherwise by peer identity, optionally creating a session
// when dynamic creation is permitted.
func (t *Table) demux(peer netip.AddrPort, pkt *ControlPacket) *Session {
	if pkt.YourDiscriminator != 0 {
		return t.byDiscr[pkt.YourDiscriminator]
	}

	if s := t.LookupByPeer(peer.Addr(), peer.Port()); s != nil {
		return s
	}

	if !t.dynamic {
		return nil
	}

	// Only a peer that legitimately does not yet know us may seed a
	// session: Your Discriminator zero and a resting state. Anything else
	// is stray or spoofed.
	if pkt.State != StateDown && pkt.State != StateAdminDown {
		return nil
	}

	cfg := t.dynamicTemplate
	cfg.PeerAddr = peer.Addr()
	cfg.PeerPort = peer.Port()
	s, err := t.Add(cfg)
	if err != nil {
		t.logger.Warn("dynamic session creation failed",
			"peer", peer.String(), "error", err)
		return nil
	}
	t.logger.Info("session created dynamically", "peer", peer.String())
	return s
}

// -------------------------------------------------------------------------
// Broadcast administrative actions
// -------------------------------------------------------------------------

// ForcePollAll starts a poll sequence on every Demand mode session,
// verifying connectivity that periodic transmission no longer exercises.
func (t *Table) ForcePollAll() {
	n := 0
	t.ForEach(func(s *Session) {
		if s.DemandMode() {
			s.StartPollSequence()
			n++
		}
	})
	t.logger.Info("forced poll sequence on demand mode sessions", "sessions", n)
}

// ToggleAdminDownAll flips every session between AdminDown and Down.
func (t *Table) ToggleAdminDownAll() {
	t.ForEach(func(s *Session) {
		s.ToggleAdminDown()
	})
	t.logger.Info("toggled administrative state on all sessions", "sessions", t.Len())
}

// SetAdminDownAll administratively disables every session, notifying each
// peer. Used to drain on shutdown.
func (t *Table) SetAdminDownAll() {
	t.ForEach(func(s *Session) {
		s.SetAdminDown(true)
	})
	t.logger.Info("all sessions administratively down", "sessions", t.Len())
}
