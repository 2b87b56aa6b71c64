package bfd

import (
	"errors"
	"net/netip"
	"testing"
	"time"

	"github.com/netrange/bfdd/internal/sched"
)

func newTestTable(t *testing.T, opts ...TableOption) (*Table, *mockSender) {
	t.Helper()
	sender := &mockSender{t: t}
	table := NewTable(sched.New(), sender, opts...)
	return table, sender
}

func testSessionConfig(peer string) SessionConfig {
	return SessionConfig{
		PeerAddr:      netip.MustParseAddr(peer),
		DetectMult:    3,
		DesiredMinTx:  time.Second,
		RequiredMinRx: time.Second,
	}
}

func TestTableAddAndLookup(t *testing.T) {
	t.Parallel()

	table, _ := newTestTable(t)

	a, err := table.Add(testSessionConfig("192.0.2.1"))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	b, err := table.Add(testSessionConfig("192.0.2.2"))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if table.Len() != 2 {
		t.Fatalf("len = %d, want 2", table.Len())
	}
	if a.LocalDiscriminator() == b.LocalDiscriminator() {
		t.Fatal("two sessions share a discriminator")
	}

	if got := table.LookupByDiscriminator(a.LocalDiscriminator()); got != a {
		t.Error("lookup by discriminator returned wrong session")
	}
	if got := table.LookupByPeer(netip.MustParseAddr("192.0.2.2"), DefaultPort); got != b {
		t.Error("lookup by peer returned wrong session")
	}
	if got := table.LookupByDiscriminator(0xDEAD); got != nil {
		t.Error("lookup of unknown discriminator returned a session")
	}
}

func TestTableRejectsDuplicates(t *testing.T) {
	t.Parallel()

	table, _ := newTestTable(t)

	s, err := table.Add(testSessionConfig("192.0.2.1"))
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	if _, err := table.Add(testSessionConfig("192.0.2.1")); !errors.Is(err, ErrDuplicatePeer) {
		t.Errorf("duplicate peer error = %v, want %v", err, ErrDuplicatePeer)
	}

	// A session carrying an already-registered discriminator is a
	// registration-time collision.
	dup, err := NewSession(s.LocalDiscriminator(), testSessionConfig("192.0.2.9"), sched.New(), &mockSender{t: t})
	if err != nil {
		t.Fatalf("new session: %v", err)
	}
	if err := table.register(dup); !errors.Is(err, ErrDuplicateDiscriminator) {
		t.Errorf("duplicate discriminator error = %v, want %v", err, ErrDuplicateDiscriminator)
	}
}

func TestTableRemove(t *testing.T) {
	t.Parallel()

	table, _ := newTestTable(t)
	s, err := table.Add(testSessionConfig("192.0.2.1"))
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	if err := table.Remove(s.LocalDiscriminator()); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if table.Len() != 0 {
		t.Errorf("len = %d after remove, want 0", table.Len())
	}
	if s.txTimer != nil && s.txTimer.Armed() {
		t.Error("removed session still transmitting")
	}
	if err := table.Remove(s.LocalDiscriminator()); !errors.Is(err, ErrSessionNotFound) {
		t.Errorf("second remove error = %v, want %v", err, ErrSessionNotFound)
	}
}

func TestHandleDatagramDemux(t *testing.T) {
	t.Parallel()

	discards := map[string]int{}
	table, _ := newTestTable(t, WithDiscardCounter(func(reason string) { discards[reason]++ }))

	s, err := table.Add(testSessionConfig("192.0.2.1"))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	peer := netip.AddrPortFrom(netip.MustParseAddr("192.0.2.1"), DefaultPort)

	marshal := func(pkt *ControlPacket) []byte {
		buf := make([]byte, MaxPacketSize)
		n, err := MarshalControlPacket(pkt, buf)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		return buf[:n]
	}

	// Zero Your Discriminator: matched by peer identity.
	table.HandleDatagram(peer, marshal(packetFrom(StateDown, 0, nil)))
	if s.State() != StateInit {
		t.Fatalf("state = %s after peer-matched packet, want Init", s.State())
	}

	// Nonzero Your Discriminator: matched directly.
	table.HandleDatagram(peer, marshal(packetFrom(StateInit, s.LocalDiscriminator(), nil)))
	if s.State() != StateUp {
		t.Fatalf("state = %s after discriminator-matched packet, want Up", s.State())
	}

	// Malformed: counted, no state change.
	table.HandleDatagram(peer, []byte{0x01, 0x02})
	if discards[DiscardMalformed] != 1 {
		t.Errorf("malformed discards = %d, want 1", discards[DiscardMalformed])
	}

	// Unmatched discriminator: counted, silently dropped.
	table.HandleDatagram(peer, marshal(packetFrom(StateUp, 0x0BAD0BAD, nil)))
	if discards[DiscardUnmatched] != 1 {
		t.Errorf("unmatched discards = %d, want 1", discards[DiscardUnmatched])
	}
	if s.State() != StateUp {
		t.Errorf("state = %s after discarded packets, want Up", s.State())
	}
}

func TestDynamicSessionCreation(t *testing.T) {
	t.Parallel()

	marshal := func(pkt *ControlPacket) []byte {
		buf := make([]byte, MaxPacketSize)
		n, err := MarshalControlPacket(pkt, buf)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		return buf[:n]
	}
	peer := netip.AddrPortFrom(netip.MustParseAddr("198.51.100.7"), DefaultPort)

	t.Run("disabled by default", func(t *testing.T) {
		t.Parallel()

		table, _ := newTestTable(t)
		table.HandleDatagram(peer, marshal(packetFrom(StateDown, 0, nil)))
		if table.Len() != 0 {
			t.Errorf("len = %d, want 0 without dynamic sessions", table.Len())
		}
	})

	t.Run("creates from down state", func(t *testing.T) {
		t.Parallel()

		table, _ := newTestTable(t, WithDynamicSessions(SessionConfig{DetectMult: 3}))
		table.HandleDatagram(peer, marshal(packetFrom(StateDown, 0, nil)))
		if table.Len() != 1 {
			t.Fatalf("len = %d, want 1", table.Len())
		}
		s := table.LookupByPeer(peer.Addr(), peer.Port())
		if s == nil {
			t.Fatal("dynamic session not indexed by peer")
		}
		// The seeding packet itself is processed.
		if s.State() != StateInit {
			t.Errorf("state = %s, want Init", s.State())
		}
	})

	t.Run("ignores up state packets", func(t *testing.T) {
		t.Parallel()

		// A stray Up-state packet with zero Your Discriminator must not
		// seed a session. The demux state guard rejects it even when fed
		// a decoded packet directly, bypassing codec validation.
		table, _ := newTestTable(t, WithDynamicSessions(SessionConfig{DetectMult: 3}))
		if s := table.demux(peer, packetFrom(StateUp, 0, nil)); s != nil {
			t.Error("spoofed Up packet seeded a session")
		}
		if table.Len() != 0 {
			t.Errorf("len = %d, want 0 for spoofed Up packet", table.Len())
		}
	})
}

func TestBroadcastActions(t *testing.T) {
	t.Parallel()

	table, _ := newTestTable(t)

	demand, err := table.Add(func() SessionConfig {
		cfg := testSessionConfig("192.0.2.1")
		cfg.DemandMode = true
		return cfg
	}())
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	plain, err := table.Add(testSessionConfig("192.0.2.2"))
	if err != nil {
		t.Fatalf("add: %v", err)
	}

	// Bring the demand session Up so a poll sequence may start.
	demand.HandlePacket(packetFrom(StateDown, 0, nil))
	demand.HandlePacket(packetFrom(StateUp, demand.LocalDiscriminator(), nil))

	table.ForcePollAll()
	if !demand.poll.active {
		t.Error("demand session has no active poll sequence")
	}
	if plain.poll.active {
		t.Error("non-demand session started a poll sequence")
	}

	table.ToggleAdminDownAll()
	if demand.State() != StateAdminDown || plain.State() != StateAdminDown {
		t.Errorf("states after toggle = %s/%s, want AdminDown", demand.State(), plain.State())
	}
	table.ToggleAdminDownAll()
	if demand.State() != StateDown || plain.State() != StateDown {
		t.Errorf("states after second toggle = %s/%s, want Down", demand.State(), plain.State())
	}

	table.SetAdminDownAll()
	if demand.State() != StateAdminDown || plain.State() != StateAdminDown {
		t.Errorf("states after drain = %s/%s, want AdminDown", demand.State(), plain.State())
	}
}

func TestSnapshots(t *testing.T) {
	t.Parallel()

	table, _ := newTestTable(t)
	s, err := table.Add(testSessionConfig("192.0.2.1"))
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	s.HandlePacket(packetFrom(StateDown, 0, nil))

	snaps := table.Snapshots()
	if len(snaps) != 1 {
		t.Fatalf("snapshots = %d, want 1", len(snaps))
	}
	snap := snaps[0]
	if snap.LocalDiscriminator != s.LocalDiscriminator() {
		t.Errorf("discriminator = %d, want %d", snap.LocalDiscriminator, s.LocalDiscriminator())
	}
	if snap.LocalState != StateInit {
		t.Errorf("state = %s, want Init", snap.LocalState)
	}
	if snap.DetectionTime != 3*time.Second {
		t.Errorf("detection time = %v, want 3s", snap.DetectionTime)
	}
	if snap.RemoteDiscriminator != 0xBBBB0002 {
		t.Errorf("remote discriminator = %#x, want 0xBBBB0002", snap.RemoteDiscriminator)
	}
}
