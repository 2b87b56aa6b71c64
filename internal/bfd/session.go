package bfd

import (
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net/netip"
	"time"

	"github.com/netrange/bfdd/internal/sched"
)

// -------------------------------------------------------------------------
// Defaults — RFC 5880 Section 6.8.1
// -------------------------------------------------------------------------

const (
	// DefaultDetectMult is the default detection time multiplier.
	DefaultDetectMult uint8 = 3

	// DefaultMinTxInterval is the default Desired Min TX Interval.
	DefaultMinTxInterval = 1 * time.Second

	// DefaultMinRxInterval is the default Required Min RX Interval.
	DefaultMinRxInterval = 1 * time.Second

	// DefaultPort is the well-known BFD single-hop UDP port (RFC 5881).
	DefaultPort uint16 = 3784
)

// Jitter bounds: periodic transmission is jittered by reducing the
// interval by a uniform fraction up to 25%, capped at 10% when the
// detect multiplier is 1 so consecutive gaps cannot reach a full
// detection time.
const (
	maxJitterFraction      = 0.25
	maxJitterFractionMult1 = 0.10
)

// Sentinel errors for session construction.
var (
	// ErrInvalidDetectMult indicates a zero detect multiplier.
	ErrInvalidDetectMult = errors.New("detect multiplier must be nonzero")

	// ErrInvalidInterval indicates a non-positive configured interval.
	ErrInvalidInterval = errors.New("interval must be positive")

	// ErrInvalidPeerAddr indicates an unspecified peer address.
	ErrInvalidPeerAddr = errors.New("peer address is invalid")
)

// -------------------------------------------------------------------------
// Collaborator interfaces
// -------------------------------------------------------------------------

// PacketSender transmits an encoded Control packet to a peer. Send
// failures are reported but never alter session state; the periodic
// schedule retries naturally.
type PacketSender interface {
	SendControlPacket(peer netip.AddrPort, localPort uint16, data []byte) error
}

// StateChange describes one session state transition, delivered to the
// observer after the transition is fully applied.
type StateChange struct {
	LocalDiscriminator  uint32
	RemoteDiscriminator uint32
	PeerAddr            netip.Addr
	OldState            State
	NewState            State
	Diag                Diag
}

// StateChangeFunc observes session state transitions. Called on the event
// loop goroutine; it must not block.
type StateChangeFunc func(StateChange)

// -------------------------------------------------------------------------
// SessionConfig
// -------------------------------------------------------------------------

// SessionConfig carries the per-session startup parameters.
type SessionConfig struct {
	// PeerAddr is the peer's IP address.
	PeerAddr netip.Addr

	// PeerPort is the peer's UDP port. Defaults to DefaultPort.
	PeerPort uint16

	// LocalPort is the local UDP port. Defaults to DefaultPort.
	LocalPort uint16

	// DetectMult is the detection time multiplier. Must be >= 1.
	DetectMult uint8

	// DesiredMinTx is the Desired Min TX Interval.
	DesiredMinTx time.Duration

	// RequiredMinRx is the Required Min RX Interval.
	RequiredMinRx time.Duration

	// DemandMode requests Demand mode once the session is Up.
	DemandMode bool

	// AdminDown creates the session administratively disabled.
	AdminDown bool
}

// withDefaults returns cfg with zero fields replaced by protocol defaults.
func (cfg SessionConfig) withDefaults() SessionConfig {
	if cfg.PeerPort == 0 {
		cfg.PeerPort = DefaultPort
	}
	if cfg.LocalPort == 0 {
		cfg.LocalPort = DefaultPort
	}
	if cfg.DetectMult == 0 {
		cfg.DetectMult = DefaultDetectMult
	}
	if cfg.DesiredMinTx == 0 {
		cfg.DesiredMinTx = DefaultMinTxInterval
	}
	if cfg.RequiredMinRx == 0 {
		cfg.RequiredMinRx = DefaultMinRxInterval
	}
	return cfg
}

// validate checks cfg after defaulting.
func (cfg SessionConfig) validate() error {
	if !cfg.PeerAddr.IsValid() || cfg.PeerAddr.IsUnspecified() {
		return ErrInvalidPeerAddr
	}
	if cfg.DetectMult == 0 {
		return ErrInvalidDetectMult
	}
	if cfg.DesiredMinTx <= 0 || cfg.RequiredMinRx <= 0 {
		return ErrInvalidInterval
	}
	return nil
}

// -------------------------------------------------------------------------
// Session
// -------------------------------------------------------------------------

// Session is one BFD session's complete protocol state: the state machine,
// its timers, and the poll sequence controller.
//
// A Session is owned by the event loop. Every method except Snapshot-via-
// loop helpers must be called from the loop goroutine.
type Session struct {
	logger *slog.Logger
	loop   *sched.Loop
	sender PacketSender
	auth   Authenticator

	// observer is notified after each state transition.
	observer StateChangeFunc

	// randFloat drives jitter; replaced in tests.
	randFloat func() float64

	// Transport identity.
	peerAddr  netip.Addr
	peerPort  uint16
	localPort uint16

	// Local protocol state (RFC 5880 Section 6.8.1 state variables).
	localDiscr    uint32
	localState    State
	localDiag     Diag
	detectMult    uint8
	desiredMinTx  time.Duration
	requiredMinRx time.Duration
	demandMode    bool

	// Remote state learned from received packets; zero until known.
	remoteDiscr      uint32
	remoteState      State
	remoteDetectMult uint8
	remoteMinRx      time.Duration
	remoteMinTx      time.Duration
	remoteDemand     bool

	poll pollController

	// finalPending is set when a received Poll obliges the next transmitted
	// packet to carry Final.
	finalPending bool

	// skipJitterOnce forces the next periodic interval to the un-jittered
	// base rate, set after a detection timeout to speed peer notification.
	skipJitterOnce bool

	txTimer     *sched.Timer
	detectTimer *sched.Timer

	lastStateChange time.Time
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithSessionLogger sets the session's logger.
func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) { s.logger = logger }
}

// WithObserver registers a state change observer.
func WithObserver(fn StateChangeFunc) SessionOption {
	return func(s *Session) { s.observer = fn }
}

// WithAuthenticator enables authentication on the session. All transmitted
// packets carry an auth section; received packets that fail verification
// are discarded.
func WithAuthenticator(a Authenticator) SessionOption {
	return func(s *Session) { s.auth = a }
}

// WithJitterSource replaces the jitter random source. Test hook.
func WithJitterSource(fn func() float64) SessionOption {
	return func(s *Session) { s.randFloat = fn }
}

// NewSession creates a session with the given local discriminator. The
// session does not transmit until Start is called.
func NewSession(localDiscr uint32, cfg SessionConfig, loop *sched.Loop, sender PacketSender, opts ...SessionOption) (*Session, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("session config: %w", err)
	}
	if localDiscr == 0 {
		return nil, fmt.Errorf("session config: %w", ErrZeroMyDiscriminator)
	}

	initial := StateDown
	diag := DiagNone
	if cfg.AdminDown {
		initial = StateAdminDown
		diag = DiagAdminDown
	}

	s := &Session{
		logger:        slog.Default(),
		loop:          loop,
		sender:        sender,
		randFloat:     rand.Float64,
		peerAddr:      cfg.PeerAddr,
		peerPort:      cfg.PeerPort,
		localPort:     cfg.LocalPort,
		localDiscr:    localDiscr,
		localState:    initial,
		localDiag:     diag,
		detectMult:    cfg.DetectMult,
		desiredMinTx:  cfg.DesiredMinTx,
		requiredMinRx: cfg.RequiredMinRx,
		demandMode:    cfg.DemandMode,
		remoteState:   StateDown,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(
		"local_discr", localDiscr,
		"peer", cfg.PeerAddr.String(),
	)
	return s, nil
}

// Start begins periodic transmission unless the session is AdminDown.
// Loop goroutine only.
func (s *Session) Start() {
	if s.localState == StateAdminDown {
		return
	}
	s.sendControl()
	s.scheduleTx()
}

// Stop cancels both timers. The session stops transmitting and detecting;
// used on removal and shutdown.
func (s *Session) Stop() {
	if s.txTimer != nil {
		s.txTimer.Stop()
	}
	if s.detectTimer != nil {
		s.detectTimer.Stop()
	}
}

// LocalDiscriminator returns the session's local discriminator.
func (s *Session) LocalDiscriminator() uint32 { return s.localDiscr }

// PeerAddrPort returns the session's peer transport identity.
func (s *Session) PeerAddrPort() netip.AddrPort {
	return netip.AddrPortFrom(s.peerAddr, s.peerPort)
}

// LocalPort returns the session's local UDP port.
func (s *Session) LocalPort() uint16 { return s.localPort }

// State returns the current local state. Loop goroutine only.
func (s *Session) State() State { return s.localState }

// -------------------------------------------------------------------------
// Interval arithmetic
// -------------------------------------------------------------------------

// durationFromMicroseconds converts a wire interval field to a Duration.
func durationFromMicroseconds(us uint32) time.Duration {
	return time.Duration(us) * time.Microsecond
}

// microsecondsFromDuration converts a Duration to a wire interval field.
func microsecondsFromDuration(d time.Duration) uint32 {
	return uint32(d / time.Microsecond)
}

// calcTxInterval returns the effective transmit interval: the slower of
// what we want to send and what the peer can accept (RFC 5880
// Section 6.8.7).
func calcTxInterval(desiredMinTx, remoteMinRx time.Duration) time.Duration {
	return max(desiredMinTx, remoteMinRx)
}

// calcDetectionTime returns the effective detection time: the peer's
// detect multiplier times the slower of our RX floor and the peer's TX
// floor (RFC 5880 Section 6.8.4). Zero while the peer's parameters are
// unknown.
func calcDetectionTime(remoteDetectMult uint8, requiredMinRx, remoteMinTx time.Duration) time.Duration {
	return time.Duration(remoteDetectMult) * max(requiredMinRx, remoteMinTx)
}

// ApplyJitter reduces base by a uniformly random fraction: up to 25%, or
// up to 10% when detectMult is 1 so consecutive transmit gaps can never
// span a full detection time. randFloat must return a value in [0, 1).
func ApplyJitter(base time.Duration, detectMult uint8, randFloat func() float64) time.Duration {
	maxFrac := maxJitterFraction
	if detectMult == 1 {
		maxFrac = maxJitterFractionMult1
	}
	reduction := time.Duration(randFloat() * maxFrac * float64(base))
	return base - reduction
}

// txInterval returns the current effective transmit interval.
func (s *Session) txInterval() time.Duration {
	return calcTxInterval(s.desiredMinTx, s.remoteMinRx)
}

// detectionTime returns the current effective detection time.
func (s *Session) detectionTime() time.Duration {
	return calcDetectionTime(s.remoteDetectMult, s.requiredMinRx, s.remoteMinTx)
}

// -------------------------------------------------------------------------
// Transmission
// -------------------------------------------------------------------------

// demandSuppressed reports whether periodic transmission is currently
// suppressed by Demand mode (RFC 5880 Section 6.6): both sides in Demand
// mode, session Up, no poll sequence in progress.
func (s *Session) demandSuppressed() bool {
	return s.demandMode && s.remoteDemand && s.localState == StateUp && !s.poll.active
}

// scheduleTx arms the transmit timer for the next periodic packet, or
// disarms it while transmission is suppressed.
func (s *Session) scheduleTx() {
	if s.localState == StateAdminDown || s.demandSuppressed() {
		if s.txTimer != nil {
			s.txTimer.Stop()
		}
		return
	}

	interval := s.txInterval()
	if s.skipJitterOnce {
		s.skipJitterOnce = false
	} else {
		interval = ApplyJitter(interval, s.detectMult, s.randFloat)
	}

	if s.txTimer == nil {
		s.txTimer = s.loop.Schedule(interval, s.onTxTimer)
		return
	}
	s.txTimer.Reset(interval)
}

// onTxTimer fires on the periodic transmit schedule.
func (s *Session) onTxTimer() {
	s.sendControl()
	s.scheduleTx()
}

// sendControl composes and transmits one Control packet reflecting current
// session state. The Poll and Final flags are derived from the poll
// controller and any pending Final obligation; Final consumes the
// obligation and the two flags are never combined in one packet.
func (s *Session) sendControl() {
	final := s.finalPending
	s.finalPending = false
	poll := s.poll.active && !final

	pkt := s.buildControlPacket(poll, final)

	bufp := PacketPool.Get().(*[]byte)
	defer PacketPool.Put(bufp)
	buf := *bufp

	if s.auth != nil {
		n, err := MarshalControlPacket(pkt, buf)
		if err != nil {
			s.logger.Error("marshal failed", "error", err)
			return
		}
		auth, err := s.auth.Sign(buf[:n])
		if err != nil {
			s.logger.Error("sign failed", "error", err)
			return
		}
		pkt.AuthPresent = true
		pkt.Auth = auth
	}

	n, err := MarshalControlPacket(pkt, buf)
	if err != nil {
		s.logger.Error("marshal failed", "error", err)
		return
	}

	if err := s.sender.SendControlPacket(s.PeerAddrPort(), s.localPort, buf[:n]); err != nil {
		// Transient: the next scheduled transmission retries naturally.
		s.logger.Warn("send failed", "error", err)
	}
}

// buildControlPacket composes the wire view of current session state.
func (s *Session) buildControlPacket(poll, final bool) *ControlPacket {
	return &ControlPacket{
		Version:               Version,
		Diag:                  s.localDiag,
		State:                 s.localState,
		Poll:                  poll,
		Final:                 final,
		Demand:                s.demandMode && s.localState == StateUp,
		DetectMult:            s.detectMult,
		MyDiscriminator:       s.localDiscr,
		YourDiscriminator:     s.remoteDiscr,
		DesiredMinTxInterval:  microsecondsFromDuration(s.desiredMinTx),
		RequiredMinRxInterval: microsecondsFromDuration(s.requiredMinRx),
	}
}

// -------------------------------------------------------------------------
// Receive path — RFC 5880 Section 6.8.6
// -------------------------------------------------------------------------

// HandlePacket processes one decoded, codec-validated Control packet
// addressed to this session. Loop goroutine only.
func (s *Session) HandlePacket(pkt *ControlPacket) {
	if !s.verifyAuth(pkt) {
		return
	}

	// Learn the peer's advertised parameters. Detection time and transmit
	// interval derive from these and are recomputed on use.
	prevMinRx := s.remoteMinRx
	prevDemand := s.remoteDemand
	s.remoteDiscr = pkt.MyDiscriminator
	s.remoteState = pkt.State
	s.remoteDetectMult = pkt.DetectMult
	s.remoteMinRx = durationFromMicroseconds(pkt.RequiredMinRxInterval)
	s.remoteMinTx = durationFromMicroseconds(pkt.DesiredMinTxInterval)
	s.remoteDemand = pkt.Demand

	if pkt.Final && s.poll.active {
		s.completePoll()
	}

	// A received Poll must be answered with Final (Section 6.8.6, last
	// step). Record the obligation before running the FSM so that an
	// immediate transmission triggered by a transition carries it.
	if pkt.Poll {
		s.finalPending = true
	}

	res := ApplyEvent(s.localState, s.localDiag, RecvStateToEvent(pkt.State))
	s.applyResult(res)

	// While a local poll sequence is active, every received packet not
	// carrying Final is still answered with a Poll-flagged packet.
	sent := hasAction(res.Actions, ActionSendImmediate)
	if !sent && (s.finalPending || (s.poll.active && !pkt.Final)) {
		s.sendControl()
	}

	// The peer can raise its RX floor or flip its Demand bit without a
	// state transition; the pending transmit deadline must follow. State
	// changes and immediate sends already rescheduled above.
	if !sent && !res.Changed && (s.remoteMinRx != prevMinRx || s.remoteDemand != prevDemand) {
		s.scheduleTx()
	}
}

// verifyAuth applies the session's authentication policy to pkt. Returns
// false when the packet must be discarded.
func (s *Session) verifyAuth(pkt *ControlPacket) bool {
	if s.auth == nil {
		if pkt.AuthPresent {
			s.logger.Debug("discarding unexpected authenticated packet")
			return false
		}
		return true
	}
	if !pkt.AuthPresent {
		s.logger.Debug("discarding unauthenticated packet", "error", ErrAuthMissing)
		return false
	}
	// The digest covers the 24-byte header as it reads before the auth
	// section is attached (A bit clear, Length 24), matching the signing
	// order on the transmit side.
	hdr := make([]byte, HeaderSize)
	hdrPkt := *pkt
	hdrPkt.Auth = nil
	hdrPkt.AuthPresent = false
	if _, err := MarshalControlPacket(&hdrPkt, hdr); err != nil {
		s.logger.Debug("auth header rebuild failed", "error", err)
		return false
	}
	if err := s.auth.Verify(hdr, pkt.Auth); err != nil {
		s.logger.Debug("discarding packet failing authentication", "error", err)
		return false
	}
	return true
}

// completePoll finishes the active poll sequence: latched parameters are
// applied and the schedules recomputed.
func (s *Session) completePoll() {
	tx, rx, changed := s.poll.finish()
	if changed {
		s.desiredMinTx = tx
		s.requiredMinRx = rx
		s.logger.Info("poll sequence complete, parameters applied",
			"desired_min_tx", tx, "required_min_rx", rx)
	} else {
		s.logger.Debug("poll sequence complete")
	}
	if s.localState == StateInit || s.localState == StateUp {
		s.armDetectTimer()
	}
	s.scheduleTx()
}

// -------------------------------------------------------------------------
// FSM action execution
// -------------------------------------------------------------------------

// applyResult commits an FSM result: state variables first, then the
// named side effects, then observers.
func (s *Session) applyResult(res FSMResult) {
	s.localState = res.NewState
	s.localDiag = res.Diag

	sendNow := false
	for _, a := range res.Actions {
		switch a {
		case ActionArmDetectTimer:
			s.armDetectTimer()
		case ActionDisarmDetectTimer:
			if s.detectTimer != nil {
				s.detectTimer.Stop()
			}
		case ActionResetRemote:
			s.remoteMinTx = 0
			s.remoteDetectMult = 0
		case ActionSendImmediate:
			sendNow = true
		case ActionSuppressTx:
			if s.txTimer != nil {
				s.txTimer.Stop()
			}
		case ActionResumeTx:
			// The periodic schedule is recomputed below once the new
			// state is committed.
		}
	}

	if res.Changed {
		s.lastStateChange = time.Now()
		s.logger.Info("session state change",
			"old_state", res.OldState.String(),
			"new_state", res.NewState.String(),
			"diag", res.Diag.String(),
		)
		if s.observer != nil {
			s.observer(StateChange{
				LocalDiscriminator:  s.localDiscr,
				RemoteDiscriminator: s.remoteDiscr,
				PeerAddr:            s.peerAddr,
				OldState:            res.OldState,
				NewState:            res.NewState,
				Diag:                res.Diag,
			})
		}
	}

	// State changes are never silently deferred: the peer learns of them
	// on an out-of-schedule transmission, and the periodic schedule is
	// recomputed around the new state.
	if sendNow {
		s.sendControl()
	}
	if res.Changed || sendNow {
		s.scheduleTx()
	}
}

// hasAction reports whether actions contains a.
func hasAction(actions []Action, a Action) bool {
	for _, x := range actions {
		if x == a {
			return true
		}
	}
	return false
}

// armDetectTimer (re)arms the detection timer to the effective detection
// time. No-op while the peer's parameters are still unknown.
func (s *Session) armDetectTimer() {
	dt := s.detectionTime()
	if dt <= 0 {
		return
	}
	if s.detectTimer == nil {
		s.detectTimer = s.loop.Schedule(dt, s.onDetectExpired)
		return
	}
	s.detectTimer.Reset(dt)
}

// onDetectExpired fires when the detection time elapses without a valid
// received packet. The next periodic packet goes out at the un-jittered
// base rate so the peer learns of the failure as fast as possible.
func (s *Session) onDetectExpired() {
	res := ApplyEvent(s.localState, s.localDiag, EventDetectTimerExpired)
	if !res.Changed {
		return
	}
	s.skipJitterOnce = true
	s.applyResult(res)
}

// -------------------------------------------------------------------------
// Administrative and parameter operations
// -------------------------------------------------------------------------

// SetAdminDown administratively disables or re-enables the session. Loop
// goroutine only.
func (s *Session) SetAdminDown(down bool) {
	ev := EventAdminUp
	if down {
		ev = EventAdminDown
	}
	res := ApplyEvent(s.localState, s.localDiag, ev)
	if !res.Changed {
		return
	}
	s.applyResult(res)
}

// ToggleAdminDown flips the session between AdminDown and Down.
func (s *Session) ToggleAdminDown() {
	s.SetAdminDown(s.localState != StateAdminDown)
}

// SetIntervals changes the local timing parameters. While the session is
// in Init or Up, the change is latched and a poll sequence carries it to
// the peer; otherwise it takes effect immediately.
func (s *Session) SetIntervals(desiredMinTx, requiredMinRx time.Duration) error {
	if desiredMinTx <= 0 || requiredMinRx <= 0 {
		return ErrInvalidInterval
	}
	if desiredMinTx == s.desiredMinTx && requiredMinRx == s.requiredMinRx {
		return nil
	}

	if s.localState != StateInit && s.localState != StateUp {
		s.desiredMinTx = desiredMinTx
		s.requiredMinRx = requiredMinRx
		s.scheduleTx()
		return nil
	}

	s.poll.latch(desiredMinTx, requiredMinRx)
	s.startPoll()
	return nil
}

// StartPollSequence begins a poll sequence without a parameter change,
// verifying connectivity explicitly. Used by the force-poll broadcast for
// Demand mode sessions. Idempotent while a sequence is active.
func (s *Session) StartPollSequence() {
	if s.localState == StateAdminDown || s.localState == StateDown {
		return
	}
	s.startPoll()
}

// startPoll activates the poll controller and gets a Poll-flagged packet
// on the wire immediately, resuming transmission if Demand mode had
// suppressed it.
func (s *Session) startPoll() {
	wasActive := s.poll.active
	s.poll.start()
	if wasActive {
		return
	}
	s.sendControl()
	s.scheduleTx()
}

// DemandMode reports whether the session is locally configured for Demand
// mode.
func (s *Session) DemandMode() bool { return s.demandMode }

// -------------------------------------------------------------------------
// Snapshot
// -------------------------------------------------------------------------

// SessionSnapshot is a point-in-time read-only view of a session, taken on
// the loop goroutine and safe to hand to other goroutines.
type SessionSnapshot struct {
	LocalDiscriminator  uint32     `json:"local_discriminator"`
	RemoteDiscriminator uint32     `json:"remote_discriminator"`
	PeerAddr            netip.Addr `json:"peer_addr"`
	PeerPort            uint16     `json:"peer_port"`
	LocalPort           uint16     `json:"local_port"`

	LocalState  State  `json:"local_state"`
	RemoteState State  `json:"remote_state"`
	LocalDiag   Diag   `json:"local_diag"`
	DetectMult  uint8  `json:"detect_mult"`

	DesiredMinTx  time.Duration `json:"desired_min_tx"`
	RequiredMinRx time.Duration `json:"required_min_rx"`
	RemoteMinRx   time.Duration `json:"remote_min_rx"`
	RemoteMinTx   time.Duration `json:"remote_min_tx"`

	DemandMode   bool `json:"demand_mode"`
	RemoteDemand bool `json:"remote_demand"`
	PollActive   bool `json:"poll_active"`

	DetectionTime   time.Duration `json:"detection_time"`
	TxInterval      time.Duration `json:"tx_interval"`
	LastStateChange time.Time     `json:"last_state_change"`
}

// Snapshot captures the session's current state. Loop goroutine only;
// callers off the loop use the table's snapshot helpers via Loop.Call.
func (s *Session) Snapshot() SessionSnapshot {
	return SessionSnapshot{
		LocalDiscriminator:  s.localDiscr,
		RemoteDiscriminator: s.remoteDiscr,
		PeerAddr:            s.peerAddr,
		PeerPort:            s.peerPort,
		LocalPort:           s.localPort,
		LocalState:          s.localState,
		RemoteState:         s.remoteState,
		LocalDiag:           s.localDiag,
		DetectMult:          s.detectMult,
		DesiredMinTx:        s.desiredMinTx,
		RequiredMinRx:       s.requiredMinRx,
		RemoteMinRx:         s.remoteMinRx,
		RemoteMinTx:         s.remoteMinTx,
		DemandMode:          s.demandMode,
		RemoteDemand:        s.remoteDemand,
		PollActive:          s.poll.active,
		DetectionTime:       s.detectionTime(),
		TxInterval:          s.txInterval(),
		LastStateChange:     s.lastStateChange,
	}
}
