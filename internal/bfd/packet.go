// Package bfd implements the core BFD protocol engine (RFC 5880).
//
// This includes the session state machine (Section 6.2, Section 6.8),
// the Control packet codec, the Poll Sequence controller, the session
// table, and discriminator allocation.
package bfd

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
)

// -------------------------------------------------------------------------
// Protocol Constants — RFC 5880 Section 4.1
// -------------------------------------------------------------------------

// Version is the BFD protocol version. This document defines version 1.
const Version uint8 = 1

// HeaderSize is the mandatory BFD Control packet header size in bytes
// (RFC 5880 Section 4.1: 6 x 32-bit words = 24 bytes).
const HeaderSize = 24

// MaxPacketSize is the maximum BFD Control packet size in bytes.
// 24-byte header plus the largest defined auth section, padded to 64
// for alignment and future auth types.
const MaxPacketSize = 64

// MinPacketSizeNoAuth is the minimum valid packet size when the A bit is
// clear (RFC 5880 Section 6.8.6: "24 if the A bit is clear").
const MinPacketSizeNoAuth = 24

// MinPacketSizeWithAuth is the minimum valid packet size when the A bit is
// set: 24-byte header + 2 bytes minimum auth envelope (Auth Type + Auth Len).
const MinPacketSizeWithAuth = 26

// unknownFmt is the format string for unrecognized enum values.
const unknownFmt = "Unknown(%d)"

// -------------------------------------------------------------------------
// Diagnostic Codes — RFC 5880 Section 4.1
// -------------------------------------------------------------------------

// Diag is the BFD Diagnostic code, a 5-bit field explaining the reason
// for the most recent transition out of the Up state.
type Diag uint8

const (
	// DiagNone indicates no diagnostic.
	DiagNone Diag = 0

	// DiagControlTimeExpired indicates the control detection time expired.
	DiagControlTimeExpired Diag = 1

	// DiagEchoFailed indicates the echo function failed. Reserved here;
	// the Echo function is not implemented.
	DiagEchoFailed Diag = 2

	// DiagNeighborDown indicates the neighbor signaled session down.
	DiagNeighborDown Diag = 3

	// DiagForwardingPlaneReset indicates the forwarding plane was reset.
	DiagForwardingPlaneReset Diag = 4

	// DiagPathDown indicates the path is down.
	DiagPathDown Diag = 5

	// DiagConcatPathDown indicates a concatenated path is down.
	DiagConcatPathDown Diag = 6

	// DiagAdminDown indicates the session is administratively down.
	DiagAdminDown Diag = 7

	// DiagReverseConcatPathDown indicates a reverse concatenated path is down.
	DiagReverseConcatPathDown Diag = 8
)

// diagNames maps diagnostic codes to human-readable strings.
var diagNames = [9]string{
	"None",
	"Control Detection Time Expired",
	"Echo Function Failed",
	"Neighbor Signaled Session Down",
	"Forwarding Plane Reset",
	"Path Down",
	"Concatenated Path Down",
	"Administratively Down",
	"Reverse Concatenated Path Down",
}

// String returns the human-readable name for the diagnostic code.
func (d Diag) String() string {
	if int(d) < len(diagNames) {
		return diagNames[d]
	}
	return fmt.Sprintf(unknownFmt, d)
}

// MarshalText renders the diagnostic by name for JSON output.
func (d Diag) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText parses a diagnostic by name.
func (d *Diag) UnmarshalText(text []byte) error {
	for i, name := range diagNames {
		if name == string(text) {
			*d = Diag(i)
			return nil
		}
	}
	return fmt.Errorf("unknown diagnostic %q", text)
}

// -------------------------------------------------------------------------
// Session State — RFC 5880 Section 4.1
// -------------------------------------------------------------------------

// State is the BFD session state, a 2-bit field in the wire format.
type State uint8

const (
	// StateAdminDown indicates the session is administratively down.
	StateAdminDown State = 0

	// StateDown indicates the session is down or has just been created.
	StateDown State = 1

	// StateInit indicates the remote system is reachable but the local
	// system has not yet seen itself reflected back.
	StateInit State = 2

	// StateUp indicates the session is fully established.
	StateUp State = 3
)

// stateNames maps state values to human-readable strings.
var stateNames = [4]string{
	"AdminDown",
	"Down",
	"Init",
	"Up",
}

// String returns the human-readable name for the session state.
func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf(unknownFmt, s)
}

// MarshalText renders the state by name for JSON output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a state by name.
func (s *State) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if name == string(text) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

// -------------------------------------------------------------------------
// ControlPacket — RFC 5880 Section 4.1
// -------------------------------------------------------------------------

// ControlPacket is a decoded BFD Control packet. Field names follow the
// RFC terminology. All interval fields are in MICROSECONDS as carried on
// the wire; callers convert to time.Duration at the boundary.
type ControlPacket struct {
	// Version is the protocol version (3 bits). MUST be 1.
	Version uint8

	// Diag is the sender's diagnostic code (5 bits).
	Diag Diag

	// State is the sender's session state (2 bits).
	State State

	// Poll indicates the sender is requesting verification of connectivity
	// or acknowledgment of a parameter change (P bit).
	Poll bool

	// Final indicates the sender is responding to a received Poll (F bit).
	Final bool

	// ControlPlaneIndependent indicates BFD does not share fate with the
	// control plane (C bit).
	ControlPlaneIndependent bool

	// AuthPresent indicates the Authentication Section is present (A bit).
	AuthPresent bool

	// Demand indicates Demand mode is active in the sender (D bit).
	Demand bool

	// Multipoint is reserved for point-to-multipoint extensions and MUST
	// be zero on both transmit and receipt (M bit).
	Multipoint bool

	// DetectMult is the detection time multiplier. MUST be nonzero.
	DetectMult uint8

	// Length is the total packet length in bytes, including any auth section.
	Length uint8

	// MyDiscriminator is the sender's nonzero session discriminator.
	MyDiscriminator uint32

	// YourDiscriminator reflects back the received My Discriminator, or
	// zero when the sender does not yet know the peer's discriminator.
	YourDiscriminator uint32

	// DesiredMinTxInterval is the sender's minimum TX interval in microseconds.
	DesiredMinTxInterval uint32

	// RequiredMinRxInterval is the sender's minimum acceptable RX interval
	// in microseconds. Zero means "do not send me periodic packets."
	RequiredMinRxInterval uint32

	// RequiredMinEchoRxInterval is zero when the Echo function is
	// unsupported, as it is here.
	RequiredMinEchoRxInterval uint32

	// Auth holds the decoded authentication envelope, nil when the A bit
	// is clear. Only the type/length envelope is decoded; verification is
	// delegated to an Authenticator.
	Auth *AuthSection
}

// -------------------------------------------------------------------------
// Codec Errors
// -------------------------------------------------------------------------

// Sentinel errors for packet validation failures, corresponding to the
// validation steps in RFC 5880 Section 6.8.6.
var (
	// ErrInvalidVersion indicates the Version field is not 1.
	ErrInvalidVersion = errors.New("invalid BFD version")

	// ErrPacketTooShort indicates the received data is shorter than the
	// minimum BFD Control packet (24 bytes).
	ErrPacketTooShort = errors.New("packet too short")

	// ErrInvalidLength indicates the Length field is below the minimum.
	ErrInvalidLength = errors.New("invalid length field")

	// ErrLengthExceedsPayload indicates the Length field exceeds the
	// encapsulation payload.
	ErrLengthExceedsPayload = errors.New("length exceeds payload")

	// ErrZeroDetectMult indicates the Detect Mult field is zero.
	ErrZeroDetectMult = errors.New("detect multiplier is zero")

	// ErrMultipointSet indicates the Multipoint bit is nonzero.
	ErrMultipointSet = errors.New("multipoint bit is set")

	// ErrZeroMyDiscriminator indicates My Discriminator is zero.
	ErrZeroMyDiscriminator = errors.New("my discriminator is zero")

	// ErrZeroYourDiscriminator indicates Your Discriminator is zero in a
	// state other than Down or AdminDown.
	ErrZeroYourDiscriminator = errors.New("your discriminator is zero in non-Down state")

	// ErrBufTooSmall indicates the caller-provided buffer is too small
	// for MarshalControlPacket.
	ErrBufTooSmall = errors.New("buffer too small for BFD control packet")

	// ErrAuthSectionTruncated indicates the auth section data is truncated
	// or its declared length disagrees with the packet Length field.
	ErrAuthSectionTruncated = errors.New("auth section truncated")
)

// unmarshalErrPrefix is the common error prefix for packet decoding failures.
const unmarshalErrPrefix = "unmarshal control packet"

// -------------------------------------------------------------------------
// MarshalControlPacket — RFC 5880 Section 4.1
// -------------------------------------------------------------------------

// MarshalControlPacket serializes pkt into buf and returns the number of
// bytes written. The buffer MUST be at least HeaderSize bytes, plus the
// auth section length for authenticated packets. Callers typically provide
// a MaxPacketSize buffer from PacketPool.
//
// Pure function, no side effects. Zero-allocation: encoding/binary.BigEndian
// writes directly into buf.
//
// Wire format (RFC 5880 Section 4.1):
//
//	Byte 0:      Version(3 bits) | Diag(5 bits)
//	Byte 1:      State(2 bits) | P | F | C | A | D | M
//	Byte 2:      Detect Mult
//	Byte 3:      Length
//	Bytes 4-7:   My Discriminator
//	Bytes 8-11:  Your Discriminator
//	Bytes 12-15: Desired Min TX Interval (microseconds)
//	Bytes 16-19: Required Min RX Interval (microseconds)
//	Bytes 20-23: Required Min Echo RX Interval (microseconds)
//	Bytes 24+:   Authentication Section (optional)
func MarshalControlPacket(pkt *ControlPacket, buf []byte) (int, error) {
	totalLen := HeaderSize
	if pkt.AuthPresent && pkt.Auth != nil {
		totalLen += int(pkt.Auth.Len)
	}

	if len(buf) < totalLen {
		return 0, fmt.Errorf("marshal control packet: need %d bytes, got %d: %w",
			totalLen, len(buf), ErrBufTooSmall)
	}

	buf[0] = (pkt.Version << 5) | (uint8(pkt.Diag) & 0x1F)

	var flags uint8
	flags = uint8(pkt.State) << 6
	if pkt.Poll {
		flags |= 1 << 5
	}
	if pkt.Final {
		flags |= 1 << 4
	}
	if pkt.ControlPlaneIndependent {
		flags |= 1 << 3
	}
	if pkt.AuthPresent {
		flags |= 1 << 2
	}
	if pkt.Demand {
		flags |= 1 << 1
	}
	if pkt.Multipoint {
		flags |= 1 << 0
	}
	buf[1] = flags

	buf[2] = pkt.DetectMult
	buf[3] = uint8(totalLen)

	binary.BigEndian.PutUint32(buf[4:8], pkt.MyDiscriminator)
	binary.BigEndian.PutUint32(buf[8:12], pkt.YourDiscriminator)
	binary.BigEndian.PutUint32(buf[12:16], pkt.DesiredMinTxInterval)
	binary.BigEndian.PutUint32(buf[16:20], pkt.RequiredMinRxInterval)
	binary.BigEndian.PutUint32(buf[20:24], pkt.RequiredMinEchoRxInterval)

	if pkt.AuthPresent && pkt.Auth != nil {
		if err := marshalAuthSection(pkt.Auth, buf[HeaderSize:]); err != nil {
			return 0, fmt.Errorf("marshal auth section: %w", err)
		}
	}

	return totalLen, nil
}

// -------------------------------------------------------------------------
// UnmarshalControlPacket — RFC 5880 Section 4.1, Section 6.8.6
// -------------------------------------------------------------------------

// UnmarshalControlPacket decodes a BFD Control packet from buf into pkt.
//
// Zero-allocation for unauthenticated packets: pkt is filled in-place.
// Auth.Data references a slice of buf (no copy); callers must copy it if
// the buffer will be returned to PacketPool before processing completes.
//
// Validation performed per RFC 5880 Section 6.8.6 steps 1-7:
//
//  1. Version == 1
//  2. Length >= 24 (A=0) or >= 26 (A=1)
//  3. Length <= len(buf)
//  4. DetectMult != 0
//  5. Multipoint == 0
//  6. MyDiscriminator != 0
//  7. YourDiscriminator != 0 unless State is Down or AdminDown
//
// Subsequent steps (auth verification, FSM transitions, timer updates) are
// performed by the session layer, not the codec.
func UnmarshalControlPacket(buf []byte, pkt *ControlPacket) error {
	if len(buf) < MinPacketSizeNoAuth {
		return fmt.Errorf("%s: received %d bytes, minimum %d: %w",
			unmarshalErrPrefix, len(buf), MinPacketSizeNoAuth, ErrPacketTooShort)
	}

	decodeHeader(buf, pkt)

	if err := validateHeader(buf, pkt); err != nil {
		return err
	}

	decodeBody(buf, pkt)

	if err := validateDiscriminators(pkt); err != nil {
		return err
	}

	pkt.Auth = nil
	if pkt.AuthPresent {
		auth := &AuthSection{}
		if err := unmarshalAuthSection(buf[HeaderSize:pkt.Length], auth); err != nil {
			return fmt.Errorf("%s: %w", unmarshalErrPrefix, err)
		}
		pkt.Auth = auth
	}

	return nil
}

// decodeHeader extracts the fixed 4-byte header fields from buf into pkt.
func decodeHeader(buf []byte, pkt *ControlPacket) {
	pkt.Version = buf[0] >> 5
	pkt.Diag = Diag(buf[0] & 0x1F)

	flags := buf[1]
	pkt.State = State(flags >> 6)
	pkt.Poll = flags&(1<<5) != 0
	pkt.Final = flags&(1<<4) != 0
	pkt.ControlPlaneIndependent = flags&(1<<3) != 0
	pkt.AuthPresent = flags&(1<<2) != 0
	pkt.Demand = flags&(1<<1) != 0
	pkt.Multipoint = flags&(1<<0) != 0

	pkt.DetectMult = buf[2]
	pkt.Length = buf[3]
}

// validateHeader checks RFC 5880 Section 6.8.6 steps 1-5.
func validateHeader(buf []byte, pkt *ControlPacket) error {
	if pkt.Version != Version {
		return fmt.Errorf("%s: version %d: %w",
			unmarshalErrPrefix, pkt.Version, ErrInvalidVersion)
	}

	minLen := uint8(MinPacketSizeNoAuth)
	if pkt.AuthPresent {
		minLen = MinPacketSizeWithAuth
	}
	if pkt.Length < minLen {
		return fmt.Errorf("%s: length field %d below minimum %d (auth=%t): %w",
			unmarshalErrPrefix, pkt.Length, minLen, pkt.AuthPresent, ErrInvalidLength)
	}

	if int(pkt.Length) > len(buf) {
		return fmt.Errorf("%s: length field %d exceeds payload %d: %w",
			unmarshalErrPrefix, pkt.Length, len(buf), ErrLengthExceedsPayload)
	}

	// A clear bit with trailing declared bytes would mean an auth section
	// the flag does not announce.
	if !pkt.AuthPresent && pkt.Length != MinPacketSizeNoAuth {
		return fmt.Errorf("%s: length field %d without auth present: %w",
			unmarshalErrPrefix, pkt.Length, ErrInvalidLength)
	}

	if pkt.DetectMult == 0 {
		return fmt.Errorf("%s: %w", unmarshalErrPrefix, ErrZeroDetectMult)
	}

	if pkt.Multipoint {
		return fmt.Errorf("%s: %w", unmarshalErrPrefix, ErrMultipointSet)
	}

	return nil
}

// decodeBody extracts the 20-byte body (discriminators + intervals) from buf.
func decodeBody(buf []byte, pkt *ControlPacket) {
	pkt.MyDiscriminator = binary.BigEndian.Uint32(buf[4:8])
	pkt.YourDiscriminator = binary.BigEndian.Uint32(buf[8:12])
	pkt.DesiredMinTxInterval = binary.BigEndian.Uint32(buf[12:16])
	pkt.RequiredMinRxInterval = binary.BigEndian.Uint32(buf[16:20])
	pkt.RequiredMinEchoRxInterval = binary.BigEndian.Uint32(buf[20:24])
}

// validateDiscriminators checks RFC 5880 Section 6.8.6 steps 6-7.
func validateDiscriminators(pkt *ControlPacket) error {
	if pkt.MyDiscriminator == 0 {
		return fmt.Errorf("%s: %w", unmarshalErrPrefix, ErrZeroMyDiscriminator)
	}

	// Zero Your Discriminator is only valid while the sender has not yet
	// learned the peer's discriminator, i.e. in Down or AdminDown.
	if pkt.YourDiscriminator == 0 && pkt.State != StateDown && pkt.State != StateAdminDown {
		return fmt.Errorf("%s: state %s with zero your discriminator: %w",
			unmarshalErrPrefix, pkt.State, ErrZeroYourDiscriminator)
	}

	return nil
}

// -------------------------------------------------------------------------
// PacketPool — sync.Pool for zero-allocation I/O
// -------------------------------------------------------------------------

// PacketPool provides reusable buffers for BFD packet I/O. Callers Get()
// a *[]byte before receiving and Put() it back after processing. The pool
// stores *[]byte to avoid interface allocation on Get()/Put().
var PacketPool = sync.Pool{
	New: func() any {
		buf := make([]byte, MaxPacketSize)
		return &buf
	},
}
