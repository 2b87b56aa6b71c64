package bfd

import (
	"crypto/hmac"
	"crypto/sha256"
	"errors"
	"fmt"
)

// -------------------------------------------------------------------------
// Authentication Section — RFC 5880 Section 4.2
// -------------------------------------------------------------------------

// AuthType identifies the authentication mechanism in use (RFC 5880
// Section 4.1, Auth Type field).
type AuthType uint8

const (
	// AuthTypeReserved is the reserved auth type value.
	AuthTypeReserved AuthType = 0

	// AuthTypeSimplePassword is Simple Password authentication (RFC 5880
	// Section 4.2). Not implemented; envelope-decoded only.
	AuthTypeSimplePassword AuthType = 1

	// AuthTypeKeyedSHA256 is a keyed SHA-256 HMAC over the packet. This is
	// a locally-defined type in the private range; both endpoints must be
	// configured identically.
	AuthTypeKeyedSHA256 AuthType = 250
)

// authEnvelopeSize is the fixed portion of the auth section: Auth Type,
// Auth Len, Auth Key ID, and one reserved byte.
const authEnvelopeSize = 4

// sha256DigestSize is the length of the SHA-256 digest carried in an
// AuthTypeKeyedSHA256 section.
const sha256DigestSize = sha256.Size

// AuthSection is the decoded authentication envelope trailing the 24-byte
// header when the A bit is set. Only the envelope is decoded by the codec;
// content verification belongs to an Authenticator.
type AuthSection struct {
	// Type identifies the authentication mechanism.
	Type AuthType

	// Len is the full auth section length in bytes, envelope included.
	Len uint8

	// KeyID selects the authentication key in use.
	KeyID uint8

	// Data is the type-specific payload (password, digest). For decoded
	// packets this aliases the receive buffer.
	Data []byte
}

// Sentinel errors for authentication failures.
var (
	// ErrAuthMismatch indicates a received packet's auth section did not
	// verify against the configured key.
	ErrAuthMismatch = errors.New("authentication mismatch")

	// ErrAuthTypeUnsupported indicates the auth type is not one the
	// session is configured to handle.
	ErrAuthTypeUnsupported = errors.New("unsupported auth type")

	// ErrAuthMissing indicates the session requires authentication but the
	// packet carried none.
	ErrAuthMissing = errors.New("auth section missing")
)

// marshalAuthSection serializes a into buf, which must hold a.Len bytes.
func marshalAuthSection(a *AuthSection, buf []byte) error {
	if int(a.Len) != authEnvelopeSize+len(a.Data) {
		return fmt.Errorf("auth len %d disagrees with data length %d: %w",
			a.Len, len(a.Data), ErrAuthSectionTruncated)
	}
	if len(buf) < int(a.Len) {
		return fmt.Errorf("auth section needs %d bytes, got %d: %w",
			a.Len, len(buf), ErrBufTooSmall)
	}

	buf[0] = uint8(a.Type)
	buf[1] = a.Len
	buf[2] = a.KeyID
	buf[3] = 0 // reserved
	copy(buf[authEnvelopeSize:], a.Data)
	return nil
}

// unmarshalAuthSection decodes the auth envelope from buf into a. The
// Data field aliases buf.
func unmarshalAuthSection(buf []byte, a *AuthSection) error {
	if len(buf) < authEnvelopeSize {
		return fmt.Errorf("auth section %d bytes, minimum %d: %w",
			len(buf), authEnvelopeSize, ErrAuthSectionTruncated)
	}

	a.Type = AuthType(buf[0])
	a.Len = buf[1]
	a.KeyID = buf[2]

	if int(a.Len) != len(buf) {
		return fmt.Errorf("auth len field %d disagrees with section size %d: %w",
			a.Len, len(buf), ErrAuthSectionTruncated)
	}

	a.Data = buf[authEnvelopeSize:]
	return nil
}

// -------------------------------------------------------------------------
// Authenticator
// -------------------------------------------------------------------------

// Authenticator signs outbound packets and verifies inbound ones. A nil
// Authenticator on a session means the A bit is never set and received
// authenticated packets are discarded.
type Authenticator interface {
	// Sign returns the auth section for the marshaled header bytes.
	Sign(header []byte) (*AuthSection, error)

	// Verify checks the auth section of a received packet against the
	// marshaled bytes it covers. Returns ErrAuthMismatch on failure.
	Verify(header []byte, auth *AuthSection) error
}

// SHA256Authenticator implements keyed SHA-256 HMAC authentication.
type SHA256Authenticator struct {
	keyID uint8
	key   []byte
}

// NewSHA256Authenticator returns an Authenticator using the given key ID
// and shared secret.
func NewSHA256Authenticator(keyID uint8, key []byte) *SHA256Authenticator {
	return &SHA256Authenticator{keyID: keyID, key: key}
}

// Sign computes the HMAC over header and returns the filled auth section.
func (a *SHA256Authenticator) Sign(header []byte) (*AuthSection, error) {
	mac := hmac.New(sha256.New, a.key)
	mac.Write(header)

	return &AuthSection{
		Type:  AuthTypeKeyedSHA256,
		Len:   authEnvelopeSize + sha256DigestSize,
		KeyID: a.keyID,
		Data:  mac.Sum(nil),
	}, nil
}

// Verify recomputes the HMAC over header and compares it to auth.Data in
// constant time.
func (a *SHA256Authenticator) Verify(header []byte, auth *AuthSection) error {
	if auth == nil {
		return ErrAuthMissing
	}
	if auth.Type != AuthTypeKeyedSHA256 {
		return fmt.Errorf("auth type %d: %w", auth.Type, ErrAuthTypeUnsupported)
	}
	if auth.KeyID != a.keyID {
		return fmt.Errorf("key id %d, expected %d: %w", auth.KeyID, a.keyID, ErrAuthMismatch)
	}

	mac := hmac.New(sha256.New, a.key)
	mac.Write(header)

	if !hmac.Equal(mac.Sum(nil), auth.Data) {
		return ErrAuthMismatch
	}
	return nil
}
