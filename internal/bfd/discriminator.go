package bfd

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
)

// maxAllocAttempts bounds the random draw loop in AllocDiscriminator.
// With a 32-bit space and realistic table sizes the loop effectively
// never iterates; the bound exists to turn a broken random source into
// an error instead of a hang.
const maxAllocAttempts = 100

// ErrDiscriminatorExhausted indicates AllocDiscriminator could not find a
// free nonzero discriminator within the attempt budget.
var ErrDiscriminatorExhausted = errors.New("discriminator space exhausted")

// AllocDiscriminator draws a random nonzero 32-bit discriminator that the
// supplied predicate reports as unused. Random rather than sequential
// allocation makes local discriminators unpredictable to off-path
// attackers (RFC 5880 Section 9).
func AllocDiscriminator(inUse func(uint32) bool) (uint32, error) {
	var buf [4]byte
	for range maxAllocAttempts {
		if _, err := rand.Read(buf[:]); err != nil {
			return 0, fmt.Errorf("alloc discriminator: %w", err)
		}
		d := binary.BigEndian.Uint32(buf[:])
		if d == 0 || inUse(d) {
			continue
		}
		return d, nil
	}
	return 0, ErrDiscriminatorExhausted
}
