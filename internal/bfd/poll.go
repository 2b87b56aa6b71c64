package bfd

import "time"

// -------------------------------------------------------------------------
// Poll Sequence Controller — RFC 5880 Section 6.5
// -------------------------------------------------------------------------

// pollController manages the Poll/Final handshake used to apply changed
// timing parameters safely. Two states: idle and active. While active,
// every transmitted packet carries the Poll bit and the changed parameters
// stay latched, unapplied, until the peer answers with Final.
type pollController struct {
	active bool

	// Latched parameter change, applied only on completion. A second
	// change requested while active overwrites the latched values; the
	// handshake itself is never restarted.
	hasPending bool
	pendingTx  time.Duration
	pendingRx  time.Duration
}

// start begins a poll sequence. Idempotent: starting while one is already
// active neither restarts the handshake nor clears latched parameters.
func (p *pollController) start() {
	p.active = true
}

// latch records a parameter change to apply when the current (or next)
// poll sequence completes.
func (p *pollController) latch(desiredMinTx, requiredMinRx time.Duration) {
	p.hasPending = true
	p.pendingTx = desiredMinTx
	p.pendingRx = requiredMinRx
}

// finish completes the handshake on receipt of Final. It returns the
// latched parameters, if any, and resets the controller to idle.
func (p *pollController) finish() (desiredMinTx, requiredMinRx time.Duration, ok bool) {
	desiredMinTx, requiredMinRx, ok = p.pendingTx, p.pendingRx, p.hasPending
	p.active = false
	p.hasPending = false
	p.pendingTx = 0
	p.pendingRx = 0
	return desiredMinTx, requiredMinRx, ok
}
