package bfd

import "fmt"

// -------------------------------------------------------------------------
// FSM Events
// -------------------------------------------------------------------------

// Event is an input to the session state machine: either the state field of
// a valid received Control packet, a detection timeout, or an administrative
// action.
type Event uint8

const (
	// EventRecvAdminDown is receipt of a packet with State == AdminDown.
	EventRecvAdminDown Event = iota

	// EventRecvDown is receipt of a packet with State == Down.
	EventRecvDown

	// EventRecvInit is receipt of a packet with State == Init.
	EventRecvInit

	// EventRecvUp is receipt of a packet with State == Up.
	EventRecvUp

	// EventDetectTimerExpired is expiry of the detection timer without a
	// valid packet rearming it.
	EventDetectTimerExpired

	// EventAdminDown is a local administrative disable.
	EventAdminDown

	// EventAdminUp is a local administrative re-enable.
	EventAdminUp
)

// eventNames maps events to human-readable strings.
var eventNames = [7]string{
	"RecvAdminDown",
	"RecvDown",
	"RecvInit",
	"RecvUp",
	"DetectTimerExpired",
	"AdminDown",
	"AdminUp",
}

// String returns the human-readable name for the event.
func (e Event) String() string {
	if int(e) < len(eventNames) {
		return eventNames[e]
	}
	return fmt.Sprintf(unknownFmt, e)
}

// RecvStateToEvent maps a received packet's State field to the
// corresponding FSM event.
func RecvStateToEvent(s State) Event {
	switch s {
	case StateAdminDown:
		return EventRecvAdminDown
	case StateDown:
		return EventRecvDown
	case StateInit:
		return EventRecvInit
	default:
		return EventRecvUp
	}
}

// -------------------------------------------------------------------------
// FSM Actions
// -------------------------------------------------------------------------

// Action is a side effect the session layer must perform after a
// transition. The FSM itself is pure; it only names the actions.
type Action uint8

const (
	// ActionArmDetectTimer arms (or rearms) the detection timer to the
	// effective detection time.
	ActionArmDetectTimer Action = iota

	// ActionDisarmDetectTimer cancels any pending detection timer. The
	// detection timer never runs in Down or AdminDown.
	ActionDisarmDetectTimer

	// ActionSendImmediate transmits one out-of-schedule packet so the peer
	// learns of the state change before the next periodic tick.
	ActionSendImmediate

	// ActionResetRemote forgets the peer's advertised Min TX interval and
	// Detect Mult, returning them to unknown.
	ActionResetRemote

	// ActionSuppressTx stops periodic transmission (entering AdminDown).
	ActionSuppressTx

	// ActionResumeTx restarts periodic transmission (leaving AdminDown).
	ActionResumeTx
)

// actionNames maps actions to human-readable strings.
var actionNames = [6]string{
	"ArmDetectTimer",
	"DisarmDetectTimer",
	"SendImmediate",
	"ResetRemote",
	"SuppressTx",
	"ResumeTx",
}

// String returns the human-readable name for the action.
func (a Action) String() string {
	if int(a) < len(actionNames) {
		return actionNames[a]
	}
	return fmt.Sprintf(unknownFmt, a)
}

// -------------------------------------------------------------------------
// Transition Table — RFC 5880 Section 6.8.6, Section 6.8.16
// -------------------------------------------------------------------------

// stateEvent is the lookup key for the transition table.
type stateEvent struct {
	state State
	event Event
}

// transition describes one row of the state machine: the resulting state,
// the diagnostic to record (keepDiag leaves it untouched), and the side
// effects the session layer must carry out.
type transition struct {
	next     State
	diag     Diag
	keepDiag bool
	actions  []Action
}

// fsmTable is the session state machine. Entries absent from the table
// mean the event causes no transition in that state (the packet or event
// is otherwise processed normally).
//
// Received AdminDown and the administrative events are handled before the
// table lookup in ApplyEvent because they apply uniformly from any state.
var fsmTable = map[stateEvent]transition{
	// A session leaves Down for Init on seeing the peer in Down, and goes
	// straight to Up when the peer already sees us (Init or Up).
	{StateDown, EventRecvDown}: {
		next:     StateInit,
		keepDiag: true,
		actions:  []Action{ActionArmDetectTimer, ActionSendImmediate},
	},
	{StateDown, EventRecvInit}: {
		next:    StateUp,
		diag:    DiagNone,
		actions: []Action{ActionArmDetectTimer, ActionResumeTx, ActionSendImmediate},
	},
	{StateDown, EventRecvUp}: {
		next:    StateUp,
		diag:    DiagNone,
		actions: []Action{ActionArmDetectTimer, ActionResumeTx, ActionSendImmediate},
	},

	{StateInit, EventRecvInit}: {
		next:    StateUp,
		diag:    DiagNone,
		actions: []Action{ActionArmDetectTimer, ActionSendImmediate},
	},
	{StateInit, EventRecvUp}: {
		next:    StateUp,
		diag:    DiagNone,
		actions: []Action{ActionArmDetectTimer, ActionSendImmediate},
	},

	{StateUp, EventRecvDown}: {
		next:    StateDown,
		diag:    DiagNeighborDown,
		actions: []Action{ActionDisarmDetectTimer, ActionResumeTx, ActionSendImmediate},
	},

	// Detection timeout forces Init and Up back to Down. The remote end's
	// advertised parameters are no longer trustworthy and are forgotten.
	{StateInit, EventDetectTimerExpired}: {
		next:    StateDown,
		diag:    DiagControlTimeExpired,
		actions: []Action{ActionDisarmDetectTimer, ActionResetRemote, ActionSendImmediate},
	},
	{StateUp, EventDetectTimerExpired}: {
		next:    StateDown,
		diag:    DiagControlTimeExpired,
		actions: []Action{ActionDisarmDetectTimer, ActionResetRemote, ActionSendImmediate},
	},
}

// -------------------------------------------------------------------------
// ApplyEvent
// -------------------------------------------------------------------------

// FSMResult reports the outcome of applying one event.
type FSMResult struct {
	// OldState is the state before the event.
	OldState State

	// NewState is the state after the event. Equal to OldState when the
	// event caused no transition.
	NewState State

	// Diag is the diagnostic to record after the event.
	Diag Diag

	// Changed is true when NewState differs from OldState.
	Changed bool

	// Actions lists the side effects the caller must perform, in order.
	Actions []Action
}

// ApplyEvent runs one event through the state machine and returns the
// resulting transition. Pure function: it neither mutates session state
// nor performs the named actions; the session layer does both.
//
// cur is the session's current state, curDiag its current diagnostic.
func ApplyEvent(cur State, curDiag Diag, ev Event) FSMResult {
	res := FSMResult{OldState: cur, NewState: cur, Diag: curDiag}

	switch ev {
	case EventRecvAdminDown:
		// A peer in AdminDown takes the session Down from any state.
		// Sticky AdminDown is the one exception.
		if cur == StateAdminDown {
			return res
		}
		res.NewState = StateDown
		res.Diag = DiagNeighborDown
		res.Changed = cur != StateDown
		res.Actions = []Action{ActionDisarmDetectTimer}
		if res.Changed {
			res.Actions = append(res.Actions, ActionSendImmediate)
		}
		return res

	case EventAdminDown:
		if cur == StateAdminDown {
			return res
		}
		res.NewState = StateAdminDown
		res.Diag = DiagAdminDown
		res.Changed = true
		res.Actions = []Action{ActionDisarmDetectTimer, ActionSendImmediate, ActionSuppressTx}
		return res

	case EventAdminUp:
		if cur != StateAdminDown {
			return res
		}
		res.NewState = StateDown
		res.Diag = DiagNone
		res.Changed = true
		res.Actions = []Action{ActionResumeTx, ActionSendImmediate}
		return res
	}

	// AdminDown sessions ignore everything else, including detection
	// timeouts (the detect timer is never armed there anyway).
	if cur == StateAdminDown {
		return res
	}

	tr, ok := fsmTable[stateEvent{state: cur, event: ev}]
	if !ok {
		// No transition: a rearm of the detection timer is still due for
		// any valid received packet while the timer should be running.
		if isRecvEvent(ev) && (cur == StateInit || cur == StateUp) {
			res.Actions = []Action{ActionArmDetectTimer}
		}
		return res
	}

	res.NewState = tr.next
	if !tr.keepDiag {
		res.Diag = tr.diag
	}
	res.Changed = tr.next != cur
	res.Actions = tr.actions
	return res
}

// isRecvEvent reports whether ev originates from a received packet.
func isRecvEvent(ev Event) bool {
	switch ev {
	case EventRecvAdminDown, EventRecvDown, EventRecvInit, EventRecvUp:
		return true
	default:
		return false
	}
}
