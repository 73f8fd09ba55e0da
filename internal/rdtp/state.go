package rdtp

// SenderState represents the current state of the sender in the transfer protocol
type SenderState int

const (
	SenderIdle SenderState = iota
	SenderInitializing
	SenderTransferring
	SenderAwaitingConfirmation
	SenderTerminating
	SenderCompleted
	SenderFailed
)

// String returns the string representation of SenderState
func (s SenderState) String() string {
	switch s {
	case SenderIdle:
		return "Idle"
	case SenderInitializing:
		return "Initializing"
	case SenderTransferring:
		return "Transferring"
	case SenderAwaitingConfirmation:
		return "AwaitingConfirmation"
	case SenderTerminating:
		return "Terminating"
	case SenderCompleted:
		return "Completed"
	case SenderFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Terminal reports whether no further transition is possible
func (s SenderState) Terminal() bool {
	return s == SenderCompleted || s == SenderFailed
}

// senderEvent is something that happened to a transfer
type senderEvent int

const (
	evStart senderEvent = iota
	evInitAcked
	evBurstSent
	evGapsReported
	evConfirmed
	evTerminateAcked
	evAbandon
)

func (e senderEvent) String() string {
	switch e {
	case evStart:
		return "start"
	case evInitAcked:
		return "init-acked"
	case evBurstSent:
		return "burst-sent"
	case evGapsReported:
		return "gaps-reported"
	case evConfirmed:
		return "confirmed"
	case evTerminateAcked:
		return "terminate-acked"
	case evAbandon:
		return "abandon"
	default:
		return "unknown"
	}
}

// next returns the state reached from s on ev, or false if ev is not valid in s
func (s SenderState) next(ev senderEvent) (SenderState, bool) {
	if ev == evAbandon && !s.Terminal() && s != SenderIdle {
		return SenderFailed, true
	}

	switch {
	case s == SenderIdle && ev == evStart:
		return SenderInitializing, true
	case s == SenderInitializing && ev == evInitAcked:
		return SenderTransferring, true
	case s == SenderTransferring && ev == evBurstSent:
		return SenderAwaitingConfirmation, true
	case s == SenderAwaitingConfirmation && ev == evGapsReported:
		return SenderAwaitingConfirmation, true
	case s == SenderAwaitingConfirmation && ev == evConfirmed:
		return SenderTerminating, true
	case s == SenderTerminating && ev == evTerminateAcked:
		return SenderCompleted, true
	}
	return s, false
}

// ReceiverState represents the current state of the receiver for the session
// it is serving
type ReceiverState int

const (
	ReceiverIdle ReceiverState = iota
	ReceiverExpecting
	ReceiverDraining
)

// String returns the string representation of ReceiverState
func (r ReceiverState) String() string {
	switch r {
	case ReceiverIdle:
		return "Idle"
	case ReceiverExpecting:
		return "Expecting"
	case ReceiverDraining:
		return "Draining"
	default:
		return "Unknown"
	}
}

type receiverEvent int

const (
	evInit receiverEvent = iota
	evComplete
	evTerminate
	evIdleTimeout
)

func (e receiverEvent) String() string {
	switch e {
	case evInit:
		return "init"
	case evComplete:
		return "complete"
	case evTerminate:
		return "terminate"
	case evIdleTimeout:
		return "idle-timeout"
	default:
		return "unknown"
	}
}

// next returns the state reached from r on ev. An init always starts a new
// session; terminate and idle timeout always return to Idle.
func (r ReceiverState) next(ev receiverEvent) (ReceiverState, bool) {
	switch ev {
	case evInit:
		return ReceiverExpecting, true
	case evComplete:
		if r == ReceiverExpecting {
			return ReceiverDraining, true
		}
	case evTerminate, evIdleTimeout:
		return ReceiverIdle, true
	}
	return r, false
}
