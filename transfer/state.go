package transfer

// State is the data connection lifecycle, grounded on
// original_source's DataNetworkHandler: a connection is first bound
// (listener armed for PASV, or a pending dial target for PORT), then
// opened once bytes can actually flow, then enters the transfer proper,
// then winds down through a pre-end latch before the channel is
// physically closed.
type State int

const (
	StateIdle State = iota
	StateBoundPassive
	StateConnectingActive
	StateOpen
	StateTransferring
	StatePreEnd
	StateClosing
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBoundPassive:
		return "bound_passive"
	case StateConnectingActive:
		return "connecting_active"
	case StateOpen:
		return "open"
	case StateTransferring:
		return "transferring"
	case StatePreEnd:
		return "pre_end"
	case StateClosing:
		return "closing"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}
