package channel

type Phase int

const (
	PhaseDisconnected Phase = iota
	PhaseConnecting
	PhaseConnected
	PhaseJoined
)

func (p Phase) String() string {
	switch p {
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	case PhaseJoined:
		return "joined"
	default:
		return "disconnected"
	}
}

// ConnectionState is the transport state as observed by subscribers. Topic is
// only set in PhaseJoined.
type ConnectionState struct {
	Phase Phase
	Topic string
}

func (s ConnectionState) String() string {
	if s.Phase == PhaseJoined {
		return s.Phase.String() + "(" + s.Topic + ")"
	}
	return s.Phase.String()
}

func (s ConnectionState) IsConnected() bool {
	return s.Phase == PhaseConnected || s.Phase == PhaseJoined
}
