package node

// Phase is the role a node currently holds.
type Phase int

const (
	Unresolved Phase = iota
	Electing
	Coordinator
	Participant
	Disconnected
)

// String returns the string representation of Phase.
func (p Phase) String() string {
	switch p {
	case Unresolved:
		return "UNRESOLVED"
	case Electing:
		return "ELECTING"
	case Coordinator:
		return "COORDINATOR"
	case Participant:
		return "PARTICIPANT"
	case Disconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}
