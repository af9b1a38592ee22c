package protocol

import "fmt"

type Role int

const (
	ControllerRole Role = iota + 1
	VisualizationRole
)

func (r Role) String() string {
	switch r {
	case ControllerRole:
		return "controller"
	case VisualizationRole:
		return "visualization"
	default:
		return fmt.Sprintf("Role(%d)", int(r))
	}
}

// CanSend reports whether r may send messages of kind k.
func (r Role) CanSend(k Kind) bool {
	info, ok := lookupKind(k)
	return ok && info.sender == r
}

// CanReceive reports whether r may receive messages of kind k.
func (r Role) CanReceive(k Kind) bool {
	info, ok := lookupKind(k)
	return ok && info.sender != r && (r == ControllerRole || r == VisualizationRole)
}
