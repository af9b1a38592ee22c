// Package lifecycle drives visualization processes through start, instruction and shutdown.
//
// A Controller is owned by a synchronous caller, typically a GUI frame loop. Its methods only
// queue commands and never block on I/O; the work runs on a worker.Worker and the results are
// folded into per-id state when the caller polls Update.
package lifecycle

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/guseggert/hana/protocol"
)

var (
	// ErrNoActiveVisualization is returned for commands addressed to an id with no live visualization.
	ErrNoActiveVisualization = errors.New("no active visualization")
	// ErrInvalidState is returned when a command is not allowed in the id's current state.
	ErrInvalidState = errors.New("invalid state for command")
)

// ID names one visualization instance.
type ID string

func NewID() ID { return ID(uuid.NewString()) }

type State int

const (
	Unstarted State = iota
	Starting
	Connected
	ShuttingDown
	Disconnected
)

func (s State) String() string {
	switch s {
	case Unstarted:
		return "Unstarted"
	case Starting:
		return "Starting"
	case Connected:
		return "Connected"
	case ShuttingDown:
		return "ShuttingDown"
	case Disconnected:
		return "Disconnected"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Event is a notification for the presentation layer.
// State changes have From != To. A delivered instruction is reported with From == To == Connected and Instruction set.
type Event struct {
	ID          ID
	From        State
	To          State
	Cause       string
	Instruction protocol.Instruction
}

func (e Event) StateChanged() bool { return e.From != e.To }

func (e Event) String() string {
	if !e.StateChanged() && e.Instruction != nil {
		return fmt.Sprintf("%s: sent %s", e.ID, e.Instruction.Kind())
	}
	if e.Cause != "" {
		return fmt.Sprintf("%s: %s -> %s (%s)", e.ID, e.From, e.To, e.Cause)
	}
	return fmt.Sprintf("%s: %s -> %s", e.ID, e.From, e.To)
}
