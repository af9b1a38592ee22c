package lifecycle

import (
	"time"

	"github.com/guseggert/hana/protocol"
)

// Command is work queued by the Controller for the handlers.
// Gen identifies which Start of the id a command belongs to.
type Command interface {
	Target() ID
	Generation() uint64
}

// Start launches the executable at Path and connects to it, replacing any existing visualization for ID.
type Start struct {
	ID        ID
	Gen       uint64
	Path      string
	EnvFilter string
}

type SendInstruction struct {
	ID          ID
	Gen         uint64
	Instruction protocol.Instruction
}

// Shutdown asks the visualization to exit and kills it if it has not within Timeout.
type Shutdown struct {
	ID      ID
	Gen     uint64
	Timeout time.Duration
}

func (c Start) Target() ID                   { return c.ID }
func (c Start) Generation() uint64           { return c.Gen }
func (c SendInstruction) Target() ID         { return c.ID }
func (c SendInstruction) Generation() uint64 { return c.Gen }
func (c Shutdown) Target() ID                { return c.ID }
func (c Shutdown) Generation() uint64        { return c.Gen }

// Outcome is a result emitted by the handlers.
type Outcome interface {
	Target() ID
	Generation() uint64
}

type Started struct {
	ID  ID
	Gen uint64
}

type InstructionSent struct {
	ID          ID
	Gen         uint64
	Instruction protocol.Instruction
}

// InstructionDropped reports an instruction that was not delivered while the visualization itself is unaffected,
// for example because it was already being shut down.
type InstructionDropped struct {
	ID          ID
	Gen         uint64
	Instruction protocol.Instruction
	Err         error
}

// ShutdownDone reports that the process is gone. Forced is set when it had to be killed.
type ShutdownDone struct {
	ID     ID
	Gen    uint64
	Forced bool
}

// Failed reports a failure that ends the visualization for ID.
type Failed struct {
	ID  ID
	Gen uint64
	Err error
}

func (o Started) Target() ID                    { return o.ID }
func (o Started) Generation() uint64            { return o.Gen }
func (o InstructionSent) Target() ID            { return o.ID }
func (o InstructionSent) Generation() uint64    { return o.Gen }
func (o InstructionDropped) Target() ID         { return o.ID }
func (o InstructionDropped) Generation() uint64 { return o.Gen }
func (o ShutdownDone) Target() ID               { return o.ID }
func (o ShutdownDone) Generation() uint64       { return o.Gen }
func (o Failed) Target() ID                     { return o.ID }
func (o Failed) Generation() uint64             { return o.Gen }
