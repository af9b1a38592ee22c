package protocol

import (
	"fmt"
	"sync"
)

type Kind uint32

const (
	KindPing     Kind = 1
	KindShutdown Kind = 2
)

func (k Kind) String() string {
	if info, ok := lookupKind(k); ok {
		return info.name
	}
	return fmt.Sprintf("Kind(%d)", uint32(k))
}

// Message is one variant of the tagged union exchanged by endpoints.
type Message interface {
	Kind() Kind
	// AppendBody appends the variant's encoded fields to b.
	AppendBody(b []byte) []byte
}

// Instruction is a Message a controller sends to a visualization.
type Instruction interface {
	Message
	instruction()
}

// Ping checks that the visualization is alive and reachable.
type Ping struct{}

func (Ping) Kind() Kind                 { return KindPing }
func (Ping) AppendBody(b []byte) []byte { return b }
func (Ping) instruction()               {}
func (Ping) String() string             { return "Ping" }

// Shutdown asks the visualization to exit cooperatively.
type Shutdown struct{}

func (Shutdown) Kind() Kind                 { return KindShutdown }
func (Shutdown) AppendBody(b []byte) []byte { return b }
func (Shutdown) instruction()               {}
func (Shutdown) String() string             { return "Shutdown" }

// DecodeFunc builds a message of one kind from its body bytes.
type DecodeFunc func(body []byte) (Message, error)

type kindInfo struct {
	name   string
	decode DecodeFunc
	sender Role
}

var (
	kindsMut sync.RWMutex
	kinds    = map[Kind]kindInfo{}
)

// RegisterKind adds a message variant. sender is the only role allowed to send it; the other role receives it.
// Registering a kind twice panics.
func RegisterKind(k Kind, name string, sender Role, decode DecodeFunc) {
	kindsMut.Lock()
	defer kindsMut.Unlock()
	if _, ok := kinds[k]; ok {
		panic(fmt.Sprintf("protocol: kind %d registered twice", k))
	}
	kinds[k] = kindInfo{name: name, decode: decode, sender: sender}
}

func lookupKind(k Kind) (kindInfo, bool) {
	kindsMut.RLock()
	defer kindsMut.RUnlock()
	info, ok := kinds[k]
	return info, ok
}

func init() {
	RegisterKind(KindPing, "Ping", ControllerRole, func([]byte) (Message, error) { return Ping{}, nil })
	RegisterKind(KindShutdown, "Shutdown", ControllerRole, func([]byte) (Message, error) { return Shutdown{}, nil })
}
