package types

/*

	These are the "immutable" core types of cuebridge,
	provided for cross-package use (e.g. Plugins) and testing.

	There are no functions defined here beyond String helpers.
	Constructors and parsers are housed in their own packages.

*/

import (
	"fmt"
	"time"
)

// MessageType is the kind of MIDI channel message a trigger listens for.
type MessageType int

const (
	MessageUnknown       MessageType = iota // never matched
	MessageNoteOn                           // 0x9n with velocity > 0
	MessageNoteOff                          // 0x8n, or 0x9n with velocity 0
	MessageControlChange                    // 0xBn
)

func (m MessageType) String() string {
	switch m {
	case MessageNoteOn:
		return "NoteOn"
	case MessageNoteOff:
		return "NoteOff"
	case MessageControlChange:
		return "ControlChange"
	default:
		return "Unknown"
	}
}

// ActionSignature selects how the HTTP path is built at fire time.
type ActionSignature int

const (
	NoArgs      ActionSignature = iota // "void action()", the default
	VelocityArg                        // "void action(int velocity)", path suffixed with velocity-1
)

func (a ActionSignature) String() string {
	if a == VelocityArg {
		return "void action(int velocity)"
	}
	return "void action()"
}

// RawMessage is a MIDI message as read off the wire,
// Data holds the status byte and its data bytes.
type RawMessage struct {
	Data      []byte
	Timestamp time.Time
}

// MidiEvent is produced per received message and consumed immediately.
// Channel uses DAW numbering 1..16.
type MidiEvent struct {
	Channel       int
	Type          MessageType
	NoteOrControl int
	Velocity      int // velocity for notes, value for CC
	Timestamp     time.Time
}

func (e MidiEvent) String() string {
	return fmt.Sprintf("%s ch=%d num=%d vel=%d", e.Type, e.Channel, e.NoteOrControl, e.Velocity)
}

// TriggerRecord is one row of the mapping table.
// URL is the absolute dispatch URL, resolved from HTTPPath.
type TriggerRecord struct {
	Row                int // 1-based data row in the source file
	HTTPPath           string
	URL                string
	ServerAPI          string
	Enabled            bool
	Description        string
	GroupType          string
	Signature          ActionSignature
	MsgType            MessageType
	Channel            int
	NoteOrControl      int
	NoteName           string // e.g. "C4", only for note rows
	ExternalExecutable string
	ExternalCmd        string
}

// ConnState is where the bridge is in its lifecycle
type ConnState int

const (
	Initialization ConnState = iota
	Configured
	ConnectionRetry
	Connected
	Running
	Stopped
	Exit
)

func (s ConnState) String() string {
	switch s {
	case Initialization:
		return "Initialization"
	case Configured:
		return "Configured"
	case ConnectionRetry:
		return "ConnectionRetry"
	case Connected:
		return "Connected"
	case Running:
		return "Running"
	case Stopped:
		return "Stopped"
	case Exit:
		return "Exit"
	default:
		return "Unknown"
	}
}

// Dispatch is the outcome of a single trigger call,
// handed to output adapters (journal, feeds, display).
type Dispatch struct {
	Event       MidiEvent
	Description string
	URL         string
	Status      int    // HTTP status, 0 on transport failure
	Err         string // transport error text, empty on success
	Login       bool   // a 307 sent us through the login flow
	Duration    time.Duration
	Timestamp   time.Time
}
