package cuebridge

import (
	Mt "github.com/maroda/cuebridge/types"
	"gitlab.com/gomidi/midi/v2"
)

// DecodeEvent turns a raw channel message into a MidiEvent.
// Anything other than note on, note off and control change is refused.
// A note on with velocity 0 is an implicit note off.
func DecodeEvent(m Mt.RawMessage) (Mt.MidiEvent, bool) {
	var ch, num, val uint8
	msg := midi.Message(m.Data)
	ev := Mt.MidiEvent{Timestamp: m.Timestamp}

	switch {
	case msg.GetNoteOn(&ch, &num, &val):
		ev.Type = Mt.MessageNoteOn
		if val == 0 {
			ev.Type = Mt.MessageNoteOff
		}
	case msg.GetNoteOff(&ch, &num, &val):
		ev.Type = Mt.MessageNoteOff
	case msg.GetControlChange(&ch, &num, &val):
		ev.Type = Mt.MessageControlChange
	default:
		return Mt.MidiEvent{}, false
	}

	// gomidi channels are 0..15
	ev.Channel = int(ch) + 1
	ev.NoteOrControl = int(num)
	ev.Velocity = int(val)
	return ev, true
}

// Matcher resolves events against a TriggerTable
type Matcher struct {
	Table *TriggerTable
}

func NewMatcher(tt *TriggerTable) *Matcher {
	return &Matcher{Table: tt}
}

// Admits is the coarse pre-filter: is this channel and message type used at all
func (m *Matcher) Admits(ev Mt.MidiEvent) bool {
	return m.Table.HasChannel(ev.Channel) && m.Table.HasType(ev.Type)
}

// Match returns the records for the full (channel, type, number) triple.
// A NoteOn and a ControlChange sharing channel and number do not collide.
func (m *Matcher) Match(ev Mt.MidiEvent) []Mt.TriggerRecord {
	var out []Mt.TriggerRecord
	for _, r := range m.Table.Lookup(ev.Channel, ev.NoteOrControl) {
		if r.MsgType == ev.Type {
			out = append(out, r)
		}
	}
	return out
}
