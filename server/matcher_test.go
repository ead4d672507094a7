package cuebridge_test

import (
	"testing"
	"time"

	Ms "github.com/maroda/cuebridge/server"
	Mt "github.com/maroda/cuebridge/types"
	"gitlab.com/gomidi/midi/v2"
)

func TestDecodeEvent(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name    string
		raw     Mt.RawMessage
		ok      bool
		channel int
		msgType Mt.MessageType
		num     int
		vel     int
	}{
		{"note on channel 1", wire(midi.NoteOn(0, 60, 100)), true, 1, Mt.MessageNoteOn, 60, 100},
		{"note on channel 16", wire(midi.NoteOn(15, 61, 1)), true, 16, Mt.MessageNoteOn, 61, 1},
		{"zero velocity is note off", wire(midi.NoteOn(2, 60, 0)), true, 3, Mt.MessageNoteOff, 60, 0},
		{"note off", wire(midi.NoteOffVelocity(0, 60, 64)), true, 1, Mt.MessageNoteOff, 60, 64},
		{"control change", wire(midi.ControlChange(1, 7, 127)), true, 2, Mt.MessageControlChange, 7, 127},
		{"pitch bend refused", wire(midi.Pitchbend(0, 0)), false, 0, Mt.MessageUnknown, 0, 0},
		{"program change refused", wire(midi.ProgramChange(0, 5)), false, 0, Mt.MessageUnknown, 0, 0},
		{"empty refused", Mt.RawMessage{}, false, 0, Mt.MessageUnknown, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.raw.Timestamp = now
			ev, ok := Ms.DecodeEvent(tt.raw)
			if ok != tt.ok {
				t.Fatalf("got ok=%v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			assertInt(t, ev.Channel, tt.channel)
			assertInt(t, ev.NoteOrControl, tt.num)
			assertInt(t, ev.Velocity, tt.vel)
			if ev.Type != tt.msgType {
				t.Errorf("got %v, want %v", ev.Type, tt.msgType)
			}
			if !ev.Timestamp.Equal(now) {
				t.Errorf("timestamp not carried")
			}
		})
	}
}

func TestMatcher(t *testing.T) {
	tt := loadFixture(t, triggerFixture, "http://127.0.0.1:1111")
	m := Ms.NewMatcher(tt)

	t.Run("Matches the full triple", func(t *testing.T) {
		got := m.Match(Mt.MidiEvent{Channel: 1, Type: Mt.MessageNoteOn, NoteOrControl: 60, Velocity: 90})
		assertInt(t, len(got), 1)
		assertString(t, got[0].HTTPPath, "/next")

		got = m.Match(Mt.MidiEvent{Channel: 1, Type: Mt.MessageControlChange, NoteOrControl: 60, Velocity: 1})
		assertInt(t, len(got), 1)
		assertString(t, got[0].HTTPPath, "/black")
	})

	t.Run("Note off does not fire note on triggers", func(t *testing.T) {
		got := m.Match(Mt.MidiEvent{Channel: 1, Type: Mt.MessageNoteOff, NoteOrControl: 60})
		assertInt(t, len(got), 0)
	})

	t.Run("Unknown type rows never match", func(t *testing.T) {
		got := m.Match(Mt.MidiEvent{Channel: 3, Type: Mt.MessageNoteOn, NoteOrControl: 1})
		assertInt(t, len(got), 0)
	})

	t.Run("Admits only used channels and types", func(t *testing.T) {
		if !m.Admits(Mt.MidiEvent{Channel: 2, Type: Mt.MessageNoteOn}) {
			t.Error("channel 2 NoteOn should be admitted")
		}
		if m.Admits(Mt.MidiEvent{Channel: 5, Type: Mt.MessageNoteOn}) {
			t.Error("channel 5 should be filtered")
		}
		if m.Admits(Mt.MidiEvent{Channel: 1, Type: Mt.MessageNoteOff}) {
			t.Error("NoteOff should be filtered")
		}
	})
}

func TestNoteName(t *testing.T) {
	tests := map[int]string{
		0:   "C-1",
		21:  "A0",
		60:  "C4",
		61:  "C#4",
		69:  "A4",
		127: "G9",
	}
	for in, want := range tests {
		got, err := Ms.NoteName(in)
		assertError(t, err, nil)
		assertString(t, got, want)
	}

	for _, bad := range []int{-1, 128} {
		_, err := Ms.NoteName(bad)
		assertGotError(t, err)
	}
}

func TestCadence(t *testing.T) {
	t.Run("Cycle period from loop frequency", func(t *testing.T) {
		if got := Ms.CyclePeriod(100); got != 10*time.Millisecond {
			t.Errorf("got %v, want 10ms", got)
		}
		if got := Ms.CyclePeriod(0); got != 0 {
			t.Errorf("got %v, want 0", got)
		}
	})

	t.Run("Throttle undershoots the remainder", func(t *testing.T) {
		got := Ms.Throttle(10*time.Millisecond, 2*time.Millisecond)
		want := time.Duration(float64(8*time.Millisecond) * 0.925)
		if got != want {
			t.Errorf("got %v, want %v", got, want)
		}
	})

	t.Run("Overrun cycles do not sleep", func(t *testing.T) {
		if got := Ms.Throttle(10*time.Millisecond, 15*time.Millisecond); got != 0 {
			t.Errorf("got %v, want 0", got)
		}
	})
}

// wire wraps a gomidi message as the engine receives it
func wire(m midi.Message) Mt.RawMessage {
	return Mt.RawMessage{Data: []byte(m)}
}
