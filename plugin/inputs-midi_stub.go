//go:build nomidi

package plugin

import "fmt"

func ListInputs() []string { return nil }

type MIDIInput struct {
	*ChanSource
}

func NewMIDIInput(port, buffer int) (*MIDIInput, error) {
	return nil, fmt.Errorf("MIDI support not compiled in this build")
}
