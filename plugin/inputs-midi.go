//go:build !nomidi

package plugin

import (
	"fmt"
	"log/slog"
	"time"

	"gitlab.com/gomidi/midi/v2"
	"gitlab.com/gomidi/midi/v2/drivers"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"
)

// ListInputs names the MIDI input ports, in port number order
func ListInputs() []string {
	var names []string
	for _, in := range midi.GetInPorts() {
		names = append(names, in.String())
	}
	return names
}

// MIDIInput listens to one device port.
// The driver calls back on its own goroutine, the engine polls the buffer.
type MIDIInput struct {
	*ChanSource
	Port drivers.In
	stop func()
}

func NewMIDIInput(port, buffer int) (*MIDIInput, error) {
	in, err := midi.InPort(port)
	if err != nil {
		slog.Error("Error opening MIDI port", slog.Int("port", port))
		return nil, fmt.Errorf("error opening MIDI port: %w", err)
	}

	mi := &MIDIInput{Port: in}
	mi.ChanSource = NewChanSource(in.String(), buffer, mi.release)

	stop, err := midi.ListenTo(in, func(msg midi.Message, timestampms int32) {
		mi.Push(msg, time.Now())
	})
	if err != nil {
		slog.Error("Error listening to MIDI port", slog.Int("port", port))
		in.Close()
		return nil, fmt.Errorf("error listening to MIDI port: %w", err)
	}
	mi.stop = stop

	slog.Info("MIDI input open", slog.Int("port", port), slog.String("device", in.String()))
	return mi, nil
}

func (mi *MIDIInput) release() error {
	if mi.stop != nil {
		mi.stop()
	}
	err := mi.Port.Close()
	midi.CloseDriver()
	slog.Info("MIDI input closed", slog.String("device", mi.Label), slog.Int64("dropped", mi.Dropped()))
	return err
}
