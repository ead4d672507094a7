package cuebridge

import "strconv"

var notesInOctave = [12]string{"C", "C#", "D", "D#", "E", "F", "F#", "G", "G#", "A", "A#", "B"}

// NoteName formats a MIDI note number, 60 is "C4"
func NoteName(val int) (string, error) {
	if val < 0 || val > 127 {
		return "", &MidiRangeError{Value: val}
	}
	return notesInOctave[val%12] + strconv.Itoa(val/12-1), nil
}
