package cuebridge

import (
	"errors"
	"fmt"
	"strings"

	Mt "github.com/maroda/cuebridge/types"
)

// ErrConnectionUnavailable means no server could be reached through
// the direct address, autodiscovery, or any retry.
var ErrConnectionUnavailable = errors.New("connection unavailable")

// LoadError is a bad trigger table: a missing column or a field that won't parse.
// Fatal at startup.
type LoadError struct {
	Row    int // 1-based data row, 0 for file level problems
	Column string
	Err    error
}

func (e *LoadError) Error() string {
	if e.Row == 0 {
		return fmt.Sprintf("trigger table: %v", e.Err)
	}
	if e.Column == "" {
		return fmt.Sprintf("trigger table row %d: %v", e.Row, e.Err)
	}
	return fmt.Sprintf("trigger table row %d column %s: %v", e.Row, e.Column, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// ConfigPropertyError is an unknown or malformed settings key.
// It is logged and the property skipped.
type ConfigPropertyError struct {
	Key   string
	Value string
	Err   error
}

func (e *ConfigPropertyError) Error() string {
	return fmt.Sprintf("property [%s] = [%s]: %v", e.Key, e.Value, e.Err)
}

func (e *ConfigPropertyError) Unwrap() error { return e.Err }

// TransportError is a dispatch that never got an HTTP response.
// The event is dropped.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure for %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// AmbiguousTriggerError means more than one enabled row answers the same event.
// The run aborts so the operator fixes the mapping file.
type AmbiguousTriggerError struct {
	Event   Mt.MidiEvent
	Matches []Mt.TriggerRecord
}

func (e *AmbiguousTriggerError) Error() string {
	rows := make([]string, 0, len(e.Matches))
	for _, m := range e.Matches {
		rows = append(rows, fmt.Sprintf("%d", m.Row))
	}
	return fmt.Sprintf("multiple MIDI triggers matching %s (rows %s)", e.Event, strings.Join(rows, ","))
}

// MidiRangeError is a note value outside [0,127]
type MidiRangeError struct {
	Value int
}

func (e *MidiRangeError) Error() string {
	return fmt.Sprintf("MIDI value %d out of range [0:127]", e.Value)
}
