package plugin

/*

	The Adapter sits aside /cuebridge/
	Contains core interfaces for Plugin

*/

import (
	Mt "github.com/maroda/cuebridge/types"
)

// EventSource is where MIDI comes from.
// Poll must not block: it returns whatever is pending, at most /max/ messages.
type EventSource interface {
	Poll(max int) ([]Mt.RawMessage, error)
	Close() error // Release the device
	Name() string // Device or source description
}

// OutputAdapter receives every dispatch outcome,
// one by one as they happen.
type OutputAdapter interface {
	WriteDispatch(d *Mt.Dispatch) error // Write singleton dispatch data
	Flush() error                       // Flush any buffered data
	Close() error                       // Close the adapter and release resources
	Type() string                       // ID for output
}

// AuthProfile knows how a particular presentation server asks for a login.
type AuthProfile interface {
	NeedsLogin(body []byte) bool // Is this probe response a login page?
	Type() string                // Server name this profile answers to
}
