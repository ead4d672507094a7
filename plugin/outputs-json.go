package plugin

/*
	JSON Lines

	Writes one JSON object per dispatch,
	for piping into jq or keeping a plain text record of a service.
*/

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"time"

	Mt "github.com/maroda/cuebridge/types"
)

// DispatchRecord is the flattened JSON form of a dispatch,
// shared with the web feeds.
type DispatchRecord struct {
	Time        time.Time `json:"time"`
	Type        string    `json:"type"`
	Channel     int       `json:"channel"`
	Number      int       `json:"number"`
	Velocity    int       `json:"velocity"`
	Description string    `json:"description"`
	URL         string    `json:"url"`
	Status      int       `json:"status"`
	Login       bool      `json:"login,omitempty"`
	Error       string    `json:"error,omitempty"`
	DurationMS  float64   `json:"duration_ms"`
}

func NewDispatchRecord(d *Mt.Dispatch) DispatchRecord {
	return DispatchRecord{
		Time:        d.Timestamp,
		Type:        d.Event.Type.String(),
		Channel:     d.Event.Channel,
		Number:      d.Event.NoteOrControl,
		Velocity:    d.Event.Velocity,
		Description: d.Description,
		URL:         d.URL,
		Status:      d.Status,
		Login:       d.Login,
		Error:       d.Err,
		DurationMS:  float64(d.Duration) / float64(time.Millisecond),
	}
}

type JSONOutput struct {
	MU  sync.Mutex
	W   io.Writer
	enc *json.Encoder
}

func NewJSONOutput(w io.Writer) *JSONOutput {
	return &JSONOutput{W: w, enc: json.NewEncoder(w)}
}

func (jo *JSONOutput) WriteDispatch(d *Mt.Dispatch) error {
	jo.MU.Lock()
	defer jo.MU.Unlock()
	if err := jo.enc.Encode(NewDispatchRecord(d)); err != nil {
		return fmt.Errorf("json encode error: %w", err)
	}
	return nil
}

// Flush syncs the writer when it is a file
func (jo *JSONOutput) Flush() error {
	if s, ok := jo.W.(interface{ Sync() error }); ok {
		return s.Sync()
	}
	return nil
}

// Close closes the writer when it can be closed
func (jo *JSONOutput) Close() error {
	if c, ok := jo.W.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (jo *JSONOutput) Type() string { return "JSON" }
