package plugin

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	Mt "github.com/maroda/cuebridge/types"
	"gitlab.com/gomidi/midi/v2"
)

var ErrNoMIDIInputs = errors.New("no MIDI input devices")

// RawFromBytes keeps the messages a trigger can match: notes and control changes.
// Everything else (clock, sysex, program change, pitch bend) is dropped at the source.
func RawFromBytes(msg []byte, ts time.Time) (Mt.RawMessage, bool) {
	var ch, num, val uint8
	m := midi.Message(msg)
	if !m.GetNoteOn(&ch, &num, &val) && !m.GetNoteOff(&ch, &num, &val) && !m.GetControlChange(&ch, &num, &val) {
		return Mt.RawMessage{}, false
	}

	// The driver may reuse its buffer
	data := make([]byte, len(msg))
	copy(data, msg)
	return Mt.RawMessage{Data: data, Timestamp: ts}, true
}

// ChanSource is an EventSource over a bounded channel.
// Producers Push from any goroutine; when the buffer is full the message is dropped.
type ChanSource struct {
	Events chan Mt.RawMessage
	Label  string

	dropped atomic.Int64
	closer  func() error
	once    sync.Once
}

func NewChanSource(name string, buffer int, closer func() error) *ChanSource {
	if buffer < 1 {
		buffer = 1
	}
	return &ChanSource{
		Events: make(chan Mt.RawMessage, buffer),
		Label:  name,
		closer: closer,
	}
}

// Push queues a wire message, reporting whether it was kept
func (cs *ChanSource) Push(msg []byte, ts time.Time) bool {
	raw, ok := RawFromBytes(msg, ts)
	if !ok {
		return false
	}
	select {
	case cs.Events <- raw:
		return true
	default:
		if cs.dropped.Add(1) == 1 {
			slog.Warn("MIDI buffer full, dropping messages", slog.String("source", cs.Label))
		}
		return false
	}
}

// Poll drains at most /max/ pending messages without blocking
func (cs *ChanSource) Poll(max int) ([]Mt.RawMessage, error) {
	var out []Mt.RawMessage
	for len(out) < max {
		select {
		case raw := <-cs.Events:
			out = append(out, raw)
		default:
			return out, nil
		}
	}
	return out, nil
}

// Dropped is how many messages were lost to a full buffer
func (cs *ChanSource) Dropped() int64 { return cs.dropped.Load() }

func (cs *ChanSource) Close() error {
	var err error
	cs.once.Do(func() {
		if cs.closer != nil {
			err = cs.closer()
		}
	})
	return err
}

func (cs *ChanSource) Name() string { return cs.Label }

// SelectInPort picks an input device by name: an exact match, then a
// case-insensitive substring. Without a match the ports are listed
// on /out/ and the operator is asked for a number on /in/.
func SelectInPort(ports []string, want string, in io.Reader, out io.Writer) (int, error) {
	if len(ports) == 0 {
		return -1, ErrNoMIDIInputs
	}

	if want != "" {
		for i, p := range ports {
			if p == want {
				return i, nil
			}
		}
		for i, p := range ports {
			if strings.Contains(strings.ToLower(p), strings.ToLower(want)) {
				return i, nil
			}
		}
		slog.Warn("MIDI input not found", slog.String("device", want))
	}

	if in == nil {
		return -1, fmt.Errorf("MIDI input %q not found", want)
	}

	fmt.Fprintln(out, "Available MIDI inputs:")
	for i, p := range ports {
		fmt.Fprintf(out, "  [%d] %s\n", i, p)
	}

	reader := bufio.NewReader(in)
	for {
		fmt.Fprintf(out, "Select MIDI input [0-%d]: ", len(ports)-1)
		line, err := reader.ReadString('\n')
		if n, cerr := strconv.Atoi(strings.TrimSpace(line)); cerr == nil && n >= 0 && n < len(ports) {
			return n, nil
		}
		if err != nil {
			return -1, fmt.Errorf("no MIDI input selected: %w", err)
		}
		fmt.Fprintln(out, "Not a listed input.")
	}
}
