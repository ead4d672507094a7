package cuebridge

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"

	Mt "github.com/maroda/cuebridge/types"
)

// Column layout of the trigger table, positional
const (
	colHTTPURL = iota
	colServerAPI
	colMidiMapping
	colDescription
	colGroupType
	colActionTypeArguments
	colMidimsgType
	colMidiChannel
	colMidiNoteCC
	colExternalExecutable
	colExternalCmd
	numColumns
)

// requiredColumns runs through MidiNote_CC, the external command columns may be left off
const requiredColumns = colMidiNoteCC + 1

var columnNames = [numColumns]string{
	"HTTP_URL", "ServerAPI", "MidiMapping", "Description", "GroupType", "ActionTypeArguments",
	"MidimsgType", "MidiChanel", "MidiNote_CC", "ExternalExecutable", "ExternalCmd",
}

const (
	mappingEnabled   = "enabled"
	velocityArgument = "void action(int velocity)"
)

// TriggerTable holds the enabled triggers in file order.
// It is built once and only read afterwards.
type TriggerTable struct {
	records  []Mt.TriggerRecord
	channels map[int]bool
	types    map[Mt.MessageType]bool
}

// ParseTriggerCSV reads the comma delimited table.
// The first row is a header and is dropped, columns are taken by position.
func ParseTriggerCSV(r io.Reader) ([][]string, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil, &LoadError{Err: fmt.Errorf("csv: %w", err)}
	}
	if len(rows) == 0 {
		return nil, &LoadError{Err: errors.New("no header row")}
	}
	return rows[1:], nil
}

// LoadTriggerFileName opens, validates, parses and loads a trigger table file
func LoadTriggerFileName(filename, baseURL string) (*TriggerTable, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, &LoadError{Err: err}
	}
	defer file.Close()

	if err := validateLoad(file); err != nil {
		return nil, &LoadError{Err: err}
	}

	rows, err := ParseTriggerCSV(file)
	if err != nil {
		return nil, err
	}
	return LoadTriggers(rows, baseURL)
}

// LoadTriggers keeps the enabled rows and resolves their URLs against baseURL.
// Disabled rows are skipped before any other check.
func LoadTriggers(rows [][]string, baseURL string) (*TriggerTable, error) {
	tt := &TriggerTable{
		channels: make(map[int]bool),
		types:    make(map[Mt.MessageType]bool),
	}

	for i, row := range rows {
		rowNum := i + 1
		if len(row) <= colMidiMapping || strings.TrimSpace(row[colMidiMapping]) != mappingEnabled {
			continue
		}
		if len(row) < requiredColumns {
			return nil, &LoadError{Row: rowNum, Err: fmt.Errorf("expected at least %d columns, found %d", requiredColumns, len(row))}
		}

		rec, err := parseTriggerRow(rowNum, row)
		if err != nil {
			return nil, err
		}
		if rec.MsgType == Mt.MessageUnknown {
			slog.Warn("Trigger has an unsupported MIDI message type and will never match",
				slog.Int("row", rowNum),
				slog.String("type", row[colMidimsgType]))
		}

		tt.records = append(tt.records, rec)
		tt.channels[rec.Channel] = true
		tt.types[rec.MsgType] = true
	}

	tt.Resolve(baseURL)
	slog.Info("Trigger table loaded", slog.Int("rows", len(rows)), slog.Int("enabled", len(tt.records)))
	return tt, nil
}

func parseTriggerRow(rowNum int, row []string) (Mt.TriggerRecord, error) {
	field := func(c int) string {
		if c >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[c])
	}

	channel, err := parseMidiInt(field(colMidiChannel))
	if err != nil {
		return Mt.TriggerRecord{}, &LoadError{Row: rowNum, Column: columnNames[colMidiChannel], Err: err}
	}
	if channel < 1 || channel > 16 {
		return Mt.TriggerRecord{}, &LoadError{Row: rowNum, Column: columnNames[colMidiChannel],
			Err: fmt.Errorf("channel %d out of range [1:16]", channel)}
	}

	number, err := parseMidiInt(field(colMidiNoteCC))
	if err != nil {
		return Mt.TriggerRecord{}, &LoadError{Row: rowNum, Column: columnNames[colMidiNoteCC], Err: err}
	}

	msgType := ParseMessageType(field(colMidimsgType))
	var noteName string
	if msgType == Mt.MessageNoteOn || msgType == Mt.MessageNoteOff {
		noteName, err = NoteName(number)
	} else if number < 0 || number > 127 {
		err = &MidiRangeError{Value: number}
	}
	if err != nil {
		return Mt.TriggerRecord{}, &LoadError{Row: rowNum, Column: columnNames[colMidiNoteCC], Err: err}
	}

	sig := Mt.NoArgs
	if field(colActionTypeArguments) == velocityArgument {
		sig = Mt.VelocityArg
	}

	return Mt.TriggerRecord{
		Row:                rowNum,
		HTTPPath:           field(colHTTPURL),
		ServerAPI:          field(colServerAPI),
		Enabled:            true,
		Description:        field(colDescription),
		GroupType:          field(colGroupType),
		Signature:          sig,
		MsgType:            msgType,
		Channel:            channel,
		NoteOrControl:      number,
		NoteName:           noteName,
		ExternalExecutable: field(colExternalExecutable),
		ExternalCmd:        field(colExternalCmd),
	}, nil
}

// parseMidiInt accepts "60" and the "60.0" spreadsheets like to write
func parseMidiInt(s string) (int, error) {
	if i, err := strconv.Atoi(s); err == nil {
		return i, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("not a number: %q", s)
	}
	if f != math.Trunc(f) {
		return 0, fmt.Errorf("not an integer: %q", s)
	}
	return int(f), nil
}

// ParseMessageType reads the MidimsgType column, unknown names map to MessageUnknown
func ParseMessageType(s string) Mt.MessageType {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "noteon":
		return Mt.MessageNoteOn
	case "noteoff":
		return Mt.MessageNoteOff
	case "controlchange", "cc":
		return Mt.MessageControlChange
	default:
		return Mt.MessageUnknown
	}
}

// Resolve recomputes every dispatch URL from its HTTP path.
// Paths that are already absolute are left alone, so this never double-prefixes.
func (tt *TriggerTable) Resolve(baseURL string) {
	for i := range tt.records {
		tt.records[i].URL = ResolveURL(baseURL, tt.records[i].HTTPPath)
	}
}

// ResolveURL joins a trigger path onto the server base URL
func ResolveURL(baseURL, path string) string {
	if strings.Contains(path, "://") {
		return path
	}
	return UrlCat(baseURL, path)
}

// Lookup returns every enabled record on this channel and note/control number,
// whatever its message type. Callers handle zero, one, or many.
func (tt *TriggerTable) Lookup(channel, noteOrControl int) []Mt.TriggerRecord {
	var found []Mt.TriggerRecord
	for _, r := range tt.records {
		if r.Channel == channel && r.NoteOrControl == noteOrControl {
			found = append(found, r)
		}
	}
	return found
}

// HasChannel reports whether any trigger listens on channel
func (tt *TriggerTable) HasChannel(channel int) bool { return tt.channels[channel] }

// HasType reports whether any trigger listens for this message type
func (tt *TriggerTable) HasType(t Mt.MessageType) bool { return tt.types[t] }

// Len is the number of enabled triggers
func (tt *TriggerTable) Len() int { return len(tt.records) }

// Records returns a copy of the enabled triggers in file order
func (tt *TriggerTable) Records() []Mt.TriggerRecord {
	out := make([]Mt.TriggerRecord, len(tt.records))
	copy(out, tt.records)
	return out
}
