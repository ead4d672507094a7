package cuebridge

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"time"

	Mp "github.com/maroda/cuebridge/plugin"
	Mt "github.com/maroda/cuebridge/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	defaultBatchSize = 10
	tracerName       = "github.com/maroda/cuebridge/server"
)

// Recorder takes the loop's internal stats, see obvy.StatsInternal
type Recorder interface {
	RecEvent(msgType string)
	RecDispatch(outcome string, status int)
	RecCycle(seconds float64)
	RecLoopRate(rate int64)
}

type noStats struct{}

func (noStats) RecEvent(string)         {}
func (noStats) RecDispatch(string, int) {}
func (noStats) RecCycle(float64)        {}
func (noStats) RecLoopRate(int64)       {}

// DispatchResult is what happened to one event
type DispatchResult struct {
	Matched bool
	OK      bool // an HTTP response came back
	Status  int
	URL     string
	Login   bool // a 307 ran the login flow
	Err     error
}

// Engine is the polling loop: MIDI in, trigger match, HTTP out.
// It runs on one goroutine and handles one event at a time.
type Engine struct {
	Table      *TriggerTable
	Matcher    *Matcher
	Conn       *Connection
	Source     Mp.EventSource
	Outputs    []Mp.OutputAdapter
	Stats      Recorder
	Cycle      time.Duration
	BatchSize  int
	Diagnostic bool
}

// NewEngine wires the loop. The engine owns /src/ and closes it when Run returns.
func NewEngine(tt *TriggerTable, conn *Connection, src Mp.EventSource, cycle time.Duration) *Engine {
	return &Engine{
		Table:     tt,
		Matcher:   NewMatcher(tt),
		Conn:      conn,
		Source:    src,
		Stats:     noStats{},
		Cycle:     cycle,
		BatchSize: defaultBatchSize,
	}
}

// DispatchURL is the record's URL, suffixed with velocity-1 for velocity actions
func DispatchURL(rec Mt.TriggerRecord, velocity int) string {
	if rec.Signature == Mt.VelocityArg {
		return rec.URL + strconv.Itoa(velocity-1)
	}
	return rec.URL
}

// Run loops until the context is cancelled or the state leaves Running.
// The stop check happens at the end of a cycle, so a dispatch in flight completes.
// Only an ambiguous trigger match ends the loop with an error.
func (e *Engine) Run(ctx context.Context) error {
	defer e.release()

	e.Conn.SetState(Mt.Running)
	slog.Info("Bridge running",
		slog.String("source", e.Source.Name()),
		slog.String("server", e.Conn.BaseURL()),
		slog.Int("triggers", e.Table.Len()),
		slog.Duration("cycle", e.Cycle))

	diag := newDiagnostics(e.Cycle)
	for {
		start := time.Now()

		if err := e.cycle(ctx); err != nil {
			e.Conn.SetState(Mt.Exit)
			return err
		}

		elapsed := time.Since(start)
		e.Stats.RecCycle(elapsed.Seconds())

		// Time delay to maintain the refresh rate
		_ = sleepCtx(ctx, Throttle(e.Cycle, elapsed))

		if rate, ok := diag.tick(e.Diagnostic); ok {
			e.Stats.RecLoopRate(rate)
		}

		// Exit flag
		if ctx.Err() != nil || e.Conn.State() != Mt.Running {
			if e.Conn.State() == Mt.Running {
				e.Conn.SetState(Mt.Stopped)
			}
			slog.Info("Bridge stopped")
			return nil
		}
	}
}

func (e *Engine) release() {
	if err := e.Source.Close(); err != nil {
		slog.Error("Could not close MIDI source", slog.String("source", e.Source.Name()), slog.Any("Error", err))
	}
	for _, o := range e.Outputs {
		if err := o.Flush(); err != nil {
			slog.Error("Could not flush output", slog.String("output", o.Type()), slog.Any("Error", err))
		}
	}
}

func (e *Engine) cycle(ctx context.Context) error {
	msgs, err := e.Source.Poll(e.BatchSize)
	if err != nil {
		slog.Warn("MIDI poll failed", slog.String("source", e.Source.Name()), slog.Any("Error", err))
		return nil
	}

	for _, m := range msgs {
		ev, ok := DecodeEvent(m)
		if !ok {
			continue
		}
		e.Stats.RecEvent(ev.Type.String())

		// Ignore everything on channels and types the table never mentions
		if !e.Matcher.Admits(ev) {
			continue
		}

		if _, err := e.HandleEvent(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// HandleEvent matches and dispatches one event.
// The error is non-nil only for an ambiguous match, which happens before any HTTP call.
func (e *Engine) HandleEvent(ctx context.Context, ev Mt.MidiEvent) (DispatchResult, error) {
	matches := e.Matcher.Match(ev)

	switch {
	case len(matches) == 0:
		slog.Info("No MIDI triggers matching the trigger map", slog.String("event", ev.String()))
		e.Stats.RecDispatch("unmatched", 0)
		return DispatchResult{}, nil
	case len(matches) > 1:
		amb := &AmbiguousTriggerError{Event: ev, Matches: matches}
		slog.Error("Multiple MIDI triggers matching as shown in the table:")
		for _, m := range matches {
			slog.Error("Conflicting trigger",
				slog.Int("row", m.Row),
				slog.String("path", m.HTTPPath),
				slog.String("description", m.Description),
				slog.Int("channel", m.Channel),
				slog.Int("number", m.NoteOrControl),
				slog.String("type", m.MsgType.String()))
		}
		e.Stats.RecDispatch("ambiguous", 0)
		return DispatchResult{Matched: true}, amb
	}

	return e.dispatch(ctx, ev, matches[0]), nil
}

func (e *Engine) dispatch(ctx context.Context, ev Mt.MidiEvent, rec Mt.TriggerRecord) DispatchResult {
	u := DispatchURL(rec, ev.Velocity)
	res := DispatchResult{Matched: true, URL: u}

	_, span := otel.Tracer(tracerName).Start(ctx, "dispatch")
	span.SetAttributes(
		attribute.String("trigger.url", u),
		attribute.String("trigger.description", rec.Description),
		attribute.Int("midi.channel", ev.Channel),
		attribute.Int("midi.number", ev.NoteOrControl),
		attribute.Int("midi.velocity", ev.Velocity),
		attribute.String("midi.type", ev.Type.String()))
	defer span.End()

	// Let the request finish even when a stop arrives mid-flight
	start := time.Now()
	status, _, err := e.Conn.Fetch(context.WithoutCancel(ctx), u)
	took := time.Since(start)

	switch {
	case err != nil:
		res.Err = &TransportError{URL: u, Err: err}
		span.RecordError(res.Err)
		span.SetStatus(codes.Error, "transport failure")
		slog.Error("Trigger call failed, event dropped", slog.Any("Error", res.Err))
		probe := e.Conn.TestConnection(ctx)
		slog.Info("Connection re-tested", slog.Bool("ok", probe.OK), slog.String("URL", e.Conn.BaseURL()))
		e.Stats.RecDispatch("transport_error", 0)
	case status == http.StatusTemporaryRedirect:
		res.OK, res.Status, res.Login = true, status, true
		slog.Warn("Server redirected the trigger call, running login", slog.String("URL", u))
		if lerr := e.Conn.Login(ctx); lerr != nil && !errors.Is(lerr, context.Canceled) {
			slog.Error("Login failed", slog.Any("Error", lerr))
		}
		e.Stats.RecDispatch("login", status)
	default:
		res.OK, res.Status = true, status
		span.SetAttributes(attribute.Int("http.status_code", status))
		e.Stats.RecDispatch("sent", status)
	}

	slog.Info("MIDI event",
		slog.String("type", ev.Type.String()),
		slog.Int("channel", ev.Channel),
		slog.Int("number", ev.NoteOrControl),
		slog.Int("velocity", ev.Velocity),
		slog.Time("time", ev.Timestamp))
	slog.Info("HTTP call",
		slog.Int("row", rec.Row),
		slog.String("url", u),
		slog.String("api", rec.ServerAPI),
		slog.String("description", rec.Description),
		slog.String("group", rec.GroupType),
		slog.String("action", rec.Signature.String()),
		slog.String("note", rec.NoteName),
		slog.Int("status", res.Status))

	d := &Mt.Dispatch{
		Event:       ev,
		Description: rec.Description,
		URL:         u,
		Status:      res.Status,
		Login:       res.Login,
		Duration:    took,
		Timestamp:   start,
	}
	if res.Err != nil {
		d.Err = res.Err.Error()
	}
	for _, o := range e.Outputs {
		if err := o.WriteDispatch(d); err != nil {
			slog.Error("Output failed", slog.String("output", o.Type()), slog.Any("Error", err))
		}
	}
	return res
}

// diagnostics reports the loop rate once per target-rate cycles
type diagnostics struct {
	every     int64
	loops     int64
	last      int64
	totalTime time.Time
	lastTime  time.Time
}

func newDiagnostics(cycle time.Duration) *diagnostics {
	every := int64(1)
	if cycle > 0 {
		every = int64(math.Max(1, math.Round(float64(time.Second)/float64(cycle))))
	}
	now := time.Now()
	return &diagnostics{every: every, totalTime: now, lastTime: now}
}

// tick counts one loop, returning the recent rate every /every/ loops
func (d *diagnostics) tick(verbose bool) (int64, bool) {
	d.loops++
	if d.loops%d.every != 0 {
		return 0, false
	}
	now := time.Now()
	rate := Mp.CalcRate(d.loops, d.last, now, d.lastTime)
	if verbose {
		total := Mp.CalcRate(d.loops, 0, now, d.totalTime)
		slog.Info("Loop diagnostics",
			slog.Int64("fps_target", d.every),
			slog.Int64("count", d.loops),
			slog.Int64("count_last", d.loops-d.last),
			slog.Duration("total", now.Sub(d.totalTime)),
			slog.Duration("last", now.Sub(d.lastTime)),
			slog.Int64("rate_total", total),
			slog.Int64("rate_last", rate))
	}
	d.last = d.loops
	d.lastTime = now
	return rate, true
}
