package cuebridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gdamore/tcell/v2"
	Mo "github.com/maroda/cuebridge/obvy"
	Mp "github.com/maroda/cuebridge/plugin"
	Ms "github.com/maroda/cuebridge/server"
	Mt "github.com/maroda/cuebridge/types"
)

const (
	screenGutter   = 6
	recentLimit    = 50
	redrawInterval = 50 * time.Millisecond
)

// View is the operator's window on the bridge.
// It is an output adapter: every dispatch lands here,
// then goes out to the terminal and the websocket feed.
type View struct {
	MU     sync.Mutex         // State locks to read data
	Screen tcell.Screen       // the screen itself, nil without the TUI
	Stats  *Mo.StatsInternal  // Internal status for prometheus
	Conn   *Ms.Connection     // Presentation server link
	Table  *Ms.TriggerTable   // Loaded trigger rows
	Hub    *Hub               // Websocket clients
	Source string             // MIDI input name
	Stop   context.CancelFunc // Called by the quit keys
	recent []Mt.Dispatch      // newest last
	total  int64
	failed int64
	rate   int64
	meter  *Mp.RateMeter
	server *http.Server // Status API server
	dirty  atomic.Bool  // redraw on the next refresh
}

// NewView wires a view to the running bridge.
// /screen/ may be nil for a headless bridge.
func NewView(screen tcell.Screen, stats *Mo.StatsInternal, conn *Ms.Connection, tt *Ms.TriggerTable) *View {
	if stats == nil {
		stats = Mo.NewStatsInternal()
	}
	return &View{
		Screen: screen,
		Stats:  stats,
		Conn:   conn,
		Table:  tt,
		Hub:    NewHub(),
		meter:  Mp.NewRateMeter(),
	}
}

// WriteDispatch keeps the dispatch for display and broadcasts it.
// The screen is redrawn by the display loop, never here.
func (v *View) WriteDispatch(d *Mt.Dispatch) error {
	if d == nil {
		return errors.New("nil dispatch")
	}

	v.MU.Lock()
	v.recent = append(v.recent, *d)
	if len(v.recent) > recentLimit {
		v.recent = v.recent[len(v.recent)-recentLimit:]
	}
	v.total++
	if d.Err != "" {
		v.failed++
	}
	v.MU.Unlock()

	if v.Hub != nil {
		v.Hub.Broadcast(Mp.NewDispatchRecord(d))
	}
	v.dirty.Store(true)
	return nil
}

func (v *View) Flush() error { return nil }

// Close stops the status server, drops websocket clients, and releases the terminal
func (v *View) Close() error {
	var err error
	if v.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		err = v.server.Shutdown(ctx)
		cancel()
	}
	if v.Hub != nil {
		v.Hub.Close()
	}
	if v.Screen != nil {
		v.Screen.Fini()
	}
	return err
}

func (v *View) Type() string { return "View" }

// Recent returns a copy of the kept dispatches, newest last
func (v *View) Recent() []Mt.Dispatch {
	v.MU.Lock()
	defer v.MU.Unlock()
	out := make([]Mt.Dispatch, len(v.recent))
	copy(out, v.recent)
	return out
}

// Counts returns total and failed dispatches, and the last measured rate
func (v *View) Counts() (total, failed, rate int64) {
	v.MU.Lock()
	defer v.MU.Unlock()
	return v.total, v.failed, v.rate
}

// Tick measures the dispatch rate, called once per refresh
func (v *View) Tick(now time.Time) {
	v.MU.Lock()
	defer v.MU.Unlock()
	v.rate = v.meter.Observe("dispatch", v.total, now)
}

// DrawText displays the text string at the given (x1, y1) with box size (x2, y2)
func (v *View) DrawText(x1, y1, x2, y2 int, style tcell.Style, text string) {
	row := y1
	col := x1
	for _, r := range text {
		v.Screen.SetContent(col, row, r, nil, style)
		col++
		if col >= x2 {
			row++
			col = x1
		}
		if row > y2 {
			break
		}
	}
}

// DrawViewBorder displays the outline of the View
func (v *View) DrawViewBorder(width, height int) {
	hvStyle := tcell.StyleDefault.Background(tcell.ColorBlack).Foreground(tcell.ColorPink)
	v.Screen.SetContent(0, 0, tcell.RuneULCorner, nil, hvStyle)
	v.Screen.SetContent(width, 0, tcell.RuneURCorner, nil, hvStyle)
	v.Screen.SetContent(0, height, tcell.RuneLLCorner, nil, hvStyle)
	v.Screen.SetContent(width, height, tcell.RuneLRCorner, nil, hvStyle)

	for i := 1; i < width; i++ {
		v.Screen.SetContent(i, 0, tcell.RuneHLine, nil, hvStyle)
		v.Screen.SetContent(i, height, tcell.RuneHLine, nil, hvStyle)
	}
	for i := 1; i < height; i++ {
		v.Screen.SetContent(0, i, tcell.RuneVLine, nil, hvStyle)
		v.Screen.SetContent(width, i, tcell.RuneVLine, nil, hvStyle)
	}
}

// DispatchLine is the one line summary of a dispatch shown in the list
func DispatchLine(d Mt.Dispatch) string {
	outcome := strconv.Itoa(d.Status)
	switch {
	case d.Err != "":
		outcome = "ERR " + d.Err
	case d.Login:
		outcome += " login"
	}

	event := fmt.Sprintf("ch%-2d %-13s %3d", d.Event.Channel, d.Event.Type, d.Event.NoteOrControl)
	if name, err := Ms.NoteName(d.Event.NoteOrControl); err == nil && d.Event.Type != Mt.MessageControlChange {
		event += " " + name
	}

	return fmt.Sprintf("%s  %-24s %-20s %s", d.Timestamp.Format("15:04:05.000"), event, d.Description, outcome)
}

func dispatchStyle(d Mt.Dispatch) tcell.Style {
	base := tcell.StyleDefault.Background(tcell.ColorBlack)
	switch {
	case d.Err != "":
		return base.Foreground(tcell.ColorIndianRed)
	case d.Login:
		return base.Foreground(tcell.ColorGold)
	case d.Status >= 400:
		return base.Foreground(tcell.ColorDarkOrange)
	default:
		return base.Foreground(tcell.ColorMediumSeaGreen)
	}
}

// DrawBridgeView draws the header and the dispatch list
func (v *View) DrawBridgeView() {
	width, height := v.GetScreenSize()
	width--
	height--
	v.DrawViewBorder(width, height)

	text := tcell.StyleDefault.Background(tcell.ColorBlack).Foreground(tcell.ColorLightSteelBlue)
	dim := text.Dim(true)

	target, state, login := "-", "-", "no"
	if v.Conn != nil {
		target = v.Conn.BaseURL()
		state = v.Conn.State().String()
		if v.Conn.LoggedIn() {
			login = "yes"
		}
	}
	rows := 0
	if v.Table != nil {
		rows = v.Table.Len()
	}
	total, failed, rate := v.Counts()

	v.DrawText(2, 1, width, 1, text, fit(fmt.Sprintf("cuebridge  %s -> %s", v.Source, target), width-2))
	v.DrawText(2, 2, width, 2, text, fit(fmt.Sprintf("state %s   login %s   triggers %d", state, login, rows), width-2))
	v.DrawText(2, 3, width, 3, text, fit(fmt.Sprintf("calls %d   failed %d   rate %d/s", total, failed, rate), width-2))
	for i := 1; i < width; i++ {
		v.Screen.SetContent(i, 4, tcell.RuneHLine, nil, dim)
	}

	recent := v.Recent()
	y := screenGutter - 1
	for i := len(recent) - 1; i >= 0 && y < height-1; i-- {
		v.DrawText(2, y, width, y, dispatchStyle(recent[i]), fit(DispatchLine(recent[i]), width-2))
		y++
	}

	v.DrawText(2, height-1, width, height-1, dim, "Esc or q to quit")
}

func (v *View) exit() {
	slog.Info("Quit from terminal")
	if v.Stop != nil {
		v.Stop()
	}
}

// Running Loop to handle events, returns on a quit key or when the screen is finalized
func (v *View) handleKeyBoardEvent() {
	for {
		ev := v.Screen.PollEvent()
		switch ev := ev.(type) {
		case nil:
			return
		case *tcell.EventResize:
			v.ResizeScreen()
		case *tcell.EventKey:
			// Catch quit and exit
			if ev.Key() == tcell.KeyEscape || ev.Key() == tcell.KeyCtrlC || ev.Rune() == 'q' {
				v.exit()
				return
			}
		}
	}
}

func (v *View) GetScreenSize() (int, int) {
	width, height := v.Screen.Size()
	return width, height
}

// ResizeScreen asks for a redraw after terminal changes
func (v *View) ResizeScreen() {
	v.Screen.Sync()
	v.dirty.Store(true)
}

func (v *View) UpdateScreen() {
	v.MU.Lock()
	screen := v.Screen
	v.MU.Unlock()
	if screen == nil {
		return
	}
	screen.Clear()
	v.DrawBridgeView()
	screen.Show()
}

// run refreshes the rate and the screen until /ctx/ is done.
// It is the only goroutine drawing once Start returns.
func (v *View) run(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Panic in display loop", slog.Any("panic", r))
			slog.Error("Recovered from panic", slog.String("stack", string(debug.Stack())))
		}
	}()

	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	redraw := time.NewTicker(redrawInterval)
	defer redraw.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			v.Tick(now)
			v.dirty.Store(false)
			v.UpdateScreen()
		case <-redraw.C:
			if v.dirty.Swap(false) {
				v.UpdateScreen()
			}
		}
	}
}

// Start runs the terminal loops in the background.
// Without a screen only the rate is measured.
func (v *View) Start(ctx context.Context) {
	if v.Screen == nil {
		go func() {
			ticker := time.NewTicker(1 * time.Second)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case now := <-ticker.C:
					v.Tick(now)
				}
			}
		}()
		return
	}

	v.UpdateScreen()
	go v.run(ctx)
	go v.handleKeyBoardEvent()
}

// Serve starts the status API on /addr/ in the background
func (v *View) Serve(addr string) {
	v.server = &http.Server{
		Addr:              addr,
		Handler:           v.SetupMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		slog.Info("Starting status endpoint", slog.String("Addr", addr))
		if err := v.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Could not start status endpoint", slog.Any("Error", err))
		}
	}()
}

// RespWriter is a wrapper with StatsMiddleware, used for Prometheus
type RespWriter struct {
	http.ResponseWriter
	Status int
}

// WriteHeader is a helper for StatsMiddleware, used for Prometheus
func (w *RespWriter) WriteHeader(status int) {
	w.Status = status
	w.ResponseWriter.WriteHeader(status)
}

// Write is a helper for StatsMiddleware, used for Prometheus
func (w *RespWriter) Write(b []byte) (int, error) {
	return w.ResponseWriter.Write(b)
}

func (v *View) StatsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		wrapped := &RespWriter{
			ResponseWriter: w,
			Status:         200,
		}
		next.ServeHTTP(wrapped, r)
		v.Stats.RecWWW(strconv.Itoa(wrapped.Status), r.Method)
	})
}
