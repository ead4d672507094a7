package cuebridge_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	Mp "github.com/maroda/cuebridge/plugin"
	Ms "github.com/maroda/cuebridge/server"
	Mt "github.com/maroda/cuebridge/types"
	"gitlab.com/gomidi/midi/v2"
)

// MockSource hands out queued messages and calls /drained/ once it runs dry
type MockSource struct {
	mu      sync.Mutex
	queue   []Mt.RawMessage
	closed  int
	drained func()
}

func (m *MockSource) Poll(max int) ([]Mt.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.queue) == 0 {
		if m.drained != nil {
			m.drained()
		}
		return nil, nil
	}
	n := min(max, len(m.queue))
	out := m.queue[:n]
	m.queue = m.queue[n:]
	return out, nil
}

func (m *MockSource) Close() error { m.closed++; return nil }
func (m *MockSource) Name() string { return "mock" }

// MockOutput keeps every dispatch
type MockOutput struct {
	mu      sync.Mutex
	got     []*Mt.Dispatch
	flushed int
}

func (m *MockOutput) WriteDispatch(d *Mt.Dispatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.got = append(m.got, d)
	return nil
}
func (m *MockOutput) Flush() error { m.flushed++; return nil }
func (m *MockOutput) Close() error { return nil }
func (m *MockOutput) Type() string { return "mock" }

// presenter is a fake presentation server logging every path it is asked for
type presenter struct {
	mu    sync.Mutex
	paths []string
	srv   *httptest.Server
}

func newPresenter(handler func(w http.ResponseWriter, r *http.Request)) *presenter {
	p := &presenter{}
	p.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p.mu.Lock()
		p.paths = append(p.paths, r.URL.Path)
		p.mu.Unlock()
		if handler != nil {
			handler(w, r)
			return
		}
		w.Write([]byte("ok"))
	}))
	return p
}

func (p *presenter) hits(path string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, got := range p.paths {
		if got == path {
			n++
		}
	}
	return n
}

func newEngine(t *testing.T, p *presenter, csv string, src *MockSource) (*Ms.Engine, *Ms.Connection) {
	t.Helper()
	host, port := hostPort(t, p.srv.URL)
	s := Ms.DefaultSettings()
	s.IP, s.ControlPort, s.ServerName = host, port, "Quelea"

	conn := fastConnection(s)
	tt := loadFixture(t, csv, conn.BaseURL())
	if src == nil {
		src = &MockSource{}
	}
	return Ms.NewEngine(tt, conn, src, time.Millisecond), conn
}

func TestDispatchURL(t *testing.T) {
	rec := Mt.TriggerRecord{URL: "http://127.0.0.1:1111/go"}
	assertString(t, Ms.DispatchURL(rec, 100), "http://127.0.0.1:1111/go")

	rec.Signature = Mt.VelocityArg
	assertString(t, Ms.DispatchURL(rec, 100), "http://127.0.0.1:1111/go99")
	assertString(t, Ms.DispatchURL(rec, 1), "http://127.0.0.1:1111/go0")
}

func TestEngine_HandleEvent(t *testing.T) {
	ctx := context.Background()

	t.Run("Sends the trigger path", func(t *testing.T) {
		p := newPresenter(nil)
		defer p.srv.Close()
		e, _ := newEngine(t, p, triggerFixture, nil)

		res, err := e.HandleEvent(ctx, Mt.MidiEvent{Channel: 1, Type: Mt.MessageNoteOn, NoteOrControl: 60, Velocity: 100})
		assertError(t, err, nil)
		if !res.Matched || !res.OK {
			t.Errorf("got %+v", res)
		}
		assertStatus(t, res.Status, 200)
		assertString(t, res.URL, p.srv.URL+"/next")
		assertInt(t, p.hits("/next"), 1)
	})

	t.Run("Velocity actions get velocity minus one", func(t *testing.T) {
		p := newPresenter(nil)
		defer p.srv.Close()
		e, _ := newEngine(t, p, triggerFixture, nil)

		_, err := e.HandleEvent(ctx, Mt.MidiEvent{Channel: 2, Type: Mt.MessageNoteOn, NoteOrControl: 60, Velocity: 100})
		assertError(t, err, nil)
		assertInt(t, p.hits("/gotoitem99"), 1)
	})

	t.Run("No match makes no call", func(t *testing.T) {
		p := newPresenter(nil)
		defer p.srv.Close()
		e, _ := newEngine(t, p, triggerFixture, nil)

		res, err := e.HandleEvent(ctx, Mt.MidiEvent{Channel: 1, Type: Mt.MessageNoteOn, NoteOrControl: 99, Velocity: 100})
		assertError(t, err, nil)
		if res.Matched {
			t.Error("should not match")
		}
		assertInt(t, len(p.paths), 0)
	})

	t.Run("Ambiguous triggers abort before any call", func(t *testing.T) {
		p := newPresenter(nil)
		defer p.srv.Close()
		csv := triggerHeader +
			"/go,Quelea,enabled,Go,slides,void action(),NoteOn,1,60,,\n" +
			"/stop,Quelea,enabled,Stop,slides,void action(),NoteOn,1,60,,\n"
		e, _ := newEngine(t, p, csv, nil)

		_, err := e.HandleEvent(ctx, Mt.MidiEvent{Channel: 1, Type: Mt.MessageNoteOn, NoteOrControl: 60, Velocity: 100})
		var amb *Ms.AmbiguousTriggerError
		if !errors.As(err, &amb) {
			t.Fatalf("got %v, want *AmbiguousTriggerError", err)
		}
		assertInt(t, len(amb.Matches), 2)
		assertStringContains(t, err.Error(), "rows 1,2")
		assertInt(t, len(p.paths), 0)
	})

	t.Run("A redirect runs the login flow", func(t *testing.T) {
		p := newPresenter(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/next" {
				http.Redirect(w, r, "/", http.StatusTemporaryRedirect)
				return
			}
			w.Write([]byte("<html>remote</html>"))
		})
		defer p.srv.Close()
		e, conn := newEngine(t, p, triggerFixture, nil)

		res, err := e.HandleEvent(ctx, Mt.MidiEvent{Channel: 1, Type: Mt.MessageNoteOn, NoteOrControl: 60, Velocity: 100})
		assertError(t, err, nil)
		assertStatus(t, res.Status, http.StatusTemporaryRedirect)
		if !res.Login || !conn.LoggedIn() {
			t.Errorf("got %+v, want login", res)
		}
		assertInt(t, p.hits("/"), 1)
	})

	t.Run("Transport failures drop the event", func(t *testing.T) {
		p := newPresenter(nil)
		e, _ := newEngine(t, p, triggerFixture, nil)
		out := &MockOutput{}
		e.Outputs = append(e.Outputs, out)
		p.srv.Close()

		res, err := e.HandleEvent(ctx, Mt.MidiEvent{Channel: 1, Type: Mt.MessageNoteOn, NoteOrControl: 60, Velocity: 100})
		assertError(t, err, nil)
		var terr *Ms.TransportError
		if !errors.As(res.Err, &terr) {
			t.Fatalf("got %v, want *TransportError", res.Err)
		}
		assertInt(t, len(out.got), 1)
		assertStatus(t, out.got[0].Status, 0)
		if out.got[0].Err == "" {
			t.Error("dispatch should carry the error")
		}
	})
}

func TestEngine_Run(t *testing.T) {
	t.Run("Dispatches until stopped", func(t *testing.T) {
		p := newPresenter(nil)
		defer p.srv.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()

		src := &MockSource{
			queue: []Mt.RawMessage{
				wire(midi.NoteOn(0, 60, 100)),        // ch1 /next
				wire(midi.NoteOn(0, 60, 0)),          // note off, filtered
				wire(midi.Pitchbend(0, 64)),          // pitch bend, refused
				wire(midi.NoteOn(5, 60, 100)),        // ch6, filtered
				wire(midi.NoteOn(1, 60, 11)),         // ch2 /gotoitem10
				wire(midi.ControlChange(0, 60, 127)), // ch1 CC /black
			},
			drained: cancel,
		}
		e, conn := newEngine(t, p, triggerFixture, src)
		e.BatchSize = 2
		out := &MockOutput{}
		e.Outputs = []Mp.OutputAdapter{out}

		err := e.Run(ctx)
		assertError(t, err, nil)

		assertInt(t, p.hits("/next"), 1)
		assertInt(t, p.hits("/gotoitem10"), 1)
		assertInt(t, p.hits("/black"), 1)
		assertInt(t, len(p.paths), 3)
		assertInt(t, len(out.got), 3)
		assertInt(t, out.flushed, 1)
		assertInt(t, src.closed, 1)
		if conn.State() != Mt.Stopped {
			t.Errorf("got %v, want Stopped", conn.State())
		}
	})

	t.Run("Ambiguous match ends the run", func(t *testing.T) {
		p := newPresenter(nil)
		defer p.srv.Close()
		csv := triggerHeader +
			"/go,Quelea,enabled,Go,slides,void action(),NoteOn,1,60,,\n" +
			"/stop,Quelea,enabled,Stop,slides,void action(),NoteOn,1,60,,\n"
		src := &MockSource{queue: []Mt.RawMessage{wire(midi.NoteOn(0, 60, 100))}}
		e, conn := newEngine(t, p, csv, src)

		err := e.Run(context.Background())
		var amb *Ms.AmbiguousTriggerError
		if !errors.As(err, &amb) {
			t.Fatalf("got %v, want *AmbiguousTriggerError", err)
		}
		if conn.State() != Mt.Exit {
			t.Errorf("got %v, want Exit", conn.State())
		}
		assertInt(t, src.closed, 1)
		assertInt(t, len(p.paths), 0)
	})

	t.Run("Leaving Running stops the loop", func(t *testing.T) {
		p := newPresenter(nil)
		defer p.srv.Close()
		src := &MockSource{}
		e, conn := newEngine(t, p, triggerFixture, src)
		src.drained = func() { conn.SetState(Mt.Stopped) }

		done := make(chan error, 1)
		go func() { done <- e.Run(context.Background()) }()

		select {
		case err := <-done:
			assertError(t, err, nil)
		case <-time.After(2 * time.Second):
			t.Fatal("loop did not stop")
		}
		if conn.State() != Mt.Stopped {
			t.Errorf("got %v, want Stopped", conn.State())
		}
	})
}
