package cuebridge_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	Md "github.com/maroda/cuebridge/display"
	Mo "github.com/maroda/cuebridge/obvy"
	Mp "github.com/maroda/cuebridge/plugin"
	Ms "github.com/maroda/cuebridge/server"
	Mt "github.com/maroda/cuebridge/types"
)

func TestView_VersionHandler(t *testing.T) {
	view := makeTestView(t, nil)
	r := httptest.NewRequest("GET", "/api/version", nil)
	w := httptest.NewRecorder()
	view.SetupMux().ServeHTTP(w, r)

	assertStatus(t, w.Code, http.StatusOK)
	assertStringContains(t, w.Body.String(), `"version":"dev"`)
}

func TestView_StateHandler(t *testing.T) {
	view := makeTestView(t, nil)
	view.Source = "IAC Driver Bus 1"
	view.WriteDispatch(makeDispatch("Next slide", 200, ""))
	view.WriteDispatch(makeDispatch("Prev slide", 0, "connection refused"))

	r := httptest.NewRequest("GET", "/api/state", nil)
	w := httptest.NewRecorder()
	view.SetupMux().ServeHTTP(w, r)
	assertStatus(t, w.Code, http.StatusOK)

	var got Md.StateData
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	assertString(t, got.State, "Configured")
	assertString(t, got.Target, "http://127.0.0.1:1050")
	assertString(t, got.Source, "IAC Driver Bus 1")
	assertInt(t, got.Triggers, 2)
	assertInt(t, int(got.Total), 2)
	assertInt(t, int(got.Failed), 1)
}

func TestView_TriggersHandler(t *testing.T) {
	t.Run("Lists loaded rows", func(t *testing.T) {
		view := makeTestView(t, nil)
		r := httptest.NewRequest("GET", "/api/triggers", nil)
		w := httptest.NewRecorder()
		view.SetupMux().ServeHTTP(w, r)
		assertStatus(t, w.Code, http.StatusOK)

		var got []Md.TriggerData
		if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
			t.Fatal(err)
		}
		assertInt(t, len(got), 2)
		assertString(t, got[0].URL, "http://127.0.0.1:1050/next")
		assertString(t, got[0].NoteName, "C4")
		assertString(t, got[1].Signature, Mt.VelocityArg.String())
	})

	t.Run("No table", func(t *testing.T) {
		view := Md.NewView(nil, nil, nil, nil)
		w := httptest.NewRecorder()
		view.SetupMux().ServeHTTP(w, httptest.NewRequest("GET", "/api/triggers", nil))
		assertStatus(t, w.Code, http.StatusServiceUnavailable)
	})

	t.Run("Wrong method", func(t *testing.T) {
		view := makeTestView(t, nil)
		w := httptest.NewRecorder()
		view.SetupMux().ServeHTTP(w, httptest.NewRequest("POST", "/api/triggers", nil))
		assertStatus(t, w.Code, http.StatusMethodNotAllowed)
	})
}

func TestView_DispatchesHandler(t *testing.T) {
	view := makeTestView(t, nil)
	view.WriteDispatch(makeDispatch("first", 200, ""))
	view.WriteDispatch(makeDispatch("second", 307, ""))

	w := httptest.NewRecorder()
	view.SetupMux().ServeHTTP(w, httptest.NewRequest("GET", "/api/dispatches", nil))
	assertStatus(t, w.Code, http.StatusOK)

	var got []Mp.DispatchRecord
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	assertInt(t, len(got), 2)
	assertString(t, got[0].Description, "second")
}

func TestView_StatsMiddleware(t *testing.T) {
	stats := Mo.NewStatsInternal()
	view := makeTestView(t, stats)
	mux := view.SetupMux()

	mux.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/version", nil))
	mux.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("GET", "/api/triggers", nil))

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))
	assertStatus(t, w.Code, http.StatusOK)
	assertStringContains(t, w.Body.String(), `cuebridge_www_requests_total{code="200",method="GET"} 2`)
}

func TestView_WebsocketHandlerNoUpgrade(t *testing.T) {
	view := makeTestView(t, nil)
	r := httptest.NewRequest("GET", "/ws", nil)
	w := httptest.NewRecorder()
	view.SetupMux().ServeHTTP(w, r)

	// No websocket headers sent
	assertStatus(t, w.Code, http.StatusBadRequest)
}

// Helpers //

const testTriggers = "HTTP_URL,ServerAPI,MidiMapping,Description,GroupType,ActionTypeArguments,MidimsgType,MidiChanel,MidiNote_CC,ExternalExecutable,ExternalCmd\n" +
	"/next,Quelea,enabled,Next slide,slides,void action(),NoteOn,1,60,,\n" +
	"/gotoitem,Quelea,enabled,Go to item,schedule,void action(int velocity),NoteOn,2,61,,\n"

// View with a connection that never dials and a two row table
func makeTestView(t *testing.T, stats *Mo.StatsInternal) *Md.View {
	t.Helper()
	conn := Ms.NewConnection(Ms.Settings{Protocol: "http", IP: "127.0.0.1", ControlPort: 1050})

	rows, err := Ms.ParseTriggerCSV(strings.NewReader(testTriggers))
	if err != nil {
		t.Fatal(err)
	}
	tt, err := Ms.LoadTriggers(rows, conn.BaseURL())
	if err != nil {
		t.Fatal(err)
	}
	return Md.NewView(nil, stats, conn, tt)
}

func makeDispatch(desc string, status int, errText string) *Mt.Dispatch {
	return &Mt.Dispatch{
		Event: Mt.MidiEvent{
			Channel:       1,
			Type:          Mt.MessageNoteOn,
			NoteOrControl: 60,
			Velocity:      100,
			Timestamp:     time.Now(),
		},
		Description: desc,
		URL:         "http://127.0.0.1:1050/next",
		Status:      status,
		Err:         errText,
		Login:       status == http.StatusTemporaryRedirect,
		Duration:    3 * time.Millisecond,
		Timestamp:   time.Now(),
	}
}

func assertStatus(t testing.TB, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("did not get correct status, got %d, want %d", got, want)
	}
}

func assertInt(t *testing.T, got, want int) {
	t.Helper()
	if got != want {
		t.Errorf("got %d, want %d", got, want)
	}
}

func assertString(t testing.TB, got, want string) {
	t.Helper()
	if got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func assertStringContains(t *testing.T, full, want string) {
	t.Helper()
	if !strings.Contains(full, want) {
		t.Errorf("Did not find %q, expected string contains %q", want, full)
	}
}
