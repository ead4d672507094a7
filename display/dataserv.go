package cuebridge

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	Mp "github.com/maroda/cuebridge/plugin"
)

// SetupMux handles all data serving:
// - Prometheus metric endpoint
// - Websocket feed of dispatches
// - Version, state, triggers and recent dispatches under /api
func (v *View) SetupMux() *mux.Router {
	r := mux.NewRouter()

	r.Handle("/metrics", v.Stats.Handler())
	r.Handle("/ws", v.Hub)

	api := r.PathPrefix("/api").Subrouter()
	api.Use(v.StatsMiddleware)
	api.HandleFunc("/version", v.VersionHandler).Methods(http.MethodGet)
	api.HandleFunc("/state", v.StateHandler).Methods(http.MethodGet)
	api.HandleFunc("/triggers", v.TriggersHandler).Methods(http.MethodGet)
	api.HandleFunc("/dispatches", v.DispatchesHandler).Methods(http.MethodGet)

	return r
}

var Version = "dev"

func writeJSON(w http.ResponseWriter, body any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(body)
}

func (v *View) VersionHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"version": Version})
}

type StateData struct {
	State    string `json:"state"`
	Target   string `json:"target"`
	LoggedIn bool   `json:"loggedIn"`
	Source   string `json:"source"`
	Triggers int    `json:"triggers"`
	Total    int64  `json:"total"`
	Failed   int64  `json:"failed"`
	Rate     int64  `json:"rate"`
	WebFeeds int    `json:"webFeeds"`
}

func (v *View) StateHandler(w http.ResponseWriter, r *http.Request) {
	total, failed, rate := v.Counts()
	data := StateData{
		Source: v.Source,
		Total:  total,
		Failed: failed,
		Rate:   rate,
	}
	if v.Conn != nil {
		data.State = v.Conn.State().String()
		data.Target = v.Conn.BaseURL()
		data.LoggedIn = v.Conn.LoggedIn()
	}
	if v.Table != nil {
		data.Triggers = v.Table.Len()
	}
	if v.Hub != nil {
		data.WebFeeds = v.Hub.Clients()
	}
	writeJSON(w, data)
}

type TriggerData struct {
	Row         int    `json:"row"`
	Path        string `json:"path"`
	URL         string `json:"url"`
	Description string `json:"description"`
	Group       string `json:"group"`
	Signature   string `json:"signature"`
	Type        string `json:"type"`
	Channel     int    `json:"channel"`
	Number      int    `json:"number"`
	NoteName    string `json:"noteName,omitempty"`
}

func (v *View) TriggersHandler(w http.ResponseWriter, r *http.Request) {
	if v.Table == nil {
		http.Error(w, "no trigger table loaded", http.StatusServiceUnavailable)
		return
	}

	rows := make([]TriggerData, 0, v.Table.Len())
	for _, rec := range v.Table.Records() {
		rows = append(rows, TriggerData{
			Row:         rec.Row,
			Path:        rec.HTTPPath,
			URL:         rec.URL,
			Description: rec.Description,
			Group:       rec.GroupType,
			Signature:   rec.Signature.String(),
			Type:        rec.MsgType.String(),
			Channel:     rec.Channel,
			Number:      rec.NoteOrControl,
			NoteName:    rec.NoteName,
		})
	}
	writeJSON(w, rows)
}

// DispatchesHandler lists the kept dispatches, newest first
func (v *View) DispatchesHandler(w http.ResponseWriter, r *http.Request) {
	recent := v.Recent()
	out := make([]Mp.DispatchRecord, 0, len(recent))
	for i := len(recent) - 1; i >= 0; i-- {
		out = append(out, Mp.NewDispatchRecord(&recent[i]))
	}
	writeJSON(w, out)
}
