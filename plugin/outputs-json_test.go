package plugin_test

import (
	"bufio"
	"bytes"
	"encoding/json"
	"testing"
	"time"

	Mp "github.com/maroda/cuebridge/plugin"
)

func TestJSONOutput_WriteDispatch(t *testing.T) {
	var buf bytes.Buffer
	out := Mp.NewJSONOutput(&buf)
	now := time.Now()

	d1 := makeDispatch(now, 60, "http://127.0.0.1:1111/next")
	d2 := makeDispatch(now.Add(time.Second), 62, "http://127.0.0.1:1111/prev")
	d2.Status = 0
	d2.Err = "connection refused"

	assertError(t, out.WriteDispatch(d1), nil)
	assertError(t, out.WriteDispatch(d2), nil)
	assertError(t, out.Flush(), nil)
	assertError(t, out.Close(), nil)
	assertString(t, out.Type(), "JSON")

	t.Run("Writes one object per line", func(t *testing.T) {
		var recs []Mp.DispatchRecord
		scanner := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
		for scanner.Scan() {
			var r Mp.DispatchRecord
			if err := json.Unmarshal(scanner.Bytes(), &r); err != nil {
				t.Fatalf("bad line %q: %v", scanner.Text(), err)
			}
			recs = append(recs, r)
		}
		assertInt(t, len(recs), 2)
		assertString(t, recs[0].URL, "http://127.0.0.1:1111/next")
		assertString(t, recs[0].Type, "NoteOn")
		assertInt(t, recs[0].Status, 200)
		assertString(t, recs[1].Error, "connection refused")
	})

	t.Run("Omits empty error and login", func(t *testing.T) {
		first := bytes.SplitN(buf.Bytes(), []byte("\n"), 2)[0]
		if bytes.Contains(first, []byte(`"error"`)) || bytes.Contains(first, []byte(`"login"`)) {
			t.Errorf("unexpected fields in %s", first)
		}
	})
}

func TestNewDispatchRecord(t *testing.T) {
	d := makeDispatch(time.Now(), 60, "/go")
	d.Duration = 1500 * time.Microsecond
	r := Mp.NewDispatchRecord(d)
	if r.DurationMS != 1.5 {
		t.Errorf("got %v, want 1.5", r.DurationMS)
	}
	assertInt(t, r.Number, 60)
	assertInt(t, r.Channel, 1)
}
