package plugin

/*
	Quelea

	The Quelea mobile remote answers with a password form
	until the operator has logged in through a browser.
*/

import "bytes"

const queleaPasswordMarker = `<input name="password">`

type QueleaProfile struct {
	Marker []byte
}

func NewQueleaProfile() *QueleaProfile {
	return &QueleaProfile{Marker: []byte(queleaPasswordMarker)}
}

// NeedsLogin is true while the page still carries the password input
func (q *QueleaProfile) NeedsLogin(body []byte) bool {
	return bytes.Contains(body, q.Marker)
}

func (q *QueleaProfile) Type() string { return "Quelea" }
