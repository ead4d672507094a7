package plugin

import (
	"fmt"

	"github.com/pkg/browser"
)

// AuthProfiles is a global map of AuthProfile plugins keyed by Server_Name.
var AuthProfiles = map[string]func() AuthProfile{
	"Quelea": func() AuthProfile {
		return NewQueleaProfile()
	},
}

func AuthLookup(name string) (AuthProfile, error) {
	factory, ok := AuthProfiles[name]
	if !ok {
		return nil, fmt.Errorf("unknown auth profile: %s", name)
	}
	return factory(), nil
}

// OpenBrowser shows /url/ to the operator in the default web browser
func OpenBrowser(url string) error {
	return browser.OpenURL(url)
}
