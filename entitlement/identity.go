package entitlement

import (
	"fmt"
	"strings"
)

// Identity is who is asking. Any component may be empty.
type Identity struct {
	// SessionToken is the handle returned by an unlock, e.g. a checkout email.
	SessionToken string
	ClientIP     string
	BrowserToken string
}

type component string

const (
	componentSession component = "session"
	componentIP      component = "ip"
	componentBrowser component = "browser"
)

type part struct {
	kind  component
	value string
}

// parts returns the non-empty components.
func (id Identity) parts() []part {
	var out []part
	if v := strings.TrimSpace(id.SessionToken); v != "" {
		out = append(out, part{componentSession, v})
	}
	if v := strings.TrimSpace(id.ClientIP); v != "" {
		out = append(out, part{componentIP, v})
	}
	if v := strings.TrimSpace(id.BrowserToken); v != "" {
		out = append(out, part{componentBrowser, v})
	}
	return out
}

// Empty reports whether no component is set.
func (id Identity) Empty() bool {
	return len(id.parts()) == 0
}

// String masks values so identities can be logged.
func (id Identity) String() string {
	return fmt.Sprintf("session=%s ip=%s browser=%s", mask(id.SessionToken), id.ClientIP, mask(id.BrowserToken))
}

func mask(v string) string {
	if v == "" {
		return "-"
	}
	if len(v) <= 4 {
		return "****"
	}
	return v[:4] + "****"
}
