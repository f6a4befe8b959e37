package job

import (
	"encoding/base64"
	"fmt"
)

// Credentials holds every auth input the run configuration may supply;
// ResolveAuth picks the first complete scheme from a strict precedence
// order (spec.md §4.8).
type Credentials struct {
	ServiceAccount string
	ServicePass    string
	ProjectID      string
	Secret         string
	Token          string
	Bearer         string
	// ProfileOnly relaxes the "must resolve to something" requirement: a
	// profile-kind run that supplies no auth at all is allowed to proceed
	// with an empty header, since some self-hosted ingest deployments don't
	// require project auth for engage/groups calls.
	ProfileOnly bool
}

// AuthHeader is the precomputed, ready-to-send Authorization header value.
type AuthHeader struct {
	Value string // empty means "send no Authorization header"
}

// ResolveAuth picks the first complete scheme from:
// basic(acct:pass) > basic(secret:"") > basic(token:"") > bearer(token).
// If none resolve and the run is not profile-only, it returns an error —
// the run fails at init per spec.md §4.8.
func ResolveAuth(c Credentials) (AuthHeader, error) {
	if c.ServiceAccount != "" && c.ServicePass != "" {
		return AuthHeader{Value: basic(c.ServiceAccount, c.ServicePass)}, nil
	}
	if c.Secret != "" {
		return AuthHeader{Value: basic(c.Secret, "")}, nil
	}
	if c.Token != "" {
		return AuthHeader{Value: basic(c.Token, "")}, nil
	}
	if c.Bearer != "" {
		return AuthHeader{Value: "Bearer " + c.Bearer}, nil
	}
	if c.ProfileOnly {
		return AuthHeader{}, nil
	}
	return AuthHeader{}, fmt.Errorf("job: no usable credentials resolved for this run")
}

func basic(user, pass string) string {
	raw := user + ":" + pass
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(raw))
}
