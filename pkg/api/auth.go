package api

import (
	"errors"
	"net/http"
	"strings"
)

var ErrUnauthenticated = errors.New("request carries no site identity")

// SiteAuthenticator resolves the site a request acts for. Authentication
// itself happens in front of the relay.
type SiteAuthenticator interface {
	Site(r *http.Request) (string, error)
}

// HeaderAuthenticator trusts a header set by the fronting auth proxy.
type HeaderAuthenticator struct {
	Header string
}

func (a HeaderAuthenticator) Site(r *http.Request) (string, error) {
	site := strings.TrimSpace(r.Header.Get(a.Header))
	if site == "" {
		return "", ErrUnauthenticated
	}
	return site, nil
}
