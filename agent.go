package couchdb

import (
	"crypto/tls"
	"net/http"
	"net/url"
	"sync"
)

// connectionAgent is the single pooled HTTP(S) transport shared by
// every request issued through a Client, carrying optional TLS
// material and a per-host socket limit.
type connectionAgent struct {
	once sync.Once
	http *http.Client
	rt   *http.Transport

	tlsConfig  *tls.Config
	maxSockets int
}

func newConnectionAgent(tlsConfig *tls.Config, maxSockets int) *connectionAgent {
	return &connectionAgent{tlsConfig: tlsConfig, maxSockets: maxSockets}
}

// client lazily builds the underlying *http.Client on first use.
func (a *connectionAgent) client() *http.Client {
	a.once.Do(func() {
		rt := &http.Transport{
			TLSClientConfig: a.tlsConfig,
		}
		if a.maxSockets > 0 {
			rt.MaxIdleConnsPerHost = a.maxSockets
			rt.MaxConnsPerHost = a.maxSockets
		}
		a.rt = rt
		a.http = &http.Client{Transport: rt}
	})
	return a.http
}

// Close releases the pooled connections held by the agent.
func (a *connectionAgent) Close() {
	if a.rt != nil {
		a.rt.CloseIdleConnections()
	}
}

// schemeOf returns the scheme of rawurl, or "http" if it cannot be
// parsed. Nothing in the package calls it: the transport takes the
// protocol from each request URL.
func schemeOf(rawurl string) string {
	u, err := url.Parse(rawurl)
	if err != nil {
		return "http"
	}
	return u.Scheme
}
