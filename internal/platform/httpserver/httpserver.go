// Package httpserver builds the http.Server the protocol API runs behind.
package httpserver

import (
	"net/http"
	"time"
)

// New returns a server with timeouts sized for the API's small JSON
// payloads; nothing the protocol serves streams, so slow clients can be cut
// off aggressively.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
