// Package httpserver builds the audit query API server.
package httpserver

import (
	"net/http"
	"time"
)

// New returns a server tuned for short JSON query responses. The write timeout
// leaves headroom over the 30s handler timeout so slow history scans surface as
// a handler-level gateway timeout, not a dropped connection.
func New(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      45 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}
