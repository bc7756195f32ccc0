// Package adapter hosts the echo endpoints on three server execution models:
// a fully buffered fasthttp server, a routed gin engine and a streaming
// net/http handler, plus a WebSocket frame ingress for the streaming model.
// Each adapter only translates its native request into a server.RequestView
// and a server.Response back into its native reply.
package adapter

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"echo-fixture/server"
)

// Options tune the transports. Zero values select the transport defaults.
type Options struct {
	ReadTimeout  time.Duration
	MaxBodyBytes int
	ChunkSize    int
}

const defaultChunkSize = 16 * 1024

func (o Options) chunkSize() int {
	if o.ChunkSize <= 0 {
		return defaultChunkSize
	}
	return o.ChunkSize
}

// Server is a listener-bound adapter.
type Server interface {
	Serve(ln net.Listener) error
	Shutdown(ctx context.Context) error
}

// joinCookies folds every Cookie header value into one raw cookie string.
// It returns nil when the request carried no Cookie header.
func joinCookies(headers []server.Header) *string {
	var values []string
	for _, h := range headers {
		if strings.EqualFold(h.Name, "Cookie") {
			values = append(values, h.Value)
		}
	}
	if len(values) == 0 {
		return nil
	}
	raw := strings.Join(values, "; ")
	return &raw
}

// netHTTPHeaders flattens net/http's canonicalized header map. The map does
// not keep arrival order, so names are sorted to make the output
// deterministic; values of one name keep their order. Host is surfaced by
// net/http outside the map and leads the list.
func netHTTPHeaders(r *http.Request) []server.Header {
	headers := make([]server.Header, 0, len(r.Header)+1)
	if r.Host != "" {
		headers = append(headers, server.Header{Name: "Host", Value: r.Host})
	}

	names := make([]string, 0, len(r.Header))
	for name := range r.Header {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		for _, v := range r.Header[name] {
			headers = append(headers, server.Header{Name: name, Value: v})
		}
	}
	return headers
}

// netHTTPSynthetic returns the framing headers net/http strips from the
// header map and keeps on the request instead.
func netHTTPSynthetic(r *http.Request) []server.Header {
	if len(r.TransferEncoding) == 0 {
		return nil
	}
	return []server.Header{{Name: "Transfer-Encoding", Value: strings.Join(r.TransferEncoding, ", ")}}
}

func writeHTTP(w http.ResponseWriter, resp *server.Response) error {
	for _, h := range resp.Headers {
		w.Header().Add(h.Name, h.Value)
	}
	w.WriteHeader(resp.Status)
	_, err := w.Write(resp.Body)
	return err
}

// abortConnection drops the client connection without a response so a cut
// short body is never answered as if it were complete.
func abortConnection(w http.ResponseWriter) {
	conn, _, err := http.NewResponseController(w).Hijack()
	if err == nil {
		_ = conn.Close()
		return
	}
	panic(http.ErrAbortHandler)
}

// bodyStatus maps a failed body read to the status the adapter answers with,
// or 0 when the connection must be dropped instead.
func bodyStatus(err error) int {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge
	}
	return 0
}

func serveHTTP(srv *http.Server, ln net.Listener) error {
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
