package adapter

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"sort"
	"strings"
	"sync"
	"unicode"

	"go.uber.org/zap"
	"golang.org/x/text/encoding/charmap"

	"echo-fixture/server"
)

// Streaming serves the echo endpoints from a plain net/http handler that
// hands the body over chunk by chunk as the transport delivers it.
//
// Headers are first lowered into (name, value) byte pairs and then decoded
// back: values are read as ISO-8859-1 and names are title-cased. This
// normalization belongs to this adapter only.
type Streaming struct {
	srv  *http.Server
	obs  *Observer
	log  *zap.Logger
	opts Options
}

func NewStreaming(opts Options, obs *Observer, log *zap.Logger) *Streaming {
	if obs == nil {
		obs = NewObserver(log, nil)
	}
	if log == nil {
		log = zap.NewNop()
	}

	s := &Streaming{obs: obs, log: log, opts: opts}
	s.srv = &http.Server{
		Handler:     s,
		ReadTimeout: opts.ReadTimeout,
		ErrorLog:    zap.NewStdLog(log),
	}
	return s
}

func (s *Streaming) Serve(ln net.Listener) error {
	return serveHTTP(s.srv, ln)
}

func (s *Streaming) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Streaming) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	entry := s.obs.begin("streaming", r.Method, r.URL.Path, r.RemoteAddr, r.UserAgent())

	body := r.Body
	if s.opts.MaxBodyBytes > 0 {
		body = http.MaxBytesReader(w, body, int64(s.opts.MaxBodyBytes))
	}

	headers := decodeHeaders(lowerHeaders(r))
	view := &server.RequestView{
		Method:    r.Method,
		Path:      r.URL.Path,
		Headers:   headers,
		Cookie:    joinCookies(headers),
		Synthetic: netHTTPSynthetic(r),
		Body:      server.NewStreamed(pumpBody(r.Context(), body, s.opts.chunkSize())),
	}

	resp, err := server.Route(r.Context(), view)
	if err != nil {
		if status := bodyStatus(err); status != 0 {
			http.Error(w, http.StatusText(status), status)
			s.obs.end(entry, status, err)
			return
		}
		s.obs.end(entry, 0, err)
		abortConnection(w)
		return
	}

	if err := writeHTTP(w, resp); err != nil {
		s.log.Debug("write response", zap.Error(err))
	}
	s.obs.end(entry, resp.Status, nil)
}

type bodyRead struct {
	chunk server.Chunk
	err   error
}

// pumpBody turns a body reader into a chunk receiver. Reads start on the first
// receive and run one chunk ahead of the consumer at most.
func pumpBody(ctx context.Context, body io.Reader, chunkSize int) server.ReceiveFunc {
	ch := make(chan bodyRead)
	var start sync.Once

	pump := func() {
		defer close(ch)
		for {
			buf := make([]byte, chunkSize)
			n, err := body.Read(buf)

			msg := bodyRead{chunk: server.Chunk{Data: buf[:n], More: true}}
			if errors.Is(err, io.EOF) {
				msg.chunk.More = false
			} else if err != nil {
				msg.err = err
			}

			select {
			case ch <- msg:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}

	return func(ctx context.Context) (server.Chunk, error) {
		start.Do(func() { go pump() })

		select {
		case msg, ok := <-ch:
			if !ok {
				return server.Chunk{}, io.ErrUnexpectedEOF
			}
			return msg.chunk, msg.err
		case <-ctx.Done():
			return server.Chunk{}, ctx.Err()
		}
	}
}

// lowerHeaders lowers the request headers into byte pairs with lower-case
// names, Host first, the rest sorted by name.
func lowerHeaders(r *http.Request) [][2][]byte {
	pairs := make([][2][]byte, 0, len(r.Header)+1)
	if r.Host != "" {
		pairs = append(pairs, [2][]byte{[]byte("host"), []byte(r.Host)})
	}

	names := make([]string, 0, len(r.Header))
	for name := range r.Header {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		lower := []byte(strings.ToLower(name))
		for _, v := range r.Header[name] {
			pairs = append(pairs, [2][]byte{lower, []byte(v)})
		}
	}
	return pairs
}

var latin1 = charmap.ISO8859_1.NewDecoder()

func decodeHeaders(pairs [][2][]byte) []server.Header {
	headers := make([]server.Header, 0, len(pairs))
	for _, p := range pairs {
		name, err := latin1.Bytes(p[0])
		if err != nil {
			name = p[0]
		}
		value, err := latin1.Bytes(p[1])
		if err != nil {
			value = p[1]
		}
		headers = append(headers, server.Header{
			Name:  titleCase(string(name)),
			Value: string(value),
		})
	}
	return headers
}

// titleCase upper-cases every letter that follows a non-letter and
// lower-cases the rest: "x-b3-traceid" becomes "X-B3-Traceid".
func titleCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	prevLetter := false
	for _, r := range s {
		switch {
		case !unicode.IsLetter(r):
			prevLetter = false
		case prevLetter:
			r = unicode.ToLower(r)
		default:
			r = unicode.ToUpper(r)
			prevLetter = true
		}
		b.WriteRune(r)
	}
	return b.String()
}
