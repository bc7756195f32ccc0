package adapter

import (
	"bytes"
	"context"
	"errors"
	"net"
	"net/url"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"echo-fixture/server"
)

// Buffered serves the echo endpoints from fasthttp, which reads every request
// body in full before the handler runs. Header names are not normalized, so
// headers are echoed with the casing and order they arrived in.
type Buffered struct {
	srv *fasthttp.Server
	obs *Observer
	log *zap.Logger
}

func NewBuffered(opts Options, obs *Observer, log *zap.Logger) *Buffered {
	if obs == nil {
		obs = NewObserver(log, nil)
	}
	if log == nil {
		log = zap.NewNop()
	}

	b := &Buffered{obs: obs, log: log}
	b.srv = &fasthttp.Server{
		Handler:                       b.handle,
		ErrorHandler:                  b.handleError,
		NoDefaultServerHeader:         true,
		DisableHeaderNamesNormalizing: true,
		ReadTimeout:                   opts.ReadTimeout,
		MaxRequestBodySize:            opts.MaxBodyBytes,
		Logger:                        zap.NewStdLog(log),
	}
	return b
}

func (b *Buffered) Serve(ln net.Listener) error {
	return b.srv.Serve(ln)
}

func (b *Buffered) Shutdown(ctx context.Context) error {
	return b.srv.ShutdownWithContext(ctx)
}

func (b *Buffered) handle(ctx *fasthttp.RequestCtx) {
	view := fastRequestView(&ctx.Request, requestPath(ctx.URI()))
	entry := b.obs.begin("buffered", view.Method, view.Path,
		ctx.RemoteAddr().String(), string(ctx.UserAgent()))

	resp, err := server.Route(ctx, view)
	if err != nil {
		// A buffered body cannot be cut short; anything else is a bug.
		ctx.SetConnectionClose()
		ctx.Error(fasthttp.StatusMessage(fasthttp.StatusInternalServerError), fasthttp.StatusInternalServerError)
		b.obs.end(entry, fasthttp.StatusInternalServerError, err)
		return
	}

	ctx.SetStatusCode(resp.Status)
	for _, h := range resp.Headers {
		ctx.Response.Header.Add(h.Name, h.Value)
	}
	ctx.SetBody(resp.Body)
	b.obs.end(entry, resp.Status, nil)
}

// handleError answers requests fasthttp rejected before the handler ran.
// An oversized body gets 413 like the net/http adapters.
func (b *Buffered) handleError(ctx *fasthttp.RequestCtx, err error) {
	var (
		small  *fasthttp.ErrSmallBuffer
		netErr net.Error
	)

	status := fasthttp.StatusBadRequest
	switch {
	case errors.Is(err, fasthttp.ErrBodyTooLarge):
		status = fasthttp.StatusRequestEntityTooLarge
	case errors.As(err, &small):
		status = fasthttp.StatusRequestHeaderFieldsTooLarge
	case errors.As(err, &netErr) && netErr.Timeout():
		status = fasthttp.StatusRequestTimeout
	}

	b.log.Debug("request rejected", zap.Int("status", status), zap.Error(err))
	ctx.Error(fasthttp.StatusMessage(status), status)
}

// requestPath is the percent-decoded request path without fasthttp's
// normalization, so "//cookie" stays distinct from "/cookie" as it does on
// net/http.
func requestPath(uri *fasthttp.URI) []byte {
	raw := string(uri.PathOriginal())
	if raw == "" {
		return []byte("/")
	}
	if p, err := url.PathUnescape(raw); err == nil {
		return []byte(p)
	}
	return []byte(raw)
}

// fastRequestView builds the view for a fasthttp request. The body is copied
// because fasthttp reuses the request buffer once the handler returns.
func fastRequestView(req *fasthttp.Request, path []byte) *server.RequestView {
	headers := rawHeaderPairs(req.Header.RawHeaders())
	if len(headers) == 0 {
		req.Header.VisitAll(func(key, value []byte) {
			headers = append(headers, server.Header{Name: string(key), Value: string(value)})
		})
	}

	return &server.RequestView{
		Method:  string(req.Header.Method()),
		Path:    string(path),
		Headers: headers,
		Cookie:  joinCookies(headers),
		Body:    server.Buffered(bytes.Clone(req.Body())),
	}
}

// rawHeaderPairs splits the raw header block as received on the wire into
// ordered pairs. Folded continuation lines are joined onto the previous value.
func rawHeaderPairs(raw []byte) []server.Header {
	var headers []server.Header
	for _, line := range bytes.Split(raw, []byte("\n")) {
		line = bytes.TrimSuffix(line, []byte("\r"))
		if len(line) == 0 {
			continue
		}

		if line[0] == ' ' || line[0] == '\t' {
			if len(headers) > 0 {
				last := &headers[len(headers)-1]
				last.Value += " " + string(bytes.Trim(line, " \t"))
			}
			continue
		}

		name, value, ok := bytes.Cut(line, []byte(":"))
		if !ok {
			continue
		}
		headers = append(headers, server.Header{
			Name:  string(name),
			Value: string(bytes.Trim(value, " \t")),
		})
	}
	return headers
}
