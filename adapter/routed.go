package adapter

import (
	"context"
	"io"
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"echo-fixture/server"
)

const viewKey = "echo-fixture.view"

// Routed serves the echo endpoints from a gin engine. /cookie and /echo are
// registered as their own routes and call their endpoint directly; every
// other request falls through to NoRoute and the full router.
//
// The engine runs in whatever gin mode the process selected; the CLI picks
// release mode once at startup.
type Routed struct {
	engine *gin.Engine
	srv    *http.Server
	obs    *Observer
	log    *zap.Logger
	opts   Options
}

func NewRouted(opts Options, obs *Observer, log *zap.Logger) *Routed {
	if obs == nil {
		obs = NewObserver(log, nil)
	}
	if log == nil {
		log = zap.NewNop()
	}

	engine := gin.New()
	// Paths match exactly: "/cookie/" is a generic echo, not a redirect.
	engine.RedirectTrailingSlash = false
	engine.RedirectFixedPath = false

	rt := &Routed{engine: engine, obs: obs, log: log, opts: opts}
	engine.Use(gin.CustomRecoveryWithWriter(nil, rt.recovered))
	engine.Use(rt.observe, rt.buildView)

	engine.Any(server.CookiePath, func(c *gin.Context) {
		rt.respond(c, server.CookieEcho(view(c)), nil)
	})
	engine.Any(server.EchoPath, func(c *gin.Context) {
		rt.respond(c, server.HeaderEcho(view(c)), nil)
	})
	engine.NoRoute(func(c *gin.Context) {
		resp, err := server.Route(c.Request.Context(), view(c))
		rt.respond(c, resp, err)
	})

	rt.srv = &http.Server{
		Handler:     engine,
		ReadTimeout: opts.ReadTimeout,
		ErrorLog:    zap.NewStdLog(log),
	}
	return rt
}

// Handler exposes the engine for in-process use.
func (rt *Routed) Handler() http.Handler {
	return rt.engine
}

func (rt *Routed) Serve(ln net.Listener) error {
	return serveHTTP(rt.srv, ln)
}

func (rt *Routed) Shutdown(ctx context.Context) error {
	return rt.srv.Shutdown(ctx)
}

func (rt *Routed) observe(c *gin.Context) {
	entry := rt.obs.begin("routed", c.Request.Method, c.Request.URL.Path,
		c.Request.RemoteAddr, c.Request.UserAgent())
	// Deferred so a request whose connection was dropped is still recorded.
	defer func() {
		var err error
		if last := c.Errors.Last(); last != nil {
			err = last.Err
		}
		rt.obs.end(entry, c.Writer.Status(), err)
	}()
	c.Next()
}

// recovered answers a handler panic with 500. http.ErrAbortHandler is raised
// again so net/http drops the connection instead of answering.
func (rt *Routed) recovered(c *gin.Context, rec any) {
	if rec == http.ErrAbortHandler {
		panic(rec)
	}
	rt.log.Error("panic recovered", zap.Any("panic", rec), zap.Stack("stack"))
	c.AbortWithStatus(http.StatusInternalServerError)
}

// buildView reads the whole body before any route runs, matching the
// buffered contract of this model.
func (rt *Routed) buildView(c *gin.Context) {
	r := c.Request
	body := r.Body
	if rt.opts.MaxBodyBytes > 0 {
		body = http.MaxBytesReader(c.Writer, body, int64(rt.opts.MaxBodyBytes))
	}

	data, err := io.ReadAll(body)
	if err != nil {
		_ = c.Error(err)
		if status := bodyStatus(err); status != 0 {
			c.AbortWithStatus(status)
			return
		}
		c.Abort()
		if !canHijack(c.Writer) {
			panic(http.ErrAbortHandler)
		}
		abortConnection(c.Writer)
		return
	}

	headers := netHTTPHeaders(r)
	c.Set(viewKey, &server.RequestView{
		Method:    r.Method,
		Path:      r.URL.Path,
		Headers:   headers,
		Cookie:    joinCookies(headers),
		Synthetic: netHTTPSynthetic(r),
		Body:      server.Buffered(data),
	})
	c.Next()
}

// canHijack reports whether the connection under gin's writer can be taken
// over. gin's own Hijack assumes it can and panics otherwise.
func canHijack(w gin.ResponseWriter) bool {
	u, ok := w.(interface{ Unwrap() http.ResponseWriter })
	if !ok {
		return true
	}
	_, ok = u.Unwrap().(http.Hijacker)
	return ok
}

func (rt *Routed) respond(c *gin.Context, resp *server.Response, err error) {
	if err != nil {
		_ = c.Error(err)
		c.AbortWithStatus(http.StatusInternalServerError)
		return
	}
	for _, h := range resp.Headers {
		c.Writer.Header().Add(h.Name, h.Value)
	}
	c.Data(resp.Status, "", resp.Body)
}

func view(c *gin.Context) *server.RequestView {
	return c.MustGet(viewKey).(*server.RequestView)
}
