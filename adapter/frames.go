package adapter

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"echo-fixture/server"
)

const frameOverhead = 64 << 10

var (
	errUnexpectedFrame = errors.New("unexpected frame")
	errFrameBodyLimit  = errors.New("frame body exceeds limit")
)

// Frames accepts requests as a sequence of StreamFrame messages over a
// WebSocket, one request per connection. The client sends a headers frame,
// any number of chunk frames and an end frame; the body is pulled frame by
// frame while the request is being echoed.
type Frames struct {
	srv      *http.Server
	obs      *Observer
	log      *zap.Logger
	opts     Options
	upgrader websocket.Upgrader
}

func NewFrames(opts Options, obs *Observer, log *zap.Logger) *Frames {
	if obs == nil {
		obs = NewObserver(log, nil)
	}
	if log == nil {
		log = zap.NewNop()
	}

	f := &Frames{
		obs:  obs,
		log:  log,
		opts: opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  opts.chunkSize(),
			WriteBufferSize: opts.chunkSize(),
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	f.srv = &http.Server{
		Handler:  f,
		ErrorLog: zap.NewStdLog(log),
	}
	return f
}

func (f *Frames) Serve(ln net.Listener) error {
	return serveHTTP(f.srv, ln)
}

func (f *Frames) Shutdown(ctx context.Context) error {
	return f.srv.Shutdown(ctx)
}

func (f *Frames) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the client.
		f.log.Debug("upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()
	if limit := frameReadLimit(f.opts.MaxBodyBytes); limit > 0 {
		conn.SetReadLimit(limit)
	}

	rx := &frameReceiver{conn: conn, timeout: f.opts.ReadTimeout, limit: f.opts.MaxBodyBytes}
	first, err := rx.next()
	if err != nil {
		f.log.Debug("read headers frame", zap.Error(err))
		return
	}
	if first.Type != server.FrameHeaders {
		f.writeError(conn, fmt.Errorf("%w: want %q, got %q", errUnexpectedFrame, server.FrameHeaders, first.Type))
		return
	}

	entry := f.obs.begin("frames", first.Method, first.Path, r.RemoteAddr, r.UserAgent())

	view := &server.RequestView{
		Method:  first.Method,
		Path:    first.Path,
		Headers: first.Headers,
		Cookie:  joinCookies(first.Headers),
		Body:    server.NewStreamed(rx.receive),
	}

	resp, err := server.Route(r.Context(), view)
	if err != nil {
		f.obs.end(entry, 0, err)
		if errors.Is(err, errUnexpectedFrame) || errors.Is(err, errFrameBodyLimit) {
			f.writeError(conn, err)
		}
		// A truncated body or an oversized frame gets no reply; the deferred
		// close drops the socket.
		return
	}

	if err := writeFrames(conn, resp); err != nil {
		f.log.Debug("write reply frames", zap.Error(err))
	}
	f.obs.end(entry, resp.Status, nil)
}

// frameReadLimit bounds a single frame: a body of maxBody bytes base64
// encoded in one chunk frame, plus room for the JSON envelope and headers.
func frameReadLimit(maxBody int) int64 {
	if maxBody <= 0 {
		return 0
	}
	return int64(base64.StdEncoding.EncodedLen(maxBody)) + frameOverhead
}

func (f *Frames) writeError(conn *websocket.Conn, err error) {
	if werr := conn.WriteJSON(server.StreamFrame{Type: server.FrameError, Error: err.Error()}); werr != nil {
		f.log.Debug("write error frame", zap.Error(werr))
	}
}

func writeFrames(conn *websocket.Conn, resp *server.Response) error {
	if err := conn.WriteJSON(server.StreamFrame{
		Type:    server.FrameHeaders,
		Status:  resp.Status,
		Headers: resp.Headers,
	}); err != nil {
		return err
	}
	if len(resp.Body) > 0 {
		if err := conn.WriteJSON(server.StreamFrame{Type: server.FrameChunk, Data: resp.Body}); err != nil {
			return err
		}
	}
	if err := conn.WriteJSON(server.StreamFrame{Type: server.FrameEnd}); err != nil {
		return err
	}
	return conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

// frameReceiver reads request frames from the socket only when the body
// collector asks for the next chunk.
type frameReceiver struct {
	conn    *websocket.Conn
	timeout time.Duration
	limit   int
	read    int
}

func (rx *frameReceiver) next() (server.StreamFrame, error) {
	if rx.timeout > 0 {
		if err := rx.conn.SetReadDeadline(time.Now().Add(rx.timeout)); err != nil {
			return server.StreamFrame{}, err
		}
	}
	var frame server.StreamFrame
	err := rx.conn.ReadJSON(&frame)
	return frame, err
}

func (rx *frameReceiver) receive(ctx context.Context) (server.Chunk, error) {
	if err := ctx.Err(); err != nil {
		return server.Chunk{}, err
	}

	frame, err := rx.next()
	if err != nil {
		return server.Chunk{}, err
	}

	switch frame.Type {
	case server.FrameChunk:
		rx.read += len(frame.Data)
		if rx.limit > 0 && rx.read > rx.limit {
			return server.Chunk{}, fmt.Errorf("%w: %d bytes", errFrameBodyLimit, rx.limit)
		}
		return server.Chunk{Data: frame.Data, More: true}, nil
	case server.FrameEnd:
		return server.Chunk{Data: frame.Data, More: false}, nil
	default:
		return server.Chunk{}, fmt.Errorf("%w: %q inside body", errUnexpectedFrame, frame.Type)
	}
}
