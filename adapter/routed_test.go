package adapter

import (
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func doRouted(t *testing.T, rt *Routed, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	rt.Handler().ServeHTTP(rec, req)
	return rec
}

func TestRoutedEcho(t *testing.T) {
	rt := NewRouted(Options{}, nil, nil)

	req := httptest.NewRequest(http.MethodGet, "/echo", nil)
	req.Header.Add("x-b", "1")
	req.Header.Add("X-A", "2")
	req.Header.Add("x-b", "3")

	rec := doRouted(t, rt, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	assert.Equal(t, "Host: example.com\nX-A: 2\nX-B: 1\nX-B: 3\n", rec.Body.String())
}

func TestRoutedCookie(t *testing.T) {
	rt := NewRouted(Options{}, nil, nil)

	for _, method := range []string{http.MethodGet, http.MethodPost, "PURGE"} {
		t.Run(method, func(t *testing.T) {
			req := httptest.NewRequest(method, "/cookie", strings.NewReader("ignored"))
			req.Header.Set("Cookie", "a=1; b=2")

			rec := doRouted(t, rt, req)
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, "a=1\nb=2\n", rec.Body.String())
		})
	}
}

func TestRoutedGenericEcho(t *testing.T) {
	rt := NewRouted(Options{}, nil, nil)

	tests := []struct {
		name   string
		method string
		path   string
		body   string
		want   string
	}{
		{"post passthrough", http.MethodPost, "/upload", "hello world", "hello world"},
		{"empty post", http.MethodPost, "/", "", ""},
		{"get", http.MethodGet, "/anything", "", "OK"},
		{"trailing slash is not the cookie endpoint", http.MethodGet, "/cookie/", "", "OK"},
		{"custom method", "PURGE", "/anything", "", "OK"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, strings.NewReader(tt.body))
			rec := doRouted(t, rt, req)
			assert.Equal(t, http.StatusOK, rec.Code)
			assert.Equal(t, tt.want, rec.Body.String())
		})
	}
}

func TestRoutedBodyLimit(t *testing.T) {
	rt := NewRouted(Options{MaxBodyBytes: 4}, nil, nil)

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader("0123456789"))
	rec := doRouted(t, rt, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestRoutedTruncatedBodyDropsConnection(t *testing.T) {
	metrics := NewMetrics()
	rt := NewRouted(Options{}, NewObserver(nil, metrics), nil)
	srv := httptest.NewServer(rt.Handler())
	defer srv.Close()

	conn, err := net.Dial("tcp", srv.Listener.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("POST /upload HTTP/1.1\r\nHost: a\r\nContent-Length: 100\r\n\r\nabc"))
	require.NoError(t, err)
	require.NoError(t, conn.(*net.TCPConn).CloseWrite())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	reply, _ := io.ReadAll(conn)
	assert.Empty(t, reply)

	assert.Eventually(t, func() bool {
		return metrics.Snapshot().TotalErrors == 1
	}, 5*time.Second, 10*time.Millisecond)
}

func TestRoutedBodyReadErrorAbortsHandler(t *testing.T) {
	metrics := NewMetrics()
	rt := NewRouted(Options{}, NewObserver(nil, metrics), nil)

	body := io.MultiReader(strings.NewReader("abc"), iotest.ErrReader(io.ErrUnexpectedEOF))
	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	rec := httptest.NewRecorder()

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		rt.Handler().ServeHTTP(rec, req)
	})
	assert.NotEqual(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, rec.Body.String())

	snap := metrics.Snapshot()
	assert.EqualValues(t, 1, snap.TotalErrors)
	assert.Zero(t, snap.InFlight)
}

func TestRoutedRecoveredPanicAnswers500(t *testing.T) {
	rt := NewRouted(Options{}, nil, nil)

	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)
	assert.False(t, canHijack(c.Writer))

	rt.recovered(c, "boom")
	c.Writer.WriteHeaderNow()
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	assert.PanicsWithValue(t, http.ErrAbortHandler, func() {
		rt.recovered(c, http.ErrAbortHandler)
	})
}
