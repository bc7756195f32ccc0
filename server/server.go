package server

import (
	"context"
	"net/http"
	"strings"
)

// Fixed endpoints. Every other path is a generic echo.
const (
	CookiePath = "/cookie"
	EchoPath   = "/echo"
)

const contentTypeText = "text/plain"

// NewResponse returns a 200 text/plain response carrying body.
func NewResponse(body []byte) *Response {
	return &Response{
		Status:  http.StatusOK,
		Headers: []Header{{Name: "Content-Type", Value: contentTypeText}},
		Body:    body,
	}
}

// Route dispatches a request to its echo endpoint by exact path match.
// It keeps no state between calls and is safe for concurrent use.
func Route(ctx context.Context, v *RequestView) (*Response, error) {
	switch v.Path {
	case CookiePath:
		return CookieEcho(v), nil
	case EchoPath:
		return HeaderEcho(v), nil
	default:
		return GenericEcho(ctx, v)
	}
}

// CookieEcho lists the request's cookies, one "name=value" per line.
func CookieEcho(v *RequestView) *Response {
	return NewResponse(FormatCookies(v.Cookie))
}

// HeaderEcho lists the request headers followed by any synthetic headers.
func HeaderEcho(v *RequestView) *Response {
	return NewResponse(FormatHeaders(v.Headers, v.Synthetic))
}

// GenericEcho returns a POST body verbatim and "OK" for every other method.
// It fails only when a streamed body is cut short.
func GenericEcho(ctx context.Context, v *RequestView) (*Response, error) {
	if v.Method != http.MethodPost {
		return NewResponse([]byte("OK")), nil
	}

	body, err := CollectBody(ctx, v.Body, declaredLength(v))
	if err != nil {
		return nil, err
	}
	return NewResponse(body), nil
}

// declaredLength is the request's Content-Length, zero when absent or
// malformed.
func declaredLength(v *RequestView) int {
	for _, list := range [][]Header{v.Headers, v.Synthetic} {
		for _, h := range list {
			if strings.EqualFold(h.Name, "Content-Length") {
				return ParseContentLength(h.Value)
			}
		}
	}
	return 0
}
