// Package probe checks a running echo fixture over raw TCP. Requests are
// written byte for byte so framing and header layout reach the server
// exactly as the case spells them out.
package probe

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"
)

// ErrNoResponse is returned when the server closed the connection without
// answering.
var ErrNoResponse = errors.New("connection closed without a response")

// Reply is a parsed response.
type Reply struct {
	Status int
	Header http.Header
	Body   []byte
}

type Client struct {
	Addr           string
	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
}

func NewClient(addr string) *Client {
	return &Client{
		Addr:           addr,
		ConnectTimeout: 5 * time.Second,
		ReadTimeout:    5 * time.Second,
	}
}

// Do sends raw on a fresh connection and reads one response.
func (c *Client) Do(ctx context.Context, raw []byte) (*Reply, error) {
	d := net.Dialer{Timeout: c.ConnectTimeout}
	conn, err := d.DialContext(ctx, "tcp", c.Addr)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", c.Addr, err)
	}
	defer conn.Close()

	deadline := time.Now().Add(c.ReadTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	if err := conn.SetDeadline(deadline); err != nil {
		return nil, err
	}

	if _, err := conn.Write(raw); err != nil {
		return nil, fmt.Errorf("send: %w", err)
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), nil)
	if err != nil {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, ErrNoResponse
		}
		return nil, fmt.Errorf("read response: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return &Reply{Status: resp.StatusCode, Header: resp.Header, Body: body}, nil
}

// Host is the Host header value for requests to the client's target.
func (c *Client) Host() string {
	host, port, err := net.SplitHostPort(c.Addr)
	if err != nil {
		return c.Addr
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return net.JoinHostPort(host, port)
}
