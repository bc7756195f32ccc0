package probe

import (
	"fmt"
	"net/http"
	"strings"
)

type Verdict string

const (
	Pass Verdict = "Pass"
	Fail Verdict = "Fail"
)

// Case is one conformance check: a raw request and a validator for its reply.
type Case struct {
	ID          string
	Description string
	Request     func(host string) string
	Check       func(r *Reply) (Verdict, string)
}

// Cases returns the built-in checks in the order they run.
func Cases() []Case {
	return []Case{
		{
			ID:          "COOKIE-ECHO",
			Description: "Cookie pairs are listed one per line",
			Request: func(host string) string {
				return "GET /cookie HTTP/1.1\r\nHost: " + host + "\r\nCookie: a=1; b=2\r\nConnection: close\r\n\r\n"
			},
			Check: expectBody("a=1\nb=2\n"),
		},
		{
			ID:          "COOKIE-EMPTY",
			Description: "No Cookie header yields an empty body",
			Request: func(host string) string {
				return "GET /cookie HTTP/1.1\r\nHost: " + host + "\r\nConnection: close\r\n\r\n"
			},
			Check: expectBody(""),
		},
		{
			ID:          "COOKIE-DROP",
			Description: "Segments without a name or an equals sign are dropped",
			Request: func(host string) string {
				return "GET /cookie HTTP/1.1\r\nHost: " + host + "\r\nCookie: a=1; junk; =x;  b= \r\nConnection: close\r\n\r\n"
			},
			Check: expectBody("a=1\nb=\n"),
		},
		{
			ID:          "ECHO-ORDER",
			Description: "Duplicate headers are echoed in arrival order",
			Request: func(host string) string {
				return "GET /echo HTTP/1.1\r\nHost: " + host + "\r\nX-Probe: 1\r\nX-Probe: 2\r\nConnection: close\r\n\r\n"
			},
			Check: func(r *Reply) (Verdict, string) {
				if v, note := expectStatus(r); v == Fail {
					return v, note
				}
				body := string(r.Body)
				first := strings.Index(body, "X-Probe: 1\n")
				second := strings.Index(body, "X-Probe: 2\n")
				if first < 0 || second < 0 {
					return Fail, "X-Probe lines missing from echo"
				}
				if second < first {
					return Fail, "X-Probe values out of order"
				}
				return Pass, fmt.Sprintf("%d header lines echoed", strings.Count(body, "\n"))
			},
		},
		{
			ID:          "POST-ECHO",
			Description: "A POST body is returned verbatim",
			Request: func(host string) string {
				return "POST /probe HTTP/1.1\r\nHost: " + host + "\r\nContent-Length: 11\r\nConnection: close\r\n\r\nhello world"
			},
			Check: expectBody("hello world"),
		},
		{
			ID:          "POST-CHUNKED",
			Description: "A chunked POST body is reassembled and returned",
			Request: func(host string) string {
				return "POST /probe HTTP/1.1\r\nHost: " + host + "\r\nTransfer-Encoding: chunked\r\nConnection: close\r\n\r\n" +
					"5\r\nhello\r\n6\r\n world\r\n0\r\n\r\n"
			},
			Check: expectBody("hello world"),
		},
		{
			ID:          "GET-OK",
			Description: "Any non-POST request to another path answers OK",
			Request: func(host string) string {
				return "GET /probe HTTP/1.1\r\nHost: " + host + "\r\nConnection: close\r\n\r\n"
			},
			Check: expectBody("OK"),
		},
		{
			ID:          "METHOD-CUSTOM",
			Description: "An unregistered method is accepted",
			Request: func(host string) string {
				return "PURGE /probe HTTP/1.1\r\nHost: " + host + "\r\nConnection: close\r\n\r\n"
			},
			Check: expectBody("OK"),
		},
	}
}

func expectStatus(r *Reply) (Verdict, string) {
	if r.Status != http.StatusOK {
		return Fail, fmt.Sprintf("status %d", r.Status)
	}
	if ct := r.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		return Fail, fmt.Sprintf("content type %q", ct)
	}
	return Pass, ""
}

func expectBody(want string) func(*Reply) (Verdict, string) {
	return func(r *Reply) (Verdict, string) {
		if v, note := expectStatus(r); v == Fail {
			return v, note
		}
		if got := string(r.Body); got != want {
			return Fail, fmt.Sprintf("body %q, want %q", got, want)
		}
		return Pass, fmt.Sprintf("%d bytes", len(r.Body))
	}
}
