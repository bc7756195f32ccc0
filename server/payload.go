package server

// Header is a single header line. Order and duplicates are significant, so
// headers travel as a slice of pairs and never as a map.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// RequestView is the read-only projection of an inbound request that the
// echo logic works on. An adapter builds one per request and drops it once the
// response is written.
type RequestView struct {
	Method  string
	Path    string
	Headers []Header

	// Cookie is the raw Cookie header, nil when the request carried none.
	Cookie *string

	// Synthetic holds headers the transport surfaces outside the main header
	// list. They are echoed after Headers.
	Synthetic []Header

	Body BodySource
}

// Response is what every echo endpoint produces.
type Response struct {
	Status  int
	Headers []Header
	Body    []byte
}

// Frame types of the streaming frame protocol.
const (
	FrameHeaders = "headers"
	FrameChunk   = "chunk"
	FrameEnd     = "end"
	FrameError   = "error"
)

// StreamFrame is one message of the framed streaming protocol.
type StreamFrame struct {
	Type    string   `json:"type"`              // "headers", "chunk", "end", "error"
	Method  string   `json:"method,omitempty"`  // request headers frame only
	Path    string   `json:"path,omitempty"`    // request headers frame only
	Status  int      `json:"status,omitempty"`  // response headers frame only
	Headers []Header `json:"headers,omitempty"` // only for headers
	Data    []byte   `json:"data,omitempty"`    // for chunk
	Error   string   `json:"error,omitempty"`   // optional error message
}
