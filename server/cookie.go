package server

import (
	"bytes"
	"strings"
)

// FormatCookies renders a raw Cookie header as one "name=value\n" line per
// pair. Segments without '=' or with an empty name are dropped. The value is
// kept verbatim, including any further '='.
func FormatCookies(raw *string) []byte {
	var b bytes.Buffer
	if raw == nil {
		return b.Bytes()
	}

	for _, pair := range strings.Split(*raw, ";") {
		pair = strings.TrimSpace(pair)
		if eq := strings.IndexByte(pair, '='); eq > 0 {
			b.WriteString(pair[:eq])
			b.WriteByte('=')
			b.WriteString(pair[eq+1:])
			b.WriteByte('\n')
		}
	}
	return b.Bytes()
}
