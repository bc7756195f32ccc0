package server

import "bytes"

// FormatHeaders renders headers as "Name: value\n" lines in the given order,
// duplicates included. No headers means an empty body.
func FormatHeaders(headers ...[]Header) []byte {
	var b bytes.Buffer
	for _, list := range headers {
		for _, h := range list {
			b.WriteString(h.Name)
			b.WriteString(": ")
			b.WriteString(h.Value)
			b.WriteByte('\n')
		}
	}
	return b.Bytes()
}
