package server

import (
	"context"
	"io"
	"testing"
)

// chunkSource delivers the given chunks in order and then the terminal marker.
func chunkSource(chunks ...string) ReceiveFunc {
	i := 0
	return func(ctx context.Context) (Chunk, error) {
		if i >= len(chunks) {
			return Chunk{}, nil
		}
		c := Chunk{Data: []byte(chunks[i]), More: true}
		i++
		return c, nil
	}
}

// pipeSource returns a ReceiveFunc fed by an io.Pipe. Every Write on the
// returned writer becomes one chunk; Close is the terminal marker and
// CloseWithError simulates the connection going away.
func pipeSource(t *testing.T) (ReceiveFunc, *io.PipeWriter) {
	t.Helper()

	pr, pw := io.Pipe()
	t.Cleanup(func() { _ = pr.Close() })

	buf := make([]byte, 64)
	return func(ctx context.Context) (Chunk, error) {
		n, err := pr.Read(buf)
		if err == io.EOF {
			return Chunk{}, nil
		}
		if err != nil {
			return Chunk{}, err
		}
		data := make([]byte, n)
		copy(data, buf[:n])
		return Chunk{Data: data, More: true}, nil
	}, pw
}

func strPtr(s string) *string { return &s }
