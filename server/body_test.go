package server

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollectBodyBuffered(t *testing.T) {
	body, err := CollectBody(context.Background(), Buffered("hello world"), 0)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(body))
}

func TestCollectBodyNilSourceIsEmpty(t *testing.T) {
	body, err := CollectBody(context.Background(), nil, 0)
	require.NoError(t, err)
	assert.NotNil(t, body)
	assert.Empty(t, body)
}

func TestCollectBodyStreamedConcatenatesInOrder(t *testing.T) {
	src := NewStreamed(chunkSource("hel", "lo", " ", "world"))

	body, err := CollectBody(context.Background(), src, 11)
	require.NoError(t, err)
	assert.Equal(t, "hello world", string(body))
}

func TestCollectBodyStreamedIgnoresChunkBoundaries(t *testing.T) {
	const payload = "the quick brown fox jumps over the lazy dog"

	splits := [][]string{
		{payload},
		strings.SplitAfter(payload, " "),
		strings.Split(payload, ""),
		{"", payload[:10], "", payload[10:], ""},
	}

	for _, chunks := range splits {
		body, err := CollectBody(context.Background(), NewStreamed(chunkSource(chunks...)), 0)
		require.NoError(t, err)
		assert.Equal(t, payload, string(body))
	}
}

func TestCollectBodyStreamedZeroChunks(t *testing.T) {
	body, err := CollectBody(context.Background(), NewStreamed(chunkSource()), 0)
	require.NoError(t, err)
	assert.NotNil(t, body)
	assert.Empty(t, body)
}

func TestCollectBodyTerminalChunkCarriesData(t *testing.T) {
	calls := 0
	src := NewStreamed(func(ctx context.Context) (Chunk, error) {
		calls++
		if calls == 1 {
			return Chunk{Data: []byte("ab"), More: true}, nil
		}
		return Chunk{Data: []byte("cd"), More: false}, nil
	})

	body, err := CollectBody(context.Background(), src, 0)
	require.NoError(t, err)
	assert.Equal(t, "abcd", string(body))
	assert.Equal(t, 2, calls)
}

func TestCollectBodyStreamedFromPipe(t *testing.T) {
	receive, pw := pipeSource(t)

	go func() {
		for _, part := range []string{"first,", "second,", "third"} {
			_, _ = pw.Write([]byte(part))
		}
		_ = pw.Close()
	}()

	body, err := CollectBody(context.Background(), NewStreamed(receive), 0)
	require.NoError(t, err)
	assert.Equal(t, "first,second,third", string(body))
}

func TestCollectBodyTruncatedConnection(t *testing.T) {
	receive, pw := pipeSource(t)

	go func() {
		_, _ = pw.Write([]byte("partial"))
		_ = pw.CloseWithError(io.ErrClosedPipe)
	}()

	body, err := CollectBody(context.Background(), NewStreamed(receive), 0)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrTruncatedStream)
	assert.ErrorIs(t, err, io.ErrClosedPipe)
	assert.Nil(t, body, "partial body must not be returned")
}

func TestCollectBodyEOFBeforeTerminalMarker(t *testing.T) {
	calls := 0
	src := NewStreamed(func(ctx context.Context) (Chunk, error) {
		calls++
		if calls == 1 {
			return Chunk{Data: []byte("abc"), More: true}, nil
		}
		return Chunk{}, io.EOF
	})

	_, err := CollectBody(context.Background(), src, 0)
	assert.ErrorIs(t, err, ErrTruncatedStream)
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestCollectBodyCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	src := NewStreamed(func(ctx context.Context) (Chunk, error) {
		cancel()
		return Chunk{Data: []byte("x"), More: true}, nil
	})

	_, err := CollectBody(ctx, src, 0)
	assert.ErrorIs(t, err, ErrTruncatedStream)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCollectBodyDrainsOnce(t *testing.T) {
	src := NewStreamed(chunkSource("a", "b"))

	body, err := CollectBody(context.Background(), src, 0)
	require.NoError(t, err)
	assert.Equal(t, "ab", string(body))

	_, err = CollectBody(context.Background(), src, 0)
	assert.ErrorIs(t, err, ErrBodyDrained)
}

func TestCollectBodyConcurrentDrainRejected(t *testing.T) {
	release := make(chan struct{})
	src := NewStreamed(func(ctx context.Context) (Chunk, error) {
		<-release
		return Chunk{}, nil
	})

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := CollectBody(context.Background(), src, 0)
			errs <- err
		}()
	}

	// One of the drains is rejected without touching the receiver; the other
	// is parked in it until released.
	first := <-errs
	close(release)
	wg.Wait()
	second := <-errs

	assert.ErrorIs(t, first, ErrBodyDrained)
	assert.NoError(t, second)
}

func TestCollectBodyUnknownSource(t *testing.T) {
	_, err := CollectBody(context.Background(), fakeSource{}, 0)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrTruncatedStream))
}

type fakeSource struct{}

func (fakeSource) bodySource() {}

func TestParseContentLength(t *testing.T) {
	cases := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"0", 0},
		{"11", 11},
		{" 42 ", 42},
		{"abc", 0},
		{"-1", 0},
		{"1.5", 0},
		{"99999999999999999999999", 0},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, ParseContentLength(tc.in), "input %q", tc.in)
	}
}
