package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync/atomic"
)

var (
	// ErrTruncatedStream is returned when a streamed body ends before its
	// terminal marker was observed.
	ErrTruncatedStream = errors.New("stream truncated before terminal marker")

	// ErrBodyDrained is returned when a streamed body is collected twice.
	ErrBodyDrained = errors.New("streamed body already drained")
)

// maxSizeHint caps how much a declared length may preallocate.
const maxSizeHint = 1 << 20

// BodySource is either Buffered or *Streamed.
type BodySource interface {
	bodySource()
}

// Buffered is a body that is fully available up front.
type Buffered []byte

func (Buffered) bodySource() {}

// Chunk is one delivery of a streamed body. More == false is the terminal
// marker; a terminal chunk may still carry data.
type Chunk struct {
	Data []byte
	More bool
}

// ReceiveFunc blocks until the transport delivers the next chunk.
type ReceiveFunc func(ctx context.Context) (Chunk, error)

// Streamed is a body delivered incrementally by the transport. It can be
// drained exactly once.
type Streamed struct {
	receive ReceiveFunc
	drained atomic.Bool
}

// NewStreamed wraps a transport receive primitive.
func NewStreamed(receive ReceiveFunc) *Streamed {
	return &Streamed{receive: receive}
}

func (*Streamed) bodySource() {}

// CollectBody returns the complete body of src. sizeHint is the declared
// body length, if any, and only affects preallocation.
func CollectBody(ctx context.Context, src BodySource, sizeHint int) ([]byte, error) {
	switch s := src.(type) {
	case nil:
		return []byte{}, nil
	case Buffered:
		return []byte(s), nil
	case *Streamed:
		return s.drain(ctx, sizeHint)
	default:
		return nil, fmt.Errorf("unsupported body source %T", src)
	}
}

func (s *Streamed) drain(ctx context.Context, sizeHint int) ([]byte, error) {
	if !s.drained.CompareAndSwap(false, true) {
		return nil, ErrBodyDrained
	}

	buf := bytes.NewBuffer(make([]byte, 0, min(max(sizeHint, 0), maxSizeHint)))

	for {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTruncatedStream, err)
		}

		chunk, err := s.receive(ctx)
		if err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return nil, fmt.Errorf("%w: %w", ErrTruncatedStream, err)
		}

		buf.Write(chunk.Data)
		if !chunk.More {
			return buf.Bytes(), nil
		}
	}
}

// ParseContentLength parses a declared body length. Anything that is not a
// non-negative integer is treated as zero.
func ParseContentLength(v string) int {
	n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
	if err != nil || n < 0 || n > int64(^uint(0)>>1) {
		return 0
	}
	return int(n)
}
