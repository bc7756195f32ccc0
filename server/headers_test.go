package server

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatHeadersKeepsDuplicatesInOrder(t *testing.T) {
	got := FormatHeaders([]Header{{"X", "1"}, {"X", "2"}})
	assert.Equal(t, "X: 1\nX: 2\n", string(got))
}

func TestFormatHeadersPreservesArrivalOrderAndCase(t *testing.T) {
	got := FormatHeaders([]Header{
		{"host", "example.com"},
		{"X-lower-Mixed", "a"},
		{"Accept", "*/*"},
		{"X-lower-Mixed", "b"},
	})
	assert.Equal(t, "host: example.com\nX-lower-Mixed: a\nAccept: */*\nX-lower-Mixed: b\n", string(got))
}

func TestFormatHeadersAppendsSyntheticLast(t *testing.T) {
	got := FormatHeaders(
		[]Header{{"Host", "h"}},
		[]Header{{"Content-Type", "text/plain"}, {"Content-Length", "5"}},
	)
	assert.Equal(t, "Host: h\nContent-Type: text/plain\nContent-Length: 5\n", string(got))
}

func TestFormatHeadersEmpty(t *testing.T) {
	assert.Empty(t, FormatHeaders(nil))
	assert.Empty(t, FormatHeaders(nil, nil))
}

func TestFormatHeadersEmptyValue(t *testing.T) {
	assert.Equal(t, "X-Empty: \n", string(FormatHeaders([]Header{{"X-Empty", ""}})))
}
