package hdlc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mft/internal/mftio"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payload := []byte("<?xml version=\"1.0\"?><data size=\"4096\"/>")
	framed := Encode(payload)

	assert.Equal(t, FrameDelimiter, framed[0])
	assert.Equal(t, FrameDelimiter, framed[len(framed)-1])

	var d Decoder
	frames, errs := d.Feed(framed)
	require.Empty(t, errs)
	require.Len(t, frames, 1)
	assert.Equal(t, payload, frames[0])
}

func TestEncodeEscapesDelimiterAndEscapeBytes(t *testing.T) {
	payload := []byte{FrameDelimiter, EscapeByte, 0x01}
	framed := Encode(payload)

	var d Decoder
	frames, errs := d.Feed(framed)
	require.Empty(t, errs)
	require.Len(t, frames, 1)
	assert.Equal(t, payload, frames[0])
}

func TestDecodeMultipleFramesInOneFeed(t *testing.T) {
	a := Encode([]byte("frame-a"))
	b := Encode([]byte("frame-b"))

	var d Decoder
	frames, errs := d.Feed(append(a, b...))
	require.Empty(t, errs)
	require.Len(t, frames, 2)
	assert.Equal(t, []byte("frame-a"), frames[0])
	assert.Equal(t, []byte("frame-b"), frames[1])
}

func TestDecodeAcrossMultipleFeedCalls(t *testing.T) {
	framed := Encode([]byte("split-me"))

	var d Decoder
	mid := len(framed) / 2
	frames, errs := d.Feed(framed[:mid])
	assert.Empty(t, errs)
	assert.Empty(t, frames)

	frames, errs = d.Feed(framed[mid:])
	require.Empty(t, errs)
	require.Len(t, frames, 1)
	assert.Equal(t, []byte("split-me"), frames[0])
}

func TestDecodeBadCRCResyncsOnNextDelimiter(t *testing.T) {
	good := Encode([]byte("good-frame"))
	corrupt := Encode([]byte("bad-frame"))
	corrupt[3] ^= 0xFF // flip a payload byte, CRC no longer matches

	var d Decoder
	frames, errs := d.Feed(append(corrupt, good...))
	require.Len(t, errs, 1)
	assert.True(t, mftio.IsKind(errs[0], mftio.KindFraming))
	require.Len(t, frames, 1)
	assert.Equal(t, []byte("good-frame"), frames[0])
}

func TestDecodeTooShortFrame(t *testing.T) {
	var d Decoder
	_, errs := d.Feed([]byte{FrameDelimiter, 0x01, FrameDelimiter})
	require.Len(t, errs, 1)
	assert.True(t, mftio.IsKind(errs[0], mftio.KindFraming))
}

func TestDecodeIgnoresBytesBeforeFirstDelimiter(t *testing.T) {
	framed := Encode([]byte("payload"))
	noise := append([]byte{0x01, 0x02, 0x03}, framed...)

	var d Decoder
	frames, errs := d.Feed(noise)
	require.Empty(t, errs)
	require.Len(t, frames, 1)
	assert.Equal(t, []byte("payload"), frames[0])
}
