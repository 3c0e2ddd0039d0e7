package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalMapRoundTrip(t *testing.T) {
	m := LocalMap{
		Width: 64, Height: 32,
		NW:     Corner{X: -1.5, Y: 2.25},
		NE:     Corner{X: 1.5, Y: 2.25},
		SW:     Corner{X: -1.5, Y: -2.25},
		Pixels: []byte{1, 2, 3, 4, 5, 6, 7, 8},
	}

	got, err := DecodeLocalMap(EncodeLocalMap(m))
	require.NoError(t, err)
	assert.Equal(t, m.Width, got.Width)
	assert.Equal(t, m.Height, got.Height)
	assert.Equal(t, m.NW, got.NW)
	assert.Equal(t, m.NE, got.NE)
	assert.Equal(t, m.SW, got.SW)
	assert.Equal(t, m.Pixels, got.Pixels)
}

func TestLocalMapPixelTailUnvalidated(t *testing.T) {
	// width*height wildly disagrees with the pixel tail length; the codec
	// must not reject it (spec §4.C: the producer is trusted).
	m := LocalMap{Width: 9999, Height: 9999, Pixels: []byte{0xAA}}
	got, err := DecodeLocalMap(EncodeLocalMap(m))
	require.NoError(t, err)
	assert.Equal(t, m.Pixels, got.Pixels)
}
