package elarasign

import (
	"bytes"
	"image"
	"math/rand"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func randomBuffer(t *testing.T, w, h int, seed int64) *PixelBuffer {
	t.Helper()
	buf := NewPixelBuffer(w, h)
	rng := rand.New(rand.NewSource(seed))
	_, err := rng.Read(buf.Pix)
	require.NoError(t, err)
	return buf
}

func TestLocationGeometry(t *testing.T) {
	tests := []struct {
		loc  Location
		name string
		want image.Rectangle
	}{
		{TopLeft, "top-left", image.Rect(0, 0, 48, 4)},
		{TopRight, "top-right", image.Rect(196, 0, 200, 48)},
		{BottomLeft, "bottom-left", image.Rect(0, 102, 4, 150)},
		{BottomRight, "bottom-right", image.Rect(152, 146, 200, 150)},
		{Center, "center", image.Rect(76, 73, 124, 77)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.name, tt.loc.String())
			assert.Equal(t, tt.want, tt.loc.Rect(200, 150))
			assert.True(t, tt.loc.Fits(200, 150))
			assert.Equal(t, LocationCapacity*2, tt.want.Dx()*tt.want.Dy())
		})
	}
	assert.Equal(t, "unknown", Location(9).String())
}

func TestLocationsDisjointAtMinimumSize(t *testing.T) {
	for _, size := range []image.Point{{96, 96}, {200, 200}, {97, 300}, {1024, 96}} {
		usable := usableLocations(size.X, size.Y)
		require.Len(t, usable, NumLocations, "size %v", size)
		for i, a := range Locations {
			for _, b := range Locations[i+1:] {
				assert.False(t, a.Rect(size.X, size.Y).Overlaps(b.Rect(size.X, size.Y)),
					"%s overlaps %s at %v", a, b, size)
			}
		}
	}
}

func TestEmbedAtExtractAt(t *testing.T) {
	buf := randomBuffer(t, 200, 200, 1)
	orig := append([]byte(nil), buf.Pix...)

	payload := make([]byte, LocationCapacity)
	for i := range payload {
		payload[i] = byte(i*37 + 11)
	}

	for _, l := range Locations {
		require.True(t, EmbedAt(buf, l, payload))
		got, ok := ExtractAt(buf, l)
		require.True(t, ok)
		assert.Equal(t, payload, got, l.String())
	}

	for i := range buf.Pix {
		if i%BytesPerPixel != blueChannel {
			assert.Equal(t, orig[i], buf.Pix[i], "channel byte %d changed", i)
			continue
		}
		assert.Equal(t, orig[i]&0xF0, buf.Pix[i]&0xF0, "high nibble of byte %d changed", i)
		diff := int(orig[i]) - int(buf.Pix[i])
		assert.LessOrEqual(t, diff*diff, 15*15)
	}
}

func TestEmbedAtPadsShortPayload(t *testing.T) {
	buf := NewPixelBuffer(100, 100)
	require.True(t, EmbedAt(buf, Center, []byte{0xAB}))
	got, ok := ExtractAt(buf, Center)
	require.True(t, ok)
	assert.Equal(t, byte(0xAB), got[0])
	assert.Equal(t, make([]byte, LocationCapacity-1), got[1:])
}

func TestEmbedAtOutOfBounds(t *testing.T) {
	buf := NewPixelBuffer(40, 40)
	before := append([]byte(nil), buf.Pix...)
	for _, l := range Locations {
		assert.False(t, EmbedAt(buf, l, []byte{1, 2, 3}))
		_, ok := ExtractAt(buf, l)
		assert.False(t, ok)
	}
	assert.Equal(t, before, buf.Pix)
}

func TestEmbedSignatureInPlace(t *testing.T) {
	buf := randomBuffer(t, 200, 200, 2)
	pix := buf.Pix

	out, locs, err := EmbedSignature(buf, `{"generator":"test"}`, []byte("content"))
	require.NoError(t, err)
	assert.Same(t, buf, out)
	assert.Same(t, &pix[0], &out.Pix[0])
	assert.Equal(t, Locations[:], locs)

	for _, l := range Locations {
		raw, ok := ExtractAt(buf, l)
		require.True(t, ok)
		rec := Unpack(raw)
		require.NotNil(t, rec)
		assert.True(t, rec.IsValid)
		assert.Equal(t, l.ID(), rec.LocationID)
		assert.Equal(t, make([]byte, LocationCapacity-SignatureSize), raw[SignatureSize:])
	}
}

func TestEmbedSignatureTooSmall(t *testing.T) {
	buf := NewPixelBuffer(40, 40)
	_, _, err := EmbedSignature(buf, "{}", nil)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrImageTooSmall))
	assert.NotEmpty(t, errors.GetAllHints(err))
}

func TestEmbedSignatureReducedRedundancy(t *testing.T) {
	// A 48x4 strip only fits the top-left block; the other horizontal
	// blocks land on the same pixels and are skipped.
	buf := NewPixelBuffer(48, 4)
	_, locs, err := EmbedSignature(buf, "{}", []byte("c"))
	require.NoError(t, err)
	assert.Equal(t, []Location{TopLeft}, locs)
	assert.True(t, HasSignature(buf))
}

func TestEmbedSignatureInvalidBuffer(t *testing.T) {
	buf := &PixelBuffer{Pix: make([]byte, 10), Width: 100, Height: 100}
	_, _, err := EmbedSignature(buf, "{}", nil)
	assert.True(t, errors.Is(err, ErrInvalidBuffer))
}

func TestPNGRoundTripKeepsSignature(t *testing.T) {
	buf := randomBuffer(t, 120, 120, 3)
	for i := BytesPerPixel - 1; i < len(buf.Pix); i += BytesPerPixel {
		buf.Pix[i] = 0xFF // opaque, so NRGBA survives PNG unchanged
	}
	_, _, err := EmbedSignature(buf, "{}", []byte("c"))
	require.NoError(t, err)

	var enc bytes.Buffer
	require.NoError(t, EncodePNG(&enc, buf))
	back, err := DecodePNG(&enc)
	require.NoError(t, err)

	assert.Equal(t, buf.Pix, back.Pix)
	assert.True(t, HasSignature(back))
}

func TestEmbedAtMalformedBuffer(t *testing.T) {
	buf := &PixelBuffer{Pix: make([]byte, 16), Width: 200, Height: 200}
	for _, l := range Locations {
		assert.NotPanics(t, func() {
			assert.False(t, EmbedAt(buf, l, []byte{1}))
			_, ok := ExtractAt(buf, l)
			assert.False(t, ok)
		}, l.String())
	}
	assert.Equal(t, make([]byte, 16), buf.Pix)
	assert.False(t, HasSignature(buf))
}
