package elarasign

import (
	"time"

	"github.com/cockroachdb/errors"
)

const lowNibble = 0x0F

// EmbedAt writes payload into the blue-channel low nibbles of region l.
// payload is zero-padded to LocationCapacity; longer payloads are truncated.
// It reports false, writing nothing, when buf is malformed or l does not
// fit the image.
func EmbedAt(buf *PixelBuffer, l Location, payload []byte) bool {
	if buf.Validate() != nil || !l.Fits(buf.Width, buf.Height) {
		return false
	}
	var block [LocationCapacity]byte
	copy(block[:], payload)

	r := l.Rect(buf.Width, buf.Height)
	p := 0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			b := block[p/2]
			var nib byte
			if p%2 == 0 {
				nib = b >> 4
			} else {
				nib = b & lowNibble
			}
			off := buf.offset(x, y, blueChannel)
			buf.Pix[off] = buf.Pix[off]&^lowNibble | nib
			p++
		}
	}
	return true
}

// ExtractAt reads the LocationCapacity bytes stored in region l. It
// reports false when buf is malformed or l does not fit the image.
func ExtractAt(buf *PixelBuffer, l Location) ([]byte, bool) {
	if buf.Validate() != nil || !l.Fits(buf.Width, buf.Height) {
		return nil, false
	}
	out := make([]byte, LocationCapacity)

	r := l.Rect(buf.Width, buf.Height)
	p := 0
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			nib := buf.Pix[buf.offset(x, y, blueChannel)] & lowNibble
			if p%2 == 0 {
				out[p/2] = nib << 4
			} else {
				out[p/2] |= nib
			}
			p++
		}
	}
	return out, true
}

// EmbedSignature packs and embeds a fresh signature at every usable
// location of buf, mutating buf in place and returning the same pointer
// together with the locations written. Each location gets its own record
// and its own timestamp.
//
// It fails with ErrImageTooSmall when no location fits.
func EmbedSignature(buf *PixelBuffer, metadataJSON string, content []byte) (*PixelBuffer, []Location, error) {
	return embedHashes(buf, sha256Full([]byte(metadataJSON)), sha256Full(content), time.Now)
}

// planEmbed returns the locations embedHashes will write, without
// touching buf.
func planEmbed(buf *PixelBuffer) ([]Location, error) {
	if err := buf.Validate(); err != nil {
		return nil, err
	}
	usable := usableLocations(buf.Width, buf.Height)
	if len(usable) == 0 {
		return nil, errors.WithHintf(ErrImageTooSmall,
			"got %dx%d, need at least %dx%d for one location and %dx%d for all five",
			buf.Width, buf.Height, blockLong, blockShort, MinImageSize, MinImageSize)
	}
	return usable, nil
}

// writeHashes packs a fresh record per location, calling now once each.
func writeHashes(buf *PixelBuffer, locs []Location, metaHash, contentHash [32]byte, now func() time.Time) {
	for _, l := range locs {
		sig := PackHashes(metaHash, contentHash, l.ID(), now())
		EmbedAt(buf, l, sig.Data[:])
	}
}

func embedHashes(buf *PixelBuffer, metaHash, contentHash [32]byte, now func() time.Time) (*PixelBuffer, []Location, error) {
	usable, err := planEmbed(buf)
	if err != nil {
		return buf, nil, err
	}
	writeHashes(buf, usable, metaHash, contentHash, now)
	return buf, usable, nil
}
