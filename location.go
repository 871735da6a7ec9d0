package elarasign

import "image"

// Location identifies one of the five signature regions.
type Location uint8

const (
	TopLeft Location = iota
	TopRight
	BottomLeft
	BottomRight
	Center
)

// NumLocations is the number of redundant signature regions.
const NumLocations = 5

const (
	blockLong  = 48
	blockShort = 4

	// LocationCapacity is the payload size of one region: 48×4 pixels at
	// two pixels per byte. 84 bytes carry the record, 12 stay zero.
	LocationCapacity = blockLong * blockShort / 2

	// MinImageSize is the smallest square image carrying all five regions
	// without overlap.
	MinImageSize = 2 * blockLong
)

// Locations lists every region in id order.
var Locations = [NumLocations]Location{TopLeft, TopRight, BottomLeft, BottomRight, Center}

var locationNames = [NumLocations]string{"top-left", "top-right", "bottom-left", "bottom-right", "center"}

func (l Location) String() string {
	if int(l) < len(locationNames) {
		return locationNames[l]
	}
	return "unknown"
}

// ID returns the location id written into signature records.
func (l Location) ID() uint8 { return uint8(l) }

// Rect returns the region of a w×h image covered by l. The rectangle may
// extend past the image bounds; use Fits to check.
func (l Location) Rect(w, h int) image.Rectangle {
	var x, y, bw, bh int
	switch l {
	case TopLeft:
		x, y, bw, bh = 0, 0, blockLong, blockShort
	case TopRight:
		x, y, bw, bh = w-blockShort, 0, blockShort, blockLong
	case BottomLeft:
		x, y, bw, bh = 0, h-blockLong, blockShort, blockLong
	case BottomRight:
		x, y, bw, bh = w-blockLong, h-blockShort, blockLong, blockShort
	case Center:
		x, y, bw, bh = (w-blockLong)/2, (h-blockShort)/2, blockLong, blockShort
	default:
		return image.Rectangle{}
	}
	return image.Rect(x, y, x+bw, y+bh)
}

// Fits reports whether the region lies entirely inside a w×h image.
func (l Location) Fits(w, h int) bool {
	r := l.Rect(w, h)
	return !r.Empty() && r.In(image.Rect(0, 0, w, h))
}

// usableLocations returns the regions that fit a w×h image without
// overlapping a region earlier in id order.
func usableLocations(w, h int) []Location {
	var out []Location
	var taken []image.Rectangle
	for _, l := range Locations {
		if !l.Fits(w, h) {
			continue
		}
		r := l.Rect(w, h)
		overlap := false
		for _, t := range taken {
			if r.Overlaps(t) {
				overlap = true
				break
			}
		}
		if overlap {
			continue
		}
		taken = append(taken, r)
		out = append(out, l)
	}
	return out
}
