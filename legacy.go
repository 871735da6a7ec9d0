package elarasign

import (
	"bytes"
	"encoding/binary"
	"time"
)

// Legacy v1 record, written by the first generation of the signer as a
// single block at the top-left region:
//
//	[6]byte:  marker "ELARA1"
//	[1]byte:  version (1)
//	[16]byte: metaHash truncated to 16 bytes
//	[8]byte:  timestamp (uint64, ms since epoch)
//	[4]byte:  CRC-32 over bytes [0,31)
const (
	LegacyVersion = 1
	LegacySize    = 35

	legacyOffMeta     = 7
	legacyOffTime     = 23
	legacyOffChecksum = 31
	legacyHashSize    = 16
)

// LegacyMarker opens every v1 record.
var LegacyMarker = [markerSize]byte{'E', 'L', 'A', 'R', 'A', '1'}

// LegacyRecord is a decoded v1 record.
type LegacyRecord struct {
	MetaHash  [legacyHashSize]byte
	Timestamp uint64
	IsValid   bool
}

// Time returns the embedded timestamp.
func (r LegacyRecord) Time() time.Time {
	return time.UnixMilli(int64(r.Timestamp))
}

// UnpackLegacy decodes a v1 record. Like Unpack it returns nil for input
// that is too short or carries the wrong marker.
func UnpackLegacy(data []byte) *LegacyRecord {
	if len(data) < LegacySize || !bytes.Equal(data[:markerSize], LegacyMarker[:]) {
		return nil
	}
	r := &LegacyRecord{Timestamp: binary.BigEndian.Uint64(data[legacyOffTime:legacyOffChecksum])}
	copy(r.MetaHash[:], data[legacyOffMeta:legacyOffTime])
	r.IsValid = data[markerSize] == LegacyVersion &&
		Checksum(data[:legacyOffChecksum]) == binary.BigEndian.Uint32(data[legacyOffChecksum:LegacySize])
	return r
}

// Format tags which signature generation Detect recognized.
type Format int

const (
	FormatNone Format = iota
	FormatLegacyV1
	FormatV3
)

func (f Format) String() string {
	switch f {
	case FormatV3:
		return "v3"
	case FormatLegacyV1:
		return "v1"
	default:
		return "none"
	}
}

// Detection is the result of Detect. Exactly one of V3 and Legacy is
// set, matching Format, unless Format is FormatNone.
type Detection struct {
	Format Format
	V3     *VerificationResult
	Legacy *LegacyRecord
}

// Detect tries the v3 multi-location parse first and falls back to the
// legacy single-block parse only when no v3 location is valid.
func (v *Verifier) Detect(buf *PixelBuffer) Detection {
	res := v.Verify(buf, nil)
	if res.IsValid {
		return Detection{Format: FormatV3, V3: &res}
	}
	if buf.Validate() != nil {
		return Detection{}
	}
	raw, ok := ExtractAt(buf, TopLeft)
	if !ok {
		return Detection{}
	}
	if rec := UnpackLegacy(raw); rec != nil && rec.IsValid {
		v.log.Debug("legacy signature detected")
		return Detection{Format: FormatLegacyV1, Legacy: rec}
	}
	return Detection{}
}

// Detect runs the default verifier's Detect.
func Detect(buf *PixelBuffer) Detection {
	return defaultVerifier.Detect(buf)
}
