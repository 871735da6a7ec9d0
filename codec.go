package elarasign

import (
	"bytes"
	"encoding/binary"
	"time"
)

// Signature record layout (all multi-byte integers big-endian):
//
//	[6]byte:  marker "ELARA3"
//	[1]byte:  version
//	[1]byte:  location id (0-4)
//	[32]byte: metaHash (SHA-256 of canonical metadata JSON)
//	[32]byte: contentHash (SHA-256 of raw content bytes)
//	[8]byte:  timestamp (uint64, ms since epoch)
//	[4]byte:  checksum (CRC-32 over bytes [0,80))
const (
	SignatureVersion = 3
	SignatureSize    = 84

	markerSize     = 6
	offVersion     = 6
	offLocation    = 7
	offMetaHash    = 8
	offContentHash = 40
	offTimestamp   = 72
	offChecksum    = 80
)

// Marker is the literal tag opening every v3 signature record.
var Marker = [markerSize]byte{'E', 'L', 'A', 'R', 'A', '3'}

// PackedSignature is the 84-byte binary signature record.
type PackedSignature struct {
	Data [SignatureSize]byte
}

// Bytes returns a copy of the packed record.
func (p PackedSignature) Bytes() []byte {
	return append([]byte(nil), p.Data[:]...)
}

// SignatureRecord is a decoded signature record.
type SignatureRecord struct {
	Version     uint8
	LocationID  uint8
	MetaHash    [32]byte
	ContentHash [32]byte
	Timestamp   uint64 // ms since epoch
	Checksum    uint32
	IsValid     bool // stored checksum matches the recomputed CRC-32
}

// Time returns the embedded timestamp as a time.Time.
func (r SignatureRecord) Time() time.Time {
	return time.UnixMilli(int64(r.Timestamp))
}

// Pack hashes metadataJSON and content and packs a record for locationID
// stamped with the current wall-clock time.
func Pack(metadataJSON string, content []byte, locationID uint8) PackedSignature {
	return PackHashes(sha256Full([]byte(metadataJSON)), sha256Full(content), locationID, time.Now())
}

// PackHashes packs a record from precomputed full-length hashes.
func PackHashes(metaHash, contentHash [32]byte, locationID uint8, ts time.Time) PackedSignature {
	var p PackedSignature
	buf := p.Data[:]

	copy(buf[:markerSize], Marker[:])
	buf[offVersion] = SignatureVersion
	buf[offLocation] = locationID
	copy(buf[offMetaHash:offContentHash], metaHash[:])
	copy(buf[offContentHash:offTimestamp], contentHash[:])
	binary.BigEndian.PutUint64(buf[offTimestamp:offChecksum], uint64(ts.UnixMilli()))
	binary.BigEndian.PutUint32(buf[offChecksum:], Checksum(buf[:offChecksum]))

	return p
}

// Unpack decodes a signature record from the start of data.
//
// It returns nil when data is shorter than SignatureSize or does not begin
// with Marker: neither case is an error, the bytes are simply not a
// signature. A record whose checksum does not match is returned with
// IsValid set to false.
func Unpack(data []byte) *SignatureRecord {
	if len(data) < SignatureSize {
		return nil
	}
	if !bytes.Equal(data[:markerSize], Marker[:]) {
		return nil
	}

	r := &SignatureRecord{
		Version:    data[offVersion],
		LocationID: data[offLocation],
		Timestamp:  binary.BigEndian.Uint64(data[offTimestamp:offChecksum]),
		Checksum:   binary.BigEndian.Uint32(data[offChecksum:SignatureSize]),
	}
	copy(r.MetaHash[:], data[offMetaHash:offContentHash])
	copy(r.ContentHash[:], data[offContentHash:offTimestamp])
	r.IsValid = Checksum(data[:offChecksum]) == r.Checksum
	return r
}
