package elarasign

import (
	"crypto/sha256"
	"encoding/hex"
	"hash/crc32"
)

// Checksum returns the IEEE 802.3 CRC-32 of data (init 0xFFFFFFFF,
// final XOR 0xFFFFFFFF, reflected polynomial 0xEDB88320).
func Checksum(data []byte) uint32 {
	return crc32.ChecksumIEEE(data)
}

// SHA256Hex returns the lowercase hex SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// SHA256Bytes returns the first n bytes of the SHA-256 digest of data.
// n is clamped to [0, 32]. Signature records always request the full 32.
func SHA256Bytes(data []byte, n int) []byte {
	sum := sha256.Sum256(data)
	if n < 0 {
		n = 0
	}
	if n > sha256.Size {
		n = sha256.Size
	}
	out := make([]byte, n)
	copy(out, sum[:n])
	return out
}

func sha256Full(data []byte) [32]byte {
	return sha256.Sum256(data)
}
