package elarasign

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net/netip"
	"regexp"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// Accountability record layout (plaintext, 32 bytes, big-endian):
//
//	[4]byte:  timestamp (Unix seconds)
//	[8]byte:  user fingerprint (truncated SHA-256)
//	[4]byte:  IPv4 address or zero
//	[2]byte:  platform code
//	[10]byte: reserved, zero
//	[4]byte:  CRC-32 over bytes [0,28)
//
// The ciphertext is AES-256-CBC over exactly these two blocks, no padding,
// with an IV derived from (timestamp, platform, salt) and never stored.
const (
	ForensicSize = 32

	offFPrint    = 4
	offIP        = 12
	offPlatform  = 16
	offReserved  = 18
	offAcctCRC   = 28
	fprintSize   = 8
	ivDomain     = "elarasign-forensic-iv"
	searchWindow = 10
)

// MasterKey is the long-lived AES-256 key authorizing forensic recovery.
// It is supplied once per deployment and never rotated by this package.
type MasterKey [32]byte

var masterKeyPattern = regexp.MustCompile(`(?i)^[a-f0-9]{64}$`)

// ParseMasterKey validates and decodes a 64-character hex key.
func ParseMasterKey(s string) (MasterKey, error) {
	var k MasterKey
	if !masterKeyPattern.MatchString(s) {
		return k, errors.WithHint(ErrInvalidMasterKey, "generate one with: openssl rand -hex 32")
	}
	if _, err := hex.Decode(k[:], []byte(s)); err != nil {
		return k, errors.Wrap(ErrInvalidMasterKey, err.Error())
	}
	return k, nil
}

// PlatformCode identifies the surface that produced a piece of content.
type PlatformCode uint16

const (
	PlatformUnknown PlatformCode = iota
	PlatformWeb
	PlatformAPI
	PlatformCLI
	PlatformMobile
)

// Platforms lists every known platform code; the decrypt search tries each.
var Platforms = []PlatformCode{PlatformUnknown, PlatformWeb, PlatformAPI, PlatformCLI, PlatformMobile}

var platformNames = map[PlatformCode]string{
	PlatformUnknown: "unknown",
	PlatformWeb:     "web",
	PlatformAPI:     "api",
	PlatformCLI:     "cli",
	PlatformMobile:  "mobile",
}

// known maps codes outside Platforms to PlatformUnknown.
func (p PlatformCode) known() PlatformCode {
	if _, ok := platformNames[p]; ok {
		return p
	}
	return PlatformUnknown
}

func (p PlatformCode) String() string {
	if n, ok := platformNames[p]; ok {
		return n
	}
	return "unknown"
}

// GetPlatformCode maps a platform name to its code, PlatformUnknown if
// the name is not recognized.
func GetPlatformCode(name string) PlatformCode {
	name = strings.ToLower(strings.TrimSpace(name))
	for code, n := range platformNames {
		if n == name {
			return code
		}
	}
	return PlatformUnknown
}

// IPToBytes returns the IPv4 octets of s, or zero for anything that is
// not an IPv4 (or IPv4-mapped) address.
func IPToBytes(s string) [4]byte {
	addr, err := netip.ParseAddr(strings.TrimSpace(s))
	if err != nil {
		return [4]byte{}
	}
	addr = addr.Unmap()
	if !addr.Is4() {
		return [4]byte{}
	}
	return addr.As4()
}

// CreateShortFingerprint returns the first 8 bytes of SHA-256(id), or zero
// for an empty id.
func CreateShortFingerprint(id string) [8]byte {
	var fp [8]byte
	if id == "" {
		return fp
	}
	sum := sha256.Sum256([]byte(id))
	copy(fp[:], sum[:fprintSize])
	return fp
}

// AccountabilityRecord is the operator-only data sealed at signing time.
type AccountabilityRecord struct {
	Timestamp       uint32 // Unix seconds
	UserFingerprint [8]byte
	IPAddress       [4]byte
	Platform        PlatformCode
}

// NewAccountabilityRecord builds a record from raw request attributes.
func NewAccountabilityRecord(ts time.Time, userID, ip, platform string) AccountabilityRecord {
	return AccountabilityRecord{
		Timestamp:       uint32(ts.Unix()),
		UserFingerprint: CreateShortFingerprint(userID),
		IPAddress:       IPToBytes(ip),
		Platform:        GetPlatformCode(platform),
	}
}

func (r AccountabilityRecord) marshal() [ForensicSize]byte {
	var b [ForensicSize]byte
	binary.BigEndian.PutUint32(b[:offFPrint], r.Timestamp)
	copy(b[offFPrint:offIP], r.UserFingerprint[:])
	copy(b[offIP:offPlatform], r.IPAddress[:])
	binary.BigEndian.PutUint16(b[offPlatform:offReserved], uint16(r.Platform))
	binary.BigEndian.PutUint32(b[offAcctCRC:], Checksum(b[:offAcctCRC]))
	return b
}

// ForensicResult is the outcome of a decryption attempt. An unrecoverable
// blob yields Valid=false with sentinel values; that is an expected
// result for foreign keys or salts, not an error.
type ForensicResult struct {
	Timestamp       uint32
	UserFingerprint string // hex
	IPAddress       string // dotted quad or "unavailable"
	Platform        string
	Valid           bool
}

// Time returns the recovered timestamp.
func (r ForensicResult) Time() time.Time {
	return time.Unix(int64(r.Timestamp), 0)
}

var invalidForensic = ForensicResult{IPAddress: "unavailable", Platform: PlatformUnknown.String()}

// ForensicCipher seals and recovers accountability records under a single
// master key and salt. It is immutable and safe for concurrent use.
type ForensicCipher struct {
	key   MasterKey
	salt  string
	block cipher.Block
}

// NewForensicCipher creates a cipher bound to key and salt.
func NewForensicCipher(key MasterKey, salt string) (*ForensicCipher, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, errors.Wrap(err, "create AES cipher")
	}
	return &ForensicCipher{key: key, salt: salt, block: block}, nil
}

// NewForensicCipherHex validates a hex master key before building the
// cipher. Malformed keys are rejected without touching AES.
func NewForensicCipherHex(keyHex, salt string) (*ForensicCipher, error) {
	key, err := ParseMasterKey(keyHex)
	if err != nil {
		return nil, err
	}
	return NewForensicCipher(key, salt)
}

// deriveIV returns SHA-256("{timestamp}:{platform}:{salt}:elarasign-forensic-iv")[:16].
func deriveIV(ts uint32, platform PlatformCode, salt string) []byte {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%d:%d:%s:%s", ts, platform, salt, ivDomain)))
	return sum[:aes.BlockSize]
}

// Encrypt seals r into a 32-byte blob. Platform codes outside Platforms
// are sealed as PlatformUnknown so the blob stays recoverable.
func (c *ForensicCipher) Encrypt(r AccountabilityRecord) [ForensicSize]byte {
	r.Platform = r.Platform.known()
	plain := r.marshal()
	var out [ForensicSize]byte
	cipher.NewCBCEncrypter(c.block, deriveIV(r.Timestamp, r.Platform, c.salt)).CryptBlocks(out[:], plain[:])
	return out
}

// timestampHint is the starting point of the decrypt search: the first
// four ciphertext bytes XORed with the first four key bytes.
func (c *ForensicCipher) timestampHint(ct []byte) uint32 {
	return binary.BigEndian.Uint32(ct[:4]) ^ binary.BigEndian.Uint32(c.key[:4])
}

// Decrypt recovers a record by searching timestamps within ±10 seconds of
// the built-in hint and of every extra hint, crossed with every platform
// code. The first candidate whose decrypted CRC-32 matches is accepted.
// Extra hints are typically the verified signature's timestamp in seconds.
func (c *ForensicCipher) Decrypt(ct []byte, hints ...uint32) ForensicResult {
	if len(ct) != ForensicSize {
		return invalidForensic
	}

	centers := append([]uint32{c.timestampHint(ct)}, hints...)
	seen := make(map[uint32]struct{})
	plain := make([]byte, ForensicSize)
	for _, center := range centers {
		for d := int64(-searchWindow); d <= searchWindow; d++ {
			t := int64(center) + d
			if t < 0 || t > int64(^uint32(0)) {
				continue
			}
			ts := uint32(t)
			if _, dup := seen[ts]; dup {
				continue
			}
			seen[ts] = struct{}{}
			for _, p := range Platforms {
				cipher.NewCBCDecrypter(c.block, deriveIV(ts, p, c.salt)).CryptBlocks(plain, ct)
				if Checksum(plain[:offAcctCRC]) == binary.BigEndian.Uint32(plain[offAcctCRC:]) {
					return decodeAccountability(plain)
				}
			}
		}
	}
	return invalidForensic
}

func decodeAccountability(plain []byte) ForensicResult {
	res := ForensicResult{
		Timestamp:       binary.BigEndian.Uint32(plain[:offFPrint]),
		UserFingerprint: hex.EncodeToString(plain[offFPrint:offIP]),
		Platform:        PlatformCode(binary.BigEndian.Uint16(plain[offPlatform:offReserved])).String(),
		IPAddress:       "unavailable",
		Valid:           true,
	}
	var ip [4]byte
	copy(ip[:], plain[offIP:offPlatform])
	if ip != ([4]byte{}) {
		res.IPAddress = netip.AddrFrom4(ip).String()
	}
	return res
}

// SignatureHint converts a verified signature's millisecond timestamp into
// a Decrypt hint. Signing stamps both within the same second or two.
func SignatureHint(r SignatureRecord) uint32 {
	return uint32(r.Timestamp / 1000)
}
