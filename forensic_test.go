package elarasign

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strings"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testKeyHex = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func testCipher(t *testing.T, salt string) *ForensicCipher {
	t.Helper()
	c, err := NewForensicCipherHex(testKeyHex, salt)
	require.NoError(t, err)
	return c
}

func randomCipher(t *testing.T, salt string) *ForensicCipher {
	t.Helper()
	var k MasterKey
	_, err := rand.Read(k[:])
	require.NoError(t, err)
	c, err := NewForensicCipher(k, salt)
	require.NoError(t, err)
	return c
}

func TestParseMasterKey(t *testing.T) {
	tests := []struct {
		name  string
		input string
		ok    bool
	}{
		{"lowercase", testKeyHex, true},
		{"uppercase", strings.ToUpper(testKeyHex), true},
		{"too short", testKeyHex[:63], false},
		{"too long", testKeyHex + "0", false},
		{"not hex", strings.Repeat("zz", 32), false},
		{"prefixed", "0x" + testKeyHex[2:], false},
		{"empty", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			k, err := ParseMasterKey(tt.input)
			if !tt.ok {
				assert.True(t, errors.Is(err, ErrInvalidMasterKey))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, byte(0x1f), k[31])
		})
	}

	_, err := NewForensicCipherHex("abc", "salt")
	assert.True(t, errors.Is(err, ErrInvalidMasterKey))
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, [4]byte{192, 168, 1, 10}, IPToBytes("192.168.1.10"))
	assert.Equal(t, [4]byte{10, 0, 0, 1}, IPToBytes("::ffff:10.0.0.1"))
	assert.Equal(t, [4]byte{}, IPToBytes("2001:db8::1"))
	assert.Equal(t, [4]byte{}, IPToBytes("not an ip"))
	assert.Equal(t, [4]byte{}, IPToBytes(""))

	assert.Equal(t, PlatformWeb, GetPlatformCode("Web"))
	assert.Equal(t, PlatformCLI, GetPlatformCode(" cli "))
	assert.Equal(t, PlatformUnknown, GetPlatformCode("fax"))
	assert.Equal(t, "mobile", PlatformMobile.String())
	assert.Equal(t, "unknown", PlatformCode(999).String())

	assert.Equal(t, [8]byte{}, CreateShortFingerprint(""))
	sum := sha256.Sum256([]byte("user-1"))
	fp := CreateShortFingerprint("user-1")
	assert.Equal(t, sum[:8], fp[:])
}

func TestAccountabilityLayout(t *testing.T) {
	r := AccountabilityRecord{
		Timestamp:       0x01020304,
		UserFingerprint: [8]byte{1, 2, 3, 4, 5, 6, 7, 8},
		IPAddress:       [4]byte{127, 0, 0, 1},
		Platform:        PlatformAPI,
	}
	b := r.marshal()
	assert.Equal(t, []byte{1, 2, 3, 4}, b[0:4])
	assert.Equal(t, r.UserFingerprint[:], b[4:12])
	assert.Equal(t, []byte{127, 0, 0, 1}, b[12:16])
	assert.Equal(t, []byte{0, 2}, b[16:18])
	assert.Equal(t, make([]byte, 10), b[18:28])
	assert.Equal(t, Checksum(b[:28]), binary.BigEndian.Uint32(b[28:32]))
}

func TestForensicRoundTrip(t *testing.T) {
	c := testCipher(t, "deployment-salt")
	signedAt := time.Unix(1_760_000_000, 0)

	for _, p := range Platforms {
		t.Run(p.String(), func(t *testing.T) {
			rec := NewAccountabilityRecord(signedAt, "user-1", "203.0.113.7", p.String())
			ct := c.Encrypt(rec)
			assert.Len(t, ct, ForensicSize)
			assert.Equal(t, ct, c.Encrypt(rec), "encryption is deterministic")

			// The signature written in the same call is a second or so later.
			got := c.Decrypt(ct[:], uint32(signedAt.Unix())+2)
			require.True(t, got.Valid)
			assert.Equal(t, uint32(signedAt.Unix()), got.Timestamp)
			assert.Equal(t, signedAt, got.Time())
			assert.Equal(t, hex.EncodeToString(rec.UserFingerprint[:]), got.UserFingerprint)
			assert.Equal(t, "203.0.113.7", got.IPAddress)
			assert.Equal(t, p.String(), got.Platform)
		})
	}
}

func TestForensicRoundTripNoIP(t *testing.T) {
	c := testCipher(t, "salt")
	rec := NewAccountabilityRecord(time.Unix(1_700_000_000, 0), "user-2", "", "web")
	ct := c.Encrypt(rec)

	got := c.Decrypt(ct[:], 1_700_000_000-7)
	require.True(t, got.Valid)
	assert.Equal(t, "unavailable", got.IPAddress)
	assert.Equal(t, "web", got.Platform)
}

func TestForensicHintOutsideWindow(t *testing.T) {
	c := testCipher(t, "salt")
	rec := NewAccountabilityRecord(time.Unix(1_700_000_000, 0), "user", "1.2.3.4", "api")
	ct := c.Encrypt(rec)

	got := c.Decrypt(ct[:], 1_700_000_000+searchWindow+1)
	assert.False(t, got.Valid)
}

func TestForensicTimestampHint(t *testing.T) {
	c := testCipher(t, "salt")
	ct := []byte{0xAA, 0xBB, 0xCC, 0xDD}
	assert.Equal(t, uint32(0xAABBCCDD^0x00010203), c.timestampHint(ct))
}

func TestForensicKeyIsolation(t *testing.T) {
	owner := testCipher(t, "salt")
	ts := time.Unix(1_750_000_000, 0)
	ct := owner.Encrypt(NewAccountabilityRecord(ts, "user", "10.1.2.3", "web"))

	const trials = 50
	recovered := 0
	for i := 0; i < trials; i++ {
		if randomCipher(t, "salt").Decrypt(ct[:], uint32(ts.Unix())).Valid {
			recovered++
		}
	}
	assert.Zero(t, recovered)
}

func TestForensicSaltIsolation(t *testing.T) {
	ts := time.Unix(1_750_000_000, 0)
	ct := testCipher(t, "salt-a").Encrypt(NewAccountabilityRecord(ts, "user", "10.1.2.3", "web"))
	got := testCipher(t, "salt-b").Decrypt(ct[:], uint32(ts.Unix()))
	assert.False(t, got.Valid)
}

func TestForensicInvalidResult(t *testing.T) {
	c := testCipher(t, "salt")
	for _, ct := range [][]byte{nil, make([]byte, 16), make([]byte, 33), make([]byte, 32)} {
		got := c.Decrypt(ct)
		assert.Equal(t, ForensicResult{IPAddress: "unavailable", Platform: "unknown"}, got)
	}
}

func TestSignatureHint(t *testing.T) {
	assert.Equal(t, uint32(1_760_000_000), SignatureHint(SignatureRecord{Timestamp: 1_760_000_000_999}))
}

func TestForensicOutOfRangePlatform(t *testing.T) {
	c := testCipher(t, "salt")
	ts := time.Unix(1_750_000_000, 0)
	rec := NewAccountabilityRecord(ts, "user", "10.1.2.3", "web")
	rec.Platform = PlatformCode(9)

	ct := c.Encrypt(rec)
	got := c.Decrypt(ct[:], uint32(ts.Unix()))
	require.True(t, got.Valid)
	assert.Equal(t, "unknown", got.Platform)
	assert.Equal(t, "10.1.2.3", got.IPAddress)

	rec.Platform = PlatformUnknown
	assert.Equal(t, c.Encrypt(rec), ct)
}
