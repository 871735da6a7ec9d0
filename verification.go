package elarasign

import (
	"bytes"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Reasons reported in VerificationResult.Error.
const (
	ReasonNoSignature   = "no valid signature found"
	ReasonTamper        = "tamper detected: content is signed but its metadata does not match"
	ReasonBadMetadata   = "expected metadata could not be serialized"
	ReasonInvalidBuffer = "pixel buffer does not match its dimensions"
)

// LocationResult is one structurally valid region.
type LocationResult struct {
	Location Location
	Record   SignatureRecord
}

// VerificationResult is the outcome of checking all five regions.
// It is always data: unsigned, corrupt or tampered input never produces
// an error value.
type VerificationResult struct {
	IsValid        bool
	TamperDetected bool
	Error          string

	Valid   []LocationResult
	Invalid []Location

	// Best is the valid record with the greatest timestamp, nil if none.
	Best         *SignatureRecord
	BestLocation Location
}

// VerifierConfig controls verifier behavior.
type VerifierConfig struct {
	Logger   *zap.Logger // nil means no logging
	Parallel bool        // check the five regions concurrently
}

// Verifier reads and validates signatures embedded by EmbedSignature.
type Verifier struct {
	log      *zap.Logger
	parallel bool
}

// NewVerifier creates a Verifier.
func NewVerifier(cfg VerifierConfig) *Verifier {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	return &Verifier{log: log.Named("verifier"), parallel: cfg.Parallel}
}

var defaultVerifier = NewVerifier(VerifierConfig{})

// Verify checks buf with a default sequential verifier.
func Verify(buf *PixelBuffer, expected *ContentMetadata) VerificationResult {
	return defaultVerifier.Verify(buf, expected)
}

// HasSignature reports whether any region of buf holds a valid record.
func HasSignature(buf *PixelBuffer) bool {
	return defaultVerifier.HasSignature(buf)
}

// HasSignature reports whether any region of buf holds a valid record.
func (v *Verifier) HasSignature(buf *PixelBuffer) bool {
	return v.Verify(buf, nil).IsValid
}

// checkLocation returns the decoded record for l, or nil when the region is
// out of bounds, not a signature, or fails its checksum.
func checkLocation(buf *PixelBuffer, l Location) *SignatureRecord {
	raw, ok := ExtractAt(buf, l)
	if !ok {
		return nil
	}
	rec := Unpack(raw)
	if rec == nil || !rec.IsValid {
		return nil
	}
	return rec
}

func (v *Verifier) scan(buf *PixelBuffer) [NumLocations]*SignatureRecord {
	var found [NumLocations]*SignatureRecord
	if !v.parallel {
		for i, l := range Locations {
			found[i] = checkLocation(buf, l)
		}
		return found
	}

	var g errgroup.Group
	for i, l := range Locations {
		i, l := i, l
		g.Go(func() error {
			found[i] = checkLocation(buf, l)
			return nil
		})
	}
	_ = g.Wait()
	return found
}

// Verify extracts and validates every region of buf. When expected is not
// nil its metaHash is compared with the authoritative record; a mismatch
// sets TamperDetected. Without expected metadata a valid result only
// asserts structural validity.
func (v *Verifier) Verify(buf *PixelBuffer, expected *ContentMetadata) VerificationResult {
	var res VerificationResult
	if err := buf.Validate(); err != nil {
		res.Invalid = append(res.Invalid, Locations[:]...)
		res.Error = ReasonInvalidBuffer
		return res
	}

	found := v.scan(buf)
	for i, rec := range found {
		l := Locations[i]
		if rec == nil {
			res.Invalid = append(res.Invalid, l)
			continue
		}
		res.Valid = append(res.Valid, LocationResult{Location: l, Record: *rec})
		if res.Best == nil || rec.Timestamp > res.Best.Timestamp {
			res.Best = rec
			res.BestLocation = l
		}
	}

	if res.Best == nil {
		res.Error = ReasonNoSignature
		v.log.Debug("no signature", zap.Int("invalid", len(res.Invalid)))
		return res
	}

	if expected != nil {
		want, err := expected.MetaHash()
		if err != nil {
			res.Error = ReasonBadMetadata
			return res
		}
		if !bytes.Equal(want[:], res.Best.MetaHash[:]) {
			res.TamperDetected = true
			res.Error = ReasonTamper
			v.log.Warn("metadata hash mismatch",
				zap.Stringer("location", res.BestLocation),
				zap.Int("valid", len(res.Valid)))
			return res
		}
	}

	res.IsValid = true
	v.log.Debug("signature verified",
		zap.Stringer("location", res.BestLocation),
		zap.Int("valid", len(res.Valid)),
		zap.Int("invalid", len(res.Invalid)))
	return res
}
