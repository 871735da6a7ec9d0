package elarasign

import (
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
)

// ErrNoForensicCipher is returned when an accountability record is passed
// to a Signer that has no ForensicCipher.
var ErrNoForensicCipher = errors.New("forensic cipher not configured")

// SignerConfig controls signer behavior.
type SignerConfig struct {
	Logger *zap.Logger      // nil means no logging
	Cipher *ForensicCipher  // required to seal accountability records
	Ledger *Ledger          // optional issuance ledger
	Now    func() time.Time // clock, time.Now when nil
}

// Signer embeds provenance signatures into pixel buffers.
type Signer struct {
	log    *zap.Logger
	cipher *ForensicCipher
	ledger *Ledger
	now    func() time.Time
}

// NewSigner creates a Signer.
func NewSigner(cfg SignerConfig) *Signer {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &Signer{log: log.Named("signer"), cipher: cfg.Cipher, ledger: cfg.Ledger, now: now}
}

// SignResult describes a completed signing operation.
type SignResult struct {
	Metadata     ContentMetadata // metadata as hashed, with defaults filled in
	MetadataJSON string
	MetaHash     [32]byte
	ContentHash  [32]byte
	Locations    []Location
	Forensic     []byte       // sealed accountability record, nil if none
	Entry        *LedgerEntry // ledger entry, nil without a ledger
}

// Sign embeds a signature for meta and content into buf at every usable
// location. buf is mutated in place and returned as-is.
//
// Empty Version and ContentHash fields of meta are filled in before
// hashing; callers verifying with expected metadata must use
// SignResult.Metadata. When acct is not nil it is sealed with the
// configured cipher and returned in SignResult.Forensic.
//
// The ledger entry is recorded before any pixel is written, so buf is
// unchanged whenever Sign returns an error.
func (s *Signer) Sign(buf *PixelBuffer, meta ContentMetadata, content []byte, acct *AccountabilityRecord) (*PixelBuffer, SignResult, error) {
	var res SignResult
	if acct != nil && s.cipher == nil {
		return buf, res, errors.WithHint(ErrNoForensicCipher, "set a forensic master key in the configuration")
	}

	contentHash := sha256Full(content)
	if meta.Version == "" {
		meta.Version = SchemaVersion
	}
	if meta.ContentHash == "" {
		meta.ContentHash = SHA256Hex(content)
	}
	metaJSON, err := meta.Canonical()
	if err != nil {
		return buf, res, err
	}
	metaHash := sha256Full([]byte(metaJSON))

	locs, err := planEmbed(buf)
	if err != nil {
		return buf, res, err
	}
	if buf.Width < MinImageSize || buf.Height < MinImageSize {
		s.log.Warn("image below minimum size, signature redundancy reduced",
			zap.Int("width", buf.Width), zap.Int("height", buf.Height),
			zap.Int("locations", len(locs)))
	}

	res = SignResult{
		Metadata:     meta,
		MetadataJSON: metaJSON,
		MetaHash:     metaHash,
		ContentHash:  contentHash,
		Locations:    locs,
	}

	if acct != nil {
		blob := s.cipher.Encrypt(*acct)
		res.Forensic = blob[:]
	}

	if s.ledger != nil {
		e, err := s.ledger.Record(s.now(), metaHash, contentHash, locs, res.Forensic)
		if err != nil {
			return buf, SignResult{}, err
		}
		res.Entry = &e
	}

	writeHashes(buf, locs, metaHash, contentHash, s.now)

	s.log.Info("content signed",
		zap.Int("locations", len(locs)),
		zap.Bool("forensic", res.Forensic != nil))
	return buf, res, nil
}
