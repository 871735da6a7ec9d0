package elarasign

import (
	"crypto/sha256"
	"encoding/binary"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// LedgerEntry records one signing operation. The packed signatures
// themselves live only in the image; the ledger keeps the hashes and the
// sealed accountability blob so an operator can find them by content hash.
type LedgerEntry struct {
	Index       uint64
	TS          int64 // ms since epoch
	ID          uuid.UUID
	ContentHash [32]byte
	MetaHash    [32]byte
	Locations   uint8  // bit i set when location i was written
	Forensic    []byte // empty or ForensicSize bytes
	Tag         [32]byte
}

// LedgerTail is the chain state after the last entry.
type LedgerTail struct {
	Index uint64
	Tag   [32]byte
}

// LedgerStore abstracts ledger persistence.
type LedgerStore interface {
	Append(e LedgerEntry) error
	Iter(startIdx uint64) (<-chan LedgerEntry, func() error, error)
	ByContentHash(h [32]byte) ([]LedgerEntry, error)
	Tail() (LedgerTail, bool, error)
	Close() error
}

// Ledger appends hash-chained issuance entries to a LedgerStore.
// Each entry's tag is H(digest) for the first entry and H(prevTag || digest)
// afterwards, so editing or dropping an entry breaks every later tag.
type Ledger struct {
	mu    sync.Mutex
	i     uint64
	tag   [32]byte
	store LedgerStore
	log   *zap.Logger
}

// OpenLedger resumes the chain from the store's tail.
func OpenLedger(st LedgerStore, log *zap.Logger) (*Ledger, error) {
	if log == nil {
		log = zap.NewNop()
	}
	l := &Ledger{store: st, log: log.Named("ledger")}
	tail, ok, err := st.Tail()
	if err != nil {
		return nil, errors.Wrap(err, "read ledger tail")
	}
	if ok {
		l.i, l.tag = tail.Index, tail.Tag
	}
	return l, nil
}

// LocationMask packs a location list into the ledger bitmask.
func LocationMask(locs []Location) uint8 {
	var m uint8
	for _, l := range locs {
		m |= 1 << l
	}
	return m
}

// MaskLocations unpacks a ledger bitmask.
func MaskLocations(m uint8) []Location {
	var out []Location
	for _, l := range Locations {
		if m&(1<<l) != 0 {
			out = append(out, l)
		}
	}
	return out
}

// Record appends an entry for a completed signing operation.
func (l *Ledger) Record(ts time.Time, metaHash, contentHash [32]byte, locs []Location, forensic []byte) (LedgerEntry, error) {
	if len(forensic) != 0 && len(forensic) != ForensicSize {
		return LedgerEntry{}, errors.Newf("forensic blob must be %d bytes, got %d", ForensicSize, len(forensic))
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	e := LedgerEntry{
		Index:       l.i + 1,
		TS:          ts.UnixMilli(),
		ID:          uuid.New(),
		ContentHash: contentHash,
		MetaHash:    metaHash,
		Locations:   LocationMask(locs),
		Forensic:    append([]byte(nil), forensic...),
	}
	e.Tag = chainTag(l.tag, entryDigest(e))

	if err := l.store.Append(e); err != nil {
		return LedgerEntry{}, errors.Wrapf(err, "append ledger entry %d", e.Index)
	}
	l.i, l.tag = e.Index, e.Tag

	l.log.Debug("entry recorded", zap.Uint64("index", e.Index), zap.Stringer("id", e.ID))
	return e, nil
}

// Lookup returns every entry issued for contentHash.
func (l *Ledger) Lookup(contentHash [32]byte) ([]LedgerEntry, error) {
	return l.store.ByContentHash(contentHash)
}

// Verify replays the whole store and checks it against the stored tail.
func (l *Ledger) Verify() error {
	ch, done, err := l.store.Iter(1)
	if err != nil {
		return err
	}
	defer done()
	var entries []LedgerEntry
	for e := range ch {
		entries = append(entries, e)
	}
	if err := done(); err != nil {
		return errors.Wrap(err, "read ledger")
	}
	final, err := VerifyLedger(entries, 0, [32]byte{})
	if err != nil {
		return err
	}
	tail, ok, err := l.store.Tail()
	if err != nil {
		return err
	}
	if !ok {
		if len(entries) == 0 {
			return nil
		}
		return errors.New("tail state unavailable")
	}
	if tail.Index != uint64(len(entries)) || !constantTimeEqual(final[:], tail.Tag[:]) {
		return ErrLedgerTagMismatch
	}
	return nil
}

// Close closes the underlying store.
func (l *Ledger) Close() error {
	return l.store.Close()
}

// entryDigest hashes every field of e except its tag.
func entryDigest(e LedgerEntry) [32]byte {
	h := sha256.New()
	var u [8]byte
	binary.BigEndian.PutUint64(u[:], e.Index)
	_, _ = h.Write(u[:])
	binary.BigEndian.PutUint64(u[:], uint64(e.TS))
	_, _ = h.Write(u[:])
	_, _ = h.Write(e.ID[:])
	_, _ = h.Write(e.ContentHash[:])
	_, _ = h.Write(e.MetaHash[:])
	_, _ = h.Write([]byte{e.Locations, byte(len(e.Forensic))})
	_, _ = h.Write(e.Forensic)
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

// chainTag computes H(d) when prev is zero and H(prev || d) otherwise.
func chainTag(prev, d [32]byte) [32]byte {
	if isZero32(prev) {
		return sha256.Sum256(d[:])
	}
	h := sha256.New()
	_, _ = h.Write(prev[:])
	_, _ = h.Write(d[:])
	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func isZero32(x [32]byte) bool {
	var acc byte
	for _, b := range x {
		acc |= b
	}
	return acc == 0
}
