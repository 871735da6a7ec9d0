package elarasign

import (
	"io"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"google.golang.org/protobuf/encoding/protowire"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Protobuf field numbers.
//
//	message LedgerEntry {
//	  uint64 index = 1;
//	  google.protobuf.Timestamp ts = 2;
//	  bytes id = 3;
//	  bytes content_hash = 4;
//	  bytes meta_hash = 5;
//	  uint32 locations = 6;
//	  bytes forensic = 7;
//	  bytes tag = 8;
//	}
//
//	message SignatureRecord {
//	  uint32 location = 1;
//	  uint32 version = 2;
//	  bytes meta_hash = 3;
//	  bytes content_hash = 4;
//	  uint64 timestamp_ms = 5;
//	}
//
//	message VerificationReport {
//	  bool valid = 1;
//	  bool tamper_detected = 2;
//	  string error = 3;
//	  repeated SignatureRecord valid_locations = 4;
//	  repeated uint32 invalid_locations = 5;
//	  uint32 best_location = 6;
//	}
const (
	fEntryIndex       protowire.Number = 1
	fEntryTS          protowire.Number = 2
	fEntryID          protowire.Number = 3
	fEntryContentHash protowire.Number = 4
	fEntryMetaHash    protowire.Number = 5
	fEntryLocations   protowire.Number = 6
	fEntryForensic    protowire.Number = 7
	fEntryTag         protowire.Number = 8

	fSigLocation    protowire.Number = 1
	fSigVersion     protowire.Number = 2
	fSigMetaHash    protowire.Number = 3
	fSigContentHash protowire.Number = 4
	fSigTimestamp   protowire.Number = 5

	fRepValid    protowire.Number = 1
	fRepTamper   protowire.Number = 2
	fRepError    protowire.Number = 3
	fRepValidLoc protowire.Number = 4
	fRepInvalid  protowire.Number = 5
	fRepBest     protowire.Number = 6
)

// MarshalLedgerEntry encodes e as a protobuf LedgerEntry message.
func MarshalLedgerEntry(e LedgerEntry) ([]byte, error) {
	ts, err := proto.Marshal(timestamppb.New(time.UnixMilli(e.TS)))
	if err != nil {
		return nil, errors.Wrap(err, "marshal timestamp")
	}
	var b []byte
	b = protowire.AppendTag(b, fEntryIndex, protowire.VarintType)
	b = protowire.AppendVarint(b, e.Index)
	b = protowire.AppendTag(b, fEntryTS, protowire.BytesType)
	b = protowire.AppendBytes(b, ts)
	b = protowire.AppendTag(b, fEntryID, protowire.BytesType)
	b = protowire.AppendBytes(b, e.ID[:])
	b = protowire.AppendTag(b, fEntryContentHash, protowire.BytesType)
	b = protowire.AppendBytes(b, e.ContentHash[:])
	b = protowire.AppendTag(b, fEntryMetaHash, protowire.BytesType)
	b = protowire.AppendBytes(b, e.MetaHash[:])
	b = protowire.AppendTag(b, fEntryLocations, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(e.Locations))
	if len(e.Forensic) > 0 {
		b = protowire.AppendTag(b, fEntryForensic, protowire.BytesType)
		b = protowire.AppendBytes(b, e.Forensic)
	}
	b = protowire.AppendTag(b, fEntryTag, protowire.BytesType)
	b = protowire.AppendBytes(b, e.Tag[:])
	return b, nil
}

// fieldFunc handles one decoded field. v is the varint value or the
// length-delimited payload, depending on typ.
type fieldFunc func(num protowire.Number, typ protowire.Type, v uint64, raw []byte) error

func walkFields(b []byte, fn fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		switch typ {
		case protowire.VarintType:
			v, m := protowire.ConsumeVarint(b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			if err := fn(num, typ, v, nil); err != nil {
				return err
			}
			b = b[m:]
		case protowire.BytesType:
			raw, m := protowire.ConsumeBytes(b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			if err := fn(num, typ, 0, raw); err != nil {
				return err
			}
			b = b[m:]
		default:
			m := protowire.ConsumeFieldValue(num, typ, b)
			if m < 0 {
				return protowire.ParseError(m)
			}
			b = b[m:]
		}
	}
	return nil
}

func copyHash(dst *[32]byte, raw []byte, name string) error {
	if len(raw) != len(dst) {
		return errors.Newf("invalid %s size: expected %d, got %d", name, len(dst), len(raw))
	}
	copy(dst[:], raw)
	return nil
}

// UnmarshalLedgerEntry decodes a protobuf LedgerEntry message.
func UnmarshalLedgerEntry(b []byte) (LedgerEntry, error) {
	var e LedgerEntry
	err := walkFields(b, func(num protowire.Number, _ protowire.Type, v uint64, raw []byte) error {
		switch num {
		case fEntryIndex:
			e.Index = v
		case fEntryTS:
			var ts timestamppb.Timestamp
			if err := proto.Unmarshal(raw, &ts); err != nil {
				return errors.Wrap(err, "unmarshal timestamp")
			}
			e.TS = ts.AsTime().UnixMilli()
		case fEntryID:
			id, err := uuid.FromBytes(raw)
			if err != nil {
				return errors.Wrap(err, "entry id")
			}
			e.ID = id
		case fEntryContentHash:
			return copyHash(&e.ContentHash, raw, "content hash")
		case fEntryMetaHash:
			return copyHash(&e.MetaHash, raw, "meta hash")
		case fEntryLocations:
			e.Locations = uint8(v)
		case fEntryForensic:
			if len(raw) != ForensicSize {
				return errors.Newf("invalid forensic size: expected %d, got %d", ForensicSize, len(raw))
			}
			e.Forensic = append([]byte(nil), raw...)
		case fEntryTag:
			return copyHash(&e.Tag, raw, "tag")
		}
		return nil
	})
	return e, err
}

// ExportLedger writes every entry of st to w as length-delimited
// LedgerEntry messages.
func ExportLedger(st LedgerStore, w io.Writer) (int, error) {
	ch, done, err := st.Iter(1)
	if err != nil {
		return 0, err
	}
	defer done()
	n := 0
	for e := range ch {
		msg, err := MarshalLedgerEntry(e)
		if err != nil {
			return n, err
		}
		if _, err := w.Write(protowire.AppendBytes(nil, msg)); err != nil {
			return n, errors.Wrap(err, "write entry")
		}
		n++
	}
	if err := done(); err != nil {
		return n, errors.Wrapf(err, "read ledger after %d entries", n)
	}
	return n, nil
}

// ImportLedger reads a stream written by ExportLedger, checks the chain
// and appends every entry to st. st must be empty.
func ImportLedger(r io.Reader, st LedgerStore) (int, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, errors.Wrap(err, "read export")
	}
	var entries []LedgerEntry
	for len(data) > 0 {
		msg, m := protowire.ConsumeBytes(data)
		if m < 0 {
			return 0, errors.Wrapf(protowire.ParseError(m), "entry %d", len(entries)+1)
		}
		e, err := UnmarshalLedgerEntry(msg)
		if err != nil {
			return 0, errors.Wrapf(err, "entry %d", len(entries)+1)
		}
		entries = append(entries, e)
		data = data[m:]
	}
	if _, err := VerifyLedger(entries, 0, [32]byte{}); err != nil {
		return 0, err
	}
	for i, e := range entries {
		if err := st.Append(e); err != nil {
			return i, err
		}
	}
	return len(entries), nil
}

func appendSignatureRecord(b []byte, l Location, r SignatureRecord) []byte {
	var m []byte
	m = protowire.AppendTag(m, fSigLocation, protowire.VarintType)
	m = protowire.AppendVarint(m, uint64(l))
	m = protowire.AppendTag(m, fSigVersion, protowire.VarintType)
	m = protowire.AppendVarint(m, uint64(r.Version))
	m = protowire.AppendTag(m, fSigMetaHash, protowire.BytesType)
	m = protowire.AppendBytes(m, r.MetaHash[:])
	m = protowire.AppendTag(m, fSigContentHash, protowire.BytesType)
	m = protowire.AppendBytes(m, r.ContentHash[:])
	m = protowire.AppendTag(m, fSigTimestamp, protowire.VarintType)
	m = protowire.AppendVarint(m, r.Timestamp)

	b = protowire.AppendTag(b, fRepValidLoc, protowire.BytesType)
	return protowire.AppendBytes(b, m)
}

// MarshalReport encodes a verification result as a VerificationReport.
func MarshalReport(res VerificationResult) []byte {
	var b []byte
	b = protowire.AppendTag(b, fRepValid, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeBool(res.IsValid))
	b = protowire.AppendTag(b, fRepTamper, protowire.VarintType)
	b = protowire.AppendVarint(b, protowire.EncodeBool(res.TamperDetected))
	if res.Error != "" {
		b = protowire.AppendTag(b, fRepError, protowire.BytesType)
		b = protowire.AppendString(b, res.Error)
	}
	for _, v := range res.Valid {
		b = appendSignatureRecord(b, v.Location, v.Record)
	}
	for _, l := range res.Invalid {
		b = protowire.AppendTag(b, fRepInvalid, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(l))
	}
	if res.Best != nil {
		b = protowire.AppendTag(b, fRepBest, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(res.BestLocation))
	}
	return b
}

func parseLocation(v uint64) (Location, error) {
	if v >= NumLocations {
		return 0, errors.Newf("invalid location %d", v)
	}
	return Location(v), nil
}

// UnmarshalReport decodes a VerificationReport. Decoded records are
// marked valid, since only valid locations are reported.
func UnmarshalReport(b []byte) (VerificationResult, error) {
	var res VerificationResult
	hasBest := false
	var best Location
	err := walkFields(b, func(num protowire.Number, _ protowire.Type, v uint64, raw []byte) error {
		switch num {
		case fRepValid:
			res.IsValid = protowire.DecodeBool(v)
		case fRepTamper:
			res.TamperDetected = protowire.DecodeBool(v)
		case fRepError:
			res.Error = string(raw)
		case fRepValidLoc:
			lr, err := unmarshalSignatureRecord(raw)
			if err != nil {
				return err
			}
			res.Valid = append(res.Valid, lr)
		case fRepInvalid:
			l, err := parseLocation(v)
			if err != nil {
				return err
			}
			res.Invalid = append(res.Invalid, l)
		case fRepBest:
			l, err := parseLocation(v)
			if err != nil {
				return err
			}
			best, hasBest = l, true
		}
		return nil
	})
	if err != nil {
		return VerificationResult{}, err
	}
	if hasBest {
		for i := range res.Valid {
			if res.Valid[i].Location == best {
				rec := res.Valid[i].Record
				res.Best = &rec
				res.BestLocation = best
				break
			}
		}
	}
	return res, nil
}

func unmarshalSignatureRecord(b []byte) (LocationResult, error) {
	lr := LocationResult{Record: SignatureRecord{IsValid: true}}
	err := walkFields(b, func(num protowire.Number, _ protowire.Type, v uint64, raw []byte) error {
		switch num {
		case fSigLocation:
			l, err := parseLocation(v)
			if err != nil {
				return err
			}
			lr.Location = l
			lr.Record.LocationID = uint8(l)
		case fSigVersion:
			lr.Record.Version = uint8(v)
		case fSigMetaHash:
			return copyHash(&lr.Record.MetaHash, raw, "meta hash")
		case fSigContentHash:
			return copyHash(&lr.Record.ContentHash, raw, "content hash")
		case fSigTimestamp:
			lr.Record.Timestamp = v
		}
		return nil
	})
	return lr, err
}
