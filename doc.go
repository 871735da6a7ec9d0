// Package elarasign embeds and verifies provenance signatures in images.
//
// Signature format (v3, 84 bytes, big-endian):
//
//	[6]byte:  marker "ELARA3"
//	[1]byte:  version (3)
//	[1]byte:  location id
//	[32]byte: SHA-256 of the canonical metadata JSON
//	[32]byte: SHA-256 of the content
//	[8]byte:  timestamp (ms since epoch)
//	[4]byte:  CRC-32 over the preceding 80 bytes
//
// Each record is written into the low nibble of the blue channel at five
// locations (corners and center), so a crop or local edit that destroys
// some of them leaves the rest verifiable.
//
// Sealed accountability records (who signed, from where) are encrypted
// with AES-256-CBC under a deployment master key. The IV is derived from
// the signing time and platform, so decryption searches a small window
// around a time hint:
//
//	cipher, _ := elarasign.NewForensicCipherHex(keyHex, "salt")
//	s := elarasign.NewSigner(elarasign.SignerConfig{Cipher: cipher})
//	acct := elarasign.NewAccountabilityRecord(time.Now(), userID, ip, "web")
//	_, res, err := s.Sign(buf, meta, content, &acct)
//
//	vr := elarasign.Verify(buf, &res.Metadata)
//	fr := cipher.Decrypt(res.Forensic, elarasign.SignatureHint(*vr.Best))
//
// Ledger backends
//
// Issued signatures can be recorded in a hash-chained ledger:
//
// 1. POSIX File Storage (file_store.go)
//   - Append-only binary files with flock
//   - Content hash lookup is a full scan
//
// 2. SQLite Storage (sqlite_store.go)
//   - WAL mode, one transaction per entry
//   - Indexed content hash lookup
//
// Ledgers move between backends with ExportLedger and ImportLedger, which
// use a length-delimited protobuf stream and re-check the chain on import.
package elarasign
