package elarasign

// VerifyLedger replays the chain over entries that follow startIdx, whose
// tag is tStart (zero when replaying from the first entry), and returns the
// last recomputed tag.
func VerifyLedger(entries []LedgerEntry, startIdx uint64, tStart [32]byte) (lastTag [32]byte, err error) {
	prev := tStart
	expect := startIdx

	for _, e := range entries {
		expect++
		if e.Index != expect {
			return lastTag, ErrLedgerGap
		}
		if len(e.Forensic) != 0 && len(e.Forensic) != ForensicSize {
			return lastTag, ErrLedgerTagMismatch
		}

		tag := chainTag(prev, entryDigest(e))
		if !constantTimeEqual(tag[:], e.Tag[:]) {
			return lastTag, ErrLedgerTagMismatch
		}

		prev = tag
		lastTag = tag
	}
	return lastTag, nil
}

// constantTimeEqual performs constant-time comparison of two byte slices.
func constantTimeEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	var result byte
	for i := range a {
		result |= a[i] ^ b[i]
	}
	return result == 0
}
