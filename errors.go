package elarasign

import "github.com/cockroachdb/errors"

// ErrImageTooSmall is returned when none of the five signature locations
// fit inside the image.
var ErrImageTooSmall = errors.New("image too small to carry any signature")

// ErrInvalidBuffer is returned when a pixel buffer's length does not match
// its declared dimensions.
var ErrInvalidBuffer = errors.New("pixel buffer does not match its dimensions")

// ErrInvalidMasterKey is returned for master keys that are not 64 hex characters.
var ErrInvalidMasterKey = errors.New("master key must be 64 hexadecimal characters")

// ErrLedgerGap indicates missing or reordered ledger entries.
var ErrLedgerGap = errors.New("ledger gap or reordering detected")

// ErrLedgerTagMismatch indicates a ledger chain tag that does not match its
// recomputation, i.e. an edited or forged entry.
var ErrLedgerTagMismatch = errors.New("ledger tag mismatch: entry altered")
