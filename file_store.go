package elarasign

import (
	"bufio"
	"encoding/binary"
	"io"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// fileStore implements LedgerStore using POSIX files with append-only semantics.
//
// Entry format in ledger.dat:
//
//	[8]byte:  index (uint64)
//	[8]byte:  timestamp (int64, ms)
//	[16]byte: id (UUID)
//	[32]byte: content hash
//	[32]byte: meta hash
//	[1]byte:  locations bitmask
//	[1]byte:  forensic length (0 or 32)
//	[n]byte:  forensic blob
//	[32]byte: chain tag
//
// Tail format in tail.dat:
//
//	[8]byte:  index (uint64)
//	[32]byte: chain tag
type fileStore struct {
	dir        string
	ledgerFile *os.File
	tailFile   *os.File
	mu         sync.RWMutex
}

const (
	ledgerFileName = "ledger.dat"
	tailFileName   = "tail.dat"
	entryHeadSize  = 8 + 8 + 16 + 32 + 32 + 1 + 1 // idx + ts + id + hashes + locs + forensic len
	tailEntrySize  = 8 + 32                       // idx + tag
)

// OpenFileStore creates or opens a POSIX file-based ledger in the given directory.
func OpenFileStore(dir string) (LedgerStore, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errors.Wrap(err, "create directory")
	}

	ledgerFile, err := os.OpenFile(filepath.Join(dir, ledgerFileName), os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
	if err != nil {
		return nil, errors.Wrap(err, "open ledger file")
	}

	tailFile, err := os.OpenFile(filepath.Join(dir, tailFileName), os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		_ = ledgerFile.Close()
		return nil, errors.Wrap(err, "open tail file")
	}

	return &fileStore{dir: dir, ledgerFile: ledgerFile, tailFile: tailFile}, nil
}

// Append writes an entry and the new tail.
func (s *fileStore) Append(e LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tail, ok, err := s.readTailLocked()
	if err != nil {
		return err
	}
	var lastIdx uint64
	if ok {
		lastIdx = tail.Index
	}
	if lastIdx != e.Index-1 {
		return errors.Newf("non-contiguous append: have %d, got %d", lastIdx, e.Index)
	}

	if err := syscall.Flock(int(s.ledgerFile.Fd()), syscall.LOCK_EX); err != nil {
		return errors.Wrap(err, "lock ledger file")
	}
	defer syscall.Flock(int(s.ledgerFile.Fd()), syscall.LOCK_UN)

	if _, err := s.ledgerFile.Write(encodeEntry(e)); err != nil {
		return errors.Wrap(err, "write entry")
	}
	if err := s.ledgerFile.Sync(); err != nil {
		return errors.Wrap(err, "sync ledger file")
	}

	return s.writeTailLocked(LedgerTail{Index: e.Index, Tag: e.Tag})
}

func encodeEntry(e LedgerEntry) []byte {
	buf := make([]byte, entryHeadSize+len(e.Forensic)+32)
	off := 0

	binary.BigEndian.PutUint64(buf[off:], e.Index)
	off += 8
	binary.BigEndian.PutUint64(buf[off:], uint64(e.TS))
	off += 8
	off += copy(buf[off:], e.ID[:])
	off += copy(buf[off:], e.ContentHash[:])
	off += copy(buf[off:], e.MetaHash[:])
	buf[off] = e.Locations
	buf[off+1] = byte(len(e.Forensic))
	off += 2
	off += copy(buf[off:], e.Forensic)
	copy(buf[off:], e.Tag[:])

	return buf
}

func readEntry(r io.Reader) (LedgerEntry, error) {
	var e LedgerEntry
	head := make([]byte, entryHeadSize)
	if _, err := io.ReadFull(r, head); err != nil {
		return e, err
	}
	e.Index = binary.BigEndian.Uint64(head[0:8])
	e.TS = int64(binary.BigEndian.Uint64(head[8:16]))
	e.ID = uuid.UUID(head[16:32])
	copy(e.ContentHash[:], head[32:64])
	copy(e.MetaHash[:], head[64:96])
	e.Locations = head[96]

	if n := int(head[97]); n > 0 {
		e.Forensic = make([]byte, n)
		if _, err := io.ReadFull(r, e.Forensic); err != nil {
			return e, unexpected(err)
		}
	}
	if _, err := io.ReadFull(r, e.Tag[:]); err != nil {
		return e, unexpected(err)
	}
	return e, nil
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// scan calls fn for every entry in file order until fn returns false.
// Callers hold s.mu.
func (s *fileStore) scan(fn func(LedgerEntry) bool) error {
	file, err := os.Open(filepath.Join(s.dir, ledgerFileName))
	if err != nil {
		return errors.Wrap(err, "open ledger file for reading")
	}
	defer file.Close()

	reader := bufio.NewReader(file)
	for {
		e, err := readEntry(reader)
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return errors.Wrap(err, "read entry")
		}
		if !fn(e) {
			return nil
		}
	}
}

// Iter returns a channel that yields entries starting from startIdx.
// The returned func stops the scan and reports the first read error;
// call it after draining the channel.
func (s *fileStore) Iter(startIdx uint64) (<-chan LedgerEntry, func() error, error) {
	if _, err := os.Stat(filepath.Join(s.dir, ledgerFileName)); err != nil {
		return nil, nil, errors.Wrap(err, "open ledger file for reading")
	}

	out := make(chan LedgerEntry, 64)
	done := make(chan struct{})
	finished := make(chan struct{})
	var once sync.Once
	var scanErr error

	go func() {
		defer close(finished)
		defer close(out)
		s.mu.RLock()
		defer s.mu.RUnlock()
		scanErr = s.scan(func(e LedgerEntry) bool {
			if e.Index < startIdx {
				return true
			}
			select {
			case out <- e:
				return true
			case <-done:
				return false
			}
		})
	}()

	cleanup := func() error {
		once.Do(func() { close(done) })
		<-finished
		return scanErr
	}

	return out, cleanup, nil
}

// ByContentHash scans the ledger for entries matching h.
func (s *fileStore) ByContentHash(h [32]byte) ([]LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []LedgerEntry
	err := s.scan(func(e LedgerEntry) bool {
		if e.ContentHash == h {
			out = append(out, e)
		}
		return true
	})
	return out, err
}

// Tail returns the latest tail state.
func (s *fileStore) Tail() (LedgerTail, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.readTailLocked()
}

func (s *fileStore) readTailLocked() (LedgerTail, bool, error) {
	var tail LedgerTail
	buf := make([]byte, tailEntrySize)
	if _, err := s.tailFile.ReadAt(buf, 0); err != nil {
		if errors.Is(err, io.EOF) {
			return tail, false, nil
		}
		return tail, false, errors.Wrap(err, "read tail")
	}
	tail.Index = binary.BigEndian.Uint64(buf[0:8])
	copy(tail.Tag[:], buf[8:40])
	return tail, true, nil
}

func (s *fileStore) writeTailLocked(tail LedgerTail) error {
	buf := make([]byte, tailEntrySize)
	binary.BigEndian.PutUint64(buf[0:8], tail.Index)
	copy(buf[8:40], tail.Tag[:])
	if _, err := s.tailFile.WriteAt(buf, 0); err != nil {
		return errors.Wrap(err, "write tail")
	}
	if err := s.tailFile.Sync(); err != nil {
		return errors.Wrap(err, "sync tail file")
	}
	return nil
}

// Close closes the file store.
func (s *fileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if cerr := s.ledgerFile.Close(); cerr != nil {
		err = errors.Wrap(cerr, "close ledger file")
	}
	if cerr := s.tailFile.Close(); cerr != nil {
		err = errors.CombineErrors(err, errors.Wrap(cerr, "close tail file"))
	}
	return err
}
