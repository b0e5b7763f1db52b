// Package storage provides a versioned key-value facade over a db.KVStore.
// Every Update is applied as one atomic batch together with an undo record,
// so any retained version can be restored byte-for-byte. Undo records beyond
// the retention window are pruned, which forfeits rollback to the versions
// they covered but keeps current data intact.
package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"

	"github.com/MoneroOcean/ergo/internal/crypto"
	"github.com/MoneroOcean/ergo/pkg/db"
	"github.com/MoneroOcean/ergo/pkg/db/pebble"
	"github.com/MoneroOcean/ergo/pkg/log"
)

const (
	prefixData byte = iota + 1
	prefixJournal
)

// KV is a single key-value pair to write.
type KV struct {
	K []byte
	V []byte
}

type journalEntry struct {
	seq     uint64
	version crypto.Hash
}

// VersionedStore is a key-value store with bounded version history. One
// writer at a time; reads may run concurrently.
type VersionedStore struct {
	mu      sync.RWMutex
	kv      db.KVStore
	keep    int
	entries []journalEntry
	nextSeq uint64
}

// Open wraps kv, recovering the retained version list from the undo
// journal. keep bounds how many versions stay rollbackable.
func Open(kv db.KVStore, keep int) (*VersionedStore, error) {
	if keep < 1 {
		return nil, fmt.Errorf("retention depth must be at least 1, got %d", keep)
	}
	s := &VersionedStore{kv: kv, keep: keep}

	it, err := kv.NewIterator([]byte{prefixJournal}, []byte{prefixJournal + 1})
	if err != nil {
		return nil, fmt.Errorf("scan journal: %w", err)
	}
	defer it.Close()
	for it.Next() {
		key := it.Key()
		if len(key) != 1+8 {
			return nil, fmt.Errorf("%w: journal key of %d bytes", ErrCorruptedJournal, len(key))
		}
		val, err := it.Value()
		if err != nil {
			return nil, fmt.Errorf("read journal record: %w", err)
		}
		if len(val) < crypto.HashSize {
			return nil, fmt.Errorf("%w: record of %d bytes", ErrCorruptedJournal, len(val))
		}
		s.entries = append(s.entries, journalEntry{
			seq:     binary.BigEndian.Uint64(key[1:]),
			version: crypto.HashFromBytes(val[:crypto.HashSize]),
		})
	}
	if n := len(s.entries); n > 0 {
		s.nextSeq = s.entries[n-1].seq + 1
	}
	return s, nil
}

// Get returns the value of key in the current version.
func (s *VersionedStore) Get(key []byte) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, err := s.kv.Get(dataKey(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, ErrNotFound
	}
	return v, err
}

// Update commits toRemove and toInsert as the given version: data changes,
// the undo record and journal pruning are applied in one atomic batch. If a
// key appears in both lists the insert wins.
func (s *VersionedStore) Update(version crypto.Hash, toRemove [][]byte, toInsert []KV) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.findVersion(version) >= 0 {
		return fmt.Errorf("%s: %w", version, ErrVersionExists)
	}

	undo, err := s.buildUndoRecord(version, toRemove, toInsert)
	if err != nil {
		return err
	}

	batch := s.kv.NewBatch()
	defer batch.Close()

	for _, k := range toRemove {
		if err := batch.Delete(dataKey(k)); err != nil {
			return fmt.Errorf("stage delete: %w", err)
		}
	}
	for _, kv := range toInsert {
		if err := batch.Put(dataKey(kv.K), kv.V); err != nil {
			return fmt.Errorf("stage put: %w", err)
		}
	}
	if err := batch.Put(journalKey(s.nextSeq), undo); err != nil {
		return fmt.Errorf("stage journal record: %w", err)
	}

	pruned := 0
	for len(s.entries)-pruned+1 > s.keep {
		if err := batch.Delete(journalKey(s.entries[pruned].seq)); err != nil {
			return fmt.Errorf("prune journal record: %w", err)
		}
		pruned++
	}

	if err := batch.Commit(); err != nil {
		return fmt.Errorf("commit version %s: %w", version, err)
	}

	if pruned > 0 {
		log.Store.Debug().Int("count", pruned).Msg("pruned versions beyond retention window")
		s.entries = s.entries[pruned:]
	}
	s.entries = append(s.entries, journalEntry{seq: s.nextSeq, version: version})
	s.nextSeq++
	return nil
}

// Rollback restores the store to the given retained version, discarding all
// newer versions and their undo records atomically.
func (s *VersionedStore) Rollback(version crypto.Hash) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	idx := s.findVersion(version)
	if idx < 0 {
		return fmt.Errorf("%s: %w", version, ErrVersionNotFound)
	}

	batch := s.kv.NewBatch()
	defer batch.Close()

	for i := len(s.entries) - 1; i > idx; i-- {
		rec, err := s.kv.Get(journalKey(s.entries[i].seq))
		if err != nil {
			return fmt.Errorf("read undo record for %s: %w", s.entries[i].version, err)
		}
		if err := applyUndoRecord(batch, rec); err != nil {
			return fmt.Errorf("undo version %s: %w", s.entries[i].version, err)
		}
		if err := batch.Delete(journalKey(s.entries[i].seq)); err != nil {
			return fmt.Errorf("drop journal record: %w", err)
		}
	}

	if err := batch.Commit(); err != nil {
		return fmt.Errorf("rollback to %s: %w", version, err)
	}

	log.Store.Info().
		Stringer("version", version).
		Int("discarded", len(s.entries)-idx-1).
		Msg("store rolled back")
	s.entries = s.entries[:idx+1]
	return nil
}

// Versions returns the retained version tags, oldest first. Rollback
// succeeds exactly for these tags.
func (s *VersionedStore) Versions() []crypto.Hash {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]crypto.Hash, len(s.entries))
	for i, e := range s.entries {
		out[i] = e.version
	}
	return out
}

// LastVersion returns the most recently committed version tag.
func (s *VersionedStore) LastVersion() (crypto.Hash, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.entries) == 0 {
		return crypto.Hash{}, false
	}
	return s.entries[len(s.entries)-1].version, true
}

// Contains reports whether version is within the retained window.
func (s *VersionedStore) Contains(version crypto.Hash) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.findVersion(version) >= 0
}

func (s *VersionedStore) Close() error {
	return s.kv.Close()
}

func (s *VersionedStore) findVersion(version crypto.Hash) int {
	for i := len(s.entries) - 1; i >= 0; i-- {
		if s.entries[i].version == version {
			return i
		}
	}
	return -1
}

// buildUndoRecord captures the current value of every key the update
// touches. Layout: version ‖ count ‖ (klen ‖ key ‖ existed ‖ vlen ‖ value)*.
func (s *VersionedStore) buildUndoRecord(version crypto.Hash, toRemove [][]byte, toInsert []KV) ([]byte, error) {
	touched := make([][]byte, 0, len(toRemove)+len(toInsert))
	seen := make(map[string]struct{}, len(toRemove)+len(toInsert))
	for _, k := range toRemove {
		if _, ok := seen[string(k)]; !ok {
			seen[string(k)] = struct{}{}
			touched = append(touched, k)
		}
	}
	for _, kv := range toInsert {
		if _, ok := seen[string(kv.K)]; !ok {
			seen[string(kv.K)] = struct{}{}
			touched = append(touched, kv.K)
		}
	}

	buf := make([]byte, 0, crypto.HashSize+4+len(touched)*16)
	buf = append(buf, version[:]...)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(len(touched)))
	for _, k := range touched {
		old, err := s.kv.Get(dataKey(k))
		existed := byte(1)
		if errors.Is(err, pebble.ErrNotFound) {
			existed = 0
			old = nil
		} else if err != nil {
			return nil, fmt.Errorf("read prior value: %w", err)
		}
		buf = binary.LittleEndian.AppendUint16(buf, uint16(len(k)))
		buf = append(buf, k...)
		buf = append(buf, existed)
		buf = binary.LittleEndian.AppendUint32(buf, uint32(len(old)))
		buf = append(buf, old...)
	}
	return buf, nil
}

func applyUndoRecord(batch db.Batch, rec []byte) error {
	if len(rec) < crypto.HashSize+4 {
		return ErrCorruptedJournal
	}
	i := crypto.HashSize
	count := int(binary.LittleEndian.Uint32(rec[i : i+4]))
	i += 4
	for k := 0; k < count; k++ {
		if len(rec)-i < 2 {
			return ErrCorruptedJournal
		}
		klen := int(binary.LittleEndian.Uint16(rec[i : i+2]))
		i += 2
		if len(rec)-i < klen+1+4 {
			return ErrCorruptedJournal
		}
		key := rec[i : i+klen]
		i += klen
		existed := rec[i] == 1
		i++
		vlen := int(binary.LittleEndian.Uint32(rec[i : i+4]))
		i += 4
		if len(rec)-i < vlen {
			return ErrCorruptedJournal
		}
		if existed {
			if err := batch.Put(dataKey(key), rec[i:i+vlen]); err != nil {
				return err
			}
		} else {
			if err := batch.Delete(dataKey(key)); err != nil {
				return err
			}
		}
		i += vlen
	}
	if i != len(rec) {
		return ErrCorruptedJournal
	}
	return nil
}

func dataKey(k []byte) []byte {
	key := make([]byte, 1+len(k))
	key[0] = prefixData
	copy(key[1:], k)
	return key
}

func journalKey(seq uint64) []byte {
	key := make([]byte, 1+8)
	key[0] = prefixJournal
	binary.BigEndian.PutUint64(key[1:], seq)
	return key
}
