package state

import (
	"errors"
	"fmt"
	"sort"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"loanledger/storage"
)

var errNilManager = errors.New("state: manager not initialised")

// Manager exposes a journaled key/value view over the backing database.
// Writes are buffered in memory until Commit and every write is journaled so a
// unit of work can be rolled back to any earlier snapshot. Values are RLP
// encoded; keys are keccak256 hashed before they reach the database.
//
// Manager is not safe for concurrent use; the exec runtime serialises access.
type Manager struct {
	db      storage.Database
	dirty   map[string]dirtyEntry
	journal []journalEntry
}

type dirtyEntry struct {
	value   []byte
	deleted bool
}

type journalEntry struct {
	key     string
	prev    dirtyEntry
	hadPrev bool
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db, dirty: make(map[string]dirtyEntry)}
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

// KVPut stores the RLP encoding of value under key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if m == nil {
		return errNilManager
	}
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return fmt.Errorf("kv: encode: %w", err)
	}
	m.write(string(kvKey(key)), dirtyEntry{value: encoded})
	return nil
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if m == nil {
		return false, errNilManager
	}
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, ok, err := m.read(string(kvKey(key)))
	if err != nil || !ok {
		return false, err
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, fmt.Errorf("kv: decode: %w", err)
	}
	return true, nil
}

// KVDelete removes the key. Deleting an absent key is a no-op.
func (m *Manager) KVDelete(key []byte) error {
	if m == nil {
		return errNilManager
	}
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	m.write(string(kvKey(key)), dirtyEntry{deleted: true})
	return nil
}

func (m *Manager) read(hashed string) ([]byte, bool, error) {
	if entry, ok := m.dirty[hashed]; ok {
		if entry.deleted {
			return nil, false, nil
		}
		return entry.value, true, nil
	}
	if m.db == nil {
		return nil, false, nil
	}
	data, err := m.db.Get([]byte(hashed))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, len(data) > 0, nil
}

func (m *Manager) write(hashed string, entry dirtyEntry) {
	prev, hadPrev := m.dirty[hashed]
	m.journal = append(m.journal, journalEntry{key: hashed, prev: prev, hadPrev: hadPrev})
	m.dirty[hashed] = entry
}

// Snapshot returns an identifier for the current journal position.
func (m *Manager) Snapshot() int {
	if m == nil {
		return 0
	}
	return len(m.journal)
}

// RevertToSnapshot undoes every write recorded after the snapshot was taken.
func (m *Manager) RevertToSnapshot(id int) {
	if m == nil || id < 0 || id > len(m.journal) {
		return
	}
	for i := len(m.journal) - 1; i >= id; i-- {
		entry := m.journal[i]
		if entry.hadPrev {
			m.dirty[entry.key] = entry.prev
		} else {
			delete(m.dirty, entry.key)
		}
	}
	m.journal = m.journal[:id]
}

// Pending reports the number of buffered keys awaiting commit.
func (m *Manager) Pending() int {
	if m == nil {
		return 0
	}
	return len(m.dirty)
}

// Commit flushes every buffered write to the database in a single batch and
// clears the journal.
func (m *Manager) Commit() error {
	if m == nil {
		return errNilManager
	}
	if len(m.dirty) == 0 {
		m.journal = m.journal[:0]
		return nil
	}
	if m.db == nil {
		return fmt.Errorf("state: no database configured")
	}
	keys := make([]string, 0, len(m.dirty))
	for key := range m.dirty {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	batch := m.db.NewBatch()
	for _, key := range keys {
		entry := m.dirty[key]
		if entry.deleted {
			batch.Delete([]byte(key))
			continue
		}
		batch.Put([]byte(key), entry.value)
	}
	if err := batch.Write(); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	m.dirty = make(map[string]dirtyEntry)
	m.journal = m.journal[:0]
	return nil
}

// Discard drops every buffered write.
func (m *Manager) Discard() {
	if m == nil {
		return
	}
	m.dirty = make(map[string]dirtyEntry)
	m.journal = m.journal[:0]
}
