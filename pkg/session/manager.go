// Package session implements SessionManager: process-lifetime session
// state keyed by a random nonzero 32-bit id, backed by an in-memory
// badger instance so the storage and concurrency-control idiom matches
// the rest of the codebase even though nothing here is ever persisted.
package session

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/json"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/rsteinwert/csserver/pkg/codes"
)

// Manager issues and tracks sessions in a badger instance opened with
// InMemory: true, so state never touches disk and is discarded when the
// process exits.
type Manager struct {
	db *badger.DB
}

// state is the per-session record persisted under its id.
type state struct {
	UID    string `json:"uid"`
	HasUID bool   `json:"has_uid"`
}

// NewManager opens the in-memory session store.
func NewManager() (*Manager, error) {
	opts := badger.DefaultOptions("").WithInMemory(true).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, codes.Wrap(codes.FileOpen, "open session store", err)
	}
	return &Manager{db: db}, nil
}

// Close releases the underlying store.
func (m *Manager) Close() error {
	return m.db.Close()
}

func idKey(id uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], id)
	return b[:]
}

// CreateSession draws a uniform random nonzero 32-bit id, retrying on
// collision, and installs an empty (unauthenticated) session under it.
func (m *Manager) CreateSession() (uint32, error) {
	for {
		id, err := randomNonzeroUint32()
		if err != nil {
			return 0, codes.Wrap(codes.FileWrite, "generate session id", err)
		}

		var collided bool
		err = m.db.Update(func(txn *badger.Txn) error {
			_, getErr := txn.Get(idKey(id))
			if getErr == nil {
				collided = true
				return nil
			}
			if getErr != badger.ErrKeyNotFound {
				return getErr
			}
			data, marshalErr := json.Marshal(state{})
			if marshalErr != nil {
				return marshalErr
			}
			return txn.Set(idKey(id), data)
		})
		if err != nil {
			return 0, codes.Wrap(codes.FileWrite, "store session", err)
		}
		if !collided {
			return id, nil
		}
	}
}

func randomNonzeroUint32() (uint32, error) {
	for {
		var b [4]byte
		if _, err := rand.Read(b[:]); err != nil {
			return 0, err
		}
		if id := binary.BigEndian.Uint32(b[:]); id != 0 {
			return id, nil
		}
	}
}

// GetSession reports whether id names a live session and, if so, its
// bound uid (empty/false if not yet authenticated).
func (m *Manager) GetSession(id uint32) (uid string, hasUID bool, ok bool) {
	err := m.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(idKey(id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var st state
			if err := json.Unmarshal(val, &st); err != nil {
				return err
			}
			uid, hasUID, ok = st.UID, st.HasUID, true
			return nil
		})
	})
	if err != nil {
		return "", false, false
	}
	return uid, hasUID, ok
}

// ReplaceUID binds uid to session id, overwriting any prior binding.
// Returns a NoSession error if id does not name a live session.
func (m *Manager) ReplaceUID(id uint32, uid string) error {
	return m.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(idKey(id)); err != nil {
			if err == badger.ErrKeyNotFound {
				return codes.New(codes.NoSession, "no such session")
			}
			return err
		}
		data, err := json.Marshal(state{UID: uid, HasUID: true})
		if err != nil {
			return err
		}
		return txn.Set(idKey(id), data)
	})
}

// DeleteSession frees id. It is not an error to delete an unknown id.
func (m *Manager) DeleteSession(id uint32) error {
	return m.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(idKey(id))
	})
}
