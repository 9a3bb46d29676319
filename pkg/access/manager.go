// Package access implements AccessManager: a named registry of
// (CollectionTree, RulesEngine) pairs that gates every data operation
// behind a rules evaluation and, for reads, a private-item ownership
// check, before delegating to the tree.
package access

import (
	"os"
	"sync"

	"github.com/rsteinwert/csserver/pkg/codes"
	"github.com/rsteinwert/csserver/pkg/collection"
	"github.com/rsteinwert/csserver/pkg/item"
	"github.com/rsteinwert/csserver/pkg/rules"
)

type database struct {
	tree  *collection.Tree
	rules []rules.Rule
}

// Manager is the registry mapping database name to its tree and rules.
// It is immutable after bootstrap: databases are added once at startup,
// never removed, so lookups only need a read lock.
type Manager struct {
	mu  sync.RWMutex
	dbs map[string]*database
}

func NewManager() *Manager {
	return &Manager{dbs: make(map[string]*database)}
}

// Ctx carries the requester identity used both by rule evaluation and by
// the private-item ownership check.
type Ctx struct {
	UID     string
	HasUID  bool
	IsAdmin bool
}

// AddDB registers name, idempotent by name: a second call with the same
// name is a no-op and returns nil. dbDir is opened if it already contains
// a persisted tree, or bootstrapped fresh otherwise. The rules file is
// parsed eagerly; a parse failure aborts the add and nothing is
// registered.
func (m *Manager) AddDB(name, dbDir, rulesPath string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.dbs[name]; exists {
		return nil
	}

	rulesData, err := os.ReadFile(rulesPath)
	if err != nil {
		return codes.Wrap(codes.FileOpen, "read rules file", err)
	}
	parsedRules, err := rules.Parse(rulesData)
	if err != nil {
		return err
	}

	tree, err := openOrBootstrap(dbDir)
	if err != nil {
		return err
	}

	m.dbs[name] = &database{tree: tree, rules: parsedRules}
	return nil
}

func openOrBootstrap(dbDir string) (*collection.Tree, error) {
	if _, err := os.Stat(dbDir); err == nil {
		return collection.Open(dbDir)
	}
	return collection.Bootstrap(dbDir)
}

func (m *Manager) lookup(dbName string) (*database, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	db, ok := m.dbs[dbName]
	if !ok {
		return nil, codes.New(codes.NoDB, "no such database")
	}
	return db, nil
}

func (m *Manager) authorize(db *database, path string, ctx Ctx, wants rules.Mode) error {
	evalCtx := rules.EvalContext{UID: ctx.UID, HasUID: ctx.HasUID, IsAdmin: ctx.IsAdmin, Wants: wants}
	if !rules.HasPerms(db.rules, path, evalCtx) {
		return codes.New(codes.NoPerms, "not permitted")
	}
	return nil
}

// CollectionExists reports whether path names a collection in dbName,
// gated by a read-mode rules check.
func (m *Manager) CollectionExists(dbName, path string, ctx Ctx) (bool, error) {
	if !collection.ValidCollectionPath(path) {
		return false, codes.New(codes.PathInval, "invalid collection path")
	}
	db, err := m.lookup(dbName)
	if err != nil {
		return false, err
	}
	if err := m.authorize(db, path, ctx, rules.ModeRead); err != nil {
		return false, err
	}
	return db.tree.Exists(path), nil
}

// AddCollection creates path within dbName, gated by a write-mode rules
// check. isAdmin bypasses both the rules check and the tree's own
// top-level-creation restriction.
func (m *Manager) AddCollection(dbName, path string, ctx Ctx) error {
	if !collection.ValidCollectionPath(path) {
		return codes.New(codes.PathInval, "invalid collection path")
	}
	db, err := m.lookup(dbName)
	if err != nil {
		return err
	}
	if !ctx.IsAdmin {
		if err := m.authorize(db, path, ctx, rules.ModeWrite); err != nil {
			return err
		}
	}
	return db.tree.AddCollection(path, ctx.IsAdmin)
}

// DeleteCollection removes path within dbName, gated by a write-mode
// rules check.
func (m *Manager) DeleteCollection(dbName, path string, ctx Ctx) error {
	if !collection.ValidCollectionPath(path) {
		return codes.New(codes.PathInval, "invalid collection path")
	}
	db, err := m.lookup(dbName)
	if err != nil {
		return err
	}
	if err := m.authorize(db, path, ctx, rules.ModeWrite); err != nil {
		return err
	}
	return db.tree.DeleteCollection(path)
}

// ReplaceItem creates or overwrites the item at path within dbName,
// gated by a write-mode rules check. owner is stamped on the item as its
// declared owner (used for PRIVATE ownership checks on later reads).
func (m *Manager) ReplaceItem(dbName, path, owner string, perm item.Permission, typ item.DataType, data []byte, ctx Ctx) error {
	if !collection.ValidItemPath(path) {
		return codes.New(codes.PathInval, "invalid item path")
	}
	db, err := m.lookup(dbName)
	if err != nil {
		return err
	}
	if err := m.authorize(db, path, ctx, rules.ModeWrite); err != nil {
		return err
	}
	return db.tree.ReplaceItem(path, owner, perm, typ, data)
}

// DeleteItem removes the item at path within dbName, gated by a
// write-mode rules check.
func (m *Manager) DeleteItem(dbName, path string, ctx Ctx) error {
	if !collection.ValidItemPath(path) {
		return codes.New(codes.PathInval, "invalid item path")
	}
	db, err := m.lookup(dbName)
	if err != nil {
		return err
	}
	if err := m.authorize(db, path, ctx, rules.ModeWrite); err != nil {
		return err
	}
	return db.tree.DeleteItem(path)
}

// GetItemData copies item data into buf, gated by a read-mode rules
// check and, for PRIVATE items, an ownership check: only ctx.uid ==
// item.owner may read a PRIVATE item, regardless of what rules allow.
// A rules denial returns a NO_PERMS error and a PRIVATE-ownership denial
// returns 0 with no error; neither writes into buf.
func (m *Manager) GetItemData(dbName, path string, offset int64, buf []byte, ctx Ctx) (int, error) {
	if !collection.ValidItemPath(path) {
		return 0, codes.New(codes.PathInval, "invalid item path")
	}
	db, err := m.lookup(dbName)
	if err != nil {
		return 0, err
	}
	if err := m.authorize(db, path, ctx, rules.ModeRead); err != nil {
		return 0, err
	}

	meta, ok := db.tree.StatItem(path)
	if !ok {
		return 0, codes.New(codes.PathInval, "item does not exist")
	}
	if meta.Perm == item.Private && !ctx.IsAdmin {
		if !ctx.HasUID || ctx.UID != meta.Owner {
			return 0, nil
		}
	}
	return db.tree.GetItemData(path, offset, buf), nil
}
