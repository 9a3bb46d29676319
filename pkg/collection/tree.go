// Package collection implements CollectionTree, the sole owner of the
// persistent namespace rooted at a db directory. Collections
// are stored in a flat arena keyed by a stable CollectionID rather than as
// owning pointers, avoiding the off-by-one class of bug a pointer-owning
// list implementation is prone to on insert/delete.
package collection

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rsteinwert/csserver/pkg/codes"
	"github.com/rsteinwert/csserver/pkg/item"
)

// CollectionID is a stable handle into the tree's arena.
type CollectionID int

const noParent CollectionID = -1

type node struct {
	id       CollectionID
	name     string
	parent   CollectionID
	children []CollectionID
	items    []*item.Item
}

// Tree is the persistent hierarchical namespace rooted at DBDir. All
// mutating methods take Tree's single mutex; filesystem side effects occur
// with the lock held — callers must not hold it across a blocking network
// read.
type Tree struct {
	mu     sync.Mutex
	dbDir  string
	nodes  map[CollectionID]*node
	roots  []CollectionID
	nextID CollectionID
}

const indexFileName = "formattedCollections"
const legacyIndexFileName = "collections"
const manifestFileName = "Manifest"

// Open loads an existing tree rooted at dbDir, trying formattedCollections
// first and falling back to the legacy "collections" file. On a successful
// legacy load, formattedCollections is rewritten. Returns an error if
// neither file exists or is readable.
func Open(dbDir string) (*Tree, error) {
	t := &Tree{
		dbDir: dbDir,
		nodes: make(map[CollectionID]*node),
	}

	data, err := os.ReadFile(filepath.Join(dbDir, indexFileName))
	usedLegacy := false
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, codes.Wrap(codes.FileOpen, "open formattedCollections", err)
		}
		data, err = os.ReadFile(filepath.Join(dbDir, legacyIndexFileName))
		if err != nil {
			return nil, codes.Wrap(codes.FileOpen, "open collections index", err)
		}
		usedLegacy = true
	}

	toks, err := parseIndexTokens(data)
	if err != nil {
		return nil, err
	}
	if err := t.rebuild(toks); err != nil {
		return nil, err
	}
	if err := t.loadManifests(); err != nil {
		return nil, err
	}

	if usedLegacy {
		if err := t.rewriteIndex(); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Bootstrap initializes a brand-new, empty tree rooted at dbDir, creating
// the directory and an empty formattedCollections file.
func Bootstrap(dbDir string) (*Tree, error) {
	if err := os.MkdirAll(dbDir, 0o755); err != nil {
		return nil, codes.Wrap(codes.FileWrite, "create db directory", err)
	}
	t := &Tree{dbDir: dbDir, nodes: make(map[CollectionID]*node)}
	if err := t.rewriteIndex(); err != nil {
		return nil, err
	}
	return t, nil
}

// rebuild decodes the pre-order (name, numSubColls) token stream into the
// arena. See manifest.go for the token grammar.
func (t *Tree) rebuild(toks []indexToken) error {
	type frame struct {
		id        CollectionID
		remaining int
	}
	var stack []frame

	for _, tok := range toks {
		parent := noParent
		if len(stack) > 0 {
			parent = stack[len(stack)-1].id
		}
		id := t.nextID
		t.nextID++
		n := &node{id: id, name: tok.name, parent: parent}
		t.nodes[id] = n

		if parent == noParent {
			t.roots = append(t.roots, id)
		} else {
			pn := t.nodes[parent]
			pn.children = append(pn.children, id)
			stack[len(stack)-1].remaining--
		}

		if tok.numSubColls > 0 {
			stack = append(stack, frame{id: id, remaining: tok.numSubColls})
		}
		for len(stack) > 0 && stack[len(stack)-1].remaining == 0 {
			stack = stack[:len(stack)-1]
		}
	}
	return nil
}

// loadManifests reads each collection's Manifest file into its item list
// (metadata only; payloads load lazily on first read).
func (t *Tree) loadManifests() error {
	for id := range t.nodes {
		dir := t.diskDirLocked(id)
		data, err := os.ReadFile(filepath.Join(dir, manifestFileName))
		if err != nil {
			return codes.Wrap(codes.FileOpen, fmt.Sprintf("open manifest for %s", t.relPathLocked(id)), err)
		}
		entries, err := parseManifest(data)
		if err != nil {
			return err
		}
		n := t.nodes[id]
		n.items = make([]*item.Item, 0, len(entries))
		for _, e := range entries {
			it, err := entryToItem(e)
			if err != nil {
				return err
			}
			n.items = append(n.items, it)
		}
	}
	return nil
}

// relPathLocked returns the slash-joined path of id relative to dbDir.
// Caller must hold t.mu.
func (t *Tree) relPathLocked(id CollectionID) string {
	var parts []string
	for id != noParent {
		n := t.nodes[id]
		parts = append([]string{n.name}, parts...)
		id = n.parent
	}
	return strings.Join(parts, "/")
}

func (t *Tree) diskDirLocked(id CollectionID) string {
	return filepath.Join(t.dbDir, filepath.FromSlash(t.relPathLocked(id)))
}

// lookupLocked resolves a slash-separated path to a node id. Caller must
// hold t.mu.
func (t *Tree) lookupLocked(path string) (CollectionID, bool) {
	segs := strings.Split(path, "/")
	if len(segs) == 0 || segs[0] == "" {
		return 0, false
	}
	var cur CollectionID = noParent
	found := false
	for _, root := range t.roots {
		if t.nodes[root].name == segs[0] {
			cur = root
			found = true
			break
		}
	}
	if !found {
		return 0, false
	}
	for _, seg := range segs[1:] {
		next := CollectionID(-1)
		for _, child := range t.nodes[cur].children {
			if t.nodes[child].name == seg {
				next = child
				break
			}
		}
		if next == -1 {
			return 0, false
		}
		cur = next
	}
	return cur, true
}

// Exists reports whether path names a collection in the tree.
func (t *Tree) Exists(path string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.lookupLocked(path)
	return ok
}

// ItemExists reports whether an item exists at the given item path.
func (t *Tree) ItemExists(path string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	collPath, name, ok := SplitParentChild(path)
	if !ok {
		return false
	}
	id, ok := t.lookupLocked(collPath)
	if !ok {
		return false
	}
	for _, it := range t.nodes[id].items {
		if it.Name == name {
			return true
		}
	}
	return false
}

// AddCollection creates the collection named by path. Top-level
// (single-segment, no parent) collections may only be created with
// isAdmin=true — ordinary client requests are always relative to an
// existing parent, matching the bootstrap-only top-level creation
// described for bootstrap-only top-level creation.
func (t *Tree) AddCollection(path string, isAdmin bool) error {
	if !ValidCollectionPath(path) {
		return codes.New(codes.PathInval, "invalid collection path")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.lookupLocked(path); ok {
		return nil // idempotent no-op
	}

	parentPath, name, hasParent := SplitParentChild(path)
	if !hasParent {
		if !isAdmin {
			return codes.New(codes.PathInval, "top-level collections may only be created at bootstrap")
		}
		return t.createNodeLocked(noParent, name)
	}

	parentID, ok := t.lookupLocked(parentPath)
	if !ok {
		return codes.New(codes.ParentCollInval, "parent collection does not exist")
	}
	return t.createNodeLocked(parentID, name)
}

func (t *Tree) createNodeLocked(parent CollectionID, name string) error {
	id := t.nextID
	t.nextID++
	n := &node{id: id, name: name, parent: parent}
	t.nodes[id] = n
	if parent == noParent {
		t.roots = append(t.roots, id)
	} else {
		t.nodes[parent].children = append(t.nodes[parent].children, id)
	}

	dir := t.diskDirLocked(id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.detachLocked(id)
		return codes.Wrap(codes.FileWrite, "create collection directory", err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifestFileName), encodeManifest(nil), 0o600); err != nil {
		t.detachLocked(id)
		return codes.Wrap(codes.FileWrite, "initialize manifest", err)
	}
	if err := t.rewriteIndex(); err != nil {
		return err
	}
	return nil
}

// detachLocked removes id from its parent's child list (or roots) without
// touching disk. Used to unwind a failed creation.
func (t *Tree) detachLocked(id CollectionID) {
	n, ok := t.nodes[id]
	if !ok {
		return
	}
	if n.parent == noParent {
		t.roots = removeID(t.roots, id)
	} else {
		pn := t.nodes[n.parent]
		pn.children = removeID(pn.children, id)
	}
	delete(t.nodes, id)
}

func removeID(ids []CollectionID, target CollectionID) []CollectionID {
	out := ids[:0]
	for _, id := range ids {
		if id != target {
			out = append(out, id)
		}
	}
	return out
}

// DeleteCollection detaches path from its parent, recursively drops
// descendants and items in memory, removes the directory from disk, then
// rewrites the index.
func (t *Tree) DeleteCollection(path string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	id, ok := t.lookupLocked(path)
	if !ok {
		return codes.New(codes.CollInval, "collection does not exist")
	}

	dir := t.diskDirLocked(id)
	for _, child := range append([]CollectionID(nil), t.nodes[id].children...) {
		t.deleteSubtreeLocked(child)
	}
	t.detachLocked(id)

	if err := os.RemoveAll(dir); err != nil {
		return codes.Wrap(codes.FileWrite, "remove collection directory", err)
	}
	return t.rewriteIndex()
}

func (t *Tree) deleteSubtreeLocked(id CollectionID) {
	n, ok := t.nodes[id]
	if !ok {
		return
	}
	for _, child := range append([]CollectionID(nil), n.children...) {
		t.deleteSubtreeLocked(child)
	}
	delete(t.nodes, id)
}

// ReplaceItem creates or overwrites the item named by path, which must be
// of the form "<existing collection path>/<name>". The payload is written
// to disk before the Manifest is rewritten, so a surviving Manifest never
// references missing bytes.
func (t *Tree) ReplaceItem(path, owner string, perm item.Permission, typ item.DataType, data []byte) error {
	if !ValidItemPath(path) {
		return codes.New(codes.PathInval, "invalid item path")
	}
	collPath, name, _ := SplitParentChild(path)

	t.mu.Lock()
	defer t.mu.Unlock()

	collID, ok := t.lookupLocked(collPath)
	if !ok {
		return codes.New(codes.CollInval, "parent collection does not exist")
	}
	n := t.nodes[collID]

	now := time.Now().Unix()
	dataSize := int64(len(data))
	if typ == item.Text {
		dataSize++ // TEXT items count a trailing NUL not present on disk
	}

	var existing *item.Item
	idx := -1
	for i, it := range n.items {
		if it.Name == name {
			existing = it
			idx = i
			break
		}
	}

	created := now
	if existing != nil {
		created = existing.CreatedAt
	}
	payload := data
	if typ == item.Text {
		// Payload kept resident includes the trailing NUL, matching what
		// Load produces, so DataSize stays consistent whether an item was
		// just written or freshly loaded from disk.
		payload = make([]byte, len(data)+1)
		copy(payload, data)
	}

	newItem := item.New(name, owner, perm, typ, created, now, dataSize)
	newItem.SetData(payload)

	payloadPath := filepath.Join(t.diskDirLocked(collID), name)
	if err := newItem.Write(payloadPath); err != nil {
		return err
	}

	if idx >= 0 {
		n.items[idx] = newItem
	} else {
		n.items = append(n.items, newItem)
	}

	if err := t.rewriteManifestLocked(collID); err != nil {
		return err
	}
	return nil
}

// DeleteItem removes the item named by path and its on-disk payload.
func (t *Tree) DeleteItem(path string) error {
	if !ValidItemPath(path) {
		return codes.New(codes.PathInval, "invalid item path")
	}
	collPath, name, _ := SplitParentChild(path)

	t.mu.Lock()
	defer t.mu.Unlock()

	collID, ok := t.lookupLocked(collPath)
	if !ok {
		return codes.New(codes.PathInval, "collection does not exist")
	}
	n := t.nodes[collID]

	idx := -1
	for i, it := range n.items {
		if it.Name == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return codes.New(codes.PathInval, "item does not exist")
	}

	n.items = append(n.items[:idx], n.items[idx+1:]...)
	payloadPath := filepath.Join(t.diskDirLocked(collID), name)
	if err := os.Remove(payloadPath); err != nil && !os.IsNotExist(err) {
		return codes.Wrap(codes.FileWrite, "unlink item payload", err)
	}
	return t.rewriteManifestLocked(collID)
}

// ItemMeta is a read-only snapshot of an item's metadata, returned to
// callers that need owner/permission/type without touching the payload.
type ItemMeta struct {
	Name       string
	Owner      string
	Perm       item.Permission
	Type       item.DataType
	DataSize   int64
	CreatedAt  int64
	ModifiedAt int64
}

// StatItem returns metadata for the item at path without loading its
// payload.
func (t *Tree) StatItem(path string) (ItemMeta, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	it, ok := t.findItemLocked(path)
	if !ok {
		return ItemMeta{}, false
	}
	return ItemMeta{
		Name: it.Name, Owner: it.Owner, Perm: it.Perm, Type: it.Type,
		DataSize: it.DataSize, CreatedAt: it.CreatedAt, ModifiedAt: it.ModifiedAt,
	}, true
}

func (t *Tree) findItemLocked(path string) (*item.Item, bool) {
	collPath, name, ok := SplitParentChild(path)
	if !ok {
		return nil, false
	}
	collID, ok := t.lookupLocked(collPath)
	if !ok {
		return nil, false
	}
	for _, it := range t.nodes[collID].items {
		if it.Name == name {
			return it, true
		}
	}
	return nil, false
}

// GetItemData copies min(len(buf), data_size-offset) bytes into buf,
// returning the count; for TEXT items the counted trailing NUL is not
// copied (see item.GetData). Returns 0 on any failure (missing item, bad offset)
// without writing into buf.
//
// t.mu stays held across it.GetData: item.Item's loaded/payload fields
// carry no synchronization of their own, so releasing the lock before a
// possible on-demand Load would let two GETs against the same item race
// on those fields. The disk read this does is local-disk I/O, not a
// client-socket read, so holding the tree lock across it doesn't risk
// blocking on a slow peer.
func (t *Tree) GetItemData(path string, offset int64, buf []byte) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	collPath, name, ok := SplitParentChild(path)
	if !ok {
		return 0
	}
	collID, ok := t.lookupLocked(collPath)
	if !ok {
		return 0
	}
	n := t.nodes[collID]
	var it *item.Item
	for _, cand := range n.items {
		if cand.Name == name {
			it = cand
			break
		}
	}
	if it == nil {
		return 0
	}
	dir := t.diskDirLocked(collID)
	return it.GetData(filepath.Join(dir, name), offset, buf)
}

// rewriteIndex atomically replaces formattedCollections with the current
// pre-order encoding of the tree (write-temp-then-rename for crash
// tolerance). Caller must hold t.mu.
func (t *Tree) rewriteIndex() error {
	toks := make([]indexToken, 0, len(t.nodes))
	var walk func(ids []CollectionID)
	walk = func(ids []CollectionID) {
		for _, id := range ids {
			n := t.nodes[id]
			toks = append(toks, indexToken{name: n.name, numSubColls: len(n.children)})
			walk(n.children)
		}
	}
	walk(t.roots)

	return atomicWrite(filepath.Join(t.dbDir, indexFileName), encodeIndexTokens(toks))
}

// rewriteManifestLocked atomically replaces the Manifest file for collID.
// Caller must hold t.mu.
func (t *Tree) rewriteManifestLocked(collID CollectionID) error {
	n := t.nodes[collID]
	path := filepath.Join(t.diskDirLocked(collID), manifestFileName)
	return atomicWrite(path, encodeManifest(n.items))
}

func atomicWrite(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return codes.Wrap(codes.FileWrite, "write temp file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return codes.Wrap(codes.FileWrite, "atomic rename", err)
	}
	return nil
}
