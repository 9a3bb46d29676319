package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/rsteinwert/csserver/pkg/codes"
)

const uidLength = 32

var uidCharset = []byte("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ+-")
var saltCharset = []byte("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789")

// Manager is the persistent account store: a flat file plus an
// in-memory open-addressed chained hash table keyed by uid, rebuilt on
// Open from the file.
type Manager struct {
	mu       sync.Mutex
	path     string
	table    [tableSize][]*Account
	all      []*Account
	validate *validator.Validate
}

// Open loads an existing accounts store rooted at dir, or creates an
// empty one if it does not yet exist.
func Open(dir string) (*Manager, error) {
	path := accountsPath(dir)
	m := &Manager{path: path, validate: validator.New()}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, codes.Wrap(codes.FileWrite, "create accounts directory", err)
		}
		if err := rewriteAccounts(path, nil); err != nil {
			return nil, err
		}
		return m, nil
	}

	accounts, err := loadAccounts(path)
	if err != nil {
		return nil, err
	}
	for _, a := range accounts {
		m.index(a)
	}
	return m, nil
}

func (m *Manager) index(a *Account) {
	b := bucketFor(a.UID)
	m.table[b] = append(m.table[b], a)
	m.all = append(m.all, a)
}

type createAccountRequest struct {
	Username string `validate:"required,max=128"`
	Email    string `validate:"required,email,max=128"`
	Password string `validate:"required,max=128"`
}

// CreateAccount mints a fresh uid and salted passhash for (username,
// email, password), rejecting duplicates of username or email. The
// entire accounts file is rewritten on success.
func (m *Manager) CreateAccount(username, email, password string) (Info, error) {
	if err := m.validate.Struct(createAccountRequest{Username: username, Email: email, Password: password}); err != nil {
		return Info{}, codes.Wrap(codes.CommandFormat, "invalid account fields", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.all {
		if a.Username == username || a.Email == email {
			return Info{}, codes.New(codes.DuplicateAccount, "account already exists")
		}
	}

	uid, err := m.mintUID()
	if err != nil {
		return Info{}, err
	}
	salt, err := randomString(2, saltCharset)
	if err != nil {
		return Info{}, codes.Wrap(codes.FileWrite, "generate salt", err)
	}
	passhash := salt + hashPassword(salt, password)

	a := &Account{UID: uid, Username: username, Email: email, Passhash: passhash}
	m.index(a)

	if err := rewriteAccounts(m.path, m.all); err != nil {
		return Info{}, err
	}
	return Info{UID: a.UID, Username: a.Username, Email: a.Email}, nil
}

// mintUID generates a random uid, retrying on collision against the
// existing hash table. Caller must hold m.mu.
func (m *Manager) mintUID() (string, error) {
	for {
		uid, err := randomString(uidLength, uidCharset)
		if err != nil {
			return "", codes.Wrap(codes.FileWrite, "generate uid", err)
		}
		if !m.existsLocked(uid) {
			return uid, nil
		}
	}
}

func hashPassword(salt, password string) string {
	sum := sha256.Sum256([]byte(salt + password))
	return hex.EncodeToString(sum[:])
}

func randomString(n int, charset []byte) (string, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	out := make([]byte, n)
	for i, b := range buf {
		out[i] = charset[int(b)%len(charset)]
	}
	return string(out), nil
}

// Login performs an O(n) scan for username, recomputes the hash with
// the account's stored salt, and compares it to the stored passhash.
func (m *Manager) Login(username, password string) (Info, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, a := range m.all {
		if a.Username != username {
			continue
		}
		if len(a.Passhash) < 2 {
			return Info{}, codes.New(codes.BadLogin, "corrupt passhash")
		}
		salt := a.Passhash[:2]
		if a.Passhash != salt+hashPassword(salt, password) {
			return Info{}, codes.New(codes.BadLogin, "incorrect password")
		}
		return Info{UID: a.UID, Username: a.Username, Email: a.Email}, nil
	}
	return Info{}, codes.New(codes.NoAccount, "no such account")
}

// DeleteAccount removes uid from the store and rewrites the file.
func (m *Manager) DeleteAccount(uid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	b := bucketFor(uid)
	idx := -1
	for i, a := range m.table[b] {
		if a.UID == uid {
			idx = i
			break
		}
	}
	if idx < 0 {
		return codes.New(codes.NoAccount, "no such account")
	}
	removed := m.table[b][idx]
	m.table[b] = append(m.table[b][:idx], m.table[b][idx+1:]...)

	for i, a := range m.all {
		if a == removed {
			m.all = append(m.all[:i], m.all[i+1:]...)
			break
		}
	}
	return rewriteAccounts(m.path, m.all)
}

// ListAccounts returns Info for every known account, in no particular
// order. Used by account-management tooling; never consulted on the
// request path.
func (m *Manager) ListAccounts() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Info, len(m.all))
	for i, a := range m.all {
		out[i] = Info{UID: a.UID, Username: a.Username, Email: a.Email}
	}
	return out
}

// GetUsername returns the username for uid.
func (m *Manager) GetUsername(uid string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range m.table[bucketFor(uid)] {
		if a.UID == uid {
			return a.Username, true
		}
	}
	return "", false
}

// AccountExists reports whether uid names a known account.
func (m *Manager) AccountExists(uid string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.existsLocked(uid)
}

func (m *Manager) existsLocked(uid string) bool {
	for _, a := range m.table[bucketFor(uid)] {
		if a.UID == uid {
			return true
		}
	}
	return false
}
