package identity

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rsteinwert/csserver/pkg/codes"
)

const accountsSubdir = "accounts"
const accountsFileName = "accounts"

func accountsPath(rootDir string) string {
	return filepath.Join(rootDir, accountsSubdir, accountsFileName)
}

// loadAccounts parses the flat accounts file: one "uid username email
// passhash" line per account.
func loadAccounts(path string) ([]*Account, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, codes.Wrap(codes.FileOpen, "open accounts file", err)
	}
	defer f.Close()

	var out []*Account
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 4 {
			return nil, codes.New(codes.Parse, fmt.Sprintf("malformed accounts line %q", line))
		}
		out = append(out, &Account{UID: fields[0], Username: fields[1], Email: fields[2], Passhash: fields[3]})
	}
	if err := scanner.Err(); err != nil {
		return nil, codes.Wrap(codes.FileRead, "scan accounts file", err)
	}
	return out, nil
}

// rewriteAccounts atomically replaces the accounts file with the current
// in-memory set, write-temp-then-rename for crash tolerance.
func rewriteAccounts(path string, accounts []*Account) error {
	var b strings.Builder
	for _, a := range accounts {
		fmt.Fprintf(&b, "%s %s %s %s\n", a.UID, a.Username, a.Email, a.Passhash)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o600); err != nil {
		return codes.Wrap(codes.FileWrite, "write temp accounts file", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return codes.Wrap(codes.FileWrite, "atomic rename accounts file", err)
	}
	return nil
}
