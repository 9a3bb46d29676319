package collection

import (
	"bufio"
	"fmt"
	"strconv"
	"strings"

	"github.com/rsteinwert/csserver/pkg/codes"
	"github.com/rsteinwert/csserver/pkg/item"
)

// indexToken is one "name:numSubColls" entry from formattedCollections
// (or the legacy "collections" file, same grammar).
type indexToken struct {
	name         string
	numSubColls  int
}

func scanTokens(data []byte) []string {
	scanner := bufio.NewScanner(strings.NewReader(string(data)))
	scanner.Split(bufio.ScanWords)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	var toks []string
	for scanner.Scan() {
		toks = append(toks, scanner.Text())
	}
	return toks
}

func parseIndexTokens(data []byte) ([]indexToken, error) {
	raw := scanTokens(data)
	out := make([]indexToken, 0, len(raw))
	for _, tok := range raw {
		idx := strings.LastIndexByte(tok, ':')
		if idx < 0 {
			return nil, codes.New(codes.Parse, fmt.Sprintf("malformed index token %q", tok))
		}
		name := tok[:idx]
		n, err := strconv.Atoi(tok[idx+1:])
		if err != nil || name == "" {
			return nil, codes.New(codes.Parse, fmt.Sprintf("malformed index token %q", tok))
		}
		out = append(out, indexToken{name: name, numSubColls: n})
	}
	return out, nil
}

// encodeIndexTokens renders pre-order tokens as whitespace-separated text.
func encodeIndexTokens(toks []indexToken) []byte {
	var b strings.Builder
	for i, t := range toks {
		if i > 0 {
			b.WriteByte(' ')
		}
		fmt.Fprintf(&b, "%s:%d", t.name, t.numSubColls)
	}
	b.WriteByte('\n')
	return []byte(b.String())
}

// manifestEntry is one item record in a collection's Manifest file.
type manifestEntry struct {
	name       string
	owner      string
	perm       string
	typ        string
	created    int64
	modified   int64
	bytes      int64
}

func parseManifest(data []byte) ([]manifestEntry, error) {
	toks := scanTokens(data)
	if len(toks) == 0 {
		return nil, codes.New(codes.Parse, "empty manifest")
	}
	sizeTok := toks[0]
	if !strings.HasPrefix(sizeTok, "size:") {
		return nil, codes.New(codes.Parse, "manifest missing size header")
	}
	size, err := strconv.Atoi(strings.TrimPrefix(sizeTok, "size:"))
	if err != nil {
		return nil, codes.New(codes.Parse, "manifest malformed size header")
	}

	entries := make([]manifestEntry, 0, size)
	for _, tok := range toks[1:] {
		fields := strings.Split(tok, ":")
		if len(fields) != 7 {
			return nil, codes.New(codes.Parse, fmt.Sprintf("malformed manifest token %q", tok))
		}
		created, err1 := strconv.ParseInt(fields[4], 10, 64)
		modified, err2 := strconv.ParseInt(fields[5], 10, 64)
		bytesz, err3 := strconv.ParseInt(fields[6], 10, 64)
		if err1 != nil || err2 != nil || err3 != nil {
			return nil, codes.New(codes.Parse, fmt.Sprintf("malformed manifest token %q", tok))
		}
		entries = append(entries, manifestEntry{
			name:     fields[0],
			owner:    fields[1],
			perm:     fields[2],
			typ:      fields[3],
			created:  created,
			modified: modified,
			bytes:    bytesz,
		})
	}
	if len(entries) != size {
		return nil, codes.New(codes.Parse, "manifest size header does not match token count")
	}
	return entries, nil
}

func encodeManifest(items []*item.Item) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "size:%d", len(items))
	for _, it := range items {
		fmt.Fprintf(&b, " %s:%s:%s:%s:%d:%d:%d",
			it.Name, it.Owner, it.Perm, it.Type, it.CreatedAt, it.ModifiedAt, it.DataSize)
	}
	b.WriteByte('\n')
	return []byte(b.String())
}

func entryToItem(e manifestEntry) (*item.Item, error) {
	perm, ok := item.ParsePermission(e.perm)
	if !ok {
		return nil, codes.New(codes.Parse, fmt.Sprintf("unknown permission %q", e.perm))
	}
	typ, ok := item.ParseDataType(e.typ)
	if !ok {
		return nil, codes.New(codes.Parse, fmt.Sprintf("unknown data type %q", e.typ))
	}
	return item.New(e.name, e.owner, perm, typ, e.created, e.modified, e.bytes), nil
}
