// Package item implements the Item value object: a named, typed, owned
// blob of bytes lazily loaded from disk.
package item

import (
	"io"
	"os"

	"github.com/rsteinwert/csserver/pkg/codes"
)

// Permission controls who may read an item.
type Permission uint8

const (
	Private Permission = iota
	Unlisted
	Public
)

func (p Permission) String() string {
	switch p {
	case Private:
		return "PRIVATE"
	case Unlisted:
		return "UNLISTED"
	case Public:
		return "PUBLIC"
	default:
		return "UNKNOWN"
	}
}

// ParsePermission parses the Manifest token form of a permission.
func ParsePermission(s string) (Permission, bool) {
	switch s {
	case "PRIVATE":
		return Private, true
	case "UNLISTED":
		return Unlisted, true
	case "PUBLIC":
		return Public, true
	default:
		return 0, false
	}
}

// DataType is the type of content an item holds.
type DataType uint8

const (
	Text DataType = iota
	Image
	Audio
	Video
	Stream
	AudioStream
)

func (d DataType) String() string {
	switch d {
	case Text:
		return "TEXT"
	case Image:
		return "IMAGE"
	case Audio:
		return "AUDIO"
	case Video:
		return "VIDEO"
	case Stream:
		return "STREAM"
	case AudioStream:
		return "AUDIO_STREAM"
	default:
		return "UNKNOWN"
	}
}

// ParseDataType parses the Manifest token form of a data type.
func ParseDataType(s string) (DataType, bool) {
	switch s {
	case "TEXT":
		return Text, true
	case "IMAGE":
		return Image, true
	case "AUDIO":
		return Audio, true
	case "VIDEO":
		return Video, true
	case "STREAM":
		return Stream, true
	case "AUDIO_STREAM":
		return AudioStream, true
	default:
		return 0, false
	}
}

// Item is a leaf value in a Collection: metadata always present, payload
// present only when Load has been called (and not since Unload-ed).
type Item struct {
	Name       string
	Owner      string // empty means no owner
	Perm       Permission
	Type       DataType
	CreatedAt  int64
	ModifiedAt int64
	DataSize   int64

	payload []byte
	loaded  bool
}

// New constructs an unloaded Item record.
func New(name, owner string, perm Permission, typ DataType, createdAt, modifiedAt, dataSize int64) *Item {
	return &Item{
		Name:       name,
		Owner:      owner,
		Perm:       perm,
		Type:       typ,
		CreatedAt:  createdAt,
		ModifiedAt: modifiedAt,
		DataSize:   dataSize,
	}
}

// IsLoaded reports whether the payload is currently resident in memory.
func (it *Item) IsLoaded() bool {
	return it.loaded
}

// Payload returns the resident payload, or nil if not loaded.
func (it *Item) Payload() []byte {
	if !it.loaded {
		return nil
	}
	return it.payload
}

// Unload drops the in-memory payload without touching metadata.
func (it *Item) Unload() {
	it.payload = nil
	it.loaded = false
}

// SetData installs payload directly (used by replace_item to make the new
// payload resident before Write puts it on disk, so no disk read is
// needed) and updates DataSize to match.
func (it *Item) SetData(buf []byte) {
	it.payload = buf
	it.loaded = true
	it.DataSize = int64(len(buf))
}

// Load reads the item's payload from path, applying the TEXT
// null-termination convention: for TEXT items,
// DataSize counts a trailing NUL that is not present in the source file,
// so only DataSize-1 bytes are read and a NUL is appended.
func (it *Item) Load(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return codes.Wrap(codes.FileOpen, "open item payload", err)
	}
	defer f.Close()

	readSize := it.DataSize
	appendNul := false
	if it.Type == Text && readSize > 0 {
		readSize--
		appendNul = true
	}

	buf := make([]byte, readSize, it.DataSize)
	if readSize > 0 {
		if _, err := io.ReadFull(f, buf); err != nil {
			return codes.Wrap(codes.FileRead, "read item payload", err)
		}
	}
	if appendNul {
		buf = append(buf, 0)
	}

	it.payload = buf
	it.loaded = true
	return nil
}

// Write truncates path and writes the resident payload to it. For TEXT
// items the trailing NUL counted in DataSize is not written to disk,
// mirroring the split Load applies in reverse.
func (it *Item) Write(path string) error {
	if !it.loaded {
		return codes.New(codes.FileWrite, "item has no resident payload to write")
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return codes.Wrap(codes.FileOpen, "open item payload for write", err)
	}
	defer f.Close()

	out := it.payload
	if it.Type == Text && len(out) > 0 && out[len(out)-1] == 0 {
		out = out[:len(out)-1]
	}
	if _, err := f.Write(out); err != nil {
		return codes.Wrap(codes.FileWrite, "write item payload", err)
	}
	return nil
}

// GetData copies min(len(buf), DataSize-offset) bytes starting at offset
// into buf, loading the payload on demand. For TEXT items the trailing
// NUL counted in DataSize is not copied, so a reader gets exactly the
// bytes that were written. Returns the number of bytes copied; 0 on any
// failure or when offset >= DataSize.
func (it *Item) GetData(path string, offset int64, buf []byte) int {
	if offset < 0 || offset >= it.DataSize {
		return 0
	}
	if !it.loaded {
		if err := it.Load(path); err != nil {
			return 0
		}
	}
	data := it.payload
	if it.Type == Text && len(data) > 0 && data[len(data)-1] == 0 {
		data = data[:len(data)-1]
	}
	remaining := int64(len(data)) - offset
	if remaining <= 0 {
		return 0
	}
	n := int64(len(buf))
	if remaining < n {
		n = remaining
	}
	copy(buf[:n], data[offset:offset+n])
	return int(n)
}
