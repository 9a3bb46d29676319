// Package protocol implements the wire format spoken between a client and
// a ConnectionWorker: a 6-byte header followed by a fixed body shape per
// command, all big-endian, length-prefixed strings and data bounded by
// MaxStringLen, MaxPathLen, MaxDataLen or MaxGetDataLen.
package protocol

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/rsteinwert/csserver/pkg/codes"
	"github.com/rsteinwert/csserver/pkg/item"
)

// HeaderSize is the fixed length of every request/reply header: a
// 4-byte session id followed by a 2-byte command word.
const HeaderSize = 6

// MaxStringLen bounds login fields (username, email, password).
const MaxStringLen = 128

// MaxPathLen bounds collection/item paths.
const MaxPathLen = 4096

// MaxDataLen bounds a single POST body accepted in one frame: like every
// other variable-length field, POST data is framed with a uint16_be
// length prefix.
const MaxDataLen = 0xFFFF

// MaxGetDataLen bounds a single GET reply payload. The GET reply frames
// its data with a uint64_be size rather than the generic uint16_be used
// elsewhere, so large items can be read in one frame.
const MaxGetDataLen = 1 << 32

// Header is the 6-byte frame prefix shared by every request and reply.
type Header struct {
	SessionID uint32
	Word      uint16
}

// Flags extracts the 8-bit flags field packed into the command word.
func (h Header) Flags() uint8 {
	return uint8((h.Word & 0x0FF0) >> 4)
}

// Command extracts the command code packed into the command word.
func (h Header) Command() uint16 {
	return h.Word & 0xF00F
}

// NewWord packs a command code and flags byte into a single command word.
func NewWord(command uint16, flags uint8) uint16 {
	return (command & 0xF00F) | (uint16(flags) << 4 & 0x0FF0)
}

// ReadHeader reads the 6-byte header from r.
func ReadHeader(r io.Reader) (Header, error) {
	var buf [HeaderSize]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return Header{}, err
	}
	return Header{
		SessionID: binary.BigEndian.Uint32(buf[0:4]),
		Word:      binary.BigEndian.Uint16(buf[4:6]),
	}, nil
}

// WriteHeader writes h's 6 bytes to w.
func WriteHeader(w io.Writer, h Header) error {
	var buf [HeaderSize]byte
	binary.BigEndian.PutUint32(buf[0:4], h.SessionID)
	binary.BigEndian.PutUint16(buf[4:6], h.Word)
	_, err := w.Write(buf[:])
	return err
}

// readString decodes a uint16_be length prefix followed by that many
// bytes, rejecting anything over max.
func readString(r io.Reader, max int) (string, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return "", err
	}
	n := int(binary.BigEndian.Uint16(lenBuf[:]))
	if n > max {
		return "", codes.New(codes.CommandFormat, fmt.Sprintf("string field of %d bytes exceeds bound %d", n, max))
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// writeString encodes s as a uint16_be length prefix followed by its bytes.
func writeString(w io.Writer, s string) error {
	if len(s) > 0xFFFF {
		return codes.New(codes.CommandFormat, "string field too long to frame")
	}
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(s)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

// readData decodes a uint16_be length prefix followed by that many bytes,
// rejecting anything over max.
func readData(r io.Reader, max int) ([]byte, error) {
	var lenBuf [2]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := int(binary.BigEndian.Uint16(lenBuf[:]))
	if n > max {
		return nil, codes.New(codes.CommandFormat, fmt.Sprintf("data field of %d bytes exceeds bound %d", n, max))
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// writeData encodes data as a uint16_be length prefix followed by its
// bytes. Callers must ensure len(data) <= MaxDataLen.
func writeData(w io.Writer, data []byte) error {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// readSizedData decodes a uint64_be length prefix followed by that many
// bytes, rejecting anything over max. Used only by the GET reply, whose
// data frame is wider than the generic uint16_be fields elsewhere.
func readSizedData(r io.Reader, max uint64) ([]byte, error) {
	var lenBuf [8]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint64(lenBuf[:])
	if n > max {
		return nil, codes.New(codes.CommandFormat, fmt.Sprintf("data field of %d bytes exceeds bound %d", n, max))
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// writeSizedData encodes data as a uint64_be length prefix followed by
// its bytes.
func writeSizedData(w io.Writer, data []byte) error {
	var lenBuf [8]byte
	binary.BigEndian.PutUint64(lenBuf[:], uint64(len(data)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}

// dataTypeFromFlags and flagsFromDataType translate between the GET
// header's flags byte and item.DataType. The low 3 bits hold the type.
func dataTypeFromFlags(flags uint8) (item.DataType, error) {
	t := item.DataType(flags & 0x07)
	switch t {
	case item.Text, item.Image, item.Audio, item.Video, item.Stream, item.AudioStream:
		return t, nil
	default:
		return 0, codes.New(codes.CommandFormat, "unknown resource type flag")
	}
}

func flagsFromDataType(t item.DataType) uint8 {
	return uint8(t) & 0x07
}
