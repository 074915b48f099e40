// Package wire implements the PEP message encoding: a 4-byte message magic derived from
// the cross-platform type name, protobuf-encoded fields, length-prefixed framing, and
// the deserializable error taxonomy that lets a client re-raise the precise error kind a
// server produced.
package wire

import (
	"encoding/binary"
	"fmt"
	"sort"
	"sync"

	"github.com/OneOfOne/xxhash"
)

// MessageMagic identifies a message type on the wire.
type MessageMagic = uint32

// MagicBytes is the length of the serialized magic.
const MagicBytes = 4

// magicSeed is fixed: changing it would break every persisted message.
const magicSeed = 0xcafebabe

// CalculateMessageMagic computes the magic for a cross-platform type name.
func CalculateMessageMagic(crossPlatformName string) MessageMagic {
	return xxhash.Checksum32S([]byte(crossPlatformName), magicSeed)
}

var (
	magicsMu sync.RWMutex
	magics   = map[MessageMagic]string{}
)

// RegisterMessageName computes and registers the magic for a message type name. It
// panics on a magic collision between two registered names, which would make the wire
// format ambiguous.
func RegisterMessageName(crossPlatformName string) MessageMagic {
	magic := CalculateMessageMagic(crossPlatformName)
	magicsMu.Lock()
	defer magicsMu.Unlock()
	if existing, ok := magics[magic]; ok && existing != crossPlatformName {
		panic(fmt.Sprintf("wire: duplicate message magic %d for %q and %q", magic, existing, crossPlatformName))
	}
	magics[magic] = crossPlatformName
	return magic
}

// DescribeMessageMagic returns the registered type name for a magic, or a placeholder
// for unknown magics.
func DescribeMessageMagic(magic MessageMagic) string {
	magicsMu.RLock()
	defer magicsMu.RUnlock()
	if name, ok := magics[magic]; ok {
		return name
	}
	return fmt.Sprintf("<UNKNOWN MESSAGE TYPE: %d>", magic)
}

// RegisteredMessageNames returns the sorted names of all registered message types.
func RegisteredMessageNames() []string {
	magicsMu.RLock()
	defer magicsMu.RUnlock()
	names := make([]string, 0, len(magics))
	for _, name := range magics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PeekMagic reads the magic from the head of a serialized message.
func PeekMagic(data []byte) (MessageMagic, error) {
	if len(data) < MagicBytes {
		return 0, &SerializeError{Description: "message shorter than its magic"}
	}
	return binary.BigEndian.Uint32(data), nil
}

func appendMagic(dst []byte, magic MessageMagic) []byte {
	return binary.BigEndian.AppendUint32(dst, magic)
}

// skipMagic verifies the message's magic and returns the body.
func skipMagic(data []byte, want MessageMagic) ([]byte, error) {
	magic, err := PeekMagic(data)
	if err != nil {
		return nil, err
	}
	if magic != want {
		return nil, &SerializeError{Description: fmt.Sprintf(
			"unexpected message magic: got %s, want %s",
			DescribeMessageMagic(magic), DescribeMessageMagic(want))}
	}
	return data[MagicBytes:], nil
}
