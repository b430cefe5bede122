// Package storage implements the L0 storage substrate: a versioned
// in-memory map from Key to a chain of VersionedValue entries, with
// prefix scans ordered lexicographically over the encoded key bytes.
//
// Combines a newest-first version chain per key with an ordered index
// for range scans and a map for point access, generalized so a chain
// entry is keyed by the single monotonic commit version the
// transaction layer assigns rather than by transaction id.
package storage

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

// TypeTag discriminates the primitive a key belongs to.
type TypeTag byte

const (
	TypeKV     TypeTag = 0x01
	TypeEvent  TypeTag = 0x02
	TypeState  TypeTag = 0x03
	TypeJSON   TypeTag = 0x04
	TypeVector TypeTag = 0x05
)

func (t TypeTag) String() string {
	switch t {
	case TypeKV:
		return "kv"
	case TypeEvent:
		return "event"
	case TypeState:
		return "state"
	case TypeJSON:
		return "json"
	case TypeVector:
		return "vector"
	default:
		return fmt.Sprintf("unknown(0x%02x)", byte(t))
	}
}

// Namespace is the 4-tuple (tenant, app, agent, branch) that scopes every
// key. Branch is the unit of isolation: its encoding is a fixed
// 16-byte prefix so scan_by_branch never needs to know tenant/app/
// agent to iterate a branch's keys.
type Namespace struct {
	Branch uuid.UUID
	Tenant string
	App    string
	Agent  string
}

// Encode serializes the namespace as branch(16B) + length-prefixed
// tenant/app/agent strings. Distinct namespaces never share an encoded
// prefix because every variable-length field carries its own length.
func (n Namespace) Encode() []byte {
	buf := make([]byte, 0, 16+3*2+len(n.Tenant)+len(n.App)+len(n.Agent))
	buf = append(buf, n.Branch[:]...)
	buf = appendLenPrefixed(buf, n.Tenant)
	buf = appendLenPrefixed(buf, n.App)
	buf = appendLenPrefixed(buf, n.Agent)
	return buf
}

func appendLenPrefixed(buf []byte, s string) []byte {
	var lenBuf [2]byte
	binary.BigEndian.PutUint16(lenBuf[:], uint16(len(s)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, s...)
	return buf
}

// DecodeNamespace parses the output of Encode, returning the namespace
// and the number of bytes consumed.
func DecodeNamespace(data []byte) (Namespace, int, error) {
	if len(data) < 16 {
		return Namespace{}, 0, fmt.Errorf("namespace: truncated branch id")
	}
	var ns Namespace
	copy(ns.Branch[:], data[:16])
	offset := 16

	fields := make([]string, 3)
	for i := range fields {
		if len(data) < offset+2 {
			return Namespace{}, 0, fmt.Errorf("namespace: truncated length prefix")
		}
		n := int(binary.BigEndian.Uint16(data[offset : offset+2]))
		offset += 2
		if len(data) < offset+n {
			return Namespace{}, 0, fmt.Errorf("namespace: truncated field")
		}
		fields[i] = string(data[offset : offset+n])
		offset += n
	}
	ns.Tenant, ns.App, ns.Agent = fields[0], fields[1], fields[2]
	return ns, offset, nil
}

// Key is (namespace, type_tag, user_bytes). Keys order lexicographically
// over their Encode()'d bytes, so a scan_prefix over a namespace or
// (namespace, type_tag) range is contiguous.
type Key struct {
	Namespace Namespace
	Type      TypeTag
	UserBytes []byte
}

// NewKey builds a Key for a given namespace/type/user-supplied suffix.
func NewKey(ns Namespace, t TypeTag, userBytes []byte) Key {
	ub := make([]byte, len(userBytes))
	copy(ub, userBytes)
	return Key{Namespace: ns, Type: t, UserBytes: ub}
}

// Encode returns the canonical, lexicographically-ordered byte form.
func (k Key) Encode() []byte {
	ns := k.Namespace.Encode()
	buf := make([]byte, 0, len(ns)+1+len(k.UserBytes))
	buf = append(buf, ns...)
	buf = append(buf, byte(k.Type))
	buf = append(buf, k.UserBytes...)
	return buf
}

// DecodeKey parses the output of Encode.
func DecodeKey(data []byte) (Key, error) {
	ns, offset, err := DecodeNamespace(data)
	if err != nil {
		return Key{}, err
	}
	if len(data) < offset+1 {
		return Key{}, fmt.Errorf("key: missing type tag")
	}
	t := TypeTag(data[offset])
	ub := append([]byte(nil), data[offset+1:]...)
	return Key{Namespace: ns, Type: t, UserBytes: ub}, nil
}

// BranchPrefix returns the fixed 16-byte prefix shared by every key in a
// branch, usable directly as the prefix argument to ScanPrefix.
func BranchPrefix(branch uuid.UUID) []byte {
	out := make([]byte, 16)
	copy(out, branch[:])
	return out
}

// NamespaceTypePrefix returns the prefix for a (namespace, type) scan.
func NamespaceTypePrefix(ns Namespace, t TypeTag) []byte {
	buf := ns.Encode()
	return append(buf, byte(t))
}
