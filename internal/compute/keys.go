package compute

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// Wasm state keys are stored hex-encoded. A composed key follows the
// CosmWasm map layout: every segment except the last is prefixed with its
// big-endian u16 length, the final segment is appended raw. Numeric
// segments encode as 8 big-endian bytes. Hex keeps the byte-prefix
// relation intact, so a SQL LIKE 'prefix%' on the encoded column matches
// exactly the keys nested under that prefix.

// KeyType selects how the trailing segment of a map key is decoded back
// into a map key for GetMap.
type KeyType string

const (
	KeyTypeString KeyType = "string"
	KeyTypeNumber KeyType = "number"
	KeyTypeRaw    KeyType = "raw"
)

func encodeKeySegment(segment any) ([]byte, error) {
	switch s := segment.(type) {
	case string:
		return []byte(s), nil
	case []byte:
		return s, nil
	case uint64:
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, s)
		return b, nil
	case uint32:
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, uint64(s))
		return b, nil
	case int:
		if s < 0 {
			return nil, fmt.Errorf("negative key segment %d", s)
		}
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, uint64(s))
		return b, nil
	case int64:
		if s < 0 {
			return nil, fmt.Errorf("negative key segment %d", s)
		}
		b := make([]byte, 8)
		binary.BigEndian.PutUint64(b, uint64(s))
		return b, nil
	default:
		return nil, fmt.Errorf("unsupported key segment type %T", segment)
	}
}

// ComposeKey builds the hex-encoded storage key for the given segments,
// length-prefixing every segment except the last.
func ComposeKey(segments ...any) (string, error) {
	if len(segments) == 0 {
		return "", fmt.Errorf("empty key")
	}
	var out []byte
	for i, segment := range segments {
		raw, err := encodeKeySegment(segment)
		if err != nil {
			return "", err
		}
		if i < len(segments)-1 {
			out = binary.BigEndian.AppendUint16(out, uint16(len(raw)))
		}
		out = append(out, raw...)
	}
	return hex.EncodeToString(out), nil
}

// ComposeKeyPrefix builds the hex-encoded prefix covering every key nested
// under the given segments. All segments are length-prefixed, since at
// least one more segment follows in any matching key.
func ComposeKeyPrefix(segments ...any) (string, error) {
	if len(segments) == 0 {
		return "", fmt.Errorf("empty key prefix")
	}
	var out []byte
	for _, segment := range segments {
		raw, err := encodeKeySegment(segment)
		if err != nil {
			return "", err
		}
		out = binary.BigEndian.AppendUint16(out, uint16(len(raw)))
		out = append(out, raw...)
	}
	return hex.EncodeToString(out), nil
}

// decodeTrailingSegment interprets the bytes of a key that remain after a
// map prefix, turning them into the map key exposed by GetMap.
func decodeTrailingSegment(hexTail string, keyType KeyType) (string, error) {
	raw, err := hex.DecodeString(hexTail)
	if err != nil {
		return "", fmt.Errorf("decode key %q: %w", hexTail, err)
	}
	switch keyType {
	case KeyTypeString:
		return string(raw), nil
	case KeyTypeNumber:
		if len(raw) != 8 {
			return "", fmt.Errorf("numeric key segment is %d bytes, want 8", len(raw))
		}
		return fmt.Sprintf("%d", binary.BigEndian.Uint64(raw)), nil
	case KeyTypeRaw:
		return hexTail, nil
	default:
		return "", fmt.Errorf("unknown key type %q", keyType)
	}
}
