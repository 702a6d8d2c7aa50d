package keyspace

import "bytes"

// Book names are compared as raw bytes. Two names match only when they are
// the same string; no case folding or Unicode normalization is applied.

// NameKey encodes a book name for use as an ordered index key prefix.
//
// The encoding is order preserving and self delimiting: 0x00 bytes are
// escaped as 0x00 0xFF and the key ends with 0x00 0x01. Comparing two keys
// with bytes.Compare gives the same order as comparing the names with <,
// and no key is a prefix of a key for a different name.
func NameKey(name string) []byte {
	buf := make([]byte, 0, len(name)+2)
	for i := 0; i < len(name); i++ {
		buf = append(buf, name[i])
		if name[i] == 0x00 {
			buf = append(buf, 0xFF)
		}
	}
	return append(buf, 0x00, 0x01)
}

// CompareNames orders two book names the way every store lists them.
func CompareNames(a, b string) int {
	return bytes.Compare(NameKey(a), NameKey(b))
}
