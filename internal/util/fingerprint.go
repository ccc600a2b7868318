package util

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
)

// Fingerprint produces a stable digest of a tool name plus its argument map.
// Arguments are serialized with sorted keys so two semantically identical
// calls always hash the same regardless of map iteration order. The loop uses
// this to short-circuit identical repeated calls within one turn.
func Fingerprint(tool string, args map[string]any) string {
	var b strings.Builder
	b.WriteString(tool)
	b.WriteByte('\n')
	writeCanonical(&b, args)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

func writeCanonical(b *strings.Builder, v any) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(k)
			b.WriteByte(':')
			writeCanonical(b, val[k])
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, item)
		}
		b.WriteByte(']')
	default:
		fmt.Fprintf(b, "%v", val)
	}
}
