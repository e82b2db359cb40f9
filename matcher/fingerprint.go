package matcher

import (
	"encoding/hex"

	"github.com/spaolacci/murmur3"
)

// fingerprint hashes sorted terms with murmur3-128; terms are NUL separated so
// {"ab","c"} and {"a","bc"} differ.
func fingerprint(sorted []string) string {
	h := murmur3.New128()
	for _, t := range sorted {
		_, _ = h.Write([]byte(t))
		_, _ = h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}
