package responsecache

import (
	"net/url"
	"sort"

	"github.com/cespare/xxhash"
)

// BypassParam disables the cache for a read, it never takes part in the fingerprint
const BypassParam = "skipCache"

// Fingerprint hashes the parts of a request that affect its output.
// Parameter order and the order of repeated values don't matter.
func Fingerprint(method, path string, query url.Values) uint64 {
	keys := make([]string, 0, len(query))
	for k := range query {
		if k != BypassParam {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	h := xxhash.New()
	_, _ = h.Write([]byte(method))
	_, _ = h.Write([]byte{0})
	_, _ = h.Write([]byte(path))
	for _, k := range keys {
		values := append([]string(nil), query[k]...)
		sort.Strings(values)
		for _, v := range values {
			_, _ = h.Write([]byte{0})
			_, _ = h.Write([]byte(k))
			_, _ = h.Write([]byte{'='})
			_, _ = h.Write([]byte(v))
		}
	}
	return h.Sum64()
}
