// Package shard picks lock buckets for string keys. The presence, typing and
// voice components each keep a fixed array of mutex-guarded maps and use Index
// to route a key to its bucket, so unrelated keys rarely contend and no code
// path ever needs to hold two bucket locks at once.
package shard

import "github.com/cespare/xxhash/v2"

// DefaultCount is the bucket count used when a component is not configured
// otherwise. It is a power of two so Index reduces to a mask.
const DefaultCount = 64

// Index returns the bucket for key among n buckets. n must be a power of two.
func Index(key string, n int) int {
	return int(xxhash.Sum64String(key) & uint64(n-1))
}
