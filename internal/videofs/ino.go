//go:build linux
// +build linux

package videofs

import "hash/fnv"

// inoFromString derives a stable inode number from a path-like key so the
// same logical file keeps the same inode across Lookup calls.
func inoFromString(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}
