// Package storage persists sealbatch state in Pebble.
//
// Keys are grouped by prefix:
//
//	ct/<handle>          zstd-compressed canonical ciphertext encodings
//	snapshot/<identity>  zstd-compressed JSON protocol snapshot
//	nonce/<address>      highest accepted envelope nonce, big-endian uint64
//
// Writes skip the WAL sync; a background loop syncs every 100ms and Close
// syncs once more, so a crash loses at most the last interval.
package storage
