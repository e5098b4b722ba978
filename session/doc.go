// Package session implements the Redis-backed session store: persistence,
// per-user enumeration, FIFO eviction support, revocation, and atomic
// refresh-token rotation.
//
// Session records are stored as versioned binary blobs with a fixed-offset
// header so the rotation and revocation Lua scripts can operate on them
// without a full decode. The refresh hash compare-and-swap inside
// [Store.RotateRefreshHash] is what guarantees a replayed refresh token
// fails after first use: among N concurrent rotations with the same
// provided hash, exactly one observes a match.
//
// # What this package must NOT do
//
//   - Hold in-process locks for cross-request coordination. Handlers may
//     run in different processes; all coordination lives in Redis.
//   - Store refresh secrets. Only SHA-256 hashes are persisted.
package session
