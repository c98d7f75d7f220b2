package utils

import "hash/fnv"

// AdvisoryLockKey computes a stable 64-bit key for
// pg_try_advisory_xact_lock from a literal name, per spec.md §9
// ("a stable 64-bit hash of the literal string
// chainsharp_manifest_manager"). Postgres advisory lock keys are
// signed bigint; the FNV-1a hash is truncated into that range.
func AdvisoryLockKey(name string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(name))
	return int64(h.Sum64())
}
