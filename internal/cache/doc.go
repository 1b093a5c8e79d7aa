// Package cache implements the disk tier: one file per cache key under a single
// directory that survives process restarts. Writes go through a temp file plus
// rename so concurrent readers never observe a partial payload, and every
// filesystem error is absorbed at this boundary: reads degrade to misses and
// writes degrade to "not persisted". Optional zstd compression and an optional
// size budget (oldest-mtime sweep) are layered on top without changing that
// contract.
package cache
