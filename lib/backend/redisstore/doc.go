// Package redisstore provides a store.Backend persisting entries in redis.
//
// Each entry is stored as a single JSON value under a prefixed key
// ("stripekv:entry:<key>"). The JSON payload carries the original key, the
// value and the expiry, so entries can be reconstructed from the value alone.
// Entries with an expiry additionally get a redis TTL via PEXPIREAT, redis
// then drops them without any involvement of this backend. Reads still check
// the expiry themselves since the clocks of redis and this process may
// disagree.
//
// The backend maps failing redis commands to store.RetCUnavailable. Callers
// can detect an unreachable redis with store.IsUnavailable and treat it
// differently from data-level errors.
//
// Aggregate operations (LoadAll, LoadN, LoadKeys, Clear, snapshots) iterate
// the keyspace with SCAN, so they never block the redis server the way KEYS
// would. They are only consistent because the lockstore controller invokes
// them under its global lock.
//
// Snapshots are streams of JSON lines, one entry per line. An import clears
// the backend's keyspace first, foreign keys outside the backend's prefix
// are never touched.
package redisstore
