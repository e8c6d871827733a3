package redisstore

import (
	"bufio"
	"context"
	"errors"
	"io"
	"time"

	"github.com/cachekit/stripekv/lib/store"
	"github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
)

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	keyPrefix      = "stripekv:entry:" // Prefix for all keys owned by this backend
	scanBatchSize  = 256               // Keys per SCAN iteration
	defaultTimeout = 5 * time.Second   // Per-command timeout
)

// --------------------------------------------------------------------------
// Core Backend Structure
// --------------------------------------------------------------------------

// wireEntry is the JSON representation of an entry stored in redis and in
// snapshot streams. The key is part of the payload so entries can be
// reconstructed without parsing redis keys.
type wireEntry struct {
	Key       string `json:"key"`
	Value     []byte `json:"value"`
	ExpiresAt int64  `json:"expires_at"`
}

// redisImpl is a store.Backend persisting entries in redis. Each entry is a
// single JSON value under a prefixed key. Entries with an expiry additionally
// get a redis TTL so redis drops them on its own.
type redisImpl struct {
	client  redis.UniversalClient
	timeout time.Duration
	now     func() int64
}

// New creates a new redis backend on top of the given client. The client is
// not closed by the backend, its lifecycle belongs to the caller.
func New(client redis.UniversalClient) store.Backend {
	return &redisImpl{
		client:  client,
		timeout: defaultTimeout,
		now:     func() int64 { return time.Now().UnixMilli() },
	}
}

func (rs *redisImpl) ctx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), rs.timeout)
}

// wrapErr maps redis command errors to the store error taxonomy. A failing
// redis command means the backing store is unreachable or refusing work,
// which callers distinguish from data-level errors via store.IsUnavailable.
func wrapErr(err error) error {
	return store.NewError(store.RetCUnavailable, err.Error())
}

// --------------------------------------------------------------------------
// Backend Interface Methods - Keyed Operations
// --------------------------------------------------------------------------

// LockKey returns the prefixed redis key. All controller locking happens on
// the same name the backend uses in redis.
func (rs *redisImpl) LockKey(key string) (string, error) {
	return keyPrefix + key, nil
}

func (rs *redisImpl) LoadLocked(_, lockKey string) (store.Entry, bool, error) {
	ctx, cancel := rs.ctx()
	defer cancel()

	data, err := rs.client.Get(ctx, lockKey).Bytes()
	if errors.Is(err, redis.Nil) {
		return store.Entry{}, false, nil
	}
	if err != nil {
		return store.Entry{}, false, wrapErr(err)
	}

	var we wireEntry
	if err := json.Unmarshal(data, &we); err != nil {
		return store.Entry{}, false, err
	}

	e := store.Entry{Key: we.Key, Value: we.Value, ExpiresAt: we.ExpiresAt}
	if e.Expired(rs.now()) {
		return store.Entry{}, false, nil
	}
	return e, true, nil
}

func (rs *redisImpl) StoreLocked(e store.Entry, lockKey string) error {
	data, err := json.Marshal(wireEntry{Key: e.Key, Value: e.Value, ExpiresAt: e.ExpiresAt})
	if err != nil {
		return err
	}

	ctx, cancel := rs.ctx()
	defer cancel()

	if err := rs.client.Set(ctx, lockKey, data, 0).Err(); err != nil {
		return wrapErr(err)
	}
	if e.CanExpire() {
		if err := rs.client.PExpireAt(ctx, lockKey, time.UnixMilli(e.ExpiresAt)).Err(); err != nil {
			return wrapErr(err)
		}
	}
	return nil
}

func (rs *redisImpl) RemoveLocked(_, lockKey string) (bool, error) {
	ctx, cancel := rs.ctx()
	defer cancel()

	n, err := rs.client.Del(ctx, lockKey).Result()
	if err != nil {
		return false, wrapErr(err)
	}
	return n > 0, nil
}

// --------------------------------------------------------------------------
// Backend Interface Methods - Aggregate Operations
// --------------------------------------------------------------------------

// scanKeys iterates over all redis keys owned by this backend.
func (rs *redisImpl) scanKeys(ctx context.Context, fn func(redisKey string) error) error {
	var cursor uint64
	for {
		keys, next, err := rs.client.Scan(ctx, cursor, keyPrefix+"*", scanBatchSize).Result()
		if err != nil {
			return wrapErr(err)
		}
		for _, k := range keys {
			if err := fn(k); err != nil {
				return err
			}
		}
		if next == 0 {
			return nil
		}
		cursor = next
	}
}

// scanEntries iterates over all live entries owned by this backend.
func (rs *redisImpl) scanEntries(ctx context.Context, fn func(e store.Entry) bool) error {
	now := rs.now()
	return rs.scanKeys(ctx, func(redisKey string) error {
		data, err := rs.client.Get(ctx, redisKey).Bytes()
		if errors.Is(err, redis.Nil) {
			// Deleted between SCAN and GET
			return nil
		}
		if err != nil {
			return wrapErr(err)
		}

		var we wireEntry
		if err := json.Unmarshal(data, &we); err != nil {
			return err
		}

		e := store.Entry{Key: we.Key, Value: we.Value, ExpiresAt: we.ExpiresAt}
		if e.Expired(now) {
			return nil
		}
		if !fn(e) {
			return errStopScan
		}
		return nil
	})
}

// errStopScan terminates a scan early, it never escapes to callers.
var errStopScan = errors.New("stop scan")

func (rs *redisImpl) ClearLocked() error {
	ctx, cancel := rs.ctx()
	defer cancel()

	var batch []string
	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := rs.client.Del(ctx, batch...).Err(); err != nil {
			return wrapErr(err)
		}
		batch = batch[:0]
		return nil
	}

	if err := rs.scanKeys(ctx, func(redisKey string) error {
		batch = append(batch, redisKey)
		if len(batch) >= scanBatchSize {
			return flush()
		}
		return nil
	}); err != nil {
		return err
	}
	return flush()
}

func (rs *redisImpl) LoadAllLocked() ([]store.Entry, error) {
	ctx, cancel := rs.ctx()
	defer cancel()

	var out []store.Entry
	if err := rs.scanEntries(ctx, func(e store.Entry) bool {
		out = append(out, e)
		return true
	}); err != nil {
		return nil, err
	}
	return out, nil
}

func (rs *redisImpl) LoadNLocked(maxEntries int) ([]store.Entry, error) {
	ctx, cancel := rs.ctx()
	defer cancel()

	out := make([]store.Entry, 0, min(maxEntries, scanBatchSize))
	err := rs.scanEntries(ctx, func(e store.Entry) bool {
		if len(out) >= maxEntries {
			return false
		}
		out = append(out, e)
		return len(out) < maxEntries
	})
	if err != nil && !errors.Is(err, errStopScan) {
		return nil, err
	}
	return out, nil
}

func (rs *redisImpl) LoadKeysLocked(exclude map[string]struct{}) ([]string, error) {
	ctx, cancel := rs.ctx()
	defer cancel()

	var keys []string
	if err := rs.scanEntries(ctx, func(e store.Entry) bool {
		if _, skip := exclude[e.Key]; !skip {
			keys = append(keys, e.Key)
		}
		return true
	}); err != nil {
		return nil, err
	}
	return keys, nil
}

// --------------------------------------------------------------------------
// Snapshot Operations
// --------------------------------------------------------------------------

// ExportLocked writes all live entries to the writer as a stream of JSON
// lines. Expired entries are skipped.
func (rs *redisImpl) ExportLocked(w io.Writer) error {
	ctx, cancel := rs.ctx()
	defer cancel()

	bw := bufio.NewWriterSize(w, 1024*1024) // 1 MB buffer
	enc := json.NewEncoder(bw)

	var encErr error
	err := rs.scanEntries(ctx, func(e store.Entry) bool {
		encErr = enc.Encode(wireEntry{Key: e.Key, Value: e.Value, ExpiresAt: e.ExpiresAt})
		return encErr == nil
	})
	if encErr != nil {
		return encErr
	}
	if err != nil && !errors.Is(err, errStopScan) {
		return err
	}
	return bw.Flush()
}

// ImportLocked replaces the backend contents with the entries from the reader.
func (rs *redisImpl) ImportLocked(r io.Reader) error {
	// The snapshot replaces the contents, not merges into them
	if err := rs.ClearLocked(); err != nil {
		return err
	}

	dec := json.NewDecoder(bufio.NewReaderSize(r, 1024*1024))
	for {
		var we wireEntry
		if err := dec.Decode(&we); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := rs.StoreLocked(store.Entry{Key: we.Key, Value: we.Value, ExpiresAt: we.ExpiresAt}, keyPrefix+we.Key); err != nil {
			return err
		}
	}
}
