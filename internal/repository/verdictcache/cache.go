package verdictcache

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/kailas-cloud/addrscore/internal/db"
	"github.com/kailas-cloud/addrscore/internal/domain"
	"github.com/kailas-cloud/addrscore/internal/domain/feature"
	"github.com/kailas-cloud/addrscore/internal/domain/verdict"
)

var cacheKeyPrefix = domain.KeyPrefix + "verdict:"

// entrySize is a little-endian float32 probability followed by the illicit flag.
const entrySize = 5

// store is the consumer interface for the verdict cache (ISP).
type store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
}

// Cache keeps verdicts in a key-value store. Store faults are logged and
// reported as misses.
type Cache struct {
	store      store
	cacheTotal *prometheus.CounterVec
	logger     *zap.Logger
}

// New creates a verdict cache.
// cacheTotal is a counter vec with label "result" ("hit"/"miss"), passed explicitly.
func New(s store, cacheTotal *prometheus.CounterVec, logger *zap.Logger) *Cache {
	return &Cache{store: s, cacheTotal: cacheTotal, logger: logger}
}

// Get returns the cached verdict for vec under the given model fingerprint.
func (c *Cache) Get(ctx context.Context, fingerprint string, vec feature.Vector) (verdict.Verdict, bool) {
	key := cacheKey(fingerprint, vec)

	data, err := c.store.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, db.ErrKeyNotFound) {
			c.logger.Warn("Failed to get cached verdict", zap.String("key", key), zap.Error(err))
		}
		c.incCache("miss")
		return verdict.Verdict{}, false
	}

	v, err := decodeEntry(data)
	if err != nil {
		c.logger.Warn("Failed to parse cached verdict", zap.String("key", key), zap.Error(err))
		c.incCache("miss")
		return verdict.Verdict{}, false
	}

	c.incCache("hit")
	return v, true
}

// Put stores v for vec under the given model fingerprint.
func (c *Cache) Put(ctx context.Context, fingerprint string, vec feature.Vector, v verdict.Verdict) {
	key := cacheKey(fingerprint, vec)
	if err := c.store.Set(ctx, key, encodeEntry(v)); err != nil {
		c.logger.Warn("Failed to cache verdict", zap.String("key", key), zap.Error(err))
	}
}

func (c *Cache) incCache(result string) {
	if c.cacheTotal != nil {
		c.cacheTotal.WithLabelValues(result).Inc()
	}
}

// cacheKey hashes the model fingerprint together with the canonical vector
// bytes, so a new artifact never reads verdicts of an old one.
func cacheKey(fingerprint string, vec feature.Vector) string {
	h := sha256.New()
	h.Write([]byte(fingerprint))
	h.Write(vec.Bytes())
	return cacheKeyPrefix + hex.EncodeToString(h.Sum(nil))
}

func encodeEntry(v verdict.Verdict) []byte {
	buf := make([]byte, entrySize)
	binary.LittleEndian.PutUint32(buf, math.Float32bits(v.Probability()))
	if v.IsIllicit() {
		buf[4] = 1
	}
	return buf
}

func decodeEntry(data []byte) (verdict.Verdict, error) {
	if len(data) != entrySize {
		return verdict.Verdict{}, fmt.Errorf("invalid verdict cache data: len=%d", len(data))
	}
	v, err := verdict.New(math.Float32frombits(binary.LittleEndian.Uint32(data)))
	if err != nil {
		return verdict.Verdict{}, fmt.Errorf("invalid verdict cache data: %w", err)
	}
	if flag := data[4] == 1; flag != v.IsIllicit() || data[4] > 1 {
		return verdict.Verdict{}, fmt.Errorf("invalid verdict cache data: flag %d disagrees with %v", data[4], v.Probability())
	}
	return v, nil
}
