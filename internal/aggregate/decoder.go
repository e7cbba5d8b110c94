package aggregate

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/Masterminds/semver/v3"
	lru "github.com/hashicorp/golang-lru/v2"
	"go.uber.org/zap"

	"github.com/iVampireSP/bindgraph/internal/metrics"
)

// DefaultCacheSize bounds the number of decoded records kept in memory.
const DefaultCacheSize = 4096

type decoded struct {
	rec Record
	ok  bool
	err error
}

// Decoder turns raw directive values into records. Identical directives are
// decoded once; the same aggregation package is often seen by many roots.
type Decoder struct {
	supported *semver.Version
	cache     *lru.Cache[[sha256.Size]byte, decoded]
	logger    *zap.Logger
	metrics   *metrics.Metrics
}

// NewDecoder returns a decoder caching up to size records.
func NewDecoder(size int, logger *zap.Logger, m *metrics.Metrics) (*Decoder, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if size <= 0 {
		size = DefaultCacheSize
	}
	cache, err := lru.New[[sha256.Size]byte, decoded](size)
	if err != nil {
		return nil, fmt.Errorf("create record cache: %w", err)
	}
	return &Decoder{
		supported: semver.MustParse(SchemaVersion),
		cache:     cache,
		logger:    logger,
		metrics:   m,
	}, nil
}

// Decode parses one directive value. It reports false for records this
// version skips: unknown kinds and newer major schema versions.
func (d *Decoder) Decode(raw string) (Record, bool, error) {
	d.metrics.RecordScanned()
	sum := sha256.Sum256([]byte(raw))
	res, hit := d.cache.Get(sum)
	if !hit {
		res = d.decode(raw)
		d.cache.Add(sum, res)
	}
	if !res.ok && res.err == nil {
		d.metrics.RecordIgnored(ignoreReason(res.rec, d.supported))
	}
	return res.rec, res.ok, res.err
}

func (d *Decoder) decode(raw string) decoded {
	var rec Record
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return decoded{err: fmt.Errorf("decode record directive: %w", err)}
	}
	if rec.ID == "" {
		return decoded{err: fmt.Errorf("record of kind %q has no id", rec.Kind)}
	}
	v, err := semver.NewVersion(rec.Schema)
	if err != nil {
		return decoded{err: fmt.Errorf("record %s: schema %q: %w", rec.ID, rec.Schema, err)}
	}
	if v.Major() > d.supported.Major() {
		d.logger.Warn("skipping record with newer schema",
			zap.String("id", rec.ID),
			zap.String("schema", rec.Schema),
			zap.String("supported", SchemaVersion),
		)
		return decoded{rec: rec}
	}
	if !rec.Kind.Known() {
		d.logger.Warn("skipping record of unknown kind",
			zap.String("id", rec.ID),
			zap.String("kind", string(rec.Kind)),
		)
		return decoded{rec: rec}
	}
	return decoded{rec: rec, ok: true}
}

func ignoreReason(rec Record, supported *semver.Version) string {
	if v, err := semver.NewVersion(rec.Schema); err == nil && v.Major() > supported.Major() {
		return "newer_schema"
	}
	return "unknown_kind"
}
