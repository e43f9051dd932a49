package memoir

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/memoirhq/memoir/internal/observability"
	stderrors "github.com/memoirhq/memoir/pkg/errors"
)

// Zone binds defaults and quotas to every key under a prefix.
type Zone struct {
	Prefix              string
	MaxDepth            int
	MaxItems            int
	DefaultType         string
	DefaultHalfLifeDays float64
}

// ZoneStat reports a zone's current usage against its quotas.
type ZoneStat struct {
	Zone      Zone
	ItemCount int
}

// matches reports whether key falls under z's prefix: either an exact
// match or a dotted descendant of it.
func (z Zone) matches(key string) bool {
	if z.Prefix == "" {
		return true
	}
	return key == z.Prefix || strings.HasPrefix(key, z.Prefix+".")
}

// zoneRegistry holds every defined zone, matched most-specific first.
type zoneRegistry struct {
	mu    sync.RWMutex
	zones map[string]Zone
}

func newZoneRegistry() *zoneRegistry {
	return &zoneRegistry{zones: make(map[string]Zone)}
}

func (r *zoneRegistry) define(z Zone) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.zones[z.Prefix] = z
}

// matchFor returns the longest-prefix zone covering key, if any.
func (r *zoneRegistry) matchFor(key string) (Zone, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var best Zone
	found := false
	for _, z := range r.zones {
		if !z.matches(key) {
			continue
		}
		if !found || len(z.Prefix) > len(best.Prefix) {
			best = z
			found = true
		}
	}
	return best, found
}

func (r *zoneRegistry) list() []Zone {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Zone, 0, len(r.zones))
	for _, z := range r.zones {
		out = append(out, z)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Prefix < out[j].Prefix })
	return out
}

// enforce checks key against its matching zone's quotas. Both quotas
// bound how a zone grows, not how an existing memory is edited, so
// neither is evaluated when isNewFile is false.
func enforce(ctx context.Context, z Zone, key string, isNewFile bool, itemCount int) error {
	if !isNewFile {
		return nil
	}
	if z.MaxDepth > 0 && depthOf(key) > z.MaxDepth {
		observability.RecordMemoirZoneDepthRejected(z.Prefix)
		observability.RecordZoneAudit(ctx, z.Prefix, "zone.write", "rejected_depth", map[string]interface{}{
			"key": key, "max_depth": z.MaxDepth,
		})
		return stderrors.New(stderrors.CodeMemoirZoneDepthExceeded, "key exceeds zone max depth",
			stderrors.FieldKey(key), stderrors.FieldZone(z.Prefix), stderrors.Field("max_depth", z.MaxDepth))
	}
	if z.MaxItems > 0 && itemCount >= z.MaxItems {
		observability.RecordMemoirZoneQuotaRejected(z.Prefix)
		observability.RecordZoneAudit(ctx, z.Prefix, "zone.write", "rejected_quota", map[string]interface{}{
			"key": key, "max_items": z.MaxItems,
		})
		return stderrors.New(stderrors.CodeMemoirZoneQuotaExceeded, "zone is at its item quota",
			stderrors.FieldKey(key), stderrors.FieldZone(z.Prefix), stderrors.Field("max_items", z.MaxItems))
	}
	return nil
}
