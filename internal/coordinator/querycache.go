package coordinator

import (
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/g960059/layoutsync/internal/model"
)

const (
	keyLayout  = "layout"
	keyHistory = "history"
	keyPresets = "presets"
)

// QueryCache holds the last server data known to be good. Values are cloned on the
// way in and out.
type QueryCache struct {
	c *cache.Cache
}

func NewQueryCache(ttl time.Duration) *QueryCache {
	if ttl <= 0 {
		return &QueryCache{c: cache.New(cache.NoExpiration, 0)}
	}
	return &QueryCache{c: cache.New(ttl, 2*ttl)}
}

func (q *QueryCache) SetLayout(layout model.LayoutState) {
	q.c.SetDefault(keyLayout, layout.Clone())
}

func (q *QueryCache) Layout() (model.LayoutState, bool) {
	v, ok := q.c.Get(keyLayout)
	if !ok {
		return model.LayoutState{}, false
	}
	return v.(model.LayoutState).Clone(), true
}

func (q *QueryCache) SetHistory(snapshots []model.LayoutState) {
	out := make([]model.LayoutState, 0, len(snapshots))
	for _, s := range snapshots {
		out = append(out, s.Clone())
	}
	q.c.SetDefault(keyHistory, out)
}

func (q *QueryCache) History() ([]model.LayoutState, bool) {
	v, ok := q.c.Get(keyHistory)
	if !ok {
		return nil, false
	}
	stored := v.([]model.LayoutState)
	out := make([]model.LayoutState, 0, len(stored))
	for _, s := range stored {
		out = append(out, s.Clone())
	}
	return out, true
}

func (q *QueryCache) SetPresets(presets []model.Preset) {
	q.c.SetDefault(keyPresets, clonePresets(model.SortPresets(presets)))
}

func (q *QueryCache) Presets() ([]model.Preset, bool) {
	v, ok := q.c.Get(keyPresets)
	if !ok {
		return nil, false
	}
	return clonePresets(v.([]model.Preset)), true
}

// UpdatePresets applies fn to the cached list, starting from empty when nothing is
// cached, and stores the sorted result.
func (q *QueryCache) UpdatePresets(fn func([]model.Preset) []model.Preset) {
	current, _ := q.Presets()
	q.SetPresets(fn(current))
}

func clonePresets(in []model.Preset) []model.Preset {
	out := make([]model.Preset, 0, len(in))
	for _, p := range in {
		out = append(out, p.Clone())
	}
	return out
}
