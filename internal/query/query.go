// Package query implements the frustum-driven read path of spec §4.6:
// given a committed octree directory, it answers "which nodes are
// visible" and serves decoded tiles for them, deduplicating concurrent
// fetches of the same node and caching decoded tiles under a byte
// budget.
package query

import (
	"context"

	"golang.org/x/sync/singleflight"
	"golang.org/x/xerrors"

	pc "github.com/cartographer-project/point-cloud-viewer"
	"github.com/cartographer-project/point-cloud-viewer/internal/cache"
	"github.com/cartographer-project/point-cloud-viewer/internal/frustum"
	"github.com/cartographer-project/point-cloud-viewer/internal/manifest"
	"github.com/cartographer-project/point-cloud-viewer/internal/tile"
	"github.com/cartographer-project/point-cloud-viewer/internal/tilestore"
	"github.com/cartographer-project/point-cloud-viewer/internal/workerpool"
)

// DefaultCacheBytes bounds the decoded-tile cache when a caller doesn't
// specify one.
const DefaultCacheBytes = 256 << 20

// prefetchWorkers and prefetchQueue bound the background pool that
// speculatively warms the cache with children of the currently-visible
// set (spec §4.7), anticipating a camera zoom-in. Small and best-effort:
// this must never compete meaningfully with foreground Fetch calls.
const (
	prefetchWorkers = 2
	prefetchQueue   = 64
)

// Engine ties together a committed octree's manifest, its frustum index,
// and its on-disk tiles behind a single read path.
type Engine struct {
	store    *tilestore.Store
	manifest manifest.Manifest
	index    *frustum.Index
	cache    *cache.LRU
	group    singleflight.Group
	prefetch *workerpool.Pool
}

// Open loads the manifest and tile store committed at dir and builds the
// in-memory frustum index over it. It fails with StorageCorruptError if
// no manifest was ever committed there (spec §4.4: an uncommitted build
// directory has no manifest).
func Open(dir string, cacheBytes int64) (*Engine, error) {
	m, err := manifest.ReadFile(dir)
	if err != nil {
		return nil, xerrors.Errorf("opening octree at %s: %w", dir, err)
	}
	store, err := tilestore.Open(dir)
	if err != nil {
		return nil, xerrors.Errorf("opening tile store at %s: %w", dir, err)
	}
	if cacheBytes <= 0 {
		cacheBytes = DefaultCacheBytes
	}
	return &Engine{
		store:    store,
		manifest: m,
		index:    frustum.Build(m),
		cache:    cache.New(cacheBytes),
		prefetch: workerpool.New(prefetchWorkers, prefetchQueue),
	}, nil
}

// Close shuts down the engine's background prefetch pool. Safe to call
// once after the Engine is no longer needed.
func (e *Engine) Close() {
	e.prefetch.Close()
}

// Metadata returns the committed manifest (resolution, N_max, D_max,
// codec descriptor, node directory).
func (e *Engine) Metadata() manifest.Manifest {
	return e.manifest
}

// VisibleNodes returns the minimal node set covering viewProj's frustum
// at adequate screen-space density (spec §4.5). As a side effect it kicks
// off best-effort background prefetch of those nodes' children, so a
// subsequent zoom-in that makes them visible finds them already warm in
// the cache (spec §4.7).
func (e *Engine) VisibleNodes(viewProj frustum.Mat4, widthPx, heightPx int) []pc.NodeId {
	visible := e.index.VisibleNodes(viewProj, widthPx, heightPx)
	e.prefetchChildren(visible)
	return visible
}

// prefetchChildren submits a background fetch for every child of every
// node in visible that exists in the manifest and isn't already cached.
// Submission is non-blocking (workerpool.TrySubmit): a full prefetch
// queue just drops the candidate rather than stalling the caller, since
// this work is purely speculative.
func (e *Engine) prefetchChildren(visible []pc.NodeId) {
	for _, id := range visible {
		for octant := uint8(0); octant < 8; octant++ {
			child := id.Child(octant)
			if !e.index.Exists(child) {
				continue
			}
			if _, ok := e.cache.Get(child); ok {
				continue
			}
			e.prefetch.TrySubmit(func(ctx context.Context) error {
				_, err := e.Fetch(ctx, child)
				return err
			})
		}
	}
}

// Fetch returns id's decoded tile, reading and decoding from the store at
// most once even if several callers Fetch the same node concurrently
// (spec §4.6: "concurrent fetch deduplication").
func (e *Engine) Fetch(ctx context.Context, id pc.NodeId) (*tile.Tile, error) {
	// The manifest is the authority on which nodes exist (spec §4.6): a
	// stale tile file left behind by an earlier aborted build must not be
	// served just because it happens to be readable.
	if !e.index.Exists(id) {
		return nil, &pc.NodeAbsentError{Node: id}
	}
	if v, ok := e.cache.Get(id); ok {
		return v.(*tile.Tile), nil
	}
	v, err, _ := e.group.Do(string(id), func() (interface{}, error) {
		if err := ctx.Err(); err != nil {
			return nil, &pc.CancelledError{Err: err}
		}
		b, err := e.store.Get(id)
		if err != nil {
			return nil, err
		}
		t, err := tile.Decode(id, b, e.manifest.Codec.HasIntensity)
		if err != nil {
			return nil, err
		}
		tp := &t
		e.cache.Put(id, tp, int64(len(b)))
		return tp, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*tile.Tile), nil
}

// FetchBytes returns id's tile exactly as stored on disk, without
// decoding it — the shape a remote query server hands back to a client
// that will decode the tile itself (spec §6).
func (e *Engine) FetchBytes(id pc.NodeId) ([]byte, error) {
	if !e.index.Exists(id) {
		return nil, &pc.NodeAbsentError{Node: id}
	}
	return e.store.Get(id)
}

// Pin marks id's cached tile as in use, protecting it from eviction until
// a matching Unpin — for a caller (e.g. a renderer) holding a reference
// across several frames.
func (e *Engine) Pin(id pc.NodeId) { e.cache.Pin(id) }

// Unpin releases a pin taken by Pin.
func (e *Engine) Unpin(id pc.NodeId) { e.cache.Unpin(id) }
