// Package static keeps the route dataset from the agency's static GTFS
// archive available to the updater, backed by a JSON cache file.
package static

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/campus-transit/transitbook/internal/models"
	"github.com/campus-transit/transitbook/internal/static/gtfs"
)

// Options configures a RouteCache
type Options struct {
	SourceURL   string
	CacheFile   string
	ArchivePath string
	TTL         time.Duration

	// RetryInterval spaces refresh attempts after a failure
	RetryInterval time.Duration

	Client *http.Client
	Now    func() time.Time
}

// cacheFile is the on-disk artifact. Its age is read from WrittenAt, not
// from the file's mtime.
type cacheFile struct {
	WrittenAt string                      `json:"written_at"`
	SourceURL string                      `json:"source_url"`
	Routes    map[string]models.RouteInfo `json:"routes"`
}

// RouteCache maps route_id to RouteInfo. Reads take a shared lock; refreshes
// are serialised and replace the map wholesale.
type RouteCache struct {
	opts Options

	mu       sync.RWMutex
	routes   map[string]models.RouteInfo
	loadedAt time.Time

	refreshMu   sync.Mutex
	lastAttempt time.Time
}

// NewRouteCache returns an empty cache; call Load before use
func NewRouteCache(opts Options) *RouteCache {
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	if opts.RetryInterval <= 0 {
		opts.RetryInterval = 5 * time.Minute
	}
	if opts.Client == nil {
		opts.Client = &http.Client{Timeout: 60 * time.Second}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.ArchivePath == "" {
		opts.ArchivePath = filepath.Join(filepath.Dir(opts.CacheFile), "gtfs_static.zip")
	}
	return &RouteCache{
		opts:   opts,
		routes: map[string]models.RouteInfo{},
	}
}

// Load reads the cache file and refreshes from upstream when the file is
// missing, unreadable or older than the TTL. A stale file is still used if
// the refresh fails. The error is non-nil only when no routes are available.
func (c *RouteCache) Load(ctx context.Context) error {
	cached, writtenAt, err := c.readCacheFile()
	if err != nil {
		log.Debug().Err(err).Str("file", c.opts.CacheFile).Msg("Route cache file unusable")
	} else {
		c.swap(cached, writtenAt)
		if !c.isStale(writtenAt) {
			log.Info().Int("routes", len(cached)).Time("written_at", writtenAt).Msg("Route cache loaded from file")
			return nil
		}
		log.Info().Time("written_at", writtenAt).Msg("Route cache file is stale, refreshing")
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	if err := c.refresh(ctx); err != nil {
		if c.Len() > 0 {
			log.Warn().Err(err).Msg("Route refresh failed, keeping cached routes")
			return nil
		}
		return err
	}
	return nil
}

// EnsureFresh reloads from upstream when the map is empty or older than the
// TTL. Attempts after a failure are spaced by RetryInterval. Failures only
// get logged: the previous map stays in place.
func (c *RouteCache) EnsureFresh(ctx context.Context) {
	if !c.needsRefresh() {
		return
	}

	c.refreshMu.Lock()
	defer c.refreshMu.Unlock()

	// Another caller may have refreshed while we waited
	if !c.needsRefresh() {
		return
	}
	if !c.lastAttempt.IsZero() && c.opts.Now().Sub(c.lastAttempt) < c.opts.RetryInterval {
		return
	}

	if err := c.refresh(ctx); err != nil {
		log.Warn().Err(err).Int("routes", c.Len()).Msg("Route refresh failed, keeping previous routes")
	}
}

// Get looks up a routable route by id
func (c *RouteCache) Get(routeID string) (models.RouteInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	r, ok := c.routes[routeID]
	return r, ok
}

// Len returns the number of cached routes
func (c *RouteCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.routes)
}

// LoadedAt returns when the current map was built upstream
func (c *RouteCache) LoadedAt() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loadedAt
}

// Routes returns a copy of the map
func (c *RouteCache) Routes() map[string]models.RouteInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]models.RouteInfo, len(c.routes))
	for id, r := range c.routes {
		out[id] = r
	}
	return out
}

func (c *RouteCache) needsRefresh() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.routes) == 0 || c.isStale(c.loadedAt)
}

func (c *RouteCache) isStale(writtenAt time.Time) bool {
	return c.opts.Now().Sub(writtenAt) > c.opts.TTL
}

func (c *RouteCache) swap(routes map[string]models.RouteInfo, at time.Time) {
	c.mu.Lock()
	c.routes = routes
	c.loadedAt = at
	c.mu.Unlock()
}

// refresh downloads, parses and installs a new map. Caller holds refreshMu.
func (c *RouteCache) refresh(ctx context.Context) error {
	c.lastAttempt = c.opts.Now()

	if c.opts.SourceURL == "" {
		return errors.New("no GTFS static URL configured")
	}

	if err := gtfs.Download(ctx, c.opts.Client, c.opts.SourceURL, c.opts.ArchivePath); err != nil {
		return err
	}

	records, err := gtfs.ParseRoutes(c.opts.ArchivePath)
	if err != nil {
		return err
	}

	routes := gtfs.RouteInfos(records)
	if len(routes) == 0 {
		return fmt.Errorf("GTFS archive has no usable routes (%d records)", len(records))
	}

	now := c.opts.Now().UTC()
	c.swap(routes, now)

	if err := c.writeCacheFile(routes, now); err != nil {
		log.Warn().Err(err).Str("file", c.opts.CacheFile).Msg("Failed to write route cache file")
	}

	log.Info().Int("routes", len(routes)).Int("records", len(records)).Msg("Route cache refreshed from GTFS")
	return nil
}

func (c *RouteCache) readCacheFile() (map[string]models.RouteInfo, time.Time, error) {
	data, err := os.ReadFile(c.opts.CacheFile)
	if err != nil {
		return nil, time.Time{}, err
	}

	var file cacheFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, time.Time{}, fmt.Errorf("corrupt cache file: %w", err)
	}

	writtenAt, err := time.Parse(time.RFC3339, file.WrittenAt)
	if err != nil {
		return nil, time.Time{}, fmt.Errorf("bad written_at: %w", err)
	}
	if len(file.Routes) == 0 {
		return nil, time.Time{}, errors.New("cache file has no routes")
	}

	// Entries written by an older version may not pass today's rules
	routes := make(map[string]models.RouteInfo, len(file.Routes))
	for id, r := range file.Routes {
		r.RouteID = id
		if r.Routable() {
			routes[id] = r
		}
	}
	return routes, writtenAt, nil
}

func (c *RouteCache) writeCacheFile(routes map[string]models.RouteInfo, at time.Time) error {
	data, err := json.MarshalIndent(cacheFile{
		WrittenAt: at.Format(time.RFC3339),
		SourceURL: c.opts.SourceURL,
		Routes:    routes,
	}, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(c.opts.CacheFile), 0755); err != nil {
		return err
	}

	tmp := c.opts.CacheFile + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, c.opts.CacheFile)
}
