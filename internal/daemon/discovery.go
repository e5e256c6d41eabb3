package daemon

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jbadeau/forge/internal/config"
	"github.com/jbadeau/forge/internal/pluginhost"
	"github.com/jbadeau/forge/internal/projectgraph"
)

// discoveryCache memoizes Project Graphs per workspaceRoot, guarded by a
// read-write lock so concurrent run/* requests never block each other on
// an unrelated workspace, per spec.md §4.10/§4.11's shared-resource policy.
type discoveryCache struct {
	mu      sync.RWMutex
	entries map[string]*cacheEntry
	host    *pluginhost.Host
}

type cacheEntry struct {
	graph   *projectgraph.Graph
	config  *config.WorkspaceConfig
	mtimes  map[string]time.Time
}

func newDiscoveryCache(host *pluginhost.Host) *discoveryCache {
	return &discoveryCache{entries: make(map[string]*cacheEntry), host: host}
}

// get returns the cached graph/config for workspaceRoot, re-discovering
// when a tracked configuration file's mtime has advanced since the last
// discovery, per spec.md §4.10's "best-effort file-mtime check".
func (c *discoveryCache) get(workspaceRoot string) (*projectgraph.Graph, *config.WorkspaceConfig, error) {
	c.mu.RLock()
	entry, ok := c.entries[workspaceRoot]
	c.mu.RUnlock()

	if ok && !c.stale(workspaceRoot, entry) {
		return entry.graph, entry.config, nil
	}
	return c.refresh(workspaceRoot)
}

func (c *discoveryCache) stale(workspaceRoot string, entry *cacheEntry) bool {
	for name, seen := range entry.mtimes {
		info, err := os.Stat(filepath.Join(workspaceRoot, name))
		if err != nil {
			continue
		}
		if info.ModTime().After(seen) {
			return true
		}
	}
	return false
}

// invalidate drops the cached entry for workspaceRoot, per the
// `workspace/didChange` notification.
func (c *discoveryCache) invalidate(workspaceRoot string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, workspaceRoot)
}

func (c *discoveryCache) refresh(workspaceRoot string) (*projectgraph.Graph, *config.WorkspaceConfig, error) {
	cfg, err := config.Load(workspaceRoot)
	if err != nil {
		return nil, nil, err
	}
	graph, err := projectgraph.Discover(workspaceRoot, cfg, c.host)
	if err != nil {
		return nil, nil, err
	}

	mtimes := make(map[string]time.Time, len(config.ConfigFileNames))
	for _, name := range config.ConfigFileNames {
		if info, statErr := os.Stat(filepath.Join(workspaceRoot, name)); statErr == nil {
			mtimes[name] = info.ModTime()
		}
	}

	c.mu.Lock()
	c.entries[workspaceRoot] = &cacheEntry{graph: graph, config: cfg, mtimes: mtimes}
	c.mu.Unlock()
	return graph, cfg, nil
}
