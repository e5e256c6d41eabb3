package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"github.com/hashicorp/go-hclog"
	"golang.org/x/sync/errgroup"

	"github.com/jbadeau/forge/internal/fs"
)

// fsCache is a Cache backed by a directory of per-hash subdirectories,
// each holding a copy of the task's output files plus a metadata file.
type fsCache struct {
	cacheDirectory fs.AbsolutePath
	log            hclog.Logger
}

// NewFSCache constructs a filesystem-backed Cache rooted at cacheDirectory.
func NewFSCache(cacheDirectory fs.AbsolutePath, log hclog.Logger) Cache {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	return &fsCache{cacheDirectory: cacheDirectory, log: log.Named("cache")}
}

type cacheMetadata struct {
	Outputs []string `json:"outputs"`
}

func (f *fsCache) Fetch(workspaceRoot fs.AbsolutePath, hash string, outputs []string) (bool, error) {
	entry := f.cacheDirectory.Join(hash)
	if !entry.PathExists() {
		f.log.Debug("cache miss", "hash", hash)
		return false, nil
	}

	meta, err := readCacheMetaFile(f.cacheDirectory.Join(hash + "-meta.json"))
	if err != nil {
		f.log.Warn("cache entry missing metadata, treating as miss", "hash", hash, "error", err)
		return false, nil
	}

	g := new(errgroup.Group)
	for _, rel := range meta.Outputs {
		rel := rel
		g.Go(func() error {
			src := entry.Join(rel)
			if !src.FileExists() {
				return nil
			}
			dst := workspaceRoot.Join(rel)
			if err := dst.EnsureDir(); err != nil {
				return err
			}
			return fs.CopyOrLinkFile(src, dst, fs.DirPermissions, fs.DirPermissions, true, true)
		})
	}
	if err := g.Wait(); err != nil {
		return false, fmt.Errorf("restoring cached outputs for %s: %w", hash, err)
	}

	f.log.Debug("cache hit", "hash", hash)
	return true, nil
}

func (f *fsCache) Put(workspaceRoot fs.AbsolutePath, hash string, outputs []string) error {
	entry := f.cacheDirectory.Join(hash)

	numDigesters := runtime.NumCPU()
	if numDigesters < 1 {
		numDigesters = 1
	}
	files := make(chan string, numDigesters)
	g := new(errgroup.Group)
	for i := 0; i < numDigesters; i++ {
		g.Go(func() error {
			for rel := range files {
				src := workspaceRoot.Join(rel)
				info, err := src.Lstat()
				if err != nil {
					if os.IsNotExist(err) {
						continue
					}
					return err
				}
				dst := entry.Join(rel)
				if err := dst.EnsureDir(); err != nil {
					return fmt.Errorf("error ensuring directory for cache entry: %w", err)
				}
				if err := fs.CopyOrLinkFile(src, dst, info.Mode(), fs.DirPermissions, true, true); err != nil {
					return fmt.Errorf("error copying file into cache: %w", err)
				}
			}
			return nil
		})
	}
	for _, rel := range outputs {
		files <- rel
	}
	close(files)
	if err := g.Wait(); err != nil {
		return err
	}

	return writeCacheMetaFile(f.cacheDirectory.Join(hash+"-meta.json"), cacheMetadata{Outputs: outputs})
}

func (f *fsCache) Shutdown() {}

func writeCacheMetaFile(path fs.AbsolutePath, meta cacheMetadata) error {
	data, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	return path.WriteFile(data, 0o644)
}

func readCacheMetaFile(path fs.AbsolutePath) (cacheMetadata, error) {
	var meta cacheMetadata
	data, err := path.ReadFile()
	if err != nil {
		return meta, err
	}
	err = json.Unmarshal(data, &meta)
	return meta, err
}
