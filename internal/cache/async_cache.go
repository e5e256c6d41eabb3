// Adapted from https://github.com/thought-machine/please
// Copyright Thought Machine, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0
package cache

import (
	"sync"

	"github.com/hashicorp/go-hclog"

	"github.com/jbadeau/forge/internal/fs"
)

// An asyncCache is a wrapper around a Cache interface that handles incoming
// store requests asynchronously and attempts to return immediately.
// The requests are handled on an internal queue over a fixed worker pool;
// once the queue fills, Put starts to block again until it drains.
// Fetch requests are still handled synchronously.
type asyncCache struct {
	requests  chan cacheRequest
	realCache Cache
	wg        sync.WaitGroup
	log       hclog.Logger
}

// A cacheRequest models an incoming cache request on our queue.
type cacheRequest struct {
	workspaceRoot fs.AbsolutePath
	hash          string
	outputs       []string
}

// NewAsyncCache wraps realCache with workers background writers draining a
// Put queue, per spec.md §4.8's "cache writes must not block scheduling".
func NewAsyncCache(realCache Cache, workers int, log hclog.Logger) Cache {
	if workers < 1 {
		workers = 1
	}
	if log == nil {
		log = hclog.NewNullLogger()
	}
	c := &asyncCache{
		requests:  make(chan cacheRequest, 10*workers),
		realCache: realCache,
		log:       log.Named("cache.async"),
	}
	c.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go c.run()
	}
	return c
}

func (c *asyncCache) Put(workspaceRoot fs.AbsolutePath, hash string, outputs []string) error {
	c.requests <- cacheRequest{
		workspaceRoot: workspaceRoot,
		hash:          hash,
		outputs:       outputs,
	}
	return nil
}

func (c *asyncCache) Fetch(workspaceRoot fs.AbsolutePath, hash string, outputs []string) (bool, error) {
	return c.realCache.Fetch(workspaceRoot, hash, outputs)
}

func (c *asyncCache) Shutdown() {
	close(c.requests)
	c.wg.Wait()
	c.realCache.Shutdown()
}

// run implements the actual async logic.
func (c *asyncCache) run() {
	for r := range c.requests {
		if err := c.realCache.Put(r.workspaceRoot, r.hash, r.outputs); err != nil {
			c.log.Warn("async cache write failed", "hash", r.hash, "error", err)
		}
	}
	c.wg.Done()
}
