package binarycache

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"narci/internal/narinfo"
)

// closureConcurrency bounds parallel narinfo requests per level.
const closureConcurrency = 8

// Closure is every narinfo reachable from a root through References.
type Closure struct {
	Root  narinfo.NarInfoID
	Paths map[narinfo.NarInfoID]*narinfo.NarInfo
}

// NarSize sums the uncompressed size of the closure.
func (c *Closure) NarSize() uint64 {
	var total uint64
	for _, ni := range c.Paths {
		total += ni.NarSize
	}
	return total
}

// FileSize sums the compressed download size of the closure.
func (c *Closure) FileSize() uint64 {
	var total uint64
	for _, ni := range c.Paths {
		total += ni.FileSize
	}
	return total
}

// Sorted returns the closure ordered by store path name.
func (c *Closure) Sorted() []*narinfo.NarInfo {
	out := make([]*narinfo.NarInfo, 0, len(c.Paths))
	for _, ni := range c.Paths {
		out = append(out, ni)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StorePath < out[j].StorePath })
	return out
}

// Closure walks References breadth first, fetching each level concurrently.
// Any missing or untrusted path fails the whole walk.
func (c *Client) Closure(ctx context.Context, hashOrPath string) (*Closure, error) {
	root, err := c.NarInfo(ctx, hashOrPath)
	if err != nil {
		return nil, err
	}

	out := &Closure{Root: root.ID(), Paths: map[narinfo.NarInfoID]*narinfo.NarInfo{root.ID(): root}}
	frontier := newRefs(out.Paths, root)

	for len(frontier) > 0 {
		var mu sync.Mutex
		var next []narinfo.NarInfoID

		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(closureConcurrency)
		for _, id := range frontier {
			g.Go(func() error {
				ni, err := c.NarInfo(gctx, string(id))
				if err != nil {
					return fmt.Errorf("closure of %s: %w", out.Root, err)
				}
				mu.Lock()
				defer mu.Unlock()
				out.Paths[id] = ni
				next = append(next, ni.References...)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}

		frontier = frontier[:0]
		seen := make(map[narinfo.NarInfoID]bool)
		for _, id := range next {
			if _, done := out.Paths[id]; !done && !seen[id] {
				seen[id] = true
				frontier = append(frontier, id)
			}
		}
	}
	return out, nil
}

func newRefs(known map[narinfo.NarInfoID]*narinfo.NarInfo, ni *narinfo.NarInfo) []narinfo.NarInfoID {
	var out []narinfo.NarInfoID
	seen := make(map[narinfo.NarInfoID]bool)
	for _, ref := range ni.References {
		if _, ok := known[ref]; !ok && !seen[ref] {
			seen[ref] = true
			out = append(out, ref)
		}
	}
	return out
}
