// Package bcache is a write-through block cache with LRU replacement.
//
// Every device access from the layers above goes through here, except
// the snapshot store's direct bitmap and table I/O. Write-through keeps
// the device authoritative at all times: after a successful Write, a
// direct device read and a cache hit return the same bytes.
package bcache

import (
	"container/list"
	"sync"

	"github.com/goose-lang/std"

	"github.com/mit-pdos/go-osfs/disk"
	"github.com/mit-pdos/go-osfs/util"
)

type entry struct {
	bn  uint64
	blk disk.Block
	// dirty is unused under write-through; kept for a future
	// write-back mode.
	dirty bool
}

type CacheStats struct {
	Hits         uint64
	Misses       uint64
	Size         uint64
	Capacity     uint64
	Replacements uint64
}

type Bcache struct {
	d disk.Disk

	mu      *sync.Mutex
	entries map[uint64]*list.Element
	lru     *list.List // front is MRU, back is LRU
	cap     uint64

	hits         uint64
	misses       uint64
	replacements uint64
}

// MkBcache fronts d with a cache of cap blocks. A capacity of 0
// disables caching; all calls pass through to the device.
func MkBcache(d disk.Disk, cap uint64) *Bcache {
	return &Bcache{
		d:       d,
		mu:      new(sync.Mutex),
		entries: make(map[uint64]*list.Element, cap),
		lru:     list.New(),
		cap:     cap,
	}
}

func (bc *Bcache) evict() {
	el := bc.lru.Back()
	if el == nil {
		return
	}
	e := el.Value.(*entry)
	util.DPrintf(10, "bcache: evict %d\n", e.bn)
	bc.lru.Remove(el)
	delete(bc.entries, e.bn)
	bc.replacements++
}

// Read returns the contents of block bn, filling the cache on a miss.
// The caller gets a private copy of the buffer.
func (bc *Bcache) Read(bn uint64) (disk.Block, error) {
	if bc.cap == 0 {
		return bc.d.Read(bn)
	}
	bc.mu.Lock()
	defer bc.mu.Unlock()
	if el, ok := bc.entries[bn]; ok {
		bc.hits++
		bc.lru.MoveToFront(el)
		return std.BytesClone(el.Value.(*entry).blk), nil
	}
	bc.misses++
	blk, err := bc.d.Read(bn)
	if err != nil {
		return nil, err
	}
	if uint64(bc.lru.Len()) >= bc.cap {
		bc.evict()
	}
	bc.entries[bn] = bc.lru.PushFront(&entry{bn: bn, blk: std.BytesClone(blk)})
	return blk, nil
}

// Write is write-through: the device write happens first, and only on
// success is the cache updated with a clean copy.
func (bc *Bcache) Write(bn uint64, b disk.Block) error {
	if err := bc.d.Write(bn, b); err != nil {
		return err
	}
	if bc.cap == 0 {
		return nil
	}
	bc.mu.Lock()
	defer bc.mu.Unlock()
	if el, ok := bc.entries[bn]; ok {
		e := el.Value.(*entry)
		copy(e.blk, b)
		bc.lru.MoveToFront(el)
		return nil
	}
	if uint64(bc.lru.Len()) >= bc.cap {
		bc.evict()
	}
	bc.entries[bn] = bc.lru.PushFront(&entry{bn: bn, blk: std.BytesClone(b)})
	return nil
}

// Invalidate drops bn from the cache if present. It never writes.
func (bc *Bcache) Invalidate(bn uint64) {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	if el, ok := bc.entries[bn]; ok {
		bc.lru.Remove(el)
		delete(bc.entries, bn)
	}
}

// Flush is a no-op under write-through; the interface point exists so a
// write-back mode could slot in.
func (bc *Bcache) Flush() error {
	return nil
}

// Clear drops every entry.
func (bc *Bcache) Clear() {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	bc.entries = make(map[uint64]*list.Element, bc.cap)
	bc.lru.Init()
}

func (bc *Bcache) Stats() CacheStats {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	return CacheStats{
		Hits:         bc.hits,
		Misses:       bc.misses,
		Size:         uint64(bc.lru.Len()),
		Capacity:     bc.cap,
		Replacements: bc.replacements,
	}
}

func (bc *Bcache) ResetStats() {
	bc.mu.Lock()
	defer bc.mu.Unlock()
	bc.hits = 0
	bc.misses = 0
	bc.replacements = 0
}

// Disk exposes the underlying device for the snapshot store's direct
// bitmap and table I/O.
func (bc *Bcache) Disk() disk.Disk {
	return bc.d
}

func (bc *Bcache) Barrier() error {
	return bc.d.Barrier()
}
