// Package osfs is the engine's public surface: a path-addressed
// filesystem over the block, allocator, inode, directory and snapshot
// layers. One coarse mutex serialises every operation; the layers below
// rely on that for their invariants.
package osfs

import (
	"sync"

	"github.com/mit-pdos/go-osfs/bcache"
	"github.com/mit-pdos/go-osfs/common"
	"github.com/mit-pdos/go-osfs/disk"
	"github.com/mit-pdos/go-osfs/inode"
	"github.com/mit-pdos/go-osfs/snap"
	"github.com/mit-pdos/go-osfs/super"
	"github.com/mit-pdos/go-osfs/util"
)

// Filesys is the surface a request-handling layer consumes. *Fs is the
// engine's implementation; callers own the value and pass it
// explicitly, there is no process-wide instance.
type Filesys interface {
	ReadFile(path string) ([]byte, error)
	WriteFile(path string, data []byte) error
	DeleteFile(path string) error
	CreateDirectory(path string) error
	ReadDir(path string) ([]DirEntry, error)
	CreateSnapshot(path string, name string) error
	RestoreSnapshot(name string) error
	DeleteSnapshot(name string) error
	ListSnapshots(path string) ([]string, error)
	CacheStats() bcache.CacheStats
	ClearCache()
}

var _ Filesys = (*Fs)(nil)

type Fs struct {
	mu    sync.Mutex
	sp    *super.FsSuper
	state *inode.FsState
	snaps *snap.Store

	stats opStats
}

// MkFs opens (or creates) the image at path with a cache of cacheCap
// blocks. A fresh or incompatible image is formatted; a compatible one
// gets the consistency scan.
func MkFs(path string, cacheCap uint64) (*Fs, error) {
	d, err := disk.NewFileDisk(path, common.BLOCKCOUNT)
	if err != nil {
		return nil, err
	}
	sz, err := d.ImageSize()
	if err != nil {
		d.Close()
		return nil, err
	}
	fs, err := mkFs(d, cacheCap, sz == 0)
	if err != nil {
		d.Close()
		return nil, err
	}
	return fs, nil
}

// MkMemFs formats a fresh in-memory volume, mainly for tests.
func MkMemFs(cacheCap uint64) (*Fs, error) {
	return mkFs(disk.NewMemDisk(common.BLOCKCOUNT), cacheCap, true)
}

func mkFs(d disk.Disk, cacheCap uint64, fresh bool) (*Fs, error) {
	sp := super.MkFsSuper(d, cacheCap)
	state := inode.MkFsState(sp)
	fs := &Fs{sp: sp, state: state, snaps: snap.MkStore(sp, state.Balloc)}

	if fresh {
		return fs, fs.format()
	}
	if err := sp.ReadSuper(); err != nil {
		return nil, err
	}
	if !sp.Good() {
		util.DPrintf(0, "MkFs: incompatible layout, reformatting\n")
		return fs, fs.format()
	}
	if _, err := sp.Fsck(); err != nil {
		return nil, err
	}
	return fs, nil
}

// format lays down a fresh image and installs the root directory in
// inode 0.
func (fs *Fs) format() error {
	if err := fs.sp.Format(); err != nil {
		return err
	}
	root := inode.MkInode(common.ROOTINUM, common.KINDDIR)
	return inode.WriteInode(fs.state, root)
}

// Fsck re-runs the open-time consistency scan.
func (fs *Fs) Fsck() (super.FsckStats, error) {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return fs.sp.Fsck()
}

func (fs *Fs) CacheStats() bcache.CacheStats {
	return fs.sp.Cache.Stats()
}

func (fs *Fs) ClearCache() {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.sp.Cache.Clear()
}

// Super returns a copy of the in-memory superblock for inspection.
func (fs *Fs) Super() super.FsSuper {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	return *fs.sp
}

func (fs *Fs) Close() error {
	fs.mu.Lock()
	defer fs.mu.Unlock()
	if err := fs.sp.Disk.Barrier(); err != nil {
		return err
	}
	return fs.sp.Disk.Close()
}
