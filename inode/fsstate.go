package inode

import (
	"github.com/mit-pdos/go-osfs/alloc"
	"github.com/mit-pdos/go-osfs/bcache"
	"github.com/mit-pdos/go-osfs/super"
)

// FsState bundles the layers below the inode layer. Directory and path
// code threads one of these through every call instead of holding
// global state.
type FsState struct {
	Super  *super.FsSuper
	Cache  *bcache.Bcache
	Balloc *alloc.Alloc
}

func MkFsState(sp *super.FsSuper) *FsState {
	return &FsState{
		Super:  sp,
		Cache:  sp.Cache,
		Balloc: alloc.MkAlloc(sp),
	}
}
