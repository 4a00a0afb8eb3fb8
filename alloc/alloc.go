// Package alloc manages the inode bitmap, the block bitmap and the
// per-block refcount table. Blocks are shared with snapshots through
// refcounts, so freeing is refcount-aware: only the last reference
// returns a block to the bitmap.
//
// Every mutation writes the bitmap and refcount bytes before the
// superblock counters; the superblock write is the commit point, and
// the open-time fsck reconciles any torn tail.
package alloc

import (
	"github.com/mit-pdos/go-osfs/common"
	"github.com/mit-pdos/go-osfs/super"
	"github.com/mit-pdos/go-osfs/util"
)

type Alloc struct {
	sp *super.FsSuper
}

func MkAlloc(sp *super.FsSuper) *Alloc {
	return &Alloc{sp: sp}
}

// findFreeBit scans [lo, hi) for the lowest clear bit and sets it.
// Returns the bit number, or ok=false if the range is full.
func findFreeBit(blk []byte, lo uint64, hi uint64) (uint64, bool) {
	for n := lo; n < hi; n++ {
		if blk[n/8]&(1<<(n%8)) == 0 {
			blk[n/8] |= 1 << (n % 8)
			return n, true
		}
	}
	return 0, false
}

func freeBit(blk []byte, n uint64) {
	blk[n/8] &^= 1 << (n % 8)
}

func bitSet(blk []byte, n uint64) bool {
	return blk[n/8]&(1<<(n%8)) != 0
}

// AllocInode claims the lowest free inode number.
func (a *Alloc) AllocInode() (common.Inum, error) {
	blk, err := a.sp.Cache.Read(common.IBMAPBLK)
	if err != nil {
		return 0, err
	}
	n, ok := findFreeBit(blk, 0, a.sp.InodeCount)
	if !ok {
		return 0, common.ErrNoInodes
	}
	if err := a.sp.Cache.Write(common.IBMAPBLK, blk); err != nil {
		return 0, err
	}
	a.sp.FreeInodes--
	if err := a.sp.WriteSuper(); err != nil {
		return 0, err
	}
	util.DPrintf(5, "AllocInode -> %d\n", n)
	return common.Inum(n), nil
}

// FreeInode releases inum. The caller must have released the inode's
// data blocks first. Freeing a free inode is a no-op.
func (a *Alloc) FreeInode(inum common.Inum) error {
	blk, err := a.sp.Cache.Read(common.IBMAPBLK)
	if err != nil {
		return err
	}
	if !bitSet(blk, uint64(inum)) {
		return nil
	}
	freeBit(blk, uint64(inum))
	if err := a.sp.Cache.Write(common.IBMAPBLK, blk); err != nil {
		return err
	}
	a.sp.FreeInodes++
	util.DPrintf(5, "FreeInode %d\n", inum)
	return a.sp.WriteSuper()
}

// AllocBlock claims the lowest free data block; its refcount becomes 1.
func (a *Alloc) AllocBlock() (common.Bnum, error) {
	blk, err := a.sp.Cache.Read(common.BBMAPBLK)
	if err != nil {
		return 0, err
	}
	n, ok := findFreeBit(blk, a.sp.DataStart(), a.sp.BlockCount)
	if !ok {
		return 0, common.ErrNoBlocks
	}
	bn := common.Bnum(n)
	if err := a.sp.Cache.Write(common.BBMAPBLK, blk); err != nil {
		return 0, err
	}
	if err := a.setRef(bn, 1); err != nil {
		return 0, err
	}
	a.sp.FreeBlocks--
	if err := a.sp.WriteSuper(); err != nil {
		return 0, err
	}
	util.DPrintf(5, "AllocBlock -> %d\n", bn)
	return bn, nil
}

// FreeBlock drops one reference to bn. A shared block only loses a
// refcount; the last reference clears the refcount and the bitmap bit.
// Freeing an already-free block is a no-op.
func (a *Alloc) FreeBlock(bn common.Bnum) error {
	if err := a.checkData(bn); err != nil {
		return err
	}
	rc, err := a.RefCount(bn)
	if err != nil {
		return err
	}
	if rc > 1 {
		return a.setRef(bn, rc-1)
	}

	blk, err := a.sp.Cache.Read(common.BBMAPBLK)
	if err != nil {
		return err
	}
	if !bitSet(blk, uint64(bn)) && rc == 0 {
		return nil
	}
	if rc == 1 {
		if err := a.setRef(bn, 0); err != nil {
			return err
		}
	}
	freeBit(blk, uint64(bn))
	if err := a.sp.Cache.Write(common.BBMAPBLK, blk); err != nil {
		return err
	}
	a.sp.FreeBlocks++
	util.DPrintf(5, "FreeBlock %d\n", bn)
	return a.sp.WriteSuper()
}

// RefCount reads bn's reference count.
func (a *Alloc) RefCount(bn common.Bnum) (uint8, error) {
	if err := a.checkData(bn); err != nil {
		return 0, err
	}
	refBlk, off := a.sp.RefAddr(bn)
	blk, err := a.sp.Cache.Read(refBlk)
	if err != nil {
		return 0, err
	}
	return blk[off], nil
}

func (a *Alloc) setRef(bn common.Bnum, rc uint8) error {
	refBlk, off := a.sp.RefAddr(bn)
	blk, err := a.sp.Cache.Read(refBlk)
	if err != nil {
		return err
	}
	blk[off] = rc
	return a.sp.Cache.Write(refBlk, blk)
}

// IncRef bumps bn's refcount, saturating at 255. bn must be allocated.
func (a *Alloc) IncRef(bn common.Bnum) error {
	if err := a.checkAllocated(bn); err != nil {
		return err
	}
	rc, err := a.RefCount(bn)
	if err != nil {
		return err
	}
	if rc == 255 {
		return nil
	}
	return a.setRef(bn, rc+1)
}

// DecRef drops bn's refcount, saturating at 0. bn must be allocated.
func (a *Alloc) DecRef(bn common.Bnum) error {
	if err := a.checkAllocated(bn); err != nil {
		return err
	}
	rc, err := a.RefCount(bn)
	if err != nil {
		return err
	}
	if rc == 0 {
		return nil
	}
	return a.setRef(bn, rc-1)
}

// Cow prepares bn for mutation. An exclusively-owned block is returned
// as-is; a shared block is copied into a fresh allocation and the old
// block loses one reference.
func (a *Alloc) Cow(bn common.Bnum) (common.Bnum, error) {
	rc, err := a.RefCount(bn)
	if err != nil {
		return 0, err
	}
	if rc <= 1 {
		return bn, nil
	}
	newBn, err := a.AllocBlock()
	if err != nil {
		return 0, err
	}
	blk, err := a.sp.Cache.Read(uint64(bn))
	if err != nil {
		return 0, err
	}
	if err := a.sp.Cache.Write(uint64(newBn), blk); err != nil {
		return 0, err
	}
	if err := a.setRef(bn, rc-1); err != nil {
		return 0, err
	}
	util.DPrintf(5, "Cow %d -> %d\n", bn, newBn)
	return newBn, nil
}

// Allocated reports whether bn's bitmap bit is set.
func (a *Alloc) Allocated(bn common.Bnum) (bool, error) {
	if err := a.checkData(bn); err != nil {
		return false, err
	}
	blk, err := a.sp.Cache.Read(common.BBMAPBLK)
	if err != nil {
		return false, err
	}
	return bitSet(blk, uint64(bn)), nil
}

func (a *Alloc) checkData(bn common.Bnum) error {
	if uint64(bn) < a.sp.DataStart() || uint64(bn) >= a.sp.BlockCount {
		return common.ErrCorrupt
	}
	return nil
}

func (a *Alloc) checkAllocated(bn common.Bnum) error {
	ok, err := a.Allocated(bn)
	if err != nil {
		return err
	}
	if !ok {
		return common.ErrCorrupt
	}
	return nil
}
