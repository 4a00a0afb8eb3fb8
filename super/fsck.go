package super

import (
	"github.com/mit-pdos/go-osfs/common"
	"github.com/mit-pdos/go-osfs/util"
)

// Drift between a superblock counter and the bitmap population that is
// left alone at open. Larger drift is overwritten with the recount.
const MAXDRIFT uint64 = 5

type FsckStats struct {
	InodeDrift uint64
	BlockDrift uint64
	RefFixed   uint64
}

func bitSet(blk []byte, n uint64) bool {
	return blk[n/8]&(1<<(n%8)) != 0
}

func absDiff(a uint64, b uint64) uint64 {
	if a > b {
		return a - b
	}
	return b - a
}

// Fsck reconciles the superblock counters with the bitmaps and the
// refcount table with the block bitmap. It runs at open, after the
// layout has been identified as compatible.
func (sp *FsSuper) Fsck() (FsckStats, error) {
	var st FsckStats

	ibm, err := sp.Cache.Read(common.IBMAPBLK)
	if err != nil {
		return st, err
	}
	var freeInodes uint64
	for i := uint64(0); i < sp.InodeCount; i++ {
		if !bitSet(ibm, i) {
			freeInodes++
		}
	}
	st.InodeDrift = absDiff(freeInodes, sp.FreeInodes)

	bbm, err := sp.Cache.Read(common.BBMAPBLK)
	if err != nil {
		return st, err
	}
	var freeBlocks uint64
	for bn := common.DATASTART; bn < sp.BlockCount; bn++ {
		if !bitSet(bbm, bn) {
			freeBlocks++
		}
	}
	st.BlockDrift = absDiff(freeBlocks, sp.FreeBlocks)

	dirty := false
	if st.InodeDrift > MAXDRIFT {
		util.DPrintf(0, "fsck: free inode count %d -> %d\n",
			sp.FreeInodes, freeInodes)
		sp.FreeInodes = freeInodes
		dirty = true
	}
	if st.BlockDrift > MAXDRIFT {
		util.DPrintf(0, "fsck: free block count %d -> %d\n",
			sp.FreeBlocks, freeBlocks)
		sp.FreeBlocks = freeBlocks
		dirty = true
	}

	n, err := sp.fsckRefcounts(bbm)
	if err != nil {
		return st, err
	}
	st.RefFixed = n

	if dirty {
		if err := sp.WriteSuper(); err != nil {
			return st, err
		}
	}
	return st, nil
}

// fsckRefcounts enforces bitmap[b] == 1 <=> refcount[b] >= 1 over the
// data region. A block the bitmap owns with no refcount gets refcount 1;
// a free block with a stale refcount gets 0. Shared counts above 1 are
// not recomputed here.
func (sp *FsSuper) fsckRefcounts(bbm []byte) (uint64, error) {
	var fixed uint64
	for refBlk := uint64(0); refBlk < common.REFBLKS; refBlk++ {
		base := refBlk * common.BLOCKSIZE
		if base >= sp.BlockCount {
			break
		}
		blk, err := sp.Cache.Read(common.REFSTART + refBlk)
		if err != nil {
			return fixed, err
		}
		blkDirty := false
		for off := uint64(0); off < common.BLOCKSIZE; off++ {
			bn := base + off
			if bn < common.DATASTART {
				continue
			}
			if bn >= sp.BlockCount {
				break
			}
			alloc := bitSet(bbm, bn)
			rc := blk[off]
			if alloc && rc == 0 {
				blk[off] = 1
				blkDirty = true
				fixed++
			} else if !alloc && rc > 0 {
				blk[off] = 0
				blkDirty = true
				fixed++
			}
		}
		if blkDirty {
			util.DPrintf(0, "fsck: repaired refcounts in block %d\n",
				common.REFSTART+refBlk)
			if err := sp.Cache.Write(common.REFSTART+refBlk, blk); err != nil {
				return fixed, err
			}
		}
	}
	return fixed, nil
}
