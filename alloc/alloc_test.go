package alloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mit-pdos/go-osfs/common"
	"github.com/mit-pdos/go-osfs/disk"
	"github.com/mit-pdos/go-osfs/super"
)

func mkAlloc(t *testing.T) (*super.FsSuper, *Alloc) {
	sp := super.MkFsSuper(disk.NewMemDisk(common.BLOCKCOUNT), 32)
	require.NoError(t, sp.Format())
	return sp, MkAlloc(sp)
}

// countFree recomputes the free-block population from the bitmap, the
// way the open-time scan does.
func countFree(t *testing.T, sp *super.FsSuper) uint64 {
	blk, err := sp.Cache.Read(common.BBMAPBLK)
	require.NoError(t, err)
	var free uint64
	for bn := common.DATASTART; bn < sp.BlockCount; bn++ {
		if blk[bn/8]&(1<<(bn%8)) == 0 {
			free++
		}
	}
	return free
}

func TestAllocInodeLowestFirst(t *testing.T) {
	sp, a := mkAlloc(t)

	// inode 0 is the root; the first allocation is 1
	inum, err := a.AllocInode()
	require.NoError(t, err)
	assert.Equal(t, common.Inum(1), inum)
	assert.Equal(t, common.NINODE-2, sp.FreeInodes)

	inum2, err := a.AllocInode()
	require.NoError(t, err)
	assert.Equal(t, common.Inum(2), inum2)

	require.NoError(t, a.FreeInode(inum))
	assert.Equal(t, common.NINODE-2, sp.FreeInodes)

	// freed slot is reused first
	inum3, err := a.AllocInode()
	require.NoError(t, err)
	assert.Equal(t, common.Inum(1), inum3)
}

func TestInodeExhaustion(t *testing.T) {
	sp, a := mkAlloc(t)
	for i := uint64(0); i < common.NINODE-1; i++ {
		_, err := a.AllocInode()
		require.NoError(t, err)
	}
	assert.Equal(t, uint64(0), sp.FreeInodes)
	_, err := a.AllocInode()
	assert.ErrorIs(t, err, common.ErrNoInodes)
}

func TestAllocBlock(t *testing.T) {
	sp, a := mkAlloc(t)

	bn, err := a.AllocBlock()
	require.NoError(t, err)
	assert.Equal(t, common.Bnum(common.DATASTART), bn)
	assert.Equal(t, common.DataBlocks()-1, sp.FreeBlocks)

	rc, err := a.RefCount(bn)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), rc)

	require.NoError(t, a.FreeBlock(bn))
	assert.Equal(t, common.DataBlocks(), sp.FreeBlocks)
	assert.Equal(t, sp.FreeBlocks, countFree(t, sp))

	// double free is a no-op
	require.NoError(t, a.FreeBlock(bn))
	assert.Equal(t, common.DataBlocks(), sp.FreeBlocks)
}

func TestFreeBlockRefcountAware(t *testing.T) {
	sp, a := mkAlloc(t)
	bn, err := a.AllocBlock()
	require.NoError(t, err)
	require.NoError(t, a.IncRef(bn))

	// shared: free only drops the count
	require.NoError(t, a.FreeBlock(bn))
	rc, err := a.RefCount(bn)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), rc)
	ok, err := a.Allocated(bn)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, common.DataBlocks()-1, sp.FreeBlocks)

	// last reference releases the block
	require.NoError(t, a.FreeBlock(bn))
	rc, err = a.RefCount(bn)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), rc)
	ok, err = a.Allocated(bn)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, common.DataBlocks(), sp.FreeBlocks)
}

func TestRefSaturation(t *testing.T) {
	_, a := mkAlloc(t)
	bn, err := a.AllocBlock()
	require.NoError(t, err)

	for i := 0; i < 300; i++ {
		require.NoError(t, a.IncRef(bn))
	}
	rc, err := a.RefCount(bn)
	require.NoError(t, err)
	assert.Equal(t, uint8(255), rc)

	for i := 0; i < 300; i++ {
		require.NoError(t, a.DecRef(bn))
	}
	rc, err = a.RefCount(bn)
	require.NoError(t, err)
	assert.Equal(t, uint8(0), rc)
}

func TestRefRejectsUnallocated(t *testing.T) {
	_, a := mkAlloc(t)
	bn := common.Bnum(common.DATASTART + 42)
	assert.Error(t, a.IncRef(bn))
	assert.Error(t, a.DecRef(bn))
}

func TestCow(t *testing.T) {
	sp, a := mkAlloc(t)
	bn, err := a.AllocBlock()
	require.NoError(t, err)

	blk := make([]byte, common.BLOCKSIZE)
	for i := range blk {
		blk[i] = 0x5a
	}
	require.NoError(t, sp.Cache.Write(uint64(bn), blk))

	// exclusive: no copy
	same, err := a.Cow(bn)
	require.NoError(t, err)
	assert.Equal(t, bn, same)

	// shared: fresh block with the same contents, old count drops
	require.NoError(t, a.IncRef(bn))
	newBn, err := a.Cow(bn)
	require.NoError(t, err)
	assert.NotEqual(t, bn, newBn)

	got, err := sp.Cache.Read(uint64(newBn))
	require.NoError(t, err)
	assert.Equal(t, blk, got)

	rc, err := a.RefCount(bn)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), rc)
	rc, err = a.RefCount(newBn)
	require.NoError(t, err)
	assert.Equal(t, uint8(1), rc)
}

func TestCounterMatchesBitmap(t *testing.T) {
	sp, a := mkAlloc(t)
	var blks []common.Bnum
	for i := 0; i < 50; i++ {
		bn, err := a.AllocBlock()
		require.NoError(t, err)
		blks = append(blks, bn)
	}
	assert.Equal(t, sp.FreeBlocks, countFree(t, sp))

	for i, bn := range blks {
		if i%2 == 0 {
			require.NoError(t, a.FreeBlock(bn))
		}
	}
	assert.Equal(t, sp.FreeBlocks, countFree(t, sp))
}
