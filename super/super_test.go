package super

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mit-pdos/go-osfs/common"
	"github.com/mit-pdos/go-osfs/disk"
)

func mkFormatted(t *testing.T) *FsSuper {
	sp := MkFsSuper(disk.NewMemDisk(common.BLOCKCOUNT), 32)
	require.NoError(t, sp.Format())
	return sp
}

func TestSuperCodec(t *testing.T) {
	sp := MkFsSuper(disk.NewMemDisk(common.BLOCKCOUNT), 0)
	sp.FreeInodes = 200
	sp.FreeBlocks = 4321

	var got FsSuper
	got.DecodeBytes(sp.EncodeBytes())
	assert.Equal(t, sp.BlockSize, got.BlockSize)
	assert.Equal(t, sp.BlockCount, got.BlockCount)
	assert.Equal(t, sp.InodeCount, got.InodeCount)
	assert.Equal(t, uint64(200), got.FreeInodes)
	assert.Equal(t, uint64(4321), got.FreeBlocks)
	assert.Equal(t, common.MAGIC, got.Magic)
	assert.Equal(t, common.VERSION, got.Version)
	assert.Equal(t, common.DIRENTSZ, got.DirentSz)
}

func TestFormat(t *testing.T) {
	sp := mkFormatted(t)
	assert.True(t, sp.Good())
	assert.Equal(t, common.NINODE-1, sp.FreeInodes)
	assert.Equal(t, common.DataBlocks(), sp.FreeBlocks)

	// root inode is pre-allocated in the bitmap
	ibm, err := sp.Cache.Read(common.IBMAPBLK)
	require.NoError(t, err)
	assert.Equal(t, byte(1), ibm[0])

	// persisted superblock decodes back
	var ondisk FsSuper
	blk, err := sp.Cache.Read(common.SUPERBLK)
	require.NoError(t, err)
	ondisk.DecodeBytes(blk[:SUPERSZ])
	assert.True(t, ondisk.Good())
}

func TestGoodRejectsMismatch(t *testing.T) {
	sp := mkFormatted(t)
	sp.Magic = 0xdeadbeef
	assert.False(t, sp.Good())

	sp = mkFormatted(t)
	sp.Version = 1
	assert.False(t, sp.Good())

	sp = mkFormatted(t)
	sp.DirentSz = 128
	assert.False(t, sp.Good())
}

func TestGeometry(t *testing.T) {
	sp := mkFormatted(t)

	blk, off := sp.InodeAddr(0)
	assert.Equal(t, common.ITABLESTART, blk)
	assert.Equal(t, uint64(0), off)

	blk, off = sp.InodeAddr(17)
	assert.Equal(t, common.ITABLESTART+1, blk)
	assert.Equal(t, common.INODESZ, off)

	rblk, roff := sp.RefAddr(common.Bnum(common.DATASTART))
	assert.Equal(t, common.REFSTART, rblk)
	assert.Equal(t, common.DATASTART, roff)

	rblk, roff = sp.RefAddr(common.Bnum(common.BLOCKSIZE + 5))
	assert.Equal(t, common.REFSTART+1, rblk)
	assert.Equal(t, uint64(5), roff)
}

func TestFsckToleratesSmallDrift(t *testing.T) {
	sp := mkFormatted(t)
	sp.FreeBlocks -= 3 // within tolerance
	require.NoError(t, sp.WriteSuper())

	st, err := sp.Fsck()
	require.NoError(t, err)
	assert.Equal(t, uint64(3), st.BlockDrift)
	assert.Equal(t, common.DataBlocks()-3, sp.FreeBlocks)
}

func TestFsckCorrectsLargeDrift(t *testing.T) {
	sp := mkFormatted(t)
	sp.FreeBlocks -= 100
	sp.FreeInodes -= 50
	require.NoError(t, sp.WriteSuper())

	st, err := sp.Fsck()
	require.NoError(t, err)
	assert.Equal(t, uint64(100), st.BlockDrift)
	assert.Equal(t, uint64(50), st.InodeDrift)
	assert.Equal(t, common.DataBlocks(), sp.FreeBlocks)
	assert.Equal(t, common.NINODE-1, sp.FreeInodes)

	// the corrected counters are persisted
	var ondisk FsSuper
	blk, err := sp.Cache.Read(common.SUPERBLK)
	require.NoError(t, err)
	ondisk.DecodeBytes(blk[:SUPERSZ])
	assert.Equal(t, common.DataBlocks(), ondisk.FreeBlocks)
}

func TestFsckRepairsRefcounts(t *testing.T) {
	sp := mkFormatted(t)

	// allocated bit without a refcount
	bn := common.DATASTART + 10
	bbm, err := sp.Cache.Read(common.BBMAPBLK)
	require.NoError(t, err)
	bbm[bn/8] |= 1 << (bn % 8)
	require.NoError(t, sp.Cache.Write(common.BBMAPBLK, bbm))
	sp.FreeBlocks--
	require.NoError(t, sp.WriteSuper())

	// stale refcount on a free block
	refBlk, off := sp.RefAddr(common.Bnum(common.DATASTART + 20))
	blk, err := sp.Cache.Read(refBlk)
	require.NoError(t, err)
	blk[off] = 7
	require.NoError(t, sp.Cache.Write(refBlk, blk))

	st, err := sp.Fsck()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), st.RefFixed)

	blk, err = sp.Cache.Read(refBlk)
	require.NoError(t, err)
	rblk, roff := sp.RefAddr(common.Bnum(bn))
	assert.Equal(t, refBlk, rblk)
	assert.Equal(t, byte(1), blk[roff])
	assert.Equal(t, byte(0), blk[off])
}
