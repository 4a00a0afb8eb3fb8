// Package super owns the superblock and the volume geometry: where each
// metadata region lives, how inode and refcount slots map to blocks, and
// the format/repair logic that runs when an image is opened.
package super

import (
	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-osfs/bcache"
	"github.com/mit-pdos/go-osfs/common"
	"github.com/mit-pdos/go-osfs/disk"
	"github.com/mit-pdos/go-osfs/util"
)

const SUPERSZ uint64 = 32 // encoded superblock bytes

// FsSuper is the in-memory superblock plus the device it came from.
// Counter fields mirror the on-disk copy; WriteSuper is the commit point
// for every allocator mutation.
type FsSuper struct {
	Disk  disk.Disk
	Cache *bcache.Bcache

	BlockSize  uint64
	BlockCount uint64
	InodeCount uint64
	FreeInodes uint64
	FreeBlocks uint64
	Magic      uint32
	Version    uint32
	DirentSz   uint64
}

func MkFsSuper(d disk.Disk, cacheCap uint64) *FsSuper {
	return &FsSuper{
		Disk:       d,
		Cache:      bcache.MkBcache(d, cacheCap),
		BlockSize:  common.BLOCKSIZE,
		BlockCount: common.BLOCKCOUNT,
		InodeCount: common.NINODE,
		FreeInodes: common.NINODE - 1,
		FreeBlocks: common.DataBlocks(),
		Magic:      common.MAGIC,
		Version:    common.VERSION,
		DirentSz:   common.DIRENTSZ,
	}
}

// EncodeBytes packs the superblock fields in disk order. The same bytes
// are embedded in snapshot records.
func (sp *FsSuper) EncodeBytes() []byte {
	enc := marshal.NewEnc(SUPERSZ)
	enc.PutInt32(uint32(sp.BlockSize))
	enc.PutInt32(uint32(sp.BlockCount))
	enc.PutInt32(uint32(sp.InodeCount))
	enc.PutInt32(uint32(sp.FreeInodes))
	enc.PutInt32(uint32(sp.FreeBlocks))
	enc.PutInt32(sp.Magic)
	enc.PutInt32(sp.Version)
	enc.PutInt32(uint32(sp.DirentSz))
	return enc.Finish()
}

// DecodeBytes unpacks an encoded superblock into sp, leaving Disk and
// Cache alone.
func (sp *FsSuper) DecodeBytes(b []byte) {
	dec := marshal.NewDec(b)
	sp.BlockSize = uint64(dec.GetInt32())
	sp.BlockCount = uint64(dec.GetInt32())
	sp.InodeCount = uint64(dec.GetInt32())
	sp.FreeInodes = uint64(dec.GetInt32())
	sp.FreeBlocks = uint64(dec.GetInt32())
	sp.Magic = dec.GetInt32()
	sp.Version = dec.GetInt32()
	sp.DirentSz = uint64(dec.GetInt32())
}

// WriteSuper persists the superblock through the cache.
func (sp *FsSuper) WriteSuper() error {
	blk := make([]byte, common.BLOCKSIZE)
	copy(blk, sp.EncodeBytes())
	return sp.Cache.Write(common.SUPERBLK, blk)
}

// ReadSuper loads the on-disk superblock into sp.
func (sp *FsSuper) ReadSuper() error {
	blk, err := sp.Cache.Read(common.SUPERBLK)
	if err != nil {
		return err
	}
	sp.DecodeBytes(blk[:SUPERSZ])
	return nil
}

// Good reports whether the on-disk identification fields match this
// build's layout. A mismatch means the image must be reformatted.
func (sp *FsSuper) Good() bool {
	return sp.Magic == common.MAGIC &&
		sp.Version == common.VERSION &&
		sp.DirentSz == common.DIRENTSZ &&
		sp.BlockSize == common.BLOCKSIZE &&
		sp.BlockCount > 0 &&
		sp.InodeCount > 0
}

// InodeAddr maps an inode number to its table block and byte offset.
func (sp *FsSuper) InodeAddr(inum common.Inum) (uint64, uint64) {
	perBlk := common.BLOCKSIZE / common.INODESZ
	blk := common.ITABLESTART + uint64(inum)/perBlk
	off := (uint64(inum) % perBlk) * common.INODESZ
	return blk, off
}

// RefAddr maps a block number to its refcount-table block and offset.
func (sp *FsSuper) RefAddr(bn common.Bnum) (uint64, uint64) {
	return common.REFSTART + uint64(bn)/common.BLOCKSIZE,
		uint64(bn) % common.BLOCKSIZE
}

func (sp *FsSuper) DataStart() uint64 {
	return common.DATASTART
}

func (sp *FsSuper) MaxBnum() common.Bnum {
	return common.Bnum(sp.BlockCount)
}

// Format writes a fresh layout: zeroed bitmaps, inode table, snapshot
// table and refcount table, then the superblock. Inode 0 is
// pre-allocated for the root directory; the caller initializes the root
// inode record itself.
func (sp *FsSuper) Format() error {
	zero := make([]byte, common.BLOCKSIZE)
	for bn := common.IBMAPBLK; bn < common.DATASTART; bn++ {
		if err := sp.Cache.Write(bn, zero); err != nil {
			return err
		}
	}

	ibm := make([]byte, common.BLOCKSIZE)
	ibm[0] = 1 // root inode
	if err := sp.Cache.Write(common.IBMAPBLK, ibm); err != nil {
		return err
	}

	sp.BlockSize = common.BLOCKSIZE
	sp.BlockCount = common.BLOCKCOUNT
	sp.InodeCount = common.NINODE
	sp.FreeInodes = common.NINODE - 1
	sp.FreeBlocks = common.DataBlocks()
	sp.Magic = common.MAGIC
	sp.Version = common.VERSION
	sp.DirentSz = common.DIRENTSZ
	util.DPrintf(1, "Format: %d blocks, %d inodes, %d data blocks\n",
		sp.BlockCount, sp.InodeCount, sp.FreeBlocks)
	return sp.WriteSuper()
}
