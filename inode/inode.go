// Package inode implements the on-disk inode table and byte-granular
// file I/O over it. An inode addresses 10 direct blocks plus one
// indirect block of 256 pointers. Writes grow the block map in place
// and copy shared blocks before mutating them, so snapshot-era data is
// never overwritten.
package inode

import (
	"fmt"

	"github.com/goose-lang/std"
	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-osfs/common"
	"github.com/mit-pdos/go-osfs/util"
)

type Inode struct {
	Inum common.Inum

	Kind     uint32
	Size     uint64
	Nblks    uint64
	Direct   [common.NDIRECT]common.Bnum
	Indirect common.Bnum
}

func (ip *Inode) String() string {
	return fmt.Sprintf("# %d k %d sz %d nblks %d ind %d",
		ip.Inum, ip.Kind, ip.Size, ip.Nblks, ip.Indirect)
}

// MkInode returns a fresh in-memory inode with an empty block map.
func MkInode(inum common.Inum, kind uint32) *Inode {
	ip := &Inode{Inum: inum, Kind: kind}
	for i := range ip.Direct {
		ip.Direct[i] = common.NULLBNUM
	}
	ip.Indirect = common.NULLBNUM
	return ip
}

func (ip *Inode) IsDir() bool {
	return ip.Kind == common.KINDDIR
}

func (ip *Inode) IsFile() bool {
	return ip.Kind == common.KINDFILE
}

func (ip *Inode) Encode() []byte {
	enc := marshal.NewEnc(common.INODESZ)
	enc.PutInt32(ip.Kind)
	enc.PutInt32(uint32(ip.Size))
	enc.PutInt32(uint32(ip.Nblks))
	for _, bn := range ip.Direct {
		enc.PutInt32(uint32(bn))
	}
	enc.PutInt32(uint32(ip.Indirect))
	return enc.Finish()
}

func Decode(b []byte, inum common.Inum) *Inode {
	dec := marshal.NewDec(b)
	ip := &Inode{Inum: inum}
	ip.Kind = dec.GetInt32()
	ip.Size = uint64(dec.GetInt32())
	ip.Nblks = uint64(dec.GetInt32())
	for i := range ip.Direct {
		ip.Direct[i] = common.Bnum(dec.GetInt32())
	}
	ip.Indirect = common.Bnum(dec.GetInt32())
	return ip
}

// ReadInode loads inum's record from the inode table.
func ReadInode(fs *FsState, inum common.Inum) (*Inode, error) {
	if uint64(inum) >= fs.Super.InodeCount {
		return nil, common.ErrCorrupt
	}
	blkno, off := fs.Super.InodeAddr(inum)
	blk, err := fs.Cache.Read(blkno)
	if err != nil {
		return nil, err
	}
	return Decode(blk[off:off+common.INODESZ], inum), nil
}

// WriteInode stores ip's record back into the inode table.
func WriteInode(fs *FsState, ip *Inode) error {
	if uint64(ip.Inum) >= fs.Super.InodeCount {
		return common.ErrCorrupt
	}
	blkno, off := fs.Super.InodeAddr(ip.Inum)
	blk, err := fs.Cache.Read(blkno)
	if err != nil {
		return err
	}
	copy(blk[off:off+common.INODESZ], ip.Encode())
	util.DPrintf(5, "WriteInode %v\n", ip)
	return fs.Cache.Write(blkno, blk)
}

// bnum resolves a logical block index to a physical block number,
// going through the indirect table when needed.
func (ip *Inode) bnum(fs *FsState, l uint64) (common.Bnum, error) {
	if l < common.NDIRECT {
		return ip.Direct[l], nil
	}
	if ip.Indirect == common.NULLBNUM {
		return common.NULLBNUM, nil
	}
	blk, err := fs.Cache.Read(uint64(ip.Indirect))
	if err != nil {
		return common.NULLBNUM, err
	}
	off := (l - common.NDIRECT) * 4
	dec := marshal.NewDec(blk[off : off+4])
	return common.Bnum(dec.GetInt32()), nil
}

// setBnum updates the map entry for logical block l, writing through
// the indirect table for l >= NDIRECT.
func (ip *Inode) setBnum(fs *FsState, l uint64, bn common.Bnum) error {
	if l < common.NDIRECT {
		ip.Direct[l] = bn
		return nil
	}
	if ip.Indirect == common.NULLBNUM {
		return common.ErrCorrupt
	}
	blk, err := fs.Cache.Read(uint64(ip.Indirect))
	if err != nil {
		return err
	}
	enc := marshal.NewEnc(4)
	enc.PutInt32(uint32(bn))
	copy(blk[(l-common.NDIRECT)*4:], enc.Finish())
	return fs.Cache.Write(uint64(ip.Indirect), blk)
}

// unshareIndirect gives the inode a private copy of its indirect block
// before any pointer-table mutation. Without this a snapshot sharing
// the indirect block would observe post-snapshot pointers. The inode is
// persisted immediately so the on-disk map never references the old
// copy with a stale count.
func (ip *Inode) unshareIndirect(fs *FsState) error {
	if ip.Indirect == common.NULLBNUM {
		return nil
	}
	rc, err := fs.Balloc.RefCount(ip.Indirect)
	if err != nil {
		return err
	}
	if rc <= 1 {
		return nil
	}
	bn, err := fs.Balloc.Cow(ip.Indirect)
	if err != nil {
		return err
	}
	ip.Indirect = bn
	return WriteInode(fs, ip)
}

// grow extends the block map to nblks blocks, zero-filling each new
// block. On allocation failure every block claimed by this call is
// released and the map is restored.
func (ip *Inode) grow(fs *FsState, nblks uint64) error {
	if nblks > common.MAXBLKS {
		return common.ErrTooLarge
	}
	if nblks > common.NDIRECT {
		if err := ip.unshareIndirect(fs); err != nil {
			return err
		}
	}
	var added []common.Bnum
	oldNblks := ip.Nblks
	oldInd := ip.Indirect

	undo := func() {
		for _, bn := range added {
			fs.Balloc.FreeBlock(bn)
		}
		for l := oldNblks; l < ip.Nblks; l++ {
			if l < common.NDIRECT {
				ip.Direct[l] = common.NULLBNUM
			}
		}
		ip.Indirect = oldInd
		ip.Nblks = oldNblks
	}

	zero := make([]byte, common.BLOCKSIZE)
	for ip.Nblks < nblks {
		l := ip.Nblks
		if l >= common.NDIRECT && ip.Indirect == common.NULLBNUM {
			ind, err := fs.Balloc.AllocBlock()
			if err != nil {
				undo()
				return err
			}
			added = append(added, ind)
			// unused pointer slots read back as NULLBNUM
			fill := make([]byte, common.BLOCKSIZE)
			for i := range fill {
				fill[i] = 0xff
			}
			if err := fs.Cache.Write(uint64(ind), fill); err != nil {
				undo()
				return err
			}
			ip.Indirect = ind
		}
		bn, err := fs.Balloc.AllocBlock()
		if err != nil {
			undo()
			return err
		}
		added = append(added, bn)
		if err := fs.Cache.Write(uint64(bn), zero); err != nil {
			undo()
			return err
		}
		if err := ip.setBnum(fs, l, bn); err != nil {
			undo()
			return err
		}
		ip.Nblks = l + 1
	}
	return nil
}

// Write stores data at off, growing the map and copying shared blocks
// as needed. It returns the bytes actually written; on a short count
// the caller may retry with the tail.
func (ip *Inode) Write(fs *FsState, off uint64, data []byte) (uint64, error) {
	cnt := uint64(len(data))
	if cnt == 0 {
		return 0, nil
	}
	if !std.SumNoOverflow(off, cnt) || off+cnt > common.MAXFILESZ {
		return 0, common.ErrTooLarge
	}

	nblks := util.RoundUp(off+cnt, common.BLOCKSIZE)
	if nblks > ip.Nblks {
		if err := ip.grow(fs, nblks); err != nil {
			return 0, err
		}
	}
	if err := ip.unshareIndirect(fs); err != nil {
		return 0, err
	}

	var written uint64
	for written < cnt {
		pos := off + written
		l := pos / common.BLOCKSIZE
		boff := pos % common.BLOCKSIZE
		n := util.Min(common.BLOCKSIZE-boff, cnt-written)

		bn, err := ip.bnum(fs, l)
		if err != nil {
			return written, err
		}
		if bn == common.NULLBNUM {
			return written, common.ErrCorrupt
		}

		rc, err := fs.Balloc.RefCount(bn)
		if err != nil {
			return written, err
		}
		if rc > 1 {
			newBn, err := fs.Balloc.Cow(bn)
			if err != nil {
				return written, err
			}
			if err := ip.setBnum(fs, l, newBn); err != nil {
				return written, err
			}
			bn = newBn
		}

		var blk []byte
		if n == common.BLOCKSIZE {
			blk = data[written : written+n]
		} else {
			blk, err = fs.Cache.Read(uint64(bn))
			if err != nil {
				return written, err
			}
			copy(blk[boff:], data[written:written+n])
		}
		if err := fs.Cache.Write(uint64(bn), blk); err != nil {
			return written, err
		}
		written += n
	}

	if off+written > ip.Size {
		ip.Size = off + written
	}
	if err := WriteInode(fs, ip); err != nil {
		return written, err
	}
	fs.Cache.Flush()
	util.DPrintf(5, "inode.Write %v off %d cnt %d\n", ip, off, cnt)
	return written, nil
}

// Read returns up to cnt bytes starting at off, clamped to the file
// size. Reading at or past EOF returns an empty slice.
func (ip *Inode) Read(fs *FsState, off uint64, cnt uint64) ([]byte, error) {
	if off >= ip.Size {
		return nil, nil
	}
	cnt = util.Min(cnt, ip.Size-off)
	data := make([]byte, 0, cnt)
	var done uint64
	for done < cnt {
		pos := off + done
		l := pos / common.BLOCKSIZE
		boff := pos % common.BLOCKSIZE
		n := util.Min(common.BLOCKSIZE-boff, cnt-done)

		bn, err := ip.bnum(fs, l)
		if err != nil {
			return data, err
		}
		if bn == common.NULLBNUM {
			return data, common.ErrCorrupt
		}
		blk, err := fs.Cache.Read(uint64(bn))
		if err != nil {
			return data, err
		}
		data = append(data, blk[boff:boff+n]...)
		done += n
	}
	return data, nil
}

// FreeBlocks releases every data block the inode references, then the
// indirect block itself, and resets the map. Shared blocks survive with
// a lower refcount.
func (ip *Inode) FreeBlocks(fs *FsState) error {
	for l := uint64(0); l < ip.Nblks; l++ {
		bn, err := ip.bnum(fs, l)
		if err != nil {
			return err
		}
		if bn == common.NULLBNUM {
			continue
		}
		if err := fs.Balloc.FreeBlock(bn); err != nil {
			return err
		}
	}
	if ip.Indirect != common.NULLBNUM {
		if err := fs.Balloc.FreeBlock(ip.Indirect); err != nil {
			return err
		}
	}
	for i := range ip.Direct {
		ip.Direct[i] = common.NULLBNUM
	}
	ip.Indirect = common.NULLBNUM
	ip.Nblks = 0
	ip.Size = 0
	return WriteInode(fs, ip)
}
