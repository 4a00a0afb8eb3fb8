// Package dir stores directory entries as a packed byte stream on a
// directory inode: 64-byte records, no tombstones. Removal swaps the
// last entry into the vacated slot and shrinks the stream, so every
// entry below Size is live.
package dir

import (
	"bytes"

	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-osfs/common"
	"github.com/mit-pdos/go-osfs/inode"
	"github.com/mit-pdos/go-osfs/util"
)

const NAMESZ = common.DIRENTSZ - 4

// addRetries bounds re-reads when the parent grows under a concurrent
// append between our size observation and our write.
const addRetries = 3

type DirEnt struct {
	Inum common.Inum
	Name string
}

func encodeDirEnt(de DirEnt) []byte {
	enc := marshal.NewEnc(common.DIRENTSZ)
	enc.PutInt32(uint32(de.Inum))
	name := make([]byte, NAMESZ)
	copy(name, de.Name)
	enc.PutBytes(name)
	return enc.Finish()
}

func decodeDirEnt(b []byte) DirEnt {
	dec := marshal.NewDec(b)
	inum := common.Inum(dec.GetInt32())
	name := dec.GetBytes(NAMESZ)
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	return DirEnt{Inum: inum, Name: string(name)}
}

// List returns every entry of dip in stream order.
func List(fs *inode.FsState, dip *inode.Inode) ([]DirEnt, error) {
	if !dip.IsDir() {
		return nil, common.ErrNotADir
	}
	data, err := dip.Read(fs, 0, dip.Size)
	if err != nil {
		return nil, err
	}
	ents := make([]DirEnt, 0, uint64(len(data))/common.DIRENTSZ)
	for off := uint64(0); off+common.DIRENTSZ <= uint64(len(data)); off += common.DIRENTSZ {
		ents = append(ents, decodeDirEnt(data[off:off+common.DIRENTSZ]))
	}
	return ents, nil
}

// LookupName scans dip for name; first match wins. Returns the child
// inum and the entry's byte offset.
func LookupName(fs *inode.FsState, dip *inode.Inode, name string) (common.Inum, uint64, error) {
	if !dip.IsDir() {
		return 0, 0, common.ErrNotADir
	}
	for off := uint64(0); off < dip.Size; off += common.DIRENTSZ {
		data, err := dip.Read(fs, off, common.DIRENTSZ)
		if err != nil {
			return 0, 0, err
		}
		if uint64(len(data)) != common.DIRENTSZ {
			break
		}
		de := decodeDirEnt(data)
		if de.Name == name {
			return de.Inum, off, nil
		}
	}
	return 0, 0, common.ErrNotFound
}

// AddName appends an entry for child under name. The parent inode is
// re-read first so the append lands past any entry added since the
// caller loaded dip; a short write with a changed size is retried.
func AddName(fs *inode.FsState, dip *inode.Inode, name string, child common.Inum) error {
	if uint64(len(name)) > common.MAXNAMELEN {
		return common.ErrNameTooLong
	}
	for try := 0; try < addRetries; try++ {
		fresh, err := inode.ReadInode(fs, dip.Inum)
		if err != nil {
			return err
		}
		*dip = *fresh
		if !dip.IsDir() {
			return common.ErrNotADir
		}
		if _, _, err := LookupName(fs, dip, name); err == nil {
			return common.ErrExists
		} else if err != common.ErrNotFound {
			return err
		}

		off := dip.Size
		ent := encodeDirEnt(DirEnt{Inum: child, Name: name})
		n, err := dip.Write(fs, off, ent)
		if n == common.DIRENTSZ && err == nil {
			util.DPrintf(5, "AddName # %d: %s -> %d off %d\n",
				dip.Inum, name, child, off)
			return nil
		}
		if err != nil && err != common.ErrWriteFailed {
			return err
		}
		// short write: if the directory grew underneath us, take
		// another pass; otherwise give up
		cur, err := inode.ReadInode(fs, dip.Inum)
		if err != nil {
			return err
		}
		if cur.Size == off {
			return common.ErrWriteFailed
		}
	}
	return common.ErrWriteFailed
}

// RemName removes name from dip, keeping the stream packed: the last
// entry is copied into the vacated slot before the size shrinks, so a
// failure in between leaves every entry reachable.
func RemName(fs *inode.FsState, dip *inode.Inode, name string) error {
	if !dip.IsDir() {
		return common.ErrNotADir
	}
	_, off, err := LookupName(fs, dip, name)
	if err != nil {
		return err
	}
	last := dip.Size - common.DIRENTSZ
	if off != last {
		ent, err := dip.Read(fs, last, common.DIRENTSZ)
		if err != nil {
			return err
		}
		n, err := dip.Write(fs, off, ent)
		if err != nil {
			return err
		}
		if n != common.DIRENTSZ {
			return common.ErrWriteFailed
		}
	}
	dip.Size = last
	util.DPrintf(5, "RemName # %d: %s off %d\n", dip.Inum, name, off)
	return inode.WriteInode(fs, dip)
}
