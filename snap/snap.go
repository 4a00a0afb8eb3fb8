// Package snap implements whole-volume copy-on-write snapshots. A
// snapshot freezes the bitmaps and the inode table into newly allocated
// data blocks and raises the refcount of every allocated block, so
// later writes copy rather than overwrite. The snapshot table itself is
// read and written directly on the device: records must reflect
// point-in-time state, not cached buffers.
package snap

import (
	"bytes"
	"sort"
	"time"

	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-osfs/alloc"
	"github.com/mit-pdos/go-osfs/common"
	"github.com/mit-pdos/go-osfs/disk"
	"github.com/mit-pdos/go-osfs/super"
	"github.com/mit-pdos/go-osfs/util"
)

type Record struct {
	Id        uint64
	Active    bool
	Timestamp uint64
	Root      common.Inum
	Name      string

	// frozen state
	Super      []byte // encoded superblock at capture, super.SUPERSZ bytes
	IbmBlk     common.Bnum
	BbmBlk     common.Bnum
	ItblBlks   [common.ITABLEBLKS]common.Bnum
	InodesUsed uint64
	BlocksUsed uint64
}

type Store struct {
	sp     *super.FsSuper
	d      disk.Disk
	balloc *alloc.Alloc
}

func MkStore(sp *super.FsSuper, balloc *alloc.Alloc) *Store {
	return &Store{sp: sp, d: sp.Disk, balloc: balloc}
}

func encodeRecord(rec *Record) []byte {
	enc := marshal.NewEnc(common.SNAPSZ)
	enc.PutInt32(uint32(rec.Id))
	enc.PutBool(rec.Active)
	enc.PutInt(rec.Timestamp)
	enc.PutInt32(uint32(rec.Root))
	name := make([]byte, common.SNAPNAMESZ)
	copy(name, rec.Name)
	enc.PutBytes(name)
	sb := make([]byte, super.SUPERSZ)
	copy(sb, rec.Super)
	enc.PutBytes(sb)
	enc.PutInt32(uint32(rec.IbmBlk))
	enc.PutInt32(uint32(rec.BbmBlk))
	for _, bn := range rec.ItblBlks {
		enc.PutInt32(uint32(bn))
	}
	enc.PutInt32(uint32(rec.InodesUsed))
	enc.PutInt32(uint32(rec.BlocksUsed))
	return enc.Finish()
}

func decodeRecord(b []byte, id uint64) *Record {
	dec := marshal.NewDec(b)
	rec := &Record{}
	rec.Id = uint64(dec.GetInt32())
	rec.Active = dec.GetBool()
	rec.Timestamp = dec.GetInt()
	rec.Root = common.Inum(dec.GetInt32())
	name := dec.GetBytes(common.SNAPNAMESZ)
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	rec.Name = string(name)
	rec.Super = dec.GetBytes(super.SUPERSZ)
	rec.IbmBlk = common.Bnum(dec.GetInt32())
	rec.BbmBlk = common.Bnum(dec.GetInt32())
	for i := range rec.ItblBlks {
		rec.ItblBlks[i] = common.Bnum(dec.GetInt32())
	}
	rec.InodesUsed = uint64(dec.GetInt32())
	rec.BlocksUsed = uint64(dec.GetInt32())
	rec.Id = id
	return rec
}

// readTable loads the whole snapshot table from the device.
func (st *Store) readTable() ([]byte, error) {
	tbl := make([]byte, 0, common.SNAPBLKS*common.BLOCKSIZE)
	for i := uint64(0); i < common.SNAPBLKS; i++ {
		blk, err := st.d.Read(common.SNAPSTART + i)
		if err != nil {
			return nil, err
		}
		tbl = append(tbl, blk...)
	}
	return tbl, nil
}

// writeRecord stores rec into its slot, writing back only the device
// blocks the record touches. Records straddle block boundaries, so this
// can be one or two writes; the caller orders its calls so the Active
// byte flip is the commit point.
func (st *Store) writeRecord(tbl []byte, rec *Record) error {
	off := rec.Id * common.SNAPSZ
	copy(tbl[off:off+common.SNAPSZ], encodeRecord(rec))
	first := off / common.BLOCKSIZE
	last := (off + common.SNAPSZ - 1) / common.BLOCKSIZE
	for i := first; i <= last; i++ {
		bn := common.SNAPSTART + i
		if err := st.d.Write(bn, tbl[i*common.BLOCKSIZE:(i+1)*common.BLOCKSIZE]); err != nil {
			return err
		}
		st.sp.Cache.Invalidate(bn)
	}
	return nil
}

func (st *Store) records() ([]*Record, error) {
	tbl, err := st.readTable()
	if err != nil {
		return nil, err
	}
	recs := make([]*Record, common.MAXSNAP)
	for id := uint64(0); id < common.MAXSNAP; id++ {
		off := id * common.SNAPSZ
		recs[id] = decodeRecord(tbl[off:off+common.SNAPSZ], id)
	}
	return recs, nil
}

// List returns the active snapshot records sorted by id.
func (st *Store) List() ([]*Record, error) {
	recs, err := st.records()
	if err != nil {
		return nil, err
	}
	active := make([]*Record, 0, len(recs))
	for _, rec := range recs {
		if rec.Active {
			active = append(active, rec)
		}
	}
	sort.Slice(active, func(i, j int) bool {
		return active[i].Id < active[j].Id
	})
	return active, nil
}

// Lookup finds an active snapshot by name.
func (st *Store) Lookup(name string) (*Record, error) {
	recs, err := st.List()
	if err != nil {
		return nil, err
	}
	for _, rec := range recs {
		if rec.Name == name {
			return rec, nil
		}
	}
	return nil, common.ErrSnapNotFound
}

func bitSet(blk []byte, n uint64) bool {
	return blk[n/8]&(1<<(n%8)) != 0
}

// Create captures the current volume state under name. The protocol is
// three-phase: materialise the frozen metadata into fresh blocks, bump
// the refcount of every allocated block, then activate the record. The
// activation write is the commit point; an interrupted creation leaves
// an inactive record whose slot is reused later.
func (st *Store) Create(name string) (uint64, error) {
	if name == "" || uint64(len(name)) >= common.SNAPNAMESZ {
		return 0, common.ErrNameTooLong
	}
	recs, err := st.records()
	if err != nil {
		return 0, err
	}
	slot := uint64(common.MAXSNAP)
	for _, rec := range recs {
		if rec.Active && rec.Name == name {
			return 0, common.ErrSnapNameTaken
		}
		if !rec.Active && slot == common.MAXSNAP {
			slot = rec.Id
		}
	}
	if slot == common.MAXSNAP {
		return 0, common.ErrSnapTableFull
	}

	// phase 1: materialise frozen copies
	var frozen []common.Bnum
	allocOne := func() (common.Bnum, error) {
		bn, err := st.balloc.AllocBlock()
		if err != nil {
			return 0, err
		}
		frozen = append(frozen, bn)
		return bn, nil
	}
	undo := func() {
		for _, bn := range frozen {
			st.balloc.FreeBlock(bn)
		}
	}

	rec := &Record{
		Id:        slot,
		Active:    false,
		Timestamp: uint64(time.Now().Unix()),
		Root:      common.ROOTINUM,
		Name:      name,
	}
	if rec.IbmBlk, err = allocOne(); err != nil {
		undo()
		return 0, err
	}
	if rec.BbmBlk, err = allocOne(); err != nil {
		undo()
		return 0, err
	}
	for i := range rec.ItblBlks {
		if rec.ItblBlks[i], err = allocOne(); err != nil {
			undo()
			return 0, err
		}
	}

	// copies are taken after the allocations above so the frozen
	// bitmap covers the frozen blocks themselves
	if err := st.copyBlock(common.IBMAPBLK, rec.IbmBlk); err != nil {
		undo()
		return 0, err
	}
	if err := st.copyBlock(common.BBMAPBLK, rec.BbmBlk); err != nil {
		undo()
		return 0, err
	}
	for i := range rec.ItblBlks {
		if err := st.copyBlock(common.ITABLESTART+uint64(i), rec.ItblBlks[i]); err != nil {
			undo()
			return 0, err
		}
	}

	rec.Super = st.sp.EncodeBytes()
	rec.InodesUsed = st.sp.InodeCount - st.sp.FreeInodes
	rec.BlocksUsed = common.DataBlocks() - st.sp.FreeBlocks

	tbl, err := st.readTable()
	if err != nil {
		undo()
		return 0, err
	}
	if err := st.writeRecord(tbl, rec); err != nil {
		undo()
		return 0, err
	}

	// phase 2: share every allocated data block with the snapshot
	bbm, err := st.d.Read(common.BBMAPBLK)
	if err != nil {
		return 0, err
	}
	for bn := st.sp.DataStart(); bn < st.sp.BlockCount; bn++ {
		if !bitSet(bbm, bn) {
			continue
		}
		if err := st.balloc.IncRef(common.Bnum(bn)); err != nil {
			return 0, err
		}
	}

	// phase 3: activate; this write commits the snapshot
	rec.Active = true
	if err := st.writeRecord(tbl, rec); err != nil {
		return 0, err
	}
	util.DPrintf(1, "Create snapshot %q -> %d\n", name, slot)
	return slot, nil
}

// copyBlock clones a live metadata block into a frozen one with direct
// device I/O, dropping any cached copy of the destination.
func (st *Store) copyBlock(src uint64, dst common.Bnum) error {
	blk, err := st.d.Read(src)
	if err != nil {
		return err
	}
	if err := st.d.Write(uint64(dst), blk); err != nil {
		return err
	}
	st.sp.Cache.Invalidate(uint64(dst))
	return nil
}

// Restore rolls the volume back to snapshot id: the live superblock,
// bitmaps and inode table are overwritten with the frozen copies, and
// every block that is allocated now but was not allocated at capture
// loses its last live reference. The block cache is cleared.
func (st *Store) Restore(id uint64) error {
	if id >= common.MAXSNAP {
		return common.ErrSnapNotFound
	}
	recs, err := st.records()
	if err != nil {
		return err
	}
	rec := recs[id]
	if !rec.Active {
		return common.ErrSnapNotFound
	}

	curBbm, err := st.d.Read(common.BBMAPBLK)
	if err != nil {
		return err
	}
	snapIbm, err := st.d.Read(uint64(rec.IbmBlk))
	if err != nil {
		return err
	}
	snapBbm, err := st.d.Read(uint64(rec.BbmBlk))
	if err != nil {
		return err
	}

	// overwrite live metadata with the frozen copies
	sbBlk := make([]byte, common.BLOCKSIZE)
	copy(sbBlk, rec.Super)
	if err := st.d.Write(common.SUPERBLK, sbBlk); err != nil {
		return err
	}
	if err := st.d.Write(common.IBMAPBLK, snapIbm); err != nil {
		return err
	}
	if err := st.d.Write(common.BBMAPBLK, snapBbm); err != nil {
		return err
	}
	for i, bn := range rec.ItblBlks {
		blk, err := st.d.Read(uint64(bn))
		if err != nil {
			return err
		}
		if err := st.d.Write(common.ITABLESTART+uint64(i), blk); err != nil {
			return err
		}
	}

	// drop references held only by the post-snapshot state
	for bn := st.sp.DataStart(); bn < st.sp.BlockCount; bn++ {
		if bitSet(curBbm, bn) && !bitSet(snapBbm, bn) {
			if err := st.decRefRaw(common.Bnum(bn)); err != nil {
				return err
			}
		}
	}

	st.sp.DecodeBytes(rec.Super)
	st.sp.Cache.Clear()
	util.DPrintf(1, "Restore snapshot %d (%q)\n", id, rec.Name)
	return nil
}

// decRefRaw decrements a refcount with direct device I/O; used during
// restore when the live bitmap no longer covers the block.
func (st *Store) decRefRaw(bn common.Bnum) error {
	refBlk, off := st.sp.RefAddr(bn)
	blk, err := st.d.Read(refBlk)
	if err != nil {
		return err
	}
	if blk[off] > 0 {
		blk[off]--
	}
	if err := st.d.Write(refBlk, blk); err != nil {
		return err
	}
	st.sp.Cache.Invalidate(refBlk)
	return nil
}

// Delete removes snapshot id. The record is deactivated first (the
// commit point), then every block the frozen bitmap references loses
// the snapshot's refcount, and finally the frozen metadata blocks
// themselves are released.
func (st *Store) Delete(id uint64) error {
	if id >= common.MAXSNAP {
		return common.ErrSnapNotFound
	}
	recs, err := st.records()
	if err != nil {
		return err
	}
	rec := recs[id]
	if !rec.Active {
		return common.ErrSnapNotFound
	}

	tbl, err := st.readTable()
	if err != nil {
		return err
	}
	rec.Active = false
	if err := st.writeRecord(tbl, rec); err != nil {
		return err
	}

	snapBbm, err := st.d.Read(uint64(rec.BbmBlk))
	if err != nil {
		return err
	}
	for bn := st.sp.DataStart(); bn < st.sp.BlockCount; bn++ {
		if !bitSet(snapBbm, bn) {
			continue
		}
		if err := st.balloc.FreeBlock(common.Bnum(bn)); err != nil {
			return err
		}
	}

	if err := st.balloc.FreeBlock(rec.IbmBlk); err != nil {
		return err
	}
	if err := st.balloc.FreeBlock(rec.BbmBlk); err != nil {
		return err
	}
	for _, bn := range rec.ItblBlks {
		if err := st.balloc.FreeBlock(bn); err != nil {
			return err
		}
	}
	util.DPrintf(1, "Delete snapshot %d (%q)\n", id, rec.Name)
	return nil
}
