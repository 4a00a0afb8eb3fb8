// Package common holds the on-disk geometry shared by every layer of the
// engine. The layout is bit-exact and version-gated by the superblock.
package common

// Bnum is a block number on the volume; Inum indexes the inode table.
// Both are stored on disk as 32-bit words; in memory they are uint64 so
// arithmetic against block offsets needs no conversions.
type Bnum uint64
type Inum uint64

const NULLBNUM Bnum = 0xffffffff

const ROOTINUM Inum = 0

const (
	BLOCKSIZE  uint64 = 1024
	BLOCKCOUNT uint64 = 8192
	DISKSIZE   uint64 = BLOCKCOUNT * BLOCKSIZE
)

// Region layout, in blocks, in disk order.
const (
	SUPERBLK    uint64 = 0
	IBMAPBLK    uint64 = 1
	BBMAPBLK    uint64 = 2
	ITABLESTART uint64 = 3
	ITABLEBLKS  uint64 = 16
	SNAPSTART   uint64 = ITABLESTART + ITABLEBLKS
	SNAPBLKS    uint64 = 4
	REFSTART    uint64 = SNAPSTART + SNAPBLKS
	REFBLKS     uint64 = 100
	DATASTART   uint64 = REFSTART + REFBLKS
)

const (
	INODESZ uint64 = 64
	NINODE  uint64 = ITABLEBLKS * BLOCKSIZE / INODESZ

	NDIRECT   uint64 = 10
	NINDIRECT uint64 = BLOCKSIZE / 4
	MAXBLKS   uint64 = NDIRECT + NINDIRECT
	MAXFILESZ uint64 = MAXBLKS * BLOCKSIZE
)

const (
	DIRENTSZ   uint64 = 64
	MAXNAMELEN uint64 = DIRENTSZ - 4 - 1 // u32 inum + NUL
)

const (
	SNAPSZ     uint64 = 164
	MAXSNAP    uint64 = SNAPBLKS * BLOCKSIZE / SNAPSZ
	SNAPNAMESZ uint64 = 32
)

const (
	MAGIC   uint32 = 0x4F534653 // "SFSO" on disk, "OSFS" little-endian
	VERSION uint32 = 2
)

// Kinds stored in an inode's type word.
const (
	KINDFREE uint32 = 0
	KINDFILE uint32 = 1
	KINDDIR  uint32 = 2
)

func DataBlocks() uint64 {
	return BLOCKCOUNT - DATASTART
}
