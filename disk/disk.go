// Package disk provides 1 KiB block devices backed by a file or by
// memory. All file access is positional (ReadAt/WriteAt), so a single
// descriptor can be shared across threads without a seek offset race.
package disk

import (
	"fmt"
	"io"
	"os"

	"github.com/mit-pdos/go-osfs/common"
)

const BlockSize uint64 = common.BLOCKSIZE

type Block = []byte

type Disk interface {
	// Read returns the contents of block bn. Reads past the
	// materialized end of the backing file come back zero-filled.
	Read(bn uint64) (Block, error)

	// Write persists b as the contents of block bn.
	Write(bn uint64, b Block) error

	// Size reports the disk size in blocks.
	Size() uint64

	// Barrier ensures previous writes reach stable storage.
	Barrier() error

	Close() error
}

// FileDisk is a Disk over a single backing image file.
type FileDisk struct {
	f       *os.File
	nblocks uint64
}

var _ Disk = (*FileDisk)(nil)

// NewFileDisk opens (creating if needed) an image of nblocks blocks.
func NewFileDisk(path string, nblocks uint64) (*FileDisk, error) {
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &FileDisk{f: f, nblocks: nblocks}, nil
}

func (d *FileDisk) Read(bn uint64) (Block, error) {
	if bn >= d.nblocks {
		panic("disk: read past end")
	}
	blk := make([]byte, BlockSize)
	_, err := d.f.ReadAt(blk, int64(bn*BlockSize))
	if err == io.EOF {
		// hole past the materialized end; blk stays zero
		return blk, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read block %d: %w", bn, err)
	}
	return blk, nil
}

func (d *FileDisk) Write(bn uint64, b Block) error {
	if bn >= d.nblocks {
		panic("disk: write past end")
	}
	if uint64(len(b)) != BlockSize {
		panic("disk: short buffer")
	}
	_, err := d.f.WriteAt(b, int64(bn*BlockSize))
	if err != nil {
		return fmt.Errorf("write block %d: %w", bn, err)
	}
	return nil
}

func (d *FileDisk) Size() uint64 {
	return d.nblocks
}

func (d *FileDisk) Barrier() error {
	return d.f.Sync()
}

func (d *FileDisk) Close() error {
	return d.f.Close()
}

// ImageSize reports the materialized byte size of the backing file, to
// decide at open time whether the image is fresh.
func (d *FileDisk) ImageSize() (uint64, error) {
	fi, err := d.f.Stat()
	if err != nil {
		return 0, err
	}
	return uint64(fi.Size()), nil
}

// MemDisk is an in-memory Disk for tests.
type MemDisk struct {
	blocks []Block
}

var _ Disk = (*MemDisk)(nil)

func NewMemDisk(nblocks uint64) *MemDisk {
	blocks := make([]Block, nblocks)
	for i := range blocks {
		blocks[i] = make([]byte, BlockSize)
	}
	return &MemDisk{blocks: blocks}
}

func (d *MemDisk) Read(bn uint64) (Block, error) {
	if bn >= uint64(len(d.blocks)) {
		panic("disk: read past end")
	}
	blk := make([]byte, BlockSize)
	copy(blk, d.blocks[bn])
	return blk, nil
}

func (d *MemDisk) Write(bn uint64, b Block) error {
	if bn >= uint64(len(d.blocks)) {
		panic("disk: write past end")
	}
	if uint64(len(b)) != BlockSize {
		panic("disk: short buffer")
	}
	copy(d.blocks[bn], b)
	return nil
}

func (d *MemDisk) Size() uint64 {
	return uint64(len(d.blocks))
}

func (d *MemDisk) Barrier() error { return nil }

func (d *MemDisk) Close() error { return nil }
