package disk

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mkData(b byte) Block {
	blk := make([]byte, BlockSize)
	for i := range blk {
		blk[i] = b
	}
	return blk
}

func TestFileDiskRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "img")
	d, err := NewFileDisk(path, 100)
	require.NoError(t, err)
	defer d.Close()

	require.NoError(t, d.Write(7, mkData(0xaa)))
	blk, err := d.Read(7)
	require.NoError(t, err)
	assert.Equal(t, mkData(0xaa), blk)
	assert.Equal(t, uint64(100), d.Size())
}

func TestFileDiskZeroFill(t *testing.T) {
	path := filepath.Join(t.TempDir(), "img")
	d, err := NewFileDisk(path, 100)
	require.NoError(t, err)
	defer d.Close()

	// nothing written: every block reads back as zeros
	blk, err := d.Read(99)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, BlockSize), blk)

	// a write materializes only a prefix of the image; blocks past
	// it still read as zeros
	require.NoError(t, d.Write(3, mkData(0x55)))
	blk, err = d.Read(50)
	require.NoError(t, err)
	assert.Equal(t, make([]byte, BlockSize), blk)
}

func TestFileDiskReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "img")
	d, err := NewFileDisk(path, 10)
	require.NoError(t, err)
	require.NoError(t, d.Write(2, mkData(0x11)))
	require.NoError(t, d.Barrier())
	require.NoError(t, d.Close())

	d2, err := NewFileDisk(path, 10)
	require.NoError(t, err)
	defer d2.Close()
	blk, err := d2.Read(2)
	require.NoError(t, err)
	assert.Equal(t, mkData(0x11), blk)

	sz, err := d2.ImageSize()
	require.NoError(t, err)
	assert.Equal(t, uint64(3*BlockSize), sz)
}

func TestMemDisk(t *testing.T) {
	d := NewMemDisk(16)
	require.NoError(t, d.Write(5, mkData(0x7f)))
	blk, err := d.Read(5)
	require.NoError(t, err)
	assert.Equal(t, mkData(0x7f), blk)

	// the returned buffer is a copy
	blk[0] = 0
	again, err := d.Read(5)
	require.NoError(t, err)
	assert.Equal(t, byte(0x7f), again[0])
}
