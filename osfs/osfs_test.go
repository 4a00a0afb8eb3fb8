package osfs

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mit-pdos/go-osfs/common"
)

type TestState struct {
	t  *testing.T
	fs *Fs
}

func mkTest(t *testing.T) *TestState {
	fs, err := MkMemFs(64)
	require.NoError(t, err)
	return &TestState{t: t, fs: fs}
}

func (ts *TestState) Write(path string, data []byte) {
	require.NoError(ts.t, ts.fs.WriteFile(path, data))
}

func (ts *TestState) Read(path string, expected []byte) {
	data, err := ts.fs.ReadFile(path)
	require.NoError(ts.t, err)
	assert.Equal(ts.t, expected, data)
}

func (ts *TestState) Mkdir(path string) {
	require.NoError(ts.t, ts.fs.CreateDirectory(path))
}

func (ts *TestState) Delete(path string) {
	require.NoError(ts.t, ts.fs.DeleteFile(path))
}

func (ts *TestState) Snap(name string) {
	require.NoError(ts.t, ts.fs.CreateSnapshot("/", name))
}

func (ts *TestState) Restore(name string) {
	require.NoError(ts.t, ts.fs.RestoreSnapshot(name))
}

func (ts *TestState) FreeBlocks() uint64 {
	return ts.fs.Super().FreeBlocks
}

func altData(n uint64) []byte {
	data := make([]byte, n)
	for i := range data {
		if i%2 == 0 {
			data[i] = 0xaa
		} else {
			data[i] = 0x55
		}
	}
	return data
}

func TestWriteReadRoundTrip(t *testing.T) {
	ts := mkTest(t)
	ts.Write("/hello.txt", []byte("hello world"))
	ts.Read("/hello.txt", []byte("hello world"))

	_, err := ts.fs.ReadFile("/missing")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestPathNormalization(t *testing.T) {
	ts := mkTest(t)
	ts.Write(`\dir\file.bin`, []byte("x"))
	ts.Read("/dir/file.bin", []byte("x"))
	ts.Read("/dir/file.bin/", []byte("x"))
	ts.Read("dir/file.bin", []byte("x"))
	ts.Read("//dir//file.bin", []byte("x"))
}

func TestImplicitParents(t *testing.T) {
	ts := mkTest(t)
	ts.Write("/a/b/c/deep.txt", []byte("deep"))
	ts.Read("/a/b/c/deep.txt", []byte("deep"))

	ents, err := ts.fs.ReadDir("/a/b")
	require.NoError(t, err)
	require.Len(t, ents, 1)
	assert.Equal(t, "c", ents[0].Name)
	assert.True(t, ents[0].IsDir)
}

func TestMkdirIdempotent(t *testing.T) {
	ts := mkTest(t)
	ts.Mkdir("/d/e")
	before, err := ts.fs.ReadDir("/d")
	require.NoError(t, err)

	ts.Mkdir("/d/e")
	after, err := ts.fs.ReadDir("/d")
	require.NoError(t, err)
	assert.Equal(t, before, after)

	// an existing file under that name is an error
	ts.Write("/d/f", []byte("file"))
	assert.ErrorIs(t, ts.fs.CreateDirectory("/d/f"), common.ErrExists)
}

func TestDirectoryCollision(t *testing.T) {
	ts := mkTest(t)
	ts.Mkdir("/d")

	// a directory exists at /d: writing a file there must fail
	assert.ErrorIs(t, ts.fs.WriteFile("/d", []byte("x")), common.ErrNotAFile)

	ts.Write("/d/x", []byte("hello"))
	ts.Write("/d/x", []byte("world"))
	ts.Read("/d/x", []byte("world"))
}

func TestDeleteFile(t *testing.T) {
	ts := mkTest(t)
	ts.Write("/f", []byte("data"))
	ts.Delete("/f")
	_, err := ts.fs.ReadFile("/f")
	assert.ErrorIs(t, err, common.ErrNotFound)

	// directories are rejected
	ts.Mkdir("/d")
	assert.ErrorIs(t, ts.fs.DeleteFile("/d"), common.ErrNotAFile)
	assert.ErrorIs(t, ts.fs.DeleteFile("/"), common.ErrNotAFile)
	assert.ErrorIs(t, ts.fs.DeleteFile("/ghost"), common.ErrNotFound)
}

func TestFreeBlockAccounting(t *testing.T) {
	ts := mkTest(t)
	// prime the root directory so the next create reuses its block
	ts.Write("/prime", []byte("x"))
	ts.Delete("/prime")

	n0 := ts.FreeBlocks()
	ts.Write("/t", make([]byte, 5*common.BLOCKSIZE))
	assert.Equal(t, n0-5, ts.FreeBlocks())
	ts.Delete("/t")
	assert.Equal(t, n0, ts.FreeBlocks())
}

func TestOverwriteReleasesOldBlocks(t *testing.T) {
	ts := mkTest(t)
	ts.Write("/prime", []byte("x"))

	n0 := ts.FreeBlocks()
	ts.Write("/big", altData(20*common.BLOCKSIZE))
	// 20 data blocks plus the indirect block
	assert.Equal(t, n0-21, ts.FreeBlocks())

	ts.Write("/big", []byte("small now"))
	assert.Equal(t, n0-1, ts.FreeBlocks())
	ts.Read("/big", []byte("small now"))
}

func TestGrowPastDirectEndToEnd(t *testing.T) {
	ts := mkTest(t)
	data := altData(11 * common.BLOCKSIZE)
	ts.Write("/big.bin", data)
	ts.Read("/big.bin", data)
}

func TestSnapshotIsolation(t *testing.T) {
	ts := mkTest(t)
	ts.Write("/a.txt", []byte("v1"))
	ts.Snap("s1")

	ts.Write("/a.txt", []byte("v2-longer"))
	ts.Read("/a.txt", []byte("v2-longer"))

	ts.Restore("s1")
	ts.Read("/a.txt", []byte("v1"))

	data, err := ts.fs.ReadFile("/a.txt")
	require.NoError(t, err)
	assert.Len(t, data, 2)
}

func TestSnapshotCowNonInterference(t *testing.T) {
	ts := mkTest(t)
	big := altData(12 * common.BLOCKSIZE)
	ts.Write("/f", big)
	ts.Snap("base")

	// arbitrary churn after the snapshot
	mod := make([]byte, 12*common.BLOCKSIZE)
	for i := range mod {
		mod[i] = byte(i % 251)
	}
	ts.Write("/f", mod)
	ts.Write("/new", []byte("post-snapshot file"))
	ts.Delete("/new")
	ts.Read("/f", mod)

	ts.Restore("base")
	ts.Read("/f", big)
	_, err := ts.fs.ReadFile("/new")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestSnapshotDeletedFileSurvives(t *testing.T) {
	ts := mkTest(t)
	ts.Write("/keep.txt", []byte("keep me"))
	ts.Snap("s")
	ts.Delete("/keep.txt")
	_, err := ts.fs.ReadFile("/keep.txt")
	assert.ErrorIs(t, err, common.ErrNotFound)

	ts.Restore("s")
	ts.Read("/keep.txt", []byte("keep me"))
}

func TestSnapshotList(t *testing.T) {
	ts := mkTest(t)
	ts.Snap("b")
	ts.Snap("a")
	names, err := ts.fs.ListSnapshots("/")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a"}, names) // id order, not name order

	require.NoError(t, ts.fs.DeleteSnapshot("b"))
	names, err = ts.fs.ListSnapshots("/")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, names)
}

func TestSnapshotTableFullEndToEnd(t *testing.T) {
	ts := mkTest(t)
	ts.Write("/data", altData(3*common.BLOCKSIZE))

	for i := uint64(0); i < common.MAXSNAP; i++ {
		ts.Snap(fmt.Sprintf("s%d", i))
	}
	n := ts.FreeBlocks()
	err := ts.fs.CreateSnapshot("/", "overflow")
	assert.ErrorIs(t, err, common.ErrSnapTableFull)
	assert.Equal(t, n, ts.FreeBlocks())

	require.NoError(t, ts.fs.DeleteSnapshot("s0"))
	ts.Snap("s0-again")
	names, err := ts.fs.ListSnapshots("/")
	require.NoError(t, err)
	assert.Equal(t, "s0-again", names[0])
}

func TestSnapshotErrors(t *testing.T) {
	ts := mkTest(t)
	assert.ErrorIs(t, ts.fs.RestoreSnapshot("nope"), common.ErrSnapNotFound)
	assert.ErrorIs(t, ts.fs.DeleteSnapshot("nope"), common.ErrSnapNotFound)

	ts.Snap("dup")
	assert.ErrorIs(t, ts.fs.CreateSnapshot("/", "dup"), common.ErrSnapNameTaken)
}

func TestCacheStatsSurface(t *testing.T) {
	ts := mkTest(t)
	ts.Write("/f", []byte("x"))
	ts.Read("/f", []byte("x"))

	st := ts.fs.CacheStats()
	assert.Equal(t, uint64(64), st.Capacity)
	assert.NotZero(t, st.Hits+st.Misses)

	ts.fs.ClearCache()
	assert.Equal(t, uint64(0), ts.fs.CacheStats().Size)
}

func TestReadDir(t *testing.T) {
	ts := mkTest(t)
	ts.Write("/dir/a", []byte("1"))
	ts.Write("/dir/b", []byte("22"))
	ts.Mkdir("/dir/sub")

	ents, err := ts.fs.ReadDir("/dir")
	require.NoError(t, err)
	require.Len(t, ents, 3)

	byName := map[string]DirEntry{}
	for _, e := range ents {
		byName[e.Name] = e
	}
	assert.Equal(t, uint64(1), byName["a"].Size)
	assert.Equal(t, uint64(2), byName["b"].Size)
	assert.True(t, byName["sub"].IsDir)

	_, err = ts.fs.ReadDir("/dir/a")
	assert.ErrorIs(t, err, common.ErrNotADir)
}

func TestNameTooLongEndToEnd(t *testing.T) {
	ts := mkTest(t)
	name := "/"
	for i := uint64(0); i <= common.MAXNAMELEN; i++ {
		name += "x"
	}
	assert.ErrorIs(t, ts.fs.WriteFile(name, []byte("v")), common.ErrNameTooLong)
}

func TestReopenImage(t *testing.T) {
	path := t.TempDir() + "/vol.img"
	fs, err := MkFs(path, 16)
	require.NoError(t, err)
	require.NoError(t, fs.WriteFile("/persist.txt", []byte("still here")))
	require.NoError(t, fs.Close())

	fs2, err := MkFs(path, 16)
	require.NoError(t, err)
	defer fs2.Close()
	data, err := fs2.ReadFile("/persist.txt")
	require.NoError(t, err)
	assert.Equal(t, []byte("still here"), data)
}

func TestCountersConsistentAfterChurn(t *testing.T) {
	ts := mkTest(t)
	for i := 0; i < 10; i++ {
		ts.Write(fmt.Sprintf("/churn/f%d", i), altData(uint64(i+1)*common.BLOCKSIZE))
	}
	for i := 0; i < 10; i += 2 {
		ts.Delete(fmt.Sprintf("/churn/f%d", i))
	}
	ts.Snap("mid")
	ts.Write("/churn/after", []byte("tail"))

	st, err := ts.fs.Fsck()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), st.InodeDrift)
	assert.Equal(t, uint64(0), st.BlockDrift)
	assert.Equal(t, uint64(0), st.RefFixed)
}
