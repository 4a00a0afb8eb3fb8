package osfs

import (
	"strings"
	"time"

	"github.com/mit-pdos/go-osfs/common"
	"github.com/mit-pdos/go-osfs/dir"
	"github.com/mit-pdos/go-osfs/inode"
	"github.com/mit-pdos/go-osfs/util"
)

// ReadFile returns the full contents of the file at path.
func (fs *Fs) ReadFile(path string) (data []byte, err error) {
	start := time.Now()
	defer func() { fs.stats.record(opRead, start, err) }()
	fs.mu.Lock()
	defer fs.mu.Unlock()

	inum, err := fs.resolve(normalize(path))
	if err != nil {
		return nil, err
	}
	ip, err := inode.ReadInode(fs.state, inum)
	if err != nil {
		return nil, err
	}
	if !ip.IsFile() {
		return nil, common.ErrNotAFile
	}
	return ip.Read(fs.state, 0, ip.Size)
}

// WriteFile replaces the contents of the file at path, creating the
// file and any missing parent directories. An existing file's old
// blocks are released first so the write starts from an empty map.
func (fs *Fs) WriteFile(path string, data []byte) (err error) {
	start := time.Now()
	defer func() { fs.stats.record(opWrite, start, err) }()
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if uint64(len(data)) > common.MAXFILESZ {
		return common.ErrTooLarge
	}
	path = normalize(path)
	if path == "/" {
		return common.ErrNotAFile
	}
	parentPath, name := splitPath(path)
	parentInum, err := fs.ensureDir(parentPath)
	if err != nil {
		return err
	}
	ip, err := fs.lookupOrCreate(parentInum, name)
	if err != nil {
		return err
	}
	if ip.Nblks > 0 {
		if err := ip.FreeBlocks(fs.state); err != nil {
			return err
		}
	}
	ip.Size = 0
	n, err := ip.Write(fs.state, 0, data)
	if err != nil {
		return err
	}
	if n != uint64(len(data)) {
		return common.ErrWriteFailed
	}
	return nil
}

// lookupOrCreate finds name in the parent directory, or allocates a new
// file inode and links it. An existing directory under that name
// rejects the write.
func (fs *Fs) lookupOrCreate(parentInum common.Inum, name string) (*inode.Inode, error) {
	dip, err := inode.ReadInode(fs.state, parentInum)
	if err != nil {
		return nil, err
	}
	child, _, err := dir.LookupName(fs.state, dip, name)
	if err == nil {
		ip, err := inode.ReadInode(fs.state, child)
		if err != nil {
			return nil, err
		}
		if !ip.IsFile() {
			return nil, common.ErrNotAFile
		}
		return ip, nil
	}
	if err != common.ErrNotFound {
		return nil, err
	}

	inum, err := fs.state.Balloc.AllocInode()
	if err != nil {
		return nil, err
	}
	ip := inode.MkInode(inum, common.KINDFILE)
	if err := inode.WriteInode(fs.state, ip); err != nil {
		fs.state.Balloc.FreeInode(inum)
		return nil, err
	}
	if err := dir.AddName(fs.state, dip, name, inum); err != nil {
		fs.state.Balloc.FreeInode(inum)
		return nil, err
	}
	util.DPrintf(2, "create %s -> # %d\n", name, inum)
	return ip, nil
}

// CreateDirectory creates the directory chain for path. It is
// idempotent: an existing directory at any component is fine, an
// existing non-directory is ErrExists.
func (fs *Fs) CreateDirectory(path string) (err error) {
	start := time.Now()
	defer func() { fs.stats.record(opMkdir, start, err) }()
	fs.mu.Lock()
	defer fs.mu.Unlock()

	_, err = fs.ensureDir(normalize(path))
	return err
}

// ensureDir walks path creating missing directories, and returns the
// final directory's inum.
func (fs *Fs) ensureDir(path string) (common.Inum, error) {
	inum := common.ROOTINUM
	for _, name := range strings.Split(path, "/") {
		if name == "" {
			continue
		}
		dip, err := inode.ReadInode(fs.state, inum)
		if err != nil {
			return 0, err
		}
		if !dip.IsDir() {
			return 0, common.ErrNotADir
		}
		child, _, err := dir.LookupName(fs.state, dip, name)
		if err == nil {
			cip, err := inode.ReadInode(fs.state, child)
			if err != nil {
				return 0, err
			}
			if !cip.IsDir() {
				return 0, common.ErrExists
			}
			inum = child
			continue
		}
		if err != common.ErrNotFound {
			return 0, err
		}
		child, err = fs.mkDir(dip, name)
		if err != nil {
			return 0, err
		}
		inum = child
	}
	return inum, nil
}

// mkDir allocates a directory inode and links it under dip. A
// same-name entry appearing between lookup and link is treated as
// success if it is a directory.
func (fs *Fs) mkDir(dip *inode.Inode, name string) (common.Inum, error) {
	inum, err := fs.state.Balloc.AllocInode()
	if err != nil {
		return 0, err
	}
	ip := inode.MkInode(inum, common.KINDDIR)
	if err := inode.WriteInode(fs.state, ip); err != nil {
		fs.state.Balloc.FreeInode(inum)
		return 0, err
	}
	if err := dir.AddName(fs.state, dip, name, inum); err != nil {
		fs.state.Balloc.FreeInode(inum)
		if err == common.ErrExists {
			child, _, lerr := dir.LookupName(fs.state, dip, name)
			if lerr != nil {
				return 0, err
			}
			cip, lerr := inode.ReadInode(fs.state, child)
			if lerr != nil {
				return 0, lerr
			}
			if cip.IsDir() {
				return child, nil
			}
			return 0, common.ErrExists
		}
		return 0, err
	}
	util.DPrintf(2, "mkdir %s -> # %d\n", name, inum)
	return inum, nil
}

// DeleteFile unlinks the file at path and releases its inode and
// blocks. Directories are rejected.
func (fs *Fs) DeleteFile(path string) (err error) {
	start := time.Now()
	defer func() { fs.stats.record(opDelete, start, err) }()
	fs.mu.Lock()
	defer fs.mu.Unlock()

	path = normalize(path)
	if path == "/" {
		return common.ErrNotAFile
	}
	parentInum, name, err := fs.parentAndName(path)
	if err != nil {
		return err
	}
	dip, err := inode.ReadInode(fs.state, parentInum)
	if err != nil {
		return err
	}
	child, _, err := dir.LookupName(fs.state, dip, name)
	if err != nil {
		return err
	}
	ip, err := inode.ReadInode(fs.state, child)
	if err != nil {
		return err
	}
	if ip.IsDir() {
		return common.ErrNotAFile
	}
	if err := ip.FreeBlocks(fs.state); err != nil {
		return err
	}
	if err := fs.state.Balloc.FreeInode(child); err != nil {
		return err
	}
	util.DPrintf(2, "delete %s # %d\n", path, child)
	return dir.RemName(fs.state, dip, name)
}

// DirEntry is one readdir result.
type DirEntry struct {
	Name  string
	Inum  common.Inum
	IsDir bool
	Size  uint64
}

// ReadDir lists the directory at path.
func (fs *Fs) ReadDir(path string) (ents []DirEntry, err error) {
	start := time.Now()
	defer func() { fs.stats.record(opReaddir, start, err) }()
	fs.mu.Lock()
	defer fs.mu.Unlock()

	inum, err := fs.resolve(normalize(path))
	if err != nil {
		return nil, err
	}
	dip, err := inode.ReadInode(fs.state, inum)
	if err != nil {
		return nil, err
	}
	des, err := dir.List(fs.state, dip)
	if err != nil {
		return nil, err
	}
	ents = make([]DirEntry, 0, len(des))
	for _, de := range des {
		cip, err := inode.ReadInode(fs.state, de.Inum)
		if err != nil {
			return nil, err
		}
		ents = append(ents, DirEntry{
			Name:  de.Name,
			Inum:  de.Inum,
			IsDir: cip.IsDir(),
			Size:  cip.Size,
		})
	}
	return ents, nil
}
