package osfs

import (
	"strings"

	"github.com/mit-pdos/go-osfs/common"
	"github.com/mit-pdos/go-osfs/dir"
	"github.com/mit-pdos/go-osfs/inode"
)

// normalize maps caller paths onto the canonical form the resolver
// expects: forward slashes, a leading slash, no trailing slash.
func normalize(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	for len(path) > 1 && strings.HasSuffix(path, "/") {
		path = path[:len(path)-1]
	}
	return path
}

// resolve walks path component by component from the root directory.
// Empty components (consecutive slashes) are skipped.
func (fs *Fs) resolve(path string) (common.Inum, error) {
	inum := common.ROOTINUM
	for _, name := range strings.Split(path, "/") {
		if name == "" {
			continue
		}
		ip, err := inode.ReadInode(fs.state, inum)
		if err != nil {
			return 0, err
		}
		if !ip.IsDir() {
			return 0, common.ErrNotFound
		}
		child, _, err := dir.LookupName(fs.state, ip, name)
		if err != nil {
			return 0, err
		}
		inum = child
	}
	return inum, nil
}

// splitPath splits a normalized path into the parent directory path and
// the final component.
func splitPath(path string) (string, string) {
	i := strings.LastIndexByte(path, '/')
	parent := path[:i]
	if parent == "" {
		parent = "/"
	}
	return parent, path[i+1:]
}

// parentAndName resolves path's parent directory and returns its inum
// with the target's name.
func (fs *Fs) parentAndName(path string) (common.Inum, string, error) {
	parent, name := splitPath(path)
	inum, err := fs.resolve(parent)
	if err != nil {
		return 0, "", err
	}
	return inum, name, nil
}
