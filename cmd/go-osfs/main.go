// Command go-osfs inspects and maintains osfs images.
//
//	go-osfs -disk img.osfs info
//	go-osfs -disk img.osfs mkfs
//	go-osfs -disk img.osfs fsck
//	go-osfs -disk img.osfs ls /some/dir
//	go-osfs -disk img.osfs snapshots
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rodaine/table"

	"github.com/mit-pdos/go-osfs/common"
	"github.com/mit-pdos/go-osfs/osfs"
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s -disk FILE [-cache N] {info|mkfs|fsck|ls PATH|snapshots}\n",
		os.Args[0])
	os.Exit(2)
}

func main() {
	var diskfile string
	var cacheSz uint64
	flag.StringVar(&diskfile, "disk", "", "path to image file")
	flag.Uint64Var(&cacheSz, "cache", 64, "block cache capacity")
	flag.Parse()
	if diskfile == "" || flag.NArg() < 1 {
		usage()
	}

	if flag.Arg(0) == "mkfs" {
		// truncating to zero forces a format at open
		if err := os.Truncate(diskfile, 0); err != nil && !os.IsNotExist(err) {
			fmt.Fprintf(os.Stderr, "mkfs: %v\n", err)
			os.Exit(1)
		}
	}

	fs, err := osfs.MkFs(diskfile, cacheSz)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open %s: %v\n", diskfile, err)
		os.Exit(1)
	}
	defer fs.Close()

	switch flag.Arg(0) {
	case "mkfs":
		fmt.Printf("formatted %s: %d blocks\n", diskfile, common.BLOCKCOUNT)
	case "info":
		info(fs)
	case "fsck":
		st, err := fs.Fsck()
		if err != nil {
			fmt.Fprintf(os.Stderr, "fsck: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("inode drift %d, block drift %d, refcounts repaired %d\n",
			st.InodeDrift, st.BlockDrift, st.RefFixed)
	case "ls":
		if flag.NArg() < 2 {
			usage()
		}
		ls(fs, flag.Arg(1))
	case "snapshots":
		snapshots(fs)
	default:
		usage()
	}
}

func info(fs *osfs.Fs) {
	sp := fs.Super()
	tbl := table.New("field", "value")
	tbl.AddRow("magic", fmt.Sprintf("%#x", sp.Magic))
	tbl.AddRow("version", sp.Version)
	tbl.AddRow("block size", sp.BlockSize)
	tbl.AddRow("block count", sp.BlockCount)
	tbl.AddRow("inode count", sp.InodeCount)
	tbl.AddRow("free inodes", sp.FreeInodes)
	tbl.AddRow("free blocks", sp.FreeBlocks)
	tbl.AddRow("dirent size", sp.DirentSz)
	tbl.Print()

	cs := fs.CacheStats()
	fmt.Printf("cache: %d/%d blocks, %d hits, %d misses, %d replacements\n",
		cs.Size, cs.Capacity, cs.Hits, cs.Misses, cs.Replacements)
}

func ls(fs *osfs.Fs, path string) {
	ents, err := fs.ReadDir(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ls %s: %v\n", path, err)
		os.Exit(1)
	}
	tbl := table.New("name", "inode", "type", "size")
	for _, e := range ents {
		kind := "file"
		if e.IsDir {
			kind = "dir"
		}
		tbl.AddRow(e.Name, e.Inum, kind, e.Size)
	}
	tbl.Print()
}

func snapshots(fs *osfs.Fs) {
	recs, err := fs.Snapshots()
	if err != nil {
		fmt.Fprintf(os.Stderr, "snapshots: %v\n", err)
		os.Exit(1)
	}
	tbl := table.New("id", "name", "created", "inodes", "blocks")
	for _, rec := range recs {
		tbl.AddRow(rec.Id, rec.Name,
			time.Unix(int64(rec.Timestamp), 0).Format(time.RFC3339),
			rec.InodesUsed, rec.BlocksUsed)
	}
	tbl.Print()
}
