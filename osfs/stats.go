package osfs

import (
	"io"
	"time"

	"github.com/mit-pdos/go-osfs/util/stats"
)

const (
	opRead = iota
	opWrite
	opMkdir
	opDelete
	opReaddir
	opSnapCreate
	opSnapRestore
	opSnapDelete
	opSnapList
	numOps
)

var opNames = []string{
	"READ",
	"WRITE",
	"MKDIR",
	"DELETE",
	"READDIR",
	"SNAP_CREATE",
	"SNAP_RESTORE",
	"SNAP_DELETE",
	"SNAP_LIST",
}

type opStats [numOps]stats.Op

func (s *opStats) record(op int, start time.Time, err error) {
	s[op].Record(start, err)
}

// WriteOpStats renders the per-operation latency table.
func (fs *Fs) WriteOpStats(w io.Writer) {
	ops := make([]*stats.Op, numOps)
	for i := range fs.stats {
		ops[i] = &fs.stats[i]
	}
	stats.WriteTable(opNames, ops, w)
}

func (fs *Fs) ResetOpStats() {
	for i := range fs.stats {
		fs.stats[i].Reset()
	}
}
