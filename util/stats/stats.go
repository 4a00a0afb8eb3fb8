// Package stats tracks per-operation counts, failures and latencies.
package stats

import (
	"bytes"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/rodaine/table"
)

type Op struct {
	count  uint32
	errors uint32
	nanos  uint64
}

func (op *Op) Record(start time.Time, err error) {
	atomic.AddUint32(&op.count, 1)
	if err != nil {
		atomic.AddUint32(&op.errors, 1)
	}
	dur := time.Since(start)
	atomic.AddUint64(&op.nanos, uint64(dur.Nanoseconds()))
}

func (op *Op) Reset() {
	atomic.StoreUint32(&op.count, 0)
	atomic.StoreUint32(&op.errors, 0)
	atomic.StoreUint64(&op.nanos, 0)
}

func (op Op) MicrosPerOp() float64 {
	if op.count == 0 {
		return 0
	}
	return float64(op.nanos) / float64(op.count) / 1e3
}

func WriteTable(names []string, ops []*Op, w io.Writer) {
	if len(names) != len(ops) {
		panic("mismatched names and ops lists")
	}
	tbl := table.New("op", "count", "errors", "us")
	var total Op
	for i, name := range names {
		op := Op{
			count:  atomic.LoadUint32(&ops[i].count),
			errors: atomic.LoadUint32(&ops[i].errors),
			nanos:  atomic.LoadUint64(&ops[i].nanos),
		}
		total.count += op.count
		total.errors += op.errors
		total.nanos += op.nanos
		tbl.AddRow(name, op.count, op.errors,
			fmt.Sprintf("%0.1f us/op", op.MicrosPerOp()))
	}
	tbl.AddRow("total", total.count, total.errors,
		fmt.Sprintf("%0.1f us", float64(total.nanos)/1e3))
	tbl.WithWriter(w)
	tbl.Print()
}

func FormatTable(names []string, ops []*Op) string {
	buf := new(bytes.Buffer)
	WriteTable(names, ops, buf)
	return buf.String()
}
