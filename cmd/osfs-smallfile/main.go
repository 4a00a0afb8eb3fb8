// Command osfs-smallfile measures small-file throughput: each
// iteration creates, reads back and deletes one small file.
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/mit-pdos/go-osfs/osfs"
)

func smallfile(fs *osfs.Fs, name string, data []byte) {
	if err := fs.WriteFile(name, data); err != nil {
		panic(err)
	}
	if _, err := fs.ReadFile(name); err != nil {
		panic(err)
	}
	if err := fs.DeleteFile(name); err != nil {
		panic(err)
	}
}

func run(fs *osfs.Fs, duration time.Duration) int {
	data := make([]byte, 100)
	for i := range data {
		data[i] = byte(i)
	}
	start := time.Now()
	i := 0
	for {
		smallfile(fs, fmt.Sprintf("/dir/fsmall.%d", i), data)
		i++
		if time.Since(start) >= duration {
			return i
		}
	}
}

func main() {
	var duration time.Duration
	var cacheSz uint64
	flag.DurationVar(&duration, "benchtime", 10*time.Second, "time to run the benchmark")
	flag.Uint64Var(&cacheSz, "cache", 64, "block cache capacity")
	flag.Parse()

	fs, err := osfs.MkMemFs(cacheSz)
	if err != nil {
		panic(err)
	}
	if err := fs.CreateDirectory("/dir"); err != nil {
		panic(err)
	}

	count := run(fs, duration)
	fmt.Printf("smallfile: %v files/sec\n",
		float64(count)/duration.Seconds())
	fs.WriteOpStats(os.Stdout)
}
